// Package config loads the pinus.toml profile used by the pinus command.
//
// # Configuration File Structure
//
//	[server]
//	host = "127.0.0.1"
//	port = 3010
//
//	[client]
//	connect_timeout = "8s"
//	request_timeout = "5s"
//	strict_schema = false
//	compress = false
//
//	[handshake]
//	type = "go-websocket"
//	version = "0.3.0"
//
//	[handshake.user]
//	token = "abc"
//
//	[metrics]
//	addr = ":9100"
//	namespace = "pinus"
//
// PINUS_URL overrides server.url.
//
// # Usage
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client := pinus.New(cfg.ClientConfig())
package config
