package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vango-dev/pinus/internal/errors"
)

func requestCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request <route> [payload]",
		Short: "Send a request and print the response",
		Long: `Connect, send one request and print the response as JSON.

The payload is a JSON object, or @file to read one from a file.

Examples:
  pinus request connector.entryHandler.entry '{"uid": 42}'
  pinus request gate.gateHandler.queryEntry @query.json --url ws://127.0.0.1:3014`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parsePayload(args[1:])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := opts.connect(ctx, cmd.ErrOrStderr(), nil)
			if err != nil {
				return err
			}
			defer c.Close()

			resp, err := c.client.Request(ctx, args[0], payload)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp, true)
		},
	}
	return cmd
}

func notifyCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify <route> [payload]",
		Short: "Send a notify",
		Long: `Connect and send one notify. Notifies have no response.

Examples:
  pinus notify chat.chatHandler.send '{"content": "hello"}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parsePayload(args[1:])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := opts.connect(ctx, cmd.ErrOrStderr(), nil)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.client.Notify(ctx, args[0], payload); err != nil {
				return err
			}
			if opts.verbose {
				success("sent %s", args[0])
			}
			return nil
		},
	}
	return cmd
}

// parsePayload decodes the optional payload argument. Numbers keep their
// literal form so large integers survive.
func parsePayload(args []string) (map[string]any, error) {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return map[string]any{}, nil
	}

	raw := []byte(args[0])
	if name, ok := strings.CutPrefix(args[0], "@"); ok {
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, errors.New(errors.CodeBadPayload).Wrap(err)
		}
		raw = data
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, errors.New(errors.CodeBadPayload).Wrap(err)
	}
	if payload == nil {
		return nil, errors.New(errors.CodeBadPayload)
	}
	if dec.More() {
		return nil, errors.New(errors.CodeBadPayload).WithDetail("Trailing data after the JSON object.")
	}
	return payload, nil
}

func printJSON(w io.Writer, v any, indent bool) error {
	enc := json.NewEncoder(w)
	if indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
