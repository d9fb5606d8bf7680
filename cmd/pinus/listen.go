package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vango-dev/pinus"
)

// pushLine is one printed push.
type pushLine struct {
	Route   string         `json:"route"`
	Payload map[string]any `json:"payload"`
}

func listenCmd(opts *options) *cobra.Command {
	var (
		enter        string
		enterPayload string
		count        int
	)

	cmd := &cobra.Command{
		Use:   "listen <route>...",
		Short: "Print server pushes",
		Long: `Connect and print pushes on the given routes as JSON lines
until interrupted or disconnected.

Most servers push only after an entry request; --enter sends one
after the handshake.

Examples:
  pinus listen onChat onAdd onLeave
  pinus listen onChat --enter connector.entryHandler.enter --enter-payload '{"rid": "lobby"}'
  pinus listen onTick --count 10`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload map[string]any
			if enter != "" {
				var err error
				if payload, err = parsePayload([]string{enterPayload}); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			l := newListener(cmd.OutOrStdout(), count)
			c, err := opts.connect(ctx, cmd.ErrOrStderr(), func(client *pinus.Client) {
				l.attach(client, args)
			})
			if err != nil {
				return err
			}
			defer c.Close()

			if enter != "" {
				resp, err := c.client.Request(ctx, enter, payload)
				if err != nil {
					return err
				}
				if opts.verbose {
					success("entered via %s", enter)
					printJSON(cmd.ErrOrStderr(), resp, true)
				}
			}
			return l.wait(ctx)
		},
	}

	cmd.Flags().StringVar(&enter, "enter", "", "Request route to send after connecting")
	cmd.Flags().StringVar(&enterPayload, "enter-payload", "", "JSON payload for --enter")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "Exit after this many pushes (0 = no limit)")

	return cmd
}

// listener prints pushes and ends when the connection does.
type listener struct {
	out   io.Writer
	limit int

	mu   sync.Mutex
	seen int
	done chan struct{}
	err  error
	once sync.Once
}

func newListener(out io.Writer, limit int) *listener {
	return &listener{out: out, limit: limit, done: make(chan struct{})}
}

func (l *listener) attach(client *pinus.Client, routes []string) {
	for _, route := range routes {
		client.On(route, func(payload map[string]any) {
			l.push(route, payload)
		})
	}
	client.OnStateChange(func(state pinus.NetworkState, err error) {
		switch state {
		case pinus.StateDisconnected, pinus.StateTimeout, pinus.StateError:
			if err != nil {
				warn("connection %s: %v", state, err)
			}
			l.finish(err)
		}
	})
}

func (l *listener) push(route string, payload map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limit > 0 && l.seen >= l.limit {
		return
	}
	printJSON(l.out, pushLine{Route: route, Payload: payload}, false)
	l.seen++
	if l.limit > 0 && l.seen == l.limit {
		l.finish(nil)
	}
}

func (l *listener) finish(err error) {
	l.once.Do(func() {
		l.err = err
		close(l.done)
	})
}

func (l *listener) wait(ctx context.Context) error {
	select {
	case <-l.done:
		return l.err
	case <-ctx.Done():
		return nil
	}
}
