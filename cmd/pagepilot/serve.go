package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/v0xg/pagepilot/internal/dispatch"
	"github.com/v0xg/pagepilot/internal/observability"
	"github.com/v0xg/pagepilot/internal/transport"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [url]",
		Short: "Keep a page open and accept commands over WebSocket",
		Long: `serve launches the browser and listens for commands on a WebSocket endpoint
(/ws). Each text frame is a JSON request such as
  {"id":"1","command":"processNavigationCommand","transcript":"scroll down"}
and is answered with an "interpreted" event and a "response" carrying the same id.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			out := cmd.OutOrStdout()

			url := ""
			if len(args) == 1 {
				url = args[0]
			}
			s, err := openSession(ctx, cfg, url, true)
			if err != nil {
				return fmt.Errorf("open page: %w", err)
			}
			defer s.Close(out)

			srv := transport.NewServer(cfg.Transport.ListenAddr, s.dispatcher, observability.GetLogger())
			fmt.Fprintf(out, "→ Listening on ws://%s%s (Ctrl+C to stop)\n", cfg.Transport.ListenAddr, transport.Path)
			return srv.ListenAndServe(ctx)
		},
	}
	cmd.Flags().String("listen", "", "address to listen on (default from transport.listen_addr)")
	return cmd
}

func newSendCmd() *cobra.Command {
	var (
		execute bool
		page    bool
	)
	cmd := &cobra.Command{
		Use:   "send [command]",
		Short: "Send a command to a running pagepilot server",
		Example: `  pagepilot send "click the login button"
  pagepilot send --execute '{"action":"go_back"}'
  pagepilot send --page`,
		Args: func(cmd *cobra.Command, args []string) error {
			if page {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.MinimumNArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			out := cmd.OutOrStdout()

			var req dispatch.Request
			switch {
			case page:
				req.Command = dispatch.CommandGetPageContent
			case execute:
				raw := strings.Join(args, " ")
				if !json.Valid([]byte(raw)) {
					return errors.New("action is not valid JSON")
				}
				req.Command = dispatch.CommandExecute
				req.StructuredAction = json.RawMessage(raw)
			default:
				req.Command = dispatch.CommandProcess
				req.Transcript = strings.Join(args, " ")
			}

			logger := observability.GetLogger()
			c, err := transport.Dial(ctx, cfg.Transport.URL, logger)
			if err != nil {
				return err
			}
			defer c.Close()

			resp, err := c.Send(ctx, req, func(m dispatch.Message) { printEvent(out, m) })
			if err != nil {
				return err
			}
			logger.Debug("Received response", zap.String("request_id", resp.ID), zap.Bool("success", resp.Success))
			return printResponse(out, resp)
		},
	}
	cmd.Flags().String("url", "", "server WebSocket URL (default from transport.url)")
	cmd.Flags().BoolVar(&execute, "execute", false, "treat the argument as a structured action and skip interpretation")
	cmd.Flags().BoolVar(&page, "page", false, "fetch the page's HTML, URL and title")
	return cmd
}
