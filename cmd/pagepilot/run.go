package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/v0xg/pagepilot/internal/dispatch"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <url> <command>",
		Short: "Open a page and carry out one natural-language command",
		Example: `  pagepilot run https://duckduckgo.com "search for golang generics"
  pagepilot run --record demo.gif https://example.com "scroll down a little then click More information"`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, args[0], dispatch.Request{
				Command:    dispatch.CommandProcess,
				Transcript: strings.Join(args[1:], " "),
			}, true)
		},
	}
	addRecordFlags(cmd)
	return cmd
}

func newExecCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec <url> <action-json>",
		Short: "Open a page and execute a structured action without interpretation",
		Example: `  pagepilot exec https://example.com '{"action":"click","element_text_match":"More information"}'
  pagepilot exec https://example.com '{"action":"sequence","actions":[{"type":"scroll","direction":"down"},{"type":"click","selector":"a"}]}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("action is not valid JSON")
			}
			return runOnce(cmd, args[0], dispatch.Request{
				Command:          dispatch.CommandExecute,
				StructuredAction: json.RawMessage(args[1]),
			}, false)
		},
	}
	addRecordFlags(cmd)
	return cmd
}

func addRecordFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&record, "record", "", "record the session to this GIF file")
	cmd.Flags().BoolVar(&noCursor, "no-cursor", false, "disable the cursor overlay in recordings")
}

// runOnce opens a session at url, handles a single request and closes it.
func runOnce(cmd *cobra.Command, url string, req dispatch.Request, interpret bool) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "→ Opening %s...\n", url)
	s, err := openSession(ctx, cfg, url, interpret)
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}
	defer s.Close(out)

	resp, err := s.do(ctx, req, out)
	if err != nil {
		return err
	}
	return printResponse(out, resp)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
