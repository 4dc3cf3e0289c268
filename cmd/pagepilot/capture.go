package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/v0xg/pagepilot/internal/dispatch"
)

func newCaptureCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "capture <url>",
		Short: "Print a page's HTML, URL and title as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			out := cmd.OutOrStdout()

			s, err := openSession(ctx, cfg, args[0], false)
			if err != nil {
				return fmt.Errorf("open page: %w", err)
			}
			defer s.Close(out)

			resp, err := s.do(ctx, dispatch.Request{Command: dispatch.CommandGetPageContent}, out)
			if err != nil {
				return err
			}
			if output == "" || !resp.Success || resp.PageContent == nil {
				return printResponse(out, resp)
			}
			data, err := json.MarshalIndent(resp.PageContent, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(out, "✓ Saved page to %s (%d bytes of HTML)\n", output, len(resp.HTML))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the capture to a file instead of stdout")
	return cmd
}
