package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/v0xg/pagepilot/internal/config"
	"github.com/v0xg/pagepilot/internal/observability"
)

var (
	cfgFile  string
	logLevel string
	provider string
	model    string
	headed   bool
	profile  string
	record   string
	noCursor bool

	cfg *config.Config
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		observability.Sync()
		os.Exit(1)
	}
	observability.Sync()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pagepilot",
		Short: "Drive a browser page with natural-language commands",
		Long: `pagepilot turns commands such as "search for gophers" or "scroll to the bottom"
into clicks, typing, scrolling and navigation on a live browser page.

Examples:
  pagepilot run https://example.com "click the More information link"
  pagepilot exec https://example.com '{"action":"scroll","direction":"down","amount":"page"}'
  pagepilot serve https://example.com
  pagepilot send "go back"`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initializeConfig(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&provider, "provider", "", "interpretation provider: claude, openai, ollama")
	pf.StringVar(&model, "model", "", "interpretation model override")
	pf.BoolVar(&headed, "headed", false, "show the browser window")
	pf.StringVar(&profile, "profile", "", "Chrome/Chromium profile directory for authenticated sessions (close browser first)")

	root.AddCommand(newRunCmd(), newExecCmd(), newServeCmd(), newSendCmd(), newCaptureCmd())
	return root
}

// initializeConfig loads .env, the config file and the environment, applies
// flags that were set explicitly, and starts the logger.
func initializeConfig(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}

	v := viper.New()
	overrides := map[string]string{
		"log-level": "logger.level",
		"provider":  "interpretation.provider",
		"model":     "interpretation.model",
		"profile":   "browser.profile_dir",
		"listen":    "transport.listen_addr",
		"url":       "transport.url",
		"record":    "recorder.output",
		"no-cursor": "recorder.no_cursor",
	}
	for name, key := range overrides {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	if headed {
		v.Set("browser.headless", false)
	}
	if record != "" {
		v.Set("recorder.enabled", true)
	}

	loaded, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded
	observability.InitializeLogger(cfg.Logger)
	observability.GetLogger().Debug("Configuration loaded",
		zap.String("provider", cfg.Interpretation.Provider),
		zap.Bool("headless", cfg.Browser.Headless))
	return nil
}
