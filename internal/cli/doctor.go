package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lexflow/lexflow/internal/config"
	"github.com/lexflow/lexflow/internal/store"
)

type doctorCheck struct {
	name    string
	ok      bool
	warn    bool
	message string
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run config and setup diagnostics",
	RunE: func(cmd *cobra.Command, args []string) error {
		checks := runDoctor()
		failures := 0
		for _, c := range checks {
			symbol := color.GreenString("PASS")
			if c.warn {
				symbol = color.YellowString("WARN")
			}
			if !c.ok {
				symbol = color.RedString("FAIL")
				failures++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", symbol, c.name, c.message)
		}
		if failures > 0 {
			return fmt.Errorf("doctor found %d failing check(s)", failures)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor() []doctorCheck {
	var checks []doctorCheck

	cfg, err := config.Load(configPath)
	if err != nil {
		return append(checks, doctorCheck{name: "config", message: err.Error()})
	}
	msg := "defaults"
	if _, statErr := os.Stat(configPath); statErr == nil {
		msg = configPath
	}
	checks = append(checks, doctorCheck{name: "config", ok: true, message: msg})

	if st, err := store.Open(cfg.Store.Path); err != nil {
		checks = append(checks, doctorCheck{name: "store", message: err.Error()})
	} else {
		st.Close()
		checks = append(checks, doctorCheck{name: "store", ok: true, message: cfg.Store.Path})
	}

	if cfg.Channel.BaseURL == "" || cfg.Channel.APIKey == "" {
		checks = append(checks, doctorCheck{name: "channel", message: "base URL or API key missing"})
	} else {
		checks = append(checks, doctorCheck{name: "channel", ok: true, message: cfg.Channel.BaseURL})
	}

	if cfg.Providers.Primary.APIKey == "" {
		checks = append(checks, doctorCheck{name: "ai primary", message: "API key missing"})
	} else {
		checks = append(checks, doctorCheck{name: "ai primary", ok: true, message: cfg.Providers.Primary.Model})
	}

	if cfg.Providers.Secondary.APIKey == "" {
		checks = append(checks, doctorCheck{name: "ai secondary", ok: true, warn: true, message: "no fallback provider configured"})
	} else {
		checks = append(checks, doctorCheck{name: "ai secondary", ok: true, message: cfg.Providers.Secondary.APIBase})
	}

	if cfg.Notify.SlackToken != "" && cfg.Notify.SlackChannel == "" {
		checks = append(checks, doctorCheck{name: "notify", ok: true, warn: true, message: "Slack token set but no channel"})
	} else {
		checks = append(checks, doctorCheck{name: "notify", ok: true, message: "ok"})
	}

	return checks
}
