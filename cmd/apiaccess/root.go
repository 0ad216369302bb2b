package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-apiaccess/internal/di"
	"github.com/goliatone/go-apiaccess/pkg/apierror"
	"github.com/goliatone/go-apiaccess/pkg/config"
	"github.com/goliatone/go-apiaccess/pkg/interfaces/logger"
)

// app carries the state shared by every subcommand.
type app struct {
	stdout io.Writer
	stderr io.Writer
	lookup config.LookupFunc

	configPath string
	logLevel   string
	logFormat  string

	logger logger.Logger
}

func newRootCmd(stdout, stderr io.Writer, lookup config.LookupFunc) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr, lookup: lookup}

	root := &cobra.Command{
		Use:   "apiaccess",
		Short: "Sealed secrets, tokens, and guarded calls for external APIs",
		Long: `apiaccess resolves encrypted API keys, acquires OAuth2 client-credentials
tokens, and sends sanitized requests with bounded retry to the services
declared in the configuration.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.logger = newLogger(a.stderr, a.logLevel, a.logFormat)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "JSON configuration file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "Log format (text, json)")

	root.AddCommand(
		newKeygenCmd(a),
		newSecretCmd(a),
		newTokenCmd(a),
		newCallCmd(a),
		newServicesCmd(a),
	)
	return root
}

// loadConfig reads the optional configuration file and overlays the
// environment.
func (a *app) loadConfig() (config.Config, error) {
	base := config.Defaults()
	if a.configPath != "" {
		raw, err := os.ReadFile(a.configPath)
		if err != nil {
			return config.Config{}, apierror.Wrap(apierror.KindConfig, err, "read %s", a.configPath)
		}
		var input map[string]any
		if err := json.Unmarshal(raw, &input); err != nil {
			return config.Config{}, apierror.Wrap(apierror.KindConfig, err, "parse %s", a.configPath)
		}
		loaded, err := config.Load(input)
		if err != nil {
			return config.Config{}, apierror.Wrap(apierror.KindConfig, err, "load %s", a.configPath)
		}
		base = loaded
	}
	cfg, err := config.FromEnv(base, a.lookup)
	if err != nil {
		return config.Config{}, err
	}
	if a.logLevel == "" && a.logFormat == "" {
		a.logger = newLogger(a.stderr, cfg.Logging.Level, cfg.Logging.Format)
	}
	return cfg, nil
}

// container loads configuration and wires the module. Callers own Close.
func (a *app) container(ctx context.Context) (*di.Container, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	return di.New(ctx, di.Options{Config: cfg, Logger: a.logger})
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
