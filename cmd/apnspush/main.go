// Command apnspush sends a single test notification to one device.
package main

import (
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-apns-client/apnsclient"
	"github.com/tinywideclouds/go-apns-client/apnsclient/config"
	"github.com/tinywideclouds/go-apns-client/pkg/push"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelWarn
	}
	// stdout carries the result line, so logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "apnspush")
	slog.SetDefault(logger)

	if err := rootCommand(os.Stdout, logger).Execute(); err != nil {
		os.Exit(1)
	}
}

// rootCommand builds the CLI. opts are passed through to the client.
func rootCommand(out io.Writer, logger *slog.Logger, opts ...apnsclient.Option) *cobra.Command {
	var (
		configPath string
		message    string
		badge      int
		data       map[string]string
	)

	cmd := &cobra.Command{
		Use:   "apnspush <device-token>",
		Short: "Send a test alert through APNs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, logger)
			if err != nil {
				logger.Error("Config failed", "err", err)
				return err
			}

			client, err := apnsclient.New(cfg, logger, opts...)
			if err != nil {
				logger.Error("Client creation failed", "err", err)
				return err
			}
			defer client.Close()

			extra := make(map[string]any, len(data))
			for k, v := range data {
				extra[k] = v
			}

			result, err := client.Send(cmd.Context(), args[0], message, push.Badge(badge), extra)
			switch {
			case err != nil:
				// Delivery problems are reported, not treated as a CLI failure.
				fmt.Fprintf(out, "Big trouble: %v\n", err)
			case result.Delivered():
				fmt.Fprintln(out, "Okay")
			default:
				fmt.Fprintln(out, "Bad token")
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "Path to a YAML config file (defaults to the embedded local.yaml)")
	flags.StringVarP(&message, "message", "m", "A test message", "Alert text")
	flags.IntVarP(&badge, "badge", "b", 99, "Badge count")
	flags.StringToStringVarP(&data, "data", "d", map[string]string{"some": "test data"}, "Custom top-level payload keys (key=value)")

	return cmd
}

func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	raw := configFile
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		raw = data
	}

	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(raw, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml config: %w", err)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		return nil, err
	}
	return config.UpdateConfigWithEnvOverrides(baseCfg, logger)
}
