package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/amoylab/gwbridge/internal/common/cnst"
	"github.com/amoylab/gwbridge/internal/common/config"
	"github.com/amoylab/gwbridge/internal/supervisor"
	"github.com/amoylab/gwbridge/pkg/helper"
	"github.com/amoylab/gwbridge/pkg/logger"
	"github.com/amoylab/gwbridge/pkg/version"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	defaultConfigFile = "gateway-bridge.yaml"

	exitFailure     = 1
	exitMemoryLimit = 3
)

var (
	configPath string
	pidFile    string

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of gateway-bridge",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gateway-bridge version %s\n", version.Get())
		},
	}

	testCmd = &cobra.Command{
		Use:   "test",
		Short: "Test the configuration file",
		Long:  "Load and validate the configuration file without connecting",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration from %s: %w", cfgPath, err)
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("configuration file %s is invalid: %w", cfgPath, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration file %s test is successful\n", cfgPath)
			return nil
		},
	}

	stopCmd = &cobra.Command{
		Use:   "stop",
		Short: "Stop a running gateway-bridge",
		Long:  "Send SIGTERM to the process recorded in the pid file so it closes the session and drains",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := pidFile
			if path == "" {
				cfg, cfgPath, err := config.LoadConfig(configPath)
				if err != nil {
					return fmt.Errorf("failed to load configuration from %s: %w", cfgPath, err)
				}
				path = cfg.Supervisor.PID
			}
			p := helper.NewPIDFile(path)
			if err := helper.SignalPIDFile(p, syscall.SIGTERM); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stop signal sent to process in %s\n", p.Path())
			return nil
		},
	}

	rootCmd = &cobra.Command{
		Use:          "gateway-bridge",
		Short:        "Gateway Bridge",
		Long:         "Gateway Bridge keeps a persistent gateway session alive and relays message events to an HTTP endpoint",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "conf", "c", defaultConfigFile, "path to configuration file, like /etc/gateway-bridge/gateway-bridge.yaml")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(testCmd)

	stopCmd.Flags().StringVarP(&pidFile, "pid", "p", "", "path to PID file, defaults to supervisor.pid from the configuration")
	rootCmd.AddCommand(stopCmd)
}

func run(ctx context.Context) error {
	cfg, cfgPath, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration from %s: %w", cfgPath, err)
	}

	lg, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer lg.Sync()

	lg.Info("Loaded configuration", zap.String("path", cfgPath))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := supervisor.Run(ctx, cfg, lg); err != nil {
		lg.Error("gateway bridge exited", zap.Error(err))
		return err
	}
	return nil
}

// exitCode maps a run error to the process exit status
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, cnst.ErrMemoryLimitExceeded):
		return exitMemoryLimit
	default:
		return exitFailure
	}
}

func main() {
	os.Exit(exitCode(rootCmd.Execute()))
}
