// Command cli is the thin command-line surface over the action graph engine:
// it loads YAML project configuration, resolves the graph, and prints or runs
// it. All engine behavior lives in internal packages; this file only wires
// flags to engine options.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/vk/actiongraph/internal/cache"
	"github.com/vk/actiongraph/internal/config"
	"github.com/vk/actiongraph/internal/ctxlog"
	"github.com/vk/actiongraph/internal/engine"
	"github.com/vk/actiongraph/internal/executor"
	"github.com/vk/actiongraph/internal/handlers/execaction"
	"github.com/vk/actiongraph/internal/registry"
)

// rootFlags hold the persistent flags shared by every subcommand.
type rootFlags struct {
	projectDir string
	envName    string
	logLevel   string
	logFormat  string
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(outW io.Writer) *cobra.Command {
	flags := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:           "actiongraph",
		Short:         "Configuration-driven action graph engine",
		Long:          "Builds a dependency graph of build/deploy/run/test actions from YAML configuration,\nversions each action by content, and executes the graph concurrently with caching.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&flags.projectDir, "dir", "d", ".", "project directory containing project.yml")
	rootCmd.PersistentFlags().StringVarP(&flags.envName, "env", "e", "", "environment name to resolve variables for")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flags.logFormat, "log-format", "text", "log format (text, json)")

	rootCmd.AddCommand(newValidateCmd(outW, flags))
	rootCmd.AddCommand(newGraphCmd(outW, flags))
	rootCmd.AddCommand(newRunCmd(outW, flags))
	return rootCmd
}

// newLogger creates and configures a new slog.Logger instance. It does not
// set the global logger, allowing for isolated logger instances.
func newLogger(levelStr, formatStr string, outW io.Writer) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler

	if formatStr == "json" {
		handler = slog.NewJSONHandler(outW, handlerOpts)
	} else {
		handler = slog.NewTextHandler(outW, handlerOpts)
	}

	return slog.New(handler)
}

// setupEngine loads the project and resolves the graph for a command.
func setupEngine(ctx context.Context, flags *rootFlags) (context.Context, *engine.Engine, error) {
	logger := newLogger(flags.logLevel, flags.logFormat, os.Stderr)
	ctx = ctxlog.WithLogger(ctx, logger)

	project, err := config.LoadProject(flags.projectDir)
	if err != nil {
		return ctx, nil, err
	}
	envVars, err := project.EnvironmentVariables(flags.envName)
	if err != nil {
		return ctx, nil, err
	}

	reg := registry.New()
	execaction.Register(reg)

	eng := engine.New(engine.Options{
		Specs:                project.Specs,
		ProjectName:          project.Name,
		EnvironmentName:      flags.envName,
		Variables:            project.Variables,
		EnvironmentVariables: envVars,
		Ignore:               project.Ignore,
		Registry:             reg,
		Cache:                cache.New(),
		Workers:              executor.DefaultWorkers,
	})
	if err := eng.Resolve(ctx); err != nil {
		return ctx, nil, err
	}
	return ctx, eng, nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM so in-flight
// handlers get a chance to stop cooperatively.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
