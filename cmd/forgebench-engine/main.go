package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"forgebench/engine/internal/appdirs"
	"forgebench/engine/internal/config"
	"forgebench/engine/internal/engine"
	"forgebench/engine/internal/envfile"
	"forgebench/engine/internal/envutil"
	"forgebench/engine/internal/logging"
	"forgebench/engine/internal/rpc"
)

var debugFlag bool

var rootCmd = &cobra.Command{
	Use:   "forgebench-engine",
	Short: "Workspace engine for generated web projects",
	Long: `forgebench-engine serves newline-delimited JSON-RPC on stdin/stdout.
It owns the generated file tree, its checkpoints and the preview dev server.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "write a debug log to the data directory")
	rootCmd.AddCommand(inspectCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func serve(ctx context.Context) error {
	// The data dir .env is a fallback; a project .env may still move the
	// data dir itself.
	fallbackDir, _ := appdirs.DataDir()
	envResult := envfile.Load(fallbackDir)
	debug := debugFlag || envutil.Bool(config.EnvDebug)
	dataDir, err := appdirs.DataDir()
	if err != nil {
		return fmt.Errorf("engine init failed: %w", err)
	}
	logSetup, logErr := logging.NewFileLogger(dataDir, debug)
	logger := logSetup.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	if logSetup.Enabled {
		logger.Info("engine.logging_enabled", "path", logSetup.Path)
	}
	if envResult.Loaded {
		logger.Debug("engine.env_loaded", "path", envResult.Path, "keys", len(envResult.Keys), "recognized", envResult.Recognized())
	}
	if envResult.Err != nil {
		logger.Warn("engine.env_load_failed", "path", envResult.Path, "error", envResult.Err.Error())
	}
	if logErr != nil {
		logger.Warn("engine.log_setup_failed", "error", logErr.Error())
	}
	if logSetup.Close != nil {
		defer logSetup.Close()
	}

	eng, err := engine.New(engine.WithLogger(logger))
	if err != nil {
		logger.Error("engine.init_failed", "error", err.Error())
		return fmt.Errorf("engine init failed: %w", err)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Warn("engine.close_failed", "error", err.Error())
		}
	}()

	server := rpc.NewServer(engine.APIVersion, os.Stdin, os.Stdout, logger)
	eng.SetNotifier(server.Notify)

	server.Register("EngineGetInfo", eng.EngineGetInfo)

	server.Register("WorkspaceInit", eng.WorkspaceInit)
	server.Register("WorkspaceSendPrompt", eng.WorkspaceSendPrompt)
	server.Register("WorkspaceGetState", eng.WorkspaceGetState)
	server.Register("WorkspaceSelectFile", eng.WorkspaceSelectFile)
	server.Register("WorkspaceReadFile", eng.WorkspaceReadFile)
	server.Register("WorkspaceEditFile", eng.WorkspaceEditFile)

	server.Register("CheckpointsList", eng.CheckpointsList)
	server.Register("CheckpointGet", eng.CheckpointGet)
	server.Register("CheckpointRestore", eng.CheckpointRestore)
	server.Register("CheckpointDiff", eng.CheckpointDiff)

	server.Register("SessionExport", eng.SessionExport)
	server.Register("SessionImport", eng.SessionImport)

	server.Register("PreviewGetState", eng.PreviewGetState)
	server.Register("PreviewStart", eng.PreviewStart)
	server.Register("PromptEnhance", eng.PromptEnhance)

	logger.Info("engine.ready", "methods", len(server.Methods()), "api_version", engine.APIVersion)
	if err := server.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Error("rpc.server_error", "error", err.Error())
		return fmt.Errorf("rpc server error: %w", err)
	}
	return nil
}
