// Command yumeko runs the assistant backend: the streaming chat loop, the
// tiered memory store, the sleep-time scheduler, and the HTTP/WebSocket
// server.
//
// Usage:
//
//	yumeko serve --config config.yaml
//	yumeko version
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/walnutseal1/yk-project/pkg/agent"
	"github.com/walnutseal1/yk-project/pkg/config"
	"github.com/walnutseal1/yk-project/pkg/embedders"
	"github.com/walnutseal1/yk-project/pkg/llms"
	"github.com/walnutseal1/yk-project/pkg/logger"
	"github.com/walnutseal1/yk-project/pkg/memory"
	"github.com/walnutseal1/yk-project/pkg/server"
	"github.com/walnutseal1/yk-project/pkg/sleeper"
	"github.com/walnutseal1/yk-project/pkg/tools"
)

const defaultSystemPrompt = `You are Yumeko, a helpful conversational assistant with persistent memory.
Use your memory tools to keep what you learn about the user. Keep replies concise.`

const defaultSleepPrompt = `You are the memory reorganizer. Review the recent conversation digest below
and consolidate anything worth keeping into core or vector memory. Call
finish_edits when you are done.`

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" default:"withargs" help:"Start the assistant server."`

	Config   string `short:"c" help:"Path to config file." type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error). Overrides the config file."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("yumeko version %s\n", version)
	return nil
}

// ServeCmd starts the server.
type ServeCmd struct {
	Port int `help:"Port to listen on. Overrides the config file."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	// .env is optional; real environment variables win either way.
	_ = godotenv.Load()

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
	if cli.LogLevel != "" {
		cfg.LogLevel = cli.LogLevel
	}
	logger.Setup(os.Stderr, logger.ParseLevel(cfg.LogLevel))

	if err := ensureStorageDirs(cfg); err != nil {
		return err
	}

	store, err := buildMemoryStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	handler := buildToolHandler(cfg, store)

	mainProvider, err := llms.New(cfg.MainModel, llms.Options{
		Tools:     handler.Definitions(),
		MaxTokens: cfg.MaxTokens,
	})
	if err != nil {
		return fmt.Errorf("failed to create main provider: %w", err)
	}
	defer mainProvider.Close()

	var scheduler *sleeper.Scheduler
	if cfg.SleepAgentEnabled() {
		scheduler, err = buildScheduler(cfg, store)
		if err != nil {
			return err
		}
		scheduler.Start()
		defer scheduler.Stop()
	} else {
		slog.Info("sleep-time scheduler disabled", "trigger", cfg.SleepAgentMessageTrigger)
	}

	agentOpts := agent.Options{
		Provider:     mainProvider,
		Handler:      handler,
		Store:        store,
		SystemPrompt: readPrompt(cfg.PromptFile, defaultSystemPrompt),
		MaxTokens:    cfg.MaxTokens,
		ContextFile:  cfg.ContextDir,
		SleepTrigger: cfg.SleepAgentMessageTrigger,
	}
	if scheduler != nil {
		agentOpts.Scheduler = scheduler
	}
	a := agent.New(agentOpts)

	serverOpts := server.Options{Agent: a, Store: store}
	if scheduler != nil {
		serverOpts.Scheduler = scheduler
	}
	srv := server.New(serverOpts)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown incomplete", "error", err)
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := &config.Config{}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func ensureStorageDirs(cfg *config.Config) error {
	dirs := []string{
		cfg.CoreDir,
		cfg.VectorDir,
		filepath.Dir(cfg.CacheFile),
		filepath.Dir(cfg.RecallDir),
		filepath.Dir(cfg.ContextDir),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create storage directory %s: %w", dir, err)
		}
	}
	return nil
}

func buildMemoryStore(cfg *config.Config) (*memory.Store, error) {
	embedder, err := embedders.New(cfg.EmbedModel)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	recall, err := memory.NewRecallStore(cfg.RecallDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open recall store: %w", err)
	}

	return memory.NewStore(
		memory.NewCoreStore(cfg.CoreDir),
		memory.NewVectorStore(cfg.VectorDir, cfg.CacheFile, embedder),
		recall,
	), nil
}

func buildToolHandler(cfg *config.Config, store *memory.Store) *tools.Handler {
	handler := tools.NewHandler()

	handler.RegisterTool(tools.NewSendMessageTool(func(message string) {
		slog.Info("assistant message", "content", message)
	}))
	handler.RegisterTool(tools.NewDiceTool())
	handler.RegisterTool(tools.NewMemorySearchTool(store))
	handler.RegisterTool(tools.NewVectorSearchTool(store))
	handler.RegisterTool(tools.NewVectorMemoryEditTool(store))
	handler.RegisterTool(tools.NewCoreMemoryEditTool(store))

	if cfg.UseFilesystem {
		workingDir, err := os.Getwd()
		if err != nil {
			workingDir = "."
		}
		handler.RegisterTool(tools.NewReadFileTool(workingDir))
		handler.RegisterTool(tools.NewWriteFileTool(workingDir))
		handler.RegisterTool(tools.NewListDirectoryTool(workingDir))
		handler.RegisterTool(tools.NewSearchFileContentTool(workingDir))
	}
	if cfg.UseWeb {
		handler.RegisterTool(tools.NewWebRequestTool())
	}

	handler.SetApprovalRequired(cfg.ApprovalRequired)
	return handler
}

func buildScheduler(cfg *config.Config, store *memory.Store) (*sleeper.Scheduler, error) {
	// The background provider sees only the memory mutation tools.
	sleepTools := []llms.ToolDefinition{
		tools.NewVectorSearchTool(store).Info().Definition(),
		tools.NewVectorMemoryEditTool(store).Info().Definition(),
		tools.NewCoreMemoryEditTool(store).Info().Definition(),
		tools.FinishEditsTool{}.Info().Definition(),
	}

	provider, err := llms.New(cfg.SleepAgentModel, llms.Options{
		Tools:     sleepTools,
		MaxTokens: cfg.SleepAgentContext,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sleep agent provider: %w", err)
	}

	return sleeper.New(sleeper.Options{
		Provider:                  provider,
		Store:                     store,
		SystemPrompt:              readPrompt(cfg.SleepAgentPromptPath, defaultSleepPrompt),
		ContextTokens:             cfg.SleepAgentContext,
		MinSleepInterval:          secondsToDuration(cfg.MinSleepInterval),
		MaxSleepInterval:          secondsToDuration(cfg.MaxSleepInterval),
		PauseDelayAfterForeground: secondsToDuration(cfg.PauseDelayAfterMain),
		MaxConcurrentTasks:        cfg.MaxConcurrentTasks,
	}), nil
}

func readPrompt(path, fallback string) string {
	if path == "" {
		return fallback
	}
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("failed to read prompt file, using built-in prompt", "path", path, "error", err)
		return fallback
	}
	return string(data)
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

func main() {
	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("yumeko"),
		kong.Description("Conversational assistant backend with tiered persistent memory."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(cli); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
