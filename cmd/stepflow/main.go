package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/stepflow-dev/stepflow/internal/commands"
	"github.com/stepflow-dev/stepflow/internal/conditions"
	"github.com/stepflow-dev/stepflow/internal/engine"
	"github.com/stepflow-dev/stepflow/internal/handlers"
	"github.com/stepflow-dev/stepflow/internal/logging"
	"github.com/stepflow-dev/stepflow/internal/notify"
	"github.com/stepflow-dev/stepflow/internal/schedule"
	"github.com/stepflow-dev/stepflow/internal/store"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		printVersion()
		return
	}

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "stepflow:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	var notifier handlers.Notifier = notify.NewConsoleNotifier(nil)
	if cfg.TelegramToken != "" {
		tg, err := notify.NewTelegramNotifier(cfg.TelegramToken)
		if err != nil {
			return err
		}
		notifier = tg
		logger.Info("telegram notifier enabled")
	}

	eval := conditions.NewEvaluator()
	registry := handlers.NewRegistry()
	if err := handlers.RegisterBuiltins(registry, handlers.BuiltinConfig{
		Logger:    logger,
		Notifier:  notifier,
		Store:     st,
		Evaluator: eval,
		FS:        handlers.FSConfig{Root: cfg.FilesRoot},
	}); err != nil {
		return fmt.Errorf("register handlers: %w", err)
	}

	eng := engine.NewEngine(engine.EngineConfig{
		Registry:  registry,
		Store:     st,
		Evaluator: eval,
		Logger:    logger,
	})

	scheduler := schedule.NewScheduler(st, eng, logger)
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	bridge, err := commands.NewBridge(eng, scheduler, logger)
	if err != nil {
		return err
	}

	logger.Info("stepflow ready", slog.String("db", cfg.DBPath))
	return repl(ctx, bridge, cfg.DefaultChatID)
}

// repl reads MULTISTEP commands from stdin and prints replies. Exits on
// EOF or signal.
func repl(ctx context.Context, bridge *commands.Bridge, chatID string) error {
	origin := commands.Origin{ChatID: chatID, UserID: "console"}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if !commands.IsCommand(line) {
				fmt.Println("commands start with MULTISTEP:")
				continue
			}
			fmt.Println(bridge.Handle(ctx, origin, line))
		}
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
