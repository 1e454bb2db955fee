package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/todo-sync/internal/config"
	"github.com/BuzzLyutic/todo-sync/internal/handler"
	"github.com/BuzzLyutic/todo-sync/internal/remote"
	"github.com/BuzzLyutic/todo-sync/internal/repo"
	"github.com/BuzzLyutic/todo-sync/internal/service"
	"github.com/BuzzLyutic/todo-sync/internal/worker"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "todo",
		Short:         "To-do list with a local cache synchronized to the remote backend",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "todo.yaml", "path to the config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API and the background sync worker",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), configPath, serve)
			},
		},
		&cobra.Command{
			Use:   "sync",
			Short: "Synchronize the local list with the backend once and exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), configPath, syncOnce)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create the local schema",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), configPath, func(context.Context, *app) error { return nil })
			},
		},
	)
	return root
}

type app struct {
	cfg     config.Config
	logger  *zap.Logger
	service *service.TodoService
	client  *remote.Client
}

// withApp собирает зависимости, выполняет run и все закрывает.
func withApp(ctx context.Context, configPath string, run func(context.Context, *app) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Подключаем логгер
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Загрузка конфигурации
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("Failed to load config", zap.Error(err))
		return err
	}

	// Подключаем БД
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("Failed to connect to Database", zap.Error(err))
		return err
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Error("Failed to ping the Database", zap.Error(err))
		return err
	}
	logger.Info("Successfully connected to the Database!")

	store := repo.NewTodoRepo(pool)
	if err := store.Migrate(ctx); err != nil {
		logger.Error("Failed to migrate", zap.Error(err))
		return err
	}

	client := remote.NewClient(remote.Options{
		BaseURL:        cfg.API.BaseURL,
		Token:          cfg.API.Token,
		RetryAttempts:  cfg.API.RetryAttempts,
		RetryDelay:     cfg.API.RetryDelay,
		RequestTimeout: cfg.API.RequestTimeout,
	}, logger)

	todoService := service.NewTodoService(store, client, logger, cfg.DeviceID)
	defer todoService.Close()

	return run(ctx, &app{cfg: cfg, logger: logger, service: todoService, client: client})
}

func syncOnce(ctx context.Context, a *app) error {
	result, err := a.service.Synchronize(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, remote.Message(err))
		return err
	}
	a.logger.Info("Synchronized", zap.String("result", string(result)), zap.Int64("revision", a.client.Revision()))
	return nil
}

func serve(ctx context.Context, a *app) error {
	online, err := worker.DialCheck(a.cfg.API.BaseURL, 5*time.Second)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workerPool := worker.NewPool(a.service, a.logger, a.cfg.WorkerCount, a.cfg.Sync.Interval, online)
	workerPool.Start(ctx)
	defer workerPool.Stop()
	workerPool.RunOnce() // синхронизация при старте

	// Ошибки фоновых отправок: в приложении это был снекбар, здесь лог
	go func() {
		for err := range a.service.Errors() {
			a.logger.Warn("Background sync error",
				zap.String("message", remote.Message(err)),
				zap.Error(err),
			)
		}
	}()

	srv := http.Server{
		Addr:         ":" + a.cfg.Port,
		Handler:      handler.NewRouter(handler.NewTodoHandler(a.service, workerPool, a.logger)),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: time.Minute,
	}

	go func() { // Запуск сервера и обработка ошибок
		a.logger.Info("Server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("Server failed", zap.Error(err))
			cancel()
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Shutdown error", zap.Error(err))
		return err
	}
	a.logger.Info("Server stopped successfully!")
	return nil
}
