package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/caonguyenthanhan/medruntime/apiframework"
	"github.com/caonguyenthanhan/medruntime/internal/runtimestate"
	libbus "github.com/caonguyenthanhan/medruntime/libbus"
	libdb "github.com/caonguyenthanhan/medruntime/libdbexec"
	libroutine "github.com/caonguyenthanhan/medruntime/libroutine"
	"github.com/caonguyenthanhan/medruntime/runtimetypes"
	"github.com/caonguyenthanhan/medruntime/serverapi"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

var (
	tenancy        = "local-dev"
	nodeInstanceID = "NODE-Instance-UNSET-dev"
)

const defaultSQLitePath = "./data/runtime.db"

func initDatabase(ctx context.Context, cfg *serverapi.Config) (libdb.DBManager, error) {
	if cfg.DatabaseURL != "" {
		var dbInstance libdb.DBManager
		err := libroutine.NewRoutine(10, time.Minute).ExecuteWithRetry(ctx, time.Second, 3, func(ctx context.Context) error {
			var err error
			dbInstance, err = libdb.NewPostgresDBManager(ctx, cfg.DatabaseURL, runtimetypes.Schema)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create store: %w", err)
		}
		return dbInstance, nil
	}

	path := cfg.SQLitePath
	if path == "" {
		path = defaultSQLitePath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbInstance, err := libdb.NewSQLiteDBManager(ctx, path, runtimetypes.SchemaSQLite)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	return dbInstance, nil
}

func initPubSub(ctx context.Context, cfg *serverapi.Config) (libbus.Messenger, error) {
	if cfg.NATSURL == "" {
		return libbus.NewInMem(), nil
	}
	return libbus.NewPubSub(ctx, &libbus.Config{
		NATSURL:      cfg.NATSURL,
		NATSPassword: cfg.NATSPassword,
		NATSUser:     cfg.NATSUser,
	})
}

func applyDefaults(config *serverapi.Config) {
	if config.Port == "" {
		config.Port = "8080"
	}
	if config.BackendURL == "" {
		config.BackendURL = "http://127.0.0.1:8000"
	}
	if config.InternalLLMURL == "" {
		config.InternalLLMURL = config.BackendURL
	}
	if config.InternalFriendChatURL == "" {
		config.InternalFriendChatURL = config.BackendURL
	}
	if config.DefaultGPUURL == "" {
		config.DefaultGPUURL = config.BackendURL
	}
}

func main() {
	// A missing .env is fine; the environment may carry everything already.
	_ = godotenv.Load()

	nodeInstanceID = uuid.NewString()[0:8]
	config := &serverapi.Config{}
	if err := serverapi.LoadConfig(config); err != nil {
		log.Fatalf("%s: failed to load configuration: %v", nodeInstanceID, err)
	}
	applyDefaults(config)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbInstance, err := initDatabase(ctx, config)
	if err != nil {
		log.Fatalf("%s initializing database failed: %v", nodeInstanceID, err)
	}
	defer dbInstance.Close()

	ps, err := initPubSub(ctx, config)
	if err != nil {
		log.Fatalf("%s initializing PubSub failed: %v", nodeInstanceID, err)
	}

	state, err := runtimestate.New(ctx, dbInstance, ps)
	if err != nil {
		log.Fatalf("%s initializing runtime state failed: %v", nodeInstanceID, err)
	}

	internalMux := http.NewServeMux()
	cleanup, err := serverapi.New(ctx, internalMux, nodeInstanceID, tenancy, config, dbInstance, ps, state)
	if err != nil {
		log.Fatalf("%s initializing API handler failed: %v", nodeInstanceID, err)
	}
	defer func() {
		if err := cleanup(); err != nil {
			log.Printf("%s cleanup failed: %v", nodeInstanceID, err)
		}
	}()

	var apiHandler http.Handler = internalMux
	apiHandler = apiframework.RequestIDMiddleware(apiHandler)
	apiHandler = apiframework.TracingMiddleware(apiHandler)

	mux := http.NewServeMux()
	mux.Handle("/", apiHandler)
	srv := &http.Server{
		Addr:    config.Addr + ":" + config.Port,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("%s shutdown failed: %v", nodeInstanceID, err)
		}
	}()

	log.Printf("%s %s starting server on :%s", tenancy, nodeInstanceID, config.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("%s server failed: %v", nodeInstanceID, err)
	}
}
