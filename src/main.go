package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"contentd/src/directors"
	"contentd/src/engine"
	"contentd/src/schema"
	"contentd/src/server"
	"contentd/src/settings"
	"contentd/src/storage"
)

// printUsage prints helpful usage information
func printUsage() {
	log.Println("contentd - schema-driven content API server")
	log.Println("\nUsage:")
	log.Println("  contentd [options]")
	log.Println("\nOptions:")
	flag.PrintDefaults()

	log.Println("\nExamples:")
	log.Println("  contentd --mongo=mongodb://localhost:27017")
	log.Println("  contentd --mongo=mongodb://localhost:27017 --schemadir=./schemas --watch")
}

func main() {
	// Get the global settings instance
	args := settings.GetSettings()

	// Define command line flags that map to the Arguments struct
	flag.StringVar(&args.MongoURI, "mongo", "mongodb://localhost:27017", "MongoDB connection string")
	flag.StringVar(&args.AdminDBName, "admindb", args.AdminDBName, "Database holding the schema registry")
	flag.StringVar(&args.DataDBName, "datadb", args.DataDBName, "Database holding the content collections")
	flag.StringVar(&args.DataDir, "schemadir", "", "Directory of schema seed files; overrides the Mongo schema store")
	flag.BoolVar(&args.WatchSchemas, "watch", false, "Watch the schema directory and reload on change")
	flag.StringVar(&args.Host, "host", "127.0.0.1", "Host name or IP address to listen on")
	flag.IntVar(&args.Port, "port", 8080, "Port for the HTTP server")
	flag.IntVar(&args.DefaultPageSize, "pagesize", args.DefaultPageSize, "Default page size for list queries")
	flag.IntVar(&args.MaxPageSize, "maxpagesize", args.MaxPageSize, "Upper bound for the limit query parameter")
	flag.IntVar(&args.MaxKeywordLength, "maxkeyword", args.MaxKeywordLength, "Longest accepted keyword search term")
	flag.BoolVar(&args.Verbose, "verbose", false, "Enable verbose logging")
	flag.BoolVar(&args.Debug, "debug", false, "Enable debug mode")

	// Parse the command line
	flag.Parse()

	// Validate the arguments
	if err := validateArguments(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n\n", err)
		printUsage()
		os.Exit(1)
	}

	logger := buildLogger(args)
	defer logger.Sync()

	if args.Verbose {
		logger.Infow("contentd starting",
			"mongo", args.MongoURI,
			"adminDB", args.AdminDBName,
			"dataDB", args.DataDBName,
			"schemaDir", args.DataDir,
			"host", args.Host,
			"port", args.Port,
		)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	client, err := storage.Connect(ctx, args.MongoURI)
	cancel()
	if err != nil {
		logger.Fatalw("failed to connect to MongoDB", "error", err)
	}
	defer client.Disconnect(context.Background())

	// The schema registry reads from seed files when a directory is given,
	// otherwise from the admin database.
	var store schema.Store
	var fileStore *schema.FileStore
	if args.DataDir != "" {
		fileStore = schema.NewFileStore(args.DataDir, logger)
		store = fileStore
	} else {
		store = storage.NewMongoSchemaStore(client.Database(args.AdminDBName))
	}

	registry := schema.NewRegistry(store, logger)

	// Warm the cache so the first request does not pay the load.
	warmCtx, cancelWarm := context.WithTimeout(context.Background(), 30*time.Second)
	docs, err := registry.LoadAll(warmCtx)
	cancelWarm()
	if err != nil {
		logger.Fatalw("failed to load schemas", "error", err)
	}
	logger.Infow("schema registry warmed", "schemas", len(docs))

	compiler := engine.NewModelCompiler(logger)
	models := engine.NewModelRegistry()
	validators := engine.NewValidatorRegistry()
	exec := storage.NewMongoExecutor(client.Database(args.DataDBName), logger)

	queries := directors.NewQueryService(registry, compiler, models, exec, args, logger)
	writes := directors.NewWriteService(registry, compiler, models, validators, exec, args, logger)

	srv := server.NewServer(queries, writes, registry, args, logger)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if args.WatchSchemas && fileStore != nil {
		go func() {
			err := fileStore.Watch(rootCtx, func() {
				registry.InvalidateAll()
				validators.InvalidateAll()
				logger.Infow("schema files changed, caches invalidated")
			})
			if err != nil && rootCtx.Err() == nil {
				logger.Errorw("schema watcher stopped", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatalw("server failed", "error", err)
		}
	case <-rootCtx.Done():
		logger.Infow("shutting down")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorw("shutdown error", "error", err)
		}
	}

	logger.Infow("server shutdown complete")
}

// buildLogger configures zap according to the debug flag.
func buildLogger(args *settings.Arguments) *zap.SugaredLogger {
	var (
		base *zap.Logger
		err  error
	)
	if args.Debug {
		base, err = zap.NewDevelopment()
	} else {
		base, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	return base.Sugar()
}

// validateArguments validates the arguments and returns an error if invalid
func validateArguments(args *settings.Arguments) error {
	if args.MongoURI == "" {
		return fmt.Errorf("a MongoDB connection string is required")
	}

	if args.DataDir != "" {
		dirInfo, err := os.Stat(args.DataDir)
		if err != nil {
			return fmt.Errorf("error accessing schema directory: %w", err)
		}
		if !dirInfo.IsDir() {
			return fmt.Errorf("schema directory path exists but is not a directory: %s", args.DataDir)
		}
	}

	if args.Port < 1 || args.Port > 65535 {
		return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", args.Port)
	}

	if args.DefaultPageSize < 1 || args.DefaultPageSize > args.MaxPageSize {
		return fmt.Errorf("invalid page size: %d (must be between 1 and %d)",
			args.DefaultPageSize, args.MaxPageSize)
	}

	return nil
}
