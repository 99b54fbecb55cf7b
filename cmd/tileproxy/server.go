package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mapgrid/tileproxy/internal/cache"
	"github.com/mapgrid/tileproxy/internal/config"
	"github.com/mapgrid/tileproxy/internal/logging"
	"github.com/mapgrid/tileproxy/internal/proxy"
	"github.com/mapgrid/tileproxy/internal/secrets"
	"github.com/mapgrid/tileproxy/internal/server"
	"github.com/mapgrid/tileproxy/internal/styles"
	"github.com/mapgrid/tileproxy/internal/upstream"
)

// Server command flags
var (
	serverEnvFile     string
	serverListenAddr  string
	serverStylesDir   string
	serverCacheDir    string
	serverSecretsFile string
	serverLogLevel    string
	serverLogFile     string
	shutdownTimeout   int
	debugMode         bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the tile proxy server",
	Long:  `Start the HTTP server that serves styles and proxies tile requests.`,
	Run:   runServer,
}

func init() {
	serverCmd.Flags().StringVar(&serverEnvFile, "env", config.EnvOrDefault("ENV", ".env"), "Path to .env file")
	serverCmd.Flags().StringVar(&serverListenAddr, "addr", config.EnvOrDefault("LISTEN_ADDR", ""), "Address to listen on (overrides env var)")
	serverCmd.Flags().StringVar(&serverStylesDir, "styles-dir", config.EnvOrDefault("STYLES_DIR", ""), "Directory with style files (overrides env var)")
	serverCmd.Flags().StringVar(&serverCacheDir, "cache-dir", config.EnvOrDefault("CACHE_DIR", ""), "Tile cache directory (overrides env var)")
	serverCmd.Flags().StringVar(&serverSecretsFile, "secrets", config.EnvOrDefault("SECRETS_FILE", ""), "Provider credentials file (overrides env var)")
	serverCmd.Flags().StringVar(&serverLogLevel, "log-level", config.EnvOrDefault("LOG_LEVEL", ""), "Log level: debug, info, warn, error (overrides env var)")
	serverCmd.Flags().StringVar(&serverLogFile, "log-file", config.EnvOrDefault("LOG_FILE", ""), "Path to log file (overrides env var, default: stdout)")
	serverCmd.Flags().IntVar(&shutdownTimeout, "shutdown-timeout", config.EnvIntOrDefault("SHUTDOWN_TIMEOUT", 10), "Graceful shutdown timeout in seconds")
	serverCmd.Flags().BoolVarP(&debugMode, "debug", "v", config.EnvBoolOrDefault("DEBUG", false), "Enable debug logging (overrides log-level)")
}

func runServer(cmd *cobra.Command, args []string) {
	// Load .env file if it exists
	if _, err := os.Stat(serverEnvFile); err == nil {
		if err := godotenv.Load(serverEnvFile); err != nil {
			log.Printf("Warning: Error loading %s file: %v", serverEnvFile, err)
		} else {
			log.Printf("Loaded environment from %s", serverEnvFile)
		}
	}

	if debugMode || os.Getenv("DEBUG") == "1" {
		serverLogLevel = "debug"
	}

	cfg, err := config.New()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg.ApplyOverrides(serverListenAddr, serverStylesDir, serverCacheDir, serverSecretsFile, serverLogLevel, serverLogFile)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	zapLogger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		if err := zapLogger.Sync(); err != nil {
			if !strings.Contains(err.Error(), "inappropriate ioctl for device") {
				log.Printf("Error syncing zap logger: %v", err)
			}
		}
	}()

	// Fail fast if the configured address is already in use
	if ln, err := net.Listen("tcp", cfg.ListenAddr); err != nil {
		zapLogger.Fatal("Listen address unavailable (already in use?)",
			zap.String("addr", cfg.ListenAddr), zap.Error(err))
	} else {
		_ = ln.Close()
	}

	// Provider credentials: a missing file just means no authenticated
	// providers, a malformed file is fatal.
	secretStore, err := secrets.Load(cfg.SecretsFile)
	if err != nil {
		zapLogger.Fatal("Failed to load provider credentials",
			zap.String("path", cfg.SecretsFile), zap.Error(err))
	}
	if providers := secretStore.Providers(); len(providers) > 0 {
		zapLogger.Info("Loaded provider credentials", zap.Strings("providers", providers))
	} else {
		zapLogger.Info("No provider credentials configured",
			zap.String("path", cfg.SecretsFile),
			zap.String("hint", "run 'tileproxy setup' to add provider keys"))
	}

	registry := styles.DefaultRegistry()
	if cfg.BuiltinStylesConfig != "" {
		registry, err = styles.LoadRegistryFromFile(cfg.BuiltinStylesConfig)
		if err != nil {
			zapLogger.Fatal("Failed to load builtin styles config",
				zap.String("path", cfg.BuiltinStylesConfig), zap.Error(err))
		}
		zapLogger.Info("Loaded builtin style registry",
			zap.String("path", cfg.BuiltinStylesConfig),
			zap.Int("styles", len(registry.Styles)))
	}

	fetcher := upstream.NewHTTPFetcher(cfg.UpstreamTimeout)
	resolver := styles.NewResolver(cfg.StylesDir, registry, fetcher, zapLogger)

	cacheStore, err := buildCacheStore(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to initialize cache", zap.Error(err))
	}

	dispatcher := proxy.NewDispatcher(resolver, secretStore, cacheStore, fetcher, cfg.CacheDefaultTTL, zapLogger)
	srv := server.New(cfg, resolver, dispatcher, cacheStore, zapLogger)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Server error", zap.Error(err))
		}
	}()
	fmt.Printf("tileproxy listening on %s\n", cfg.ListenAddr)

	<-done
	zapLogger.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(shutdownTimeout)*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Forced shutdown", zap.Error(err))
		osExit(1)
	}
	zapLogger.Info("Server stopped")
}

// buildCacheStore selects the cache backend: Redis when REDIS_CACHE_URL is
// set and reachable, the file cache otherwise.
func buildCacheStore(cfg *config.Config, logger *zap.Logger) (cache.Store, error) {
	if cfg.RedisCacheURL != "" {
		opts, err := redis.ParseURL(cfg.RedisCacheURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_CACHE_URL: %w", err)
		}
		client := redis.NewClient(opts)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis cache unreachable, falling back to file cache",
				zap.String("url", cfg.RedisCacheURL), zap.Error(err))
		} else {
			logger.Info("Using Redis tile cache", zap.String("prefix", cfg.RedisCacheKeyPrefix))
			return cache.NewRedisStore(client, cfg.RedisCacheKeyPrefix, cfg.CacheDefaultTTL, logger), nil
		}
	}

	store, err := cache.NewFileStore(cfg.CacheDir, cfg.CacheDefaultTTL, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Using file tile cache", zap.String("dir", cfg.CacheDir))
	return store, nil
}
