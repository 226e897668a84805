package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/vitos/funding_board/internal/infrastructure/feed"
	"github.com/vitos/funding_board/internal/infrastructure/logger"
	"github.com/vitos/funding_board/internal/infrastructure/storage"
	"github.com/vitos/funding_board/internal/usecase"
	"github.com/vitos/funding_board/internal/web"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const credentialEnv = "FUNDING_FEED_API_KEY"

type Config struct {
	Feed struct {
		WSEndpoint        string `yaml:"ws_endpoint"`
		RESTEndpoint      string `yaml:"rest_endpoint"`
		ConnectTimeoutMs  int    `yaml:"connect_timeout_ms"`
		BaseDelayMs       int    `yaml:"base_delay_ms"`
		MaxDelayMs        int    `yaml:"max_delay_ms"`
		MaxAttempts       int    `yaml:"max_attempts"`
		StatsIntervalMs   int    `yaml:"stats_interval_ms"`
		SnapshotDedupMs   int    `yaml:"snapshot_dedup_ms"`
		RESTMinIntervalMs int    `yaml:"rest_min_interval_ms"`
	} `yaml:"feed"`
	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
	Logging struct {
		Level    string `yaml:"level"`
		FeedFile string `yaml:"feed_file"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// buildConnectionConfig maps the feed section onto the manager config,
// with package defaults for anything left at zero.
func buildConnectionConfig(cfg *Config, credential string) usecase.ConnectionConfig {
	c := usecase.ConnectionConfig{
		URL:            cfg.Feed.WSEndpoint,
		Credential:     credential,
		ConnectTimeout: ms(cfg.Feed.ConnectTimeoutMs),
		BaseDelay:      ms(cfg.Feed.BaseDelayMs),
		MaxDelay:       ms(cfg.Feed.MaxDelayMs),
		MaxAttempts:    cfg.Feed.MaxAttempts,
		StatsInterval:  ms(cfg.Feed.StatsIntervalMs),
	}.WithDefaults()
	if c.StatsInterval == 0 {
		c.StatsInterval = usecase.DefaultStatsInterval
	}
	return c
}

func main() {
	// 1. Load Config
	cfg, err := loadConfig("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	_ = godotenv.Load()
	credential := os.Getenv(credentialEnv)

	// 2. Init Logger
	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	feedLog := log
	if cfg.Logging.FeedFile != "" {
		if fl, err := logger.NewFileLogger(cfg.Logging.FeedFile, cfg.Logging.Level); err != nil {
			log.Error("Failed to init feed logger, using default", zap.Error(err))
		} else {
			feedLog = fl
			defer fl.Sync()
		}
	}

	// 3. Init Storage
	dbPath := cfg.Storage.Path
	if dbPath == "" {
		dbPath = "board.db"
	}
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}

	// 4. Init State
	ctx := context.Background()
	reconciler := usecase.NewReconciler(feedLog.Named("reconciler"), ms(cfg.Feed.SnapshotDedupMs))
	state := usecase.NewStateStore(ctx, store, reconciler, log.Named("state"))

	// 5. Init Feed
	connCfg := buildConnectionConfig(cfg, credential)
	dialer := feed.NewWSDialer(connCfg.ConnectTimeout)
	rest := feed.NewRESTClient(cfg.Feed.RESTEndpoint, credential, ms(cfg.Feed.RESTMinIntervalMs))
	svc := usecase.NewBoardService(connCfg, dialer, rest, state, feedLog)

	if err := svc.Start(ctx); err != nil {
		log.Fatal("Failed to start feed", zap.Error(err))
	}

	// 6. Init Web Server
	port := cfg.Server.Port
	if port == 0 {
		port = 8080 // Default
	}
	server := web.NewServer(port, state, svc, log.Named("web"))

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// 7. Wait for Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = multierr.Combine(
		server.Shutdown(shutdownCtx),
		svc.Stop(shutdownCtx),
		store.Close(),
	)
	if err != nil {
		log.Error("Shutdown finished with errors", zap.Error(err))
	}
}
