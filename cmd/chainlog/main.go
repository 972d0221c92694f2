package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/auditstack/chainlog/internal/backend"
	"github.com/auditstack/chainlog/internal/config"
	"github.com/auditstack/chainlog/internal/metrics"
	"github.com/auditstack/chainlog/internal/server"
	"github.com/auditstack/chainlog/internal/store"
	"github.com/auditstack/chainlog/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// Application wires the store, backend and HTTP server together
type Application struct {
	config  *config.Config
	metrics *metrics.Metrics
	backend backend.Backend
	store   *store.Store
	server  *server.HTTPServer
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	logCfg := cfg.Logging
	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	app.metrics = metrics.New()

	if cfg.Replication.Enabled {
		if err := app.initializeBackend(); err != nil {
			cancel()
			return nil, err
		}
	}

	if err := app.initializeStore(); err != nil {
		cancel()
		return nil, err
	}

	if err := app.initializeServer(); err != nil {
		cancel()
		return nil, err
	}

	return app, nil
}

// initializeBackend connects the replication backend
func (app *Application) initializeBackend() error {
	b, err := backend.New(&backend.Config{
		Type:             app.config.Replication.BackendType,
		ConnectionString: app.config.Replication.ConnectionString,
		UploadTimeout:    app.config.Replication.UploadTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create backend: %w", err)
	}

	if err := b.Connect(); err != nil {
		return fmt.Errorf("failed to connect to backend: %w", err)
	}
	if err := b.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate backend: %w", err)
	}

	app.backend = b
	return nil
}

// initializeStore opens the log store
func (app *Application) initializeStore() error {
	opts := store.Options{
		DataDir:     app.config.Store.DataDir,
		RotateBytes: app.config.Store.RotateBytes,
		Metrics:     app.metrics,
	}
	if app.backend != nil {
		opts.Backend = app.backend
		opts.Mode = app.config.Replication.Mode
		opts.BatchSize = app.config.Replication.BatchSize
		opts.Workers = app.config.Replication.Workers
		opts.UploadTimeout = app.config.Replication.UploadTimeout
	}

	s, err := store.New(app.ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to open log store: %w", err)
	}

	app.store = s
	return nil
}

// initializeServer creates the HTTP server
func (app *Application) initializeServer() error {
	serverCfg := &server.ServerConfig{
		Port:          app.config.Server.Port,
		Host:          app.config.Server.Host,
		ReadTimeout:   app.config.Server.ReadTimeout,
		WriteTimeout:  app.config.Server.WriteTimeout,
		EnableMetrics: app.config.Server.EnableMetrics,
		EnableHealth:  app.config.Server.EnableHealth,
	}

	srv, err := server.NewHTTPServer(serverCfg, app.store, app.metrics)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	app.server = srv
	return nil
}

// Start starts the application
func (app *Application) Start() error {
	logger := utils.GetLogger()
	logger.WithField("version", AppVersion).Info("Starting chainlog")

	if err := app.server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	logger.WithField("address", fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port)).
		Info("chainlog started")
	return nil
}

// Stop stops the application gracefully. The store drains its replication
// queue before the process exits.
func (app *Application) Stop() error {
	logger := utils.GetLogger()
	logger.Info("Stopping chainlog")

	app.cancel()

	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			logger.WithField("error", err).Error("Failed to stop HTTP server")
		}
	}

	if app.store != nil {
		if err := app.store.Close(); err != nil {
			logger.WithField("error", err).Error("Failed to close log store")
		}
	}

	if app.backend != nil {
		if err := app.backend.Close(); err != nil {
			logger.WithField("error", err).Error("Failed to close backend")
		}
	}

	logger.Info("chainlog stopped")
	return nil
}

// CLI Commands

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "chainlog",
	Short:   "Immutable hash-chained log store",
	Long:    `An append-only, tamper-evident log store with cryptographic chain verification, size-based rotation and asynchronous replication to a remote backend.`,
	Version: AppVersion,
	RunE:    runServer,
}

// runServer is the main command to run the log store service
func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	<-signalChan
	fmt.Println("\nReceived shutdown signal, stopping...")

	return app.Stop()
}

func loadConfig() (*config.Config, error) {
	configPath := viper.GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openOfflineStore opens the store without replication or a server, for
// the offline verify and stats subcommands.
func openOfflineStore() (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	if err := utils.InitLogger("warn", "text", "stdout", ""); err != nil {
		return nil, err
	}

	return store.New(context.Background(), store.Options{
		DataDir:     cfg.Store.DataDir,
		RotateBytes: cfg.Store.RotateBytes,
	})
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("chainlog %s\n", AppVersion)
	},
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

// validateConfigCmd validates the configuration
var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Data dir: %s\n", cfg.Store.DataDir)
		fmt.Printf("Rotate at: %d bytes\n", cfg.Store.RotateBytes)
		fmt.Printf("Replication: %v\n", cfg.Replication.Enabled)

		return nil
	},
}

// verifyCmd verifies chain integrity offline
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify chain integrity of the data directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openOfflineStore()
		if err != nil {
			return err
		}
		defer s.Close()

		ok, firstBad := s.Verify()
		if !ok {
			return fmt.Errorf("chain verification failed at block %d", firstBad)
		}

		fmt.Printf("Chain verified: %d blocks intact\n", s.ChainLength())
		return nil
	},
}

// statsCmd prints store statistics
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print log store statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openOfflineStore()
		if err != nil {
			return err
		}
		defer s.Close()

		stats, err := s.GetStats(context.Background())
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

// init initializes the CLI commands
func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(statsCmd)
	configCmd.AddCommand(validateConfigCmd)
}

// main is the entry point
func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
