package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/stickyboard/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/stickyboard/backend/internal/config"
	"github.com/MarcoPoloResearchLab/stickyboard/backend/internal/database"
	"github.com/MarcoPoloResearchLab/stickyboard/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/stickyboard/backend/internal/notes"
	"github.com/MarcoPoloResearchLab/stickyboard/backend/internal/presence"
	"github.com/MarcoPoloResearchLab/stickyboard/backend/internal/server"
	"github.com/MarcoPoloResearchLab/stickyboard/backend/internal/uploads"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "stickyboard-api",
		Short: "Stickyboard shared note board service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().StringSlice("allowed-origins", nil, "Origins allowed for CORS and websocket upgrades")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("uploads-dir", defaults.GetString("uploads.dir"), "Directory for uploaded attachments")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("shared-password", "", "Shared board password (empty disables the login gate)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().Int("session-ttl-minutes", defaults.GetInt("auth.session_ttl_minutes"), "Session lifetime in minutes")
	cmd.PersistentFlags().Int("history-limit", defaults.GetInt("history.default_limit"), "Default history page size")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "uploads.dir", "uploads-dir")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.shared_password", "shared-password")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.session_ttl_minutes", "session-ttl-minutes")
	bindFlag(cmd, "history.default_limit", "history-limit")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	repository, err := notes.NewRepository(notes.RepositoryConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}

	storage, err := uploads.NewStorage(uploads.StorageConfig{
		FileSystem: afero.NewOsFs(),
		Directory:  appConfig.UploadsDir,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	janitor := uploads.NewJanitor(uploads.JanitorConfig{
		Remover:   storage,
		QueueSize: appConfig.CleanupQueueSize,
		Logger:    logger,
	})

	metrics := server.NewMetrics()
	hub := server.NewHub(server.HubConfig{
		BufferSize:           appConfig.RealtimeBufferSize,
		Logger:               logger,
		OnSubscribersChanged: metrics.SetRealtimeSubscribers,
	})

	store, err := notes.NewStore(notes.StoreConfig{Clock: time.Now, IDProvider: notes.NewUUIDProvider()})
	if err != nil {
		return err
	}
	engine, err := notes.NewEngine(notes.EngineConfig{
		Store:           store,
		AuditLog:        notes.NewAuditLog(notes.AuditLogConfig{Clock: time.Now, DefaultLimit: appConfig.HistoryDefaultLimit}),
		Persister:       repository,
		Publisher:       hub,
		Cleanup:         janitor,
		BroadcastWindow: appConfig.BroadcastWindow,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	if err := engine.Load(ctx); err != nil {
		return err
	}
	logger.Info("board loaded", zap.Int("notes", len(engine.Notes())), zap.Int("history", len(engine.History(0))))

	deps := server.Dependencies{
		Board:          engine,
		Files:          storage,
		Presence:       presence.NewRegistry(),
		Hub:            hub,
		Metrics:        metrics,
		Logger:         logger,
		HistoryLimit:   appConfig.HistoryDefaultLimit,
		AllowedOrigins: appConfig.AllowedOrigins,
		SecureCookies:  appConfig.CookieSecure,
	}
	if appConfig.AuthEnabled() {
		issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
			SharedPassword: appConfig.SharedPassword,
			SigningSecret:  []byte(appConfig.SigningSecret),
			Issuer:         auth.DefaultIssuer,
			Audience:       auth.DefaultAudience,
			TokenTTL:       appConfig.SessionTTL,
		})
		if err != nil {
			return err
		}
		validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
			SigningSecret: []byte(appConfig.SigningSecret),
			Issuer:        auth.DefaultIssuer,
			Audience:      auth.DefaultAudience,
			CookieName:    appConfig.CookieName,
		})
		if err != nil {
			return err
		}
		deps.Sessions = issuer
		deps.SessionValidator = validator
	}

	handler, err := server.NewHTTPHandler(deps)
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	group, groupCtx := errgroup.WithContext(signalCtx)

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return groupCtx
		},
	}

	group.Go(func() error {
		return janitor.Run(groupCtx)
	})
	group.Go(func() error {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress), zap.Bool("gated", appConfig.AuthEnabled()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
