package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/lumenworks/thoughtline/internal/auth"
	"github.com/lumenworks/thoughtline/internal/cache"
	"github.com/lumenworks/thoughtline/internal/config"
	"github.com/lumenworks/thoughtline/internal/database"
	"github.com/lumenworks/thoughtline/internal/logging"
	"github.com/lumenworks/thoughtline/internal/server"
	"github.com/lumenworks/thoughtline/internal/settings"
	"github.com/lumenworks/thoughtline/internal/social"
	"github.com/lumenworks/thoughtline/internal/thoughts"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "thoughtline-api",
		Short: "Thoughtline thought signal backend service",
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
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("log-development", defaults.GetBool("log.development"), "Use the development log encoder")
	cmd.PersistentFlags().String("signing-secret", "", "Bearer token signing secret (overrides env)")
	cmd.PersistentFlags().String("auth-issuer", defaults.GetString("auth.issuer"), "Expected bearer token issuer")
	cmd.PersistentFlags().String("auth-audience", defaults.GetString("auth.audience"), "Expected bearer token audience")
	cmd.PersistentFlags().String("redis-url", defaults.GetString("redis.url"), "Redis URL for the recent-send cache")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.development", "log-development")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.issuer", "auth-issuer")
	bindFlag(cmd, "auth.audience", "auth-audience")
	bindFlag(cmd, "redis.url", "redis-url")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	_ = godotenv.Load()

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

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogDevelopment)
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

	tokenVerifier, err := auth.NewTokenVerifier(auth.TokenVerifierConfig{
		SigningSecret: []byte(appConfig.AuthSigningSecret),
		Issuer:        appConfig.AuthIssuer,
		Audience:      appConfig.AuthAudience,
	})
	if err != nil {
		return err
	}

	settingsStore, err := settings.NewStore(settings.StoreConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	gate, err := social.NewGate(db)
	if err != nil {
		return err
	}

	thoughtStore, err := thoughts.NewGormStore(db)
	if err != nil {
		return err
	}

	rateLimiter, err := thoughts.NewGormRateLimiter(db, time.Now)
	if err != nil {
		return err
	}

	thoughtsService, err := thoughts.NewService(thoughts.ServiceConfig{
		Store:       thoughtStore,
		RateLimiter: rateLimiter,
		Gate:        gate,
		Settings:    settingsStore,
		RecentSends: newRecentSends(appConfig, logger),
		IDProvider:  thoughts.NewUUIDProvider(),
		Clock:       time.Now,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenVerifier:   tokenVerifier,
		ThoughtsService: thoughtsService,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// newRecentSends prefers the configured Redis index and falls back to the
// in-process one when Redis is absent or unreachable at startup.
func newRecentSends(appConfig config.AppConfig, logger *zap.Logger) thoughts.RecentSends {
	if strings.TrimSpace(appConfig.RedisURL) == "" {
		return cache.NewMemoryRecentSends(0, nil)
	}
	redisIndex, err := cache.NewRedisRecentSends(appConfig.RedisURL, 0, logger)
	if err != nil {
		logger.Warn("redis recent-send cache unavailable, using memory", zap.Error(err))
		return cache.NewMemoryRecentSends(0, nil)
	}
	logger.Info("redis recent-send cache enabled")
	return redisIndex
}
