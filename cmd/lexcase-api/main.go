package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/andinalegal/lexcase/backend/internal/aiflow"
	"github.com/andinalegal/lexcase/backend/internal/auth"
	"github.com/andinalegal/lexcase/backend/internal/cases"
	"github.com/andinalegal/lexcase/backend/internal/config"
	"github.com/andinalegal/lexcase/backend/internal/logging"
	"github.com/andinalegal/lexcase/backend/internal/reminders"
	"github.com/andinalegal/lexcase/backend/internal/server"
	"github.com/andinalegal/lexcase/backend/internal/store"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lexcase-api",
		Short: "Legal case management backend service",
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
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().Duration("session-ttl", defaults.GetDuration("session.ttl"), "Session token lifetime")
	cmd.PersistentFlags().String("aiflow-base-url", defaults.GetString("aiflow.base_url"), "AI flow endpoint base URL")
	cmd.PersistentFlags().Int64("match-shuffle-seed", defaults.GetInt64("matching.shuffle_seed"), "Seed for lawyer suggestion shuffling (0 draws from the clock)")
	cmd.PersistentFlags().Duration("imminent-window", defaults.GetDuration("reminders.imminent_window"), "Window before a reminder counts as imminent")
	cmd.PersistentFlags().Duration("due-now-slack", defaults.GetDuration("reminders.due_now_slack"), "Slack around a reminder's moment counting as due now")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
	bindFlag(cmd, "session.ttl", "session-ttl")
	bindFlag(cmd, "aiflow.base_url", "aiflow-base-url")
	bindFlag(cmd, "matching.shuffle_seed", "match-shuffle-seed")
	bindFlag(cmd, "reminders.imminent_window", "imminent-window")
	bindFlag(cmd, "reminders.due_now_slack", "due-now-slack")
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

	db, err := store.Open(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	documentStore, err := store.New(store.Config{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	caseService, err := cases.NewService(cases.ServiceConfig{
		Store:  documentStore,
		Clock:  time.Now,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	sessions := auth.NewSessionIssuer(auth.SessionIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "lexcase-auth",
		Audience:      "lexcase-api",
		SessionTTL:    appConfig.SessionTTL,
	})

	thresholds := reminders.Thresholds{
		ImminentWindow: appConfig.ImminentWindow,
		DueNowSlack:    appConfig.DueNowSlack,
	}

	var matcher server.LawyerMatcher
	var composer *reminders.Composer
	if appConfig.AIFlowBaseURL != "" {
		flowClient, err := aiflow.NewHTTPClient(aiflow.HTTPClientConfig{
			BaseURL: appConfig.AIFlowBaseURL,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		matcher, err = aiflow.NewMatcher(aiflow.MatcherConfig{
			Flows:       flowClient,
			ShuffleSeed: appConfig.MatchSeed,
			Logger:      logger,
		})
		if err != nil {
			return err
		}
		composer = reminders.NewComposer(reminders.ComposerConfig{
			Flows:      flowClient,
			Thresholds: thresholds,
			Logger:     logger,
		})
	} else {
		composer = reminders.NewComposer(reminders.ComposerConfig{
			Thresholds: thresholds,
			Logger:     logger,
		})
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:    sessions,
		Backend:     documentStore,
		CaseService: caseService,
		Matcher:     matcher,
		Composer:    composer,
		Thresholds:  thresholds,
		Clock:       time.Now,
		Origins:     appConfig.AllowedOrigins,
		Logger:      logger,
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
