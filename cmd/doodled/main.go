// Command doodled serves the doodle critique backend: AI critiques, result
// emails and the shared gallery.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Moonto97/DoodleAnalyzer/internal/app"
	"github.com/Moonto97/DoodleAnalyzer/internal/config"
	"github.com/Moonto97/DoodleAnalyzer/internal/critique"
	"github.com/Moonto97/DoodleAnalyzer/internal/email"
	"github.com/Moonto97/DoodleAnalyzer/internal/gallery"
	"github.com/Moonto97/DoodleAnalyzer/internal/ratelimit"
	"github.com/Moonto97/DoodleAnalyzer/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
	appName = "doodled"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	envFile  string
	logLevel string
}

func rootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Doodle critique backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Dotenv file loaded before reading the environment")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reconcile",
		Short: "Drop dangling gallery entries and trim the gallery to capacity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return reconcile(cmd.Context(), opts)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
		},
	})

	return cmd
}

func loadConfig(opts *options) (config.Config, *logrus.Logger, error) {
	if err := config.LoadDotEnv(opts.envFile); err != nil {
		return config.Config{}, nil, fmt.Errorf("load env file: %w", err)
	}
	cfg := config.Load()
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	log, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}

func newLogger(level, format string) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if format == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	if level == "" {
		level = "info"
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.SetLevel(parsed)
	return log, nil
}

func openStore(cfg config.Config) (*store.RedisStore, error) {
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL (or KV_URL) is required for the gallery store")
	}
	st, err := store.NewRedisStore(cfg.RedisURL, cfg.StoreTimeout)
	if err != nil {
		return nil, fmt.Errorf("gallery store connection failed: %w", err)
	}
	return st, nil
}

func serve(ctx context.Context, opts *options) error {
	cfg, log, err := loadConfig(opts)
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if !cfg.OpenAIConfigured() {
		log.Warn("OPENAI_API_KEY is not set; /analyze will fail until it is")
	}
	if !cfg.SMTPConfigured() {
		log.Warn("SMTP settings are incomplete; /email will fail until they are set")
	}

	service := app.NewService(cfg, app.Deps{
		Gallery: gallery.NewRepository(st, cfg.GalleryMax, log),
		Store:   st,
		Limiter: ratelimit.New(cfg.EmailMaxPerHour, time.Hour),
		Critic: critique.NewClient(critique.Config{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
			Timeout: cfg.OpenAITimeout,
		}, log),
		Mailer: email.NewService(email.Config{
			Host:     cfg.SMTPServer,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPEmail,
			Password: cfg.SMTPPassword,
			FromName: cfg.SMTPFromName,
			Timeout:  cfg.SMTPTimeout,
		}, log),
	}, log)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, cfg.MaxBodyBytes, log)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.OpenAITimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Addr).Info("doodle API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown error")
	}
	return nil
}

func reconcile(ctx context.Context, opts *options) error {
	cfg, log, err := loadConfig(opts)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	n, err := gallery.NewRepository(st, cfg.GalleryMax, log).Reconcile(ctx)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"population": n, "capacity": cfg.GalleryMax}).Info("gallery reconciled")
	return nil
}
