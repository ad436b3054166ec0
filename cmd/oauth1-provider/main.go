package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/oauth1x/provider/internal/config"
	"github.com/oauth1x/provider/internal/consumer"
	"github.com/oauth1x/provider/internal/logging"
	"github.com/oauth1x/provider/internal/provider"
	"github.com/oauth1x/provider/internal/secrets"
	"github.com/oauth1x/provider/internal/server"
	"github.com/oauth1x/provider/internal/signature"
	"github.com/oauth1x/provider/internal/token"
)

var Version = "dev"

func main() {
	// Handle hash-password subcommand before config loading.
	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		hashPassword()
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func hashPassword() {
	fmt.Fprint(os.Stderr, "Enter password: ")
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		fmt.Fprintln(os.Stderr, "no input")
		os.Exit(1)
	}
	password := scanner.Text()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(hash))
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Info("oauth1-provider starting",
		slog.String("version", Version),
		slog.String("data_dir", cfg.DataDir),
	)

	creds, err := cfg.ParseAuthUsers()
	if err != nil {
		return fmt.Errorf("parsing auth users: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	consumers, err := consumer.NewPersistentStore(cfg.ConsumerStorePath(), logger)
	if err != nil {
		return fmt.Errorf("opening consumer store: %w", err)
	}
	defer consumers.Close()

	cipher, err := secrets.NewAESCipher(cfg.MasterKey)
	if err != nil {
		return fmt.Errorf("deriving store cipher: %w", err)
	}

	tokens, err := token.NewPersistentStore(cfg.TokenStorePath(), consumers, cipher, logger)
	if err != nil {
		return fmt.Errorf("opening token store: %w", err)
	}
	defer tokens.Close()

	factory := token.NewFactory(cfg.RequestTokenTTL, cfg.AccessTokenTTL, cfg.SessionTTL)
	prov := provider.New(consumers, tokens, factory, signature.NewValidator(), logger)

	mux := server.NewMux(server.MuxConfig{
		Provider: prov,
		Users:    creds,
		Realm:    cfg.Realm,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting server",
			slog.String("listen", cfg.ListenAddr),
			slog.Int("users", len(creds)),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return sweepLoop(gctx, tokens, cfg.SweepInterval, logger)
	})

	return g.Wait()
}

// sweepLoop periodically removes expired tokens and expired sessions
// from the token store until the context is cancelled.
func sweepLoop(ctx context.Context, tokens token.Store, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := tokens.RemoveExpiredTokens(); err != nil {
				logger.Error("removing expired tokens", slog.Any("error", err))
			}
			if err := tokens.RemoveExpiredSessions(); err != nil {
				logger.Error("removing expired sessions", slog.Any("error", err))
			}
			logger.Debug("token store sweep complete")
		}
	}
}
