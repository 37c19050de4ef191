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

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eddiemessiah/pulse-remit-channel/internal/api"
	"github.com/eddiemessiah/pulse-remit-channel/internal/client"
	"github.com/eddiemessiah/pulse-remit-channel/internal/config"
	"github.com/eddiemessiah/pulse-remit-channel/internal/history"
	"github.com/eddiemessiah/pulse-remit-channel/internal/wallet"
)

func newServeCommand() *cobra.Command {
	var devLogging bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to the relay and serve the local gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(devLogging)
		},
	}

	cmd.Flags().BoolVar(&devLogging, "dev", false, "human-readable development logging")
	return cmd
}

func runServe(devLogging bool) error {
	logger, err := newLogger(devLogging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	w, err := wallet.FromFile(cfg.Wallet.KeyFile)
	if err != nil {
		return fmt.Errorf("load wallet (run 'pulse-channeld wallet new' first): %w", err)
	}
	logger.Info("wallet loaded", zap.String("address", w.Address()))

	hist, err := history.Open(cfg.History.Path, logger.Named("history"))
	if err != nil {
		return err
	}
	defer hist.Close()

	ch := client.New(cfg, w.Address(), w.Signer(), hist, logger.Named("client"))
	defer ch.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ch.Init(ctx); err != nil {
		return fmt.Errorf("connect to relay: %w", err)
	}

	tokens := api.NewTokenService(cfg.API.JWTSecret, cfg.API.JWTIssuer, cfg.API.TokenTTL)
	handler := api.NewHandler(ch, hist, tokens, cfg.API.JWTSecret, logger.Named("api"))
	router := api.NewRouter(handler)

	srv := &http.Server{
		Addr:    cfg.API.ListenAddr,
		Handler: router,
	}

	go func() {
		logger.Info("gateway listening", zap.String("addr", cfg.API.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("gateway stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("gateway shutdown incomplete", zap.Error(err))
	}
	return nil
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
