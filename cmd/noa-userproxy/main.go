// ABOUTME: Entry point for the noa user proxy
// ABOUTME: Bridges a human to the shared space over a small HTTP API

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

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/2389/noa/internal/channel"
	"github.com/2389/noa/internal/config"
	"github.com/2389/noa/internal/envelope"
	"github.com/2389/noa/internal/logging"
	"github.com/2389/noa/internal/userproxy"
)

var version = "dev"

const banner = `
  _ __   ___   __ _
 | '_ \ / _ \ / _' |   user proxy
 | | | | (_) | (_| |
 |_| |_|\___/ \__,_|
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	if len(os.Args) > 1 && os.Args[1] == "token" {
		err = runToken()
	} else {
		err = runServe(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runToken mints a bearer token for the configured secret.
func runToken() error {
	godotenv.Load()

	cfg, err := config.LoadOrDefault(configPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.UserProxy.JWTSecret == "" {
		return fmt.Errorf("userproxy.jwt_secret is not configured")
	}

	subject := "operator"
	if len(os.Args) > 2 {
		subject = os.Args[2]
	}

	token, err := userproxy.GenerateToken(cfg.UserProxy.JWTSecret, subject, 30*24*time.Hour)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Println(token)
	return nil
}

func runServe(ctx context.Context) error {
	godotenv.Load()

	cfg, err := config.LoadOrDefault(configPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := logging.Setup(cfg.Logging)

	color.New(color.FgCyan).Print(banner)
	color.New(color.FgHiBlack).Printf("    version: %s\n\n", version)
	color.New(color.FgGreen).Print("    ▶ ")
	fmt.Printf("Broker: %s\n", cfg.Broker.Addr)
	color.New(color.FgGreen).Print("    ▶ ")
	fmt.Printf("HTTP:   %s\n", cfg.UserProxy.HTTPAddr)
	if cfg.UserProxy.JWTSecret != "" {
		color.New(color.FgGreen).Print("    ▶ ")
		fmt.Printf("Auth:   bearer token required\n")
	}
	fmt.Println()

	session, err := channel.Dial(ctx, cfg.Broker.Addr, envelope.DefaultUserProxyID, cfg.Space,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("attaching to broker: %w", err)
	}
	defer session.Close()

	proxy, err := userproxy.New(userproxy.Config{
		Channel: session,
		Echo:    cfg.UserProxy.Echo,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	api := userproxy.NewServer(proxy, cfg.UserProxy.JWTSecret, logger)
	api.AskTimeout = cfg.UserProxy.AskTimeout

	httpSrv := &http.Server{
		Addr:    cfg.UserProxy.HTTPAddr,
		Handler: api.Handler(),
	}

	errs := make(chan error, 2)
	go func() {
		errs <- proxy.Run(ctx)
	}()
	go func() {
		logger.Info("user proxy listening", "addr", cfg.UserProxy.HTTPAddr)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errs <- err
			return
		}
		errs <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-errs:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func configPath() string {
	if p := os.Getenv("NOA_CONFIG"); p != "" {
		return p
	}
	return "noa.yaml"
}
