// ABOUTME: Entry point for the noa shared-space broker
// ABOUTME: Serves the gRPC channel every participant attaches to

package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/noa/internal/channel"
	"github.com/2389/noa/internal/config"
	"github.com/2389/noa/internal/logging"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _ __   ___   __ _
 | '_ \ / _ \ / _' |   broker
 | | | | (_) | (_| |
 |_| |_|\___/ \__,_|
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	godotenv.Load()

	cfg, err := config.LoadOrDefault(configPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := logging.Setup(cfg.Logging)

	color.New(color.FgCyan).Print(banner)
	color.New(color.FgHiBlack).Printf("    version: %s\n\n", version)
	color.New(color.FgGreen).Print("    ▶ ")
	fmt.Printf("Listen: %s\n", cfg.Broker.Addr)
	color.New(color.FgGreen).Print("    ▶ ")
	fmt.Printf("Space:  %s\n\n", cfg.Space)

	lis, err := net.Listen("tcp", cfg.Broker.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Broker.Addr, err)
	}

	srv := channel.NewServer(logger)
	go func() {
		<-ctx.Done()
		srv.Shutdown()
	}()

	logger.Info("broker listening", "addr", cfg.Broker.Addr)
	return srv.Serve(lis)
}

// configPath returns the config file path: NOA_CONFIG if set, otherwise
// ./noa.yaml.
func configPath() string {
	if p := os.Getenv("NOA_CONFIG"); p != "" {
		return p
	}
	return "noa.yaml"
}
