// ABOUTME: Entry point for the noa moderator
// ABOUTME: Attaches to the shared space and routes every turn of the conversation

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/2389/noa/internal/channel"
	"github.com/2389/noa/internal/config"
	"github.com/2389/noa/internal/decision"
	"github.com/2389/noa/internal/envelope"
	"github.com/2389/noa/internal/ledger"
	"github.com/2389/noa/internal/llm"
	"github.com/2389/noa/internal/logging"
	"github.com/2389/noa/internal/moderator"
	"github.com/2389/noa/internal/roster"
)

var version = "dev"

const banner = `
  _ __   ___   __ _
 | '_ \ / _ \ / _' |   moderator
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

	if err := cfg.LLM.Validate(); err != nil {
		return err
	}
	if cfg.Moderator.RosterDir == "" {
		return fmt.Errorf("moderator.roster_dir is required")
	}

	color.New(color.FgCyan).Print(banner)
	color.New(color.FgHiBlack).Printf("    version: %s\n\n", version)
	color.New(color.FgGreen).Print("    ▶ ")
	fmt.Printf("Broker:  %s\n", cfg.Broker.Addr)
	color.New(color.FgGreen).Print("    ▶ ")
	fmt.Printf("Space:   %s\n", cfg.Space)
	color.New(color.FgGreen).Print("    ▶ ")
	fmt.Printf("Roster:  %s\n", cfg.Moderator.RosterDir)
	color.New(color.FgGreen).Print("    ▶ ")
	fmt.Printf("Model:   %s/%s\n\n", cfg.LLM.Type, cfg.LLM.Model)

	model, err := llm.NewHTTPClient(cfg.LLM)
	if err != nil {
		return fmt.Errorf("creating model client: %w", err)
	}

	var recorder moderator.Recorder
	if cfg.Moderator.LedgerPath != "" {
		l, err := ledger.Open(cfg.Moderator.LedgerPath)
		if err != nil {
			return fmt.Errorf("opening ledger: %w", err)
		}
		defer l.Close()
		recorder = l
	}

	session, err := channel.Dial(ctx, cfg.Broker.Addr, envelope.DefaultModeratorID, cfg.Space,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("attaching to broker: %w", err)
	}
	defer session.Close()

	mod := moderator.New(moderator.Config{
		Channel:         session,
		Roster:          roster.NewDirSource(cfg.Moderator.RosterDir, logger),
		Decider:         decision.NewLLMDecider(model, logger),
		Recorder:        recorder,
		ValidateTargets: !cfg.Moderator.SkipTargetCheck,
		Logger:          logger,
	})

	logger.Info("moderator attached", "broker", cfg.Broker.Addr, "space", cfg.Space)
	return mod.Run(ctx)
}

func configPath() string {
	if p := os.Getenv("NOA_CONFIG"); p != "" {
		return p
	}
	return "noa.yaml"
}
