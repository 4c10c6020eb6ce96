// ABOUTME: Entry point for a noa specialist assistant
// ABOUTME: Registers a descriptor, attaches to the shared space, and answers granted turns

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/2389/noa/internal/assistant"
	"github.com/2389/noa/internal/assistant/filerag"
	"github.com/2389/noa/internal/assistant/math"
	"github.com/2389/noa/internal/assistant/weather"
	"github.com/2389/noa/internal/assistant/websurfer"
	"github.com/2389/noa/internal/channel"
	"github.com/2389/noa/internal/config"
	"github.com/2389/noa/internal/envelope"
	"github.com/2389/noa/internal/llm"
	"github.com/2389/noa/internal/logging"
	"github.com/2389/noa/internal/roster"
)

var version = "dev"

const banner = `
  _ __   ___   __ _
 | '_ \ / _ \ / _' |   assistant
 | | | | (_) | (_| |
 |_| |_|\___/ \__,_|
`

// taskDefaults names each built-in task for the roster.
var taskDefaults = map[string]struct {
	name        string
	description string
}{
	"math":       {"Math Assistant", "Evaluates arithmetic and logical expressions"},
	"web-surfer": {"Web Surfer", "Fetches web pages and answers questions about them"},
	"files":      {"File Assistant", "Searches the user's local documents"},
	"weather":    {"Weather Assistant", "Reports current weather for a place"},
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	taskFlag := flag.String("task", "", "task to run: math, web-surfer, files, weather")
	flag.Parse()

	defaults, ok := taskDefaults[*taskFlag]
	if !ok {
		return fmt.Errorf("unknown task %q (must be one of math, web-surfer, files, weather)", *taskFlag)
	}

	godotenv.Load()

	cfg, err := config.LoadOrDefault(configPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := logging.Setup(cfg.Logging)

	name := cfg.Assistant.Name
	if name == "" {
		name = defaults.name
	}
	description := cfg.Assistant.Description
	if description == "" {
		description = defaults.description
	}
	rosterDir := cfg.Assistant.RosterDir
	if rosterDir == "" {
		rosterDir = cfg.Moderator.RosterDir
	}
	if rosterDir == "" {
		return fmt.Errorf("assistant.roster_dir is required")
	}

	model, err := buildModel(cfg, logger)
	if err != nil {
		return err
	}

	task, closeTask, err := buildTask(*taskFlag, cfg, model, logger)
	if err != nil {
		return err
	}
	if closeTask != nil {
		defer closeTask()
	}

	id, descriptorPath, err := roster.WriteDescriptor(rosterDir, name, description)
	if err != nil {
		return fmt.Errorf("registering assistant: %w", err)
	}

	color.New(color.FgCyan).Print(banner)
	color.New(color.FgHiBlack).Printf("    version: %s\n\n", version)
	color.New(color.FgGreen).Print("    ▶ ")
	fmt.Printf("Task:   %s\n", *taskFlag)
	color.New(color.FgGreen).Print("    ▶ ")
	fmt.Printf("Id:     %s\n", id)
	color.New(color.FgGreen).Print("    ▶ ")
	fmt.Printf("Broker: %s\n\n", cfg.Broker.Addr)

	session, err := channel.Dial(ctx, cfg.Broker.Addr, id, cfg.Space,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("attaching to broker: %w", err)
	}
	defer session.Close()

	runner := assistant.NewRunner(id, envelope.DefaultUserProxyID, session, task, logger)

	logger.Info("assistant attached",
		"id", id, "task", *taskFlag, "descriptor", descriptorPath, "broker", cfg.Broker.Addr)
	return runner.Run(ctx)
}

// buildModel creates the shared model client. Tasks that can run without a
// model tolerate a missing llm section.
func buildModel(cfg *config.Config, logger *slog.Logger) (llm.Client, error) {
	if cfg.LLM.Type == "" {
		logger.Warn("no llm configured, tasks fall back to their model-free paths")
		return nil, nil
	}
	if err := cfg.LLM.Validate(); err != nil {
		return nil, err
	}
	return llm.NewHTTPClient(cfg.LLM)
}

func buildTask(kind string, cfg *config.Config, model llm.Client, logger *slog.Logger) (assistant.Task, func() error, error) {
	switch kind {
	case "math":
		return math.New(model, logger), nil, nil
	case "web-surfer":
		return websurfer.New(model, logger), nil, nil
	case "weather":
		return weather.New(weather.Config{
			GeocodeURL:  cfg.Assistant.Weather.GeocodeURL,
			ForecastURL: cfg.Assistant.Weather.ForecastURL,
		}, model, logger), nil, nil
	case "files":
		docsDir := cfg.Assistant.Files.DocsDir
		if docsDir == "" {
			return nil, nil, fmt.Errorf("assistant.files.docs_dir is required for the files task")
		}
		indexPath := cfg.Assistant.Files.IndexPath
		if indexPath == "" {
			indexPath = ":memory:"
		}
		task, err := filerag.New(indexPath, docsDir, model, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("building file index: %w", err)
		}
		return task, task.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown task %q", kind)
	}
}

func configPath() string {
	if p := os.Getenv("NOA_CONFIG"); p != "" {
		return p
	}
	return "noa.yaml"
}
