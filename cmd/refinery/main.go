package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/msageha/refinery/internal/coordinator"
	"github.com/msageha/refinery/internal/daemon"
	"github.com/msageha/refinery/internal/demo"
	"github.com/msageha/refinery/internal/events"
	"github.com/msageha/refinery/internal/model"
	"github.com/msageha/refinery/internal/store"
	"github.com/msageha/refinery/internal/workflow"
	"github.com/msageha/refinery/templates"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		runInit(os.Args[2:])
	case "run":
		runDaemon(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "predict":
		runPredict(os.Args[2:])
	case "results":
		runResults(os.Args[2:])
	case "version":
		fmt.Printf("refinery %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runInit(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: refinery init <project_dir>")
		os.Exit(1)
	}

	dataDir := filepath.Join(args[0], ".refinery")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		os.Exit(1)
	}

	configPath := filepath.Join(dataDir, "config.yml")
	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintf(os.Stderr, "init: %s already exists\n", configPath)
		os.Exit(1)
	}

	if err := os.WriteFile(configPath, templates.DefaultConfig(), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		os.Exit(1)
	}

	absDir, _ := filepath.Abs(args[0])
	fmt.Printf("Initialized .refinery/ in %s\n", absDir)
}

func runDaemon(args []string) {
	for _, a := range args {
		fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: refinery run\n", a)
		os.Exit(1)
	}

	dataDir := findDataDir()
	if dataDir == "" {
		fmt.Fprintln(os.Stderr, "error: .refinery/ directory not found. Run 'refinery init <dir>' first.")
		os.Exit(1)
	}

	cfg, err := loadConfig(dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	coord, err := buildCoordinator(dataDir, cfg, log.New(os.Stderr, "", 0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "create coordinator: %v\n", err)
		os.Exit(1)
	}

	d, err := daemon.New(dataDir, cfg, coord)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create daemon: %v\n", err)
		os.Exit(1)
	}

	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "daemon: %v\n", err)
		os.Exit(1)
	}
}

func runStatus(args []string) {
	jsonOutput := false
	for _, a := range args {
		switch a {
		case "--json":
			jsonOutput = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: refinery status [--json]\n", a)
			os.Exit(1)
		}
	}

	dataDir := findDataDir()
	if dataDir == "" {
		fmt.Fprintln(os.Stderr, "error: .refinery/ directory not found. Run 'refinery init <dir>' first.")
		os.Exit(1)
	}

	counters, err := store.NewStatsFile(filepath.Join(dataDir, daemon.StatsFileName)).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		os.Exit(1)
	}

	rs, err := store.OpenResultStore(filepath.Join(dataDir, daemon.ResultsFileName), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		os.Exit(1)
	}

	rate := 0.0
	if counters.TotalSubmissions > 0 {
		rate = float64(counters.TotalAcceptances) / float64(counters.TotalSubmissions)
	}

	if jsonOutput {
		out, err := json.MarshalIndent(map[string]any{
			"total_submissions":         counters.TotalSubmissions,
			"total_acceptances":         counters.TotalAcceptances,
			"total_rejections":          counters.TotalRejections,
			"cleanup_reviews_performed": counters.CleanupReviewsPerformed,
			"removals_proposed":         counters.RemovalsProposed,
			"removals_executed":         counters.RemovalsExecuted,
			"acceptance_rate":           rate,
			"store_count":               rs.Count(),
		}, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "status: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(out))
		return
	}

	fmt.Printf("Submissions:       %d\n", counters.TotalSubmissions)
	fmt.Printf("Acceptances:       %d\n", counters.TotalAcceptances)
	fmt.Printf("Rejections:        %d\n", counters.TotalRejections)
	fmt.Printf("Acceptance rate:   %.1f%%\n", rate*100)
	fmt.Printf("Cleanup reviews:   %d\n", counters.CleanupReviewsPerformed)
	fmt.Printf("Removals proposed: %d\n", counters.RemovalsProposed)
	fmt.Printf("Removals executed: %d\n", counters.RemovalsExecuted)
	fmt.Printf("Stored results:    %d\n", rs.Count())
}

func runPredict(args []string) {
	for _, a := range args {
		fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: refinery predict\n", a)
		os.Exit(1)
	}

	dataDir := findDataDir()
	if dataDir == "" {
		fmt.Fprintln(os.Stderr, "error: .refinery/ directory not found. Run 'refinery init <dir>' first.")
		os.Exit(1)
	}

	cfg, err := loadConfig(dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	refs := make(map[string]bool)
	for _, sc := range cfg.Submitters {
		refs[sc.ModelID] = true
	}
	refs[cfg.Validator.ModelID] = true
	mode := model.ModeParallel
	if len(refs) == 1 {
		mode = model.ModeSequential
	}

	tasks := workflow.PredictSubmitterWorkflow(len(cfg.Submitters), mode, nil, 0)
	fmt.Printf("Mode: %s\n\n", mode)
	for i, t := range tasks {
		fmt.Printf("%2d. %-14s %s\n", i+1, t.TaskID, t.Role)
	}
}

func runResults(args []string) {
	for _, a := range args {
		fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: refinery results\n", a)
		os.Exit(1)
	}

	dataDir := findDataDir()
	if dataDir == "" {
		fmt.Fprintln(os.Stderr, "error: .refinery/ directory not found. Run 'refinery init <dir>' first.")
		os.Exit(1)
	}

	rs, err := store.OpenResultStore(filepath.Join(dataDir, daemon.ResultsFileName), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "results: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(rs.FormattedContent())
}

// buildCoordinator wires the file-backed stores and the scripted demo
// collaborators. Real model backends plug in by replacing the demo
// submitters and validator with implementations of the coordinator
// interfaces.
func buildCoordinator(dataDir string, cfg model.Config, logger *log.Logger) (*coordinator.Coordinator, error) {
	rs, err := store.OpenResultStore(filepath.Join(dataDir, daemon.ResultsFileName), logger)
	if err != nil {
		return nil, fmt.Errorf("open result store: %w", err)
	}

	eventLog, err := store.OpenEventLog(filepath.Join(dataDir, daemon.EventLogName))
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	bus := events.NewBus(events.DefaultBufferSize)
	boost := workflow.NewBoostRouter(bus)

	submitters := make([]coordinator.Submitter, len(cfg.Submitters))
	for i, sc := range cfg.Submitters {
		submitters[i] = demo.NewSubmitter(sc.SubmitterID, time.Second)
	}

	return coordinator.New(cfg, coordinator.Deps{
		Submitters: submitters,
		Validator:  demo.NewValidator(2),
		Store:      rs,
		Index:      demo.NewIndex(),
		Bus:        bus,
		EventLog:   eventLog,
		StatsFile:  store.NewStatsFile(filepath.Join(dataDir, daemon.StatsFileName)),
		Boost:      boost,
		Logger:     logger,
	})
}

// findDataDir searches for .refinery/ in the current directory and ancestors.
func findDataDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".refinery")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func loadConfig(dataDir string) (model.Config, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, "config.yml"))
	if err != nil {
		return model.Config{}, fmt.Errorf("read config.yml: %w", err)
	}
	var cfg model.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return model.Config{}, fmt.Errorf("parse config.yml: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `refinery %s - submission refinement orchestrator

Usage: refinery <command> [options]

Commands:
  init <dir>        Initialize .refinery/ directory with a default config
  run               Run the orchestration daemon
  status [--json]   Show session counters and store size
  predict           Show the predicted upcoming task sequence
  results           Print the accepted-results store
  version           Show version
  help              Show this help

`, version)
}
