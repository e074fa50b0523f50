package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"docrag/internal/app"
	"docrag/internal/config"
	"docrag/internal/logging"
	"docrag/internal/tui"
)

func main() {
	_ = godotenv.Load()

	var (
		cfgPath    string
		buildModel string
		reset      bool
		question   string
	)
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ./config.yaml or ~/.config/docrag/config.yaml if not provided)")
	flag.StringVar(&buildModel, "build-model", "", "Train hashing embedder weights on the given files, write them to this path and exit")
	flag.BoolVar(&reset, "reset", false, "Clear the collection before processing files")
	flag.StringVar(&question, "q", "", "Answer a single question and exit instead of starting the TUI")
	flag.Parse()
	inputs := flag.Args()

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, cfgPath, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := logging.New(cfg.Logging)
	logger.Debug("loaded config", "path", cfgPath)

	if buildModel != "" {
		if len(inputs) == 0 {
			fmt.Println("Usage: docrag -build-model=model.yaml file1.txt [dir ...]")
			os.Exit(1)
		}
		n, err := app.BuildModel(cfg, inputs, buildModel, logger)
		if err != nil {
			log.Fatalf("build model failed: %v", err)
		}
		fmt.Printf("Trained on %d chunks. Set embedder.hashing.model_path to %s to use it.\n", n, buildModel)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	defer a.Close()
	svc := a.Service

	if reset {
		if err := svc.Reset(ctx); err != nil {
			log.Fatalf("reset failed: %v", err)
		}
		fmt.Println("Knowledge base cleared.")
	}

	var summary string
	if len(inputs) > 0 {
		report, err := svc.ProcessDocuments(ctx, inputs)
		for _, f := range report.Failed {
			fmt.Fprintf(os.Stderr, "skipped %s: %v\n", f.Path, f.Err)
		}
		if err != nil {
			log.Fatalf("processing failed: %v", err)
		}
		summary = fmt.Sprintf("%d files, %d chunks. %s", report.Files, report.Chunks, report.Summary)
	}

	status, err := svc.Status(ctx)
	if err != nil {
		log.Fatalf("status failed: %v", err)
	}
	if status.Entries == 0 {
		if reset && len(inputs) == 0 {
			return
		}
		fmt.Println("Usage: docrag [-config=config.yaml] [-reset] [-q question] file1.pdf [dir ...]")
		fmt.Println("No documents indexed yet.")
		os.Exit(1)
	}
	if summary == "" {
		summary = fmt.Sprintf("Collection %s: %d chunks", status.Collection, status.Entries)
	}
	if status.Degraded {
		summary += " (placeholder embeddings, results are not meaningful)"
	}

	if question != "" {
		answer, err := svc.Query(ctx, question)
		if err != nil {
			log.Fatalf("query failed: %v", err)
		}
		fmt.Println(answer.Text)
		for _, p := range answer.Previews(tui.SourcePreviewLength) {
			fmt.Printf("\nFrom: %s\n%s\n", p.Source, p.Preview)
		}
		if !answer.Success {
			os.Exit(1)
		}
		return
	}

	m := tui.New(ctx, svc, summary)
	if _, err := tea.NewProgram(m, tea.WithContext(ctx)).Run(); err != nil {
		log.Fatal(err)
	}
}
