// Command clinsum summarizes one document from the command line: extract,
// run the retry cycle, print the verdict, and write the rendered summary.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"gopkg.in/yaml.v3"

	"clinsum"
	"clinsum/extract"
	"clinsum/metrics"
	"clinsum/render"
	"clinsum/store"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML)")
	outPath := flag.String("out", "", "Output Markdown path (default: <input>.summary.md)")
	dbPath := flag.String("db", "", "Optional SQLite path for run logging")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <document>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}
	input := flag.Arg(0)

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(input, *configPath, *outPath, *dbPath); err != nil {
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func run(input, configPath, outPath, dbPath string) error {
	cfg := clinsum.DefaultConfig()
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parsing config: %w", err)
		}
	}
	if v := os.Getenv("CLINSUM_BACKEND_BASE_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("CLINSUM_BACKEND_API_KEY"); v != "" {
		cfg.Backend.APIKey = v
	}
	if cfg.Backend.APIKey == "" {
		cfg.Backend.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if v := os.Getenv("CLINSUM_BACKEND_MODEL"); v != "" {
		cfg.Backend.Model = v
	}

	engine, err := clinsum.NewFromConfig(cfg, clinsum.WithMetrics(metrics.Log{}))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	doc, err := extract.NewRegistry().ExtractFile(ctx, input)
	if err != nil {
		return err
	}
	slog.Info("extracted", "file", input, "chars", doc.Len(), "pages", doc.PageCount)

	res, err := engine.Summarize(ctx, doc)
	if err != nil {
		return err
	}

	fmt.Printf("state:            %s\n", res.State)
	fmt.Printf("attempts:         %d (best: %d)\n", len(res.Attempts), res.BestAttempt)
	fmt.Printf("length score:     %.2f\n", res.Verdict.LengthScore)
	fmt.Printf("alignment score:  %.2f\n", res.Verdict.AlignmentScore)
	fmt.Printf("composite:        %.2f\n", res.Verdict.Composite)
	if res.NeedsReview {
		fmt.Println("NEEDS REVIEW: retries exhausted, best candidate delivered")
	}

	if outPath == "" {
		base := strings.TrimSuffix(input, filepath.Ext(input))
		outPath = base + ".summary.md"
	}
	md := render.Markdown(res.Summary)
	if err := os.WriteFile(outPath, []byte(md), 0644); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}
	fmt.Printf("summary written:  %s\n", outPath)

	if dbPath != "" {
		if err := logRun(ctx, dbPath, input, doc, res, md); err != nil {
			return fmt.Errorf("logging run: %w", err)
		}
	}
	return nil
}

func logRun(ctx context.Context, dbPath, input string, doc clinsum.SourceDocument, res *clinsum.Result, md string) error {
	db, err := store.New(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	summaryJSON, err := json.Marshal(res.Summary)
	if err != nil {
		return err
	}

	run := store.Run{
		Filename:       filepath.Base(input),
		Format:         strings.TrimPrefix(strings.ToLower(filepath.Ext(input)), "."),
		Pages:          doc.PageCount,
		SourceChars:    doc.Len(),
		State:          string(res.State),
		Passed:         res.Verdict.Passed,
		NeedsReview:    res.NeedsReview,
		BestAttempt:    res.BestAttempt,
		Composite:      res.Verdict.Composite,
		LengthScore:    res.Verdict.LengthScore,
		AlignmentScore: res.Verdict.AlignmentScore,
		RetryCount:     res.Verdict.RetryCount,
		SummaryJSON:    string(summaryJSON),
		Markdown:       md,
	}

	attempts := make([]store.Attempt, 0, len(res.Attempts))
	for _, a := range res.Attempts {
		attempts = append(attempts, store.Attempt{
			Number:         a.Number,
			TargetSize:     a.Params.Target,
			MaxSize:        a.Params.Max,
			OverlapSize:    a.Params.Overlap,
			Chunks:         a.Chunks,
			Degraded:       a.Degraded,
			Composite:      a.Verdict.Composite,
			LengthScore:    a.Verdict.LengthScore,
			AlignmentScore: a.Verdict.AlignmentScore,
			Passed:         a.Verdict.Passed,
			ElapsedMS:      a.Elapsed.Milliseconds(),
		})
	}

	id, err := db.LogRun(ctx, run, attempts)
	if err != nil {
		return err
	}
	slog.Info("run logged", "db", dbPath, "run_id", id)
	return nil
}
