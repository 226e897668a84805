package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/vitos/funding_board/internal/usecase"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Logging struct {
		FeedFile string `yaml:"feed_file"`
	} `yaml:"logging"`
}

func main() {
	logDir := "logs"
	if f, err := os.Open("config/config.yaml"); err == nil {
		var cfg Config
		if err := yaml.NewDecoder(f).Decode(&cfg); err == nil && cfg.Logging.FeedFile != "" {
			logDir = filepath.Dir(cfg.Logging.FeedFile)
		}
		f.Close()
	}

	analyzer := usecase.NewLogAnalyzerService(zap.NewNop())

	var summary *usecase.FeedLogSummary
	var err error
	if len(os.Args) > 1 {
		summary, err = analyzer.AnalyzeFile(os.Args[1])
	} else {
		summary, err = analyzer.AnalyzeLatestLogs(logDir)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Analyzing file: %s\n", summary.File)
	fmt.Printf("Lines: %d (unparsed %d), span %s\n", summary.Lines, summary.BadLines, summary.Span())
	if !summary.First.IsZero() {
		fmt.Printf("From %s to %s\n", summary.First.Format("2006-01-02 15:04:05"), summary.Last.Format("2006-01-02 15:04:05"))
	}

	fmt.Println("\n--- Connection ---")
	fmt.Printf("Sessions:   %d\n", summary.Sessions)
	fmt.Printf("Reconnects: %d\n", summary.Reconnects)
	if summary.AuthStops > 0 {
		fmt.Printf("⚠️ Credential rejected %d time(s)\n", summary.AuthStops)
	}
	if summary.GaveUp > 0 {
		fmt.Printf("❌ Gave up reconnecting %d time(s)\n", summary.GaveUp)
	}
	for _, kind := range summary.TopErrorKinds() {
		fmt.Printf("  %-16s %d\n", kind, summary.ErrorsByKind[kind])
	}

	fmt.Println("\n--- Data ---")
	fmt.Printf("Snapshots applied:    %d (last had %d tokens)\n", summary.Snapshots, summary.LastSnapshotTokens)
	fmt.Printf("Duplicates dropped:   %d\n", summary.DuplicateSnapshots)
	fmt.Printf("Empty snapshots kept: %d\n", summary.EmptySnapshots)
	fmt.Printf("Malformed frames:     %d\n", summary.MalformedFrames)
	fmt.Printf("Malformed quotes:     %d\n", summary.MalformedQuotes)

	sources := make([]string, 0, len(summary.SkippedRecords))
	for src := range summary.SkippedRecords {
		sources = append(sources, src)
	}
	sort.Strings(sources)
	for _, src := range sources {
		fmt.Printf("Skipped %s records: %d\n", src, summary.SkippedRecords[src])
	}
	fmt.Printf("\nWarnings and errors: %d\n", summary.WarningsAndAbove)
}
