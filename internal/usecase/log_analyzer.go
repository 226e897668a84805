package usecase

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Log messages the feed components write and the analyzer counts.
const (
	logMsgConnected          = "Feed connected"
	logMsgAuthRejected       = "Feed rejected credential, not retrying"
	logMsgGaveUp             = "Feed reconnect budget exhausted"
	logMsgReconnectScheduled = "Feed connection failed, scheduling reconnect"
	logMsgMalformedFrame     = "Skipping malformed feed frame"
	logMsgConnectionError    = "Connection error"
	logMsgSnapshotApplied    = "Snapshot applied"
	logMsgDuplicateSnapshot  = "Duplicate snapshot suppressed"
	logMsgEmptySnapshot      = "Snapshot contained no valid records, keeping previous data"
	logMsgMalformedRecord    = "Skipping malformed record"
	logMsgMalformedQuote     = "Skipping malformed quote"
)

// logLine is the subset of a zap JSON line the analyzer reads.
type logLine struct {
	Level   string          `json:"level"`
	TS      json.RawMessage `json:"ts"`
	Message string          `json:"msg"`
	Kind    string          `json:"kind"`
	Source  string          `json:"source"`
	Tokens  int             `json:"tokens"`
}

// zap writes epoch seconds by default and ISO8601 in the file logger.
var logTimeLayouts = []string{
	"2006-01-02T15:04:05.000Z0700",
	time.RFC3339Nano,
}

func (l logLine) timestamp() time.Time {
	if len(l.TS) == 0 {
		return time.Time{}
	}
	var secs float64
	if err := json.Unmarshal(l.TS, &secs); err == nil {
		whole := int64(secs)
		return time.Unix(whole, int64((secs-float64(whole))*1e9)).UTC()
	}
	var str string
	if err := json.Unmarshal(l.TS, &str); err != nil {
		return time.Time{}
	}
	for _, layout := range logTimeLayouts {
		if t, err := time.Parse(layout, str); err == nil {
			return t
		}
	}
	return time.Time{}
}

// FeedLogSummary is a health report over one feed log file.
type FeedLogSummary struct {
	File       string
	Lines      int
	BadLines   int
	First      time.Time
	Last       time.Time
	Sessions   int
	Reconnects int
	AuthStops  int
	GaveUp     int

	Snapshots          int
	DuplicateSnapshots int
	EmptySnapshots     int
	LastSnapshotTokens int
	SkippedRecords     map[string]int // by source: snapshot or delta
	MalformedQuotes    int
	MalformedFrames    int
	ErrorsByKind       map[string]int
	WarningsAndAbove   int
}

// Span is the time covered by the file.
func (s *FeedLogSummary) Span() time.Duration {
	if s.First.IsZero() || s.Last.IsZero() {
		return 0
	}
	return s.Last.Sub(s.First)
}

// TopErrorKinds returns error kinds ordered by count, then name.
func (s *FeedLogSummary) TopErrorKinds() []string {
	kinds := make([]string, 0, len(s.ErrorsByKind))
	for k := range s.ErrorsByKind {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool {
		if s.ErrorsByKind[kinds[i]] != s.ErrorsByKind[kinds[j]] {
			return s.ErrorsByKind[kinds[i]] > s.ErrorsByKind[kinds[j]]
		}
		return kinds[i] < kinds[j]
	})
	return kinds
}

type LogAnalyzerService struct {
	logger *zap.Logger
}

func NewLogAnalyzerService(logger *zap.Logger) *LogAnalyzerService {
	return &LogAnalyzerService{
		logger: logger,
	}
}

// AnalyzeLatestLogs summarizes the newest uncompressed .log file in dir.
func (s *LogAnalyzerService) AnalyzeLatestLogs(dir string) (*FeedLogSummary, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("error reading log dir: %w", err)
	}

	var latestFile string
	var latestMod time.Time
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".log" {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		if latestFile == "" || info.ModTime().After(latestMod) {
			latestFile = filepath.Join(dir, f.Name())
			latestMod = info.ModTime()
		}
	}

	if latestFile == "" {
		return nil, fmt.Errorf("no log files found in %s", dir)
	}
	return s.AnalyzeFile(latestFile)
}

func (s *LogAnalyzerService) AnalyzeFile(path string) (*FeedLogSummary, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening file: %w", err)
	}
	defer file.Close()

	summary, err := s.Analyze(file)
	if err != nil {
		return nil, err
	}
	summary.File = path
	return summary, nil
}

// Analyze reads zap JSON lines from r. Lines that are not JSON are
// counted and skipped.
func (s *LogAnalyzerService) Analyze(r io.Reader) (*FeedLogSummary, error) {
	summary := &FeedLogSummary{
		SkippedRecords: make(map[string]int),
		ErrorsByKind:   make(map[string]int),
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		summary.Lines++

		var line logLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			summary.BadLines++
			s.logger.Debug("Decode error", zap.Int("line", summary.Lines), zap.Error(err))
			continue
		}
		s.accumulate(summary, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading log: %w", err)
	}
	return summary, nil
}

func (s *LogAnalyzerService) accumulate(summary *FeedLogSummary, line logLine) {
	if ts := line.timestamp(); !ts.IsZero() {
		if summary.First.IsZero() || ts.Before(summary.First) {
			summary.First = ts
		}
		if ts.After(summary.Last) {
			summary.Last = ts
		}
	}
	switch line.Level {
	case "warn", "error", "dpanic", "panic", "fatal":
		summary.WarningsAndAbove++
	}

	switch line.Message {
	case logMsgConnected:
		summary.Sessions++
	case logMsgReconnectScheduled:
		summary.Reconnects++
	case logMsgAuthRejected:
		summary.AuthStops++
	case logMsgGaveUp:
		summary.GaveUp++
	case logMsgMalformedFrame:
		summary.MalformedFrames++
	case logMsgConnectionError:
		kind := line.Kind
		if kind == "" {
			kind = "unknown"
		}
		summary.ErrorsByKind[kind]++
	case logMsgSnapshotApplied:
		summary.Snapshots++
		summary.LastSnapshotTokens = line.Tokens
	case logMsgDuplicateSnapshot:
		summary.DuplicateSnapshots++
	case logMsgEmptySnapshot:
		summary.EmptySnapshots++
	case logMsgMalformedRecord:
		source := line.Source
		if source == "" {
			source = "unknown"
		}
		summary.SkippedRecords[source]++
	case logMsgMalformedQuote:
		summary.MalformedQuotes++
	}
}
