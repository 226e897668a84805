package usecase

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/vitos/funding_board/internal/domain"
	"go.uber.org/zap"
)

const DefaultSnapshotDedupWindow = time.Second

// Reconciler folds bulk snapshots and deltas into the canonical token
// collection. Every call returns a fresh Snapshot; previously returned
// snapshots are never mutated.
//
// Deltas that arrive before the first snapshot are dropped: the snapshot
// that follows is authoritative, and replaying older deltas over it could
// roll fields back.
type Reconciler struct {
	logger      *zap.Logger
	dedupWindow time.Duration
	timeNow     func() time.Time

	mu             sync.Mutex
	snapshot       domain.Snapshot
	index          map[string]int // symbol -> position in snapshot.Tokens
	loaded         bool
	lastPayloadSum uint64
	lastPayloadAt  time.Time
}

func NewReconciler(logger *zap.Logger, dedupWindow time.Duration) *Reconciler {
	if dedupWindow <= 0 {
		dedupWindow = DefaultSnapshotDedupWindow
	}
	return &Reconciler{
		logger:      logger,
		dedupWindow: dedupWindow,
		timeNow:     time.Now,
		index:       make(map[string]int),
	}
}

func (r *Reconciler) Snapshot() domain.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot
}

func (r *Reconciler) Loaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded
}

// ApplySnapshot replaces the whole collection with the valid records of
// the batch. payload is the raw frame and may be nil; duplicate
// suppression looks at the records only. It reports false when nothing
// was replaced.
func (r *Reconciler) ApplySnapshot(payload []byte, records []json.RawMessage) (domain.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.timeNow()
	sum := recordsSum(records)
	if r.loaded && sum == r.lastPayloadSum && now.Sub(r.lastPayloadAt) < r.dedupWindow {
		r.logger.Debug(logMsgDuplicateSnapshot, zap.Int("records", len(records)))
		return r.snapshot, false
	}

	tokens := make([]domain.Token, 0, len(records))
	index := make(map[string]int, len(records))
	skipped := 0
	for i, raw := range records {
		t, warnings, err := ParseTokenRecord(raw)
		if err != nil {
			skipped++
			r.logger.Warn(logMsgMalformedRecord, zap.String("source", "snapshot"), zap.Int("index", i), zap.Error(err))
			continue
		}
		r.logWarnings("snapshot", warnings)
		if pos, ok := index[t.Symbol]; ok {
			r.logger.Warn("Duplicate symbol in snapshot, keeping the later record", zap.String("symbol", t.Symbol))
			tokens[pos] = t
			continue
		}
		index[t.Symbol] = len(tokens)
		tokens = append(tokens, t)
	}

	if len(tokens) == 0 && len(records) > 0 {
		// Keep the last good data rather than clearing the table.
		r.logger.Warn(logMsgEmptySnapshot, zap.Int("skipped", skipped))
		return r.snapshot, false
	}

	r.snapshot = domain.Snapshot{Version: r.snapshot.Version + 1, Tokens: tokens}
	r.index = index
	r.loaded = true
	r.lastPayloadSum = sum
	r.lastPayloadAt = now

	r.logger.Info(logMsgSnapshotApplied,
		zap.Int("tokens", len(tokens)),
		zap.Int("skipped", skipped),
		zap.Uint64("version", r.snapshot.Version))
	return r.snapshot, true
}

// ApplyDelta merges a batch of partial records. It reports false when no
// field of any symbol changed.
func (r *Reconciler) ApplyDelta(records []json.RawMessage) (domain.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.loaded {
		r.logger.Debug("Dropping delta received before the first snapshot", zap.Int("records", len(records)))
		return r.snapshot, false
	}

	var tokens []domain.Token // copy-on-write
	cloned := make(map[int]bool)
	changed := false

	for i, raw := range records {
		d, warnings, err := ParseDeltaRecord(raw)
		if err != nil {
			r.logger.Warn(logMsgMalformedRecord, zap.String("source", "delta"), zap.Int("index", i), zap.Error(err))
			continue
		}
		r.logWarnings("delta", warnings)

		if tokens == nil {
			tokens = make([]domain.Token, len(r.snapshot.Tokens), len(r.snapshot.Tokens)+1)
			copy(tokens, r.snapshot.Tokens)
		}

		pos, known := r.index[d.Symbol]
		if !known {
			if !d.HasStablecoin && !d.HasToken {
				r.logger.Warn("Dropping delta for unknown symbol without quotes", zap.String("symbol", d.Symbol))
				continue
			}
			r.index[d.Symbol] = len(tokens)
			cloned[len(tokens)] = true
			tokens = append(tokens, tokenFromDelta(d))
			changed = true
			continue
		}

		if !cloned[pos] {
			tokens[pos] = tokens[pos].Clone()
			cloned[pos] = true
		}
		if mergeDelta(&tokens[pos], d) {
			changed = true
		}
	}

	if !changed {
		return r.snapshot, false
	}
	r.snapshot = domain.Snapshot{Version: r.snapshot.Version + 1, Tokens: tokens}
	return r.snapshot, true
}

// mergeDelta applies d to t in place. Exchanges missing from the delta
// are left untouched.
func mergeDelta(t *domain.Token, d domain.TokenDelta) bool {
	changed := false
	if d.IndexPrice.Set && !equalFloatPtr(t.IndexPrice, d.IndexPrice.Value) {
		t.IndexPrice = copyFloatPtr(d.IndexPrice.Value)
		changed = true
	}
	if d.LogoRef.Set && t.LogoRef != d.LogoRef.Value {
		t.LogoRef = d.LogoRef.Value
		changed = true
	}
	if mergeQuotes(&t.StablecoinQuotes, d.StablecoinQuotes) {
		changed = true
	}
	if mergeQuotes(&t.TokenQuotes, d.TokenQuotes) {
		changed = true
	}
	return changed
}

func mergeQuotes(quotes *[]domain.ExchangeQuote, patches []domain.QuotePatch) bool {
	changed := false
	for _, p := range patches {
		if i := indexOfExchange(*quotes, p.Exchange); i >= 0 {
			if applyQuotePatch(&(*quotes)[i], p) {
				changed = true
			}
			continue
		}
		*quotes = append(*quotes, newQuote(p))
		changed = true
	}
	return changed
}

func (r *Reconciler) logWarnings(source string, warnings []error) {
	for _, w := range warnings {
		r.logger.Warn(logMsgMalformedQuote, zap.String("source", source), zap.Error(w))
	}
}

// recordsSum fingerprints the records themselves, so the same batch
// delivered over REST and over the stream hashes the same. Insignificant
// whitespace is stripped first.
func recordsSum(records []json.RawMessage) uint64 {
	d := xxhash.New()
	var buf bytes.Buffer
	for _, rec := range records {
		buf.Reset()
		if err := json.Compact(&buf, rec); err != nil {
			_, _ = d.Write(rec)
		} else {
			_, _ = d.Write(buf.Bytes())
		}
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64()
}
