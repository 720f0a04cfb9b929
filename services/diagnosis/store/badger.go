// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tracehound/tracehound/services/diagnosis/models"
	"github.com/tracehound/tracehound/services/diagnosis/triage"
)

// Key layout:
//
//	sig:<id>          -> JSON sigRecord
//	fp:<fingerprint>  -> signature id
//
// The fp: entry is the unique secondary index. Both keys are written in
// one transaction, so the index can never point at a missing row.
const (
	sigPrefix = "sig:"
	fpPrefix  = "fp:"
)

// Config holds configuration for the badger-backed store.
type Config struct {
	// Path is the directory for database files. Required unless
	// InMemory is set.
	Path string

	// InMemory enables in-memory mode (no disk persistence). Used by
	// tests and dry runs.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives store warnings (degraded diagnosis payloads,
	// GC events). If nil, slog.Default() is used.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// 0 disables GC.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum discardable ratio before GC runs.
	GCDiscardRatio float64

	// Triage orders the pending-investigation query.
	Triage triage.Config
}

// DefaultConfig returns production defaults: durable writes and
// five-minute GC.
func DefaultConfig(tr triage.Config) Config {
	return Config{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
		Triage:         tr,
	}
}

// InMemoryConfig returns a configuration for tests: in-memory, no
// sync, no GC.
func InMemoryConfig(tr triage.Config) Config {
	return Config{
		InMemory: true,
		Triage:   tr,
	}
}

// BadgerStore is the embedded signature store.
//
// Thread Safety: safe for concurrent use. Writes are serialized by a
// mutex, which is the serialization point for all per-signature state
// transitions.
type BadgerStore struct {
	db     *badger.DB
	triage triage.Config
	logger *slog.Logger
	nowFn  func() time.Time

	writeMu sync.Mutex

	gcStop chan struct{}
	gcDone chan struct{}

	cfg Config
}

// badgerLogger adapts slog to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}
func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}
func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens the store with the given configuration.
//
// Description:
//
//	Opens a BadgerDB database at the configured path (created if
//	missing), or in memory. Starts the GC runner when GCInterval is
//	positive.
//
// Outputs:
//
//	*BadgerStore - The opened store. Caller must Close().
//	error - ErrUnavailable if the database cannot be opened.
func Open(cfg Config) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("%w: path is required for persistent store", ErrUnavailable)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("%w: create store directory %s: %v", ErrUnavailable, cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)
	opts = opts.WithLogger(&badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open badger database: %v", ErrUnavailable, err)
	}

	s := &BadgerStore{
		db:     db,
		triage: cfg.Triage,
		logger: logger,
		nowFn:  func() time.Time { return time.Now().UTC() },
		cfg:    cfg,
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gcStop = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

// runGC triggers value log garbage collection on a cadence.
func (s *BadgerStore) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			if err == nil {
				s.logger.Debug("store value log GC completed")
			} else if !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("store value log GC error", "error", err.Error())
			}
		}
	}
}

// Close stops GC and closes the database.
func (s *BadgerStore) Close() error {
	if s.gcStop != nil {
		close(s.gcStop)
		<-s.gcDone
		s.gcStop = nil
	}
	return s.db.Close()
}

// =============================================================================
// Record serialization
// =============================================================================

// sigRecord is the persisted JSON form of a Signature. The diagnosis
// is embedded as raw JSON so it stays self-describing: a malformed
// payload degrades to absent without losing the row.
type sigRecord struct {
	ID              string          `json:"id"`
	Fingerprint     string          `json:"fingerprint"`
	ErrorType       string          `json:"error_type"`
	Service         string          `json:"service"`
	MessageTemplate string          `json:"message_template"`
	StackHash       string          `json:"stack_hash"`
	FirstSeen       time.Time       `json:"first_seen"`
	LastSeen        time.Time       `json:"last_seen"`
	OccurrenceCount int64           `json:"occurrence_count"`
	Status          string          `json:"status"`
	Tags            []string        `json:"tags,omitempty"`
	ResolutionNote  string          `json:"resolution_note,omitempty"`
	MuteReason      string          `json:"mute_reason,omitempty"`
	Diagnosis       json.RawMessage `json:"diagnosis,omitempty"`
}

// diagRecord is the persisted form of a Diagnosis.
type diagRecord struct {
	RootCause    string    `json:"root_cause"`
	SuggestedFix string    `json:"suggested_fix"`
	Evidence     []string  `json:"evidence"`
	Confidence   string    `json:"confidence"`
	DiagnosedAt  time.Time `json:"diagnosed_at"`
	Model        string    `json:"model"`
	CostUSD      float64   `json:"cost_usd"`
}

func encodeRecord(sig *models.Signature) ([]byte, error) {
	rec := sigRecord{
		ID:              sig.ID(),
		Fingerprint:     sig.Fingerprint(),
		ErrorType:       sig.ErrorType(),
		Service:         sig.Service(),
		MessageTemplate: sig.MessageTemplate(),
		StackHash:       sig.StackHash(),
		FirstSeen:       sig.FirstSeen(),
		LastSeen:        sig.LastSeen(),
		OccurrenceCount: sig.OccurrenceCount(),
		Status:          string(sig.Status()),
		Tags:            sig.Tags(),
		ResolutionNote:  sig.ResolutionNote(),
		MuteReason:      sig.MuteReason(),
	}
	if d := sig.Diagnosis(); d != nil {
		raw, err := json.Marshal(diagRecord{
			RootCause:    d.RootCause,
			SuggestedFix: d.SuggestedFix,
			Evidence:     d.Evidence,
			Confidence:   string(d.Confidence),
			DiagnosedAt:  d.DiagnosedAt,
			Model:        d.Model,
			CostUSD:      d.CostUSD,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal diagnosis: %w", err)
		}
		rec.Diagnosis = raw
	}
	return json.Marshal(rec)
}

// decodeRecord rehydrates a Signature from its persisted form.
//
// A malformed diagnosis payload degrades to diagnosis-absent with a
// structured warning; a row missing required fields fails the read
// with ErrCorruptRecord.
func (s *BadgerStore) decodeRecord(raw []byte) (*models.Signature, error) {
	var rec sigRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}

	var diag *models.Diagnosis
	if len(rec.Diagnosis) > 0 {
		diag = s.decodeDiagnosis(rec.ID, rec.Diagnosis)
	}

	sig, err := models.Rehydrate(models.RehydrateParams{
		ID:              rec.ID,
		Fingerprint:     rec.Fingerprint,
		ErrorType:       rec.ErrorType,
		Service:         rec.Service,
		MessageTemplate: rec.MessageTemplate,
		StackHash:       rec.StackHash,
		FirstSeen:       rec.FirstSeen,
		LastSeen:        rec.LastSeen,
		OccurrenceCount: rec.OccurrenceCount,
		Status:          models.Status(rec.Status),
		Diagnosis:       diag,
		Tags:            rec.Tags,
		ResolutionNote:  rec.ResolutionNote,
		MuteReason:      rec.MuteReason,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return sig, nil
}

// decodeDiagnosis parses an embedded diagnosis payload, degrading to
// nil on any problem.
func (s *BadgerStore) decodeDiagnosis(sigID string, raw json.RawMessage) *models.Diagnosis {
	var dr diagRecord
	if err := json.Unmarshal(raw, &dr); err != nil {
		s.logger.Warn("malformed diagnosis payload, degrading to absent",
			"signature_id", sigID, "error", err.Error())
		return nil
	}
	conf, err := models.ParseConfidence(dr.Confidence)
	if err != nil {
		s.logger.Warn("malformed diagnosis confidence, degrading to absent",
			"signature_id", sigID, "confidence", dr.Confidence)
		return nil
	}
	d, err := models.NewDiagnosis(models.DiagnosisParams{
		RootCause:    dr.RootCause,
		SuggestedFix: dr.SuggestedFix,
		Evidence:     dr.Evidence,
		Confidence:   conf,
		DiagnosedAt:  dr.DiagnosedAt,
		Model:        dr.Model,
		CostUSD:      dr.CostUSD,
	})
	if err != nil {
		s.logger.Warn("invalid diagnosis payload, degrading to absent",
			"signature_id", sigID, "error", err.Error())
		return nil
	}
	return &d
}

// =============================================================================
// Store interface
// =============================================================================

// GetByID returns a clone of the signature, or ErrNotFound.
func (s *BadgerStore) GetByID(ctx context.Context, id string) (*models.Signature, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var sig *models.Signature
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		sig, err = s.readSignature(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sig, nil
}

// GetByFingerprint resolves the fingerprint index, then reads the row.
func (s *BadgerStore) GetByFingerprint(ctx context.Context, fp string) (*models.Signature, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var sig *models.Signature
	err := s.db.View(func(txn *badger.Txn) error {
		id, err := s.readFingerprintIndex(txn, fp)
		if err != nil {
			return err
		}
		sig, err = s.readSignature(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sig, nil
}

// Save inserts a new signature, enforcing fingerprint uniqueness.
func (s *BadgerStore) Save(ctx context.Context, sig *models.Signature) error {
	if err := sig.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	raw, err := encodeRecord(sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(fpPrefix + sig.Fingerprint()))
		if err == nil {
			return fmt.Errorf("%w: %s", ErrDuplicateFingerprint, sig.Fingerprint())
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if err := txn.Set([]byte(sigPrefix+sig.ID()), raw); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if err := txn.Set([]byte(fpPrefix+sig.Fingerprint()), []byte(sig.ID())); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil
	})
	return err
}

// Update commits a mutated signature atomically.
//
// Description:
//
//	Re-validates the invariants, confirms the row exists and that the
//	fingerprint has not changed, and replaces the row in a single
//	transaction. On any failure the prior state is left intact.
func (s *BadgerStore) Update(ctx context.Context, sig *models.Signature) error {
	if err := sig.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	raw, err := encodeRecord(sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		prior, err := s.readSignature(txn, sig.ID())
		if err != nil {
			return err
		}
		if prior.Fingerprint() != sig.Fingerprint() {
			return fmt.Errorf("%w: fingerprint is immutable", models.ErrInvalidSignatureState)
		}
		if err := txn.Set([]byte(sigPrefix+sig.ID()), raw); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil
	})
}

// GetPendingInvestigation returns investigation candidates.
//
// NEW signatures at or above the configured occurrence threshold,
// ordered by (triage priority desc, id asc).
func (s *BadgerStore) GetPendingInvestigation(ctx context.Context) ([]*models.Signature, error) {
	all, err := s.GetAll(ctx, models.StatusNew)
	if err != nil {
		return nil, err
	}
	pending := all[:0]
	for _, sig := range all {
		if sig.OccurrenceCount() >= s.triage.MinOccurrenceForInvestigation {
			pending = append(pending, sig)
		}
	}
	now := s.nowFn()
	sort.SliceStable(pending, func(i, j int) bool {
		pi, pj := triage.Priority(pending[i], now), triage.Priority(pending[j], now)
		if pi != pj {
			return pi > pj
		}
		return pending[i].ID() < pending[j].ID()
	})
	return pending, nil
}

// GetAll returns signatures filtered by status; empty status means all.
//
// A corrupt row fails only itself: it is logged and skipped so one bad
// record cannot take down a listing.
func (s *BadgerStore) GetAll(ctx context.Context, status models.Status) ([]*models.Signature, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var out []*models.Signature
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(sigPrefix), PrefetchValues: true})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				sig, err := s.decodeRecord(val)
				if err != nil {
					s.logger.Error("skipping corrupt signature record",
						"key", string(item.Key()), "error", err.Error())
					return nil
				}
				if status == "" || sig.Status() == status {
					out = append(out, sig)
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

// GetSimilar returns signatures sharing service and errorType with sig.
func (s *BadgerStore) GetSimilar(ctx context.Context, sig *models.Signature, limit int) ([]*models.Signature, error) {
	all, err := s.GetAll(ctx, "")
	if err != nil {
		return nil, err
	}
	similar := all[:0]
	for _, other := range all {
		if other.ID() == sig.ID() {
			continue
		}
		if other.Service() == sig.Service() && other.ErrorType() == sig.ErrorType() {
			similar = append(similar, other)
		}
	}
	sort.SliceStable(similar, func(i, j int) bool {
		return similar[i].OccurrenceCount() > similar[j].OccurrenceCount()
	})
	if limit > 0 && len(similar) > limit {
		similar = similar[:limit]
	}
	return similar, nil
}

// GetStats summarizes the store in one pass.
func (s *BadgerStore) GetStats(ctx context.Context) (Stats, error) {
	all, err := s.GetAll(ctx, "")
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{ByStatus: make(map[models.Status]int)}
	for _, sig := range all {
		stats.Total++
		stats.ByStatus[sig.Status()]++
		stats.TotalOccurrences += sig.OccurrenceCount()
		if d := sig.Diagnosis(); d != nil {
			stats.EstimatedSpendUSD += d.CostUSD
		}
	}
	return stats, nil
}

// readSignature reads and decodes one row inside a transaction.
func (s *BadgerStore) readSignature(txn *badger.Txn, id string) (*models.Signature, error) {
	item, err := txn.Get([]byte(sigPrefix + id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: id %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var sig *models.Signature
	err = item.Value(func(val []byte) error {
		sig, err = s.decodeRecord(val)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sig, nil
}

// readFingerprintIndex resolves a fingerprint to a signature id.
func (s *BadgerStore) readFingerprintIndex(txn *badger.Txn, fp string) (string, error) {
	item, err := txn.Get([]byte(fpPrefix + fp))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", fmt.Errorf("%w: fingerprint %s", ErrNotFound, fp)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var id string
	err = item.Value(func(val []byte) error {
		id = string(val)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return id, nil
}

// Ensure BadgerStore implements the port.
var _ Store = (*BadgerStore)(nil)
