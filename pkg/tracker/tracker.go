package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gregtusar/arbsync/internal/metrics"
	"github.com/gregtusar/arbsync/pkg/models"
	"github.com/gregtusar/arbsync/pkg/storage"
)

const (
	DefaultKey          = "highest_profit_data"
	defaultWriteTimeout = 5 * time.Second
)

type Options struct {
	Key          string
	WriteTimeout time.Duration
	Now          func() time.Time
}

// Tracker keeps the highest-profit opportunity ever seen. The in-memory
// record is authoritative; persistence happens on a background writer that
// always writes the newest record and never blocks Consider.
type Tracker struct {
	store        storage.Store
	key          string
	writeTimeout time.Duration
	now          func() time.Time
	logger       *logrus.Entry

	mu     sync.RWMutex
	record *models.HighestProfitRecord
	closed bool

	// writeMu serializes store writes with Reset's delete.
	writeMu sync.Mutex
	pending chan models.HighestProfitRecord
	done    chan struct{}
}

func New(store storage.Store, opts Options, logger *logrus.Logger) *Tracker {
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	t := &Tracker{
		store:        store,
		key:          opts.Key,
		writeTimeout: opts.WriteTimeout,
		now:          opts.Now,
		logger:       logger.WithField("component", "tracker"),
		pending:      make(chan models.HighestProfitRecord, 1),
		done:         make(chan struct{}),
	}
	go t.writeLoop()
	return t
}

// Load reads the persisted record. A missing or unreadable entry leaves the
// tracker empty; it is never an error for the caller.
func (t *Tracker) Load(ctx context.Context) {
	raw, err := t.store.Get(ctx, t.key)
	if errors.Is(err, storage.ErrNotFound) {
		t.logger.Debug("No persisted highest profit record")
		return
	}
	if err != nil {
		metrics.StoreErrors.WithLabelValues("get").Inc()
		t.logger.WithError(err).Error("Failed to load highest profit record")
		return
	}

	rec, err := DecodeRecord(raw)
	if err != nil {
		t.logger.WithError(err).Warn("Discarding corrupt highest profit record")
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.record == nil || rec.Profit > t.record.Profit {
		t.record = &rec
		metrics.HighestProfit.Set(rec.Profit)
	}
	t.logger.WithFields(logrus.Fields{
		"profit": rec.Profit,
		"route":  rec.Route(),
	}).Info("Loaded highest profit record")
}

// Consider replaces the record when the snapshot's best opportunity strictly
// beats it. It reports the record in force afterwards and whether it changed.
func (t *Tracker) Consider(snap models.ArbitrageSnapshot) (models.HighestProfitRecord, bool) {
	best, ok := snap.Best()

	t.mu.Lock()
	defer t.mu.Unlock()

	var current models.HighestProfitRecord
	if t.record != nil {
		current = *t.record
	}
	if !ok || t.closed {
		return current, false
	}
	if t.record != nil && best.ArbitrageAfterFees <= t.record.Profit {
		return current, false
	}

	rec := models.HighestProfitRecord{
		Profit:    best.ArbitrageAfterFees,
		Timestamp: t.now().UTC().Round(0),
		Details:   best,
	}
	t.record = &rec
	metrics.HighestProfit.Set(rec.Profit)
	t.enqueue(rec)

	t.logger.WithFields(logrus.Fields{
		"profit": rec.Profit,
		"route":  rec.Route(),
	}).Info("New highest profit")
	return rec, true
}

// Record returns a copy of the current record, or nil if none exists.
func (t *Tracker) Record() *models.HighestProfitRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.record == nil {
		return nil
	}
	rec := *t.record
	return &rec
}

// Reset forgets the record both in memory and in the store. A queued write is
// dropped and one already in flight finishes before the delete.
func (t *Tracker) Reset(ctx context.Context) error {
	t.mu.Lock()
	t.record = nil
	if !t.closed {
		select {
		case <-t.pending:
		default:
		}
	}
	t.mu.Unlock()
	metrics.HighestProfit.Set(0)

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.store.Delete(ctx, t.key); err != nil {
		metrics.StoreErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("failed to delete highest profit record: %w", err)
	}
	return nil
}

// Close stops accepting updates and waits for the last queued write, bounded
// by ctx. Write failures after Close are not reported.
func (t *Tracker) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.pending)
	t.mu.Unlock()

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue must be called with t.mu held. Only the newest record is kept.
func (t *Tracker) enqueue(rec models.HighestProfitRecord) {
	for {
		select {
		case t.pending <- rec:
			return
		default:
		}
		select {
		case <-t.pending:
		default:
		}
	}
}

func (t *Tracker) writeLoop() {
	defer close(t.done)
	for rec := range t.pending {
		t.persist(rec)
	}
}

func (t *Tracker) persist(rec models.HighestProfitRecord) {
	raw, err := EncodeRecord(rec)
	if err != nil {
		t.logger.WithError(err).Error("Failed to encode highest profit record")
		return
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if !t.isCurrent(rec) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.writeTimeout)
	defer cancel()
	err = t.store.Set(ctx, t.key, raw)

	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if err != nil && !closed {
		metrics.StoreErrors.WithLabelValues("set").Inc()
		t.logger.WithError(err).Error("Failed to persist highest profit record")
	}
}

// isCurrent reports whether rec is still the record in memory. Anything else
// was superseded or reset while queued.
func (t *Tracker) isCurrent(rec models.HighestProfitRecord) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.record != nil && t.record.Profit == rec.Profit && t.record.Timestamp.Equal(rec.Timestamp)
}

func EncodeRecord(rec models.HighestProfitRecord) (string, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func DecodeRecord(raw string) (models.HighestProfitRecord, error) {
	var rec models.HighestProfitRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return models.HighestProfitRecord{}, fmt.Errorf("failed to decode record: %w", err)
	}
	if rec.Timestamp.IsZero() {
		return models.HighestProfitRecord{}, fmt.Errorf("record has no timestamp")
	}
	return rec, nil
}
