// Package syncer drives receipt sync status from connectivity changes.
//
// There is no real remote: a batch that starts syncing is acknowledged after
// a fixed delay, whatever happens to connectivity meanwhile.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SyncDelay is the simulated upload latency of one batch
const SyncDelay = 2500 * time.Millisecond

var (
	transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trip_ledger_sync_transitions_total",
		Help: "Receipts moved between sync states",
	}, []string{"to"})

	inFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trip_ledger_sync_batches_in_flight",
		Help: "Sync batches waiting for acknowledgement",
	})
)

// Repository is the part of the receipt repository the engine drives
type Repository interface {
	MarkSyncing() ([]string, error)
	MarkSynced(ids []string) (int, error)
	SyncingIDs() ([]string, error)
}

// Engine tracks connectivity and moves receipts pending → syncing → synced
type Engine struct {
	repo Repository

	mu     sync.RWMutex
	online bool

	// after is time.After; tests swap it to control the delay
	after func(time.Duration) <-chan time.Time
	wg    sync.WaitGroup
}

// NewEngine creates an engine that starts offline
func NewEngine(repo Repository) *Engine {
	return &Engine{repo: repo, after: time.After}
}

// Online reports the last known connectivity
func (e *Engine) Online() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.online
}

// SetOnline records connectivity. Going online starts a batch for every
// pending receipt.
func (e *Engine) SetOnline(ctx context.Context, online bool) error {
	e.mu.Lock()
	was := e.online
	e.online = online
	e.mu.Unlock()

	if was == online {
		return nil
	}
	slog.InfoContext(ctx, "Connectivity changed", "online", online)
	if !online {
		return nil
	}
	return e.Reconcile(ctx)
}

// Reconcile starts a batch for every pending receipt if online
func (e *Engine) Reconcile(ctx context.Context) error {
	if !e.Online() {
		return nil
	}

	ids, err := e.repo.MarkSyncing()
	if err != nil {
		return fmt.Errorf("starting sync batch: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	transitions.WithLabelValues("syncing").Add(float64(len(ids)))
	slog.InfoContext(ctx, "Sync batch started", "count", len(ids))
	e.acknowledge(ids)
	return nil
}

// Resume schedules acknowledgement for receipts left syncing by a previous
// run
func (e *Engine) Resume(ctx context.Context) error {
	ids, err := e.repo.SyncingIDs()
	if err != nil {
		return fmt.Errorf("loading syncing receipts: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	slog.InfoContext(ctx, "Resuming sync batch", "count", len(ids))
	e.acknowledge(ids)
	return nil
}

// acknowledge marks the batch synced after SyncDelay. It is not tied to any
// request context and can't be cancelled.
func (e *Engine) acknowledge(ids []string) {
	done := e.after(SyncDelay)
	e.wg.Add(1)
	inFlight.Inc()
	go func() {
		defer e.wg.Done()
		defer inFlight.Dec()

		<-done

		n, err := e.repo.MarkSynced(ids)
		if err != nil {
			slog.Error("Failed to mark batch synced", "count", len(ids), "error", err)
			return
		}
		transitions.WithLabelValues("synced").Add(float64(n))
		slog.Info("Sync batch acknowledged", "count", n)
	}()
}

// Wait blocks until every in-flight batch has been acknowledged
func (e *Engine) Wait() {
	e.wg.Wait()
}
