package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Probe checks whether the remote is reachable
type Probe interface {
	Check(ctx context.Context) bool
}

// HTTPProbe treats any HTTP answer below 500 as online
type HTTPProbe struct {
	url    string
	client *http.Client
}

// NewHTTPProbe creates a probe that sends HEAD requests to url
func NewHTTPProbe(url string, timeout time.Duration) *HTTPProbe {
	return &HTTPProbe{url: url, client: &http.Client{Timeout: timeout}}
}

func (p *HTTPProbe) Check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// Monitor polls a probe and feeds the result to an Engine
type Monitor struct {
	engine   *Engine
	probe    Probe
	interval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewMonitor creates a monitor polling every interval
func NewMonitor(engine *Engine, probe Probe, interval time.Duration) *Monitor {
	return &Monitor{engine: engine, probe: probe, interval: interval}
}

// Start begins polling. Returns an error if already running.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("connectivity monitor is already running")
	}
	m.running = true
	stop, done := make(chan struct{}), make(chan struct{})
	m.stopCh, m.doneCh = stop, done
	m.mu.Unlock()

	go m.runLoop(ctx, stop, done)

	slog.InfoContext(ctx, "Connectivity monitor started", "interval", m.interval)
	return nil
}

// Stop stops polling and waits for the loop to exit
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	close(m.stopCh)
	done := m.doneCh
	m.mu.Unlock()

	select {
	case <-done:
		slog.InfoContext(ctx, "Connectivity monitor stopped")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Connectivity monitor stop timed out")
		return ctx.Err()
	}
	return nil
}

func (m *Monitor) runLoop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.poll(ctx)

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	online := m.probe.Check(ctx)
	if err := m.engine.SetOnline(ctx, online); err != nil {
		slog.ErrorContext(ctx, "Failed to apply connectivity", "online", online, "error", err)
	}
}
