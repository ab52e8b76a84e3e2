// Package connectivity reports whether the remote API is reachable and notifies
// subscribers when that changes.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/logging"
)

// Monitor is the connectivity signal consumed by the sync engine.
type Monitor interface {
	// IsOnline reports the last known reachability.
	IsOnline() bool

	// Subscribe registers fn for online/offline transitions and returns its cancel func.
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// Manual is a Monitor driven by explicit SetOnline calls, typically from host
// platform network callbacks.
type Manual struct {
	mu     sync.RWMutex
	online bool
	subs   map[int]func(bool)
	nextID int
}

// NewManual creates a Manual monitor with the given initial state.
func NewManual(online bool) *Manual {
	return &Manual{online: online, subs: make(map[int]func(bool))}
}

// IsOnline implements Monitor.
func (m *Manual) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Subscribe implements Monitor.
func (m *Manual) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// SetOnline records the new state and notifies subscribers if it changed.
// Subscribers run synchronously on the caller's goroutine, outside the lock.
func (m *Manual) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	logging.Info("Connectivity changed", map[string]interface{}{"is_online": online})
	for _, fn := range subs {
		fn(online)
	}
}

// Probe is a Monitor that polls a health endpoint.
type Probe struct {
	*Manual
	url      string
	interval time.Duration
	client   *http.Client
	stopCh   chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewProbe creates a Probe polling url every interval. It starts offline until the
// first successful check.
func NewProbe(url string, interval time.Duration, client *http.Client) *Probe {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Probe{
		Manual:   NewManual(false),
		url:      url,
		interval: interval,
		client:   client,
		stopCh:   make(chan struct{}),
	}
}

// Start runs an immediate check and then polls until Stop or ctx is done.
func (p *Probe) Start(ctx context.Context) {
	p.SetOnline(p.Check(ctx))

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.SetOnline(p.Check(ctx))
			}
		}
	}()
}

// Stop ends polling and waits for the loop to exit.
func (p *Probe) Stop() {
	p.once.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

// Check performs one health request; any 2xx counts as online.
func (p *Probe) Check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		logging.Debug("Health probe failed", map[string]interface{}{"url": p.url, "error": err.Error()})
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}
