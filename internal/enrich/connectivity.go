package enrich

import (
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Probe checks internet reachability against a known endpoint, caching the
// result so repeated gate checks do not hammer the network.
type Probe struct {
	endpoint string
	ttl      time.Duration
	client   *http.Client
	now      func() time.Time

	mu        sync.Mutex
	checkedAt time.Time
	online    bool
}

func NewProbe(endpoint string, ttl time.Duration) *Probe {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Probe{
		endpoint: endpoint,
		ttl:      ttl,
		client:   &http.Client{Timeout: 3 * time.Second},
		now:      time.Now,
	}
}

// Online reports reachability, refreshing the cached result once per TTL.
func (p *Probe) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if !p.checkedAt.IsZero() && now.Sub(p.checkedAt) < p.ttl {
		return p.online
	}

	resp, err := p.client.Head(p.endpoint)
	if err != nil {
		p.online = false
	} else {
		_ = resp.Body.Close()
		p.online = resp.StatusCode < 500
	}
	p.checkedAt = now

	slog.Info("enrich: connectivity check", "online", p.online)
	return p.online
}
