// Package health checks monitored sites and reports state transitions.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"homedash/internal/model"
)

const (
	defaultTimeout       = 10 * time.Second
	defaultSlowThreshold = 3000 // ms
)

// StatsFetcher returns structured stats for a site, or nil when the site
// does not expose any.
type StatsFetcher interface {
	FetchSiteStats(ctx context.Context, site model.MonitoredSite) (*model.SiteStats, error)
}

// Prober performs a minimal reachability request against a URL.
type Prober interface {
	Probe(ctx context.Context, url string) error
}

// Notifier delivers user notifications.
type Notifier interface {
	Notify(ctx context.Context, title, body string)
}

// Monitor owns the monitored sites and updates them on every check.
type Monitor struct {
	stats    StatsFetcher
	prober   Prober
	notifier Notifier
	log      *slog.Logger

	timeout       time.Duration
	slowThreshold int64
	now           func() time.Time

	mu    sync.RWMutex
	sites []model.MonitoredSite
}

// New creates a Monitor seeded with sites. Seeded sites start Unknown.
func New(sites []model.MonitoredSite, stats StatsFetcher, prober Prober, notifier Notifier, log *slog.Logger) *Monitor {
	seeded := make([]model.MonitoredSite, len(sites))
	for i, s := range sites {
		if s.Status == "" {
			s.Status = model.StatusUnknown
		}
		seeded[i] = s
	}
	return &Monitor{
		stats:         stats,
		prober:        prober,
		notifier:      notifier,
		log:           log,
		timeout:       defaultTimeout,
		slowThreshold: defaultSlowThreshold,
		now:           time.Now,
		sites:         seeded,
	}
}

// Sites returns a snapshot of all monitored sites.
func (m *Monitor) Sites() []model.MonitoredSite {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.MonitoredSite(nil), m.sites...)
}

// CheckAll checks every site concurrently and returns the updated snapshot.
func (m *Monitor) CheckAll(ctx context.Context) []model.MonitoredSite {
	m.mu.Lock()
	prior := append([]model.MonitoredSite(nil), m.sites...)
	for i := range m.sites {
		m.sites[i].Status = model.StatusChecking
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, site := range prior {
		wg.Add(1)
		go func(s model.MonitoredSite) {
			defer wg.Done()
			m.store(m.CheckSite(ctx, s))
		}(site)
	}
	wg.Wait()

	return m.Sites()
}

func (m *Monitor) store(site model.MonitoredSite) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.sites {
		if m.sites[i].ID == site.ID {
			m.sites[i] = site
			return
		}
	}
}

// CheckSite runs one health check against site and returns the updated copy.
// site must carry the state recorded before this check; transitions are
// detected against it.
func (m *Monitor) CheckSite(ctx context.Context, site model.MonitoredSite) model.MonitoredSite {
	prev := site
	next := site
	next.LastChecked = m.now()

	latency, stats, err := m.measure(ctx, site)
	if err != nil {
		m.log.Warn("site offline", "site", site.ID, "url", site.URL, "error", err)
		next.Status = model.StatusOffline
		next.OnlineUsers = 0
	} else {
		next.Status = model.StatusOnline
		next.LatencyMS = latency
		if stats != nil {
			next.OnlineUsers = stats.Online
			next.MonthlyVisitors = stats.Monthly
		}
		m.log.Debug("site online", "site", site.ID, "latency_ms", latency, "structured", stats != nil)
	}

	m.detectTransitions(ctx, prev, next)
	return next
}

// measure asks for stats first and falls back to a probe when the site
// returns nothing structured.
func (m *Monitor) measure(ctx context.Context, site model.MonitoredSite) (int64, *model.SiteStats, error) {
	statsCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := m.now()
	stats, err := m.stats.FetchSiteStats(statsCtx, site)
	if err != nil {
		return 0, nil, fmt.Errorf("fetch stats: %w", err)
	}
	if stats != nil {
		return m.now().Sub(start).Milliseconds(), stats, nil
	}

	probeCtx, cancelProbe := context.WithTimeout(ctx, m.timeout)
	defer cancelProbe()

	start = m.now()
	if err := m.prober.Probe(probeCtx, site.URL); err != nil {
		return 0, nil, fmt.Errorf("probe: %w", err)
	}
	return m.now().Sub(start).Milliseconds(), nil, nil
}

func (m *Monitor) detectTransitions(ctx context.Context, prev, next model.MonitoredSite) {
	switch {
	case next.Status == model.StatusOffline &&
		(prev.Status == model.StatusOnline || prev.Status == model.StatusChecking):
		m.notifier.Notify(ctx,
			fmt.Sprintf("%s is offline", next.Name),
			fmt.Sprintf("%s stopped responding.", next.URL))

	case next.Status == model.StatusOnline && prev.Status == model.StatusOffline:
		m.notifier.Notify(ctx,
			fmt.Sprintf("%s is back online", next.Name),
			fmt.Sprintf("Responded in %d ms.", next.LatencyMS))

	case next.Status == model.StatusOnline && prev.Status == model.StatusOnline &&
		next.LatencyMS > m.slowThreshold && prev.LatencyMS < m.slowThreshold:
		m.notifier.Notify(ctx,
			fmt.Sprintf("%s is unstable", next.Name),
			fmt.Sprintf("Response time rose to %d ms.", next.LatencyMS))
	}
}
