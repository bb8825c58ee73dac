// Package peer resolves cluster seed URLs to a live peer, ranks peers by
// load, and opens authenticated HTTP connections to the chosen one.
package peer

import (
	"context"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/n0needt0/go-goodies/log"
	"github.com/pkg/errors"

	"github.com/n0needt0/goodies/s2s-edge-client/clienterrors"
	"github.com/n0needt0/goodies/s2s-edge-client/metrics"
)

// Peer is one reachable node of the remote cluster.
type Peer struct {
	URL           string `json:"-"`
	Hostname      string `json:"hostname"`
	Port          int    `json:"port"`
	Secure        bool   `json:"secure"`
	FlowFileCount int    `json:"flowFileCount"`
}

func (p Peer) baseURL() string {
	scheme := "http"
	if p.Secure {
		scheme = "https"
	}
	return scheme + "://" + p.Hostname + ":" + itoa(p.Port)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Manager maintains the current peer list, the last refresh time, and
// the optional auth-header callback, serializing peer-list updates behind
// a single writer lock.
type Manager struct {
	mu             sync.Mutex
	seeds          []string
	httpClient     *http.Client
	peers          []Peer
	lastRefresh    time.Time
	refreshEvery   time.Duration
	authHeader     func() map[string]string
}

// Config configures a Manager.
type Config struct {
	SeedURLs             []string
	Timeout              time.Duration
	PeerUpdateInterval    time.Duration
	AuthHeaders           func() map[string]string
}

// NewManager builds a Manager and performs an initial peer refresh.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	if len(cfg.SeedURLs) == 0 {
		return nil, errors.New("peer: at least one seed URL required")
	}
	m := &Manager{
		seeds:        cfg.SeedURLs,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		refreshEvery: cfg.PeerUpdateInterval,
		authHeader:   cfg.AuthHeaders,
	}
	if err := m.RefreshPeers(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// peerListResponse mirrors the S2S /site-to-site/peers response shape.
type peerListResponse struct {
	Peers []Peer `json:"peers"`
}

// RefreshPeers performs GET /site-to-site/peers against each seed URL in
// turn until one answers, decodes the peer list with sonic, and replaces
// the ranked peer list under the manager's single-writer lock.
func (m *Manager) RefreshPeers(ctx context.Context) error {
	var lastErr error
	for _, seed := range m.seeds {
		peers, err := m.fetchPeers(ctx, seed)
		if err != nil {
			lastErr = err
			log.Warnf("peer: refresh against %s failed: %v", seed, err)
			continue
		}
		sort.SliceStable(peers, func(i, j int) bool {
			if peers[i].FlowFileCount != peers[j].FlowFileCount {
				return peers[i].FlowFileCount < peers[j].FlowFileCount
			}
			return peers[i].baseURL() < peers[j].baseURL()
		})
		for i := range peers {
			peers[i].URL = peers[i].baseURL()
		}

		m.mu.Lock()
		m.peers = peers
		m.lastRefresh = time.Now()
		m.mu.Unlock()
		return nil
	}
	metrics.RecordPeerRefreshFailure(ctx)
	return &clienterrors.TransportError{Op: "RefreshPeers", Err: lastErr}
}

func (m *Manager) fetchPeers(ctx context.Context, seed string) ([]Peer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, seed+"/nifi-api/site-to-site/peers", nil)
	if err != nil {
		return nil, errors.Wrap(err, "build peers request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do peers request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Errorf("peers request returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read peers body")
	}

	var list []Peer
	if err := sonic.Unmarshal(body, &list); err != nil {
		var wrapped peerListResponse
		if werr := sonic.Unmarshal(body, &wrapped); werr == nil && len(wrapped.Peers) > 0 {
			list = wrapped.Peers
		} else {
			return nil, errors.Wrap(err, "decode peers body")
		}
	}
	return list, nil
}

// maybeRefresh refreshes the peer list if the configured interval has
// elapsed since the last refresh. Called opportunistically before peer
// selection, not on a dedicated background goroutine.
func (m *Manager) maybeRefresh(ctx context.Context) {
	m.mu.Lock()
	stale := m.refreshEvery > 0 && time.Since(m.lastRefresh) > m.refreshEvery
	m.mu.Unlock()
	if stale {
		if err := m.RefreshPeers(ctx); err != nil {
			log.Warnf("peer: periodic refresh failed: %v", err)
		}
	}
}

// SelectPeer returns the lowest-load peer known to the manager, applying
// a periodic refresh first if due.
func (m *Manager) SelectPeer(ctx context.Context) (Peer, error) {
	m.maybeRefresh(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.peers) == 0 {
		return Peer{}, &clienterrors.TransportError{Op: "SelectPeer", Err: errors.New("no known peers")}
	}
	return m.peers[0], nil
}

// OpenConnection resolves a peer, builds an *http.Request against
// peerBase+path, and applies the supplied headers. The caller sets the
// method and body; this only centralizes URL/peer resolution and header
// application, matching the "connection manager" responsibility without
// leaking a stateful connection handle past it.
func (m *Manager) OpenConnection(ctx context.Context, method, path string, body io.Reader, headers map[string]string) (*http.Request, error) {
	p, err := m.SelectPeer(ctx)
	if err != nil {
		// no peer could be selected: refresh the list once and select
		// the lowest-load peer again.
		if rerr := m.RefreshPeers(ctx); rerr != nil {
			return nil, err
		}
		p, err = m.SelectPeer(ctx)
		if err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, p.URL+path, body)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if m.authHeader != nil {
		for k, v := range m.authHeader() {
			req.Header.Set(k, v)
		}
	}
	return req, nil
}

// Client returns the manager's underlying HTTP client for components
// (the transaction engine) that build and execute their own requests.
// Such requests carry only the headers their builder sets; the
// AuthHeaders callback is applied by OpenConnection alone.
func (m *Manager) Client() *http.Client { return m.httpClient }
