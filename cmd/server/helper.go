package main

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	// maxTrackedClients bounds the limiter map; idle clients are pruned beyond it
	maxTrackedClients = 10000
	clientIdleTimeout = 3 * time.Minute
)

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter applies a token bucket per client address. A non-positive rate
// disables limiting.
type clientLimiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*clientEntry
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	if burst < 1 {
		burst = 1
	}
	return &clientLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		clients: make(map[string]*clientEntry),
	}
}

// Allow reports whether the client may make a request now.
func (l *clientLimiter) Allow(client string) bool {
	if l == nil || l.rps <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	entry, ok := l.clients[client]
	if !ok {
		if len(l.clients) >= maxTrackedClients {
			l.prune(now)
		}
		entry = &clientEntry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[client] = entry
	}
	entry.lastSeen = now

	return entry.limiter.AllowN(now, 1)
}

func (l *clientLimiter) prune(now time.Time) {
	for client, entry := range l.clients {
		if now.Sub(entry.lastSeen) > clientIdleTimeout {
			delete(l.clients, client)
		}
	}
}

// trustedProxies lists the peers whose X-Forwarded-For header is believed.
type trustedProxies []*net.IPNet

// parseTrustedProxies accepts plain IPs and CIDR ranges. Unparseable entries
// are skipped; Config.Validate rejects them before the server starts.
func parseTrustedProxies(entries []string) trustedProxies {
	var proxies trustedProxies
	for _, entry := range entries {
		if _, network, err := net.ParseCIDR(entry); err == nil {
			proxies = append(proxies, network)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			logrus.WithField("proxy", entry).Warn("Ignoring invalid trusted proxy")
			continue
		}
		bits := 8 * net.IPv4len
		if ip.To4() == nil {
			bits = 8 * net.IPv6len
		}
		proxies = append(proxies, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return proxies
}

func (p trustedProxies) contains(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, network := range p {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// clientIP returns the address requests are limited by. X-Forwarded-For is
// only read when the peer is a trusted proxy; the hops are walked from the
// right and the first untrusted one wins.
func (p trustedProxies) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !p.contains(host) {
		return host
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !p.contains(hop) {
			return hop
		}
		host = hop
	}
	return host
}
