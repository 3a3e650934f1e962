package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	loginBurst  = 10
	loginWindow = 15 * time.Minute
	// entryTTL expires idle per-client limiter state.
	entryTTL = time.Hour
)

// LoginLimiter throttles login attempts per remote address to blunt
// credential stuffing. State is in-memory and pruned lazily.
type LoginLimiter struct {
	mu      sync.Mutex
	clients map[string]*loginClient
	now     func() time.Time
}

type loginClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLoginLimiter creates a limiter allowing loginBurst attempts per
// loginWindow for each client address.
func NewLoginLimiter() *LoginLimiter {
	return &LoginLimiter{
		clients: make(map[string]*loginClient),
		now:     time.Now,
	}
}

// Allow reports whether addr may attempt another login.
func (l *LoginLimiter) Allow(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	client, ok := l.clients[addr]
	if !ok {
		client = &loginClient{
			limiter: rate.NewLimiter(rate.Every(loginWindow/loginBurst), loginBurst),
		}
		l.clients[addr] = client
	}
	client.lastSeen = now
	return client.limiter.Allow()
}

func (l *LoginLimiter) prune(now time.Time) {
	for addr, client := range l.clients {
		if now.Sub(client.lastSeen) > entryTTL {
			delete(l.clients, addr)
		}
	}
}
