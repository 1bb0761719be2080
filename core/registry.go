package core

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BrowserSession bundles everything bound to one browser id.
type BrowserSession struct {
	ID     string
	Tokens TokenStore
	API    *Gateway
	Auth   *AuthSession
}

// SessionFactory builds a fresh BrowserSession for sid.
type SessionFactory func(sid string) *BrowserSession

// NewBrowserSessionFactory wires a Redis-backed token store, a gateway and an auth session per browser.
func NewBrowserSessionFactory(client RedisClientRaw, gateways *GatewayFactory, validator *Validator, ttl time.Duration, log zerolog.Logger) SessionFactory {
	return func(sid string) *BrowserSession {
		tokens := NewRedisTokenStore(client, sid, ttl)
		api := gateways.For(tokens)
		slog := log.With().Str("sid", shortID(sid)).Logger()
		return &BrowserSession{
			ID:     sid,
			Tokens: tokens,
			API:    api,
			Auth:   NewAuthSession(tokens, api, validator, slog),
		}
	}
}

type registryEntry struct {
	sess     *BrowserSession
	lastSeen time.Time
}

// SessionRegistry keeps the in-memory auth sessions of this process.
// The first request of a browser creates its session and launches the startup check.
type SessionRegistry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry

	base           context.Context
	newSession     SessionFactory
	idle           time.Duration
	startupTimeout time.Duration
	now            func() time.Time
	log            zerolog.Logger
}

// NewSessionRegistry returns a registry whose startup checks are bound to base.
func NewSessionRegistry(base context.Context, factory SessionFactory, idle, startupTimeout time.Duration, log zerolog.Logger) *SessionRegistry {
	if startupTimeout <= 0 {
		startupTimeout = 30 * time.Second
	}
	return &SessionRegistry{
		entries:        make(map[string]*registryEntry),
		base:           base,
		newSession:     factory,
		idle:           idle,
		startupTimeout: startupTimeout,
		now:            time.Now,
		log:            log,
	}
}

// Acquire returns the session for sid, creating it and starting its startup check on first sight.
func (r *SessionRegistry) Acquire(sid string) *BrowserSession {
	r.mu.Lock()
	if e, ok := r.entries[sid]; ok {
		e.lastSeen = r.now()
		r.mu.Unlock()
		return e.sess
	}
	sess := r.newSession(sid)
	r.entries[sid] = &registryEntry{sess: sess, lastSeen: r.now()}
	activeSessions.Inc()
	r.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(r.base, r.startupTimeout)
		defer cancel()
		sess.Auth.Start(ctx)
	}()
	return sess
}

// Forget drops the in-memory session so the next request starts over, like a page reload.
func (r *SessionRegistry) Forget(sid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[sid]; ok {
		delete(r.entries, sid)
		activeSessions.Dec()
	}
}

// Len reports how many sessions are held.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Run evicts idle sessions until ctx is done. Stored tokens outlive eviction.
func (r *SessionRegistry) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.sweep(); n > 0 {
				r.log.Debug().Int("evicted", n).Msg("idle sessions evicted")
			}
		}
	}
}

func (r *SessionRegistry) sweep() int {
	if r.idle <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.idle)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for sid, e := range r.entries {
		if e.lastSeen.Before(cutoff) {
			delete(r.entries, sid)
			activeSessions.Dec()
			n++
		}
	}
	return n
}

func shortID(sid string) string {
	if len(sid) > 8 {
		return sid[:8]
	}
	return sid
}
