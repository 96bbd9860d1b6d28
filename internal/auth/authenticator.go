package auth

import (
	"context"
	"sync"
	"time"

	"f1-telemetry/stream-processor/internal/config"
)

// KeyLookup resolves an API key to its owner; "" means unknown.
type KeyLookup interface {
	GetAPIKey(ctx context.Context, apiKey string) (string, error)
}

type cacheEntry struct {
	owner     string
	expiresAt time.Time
}

type Authenticator struct {
	localCache sync.Map
	lookup     KeyLookup
	ttl        time.Duration
	staticKeys map[string]bool
	now        func() time.Time
}

// NewAuthenticator accepts a nil lookup when only static keys are configured.
func NewAuthenticator(cfg *config.Config, lookup KeyLookup) *Authenticator {
	staticKeys := make(map[string]bool, len(cfg.ValidAPIKeys))
	for _, k := range cfg.ValidAPIKeys {
		if k != "" {
			staticKeys[k] = true
		}
	}

	return &Authenticator{
		lookup:     lookup,
		ttl:        time.Duration(cfg.AuthCacheTTLSeconds) * time.Second,
		staticKeys: staticKeys,
		now:        time.Now,
	}
}

// StaticOwner is reported for keys that come from VALID_API_KEYS.
const StaticOwner = "static"

// Validate resolves apiKey to the owner it was issued to. ok is false for an
// empty, unknown or unresolvable key.
func (a *Authenticator) Validate(ctx context.Context, apiKey string) (owner string, ok bool) {
	if apiKey == "" {
		return "", false
	}

	// Level 0: static config keys
	if a.staticKeys[apiKey] {
		return StaticOwner, true
	}

	// Level 1: in-memory cache
	if raw, hit := a.localCache.Load(apiKey); hit {
		entry := raw.(cacheEntry)
		if a.now().Before(entry.expiresAt) {
			return entry.owner, true
		}
		a.localCache.Delete(apiKey)
	}

	// Level 2: Redis lookup
	if a.lookup == nil {
		return "", false
	}
	owner, err := a.lookup.GetAPIKey(ctx, apiKey)
	if err != nil || owner == "" {
		return "", false
	}

	a.localCache.Store(apiKey, cacheEntry{
		owner:     owner,
		expiresAt: a.now().Add(a.ttl),
	})
	return owner, true
}

type ownerKey struct{}

// WithOwner returns a copy of ctx carrying the authenticated key owner.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// OwnerFromContext returns the owner stored by WithOwner, or "".
func OwnerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}
