package api

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	ScopeInternal = "internal"
	ScopeExternal = "external"
)

// APIKey is one entry of SENSORS_API_KEYS. An external key with allowed
// client ids only sees those clients.
type APIKey struct {
	Key              string   `json:"key"`
	Scope            string   `json:"scope"`
	AllowedClientIDs []string `json:"allowedClientIds"`
}

// CanAccess reports whether the key may read data of clientID.
func (k APIKey) CanAccess(clientID uuid.UUID) bool {
	if k.Scope == ScopeInternal || len(k.AllowedClientIDs) == 0 {
		return true
	}
	return slices.Contains(k.AllowedClientIDs, clientID.String())
}

// ParseAPIKeys decodes the JSON array of scoped keys. Entries without a key
// are skipped and a missing scope means external.
func ParseAPIKeys(raw string) ([]APIKey, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var keys []APIKey
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, fmt.Errorf("failed to parse api keys: %w", err)
	}
	out := keys[:0]
	for _, k := range keys {
		if k.Key == "" {
			continue
		}
		if k.Scope == "" {
			k.Scope = ScopeExternal
		}
		out = append(out, k)
	}
	return out, nil
}

// KeyRing looks up API keys and rate limits each of them independently.
type KeyRing struct {
	keys     map[string]APIKey
	perMin   int
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewKeyRing(keys []APIKey, perMinute int) *KeyRing {
	if perMinute <= 0 {
		perMinute = 1
	}
	ring := &KeyRing{
		keys:     make(map[string]APIKey, len(keys)),
		perMin:   perMinute,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, k := range keys {
		ring.keys[k.Key] = k
	}
	return ring
}

// Lookup returns the key matching the Authorization header value.
func (r *KeyRing) Lookup(authorization string) (APIKey, bool) {
	token := strings.TrimSpace(strings.TrimPrefix(authorization, "Bearer "))
	if token == "" {
		return APIKey{}, false
	}
	k, ok := r.keys[token]
	return k, ok
}

// Allow consumes one request from the key's per-minute budget.
func (r *KeyRing) Allow(key string) bool {
	r.mu.Lock()
	limiter, ok := r.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(r.perMin)), r.perMin)
		r.limiters[key] = limiter
	}
	r.mu.Unlock()
	return limiter.Allow()
}
