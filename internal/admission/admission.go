package admission

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dbgateway/dbgateway/internal/store"
)

// Controller runs the four admission checks of spec.md §4.G in order:
// firewall, authentication, concurrency slot, rate limit.
type Controller struct {
	Firewall    *Firewall
	Auth        *Authenticator
	Concurrency *ConcurrencyLimiter
	RateLimit   *RateLimiter
	Store       store.Store

	// DefaultConcurrencyLimit/DefaultRateLimitPerMin are the global settings
	// used when neither the endpoint nor the client override them.
	DefaultConcurrencyLimit int
	DefaultRateLimitPerMin  int
}

// Decision carries the admitted client (nil for public endpoints) and the
// client_key the concurrency slot was acquired under, so the dispatcher can
// release it on every exit path.
type Decision struct {
	Client    *store.Client
	ClientKey string
	slotHeld  bool
}

// Admit runs all four checks for one request. On any non-nil error the
// caller must not proceed to the runner. Release must be called on every
// exit path once Admit returns a non-error Decision with a held slot.
func (c *Controller) Admit(ctx context.Context, endpoint store.Endpoint, header http.Header, clientIP string, now time.Time) (*Decision, error) {
	if err := c.Firewall.Check(ctx, clientIP); err != nil {
		return nil, err
	}

	var client *store.Client
	if endpoint.RequireAuth {
		var err error
		client, err = c.Auth.Authenticate(ctx, header)
		if err != nil {
			return nil, err
		}
		if err := CheckAuthorized(ctx, c.Store, client, endpoint.ID); err != nil {
			return nil, err
		}
	}

	clientKey := keyFor(client, clientIP)

	concurrencyLimit := c.DefaultConcurrencyLimit
	if endpoint.MaxConcurrency > 0 {
		concurrencyLimit = endpoint.MaxConcurrency
	} else if client != nil && client.MaxConcurrency > 0 {
		concurrencyLimit = client.MaxConcurrency
	}
	if err := c.Concurrency.Acquire(ctx, clientKey, concurrencyLimit); err != nil {
		return nil, err
	}
	decision := &Decision{Client: client, ClientKey: clientKey, slotHeld: true}

	rateLimit := c.DefaultRateLimitPerMin
	if endpoint.RateLimitPerMin > 0 {
		rateLimit = endpoint.RateLimitPerMin
	} else if client != nil && client.RateLimitPerMin > 0 {
		rateLimit = client.RateLimitPerMin
	}
	if rateLimit > 0 {
		rateKey := compositeRateKey(endpoint.ID, clientKey, client != nil)
		if err := c.RateLimit.Allow(ctx, rateKey, rateLimit, now); err != nil {
			c.Release(ctx, decision)
			return nil, err
		}
	}

	return decision, nil
}

// Release frees the concurrency slot acquired by Admit, if any. Safe to
// call multiple times and safe to call on a nil Decision.
func (c *Controller) Release(ctx context.Context, d *Decision) {
	if d == nil || !d.slotHeld {
		return
	}
	c.Concurrency.Release(ctx, d.ClientKey)
	d.slotHeld = false
}

func keyFor(client *store.Client, clientIP string) string {
	if client != nil {
		return client.ClientID
	}
	return "ip:" + clientIP
}

// compositeRateKey follows spec.md §4.G.4: "api:<endpoint>:<client_key>" when
// authenticated via a client grant context, else "client:<client_key>" —
// both forms key on the same composite identity, differing only in whether
// the endpoint id participates (per-endpoint vs per-client-wide limiting).
func compositeRateKey(endpointID, clientKey string, authenticated bool) string {
	if authenticated {
		return fmt.Sprintf("api:%s:%s", endpointID, clientKey)
	}
	return fmt.Sprintf("client:%s", clientKey)
}
