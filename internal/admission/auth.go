package admission

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/dbgateway/dbgateway/internal/cryptoutil"
	"github.com/dbgateway/dbgateway/internal/gwerror"
	"github.com/dbgateway/dbgateway/internal/store"
)

// Authenticator resolves the inbound request's Client for private
// endpoints, trying Bearer JWT, Basic, and (if enabled) X-API-Key in that
// order, matching spec.md §4.G.2.
type Authenticator struct {
	store        store.Store
	tokens       *cryptoutil.TokenIssuer
	allowAPIKey  bool
}

func NewAuthenticator(s store.Store, tokens *cryptoutil.TokenIssuer, allowAPIKey bool) *Authenticator {
	return &Authenticator{store: s, tokens: tokens, allowAPIKey: allowAPIKey}
}

// Authenticate returns the resolved, active Client or a 401 error. It
// does not check endpoint-level authorization (CheckAuthorized does).
func (a *Authenticator) Authenticate(ctx context.Context, header http.Header) (*store.Client, error) {
	authz := header.Get("Authorization")

	switch {
	case strings.HasPrefix(authz, "Bearer "):
		return a.authenticateBearer(ctx, strings.TrimPrefix(authz, "Bearer "))
	case strings.HasPrefix(authz, "Basic "):
		return a.authenticateBasic(ctx, strings.TrimPrefix(authz, "Basic "))
	}

	if a.allowAPIKey {
		if key := header.Get("X-API-Key"); key != "" {
			return a.authenticateAPIKey(ctx, key)
		}
	}

	return nil, gwerror.Unauthorized("missing or unsupported authentication credentials")
}

func (a *Authenticator) authenticateBearer(ctx context.Context, token string) (*store.Client, error) {
	claims, err := a.tokens.Verify(token)
	if err != nil {
		return nil, gwerror.Unauthorized("invalid bearer token: %v", err)
	}
	client, err := a.store.ClientByClientID(ctx, claims.ClientID)
	if err != nil {
		return nil, gwerror.Unauthorized("unknown client %q", claims.ClientID)
	}
	return activeOnly(client)
}

func (a *Authenticator) authenticateBasic(ctx context.Context, encoded string) (*store.Client, error) {
	clientID, secret, err := decodeIDSecret(encoded)
	if err != nil {
		return nil, gwerror.Unauthorized("malformed basic credentials")
	}
	return a.verifySecret(ctx, clientID, secret)
}

func (a *Authenticator) authenticateAPIKey(ctx context.Context, encoded string) (*store.Client, error) {
	clientID, secret, err := decodeIDSecret(encoded)
	if err != nil {
		return nil, gwerror.Unauthorized("malformed API key")
	}
	return a.verifySecret(ctx, clientID, secret)
}

func (a *Authenticator) verifySecret(ctx context.Context, clientID, secret string) (*store.Client, error) {
	client, err := a.store.ClientByClientID(ctx, clientID)
	if err != nil {
		return nil, gwerror.Unauthorized("unknown client %q", clientID)
	}
	if !cryptoutil.CheckSecret(client.HashedSecret, secret) {
		return nil, gwerror.Unauthorized("invalid client secret")
	}
	return activeOnly(client)
}

func activeOnly(client *store.Client) (*store.Client, error) {
	if !client.IsActive {
		return nil, gwerror.Unauthorized("client %q is not active", client.ClientID)
	}
	return client, nil
}

func decodeIDSecret(encoded string) (id, secret string, err error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", err
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return "", "", gwerror.BadRequest("malformed id:secret pair")
	}
	return parts[0], parts[1], nil
}

// CheckAuthorized enforces spec.md §4.G.2's last sentence: an authenticated
// Client with no Group and no direct Endpoint grant is 403, not 401.
func CheckAuthorized(ctx context.Context, s store.Store, client *store.Client, endpointID string) error {
	if client.GroupID != nil {
		return nil
	}
	ok, err := s.ClientCanAccessEndpoint(ctx, client.ID, endpointID)
	if err != nil {
		return gwerror.Internal(err, "checking endpoint grant")
	}
	if !ok {
		return gwerror.Forbidden("client %q has no access to this endpoint", client.ClientID)
	}
	return nil
}
