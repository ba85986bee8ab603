package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/dbgateway/dbgateway/internal/cryptoutil"
	"github.com/dbgateway/dbgateway/internal/gwerror"
)

// tokenRequest is the JSON/form body of POST /token/generate, per spec.md
// §6. validator enforces the shape the spec pins (required client_id/
// client_secret, grant_type fixed to the one supported value) so a
// malformed request fails fast with a field-level message instead of a
// generic JSON decode error.
type tokenRequest struct {
	ClientID     string `json:"client_id" validate:"required"`
	ClientSecret string `json:"client_secret" validate:"required"`
	GrantType    string `json:"grant_type" validate:"required,eq=client_credentials"`
}

// tokenGenerate implements the OAuth2-client-credentials-shaped form of
// spec.md §6's token endpoint: POST with a JSON or form body, returning
// {access_token, token_type, expires_in}.
func (g *Gateway) tokenGenerate(w http.ResponseWriter, r *http.Request) {
	body, err := bodyAsMap(r, false)
	if err != nil {
		g.writeAuthError(w, err)
		return
	}

	req := tokenRequest{
		ClientID:     stringField(body, "client_id"),
		ClientSecret: stringField(body, "client_secret"),
		GrantType:    stringField(body, "grant_type"),
	}
	if err := g.validate.Struct(req); err != nil {
		g.writeAuthError(w, gwerror.BadRequest("invalid token request: %v", err))
		return
	}

	tokenString, expiresAt, err := g.issueToken(r.Context(), req.ClientID, req.ClientSecret)
	if err != nil {
		g.writeAuthError(w, err)
		return
	}

	g.writeJSON(w, http.StatusOK, map[string]any{
		"access_token": tokenString,
		"token_type":   "bearer",
		"expires_in":   int64(time.Until(expiresAt).Seconds()),
	})
}

// tokenGenerateLegacy implements the legacy GET form of spec.md §6's token
// endpoint: clientId/secret as query parameters, returning {expireAt, token}
// with expireAt as Unix seconds — this endpoint predates the naming switch
// and is never itself subject to it.
func (g *Gateway) tokenGenerateLegacy(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("clientId")
	secret := r.URL.Query().Get("secret")
	if clientID == "" || secret == "" {
		g.writeAuthError(w, gwerror.BadRequest("clientId and secret query parameters are required"))
		return
	}

	tokenString, expiresAt, err := g.issueToken(r.Context(), clientID, secret)
	if err != nil {
		g.writeAuthError(w, err)
		return
	}

	g.writeJSON(w, http.StatusOK, map[string]any{
		"expireAt": expiresAt.Unix(),
		"token":    tokenString,
	})
}

func (g *Gateway) issueToken(ctx context.Context, clientID, secret string) (string, time.Time, error) {
	client, err := g.Store.ClientByClientID(ctx, clientID)
	if err != nil {
		return "", time.Time{}, gwerror.Unauthorized("unknown client")
	}
	if !client.IsActive {
		return "", time.Time{}, gwerror.Forbidden("client is disabled")
	}
	if !cryptoutil.CheckSecret(client.HashedSecret, secret) {
		return "", time.Time{}, gwerror.Unauthorized("invalid client secret")
	}

	groupID := ""
	if client.GroupID != nil {
		groupID = *client.GroupID
	}
	return g.Tokens.Issue(client.ClientID, groupID)
}

func (g *Gateway) writeAuthError(w http.ResponseWriter, err error) {
	ge := gwerror.As(err)
	g.writeJSON(w, ge.Kind.HTTPStatus(), map[string]any{
		"success": false,
		"message": ge.Message,
		"data":    []any{},
	})
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
