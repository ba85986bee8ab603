package store

import "context"

// Store is the gateway's read-only view of the metadata database. Admin
// CRUD writes through a separate, out-of-scope surface to the same tables;
// nothing in the request plane ever mutates them, which is why this
// interface carries no Create/Update/Delete methods.
type Store interface {
	DataSource(ctx context.Context, id string) (*DataSource, error)
	Module(ctx context.Context, basePath string) (*Module, error)
	// Modules lists every active module, used to populate the resolver's
	// routing table at startup.
	Modules(ctx context.Context) ([]Module, error)
	EndpointsForModule(ctx context.Context, moduleID string) ([]Endpoint, error)
	// Endpoint looks up a single endpoint by id, independent of its module —
	// used by the config cache's loader (internal/cache), keyed on endpoint
	// id rather than (module, path).
	Endpoint(ctx context.Context, id string) (*Endpoint, error)
	EndpointContent(ctx context.Context, endpointID, versionID string) (*EndpointContent, error)
	Macros(ctx context.Context, moduleID *string) ([]Macro, error)
	ClientByClientID(ctx context.Context, clientID string) (*Client, error)
	ClientByAPIKey(ctx context.Context, apiKey string) (*Client, error)
	ClientGroup(ctx context.Context, groupID string) (*ClientGroup, error)
	IPRules(ctx context.Context) ([]IPRule, error)
	AccessLogConfig(ctx context.Context) (*AccessLogConfig, error)
	// ClientCanAccessEndpoint reports whether client has a direct grant on
	// endpointID, independent of group membership (spec.md §4.G.2: a client
	// with neither a group nor a direct grant on the endpoint is denied).
	ClientCanAccessEndpoint(ctx context.Context, clientID, endpointID string) (bool, error)
}

// AccessLogWriter is implemented by internal/accesslog and injected back
// into callers that need to persist an AccessRecord without importing the
// accesslog package directly (avoids an import cycle with internal/runner).
type AccessLogWriter interface {
	Write(ctx context.Context, rec AccessRecord)
}
