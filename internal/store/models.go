// Package store defines the gateway's read model of the metadata database —
// datasources, modules, endpoints, macros, clients, IP rules, and the access
// log config — and a read-only Store interface over them. The gateway never
// writes these rows; admin CRUD is a separate, out-of-scope surface that
// writes to the same tables.
package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProductType identifies the wire protocol/driver family of a DataSource.
type ProductType string

const (
	ProductPostgres ProductType = "postgres"
	ProductMySQL    ProductType = "mysql"
	ProductTrino    ProductType = "trino"
)

// EngineType selects which execution engine runs an endpoint's content.
type EngineType string

const (
	EngineSQL    EngineType = "sql"
	EngineScript EngineType = "script"
)

// ParamLocation is where a bound parameter is read from on the inbound request.
type ParamLocation string

const (
	LocationPath   ParamLocation = "path"
	LocationQuery  ParamLocation = "query"
	LocationBody   ParamLocation = "body"
	LocationHeader ParamLocation = "header"
)

// ParamType is the coercion target for a bound parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

// DataSource is a configured backend database connection target. Password is
// stored encrypted at rest (internal/cryptoutil handles decrypt-on-read).
type DataSource struct {
	ID                 string
	Name               string
	ProductType        ProductType
	Host               string
	Port               int
	Database           string
	Username           string
	EncryptedPassword  string
	MaxIdlePerDatasource int
	MaxAgeSeconds      int
	ConnectTimeoutMS   int
	StatementTimeoutMS int
	IsActive           bool
	CloseAfterEachExecute bool
	UseSSL             bool
}

// Module groups endpoints under a common first URL path segment.
type Module struct {
	ID        string
	Name      string
	BasePath  string // first path segment, e.g. "orders"
	IsActive  bool
}

// Endpoint is one routable (method, path pattern) pair within a module.
type Endpoint struct {
	ID              string
	ModuleID        string
	Name            string
	Method          string // HTTP method, upper-case
	Path            string // pattern relative to module base, e.g. "/:id/items"
	Engine          EngineType
	DataSourceID    string
	PublishedVersionID *string // if set, overrides draft content
	IsActive        bool
	RequireAuth     bool
	RateLimitPerMin int
	MaxConcurrency  int
}

// EndpointContent is a specific version (draft or published snapshot) of an
// endpoint's template/script body, parameters, and response shaping rules.
type EndpointContent struct {
	ID         string
	EndpointID string
	Body       string // Jinja2-style SQL template, or script source
	Params     ParamList
	ResultTransform string // optional script run over the raw result set
}

// ParamList is stored as a jsonb column; it implements sql.Scanner so pgx
// can decode it directly into []ParamSpec without an intermediate type.
type ParamList []ParamSpec

func (p *ParamList) Scan(src any) error {
	if src == nil {
		*p = nil
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported scan type for ParamList: %T", src)
	}
	if len(raw) == 0 {
		*p = nil
		return nil
	}
	return json.Unmarshal(raw, p)
}

// ParamSpec describes one bound input parameter.
type ParamSpec struct {
	Name            string
	Location        ParamLocation
	Type            ParamType
	Required        bool
	Default         any
	ValidateScript  string // optional sandboxed validation script
}

// Macro is a reusable SQL/script fragment, global or module-scoped.
type Macro struct {
	ID         string
	ModuleID   *string // nil = global
	Name       string
	Body       string
	Engine     EngineType
	Published  bool
}

// Client is an API consumer authenticating via JWT/Basic/API key.
type Client struct {
	ID               string
	ClientID         string
	HashedSecret     string // bcrypt
	APIKey           string
	GroupID          *string
	IsActive         bool
	MaxConcurrency   int
	RateLimitPerMin  int
}

// ClientGroup allows shared concurrency/rate-limit policy across clients.
type ClientGroup struct {
	ID              string
	Name            string
	MaxConcurrency  int
	RateLimitPerMin int
}

// IPRule is one entry in the firewall's ordered allow/deny list.
type IPRule struct {
	ID        string
	CIDR      string
	Action    string // "allow" or "deny"
	SortOrder int
}

// AccessLogConfigRowID is the fixed singleton row id for AccessLogConfig, in
// keeping with the original's ACCESS_LOG_CONFIG_ROW_ID convention.
const AccessLogConfigRowID = "00000000-0000-0000-0000-000000000001"

// AccessLogConfig controls where access_record rows land.
type AccessLogConfig struct {
	ID               string
	DataSourceID     *string // nil = main metadata DB
	UseStarrocksAudit bool
	TruncateBodyBytes int
}

// AccessRecord is one logged request/response pair.
type AccessRecord struct {
	ID              string
	EndpointID      string
	ClientID        *string
	IPAddress       string
	HTTPMethod      string
	Path            string
	StatusCode      int
	RequestBody     string
	RequestHeaders  string
	RequestParams   string
	DurationMS      int64
	CreatedAt       time.Time
}
