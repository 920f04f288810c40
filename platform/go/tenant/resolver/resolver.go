package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"slices"
	"strings"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

// Mode selects where the tenant identifier is read from. A deployment uses
// exactly one mode.
type Mode string

const (
	ModeSubdomain Mode = "subdomain"
	ModeHeader    Mode = "header"
	ModePath      Mode = "path"
)

const (
	DefaultHeader     = "X-Tenant"
	DefaultPathPrefix = "/t"
)

var identifierPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Directory is the lookup the resolver needs. It returns an error matching
// tenant.ErrTenantNotFound when no record has the identifier.
type Directory interface {
	LookupByIdentifier(ctx context.Context, identifier string) (tenant.Entry, error)
}

// Config selects and tunes the resolution mode.
type Config struct {
	Mode Mode
	// BaseDomain is required in subdomain mode, e.g. "stocker.app".
	BaseDomain string
	// Header is read in header mode. Defaults to X-Tenant.
	Header string
	// PathPrefix precedes the identifier in path mode. Defaults to /t.
	PathPrefix string
	// ReservedSubdomains never name a tenant. Defaults to www.
	ReservedSubdomains []string
}

// Resolver maps a request to a tenant.Resolved. It holds no state between
// requests.
type Resolver struct {
	dir Directory
	cfg Config
}

// New validates cfg and returns a Resolver.
func New(dir Directory, cfg Config) (*Resolver, error) {
	if dir == nil {
		return nil, errors.New("resolver requires directory")
	}

	switch cfg.Mode {
	case ModeSubdomain:
		cfg.BaseDomain = strings.Trim(strings.ToLower(strings.TrimSpace(cfg.BaseDomain)), ".")
		if cfg.BaseDomain == "" {
			return nil, errors.New("subdomain resolution requires a base domain")
		}
		if cfg.ReservedSubdomains == nil {
			cfg.ReservedSubdomains = []string{"www"}
		}
	case ModeHeader:
		if strings.TrimSpace(cfg.Header) == "" {
			cfg.Header = DefaultHeader
		}
	case ModePath:
		if strings.TrimSpace(cfg.PathPrefix) == "" {
			cfg.PathPrefix = DefaultPathPrefix
		}
		if trimmed := strings.Trim(cfg.PathPrefix, "/"); trimmed != "" {
			cfg.PathPrefix = "/" + trimmed
		} else {
			cfg.PathPrefix = ""
		}
	default:
		return nil, fmt.Errorf("unknown resolution mode %q", cfg.Mode)
	}

	return &Resolver{dir: dir, cfg: cfg}, nil
}

// Mode returns the configured resolution mode.
func (r *Resolver) Mode() Mode { return r.cfg.Mode }

// Extract returns the normalized identifier carried by req.
func (r *Resolver) Extract(req *http.Request) (string, error) {
	var candidate string
	switch r.cfg.Mode {
	case ModeSubdomain:
		candidate = r.fromHost(req.Host)
	case ModeHeader:
		candidate = req.Header.Get(r.cfg.Header)
	case ModePath:
		candidate = r.fromPath(req.URL.Path)
	}

	candidate = strings.ToLower(strings.TrimSpace(candidate))
	if candidate == "" {
		return "", tenant.IdentifierMissing(fmt.Sprintf("no tenant identifier in %s", r.cfg.Mode))
	}
	if !identifierPattern.MatchString(candidate) {
		return "", tenant.IdentifierMissing(fmt.Sprintf("malformed tenant identifier %q", candidate))
	}
	return candidate, nil
}

// Resolve extracts the identifier and checks the directory. Only Active
// tenants resolve. Deleted tenants report not found; other states report
// not active. Both failures carry the tenant id when a record exists.
func (r *Resolver) Resolve(req *http.Request) (tenant.Resolved, error) {
	identifier, err := r.Extract(req)
	if err != nil {
		return tenant.Resolved{}, err
	}

	entry, err := r.dir.LookupByIdentifier(req.Context(), identifier)
	if err != nil {
		if errors.Is(err, tenant.ErrTenantNotFound) {
			return tenant.Resolved{}, tenant.NotFound(identifier, entry.ID)
		}
		return tenant.Resolved{}, fmt.Errorf("lookup tenant %q: %w", identifier, err)
	}

	switch {
	case entry.State == tenant.StateDeleted:
		return tenant.Resolved{}, tenant.NotFound(identifier, entry.ID)
	case !entry.State.Resolvable():
		return tenant.Resolved{}, tenant.NotActive(identifier, entry.ID, entry.State)
	case entry.Descriptor == nil:
		// Active without a descriptor cannot happen through the directory.
		return tenant.Resolved{}, tenant.NotActive(identifier, entry.ID, entry.State)
	}

	return tenant.Resolved{
		TenantID:   entry.ID,
		Identifier: entry.Identifier,
		Descriptor: *entry.Descriptor,
	}, nil
}

func (r *Resolver) fromHost(hostport string) string {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")

	suffix := "." + r.cfg.BaseDomain
	if !strings.HasSuffix(host, suffix) {
		return ""
	}
	sub := strings.TrimSuffix(host, suffix)
	// Only the label directly under the base domain names the tenant.
	if strings.Contains(sub, ".") {
		return ""
	}
	if slices.Contains(r.cfg.ReservedSubdomains, sub) {
		return ""
	}
	return sub
}

func (r *Resolver) fromPath(path string) string {
	rest, ok := strings.CutPrefix(path, r.cfg.PathPrefix+"/")
	if !ok {
		return ""
	}
	identifier, _, _ := strings.Cut(rest, "/")
	return identifier
}
