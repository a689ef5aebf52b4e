package session

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/samber/lo"

	"github.com/vburojevic/heirlock/internal/domain"
)

// DefaultAllowedSchemes are the locator schemes accepted when none are configured.
var DefaultAllowedSchemes = []string{"http", "https", "file"}

// Handle is the host environment's view of a spawned external session.
type Handle interface {
	// Alive reports whether the surface still exists. It must not block for long.
	Alive() bool
	// Close asks the surface to go away. The surface may ignore it.
	Close() error
}

// Spawner asks the host environment to create an external session. An error
// means the environment refused.
type Spawner interface {
	Spawn(ctx context.Context, locator, sessionID string) (Handle, error)
}

// SpawnerFunc adapts a function to Spawner.
type SpawnerFunc func(ctx context.Context, locator, sessionID string) (Handle, error)

// Spawn calls f.
func (f SpawnerFunc) Spawn(ctx context.Context, locator, sessionID string) (Handle, error) {
	return f(ctx, locator, sessionID)
}

// ValidateLocator checks that locator is a well-formed address with an
// allowed scheme.
func ValidateLocator(locator string, allowed []string) error {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return domain.NewError(domain.CodeInvalidResource, "resource locator is empty")
	}
	u, err := url.Parse(locator)
	if err != nil {
		return domain.WrapError(err, domain.CodeInvalidResource, "resource locator is not a valid URL")
	}
	if len(allowed) == 0 {
		allowed = DefaultAllowedSchemes
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		return domain.NewError(domain.CodeInvalidResource, fmt.Sprintf("resource locator %q has no scheme", locator))
	}
	if !lo.Contains(lo.Map(allowed, func(s string, _ int) string { return strings.ToLower(s) }), scheme) {
		return domain.NewError(domain.CodeInvalidResource, fmt.Sprintf("scheme %q is not allowed", scheme))
	}
	switch scheme {
	case "file":
		if u.Path == "" {
			return domain.NewError(domain.CodeInvalidResource, "file locator has no path")
		}
	default:
		if u.Host == "" {
			return domain.NewError(domain.CodeInvalidResource, fmt.Sprintf("resource locator %q has no host", locator))
		}
	}
	return nil
}
