package interfaces

import (
	"context"

	"github.com/ternarybob/permuto/internal/models"
)

// Surface identifies a protected page of the exchange portal.
type Surface string

const (
	// SurfaceLogin is the SSO login page. Landing here on a navigation means
	// the server has silently expired the session.
	SurfaceLogin Surface = "login"
	// SurfaceSearch is the module-mapping search page all queries run from.
	SurfaceSearch Surface = "search"
	// SurfaceUnknown is any other portal page.
	SurfaceUnknown Surface = "unknown"
)

// PortalDriver abstracts the browser automation against the exchange portal
// so orchestration logic is independent of the underlying technology.
// Implementations are not safe for concurrent use; the single authenticated
// session is owned by the SessionController.
type PortalDriver interface {
	// Authenticate submits the credential to the portal login flow.
	// Returns ErrInvalidCredentials when the portal rejects the login.
	Authenticate(ctx context.Context, cred models.Credential) error

	// Location classifies the surface the session currently sits on.
	Location(ctx context.Context) (Surface, error)

	// NavigateTo drives the session to the given surface and reports the
	// surface actually landed on (the portal may bounce to login).
	NavigateTo(ctx context.Context, surface Surface) (Surface, error)

	// FetchCountries reads the discovery index: country names mapped to the
	// partner universities selectable under each.
	FetchCountries(ctx context.Context) (map[string][]string, error)

	// FetchMappingsHTML runs a mapping search for one university and returns
	// the raw results-table HTML for parsing.
	FetchMappingsHTML(ctx context.Context, university, country string) (string, error)

	// Close releases the browser session.
	Close() error
}
