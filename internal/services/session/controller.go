package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/permuto/internal/common"
	"github.com/ternarybob/permuto/internal/interfaces"
	"github.com/ternarybob/permuto/internal/models"
)

// Controller owns the authenticated portal session. It decides whether a
// fresh login is needed by inspecting where the browser currently is: the
// search surface means the session is valid, the login surface means it has
// expired, anywhere else means navigate and see where we land.
//
// Credentials are accepted per call and never stored on the controller, so
// they live only on the call stack for the duration of a login.
type Controller struct {
	driver  interfaces.PortalDriver
	config  *common.ScraperConfig
	logger  arbor.ILogger
	mu      sync.Mutex
	session models.Session
}

// NewController creates a session controller over a portal driver
func NewController(driver interfaces.PortalDriver, config *common.ScraperConfig, logger arbor.ILogger) *Controller {
	return &Controller{
		driver: driver,
		config: config,
		logger: logger,
		session: models.Session{
			State: models.SessionLoggedOut,
		},
	}
}

// Session returns a snapshot of the current session state.
func (c *Controller) Session() models.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// EnsureAuthenticated establishes a portal session if one is not already
// active. Transient portal failures are retried with backoff up to the
// configured attempt limit; rejected credentials fail immediately.
func (c *Controller) EnsureAuthenticated(ctx context.Context, cred models.Credential) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.State == models.SessionAuthenticated {
		surface, err := c.driver.Location(ctx)
		if err == nil && surface != interfaces.SurfaceLogin {
			c.session.LastActivityAt = time.Now()
			return nil
		}
		c.logger.Info().Str("username", cred.Username).Msg("Portal session expired, re-authenticating")
		c.session.State = models.SessionExpired
	}

	return c.authenticate(ctx, cred)
}

// EnsureOnSearchSurface makes sure the browser is sitting on the mapping
// search page with a valid session, logging in again if the portal bounced
// us back to the login surface.
func (c *Controller) EnsureOnSearchSurface(ctx context.Context, cred models.Credential) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	surface, err := c.driver.Location(ctx)
	if err != nil {
		return fmt.Errorf("failed to determine portal location: %w", err)
	}

	switch surface {
	case interfaces.SurfaceSearch:
		c.session.LastActivityAt = time.Now()
		return nil

	case interfaces.SurfaceLogin:
		c.logger.Info().Msg("On login surface, session expired")
		c.session.State = models.SessionExpired
		if err := c.authenticate(ctx, cred); err != nil {
			return err
		}

	default:
		// Somewhere else in the portal with a live session. Fall through
		// to a direct navigation.
	}

	landed, err := c.driver.NavigateTo(ctx, interfaces.SurfaceSearch)
	if err != nil {
		return fmt.Errorf("failed to navigate to search surface: %w", err)
	}
	if landed == interfaces.SurfaceLogin {
		// Session died between the location check and the navigation.
		c.session.State = models.SessionExpired
		if err := c.authenticate(ctx, cred); err != nil {
			return err
		}
		landed, err = c.driver.NavigateTo(ctx, interfaces.SurfaceSearch)
		if err != nil {
			return fmt.Errorf("failed to navigate to search surface after relogin: %w", err)
		}
	}
	if landed != interfaces.SurfaceSearch {
		return fmt.Errorf("%w: expected search surface, landed on %s", interfaces.ErrPortalUnavailable, landed)
	}

	c.session.LastActivityAt = time.Now()
	return nil
}

// Logout tears down the session state. The driver keeps its browser; only
// the tracked session is reset.
func (c *Controller) Logout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = models.Session{State: models.SessionLoggedOut}
}

// authenticate performs the login with bounded retries. Caller holds c.mu.
func (c *Controller) authenticate(ctx context.Context, cred models.Credential) error {
	c.session.State = models.SessionAuthenticating

	maxAttempts := c.config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	backoff := c.config.RetryBackoffDuration()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := c.driver.Authenticate(ctx, cred)
		if err == nil {
			now := time.Now()
			c.session = models.Session{
				State:          models.SessionAuthenticated,
				EstablishedAt:  now,
				LastActivityAt: now,
				Owner:          cred.Username,
			}
			c.logger.Info().Str("username", cred.Username).Msg("Portal session established")
			return nil
		}

		if errors.Is(err, interfaces.ErrInvalidCredentials) {
			// Retrying a rejected credential only risks an account lockout.
			c.session.State = models.SessionLoggedOut
			return err
		}

		lastErr = err
		c.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Msg("Portal login attempt failed")

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				c.session.State = models.SessionLoggedOut
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	c.session.State = models.SessionLoggedOut
	return fmt.Errorf("portal login failed after %d attempts: %w", maxAttempts, lastErr)
}
