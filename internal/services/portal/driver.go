package portal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/permuto/internal/common"
	"github.com/ternarybob/permuto/internal/interfaces"
	"github.com/ternarybob/permuto/internal/models"
)

// Form selectors on the exchange portal. The login form is the university
// SSO page; the search form is the module mapping page behind it.
const (
	selUsername     = `#userNameInput`
	selPassword     = `#passwordInput`
	selLoginSubmit  = `#submitButton`
	selCountry      = `select[name="country"]`
	selUniversity   = `select[name="university"]`
	selSearchSubmit = `button[type="submit"]`
	selResultsTable = `table.mapping-results`
)

// Driver drives the exchange portal through a real Chrome instance. The
// portal renders its search form and results with JavaScript, so plain HTTP
// fetching does not work against it.
type Driver struct {
	config          *common.PortalConfig
	logger          arbor.ILogger
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	allocatorCancel context.CancelFunc
	initialized     bool
	mu              sync.Mutex
}

// NewDriver creates a portal driver. Call Initialize before use.
func NewDriver(config *common.PortalConfig, logger arbor.ILogger) *Driver {
	return &Driver{
		config: config,
		logger: logger,
	}
}

var _ interfaces.PortalDriver = (*Driver)(nil)

// Initialize starts the browser and installs the dialog handler. The portal
// throws JavaScript alerts on some error paths; unhandled, they wedge every
// subsequent CDP action, so each one is accepted as it appears.
func (d *Driver) Initialize(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.initialized {
		return fmt.Errorf("portal driver already initialized")
	}

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.UserAgent(d.config.UserAgent),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.WindowSize(1920, 1080),
	}
	if d.config.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	}

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(ctx, opts...)
	d.allocatorCancel = allocatorCancel

	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx,
		chromedp.WithLogf(func(s string, i ...interface{}) {
			d.logger.Debug().Msgf("chromedp: "+s, i...)
		}),
	)
	d.browserCtx = browserCtx
	d.browserCancel = browserCancel

	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		if dialog, ok := ev.(*page.EventJavascriptDialogOpening); ok {
			d.logger.Warn().Str("message", dialog.Message).Msg("Dismissing portal dialog")
			go func() {
				if err := chromedp.Run(browserCtx, page.HandleJavaScriptDialog(true)); err != nil {
					d.logger.Error().Err(err).Msg("Failed to dismiss portal dialog")
				}
			}()
		}
	})

	testCtx, testCancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer testCancel()
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		d.shutdownLocked()
		return fmt.Errorf("%w: browser failed startup test: %v", interfaces.ErrPortalUnavailable, err)
	}

	d.initialized = true
	d.logger.Info().Bool("headless", d.config.Headless).Msg("Portal driver initialized")
	return nil
}

// Authenticate logs in through the SSO form. Landing back on the login
// surface after submit means the portal rejected the credentials.
func (d *Driver) Authenticate(ctx context.Context, cred models.Credential) error {
	if err := d.requireInitialized(); err != nil {
		return err
	}

	opCtx, cancel := d.opContext(ctx)
	defer cancel()

	d.logger.Debug().Str("username", cred.Username).Msg("Submitting portal login")

	username := cred.Username
	if cred.Domain != "" {
		username = cred.Domain + `\` + cred.Username
	}

	err := chromedp.Run(opCtx,
		chromedp.Navigate(d.config.LoginURL),
		chromedp.WaitVisible(selUsername, chromedp.ByQuery),
		chromedp.SendKeys(selUsername, username, chromedp.ByQuery),
		chromedp.SendKeys(selPassword, cred.Password, chromedp.ByQuery),
		chromedp.Click(selLoginSubmit, chromedp.ByQuery),
		chromedp.Sleep(2*time.Second),
	)
	if err != nil {
		return fmt.Errorf("%w: login submit failed: %v", interfaces.ErrPortalUnavailable, err)
	}

	surface, err := d.Location(opCtx)
	if err != nil {
		return err
	}
	if surface == interfaces.SurfaceLogin {
		return interfaces.ErrInvalidCredentials
	}

	d.logger.Info().Str("username", cred.Username).Msg("Portal login accepted")
	return nil
}

// Location classifies the browser's current URL into a portal surface.
func (d *Driver) Location(ctx context.Context) (interfaces.Surface, error) {
	if err := d.requireInitialized(); err != nil {
		return interfaces.SurfaceUnknown, err
	}

	opCtx, cancel := d.opContext(ctx)
	defer cancel()

	var currentURL string
	if err := chromedp.Run(opCtx, chromedp.Location(&currentURL)); err != nil {
		return interfaces.SurfaceUnknown, fmt.Errorf("%w: failed to read location: %v", interfaces.ErrPortalUnavailable, err)
	}

	return d.classify(currentURL), nil
}

// NavigateTo navigates to the named surface and reports where the portal
// actually put us. A session redirect to the login page shows up here as
// SurfaceLogin.
func (d *Driver) NavigateTo(ctx context.Context, surface interfaces.Surface) (interfaces.Surface, error) {
	if err := d.requireInitialized(); err != nil {
		return interfaces.SurfaceUnknown, err
	}

	var target string
	switch surface {
	case interfaces.SurfaceSearch:
		target = d.config.SearchURL
	case interfaces.SurfaceLogin:
		target = d.config.LoginURL
	default:
		return interfaces.SurfaceUnknown, fmt.Errorf("cannot navigate to surface %q", surface)
	}

	opCtx, cancel := d.opContext(ctx)
	defer cancel()

	var landedURL string
	err := chromedp.Run(opCtx,
		chromedp.Navigate(target),
		chromedp.Sleep(1*time.Second),
		chromedp.Location(&landedURL),
	)
	if err != nil {
		return interfaces.SurfaceUnknown, fmt.Errorf("%w: navigation to %s failed: %v", interfaces.ErrPortalUnavailable, surface, err)
	}

	return d.classify(landedURL), nil
}

// FetchCountries reads the search form's country dropdown and, for each
// country, the partner universities the portal lists under it.
func (d *Driver) FetchCountries(ctx context.Context) (map[string][]string, error) {
	if err := d.requireInitialized(); err != nil {
		return nil, err
	}

	opCtx, cancel := d.opContext(ctx)
	defer cancel()

	var countries []string
	err := chromedp.Run(opCtx,
		chromedp.WaitVisible(selCountry, chromedp.ByQuery),
		chromedp.Evaluate(optionValuesJS(selCountry), &countries),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read country list: %v", interfaces.ErrPortalUnavailable, err)
	}

	result := make(map[string][]string, len(countries))
	for _, country := range countries {
		var universities []string
		err := chromedp.Run(opCtx,
			chromedp.SetValue(selCountry, country, chromedp.ByQuery),
			chromedp.Evaluate(dispatchChangeJS(selCountry), nil),
			chromedp.Sleep(500*time.Millisecond),
			chromedp.Evaluate(optionValuesJS(selUniversity), &universities),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read universities for %s: %v", interfaces.ErrPortalUnavailable, country, err)
		}
		result[country] = universities
	}

	d.logger.Debug().Int("countries", len(result)).Msg("Discovery index fetched from portal")
	return result, nil
}

// FetchMappingsHTML submits the search form for one university and returns
// the raw HTML of the results table.
func (d *Driver) FetchMappingsHTML(ctx context.Context, university, country string) (string, error) {
	if err := d.requireInitialized(); err != nil {
		return "", err
	}

	opCtx, cancel := d.opContext(ctx)
	defer cancel()

	var html string
	err := chromedp.Run(opCtx,
		chromedp.WaitVisible(selCountry, chromedp.ByQuery),
		chromedp.SetValue(selCountry, country, chromedp.ByQuery),
		chromedp.Evaluate(dispatchChangeJS(selCountry), nil),
		chromedp.Sleep(500*time.Millisecond),
		chromedp.SetValue(selUniversity, university, chromedp.ByQuery),
		chromedp.Click(selSearchSubmit, chromedp.ByQuery),
		chromedp.WaitVisible(selResultsTable, chromedp.ByQuery),
		chromedp.OuterHTML(selResultsTable, &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("%w: mapping search for %s failed: %v", interfaces.ErrPortalUnavailable, university, err)
	}

	return html, nil
}

// Close shuts down the browser.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shutdownLocked()
	return nil
}

func (d *Driver) shutdownLocked() {
	if d.browserCancel != nil {
		d.browserCancel()
		d.browserCancel = nil
	}
	if d.allocatorCancel != nil {
		d.allocatorCancel()
		d.allocatorCancel = nil
	}
	d.initialized = false
}

func (d *Driver) requireInitialized() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return fmt.Errorf("portal driver not initialized")
	}
	return nil
}

// opContext derives a per-operation timeout context from the browser
// context. The caller context only contributes cancellation; chromedp
// actions must run against the browser context chain.
func (d *Driver) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithTimeout(d.browserCtx, d.config.RequestTimeoutDuration())
	stop := context.AfterFunc(ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

// classify maps a portal URL onto a surface. The SSO host appears in the
// URL whenever the portal wants a login; the search page path identifies a
// live session sitting on the form.
func (d *Driver) classify(url string) interfaces.Surface {
	lower := strings.ToLower(url)
	if d.config.SearchURL != "" && strings.Contains(lower, strings.ToLower(pathOf(d.config.SearchURL))) {
		return interfaces.SurfaceSearch
	}
	if strings.Contains(lower, "sso") || strings.Contains(lower, "login") || strings.Contains(lower, "adfs") {
		return interfaces.SurfaceLogin
	}
	return interfaces.SurfaceUnknown
}

// pathOf strips the scheme and host, leaving the path to match on. Matching
// on the path keeps classification stable when the portal shuffles hosts.
func pathOf(url string) string {
	s := url
	if idx := strings.Index(s, "://"); idx >= 0 {
		s = s[idx+3:]
	}
	if idx := strings.Index(s, "/"); idx >= 0 {
		return s[idx:]
	}
	return s
}

func optionValuesJS(selector string) string {
	return fmt.Sprintf(`Array.from(document.querySelector(%q).options)
		.map(o => o.value)
		.filter(v => v !== '')`, selector)
}

func dispatchChangeJS(selector string) string {
	return fmt.Sprintf(`document.querySelector(%q).dispatchEvent(new Event('change', { bubbles: true }))`, selector)
}
