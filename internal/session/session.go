// Package session drives the single headless-browser session against the
// procurement site: discovery searches, detail pages, and organization
// lookups, with the challenge gate handled in-line.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pccwatch/tender-crawler/internal/progress"
	"github.com/pccwatch/tender-crawler/internal/tender"
)

// Site paths. All page access goes through the one validated browser
// session; the challenge clearance is a session cookie.
const (
	searchPath    = "/prkms/tender/common/bulletion/readBulletion"
	detailPath    = "/tps/QueryTender/query/searchTenderDetail"
	orgSearchPath = "/prkms/tender/common/orgName/search"

	// pageParam is the site's paginator parameter.
	pageParam = "d-3611040-p"
)

// hideWebdriverScript masks the automation flag before any page script runs.
const hideWebdriverScript = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined})`

// Config controls the browser session.
type Config struct {
	BaseURL          string
	Headless         bool
	UserAgent        string
	NavTimeout       time.Duration
	PageQPS          float64
	PageCheckRetries int
	OrgLookupRetries int
}

func (c Config) withDefaults() Config {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 25 * time.Second
	}
	if c.PageCheckRetries <= 0 {
		c.PageCheckRetries = 5
	}
	if c.OrgLookupRetries <= 0 {
		c.OrgLookupRetries = 5
	}
	return c
}

// Driver implements tender.Session over a single chromedp browser tab. It
// also exposes the challenge surface the solver drives. Not safe for
// concurrent use.
type Driver struct {
	cfg    Config
	logger *zap.Logger

	allocCancel   context.CancelFunc
	browser       context.Context
	browserCancel context.CancelFunc

	limiter *rate.Limiter
	solver  tender.Solver
	emitter progress.Emitter
	runID   uuid.UUID

	mu         sync.Mutex
	dialogText string
	dialogSeen bool

	// probe and nav are test seams; nil selects the chromedp-backed
	// implementations.
	probe func(ctx context.Context) (bool, error)
	nav   func(ctx context.Context, pageURL string) error
}

// New starts the browser and returns a ready driver. Callers must Close it.
func New(cfg Config, logger *zap.Logger) (*Driver, error) {
	cfg = cfg.withDefaults()
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-cache", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browser, browserCancel := chromedp.NewContext(allocCtx)

	d := &Driver{
		cfg:           cfg,
		logger:        logger,
		allocCancel:   allocCancel,
		browser:       browser,
		browserCancel: browserCancel,
	}
	if cfg.PageQPS > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.PageQPS), 1)
	}

	chromedp.ListenTarget(browser, d.handleTargetEvent)

	// Materialize the browser and install the anti-detection hook before the
	// first navigation.
	err := chromedp.Run(browser, chromedp.ActionFunc(func(ctx context.Context) error {
		_, innerErr := page.AddScriptToEvaluateOnNewDocument(hideWebdriverScript).Do(ctx)
		return innerErr
	}))
	if err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return d, nil
}

// UseSolver attaches the challenge solver. Without one, any challenge gate
// surfaces as tender.ErrChallengeUnsolved.
func (d *Driver) UseSolver(s tender.Solver) {
	d.solver = s
}

// UseEmitter attaches a progress emitter; challenge solves are reported
// under the given run id.
func (d *Driver) UseEmitter(e progress.Emitter, runID uuid.UUID) {
	d.emitter = e
	d.runID = runID
}

// Close tears down the browser and its allocator.
func (d *Driver) Close() {
	d.browserCancel()
	d.allocCancel()
}

// handleTargetEvent records JS dialogs and auto-accepts them so the page
// never blocks. The recorded text is drained through ConsumeDialog.
func (d *Driver) handleTargetEvent(ev any) {
	dialog, ok := ev.(*page.EventJavascriptDialogOpening)
	if !ok {
		return
	}
	d.mu.Lock()
	d.dialogText = dialog.Message
	d.dialogSeen = true
	d.mu.Unlock()
	d.logger.Debug("page dialog", zap.String("message", dialog.Message))

	go func() {
		if err := chromedp.Run(d.browser, page.HandleJavaScriptDialog(true)); err != nil {
			d.logger.Warn("dismiss dialog failed", zap.Error(err))
		}
	}()
}

// ConsumeDialog returns and clears the last dialog text seen since the
// previous call.
func (d *Driver) ConsumeDialog() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.dialogSeen {
		return "", false
	}
	text := d.dialogText
	d.dialogText = ""
	d.dialogSeen = false
	return text, true
}

// run executes chromedp actions on the session tab, bounded by the nav
// timeout and the caller's context.
func (d *Driver) run(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(d.browser, d.cfg.NavTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(opCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// navigate rate-limits, loads the url, and waits for the document body.
func (d *Driver) navigate(ctx context.Context, pageURL string) error {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("page rate limit: %w", err)
		}
	}
	err := d.run(ctx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500*time.Millisecond),
	)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", pageURL, err)
	}
	return nil
}

// pageHTML snapshots the rendered document.
func (d *Driver) pageHTML(ctx context.Context) (string, error) {
	var html string
	if err := d.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("snapshot page: %w", err)
	}
	return html, nil
}

// ensureUnblocked solves the challenge gate when it blocks the current
// page, then returns the session to pageURL before the caller reads
// anything off it. The gate is served on the site's validate page, which
// does not redirect back on its own. A failed solve or a missing solver
// yields ErrChallengeUnsolved.
func (d *Driver) ensureUnblocked(ctx context.Context, pageURL string) error {
	visible, err := d.probeChallenge(ctx)
	if err != nil {
		return fmt.Errorf("probe challenge: %w", err)
	}
	if !visible {
		return nil
	}
	if d.solver == nil {
		return tender.ErrChallengeUnsolved
	}
	outcome, err := d.solver.Solve(ctx)
	if err != nil {
		return fmt.Errorf("solve challenge: %w", err)
	}
	d.emitChallenge(outcome)
	if outcome != tender.OutcomeSolved {
		return tender.ErrChallengeUnsolved
	}
	if err := d.returnTo(ctx, pageURL); err != nil {
		return fmt.Errorf("return after challenge: %w", err)
	}
	return nil
}

func (d *Driver) probeChallenge(ctx context.Context) (bool, error) {
	if d.probe != nil {
		return d.probe(ctx)
	}
	return d.ChallengeVisible(ctx)
}

func (d *Driver) returnTo(ctx context.Context, pageURL string) error {
	if pageURL == "" {
		return nil
	}
	if d.nav != nil {
		return d.nav(ctx, pageURL)
	}
	return d.navigate(ctx, pageURL)
}

func (d *Driver) emitChallenge(outcome tender.SolveOutcome) {
	if d.emitter == nil {
		return
	}
	result := progress.ResultSolved
	if outcome != tender.OutcomeSolved {
		result = progress.ResultFailed
	}
	d.emitter.Emit(progress.Event{
		RunID:  progress.UUIDToBytes(d.runID),
		TS:     time.Now().UTC(),
		Stage:  progress.StageChallengeDone,
		Result: result,
	})
}

// Search starts a discovery search and returns its lazy page iterator.
func (d *Driver) Search(_ context.Context, q tender.SearchQuery) (tender.PageIterator, error) {
	if q.Query == "" {
		return nil, fmt.Errorf("search query is required")
	}
	if q.PageSize <= 0 {
		return nil, fmt.Errorf("search page size must be > 0")
	}
	return &resultPages{driver: d, query: q, page: 1}, nil
}

// searchURL builds the bulletin search url for one result page.
func (d *Driver) searchURL(q tender.SearchQuery, pageNum int) string {
	params := url.Values{}
	params.Set("querySentence", q.Query)
	params.Set("tenderStatusType", "招標")
	params.Set("sortCol", "TENDER_NOTICE_DATE")
	params.Set("timeRange", q.TimeRange)
	params.Set("pageSize", strconv.Itoa(q.PageSize))
	if pageNum > 1 {
		params.Set(pageParam, strconv.Itoa(pageNum))
	}
	return d.cfg.BaseURL + searchPath + "?" + params.Encode()
}

// FetchDetail loads one tender detail page and extracts its labeled fields.
// Transport and parse failures come back as DetailFetchError; an unsolved
// challenge gate comes back as ErrChallengeUnsolved so the caller can defer
// the record instead of burning its retry budget.
func (d *Driver) FetchDetail(ctx context.Context, pkPmsMain string) (tender.DetailPayload, error) {
	detailURL := d.cfg.BaseURL + detailPath + "?pkPmsMain=" + url.QueryEscape(pkPmsMain)

	if err := d.navigate(ctx, detailURL); err != nil {
		return nil, tender.NewDetailFetchError(detailURL, err)
	}
	if err := d.ensureUnblocked(ctx, detailURL); err != nil {
		if errors.Is(err, tender.ErrChallengeUnsolved) {
			return nil, err
		}
		return nil, tender.NewDetailFetchError(detailURL, err)
	}
	html, err := d.pageHTML(ctx)
	if err != nil {
		return nil, tender.NewDetailFetchError(detailURL, err)
	}

	payload := parseDetailPayload(html)
	if _, ok := payload[tender.DetailColumnRequired]; !ok {
		return nil, tender.NewDetailFetchError(detailURL,
			fmt.Errorf("detail page missing %s field", tender.DetailColumnRequired))
	}
	return payload, nil
}

// LookupOrganizationID resolves an organization name through the site's
// org-name search, retrying page loads a bounded number of times.
func (d *Driver) LookupOrganizationID(ctx context.Context, name string) (string, error) {
	searchURL := d.cfg.BaseURL + orgSearchPath

	var lastErr error
	for attempt := 1; attempt <= d.cfg.OrgLookupRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		id, err := d.lookupOnce(ctx, searchURL, name)
		if err == nil {
			d.logger.Debug("organization resolved",
				zap.String("name", name), zap.String("site_id", id), zap.Int("attempt", attempt))
			return id, nil
		}
		if errors.Is(err, tender.ErrChallengeUnsolved) {
			return "", err
		}
		lastErr = err
		d.logger.Debug("organization lookup retry",
			zap.String("name", name), zap.Int("attempt", attempt), zap.Error(err))
	}
	return "", fmt.Errorf("%w: %q: %v", tender.ErrOrganizationNotFound, name, lastErr)
}

func (d *Driver) lookupOnce(ctx context.Context, searchURL, name string) (string, error) {
	if err := d.navigate(ctx, searchURL); err != nil {
		return "", err
	}
	if err := d.ensureUnblocked(ctx, searchURL); err != nil {
		return "", err
	}
	err := d.run(ctx,
		chromedp.SetValue(orgSearchInputXPath, name, chromedp.BySearch),
		chromedp.Submit(orgSearchInputXPath, chromedp.BySearch),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500*time.Millisecond),
	)
	if err != nil {
		return "", fmt.Errorf("submit org search: %w", err)
	}
	html, err := d.pageHTML(ctx)
	if err != nil {
		return "", err
	}
	return parseOrgID(html)
}
