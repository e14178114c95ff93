package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"portalpilot/internal/browser"
	"portalpilot/internal/locator"
	"portalpilot/internal/logging"
	"portalpilot/internal/services"
)

// setupSession runs the one-time steps: launch, navigate plus login gate,
// school panel, and content page.
func (e *Engine) setupSession(ctx context.Context) error {
	if err := e.launch(ctx); err != nil {
		return err
	}
	if err := e.navigateAndLogin(ctx); err != nil {
		return err
	}
	if err := e.openSchoolPanel(ctx); err != nil {
		return err
	}
	return e.openContentPage(ctx)
}

func (e *Engine) launch(ctx context.Context) error {
	stepCtx, cancel, err := e.enterStep(ctx, StepLaunch)
	defer cancel()
	if err != nil {
		return err
	}
	b := e.cfg.Browser
	opts := browser.LaunchOptions{
		ExecPath:       b.ExecPath,
		RemoteURL:      b.RemoteURL,
		Headless:       b.Headless,
		NoSandbox:      b.NoSandbox,
		UserDataDir:    b.UserDataDir,
		WindowWidth:    b.WindowWidth,
		WindowHeight:   b.WindowHeight,
		UserAgent:      pickUserAgent(b.UserAgents),
		AcceptLanguage: b.AcceptLanguage,
	}
	session, err := e.driver.Launch(stepCtx, opts)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "browser", "launch", "", err)
	}

	e.mu.Lock()
	stopped := e.stopped
	if !stopped {
		e.session = session
	}
	e.mu.Unlock()
	if stopped {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		_ = session.Close(closeCtx)
		return services.ErrStopped
	}
	e.logger.Info("browser launched",
		logging.Bool("headless", opts.Headless),
		logging.Bool("remote", opts.RemoteURL != ""),
		logging.String(logging.FieldEventType, "browser_launched"),
	)
	return nil
}

func (e *Engine) navigateAndLogin(ctx context.Context) error {
	stepCtx, cancel, err := e.enterStep(ctx, StepNavigate)
	defer cancel()
	if err != nil {
		return err
	}
	page := e.activePage()
	if page == nil {
		return services.Wrap(services.ErrExternalTool, "browser", "navigate", "no active page", nil)
	}
	if err := page.Navigate(stepCtx, e.cfg.Portal.EntryURL); err != nil {
		return e.stepError(StepNavigate, "open "+e.cfg.Portal.EntryURL, err)
	}
	if err := e.waitMillis(ctx, e.cfg.Waits.PageLoad); err != nil {
		return err
	}
	e.logger.Info("portal entry page opened", logging.String("url", e.cfg.Portal.EntryURL))

	if err := e.awaitConfirmation(ctx, ConfirmLogin, ""); err != nil {
		if errors.Is(err, services.ErrDeclined) && !errors.Is(err, services.ErrStopped) {
			return fmt.Errorf("login not confirmed: %w", err)
		}
		return err
	}
	return nil
}

// openSchoolPanel clicks the school panel link and follows it into a new
// window when the portal opens one.
func (e *Engine) openSchoolPanel(ctx context.Context) error {
	stepCtx, cancel, err := e.enterStep(ctx, StepSchoolPanel)
	defer cancel()
	if err != nil {
		return err
	}
	session := e.currentSession()
	page := e.activePage()
	if session == nil || page == nil {
		return services.Wrap(services.ErrExternalTool, "browser", "school panel", "no active page", nil)
	}
	if err := e.waitMillis(stepCtx, e.cfg.Waits.PageLoad); err != nil {
		return e.stepError(StepSchoolPanel, "settle", err)
	}

	pages, err := session.Pages(stepCtx)
	if err != nil {
		return e.stepError(StepSchoolPanel, "list windows", err)
	}
	known := browser.PageIDs(pages)

	p := e.cfg.Portal
	clicked := e.clicker.Click(stepCtx, page, locator.Spec{Name: "school panel", ID: p.SchoolPanelID})
	if !clicked {
		clicked = e.clickFirstCSS(stepCtx, page, "school panel fallback", p.SchoolPanelFallback, targetSelector(p.SchoolPanelTarget))
	}
	if !clicked {
		if err := stepCtx.Err(); err != nil {
			return e.stepError(StepSchoolPanel, "locate panel link", err)
		}
		e.diag.Capture(stepCtx, page, "step3-panel-not-found", true)
		return e.notFoundError(StepSchoolPanel, "school panel link")
	}

	switchWait := time.Duration(e.cfg.Waits.PanelSwitch) * time.Millisecond
	newPage, err := browser.WaitForNewPage(stepCtx, session, known, switchWait, 0)
	if err != nil {
		return e.stepError(StepSchoolPanel, "watch for new window", err)
	}
	e.closePopups(stepCtx, page)

	if newPage == nil {
		// The link may have opened a popup instead of a window; try the
		// in-page control once more before settling on the current page.
		newPage = e.findPanelPage(stepCtx, session)
		if newPage == nil && e.clickFirstCSS(stepCtx, page, "school panel target", targetSelector(p.SchoolPanelTarget)) {
			newPage, err = browser.WaitForNewPage(stepCtx, session, known, switchWait, 0)
			if err != nil {
				return e.stepError(StepSchoolPanel, "watch for new window", err)
			}
		}
	}

	if newPage != nil {
		if err := session.SwitchTo(stepCtx, newPage); err != nil {
			return e.stepError(StepSchoolPanel, "switch window", err)
		}
		url, _ := newPage.URL(stepCtx)
		e.logger.Info("switched to panel window",
			logging.String("url", url),
			logging.String(logging.FieldEventType, "window_switched"),
		)
	} else {
		e.logger.Info("no new window opened; continuing on current page")
	}
	if err := e.waitMillis(ctx, e.cfg.Waits.PanelSwitch); err != nil {
		return err
	}
	return nil
}

// openContentPage ensures the panel window is active and opens the content
// section.
func (e *Engine) openContentPage(ctx context.Context) error {
	stepCtx, cancel, err := e.enterStep(ctx, StepContentPage)
	defer cancel()
	if err != nil {
		return err
	}
	session := e.currentSession()
	if session == nil {
		return services.Wrap(services.ErrExternalTool, "browser", "content page", "no session", nil)
	}
	if page := e.activePage(); page != nil && !e.onPanel(stepCtx, page) {
		if panel := e.findPanelPage(stepCtx, session); panel != nil {
			if err := session.SwitchTo(stepCtx, panel); err != nil {
				return e.stepError(StepContentPage, "switch window", err)
			}
		} else {
			e.logger.Warn("panel window not identified; using active page",
				logging.String(logging.FieldEventType, "panel_not_identified"),
				logging.String(logging.FieldErrorHint, "check portal.panel_url_markers"),
			)
		}
	}

	page := e.activePage()
	p := e.cfg.Portal
	spec := locator.Spec{Name: "content link", ID: p.ContentLinkID, Text: p.ContentLinkText, Href: p.ContentLinkHref}
	if !e.clicker.Click(stepCtx, page, spec) {
		if err := stepCtx.Err(); err != nil {
			return e.stepError(StepContentPage, "locate content link", err)
		}
		e.diag.Capture(stepCtx, page, "step4-content-not-found", true)
		return e.notFoundError(StepContentPage, "content link")
	}
	if err := e.waitMillis(ctx, e.cfg.Waits.PageLoad); err != nil {
		return err
	}
	e.logger.Info("content page opened", logging.String(logging.FieldEventType, "content_page_opened"))
	return nil
}

// clickFirstCSS clicks the first element matching any selector in the main
// frame. Empty selectors are ignored.
func (e *Engine) clickFirstCSS(ctx context.Context, page browser.Page, name string, selectors ...string) bool {
	frame := page.MainFrame()
	for _, selector := range selectors {
		if strings.TrimSpace(selector) == "" {
			continue
		}
		queryCtx, cancel := context.WithTimeout(ctx, e.strategyTimeout())
		el, err := frame.Query(queryCtx, browser.Query{Kind: browser.ByCSS, Value: selector})
		cancel()
		if err != nil || el == nil {
			continue
		}
		if err := el.Click(ctx); err != nil {
			e.logger.Debug("fallback click failed", logging.String("target", name), logging.String("selector", selector), logging.Error(err))
			continue
		}
		e.logger.Info("clicked via fallback selector", logging.String("target", name), logging.String("selector", selector))
		return true
	}
	return false
}

// closePopups dismisses a modal the portal may show after login.
func (e *Engine) closePopups(ctx context.Context, page browser.Page) {
	if e.clickFirstCSS(ctx, page, "popup close", e.cfg.Portal.PopupCloseSelectors...) {
		_ = e.waitMillis(ctx, e.cfg.Waits.ElementClick)
	}
}

func (e *Engine) onPanel(ctx context.Context, page browser.Page) bool {
	url, err := page.URL(ctx)
	if err != nil {
		return false
	}
	return matchesMarker(url, e.cfg.Portal.PanelURLMarkers)
}

// findPanelPage returns the most recent open page whose URL carries a panel marker.
func (e *Engine) findPanelPage(ctx context.Context, session browser.Session) browser.Page {
	pages, err := session.Pages(ctx)
	if err != nil {
		return nil
	}
	var found browser.Page
	for _, page := range pages {
		if e.onPanel(ctx, page) {
			found = page
		}
	}
	return found
}

func (e *Engine) strategyTimeout() time.Duration {
	if e.cfg.Timeouts.LocatorStrategy <= 0 {
		return locator.DefaultStrategyTimeout
	}
	return time.Duration(e.cfg.Timeouts.LocatorStrategy) * time.Second
}

func matchesMarker(url string, markers []string) bool {
	url = strings.ToLower(url)
	for _, marker := range markers {
		marker = strings.ToLower(strings.TrimSpace(marker))
		if marker != "" && strings.Contains(url, marker) {
			return true
		}
	}
	return false
}

func targetSelector(target string) string {
	if strings.TrimSpace(target) == "" {
		return ""
	}
	return fmt.Sprintf("a[target=%q]", target)
}
