package browser

import (
	"context"
	"errors"
	"time"
)

// ErrNoElement reports that a query matched nothing before its deadline.
var ErrNoElement = errors.New("element not found")

// ErrStaleElement reports that a previously found element left the document.
var ErrStaleElement = errors.New("element is no longer attached")

// QueryKind selects how a Query value is interpreted.
type QueryKind string

const (
	ByID    QueryKind = "id"
	ByText  QueryKind = "text"
	ByHref  QueryKind = "href"
	ByXPath QueryKind = "xpath"
	ByCSS   QueryKind = "css"
)

// Query describes one element lookup inside a single frame.
type Query struct {
	Kind  QueryKind
	Value string
}

// LaunchOptions configures a new browser session.
type LaunchOptions struct {
	ExecPath       string
	RemoteURL      string
	Headless       bool
	NoSandbox      bool
	UserDataDir    string
	WindowWidth    int
	WindowHeight   int
	UserAgent      string
	AcceptLanguage string
}

// Driver starts browser sessions.
type Driver interface {
	Launch(ctx context.Context, opts LaunchOptions) (Session, error)
}

// Session is one running browser with one or more open pages.
type Session interface {
	// ActivePage returns the page commands are currently directed at.
	ActivePage() Page
	// Pages lists every open top-level page, discovering ones opened by the site.
	Pages(ctx context.Context) ([]Page, error)
	// SwitchTo makes page the active page.
	SwitchTo(ctx context.Context, page Page) error
	Close(ctx context.Context) error
}

// Page is a top-level browsing context (tab or window).
type Page interface {
	ID() string
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	// Frames returns the main frame first, then every sub-frame of the frame
	// tree depth-first, nested frames included.
	Frames(ctx context.Context) ([]Frame, error)
	MainFrame() Frame
	Screenshot(ctx context.Context) ([]byte, error)
	HTML(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

// Frame is a document inside a page.
type Frame interface {
	// Name is the frame's name attribute, falling back to its element id.
	Name() string
	Index() int
	IsMain() bool
	// Query returns the first element matching q, polling until ctx ends.
	// ByID only matches rendered, visible elements. A miss returns ErrNoElement.
	Query(ctx context.Context, q Query) (Element, error)
	Evaluate(ctx context.Context, script string, out any) error
}

// Element is a handle to one DOM node.
type Element interface {
	Click(ctx context.Context) error
	SetValue(ctx context.Context, value string) error
	SelectValue(ctx context.Context, value string) error
	SetInnerHTML(ctx context.Context, html string) error
	Text(ctx context.Context) (string, error)
}

// WaitForNewPage polls the session until a page whose id is not in known
// appears, returning the most recently listed new page. It returns nil when
// none appears within timeout.
func WaitForNewPage(ctx context.Context, session Session, known map[string]struct{}, timeout, poll time.Duration) (Page, error) {
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		pages, err := session.Pages(ctx)
		if err != nil {
			return nil, err
		}
		var newest Page
		for _, page := range pages {
			if _, seen := known[page.ID()]; !seen {
				newest = page
			}
		}
		if newest != nil {
			return newest, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-ticker.C:
		}
	}
}

// PageIDs returns the set of ids for pages.
func PageIDs(pages []Page) map[string]struct{} {
	ids := make(map[string]struct{}, len(pages))
	for _, page := range pages {
		ids[page.ID()] = struct{}{}
	}
	return ids
}
