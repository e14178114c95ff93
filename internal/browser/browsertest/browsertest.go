// Package browsertest provides an in-memory browser.Driver for tests.
//
// Pages, frames, and elements are declared up front; queries match them by
// the same kinds the real driver supports. Clicks can be scripted to fail or
// to trigger side effects such as opening a new window.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"portalpilot/internal/browser"
)

// Browser is a fake driver and session.
type Browser struct {
	mu       sync.Mutex
	pages    []*Page
	active   *Page
	nextID   int
	launched int
	closed   bool
	opts     browser.LaunchOptions

	// LaunchErr is returned by Launch when set.
	LaunchErr error
	// OnNavigate runs for every Navigate call after the URL is recorded.
	OnNavigate func(page *Page, url string) error
	// CloseBlock, when non-nil, is waited on by Close.
	CloseBlock chan struct{}
}

// New returns a fake with one blank page.
func New() *Browser {
	b := &Browser{}
	b.active = b.OpenPage("about:blank")
	return b
}

// Launch implements browser.Driver.
func (b *Browser) Launch(_ context.Context, opts browser.LaunchOptions) (browser.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.LaunchErr != nil {
		return nil, b.LaunchErr
	}
	b.launched++
	b.closed = false
	b.opts = opts
	return b, nil
}

// Launches reports how many sessions were started.
func (b *Browser) Launches() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.launched
}

// LastOptions returns the options passed to the latest Launch.
func (b *Browser) LastOptions() browser.LaunchOptions {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opts
}

// Closed reports whether the session was closed.
func (b *Browser) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// OpenPage adds a new window, as a site script would.
func (b *Browser) OpenPage(url string) *Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	p := &Page{id: fmt.Sprintf("page-%d", b.nextID), url: url, browser: b}
	p.frames = []*Frame{{page: p, index: -1, name: "main"}}
	b.pages = append(b.pages, p)
	return p
}

// Page returns the i-th open page.
func (b *Browser) Page(i int) *Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pages[i]
}

// Active returns the active page as its concrete type.
func (b *Browser) Active() *Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

func (b *Browser) ActivePage() browser.Page {
	return b.Active()
}

func (b *Browser) Pages(context.Context) ([]browser.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]browser.Page, 0, len(b.pages))
	for _, p := range b.pages {
		out = append(out, p)
	}
	return out, nil
}

func (b *Browser) SwitchTo(_ context.Context, page browser.Page) error {
	p, ok := page.(*Page)
	if !ok {
		return errors.New("foreign page")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = p
	return nil
}

func (b *Browser) Close(ctx context.Context) error {
	if b.CloseBlock != nil {
		select {
		case <-b.CloseBlock:
		case <-ctx.Done():
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *Browser) removePage(p *Page) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, candidate := range b.pages {
		if candidate == p {
			b.pages = append(b.pages[:i], b.pages[i+1:]...)
			break
		}
	}
	if b.active == p && len(b.pages) > 0 {
		b.active = b.pages[0]
	}
}

// Page is a fake top-level window.
type Page struct {
	mu          sync.Mutex
	id          string
	url         string
	title       string
	html        string
	frames      []*Frame
	screenshots int
	closed      bool
	browser     *Browser

	// NavigateErr is returned by Navigate when set.
	NavigateErr error
}

// Main returns the main frame.
func (p *Page) Main() *Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames[0]
}

// AddFrame appends a top-level sub-frame.
func (p *Page) AddFrame(name string) *Frame {
	return p.Main().AddFrame(name)
}

// insertFrame places child after the last descendant of parent, keeping
// frames in depth-first order, and renumbers the sub-frames.
func (p *Page) insertFrame(parent, child *Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	at := len(p.frames)
	for i, f := range p.frames {
		if f != parent {
			continue
		}
		at = i + 1
		for at < len(p.frames) && p.frames[at].descendsFrom(parent) {
			at++
		}
		break
	}
	p.frames = append(p.frames, nil)
	copy(p.frames[at+1:], p.frames[at:])
	p.frames[at] = child
	for i, f := range p.frames {
		f.index = i - 1
	}
}

// SetHTML sets the document returned by HTML.
func (p *Page) SetHTML(html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.html = html
}

// Screenshots reports how many screenshots were taken.
func (p *Page) Screenshots() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.screenshots
}

// IsClosed reports whether Close was called.
func (p *Page) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// CurrentURL returns the last navigated URL.
func (p *Page) CurrentURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) ID() string { return p.id }

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	if p.NavigateErr != nil {
		err := p.NavigateErr
		p.mu.Unlock()
		return err
	}
	p.url = url
	p.mu.Unlock()
	if hook := p.browser.OnNavigate; hook != nil {
		return hook(p, url)
	}
	return nil
}

func (p *Page) URL(context.Context) (string, error) {
	return p.CurrentURL(), nil
}

func (p *Page) Title(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.title, nil
}

func (p *Page) Frames(context.Context) ([]browser.Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]browser.Frame, 0, len(p.frames))
	for _, f := range p.frames {
		out = append(out, f)
	}
	return out, nil
}

func (p *Page) MainFrame() browser.Frame {
	return p.Main()
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.screenshots++
	return []byte("\x89PNG fake"), nil
}

func (p *Page) HTML(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.html == "" {
		return "<html><body></body></html>", nil
	}
	return p.html, nil
}

func (p *Page) Close(context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.browser.removePage(p)
	return nil
}

// Frame is a fake document.
type Frame struct {
	mu       sync.Mutex
	page     *Page
	parent   *Frame
	index    int
	name     string
	elements []*Element
	queries  []browser.Query
}

// Add registers elements in this frame.
func (f *Frame) Add(elements ...*Element) *Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.elements = append(f.elements, elements...)
	return f
}

// AddFrame nests a sub-frame inside f.
func (f *Frame) AddFrame(name string) *Frame {
	child := &Frame{page: f.page, parent: f, name: name}
	f.page.insertFrame(f, child)
	return child
}

func (f *Frame) descendsFrom(ancestor *Frame) bool {
	for p := f.parent; p != nil; p = p.parent {
		if p == ancestor {
			return true
		}
	}
	return false
}

// Remove detaches an element.
func (f *Frame) Remove(el *Element) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, candidate := range f.elements {
		if candidate == el {
			f.elements = append(f.elements[:i], f.elements[i+1:]...)
			return
		}
	}
}

// Queries returns every query issued against this frame.
func (f *Frame) Queries() []browser.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]browser.Query(nil), f.queries...)
}

func (f *Frame) Name() string { return f.name }
func (f *Frame) Index() int   { return f.index }
func (f *Frame) IsMain() bool { return f.index < 0 }

func (f *Frame) Query(ctx context.Context, q browser.Query) (browser.Element, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	var match *Element
	for _, el := range f.elements {
		if el.matches(q) {
			match = el
			break
		}
	}
	f.mu.Unlock()
	if match != nil {
		return match, nil
	}
	if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	return nil, browser.ErrNoElement
}

func (f *Frame) Evaluate(context.Context, string, any) error {
	return nil
}

// Element is a fake DOM node matched by whichever identifiers are set.
type Element struct {
	ID        string
	InnerText string
	Href      string
	XPath     string
	CSS       string
	// Hidden elements exist in the DOM but are not rendered; the id strategy
	// skips them as the real driver does.
	Hidden bool

	// OnClick runs after each successful click.
	OnClick func(ctx context.Context) error

	mu        sync.Mutex
	clickErrs []error
	clicks    int
	value     string
	html      string
}

// FailClicks makes the next len(errs) clicks return those errors in order.
func (e *Element) FailClicks(errs ...error) *Element {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clickErrs = append(e.clickErrs, errs...)
	return e
}

// Clicks reports how many clicks were attempted.
func (e *Element) Clicks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clicks
}

// Value returns the last value set or selected.
func (e *Element) Value() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

// InnerHTML returns the last inner HTML set.
func (e *Element) InnerHTML() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.html
}

func (e *Element) matches(q browser.Query) bool {
	switch q.Kind {
	case browser.ByID:
		return e.ID != "" && e.ID == q.Value && !e.Hidden
	case browser.ByText:
		return e.InnerText != "" && strings.Contains(strings.ToLower(e.InnerText), strings.ToLower(q.Value))
	case browser.ByHref:
		return e.Href != "" && strings.Contains(e.Href, q.Value)
	case browser.ByXPath:
		return e.XPath != "" && e.XPath == q.Value
	case browser.ByCSS:
		return e.CSS != "" && e.CSS == q.Value
	}
	return false
}

func (e *Element) Click(ctx context.Context) error {
	e.mu.Lock()
	e.clicks++
	if len(e.clickErrs) > 0 {
		err := e.clickErrs[0]
		e.clickErrs = e.clickErrs[1:]
		e.mu.Unlock()
		return err
	}
	hook := e.OnClick
	e.mu.Unlock()
	if hook != nil {
		return hook(ctx)
	}
	return nil
}

func (e *Element) SetValue(_ context.Context, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.value = value
	return nil
}

func (e *Element) SelectValue(ctx context.Context, value string) error {
	return e.SetValue(ctx, value)
}

func (e *Element) SetInnerHTML(_ context.Context, html string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.html = html
	return nil
}

func (e *Element) Text(context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.value != "" {
		return e.value, nil
	}
	return e.InnerText, nil
}
