package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

const (
	queryPollInterval = 150 * time.Millisecond
	isolatedWorldName = "portalpilot"
)

// ChromeDriver launches Chrome or Chromium through the DevTools protocol.
type ChromeDriver struct{}

// NewChromeDriver returns the chromedp backed driver.
func NewChromeDriver() *ChromeDriver {
	return &ChromeDriver{}
}

// Launch starts a browser (or attaches to RemoteURL) and opens the first page.
func (d *ChromeDriver) Launch(ctx context.Context, opts LaunchOptions) (Session, error) {
	base := context.WithoutCancel(ctx)
	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(base, opts.RemoteURL)
	} else {
		allocCtx, allocCancel = chromedp.NewExecAllocator(base, execOptions(opts)...)
	}
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	s := &chromeSession{
		allocCancel:   allocCancel,
		browserCancel: browserCancel,
		root:          browserCtx,
		pages:         make(map[target.ID]*chromePage),
	}
	first := &chromePage{session: s, ctx: browserCtx, cancel: func() {}}
	s.userAgent = opts.UserAgent
	s.acceptLanguage = opts.AcceptLanguage
	if err := first.run(ctx, s.pageSetup()...); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	if c := chromedp.FromContext(browserCtx); c != nil && c.Target != nil {
		first.id = c.Target.TargetID
	}
	first.listenDialogs()
	s.add(first)
	s.active = first
	return s, nil
}

func execOptions(opts LaunchOptions) []chromedp.ExecAllocatorOption {
	out := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	out = append(out,
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-popup-blocking", true),
		// Keeps cross-origin iframes in the page's own frame tree.
		chromedp.Flag("disable-site-isolation-trials", true),
		chromedp.Flag("disable-features", "IsolateOrigins,site-per-process"),
	)
	if opts.WindowWidth > 0 && opts.WindowHeight > 0 {
		out = append(out, chromedp.WindowSize(opts.WindowWidth, opts.WindowHeight))
	}
	if opts.NoSandbox {
		out = append(out, chromedp.NoSandbox)
	}
	if opts.ExecPath != "" {
		out = append(out, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.UserDataDir != "" {
		out = append(out, chromedp.UserDataDir(opts.UserDataDir))
	}
	if opts.UserAgent != "" {
		out = append(out, chromedp.UserAgent(opts.UserAgent))
	}
	return out
}

type chromeSession struct {
	mu             sync.Mutex
	allocCancel    context.CancelFunc
	browserCancel  context.CancelFunc
	root           context.Context
	pages          map[target.ID]*chromePage
	order          []target.ID
	active         *chromePage
	refSeq         atomic.Int64
	userAgent      string
	acceptLanguage string
	closed         bool
}

// pageSetup applies the session's user agent and Accept-Language to a page.
// Running it on a fresh context also attaches to the target.
func (s *chromeSession) pageSetup() []chromedp.Action {
	if s.userAgent == "" {
		return nil
	}
	override := emulation.SetUserAgentOverride(s.userAgent)
	if s.acceptLanguage != "" {
		override = override.WithAcceptLanguage(s.acceptLanguage)
	}
	return []chromedp.Action{override}
}

func (s *chromeSession) add(p *chromePage) {
	s.pages[p.id] = p
	s.order = append(s.order, p.id)
}

func (s *chromeSession) ActivePage() Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *chromeSession) Pages(ctx context.Context) ([]Page, error) {
	runCtx, cancel := bounded(ctx, s.root)
	defer cancel()
	infos, err := chromedp.Targets(runCtx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	live := make(map[target.ID]struct{}, len(infos))
	for _, info := range infos {
		if info.Type != "page" {
			continue
		}
		live[info.TargetID] = struct{}{}
		if _, known := s.pages[info.TargetID]; known {
			continue
		}
		pageCtx, pageCancel := chromedp.NewContext(s.root, chromedp.WithTargetID(info.TargetID))
		p := &chromePage{session: s, id: info.TargetID, ctx: pageCtx, cancel: pageCancel}
		if err := p.run(ctx, s.pageSetup()...); err != nil {
			pageCancel()
			continue
		}
		p.listenDialogs()
		s.add(p)
	}
	order := s.order[:0]
	for _, id := range s.order {
		if _, ok := live[id]; ok {
			order = append(order, id)
		} else {
			delete(s.pages, id)
		}
	}
	s.order = order
	out := make([]Page, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.pages[id])
	}
	return out, nil
}

func (s *chromeSession) SwitchTo(ctx context.Context, p Page) error {
	cp, ok := p.(*chromePage)
	if !ok || cp.session != s {
		return errors.New("page does not belong to this session")
	}
	if err := cp.run(ctx, page.BringToFront()); err != nil {
		return fmt.Errorf("activate page: %w", err)
	}
	s.mu.Lock()
	s.active = cp
	s.mu.Unlock()
	return nil
}

// Close shuts the browser down gracefully, killing it if ctx ends first.
func (s *chromeSession) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(s.root) }()
	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	s.browserCancel()
	s.allocCancel()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type chromePage struct {
	session *chromeSession
	id      target.ID
	ctx     context.Context
	cancel  context.CancelFunc
}

// bounded derives a chromedp run context from parent that also ends when ctx
// ends or reaches its deadline.
func bounded(ctx, parent context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(parent)
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		prev := cancel
		cancel = func() { cancelDeadline(); prev() }
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() { stop(); cancel() }
}

func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := bounded(ctx, p.ctx)
	defer cancel()
	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *chromePage) listenDialogs() {
	chromedp.ListenTarget(p.ctx, func(ev any) {
		if _, ok := ev.(*page.EventJavascriptDialogOpening); ok {
			go func() {
				_ = chromedp.Run(p.ctx, page.HandleJavaScriptDialog(true))
			}()
		}
	})
}

func (p *chromePage) ID() string { return string(p.id) }

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery))
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var out string
	err := p.run(ctx, chromedp.Location(&out))
	return out, err
}

func (p *chromePage) Title(ctx context.Context) (string, error) {
	var out string
	err := p.run(ctx, chromedp.Title(&out))
	return out, err
}

// frameRef is one sub-frame in depth-first frame-tree order.
type frameRef struct {
	ID   cdp.FrameID
	Name string
}

// flattenFrameTree walks the tree depth-first, skipping the root (main) frame.
func flattenFrameTree(tree *page.FrameTree) []frameRef {
	var out []frameRef
	var walk func(nodes []*page.FrameTree)
	walk = func(nodes []*page.FrameTree) {
		for _, node := range nodes {
			if node == nil || node.Frame == nil {
				continue
			}
			out = append(out, frameRef{ID: node.Frame.ID, Name: node.Frame.Name})
			walk(node.ChildFrames)
		}
	}
	if tree != nil {
		walk(tree.ChildFrames)
	}
	return out
}

// attributeValue reads name from a flattened [name, value, ...] attribute list.
func attributeValue(attrs []string, name string) string {
	for i := 0; i+1 < len(attrs); i += 2 {
		if attrs[i] == name {
			return attrs[i+1]
		}
	}
	return ""
}

// Frames lists every frame of the page: the main frame, then the whole
// sub-frame tree depth-first, nested and cross-origin frames included.
func (p *chromePage) Frames(ctx context.Context) ([]Frame, error) {
	var refs []frameRef
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		tree, err := page.GetFrameTree().Do(ctx)
		if err != nil {
			return err
		}
		refs = flattenFrameTree(tree)
		for i := range refs {
			if refs[i].Name != "" {
				continue
			}
			// Editor iframes usually carry only an id on their owner element.
			backendID, _, err := dom.GetFrameOwner(refs[i].ID).Do(ctx)
			if err != nil {
				continue
			}
			node, err := dom.DescribeNode().WithBackendNodeID(backendID).Do(ctx)
			if err != nil || node == nil {
				continue
			}
			refs[i].Name = attributeValue(node.Attributes, "id")
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	out := make([]Frame, 0, len(refs)+1)
	out = append(out, p.MainFrame())
	for i, ref := range refs {
		out = append(out, &chromeFrame{page: p, id: ref.ID, index: i, name: ref.Name})
	}
	return out, nil
}

func (p *chromePage) MainFrame() Frame {
	return &chromeFrame{page: p, index: -1}
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var out string
	err := p.run(ctx, chromedp.OuterHTML("html", &out, chromedp.ByQuery))
	return out, err
}

func (p *chromePage) Close(ctx context.Context) error {
	err := p.run(ctx, page.Close())
	p.cancel()
	s := p.session
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pages, p.id)
	for i, id := range s.order {
		if id == p.id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.active == p && len(s.order) > 0 {
		s.active = s.pages[s.order[0]]
	}
	return err
}

type chromeFrame struct {
	page  *chromePage
	id    cdp.FrameID
	index int
	name  string

	mu    sync.Mutex
	world runtime.ExecutionContextID
}

func (f *chromeFrame) Name() string {
	if f.index < 0 {
		return "main"
	}
	return f.name
}

func (f *chromeFrame) Index() int   { return f.index }
func (f *chromeFrame) IsMain() bool { return f.index < 0 }

func (f *chromeFrame) Query(ctx context.Context, q Query) (Element, error) {
	ref := strconv.FormatInt(f.page.session.refSeq.Add(1), 10)
	script := findScript(q, ref)
	ticker := time.NewTicker(queryPollInterval)
	defer ticker.Stop()
	for {
		var found bool
		if err := f.eval(ctx, script, &found, false); err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("query %s %q: %w", q.Kind, q.Value, err)
		}
		if found {
			return &chromeElement{frame: f, ref: ref}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ErrNoElement
		case <-ticker.C:
		}
	}
}

func (f *chromeFrame) Evaluate(ctx context.Context, script string, out any) error {
	return f.eval(ctx, script, out, false)
}

// eval runs script in the frame. The main frame uses the page's default
// context; sub-frames use an isolated world created for the frame, which is
// recreated once if a navigation destroyed it.
func (f *chromeFrame) eval(ctx context.Context, script string, out any, gesture bool) error {
	if f.IsMain() {
		var opts []chromedp.EvaluateOption
		if gesture {
			opts = append(opts, withUserGesture)
		}
		return f.page.run(ctx, chromedp.Evaluate(script, out, opts...))
	}
	return f.page.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		world, err := f.worldID(ctx, false)
		if err != nil {
			return err
		}
		err = evaluateIn(ctx, world, script, out, gesture)
		var exception *runtime.ExceptionDetails
		if err == nil || errors.As(err, &exception) {
			return err
		}
		if world, err = f.worldID(ctx, true); err != nil {
			return err
		}
		return evaluateIn(ctx, world, script, out, gesture)
	}))
}

func (f *chromeFrame) worldID(ctx context.Context, fresh bool) (runtime.ExecutionContextID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.world != 0 && !fresh {
		return f.world, nil
	}
	id, err := page.CreateIsolatedWorld(f.id).WithWorldName(isolatedWorldName).Do(ctx)
	if err != nil {
		f.world = 0
		return 0, fmt.Errorf("frame %s: create isolated world: %w", f.id, err)
	}
	f.world = id
	return id, nil
}

func evaluateIn(ctx context.Context, world runtime.ExecutionContextID, script string, out any, gesture bool) error {
	params := runtime.Evaluate(script).WithContextID(world).WithReturnByValue(true)
	if gesture {
		params = withUserGesture(params)
	}
	result, exception, err := params.Do(ctx)
	if err != nil {
		return err
	}
	if exception != nil {
		return exception
	}
	if out == nil || result == nil || len(result.Value) == 0 {
		return nil
	}
	return json.Unmarshal([]byte(result.Value), out)
}

type chromeElement struct {
	frame *chromeFrame
	ref   string
}

func withUserGesture(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithUserGesture(true)
}

func (e *chromeElement) do(ctx context.Context, value, body string) (string, error) {
	var result string
	script := elementScript(e.ref, value, body)
	if err := e.frame.eval(ctx, script, &result, true); err != nil {
		return "", err
	}
	switch {
	case result == "stale":
		return "", ErrStaleElement
	case strings.HasPrefix(result, "error: "):
		return "", errors.New(strings.TrimPrefix(result, "error: "))
	}
	return result, nil
}

func (e *chromeElement) Click(ctx context.Context) error {
	_, err := e.do(ctx, "", clickBody)
	return err
}

func (e *chromeElement) SetValue(ctx context.Context, value string) error {
	_, err := e.do(ctx, value, valueBody)
	return err
}

func (e *chromeElement) SelectValue(ctx context.Context, value string) error {
	_, err := e.do(ctx, value, selectBody)
	return err
}

func (e *chromeElement) SetInnerHTML(ctx context.Context, html string) error {
	_, err := e.do(ctx, html, innerHTMLBody)
	return err
}

func (e *chromeElement) Text(ctx context.Context) (string, error) {
	out, err := e.do(ctx, "", textBody)
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(out, "text:"), nil
}
