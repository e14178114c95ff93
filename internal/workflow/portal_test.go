package workflow_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"portalpilot/internal/browser/browsertest"
	"portalpilot/internal/config"
	"portalpilot/internal/logging"
	"portalpilot/internal/notifications"
	"portalpilot/internal/queue"
	"portalpilot/internal/testsupport"
	"portalpilot/internal/workflow"
)

const panelURL = "https://okul.meb.k12.tr/yonetim/"

// fakePortal wires browsertest pages to the configured portal locators.
type fakePortal struct {
	browser *browsertest.Browser
	entry   *browsertest.Page

	schoolLink  *browsertest.Element
	content     *browsertest.Element
	category    *browsertest.Element
	addContent  *browsertest.Element
	title       *browsertest.Element
	endDate     *browsertest.Element
	source      *browsertest.Element
	description *browsertest.Element
	tags        *browsertest.Element
	shortBody   *browsertest.Element
	detailBody  *browsertest.Element
	submit      *browsertest.Element
	success     *browsertest.Element

	mu    sync.Mutex
	panel *browsertest.Page
}

// newFakePortal builds the entry page. With newWindow the school panel link
// opens a separate window; otherwise the fallback link loads the panel in place.
func newFakePortal(cfg *config.Config, newWindow bool) *fakePortal {
	p := cfg.Portal
	fp := &fakePortal{
		browser:     browsertest.New(),
		content:     &browsertest.Element{ID: p.ContentLinkID},
		category:    &browsertest.Element{XPath: p.CategoryXPath},
		addContent:  &browsertest.Element{XPath: p.AddContentXPath},
		title:       &browsertest.Element{ID: p.TitleInputID},
		endDate:     &browsertest.Element{XPath: p.EndDateXPath},
		source:      &browsertest.Element{ID: p.ContentSourceID},
		description: &browsertest.Element{ID: p.DescriptionID},
		tags:        &browsertest.Element{ID: p.TagsID},
		shortBody:   &browsertest.Element{CSS: p.EditorBodySelector},
		detailBody:  &browsertest.Element{CSS: p.EditorBodySelector},
		submit:      &browsertest.Element{ID: p.SubmitButtonID},
		success:     &browsertest.Element{XPath: p.SuccessXPath},
	}
	fp.entry = fp.browser.Page(0)

	if newWindow {
		fp.schoolLink = &browsertest.Element{ID: p.SchoolPanelID}
		fp.schoolLink.OnClick = func(context.Context) error {
			fp.mu.Lock()
			defer fp.mu.Unlock()
			if fp.panel == nil {
				fp.panel = fp.browser.OpenPage(panelURL)
				fp.furnish(cfg, fp.panel)
			}
			return nil
		}
	} else {
		fp.schoolLink = &browsertest.Element{CSS: p.SchoolPanelFallback}
		fp.schoolLink.OnClick = func(context.Context) error {
			fp.mu.Lock()
			defer fp.mu.Unlock()
			if fp.panel == nil {
				fp.panel = fp.entry
				fp.furnish(cfg, fp.entry)
			}
			return nil
		}
	}
	fp.entry.Main().Add(fp.schoolLink)
	return fp
}

func (fp *fakePortal) furnish(cfg *config.Config, page *browsertest.Page) {
	page.Main().Add(fp.content, fp.category, fp.addContent, fp.title, fp.endDate,
		fp.source, fp.description, fp.tags, fp.submit, fp.success)
	page.AddFrame(cfg.Portal.ShortContentFrameID).Add(fp.shortBody)
	page.AddFrame(cfg.Portal.DetailContentFrame).Add(fp.detailBody)
}

func (fp *fakePortal) panelPage() *browsertest.Page {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.panel
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingNotifier) has(event notifications.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

type harness struct {
	cfg      *config.Config
	store    *queue.Store
	portal   *fakePortal
	engine   *workflow.Engine
	notifier *recordingNotifier
}

func newHarness(t *testing.T, newWindow bool, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	portal := newFakePortal(cfg, newWindow)
	notifier := &recordingNotifier{}
	engine := workflow.NewEngine(cfg, store, portal.browser, logging.NewNop(), workflow.WithNotifier(notifier))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = engine.Stop(ctx)
	})
	return &harness{cfg: cfg, store: store, portal: portal, engine: engine, notifier: notifier}
}

func (h *harness) enqueue(t *testing.T, title string, priority int) *queue.Item {
	t.Helper()
	item, err := h.store.Enqueue(context.Background(), queue.Payload{
		Title:           title,
		Description:     title + " açıklama",
		Tags:            []string{"okul", "haber"},
		ShortContent:    "<p>" + title + " kısa</p>",
		DetailedContent: "<p>" + title + " detay</p>",
	}, "/tmp/"+strings.ToLower(title)+".jpg", priority)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	return item
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
}

func (h *harness) item(t *testing.T, id string) *queue.Item {
	t.Helper()
	item, err := h.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s) failed: %v", id, err)
	}
	return item
}

// waitFor polls the engine state until cond holds.
func waitFor(t *testing.T, engine *workflow.Engine, what string, cond func(workflow.State) bool) workflow.State {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		st := engine.Status()
		if cond(st) {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; last state %+v", what, st)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitForGate(t *testing.T, engine *workflow.Engine, kind workflow.ConfirmationKind) workflow.State {
	t.Helper()
	return waitFor(t, engine, "gate "+string(kind), func(st workflow.State) bool {
		return st.WaitingForConfirmation == kind
	})
}

func waitForStatus(t *testing.T, engine *workflow.Engine, status workflow.EngineStatus) workflow.State {
	t.Helper()
	return waitFor(t, engine, "status "+string(status), func(st workflow.State) bool {
		return st.Status == status && !st.IsRunning
	})
}

// autoConfirm answers every gate with decide (approve when nil) until the
// returned func is called.
func autoConfirm(engine *workflow.Engine, decide func(workflow.ConfirmationKind, *workflow.ItemRef) bool) func() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Millisecond):
			}
			st := engine.Status()
			if st.WaitingForConfirmation == "" {
				continue
			}
			approved := true
			if decide != nil {
				approved = decide(st.WaitingForConfirmation, st.CurrentItem)
			}
			err := engine.Confirm(approved)
			if err != nil && !errors.Is(err, workflow.ErrNoPendingConfirmation) {
				return
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func screenshotsWithPrefix(t *testing.T, dir, prefix string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read screenshot dir: %v", err)
	}
	count := 0
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), prefix) {
			count++
		}
	}
	return count
}
