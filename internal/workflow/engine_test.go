package workflow_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"portalpilot/internal/notifications"
	"portalpilot/internal/queue"
	"portalpilot/internal/testsupport"
	"portalpilot/internal/workflow"
)

func TestRunPublishesQueueAndCompletes(t *testing.T) {
	h := newHarness(t, true)
	low := h.enqueue(t, "Bahar Şenliği", 0)
	high := h.enqueue(t, "Veli Toplantısı", 5)

	h.start(t)
	stop := autoConfirm(h.engine, nil)
	defer stop()
	st := waitForStatus(t, h.engine, workflow.StatusCompleted)

	if st.Progress.Processed != 2 || st.Progress.Failed != 0 {
		t.Fatalf("progress = %+v, want 2 processed 0 failed", st.Progress)
	}
	if st.Progress.Pending != 0 || st.Progress.Total != 2 {
		t.Fatalf("queue progress = %+v, want 0 pending of 2", st.Progress)
	}
	if st.CurrentItem != nil || st.LastError != "" {
		t.Fatalf("unexpected state after completion: %+v", st)
	}
	for _, id := range []string{low.ID, high.ID} {
		item := h.item(t, id)
		if item.Status != queue.StatusCompleted {
			t.Fatalf("item %s status = %s, want completed", id, item.Status)
		}
		if item.ProcessedAt == nil || item.ProcessingTime == nil {
			t.Fatalf("item %s missing completion timing", id)
		}
	}

	// Higher priority runs first, so the lower priority item's values remain.
	if got := h.portal.title.Value(); got != "Bahar Şenliği" {
		t.Fatalf("title field = %q, want last item title", got)
	}
	if got := h.portal.tags.Value(); got != "okul, haber" {
		t.Fatalf("tags field = %q", got)
	}
	if got := h.portal.shortBody.InnerHTML(); got != "<p>Bahar Şenliği kısa</p>" {
		t.Fatalf("short content = %q", got)
	}
	if got := h.portal.detailBody.InnerHTML(); got != "<p>Bahar Şenliği detay</p>" {
		t.Fatalf("detailed content = %q", got)
	}
	if got := h.portal.endDate.Value(); got != h.cfg.Portal.EndDateValue {
		t.Fatalf("end date = %q", got)
	}
	if got := h.portal.submit.Clicks(); got != 2 {
		t.Fatalf("submit clicks = %d, want 2", got)
	}

	panel := h.portal.panelPage()
	if panel == nil || h.portal.browser.Active() != panel {
		t.Fatal("expected the session to follow the school panel window")
	}
	if !h.portal.browser.Closed() {
		t.Fatal("expected browser to be closed after the run")
	}
	if got := screenshotsWithPrefix(t, h.cfg.Paths.ScreenshotDir, "success-"); got != 2 {
		t.Fatalf("success screenshots = %d, want 2", got)
	}
	for _, event := range []notifications.Event{
		notifications.EventRunStarted,
		notifications.EventConfirmationRequired,
		notifications.EventRunCompleted,
	} {
		if !h.notifier.has(event) {
			t.Fatalf("expected %s notification", event)
		}
	}
}

func TestRunFollowsPanelLoadedInPlace(t *testing.T) {
	h := newHarness(t, false)
	item := h.enqueue(t, "Kermes", 0)

	h.start(t)
	stop := autoConfirm(h.engine, nil)
	defer stop()
	waitForStatus(t, h.engine, workflow.StatusCompleted)

	if got := h.item(t, item.ID).Status; got != queue.StatusCompleted {
		t.Fatalf("status = %s, want completed", got)
	}
	if h.portal.schoolLink.Clicks() != 1 {
		t.Fatalf("fallback link clicks = %d, want 1", h.portal.schoolLink.Clicks())
	}
	if h.portal.panelPage() != h.portal.entry {
		t.Fatal("expected panel to load in the entry window")
	}
}

func TestEmptyQueueCompletesAfterLogin(t *testing.T) {
	h := newHarness(t, true)

	h.start(t)
	stop := autoConfirm(h.engine, nil)
	defer stop()
	st := waitForStatus(t, h.engine, workflow.StatusCompleted)

	if st.Progress.Processed != 0 || st.Progress.Total != 0 {
		t.Fatalf("progress = %+v, want empty", st.Progress)
	}
}

func TestLoginDeclineEndsRunInError(t *testing.T) {
	h := newHarness(t, true)
	item := h.enqueue(t, "Mezuniyet", 0)

	h.start(t)
	waitForGate(t, h.engine, workflow.ConfirmLogin)
	if err := h.engine.Confirm(false); err != nil {
		t.Fatalf("Confirm(false): %v", err)
	}
	st := waitForStatus(t, h.engine, workflow.StatusError)

	if !strings.Contains(st.LastError, "login") {
		t.Fatalf("lastError = %q, want login failure", st.LastError)
	}
	if !h.portal.browser.Closed() {
		t.Fatal("expected browser to be closed")
	}
	if got := h.item(t, item.ID).Status; got != queue.StatusPending {
		t.Fatalf("item status = %s, want untouched pending", got)
	}
	if !h.notifier.has(notifications.EventError) {
		t.Fatal("expected error notification")
	}
}

func TestLaunchFailureEndsRunInError(t *testing.T) {
	h := newHarness(t, true)
	h.portal.browser.LaunchErr = errors.New("chrome not installed")

	h.start(t)
	st := waitForStatus(t, h.engine, workflow.StatusError)
	if !strings.Contains(st.LastError, "chrome not installed") {
		t.Fatalf("lastError = %q", st.LastError)
	}
}

func TestItemFailureRetriesThenRunContinues(t *testing.T) {
	h := newHarness(t, true, testsupport.WithMaxRetries(2))
	flaky := h.enqueue(t, "Bozuk İçerik", 5)
	good := h.enqueue(t, "Sağlam İçerik", 0)

	var mu sync.Mutex
	declines := 0
	h.start(t)
	stop := autoConfirm(h.engine, func(kind workflow.ConfirmationKind, item *workflow.ItemRef) bool {
		if kind == workflow.ConfirmBanner && item != nil && item.ID == flaky.ID {
			mu.Lock()
			declines++
			mu.Unlock()
			return false
		}
		return true
	})
	defer stop()
	st := waitForStatus(t, h.engine, workflow.StatusCompleted)

	got := h.item(t, flaky.ID)
	if got.Status != queue.StatusFailed || got.RetryCount != 2 {
		t.Fatalf("flaky item = %s/%d, want failed after 2 attempts", got.Status, got.RetryCount)
	}
	if got.Error == "" {
		t.Fatal("expected failure reason on item")
	}
	mu.Lock()
	if declines != 2 {
		t.Fatalf("banner declines = %d, want one per attempt", declines)
	}
	mu.Unlock()
	if status := h.item(t, good.ID).Status; status != queue.StatusCompleted {
		t.Fatalf("good item status = %s, want completed", status)
	}
	if st.Progress.Processed != 1 || st.Progress.Failed != 1 {
		t.Fatalf("progress = %+v, want 1 processed 1 failed", st.Progress)
	}
	if st.LastError != "" {
		t.Fatalf("item failures must not fail the run: %q", st.LastError)
	}
	if got := screenshotsWithPrefix(t, h.cfg.Paths.ScreenshotDir, "error-"); got != 2 {
		t.Fatalf("error screenshots = %d, want 2", got)
	}
	if !h.notifier.has(notifications.EventItemFailed) {
		t.Fatal("expected item_failed notification")
	}
}

func TestPauseHoldsRunUntilResume(t *testing.T) {
	h := newHarness(t, true)
	first := h.enqueue(t, "Birinci", 5)
	second := h.enqueue(t, "İkinci", 0)

	h.start(t)
	waitForGate(t, h.engine, workflow.ConfirmLogin)
	if err := h.engine.Confirm(true); err != nil {
		t.Fatalf("confirm login: %v", err)
	}
	st := waitForGate(t, h.engine, workflow.ConfirmBanner)
	if st.CurrentItem == nil || st.CurrentItem.ID != first.ID {
		t.Fatalf("current item = %+v, want %s", st.CurrentItem, first.ID)
	}
	if err := h.engine.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := h.engine.Confirm(true); err != nil {
		t.Fatalf("confirm banner: %v", err)
	}

	waitFor(t, h.engine, "paused", func(s workflow.State) bool { return s.Status == workflow.StatusPaused })
	time.Sleep(50 * time.Millisecond)
	st = h.engine.Status()
	if !st.IsPaused || st.WaitingForConfirmation != "" {
		t.Fatalf("state while paused = %+v", st)
	}
	if got := h.portal.title.Value(); got != "" {
		t.Fatalf("form was filled while paused: %q", got)
	}
	if got := h.item(t, second.ID).Status; got != queue.StatusPending {
		t.Fatalf("second item status = %s while paused", got)
	}

	if err := h.engine.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	stop := autoConfirm(h.engine, nil)
	defer stop()
	st = waitForStatus(t, h.engine, workflow.StatusCompleted)
	if st.IsPaused || st.Progress.Processed != 2 {
		t.Fatalf("final state = %+v", st)
	}
}

func TestSkipAtBannerGateMarksItemSkipped(t *testing.T) {
	h := newHarness(t, true)
	skipped := h.enqueue(t, "Atlanacak", 5)
	kept := h.enqueue(t, "Yayınlanacak", 0)

	h.start(t)
	waitForGate(t, h.engine, workflow.ConfirmLogin)
	if err := h.engine.Confirm(true); err != nil {
		t.Fatalf("confirm login: %v", err)
	}
	waitForGate(t, h.engine, workflow.ConfirmBanner)
	if err := h.engine.Skip(); err != nil {
		t.Fatalf("Skip: %v", err)
	}

	stop := autoConfirm(h.engine, nil)
	defer stop()
	st := waitForStatus(t, h.engine, workflow.StatusCompleted)

	got := h.item(t, skipped.ID)
	if got.Status != queue.StatusSkipped || got.RetryCount != 0 {
		t.Fatalf("skipped item = %s/%d", got.Status, got.RetryCount)
	}
	if status := h.item(t, kept.ID).Status; status != queue.StatusCompleted {
		t.Fatalf("kept item status = %s", status)
	}
	if st.Progress.Processed != 1 || st.Progress.Failed != 0 {
		t.Fatalf("progress = %+v", st.Progress)
	}
}

func TestStopAtLoginGateReturnsToIdle(t *testing.T) {
	h := newHarness(t, true)

	h.start(t)
	waitForGate(t, h.engine, workflow.ConfirmLogin)
	if err := h.engine.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	st := h.engine.Status()
	if st.Status != workflow.StatusIdle || st.IsRunning || !st.IsStopped {
		t.Fatalf("state after stop = %+v", st)
	}
	if st.CurrentItem != nil || st.CurrentStep != 0 || st.WaitingForConfirmation != "" {
		t.Fatalf("stop left residue: %+v", st)
	}
	if !h.portal.browser.Closed() {
		t.Fatal("expected browser closed after stop")
	}

	if err := h.engine.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if again := h.engine.Status(); again.Status != workflow.StatusIdle || again.IsRunning {
		t.Fatalf("second stop changed state: %+v", again)
	}
}

func TestStopMidItemReleasesItem(t *testing.T) {
	h := newHarness(t, true)
	item := h.enqueue(t, "Yarım Kalan", 0)

	h.start(t)
	waitForGate(t, h.engine, workflow.ConfirmLogin)
	if err := h.engine.Confirm(true); err != nil {
		t.Fatalf("confirm login: %v", err)
	}
	waitForGate(t, h.engine, workflow.ConfirmBanner)
	if err := h.engine.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	got := h.item(t, item.ID)
	if got.Status != queue.StatusPending || got.RetryCount != 0 || got.StartedAt != nil {
		t.Fatalf("interrupted item = %+v, want pending with no retry charged", got)
	}
	if st := h.engine.Status(); st.Status != workflow.StatusIdle {
		t.Fatalf("status = %s, want idle", st.Status)
	}
}

func TestStopWithoutRunIsNoop(t *testing.T) {
	h := newHarness(t, true)

	for i := 0; i < 2; i++ {
		if err := h.engine.Stop(context.Background()); err != nil {
			t.Fatalf("Stop #%d: %v", i+1, err)
		}
	}
	st := h.engine.Status()
	if st.Status != workflow.StatusIdle || st.IsRunning || st.CurrentItem != nil {
		t.Fatalf("state = %+v", st)
	}
	if h.portal.browser.Launches() != 0 {
		t.Fatal("stop must not launch a browser")
	}
}

func TestControlCallsRejectInvalidState(t *testing.T) {
	h := newHarness(t, true)

	if err := h.engine.Confirm(true); !errors.Is(err, workflow.ErrNoPendingConfirmation) {
		t.Fatalf("Confirm without gate = %v", err)
	}
	if err := h.engine.Skip(); !errors.Is(err, workflow.ErrNoCurrentItem) {
		t.Fatalf("Skip without item = %v", err)
	}
	if err := h.engine.Pause(); !errors.Is(err, workflow.ErrNotRunning) {
		t.Fatalf("Pause while idle = %v", err)
	}
	if err := h.engine.Resume(); !errors.Is(err, workflow.ErrNotRunning) {
		t.Fatalf("Resume while idle = %v", err)
	}

	h.start(t)
	waitForGate(t, h.engine, workflow.ConfirmLogin)
	if err := h.engine.Start(context.Background()); !errors.Is(err, workflow.ErrAlreadyRunning) {
		t.Fatalf("second Start = %v", err)
	}
	if err := h.engine.Skip(); !errors.Is(err, workflow.ErrNoCurrentItem) {
		t.Fatalf("Skip at login gate = %v", err)
	}
	if got := h.engine.PendingConfirmation(); got != workflow.ConfirmLogin {
		t.Fatalf("PendingConfirmation = %q", got)
	}
}

func TestSlowObserverDoesNotBlockEngine(t *testing.T) {
	h := newHarness(t, true)
	h.enqueue(t, "Gözlemci", 0)

	updates, unsubscribe := h.engine.Subscribe(1)
	defer unsubscribe()

	h.start(t)
	waitForGate(t, h.engine, workflow.ConfirmLogin)
	if h.engine.DroppedUpdates() == 0 {
		t.Fatal("expected updates to be dropped for a full observer")
	}
	select {
	case st := <-updates:
		if st.Status == "" {
			t.Fatal("received empty state")
		}
	default:
		t.Fatal("expected the first update to be buffered")
	}
}

func TestStepsTableCoversPipeline(t *testing.T) {
	steps := workflow.Steps()
	if len(steps) != 15 {
		t.Fatalf("steps = %d, want 15", len(steps))
	}
	for i, step := range steps {
		if step.ID != i+1 || step.Label == "" {
			t.Fatalf("step %d malformed: %+v", i, step)
		}
		if perItem := step.ID >= workflow.StepCategory; perItem != step.PerItem {
			t.Fatalf("step %d PerItem = %v", step.ID, step.PerItem)
		}
	}
	if got := workflow.StepLabel(steps, 0); got != "" {
		t.Fatalf("label for step 0 = %q", got)
	}
}

func waitForItemStatus(t *testing.T, h *harness, id string, want queue.Status) *queue.Item {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		item := h.item(t, id)
		if item.Status == want {
			return item
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s to reach %s; last %+v", id, want, item)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestSkipWhilePausedThenDeclineSubmitThenConcurrentStop(t *testing.T) {
	h := newHarness(t, true)
	first := h.enqueue(t, "Atlanacak", 5)
	second := h.enqueue(t, "Reddedilecek", 0)

	h.start(t)
	waitForGate(t, h.engine, workflow.ConfirmLogin)
	if err := h.engine.Confirm(true); err != nil {
		t.Fatalf("confirm login: %v", err)
	}
	waitForGate(t, h.engine, workflow.ConfirmBanner)
	if err := h.engine.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := h.engine.Skip(); err != nil {
		t.Fatalf("Skip while paused: %v", err)
	}
	waitForItemStatus(t, h, first.ID, queue.StatusSkipped)
	st := waitFor(t, h.engine, "paused between items", func(s workflow.State) bool {
		return s.Status == workflow.StatusPaused && s.CurrentItem == nil
	})
	if !st.IsPaused || st.WaitingForConfirmation != "" {
		t.Fatalf("state after skip = %+v, want still paused", st)
	}
	if got := h.item(t, second.ID).Status; got != queue.StatusPending {
		t.Fatalf("second item status = %s while paused", got)
	}

	if err := h.engine.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitForGate(t, h.engine, workflow.ConfirmBanner)
	if err := h.engine.Confirm(true); err != nil {
		t.Fatalf("confirm banner: %v", err)
	}
	waitForGate(t, h.engine, workflow.ConfirmSubmit)
	if err := h.engine.Confirm(false); err != nil {
		t.Fatalf("decline submit: %v", err)
	}

	// The retry reaches the banner gate again before both stops race.
	waitFor(t, h.engine, "retry at banner gate", func(s workflow.State) bool {
		return s.WaitingForConfirmation == workflow.ConfirmBanner && h.item(t, second.ID).RetryCount == 1
	})
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.engine.Stop(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Stop: %v", err)
		}
	}

	if got := h.item(t, first.ID); got.Status != queue.StatusSkipped || got.RetryCount != 0 {
		t.Fatalf("first item = %s/%d, want skipped", got.Status, got.RetryCount)
	}
	got := h.item(t, second.ID)
	if got.Status != queue.StatusPending || got.RetryCount != 1 {
		t.Fatalf("second item = %s/%d, want pending with one attempt charged", got.Status, got.RetryCount)
	}
	if got.Error == "" {
		t.Fatal("expected the declined submit to stay recorded on the item")
	}
	st = h.engine.Status()
	if st.Status != workflow.StatusIdle || st.IsRunning || st.CurrentItem != nil || st.WaitingForConfirmation != "" {
		t.Fatalf("state after stop = %+v", st)
	}
	if !h.portal.browser.Closed() {
		t.Fatal("expected browser closed after stop")
	}
}

func TestStartWaitsForForciblyStoppedRun(t *testing.T) {
	h := newHarness(t, true)
	h.cfg.Timeouts.StopGraceSeconds = 1
	item := h.enqueue(t, "Takılan", 0)

	release := make(chan struct{})
	var once sync.Once
	h.portal.submit.OnClick = func(context.Context) error {
		blocked := false
		once.Do(func() { blocked = true })
		if blocked {
			<-release
		}
		return nil
	}

	h.start(t)
	confirm := autoConfirm(h.engine, nil)
	waitFor(t, h.engine, "submit clicked", func(workflow.State) bool { return h.portal.submit.Clicks() > 0 })
	confirm()

	stopCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := h.engine.Stop(stopCtx); err != nil {
		t.Fatalf("forced Stop: %v", err)
	}
	if st := h.engine.Status(); st.Status != workflow.StatusIdle || st.IsRunning {
		t.Fatalf("state after forced stop = %+v", st)
	}

	if err := h.engine.Start(context.Background()); !errors.Is(err, workflow.ErrStillStopping) {
		t.Fatalf("Start with a lingering run = %v, want ErrStillStopping", err)
	}

	started := make(chan error, 1)
	go func() { started <- h.engine.Start(context.Background()) }()
	select {
	case err := <-started:
		t.Fatalf("Start returned before the detached run exited: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	if err := <-started; err != nil {
		t.Fatalf("Start after detached run exited: %v", err)
	}

	st := waitForGate(t, h.engine, workflow.ConfirmLogin)
	if st.CurrentItem != nil || st.Progress.Processed != 0 || st.Progress.Failed != 0 {
		t.Fatalf("new run inherited state from the detached run: %+v", st)
	}
	if got := h.item(t, item.ID).Status; got != queue.StatusPending {
		t.Fatalf("interrupted item = %s, want released to pending", got)
	}

	stop := autoConfirm(h.engine, nil)
	defer stop()
	st = waitForStatus(t, h.engine, workflow.StatusCompleted)
	if st.Progress.Processed != 1 {
		t.Fatalf("progress = %+v, want exactly one processed", st.Progress)
	}
	if got := h.item(t, item.ID).Status; got != queue.StatusCompleted {
		t.Fatalf("item status = %s, want completed", got)
	}
}
