package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/timetalks/internal/answer"
	"github.com/ashureev/timetalks/internal/catalog"
	"github.com/ashureev/timetalks/internal/domain"
	"github.com/google/go-cmp/cmp"
)

// fakeAnswerer answers with a fixed reply or error. When release is non-nil
// every call blocks until it is closed or the context ends.
type fakeAnswerer struct {
	mu        sync.Mutex
	questions []answer.Question
	reply     string
	err       error
	release   chan struct{}
	called    chan struct{}
}

func (f *fakeAnswerer) Ask(ctx context.Context, q answer.Question) (string, error) {
	f.mu.Lock()
	f.questions = append(f.questions, q)
	release := f.release
	f.mu.Unlock()

	if f.called != nil {
		f.called <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %w", answer.ErrUnreachable, ctx.Err())
		}
	}
	return f.reply, f.err
}

func (f *fakeAnswerer) calls() []answer.Question {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]answer.Question, len(f.questions))
	copy(out, f.questions)
	return out
}

// manualScheduler hands deferred actions to the test instead of a clock.
type manualScheduler struct {
	scheduled chan *manualTimer
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{scheduled: make(chan *manualTimer, 16)}
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	t := &manualTimer{delay: d, f: f}
	s.scheduled <- t
	return t
}

func (s *manualScheduler) next(t *testing.T) *manualTimer {
	t.Helper()
	select {
	case timer := <-s.scheduled:
		return timer
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the typing timer to be scheduled")
		return nil
	}
}

func (s *manualScheduler) assertIdle(t *testing.T) {
	t.Helper()
	select {
	case <-s.scheduled:
		t.Fatal("unexpected timer scheduled")
	default:
	}
}

type manualTimer struct {
	mu      sync.Mutex
	delay   time.Duration
	f       func()
	fired   bool
	stopped bool
}

func (t *manualTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

func (t *manualTimer) Fire() {
	t.mu.Lock()
	if t.fired || t.stopped {
		t.mu.Unlock()
		return
	}
	t.fired = true
	t.mu.Unlock()
	t.f()
}

type captureRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *captureRecorder) Record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *captureRecorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

type harness struct {
	ctl      *Controller
	answerer *fakeAnswerer
	sched    *manualScheduler
	recorder *captureRecorder
}

func newHarness(t *testing.T, a *fakeAnswerer) *harness {
	t.Helper()
	h := &harness{
		answerer: a,
		sched:    newManualScheduler(),
		recorder: &captureRecorder{},
	}
	ctl, err := New(Options{
		Catalog:     catalog.Default(),
		Answerer:    a,
		Scheduler:   h.sched,
		TypingDelay: time.Second,
		Recorder:    h.recorder,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(ctl.Close)
	h.ctl = ctl
	return h
}

func transcriptOf(p Projection) []domain.ChatMessage {
	out := make([]domain.ChatMessage, 0, len(p.Transcript))
	for _, e := range p.Transcript {
		out = append(out, domain.ChatMessage{Sender: e.Sender, Body: e.Body})
	}
	return out
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Options{Answerer: &fakeAnswerer{}}); err == nil {
		t.Error("expected error without catalog")
	}
	if _, err := New(Options{Catalog: catalog.Default()}); err == nil {
		t.Error("expected error without answerer")
	}
}

func TestInitialProjection(t *testing.T) {
	h := newHarness(t, &fakeAnswerer{})
	p := h.ctl.Snapshot()

	if p.ActiveCharacter != nil {
		t.Fatalf("expected no active character, got %+v", p.ActiveCharacter)
	}
	if len(p.Transcript) != 0 || p.Transcript == nil {
		t.Fatalf("expected empty non-nil transcript, got %#v", p.Transcript)
	}
	if p.ComposerEnabled || p.SubmitEnabled || p.Pending || p.Typing {
		t.Fatalf("unexpected flags on fresh session: %+v", p)
	}
	if p.SessionID != h.ctl.ID() {
		t.Fatalf("expected session id %q, got %q", h.ctl.ID(), p.SessionID)
	}
}

func TestSelectCharacterEnablesComposer(t *testing.T) {
	h := newHarness(t, &fakeAnswerer{})

	if err := h.ctl.SelectCharacterByID(2); err != nil {
		t.Fatalf("SelectCharacterByID failed: %v", err)
	}

	p := h.ctl.Snapshot()
	if p.ActiveCharacter == nil || p.ActiveCharacter.Name != "Isaac Newton" {
		t.Fatalf("expected Isaac Newton active, got %+v", p.ActiveCharacter)
	}
	if len(p.Transcript) != 0 {
		t.Fatalf("expected empty transcript, got %+v", p.Transcript)
	}
	if !p.ComposerEnabled {
		t.Fatal("expected composer enabled")
	}
}

func TestSelectUnknownCharacter(t *testing.T) {
	h := newHarness(t, &fakeAnswerer{})

	if err := h.ctl.SelectCharacter(3); !errors.Is(err, ErrUnknownCharacter) {
		t.Fatalf("expected ErrUnknownCharacter for index 3, got %v", err)
	}
	if err := h.ctl.SelectCharacterByID(42); !errors.Is(err, ErrUnknownCharacter) {
		t.Fatalf("expected ErrUnknownCharacter for id 42, got %v", err)
	}
	if h.ctl.Snapshot().ActiveCharacter != nil {
		t.Fatal("invalid selection must not change the active character")
	}
}

func TestSelectCharacterByIDWithSparseIDs(t *testing.T) {
	cat, err := catalog.New([]domain.Character{
		{ID: 10, Name: "Ada Lovelace"},
		{ID: 7, Name: "Alan Turing"},
	})
	if err != nil {
		t.Fatalf("catalog.New failed: %v", err)
	}
	ctl, err := New(Options{
		Catalog:   cat,
		Answerer:  &fakeAnswerer{},
		Scheduler: newManualScheduler(),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(ctl.Close)

	if err := ctl.SelectCharacterByID(7); err != nil {
		t.Fatalf("SelectCharacterByID failed: %v", err)
	}
	if p := ctl.Snapshot(); p.ActiveCharacter == nil || p.ActiveCharacter.Name != "Alan Turing" {
		t.Fatalf("expected Alan Turing for id 7, got %+v", p.ActiveCharacter)
	}
	if err := ctl.SelectCharacterByID(1); !errors.Is(err, ErrUnknownCharacter) {
		t.Fatalf("expected ErrUnknownCharacter for id 1, got %v", err)
	}
}

func TestSubmitSuccess(t *testing.T) {
	h := newHarness(t, &fakeAnswerer{reply: "It's a force..."})
	if err := h.ctl.SelectCharacter(1); err != nil {
		t.Fatalf("SelectCharacter failed: %v", err)
	}

	if err := h.ctl.Submit("  What is gravity?  "); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// The user's message is visible before the answer arrives.
	p := h.ctl.Snapshot()
	if diff := cmp.Diff([]domain.ChatMessage{{Sender: "You", Body: "What is gravity?"}}, transcriptOf(p)); diff != "" {
		t.Fatalf("transcript after submit mismatch (-want +got):\n%s", diff)
	}
	if !p.Pending || !p.Typing || p.ComposerEnabled {
		t.Fatalf("expected pending+typing with composer disabled, got %+v", p)
	}

	timer := h.sched.next(t)
	if timer.delay != time.Second {
		t.Fatalf("expected typing delay 1s, got %v", timer.delay)
	}

	// The answer has settled but the typing delay is still running.
	p = h.ctl.Snapshot()
	if len(p.Transcript) != 1 || !p.Typing || !p.Pending {
		t.Fatalf("reply must wait for the typing delay, got %+v", p)
	}

	timer.Fire()

	p = h.ctl.Snapshot()
	want := []domain.ChatMessage{
		{Sender: "You", Body: "What is gravity?"},
		{Sender: "Isaac Newton", Body: "It's a force..."},
	}
	if diff := cmp.Diff(want, transcriptOf(p)); diff != "" {
		t.Fatalf("transcript mismatch (-want +got):\n%s", diff)
	}
	if p.Pending || p.Typing || !p.ComposerEnabled {
		t.Fatalf("expected idle session after reply, got %+v", p)
	}
	if p.Transcript[1].Kind != KindCharacter || p.Transcript[0].Kind != KindUser {
		t.Fatalf("unexpected kinds: %+v", p.Transcript)
	}

	calls := h.answerer.calls()
	if diff := cmp.Diff([]answer.Question{{CharacterID: 2, Text: "What is gravity?"}}, calls); diff != "" {
		t.Fatalf("answering calls mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]EventKind{EventUserMessage, EventReply}, h.recorder.kinds()); diff != "" {
		t.Fatalf("recorded events mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmitFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "service error with message",
			err:  &answer.ServiceError{StatusCode: 429, Message: "rate limited"},
			want: "rate limited",
		},
		{
			name: "service error without message",
			err:  &answer.ServiceError{StatusCode: 500},
			want: FallbackServiceMessage,
		},
		{
			name: "transport failure",
			err:  fmt.Errorf("%w: dial tcp: connection refused", answer.ErrUnreachable),
			want: FallbackTransportMessage,
		},
		{
			name: "unclassified error",
			err:  errors.New("boom"),
			want: FallbackTransportMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, &fakeAnswerer{err: tt.err})
			if err := h.ctl.SelectCharacterByID(1); err != nil {
				t.Fatalf("SelectCharacterByID failed: %v", err)
			}
			if err := h.ctl.Submit("Why is the sky blue?"); err != nil {
				t.Fatalf("Submit failed: %v", err)
			}
			h.sched.next(t).Fire()

			p := h.ctl.Snapshot()
			want := []domain.ChatMessage{
				{Sender: "You", Body: "Why is the sky blue?"},
				{Sender: "System", Body: tt.want},
			}
			if diff := cmp.Diff(want, transcriptOf(p)); diff != "" {
				t.Fatalf("transcript mismatch (-want +got):\n%s", diff)
			}
			if p.Transcript[1].Kind != KindSystem {
				t.Fatalf("expected system kind, got %s", p.Transcript[1].Kind)
			}
			if p.Pending || p.Typing {
				t.Fatalf("pending and typing must be cleared after a failure, got %+v", p)
			}
		})
	}
}

func TestSubmitGuards(t *testing.T) {
	t.Run("no character", func(t *testing.T) {
		h := newHarness(t, &fakeAnswerer{})
		if err := h.ctl.Submit("hello"); !errors.Is(err, ErrNoCharacter) {
			t.Fatalf("expected ErrNoCharacter, got %v", err)
		}
		if len(h.answerer.calls()) != 0 {
			t.Fatal("no call expected")
		}
	})

	for _, text := range []string{"", " ", "\t\n "} {
		t.Run(fmt.Sprintf("whitespace %q", text), func(t *testing.T) {
			h := newHarness(t, &fakeAnswerer{})
			if err := h.ctl.SelectCharacter(0); err != nil {
				t.Fatalf("SelectCharacter failed: %v", err)
			}
			before := h.ctl.Snapshot()

			if err := h.ctl.Submit(text); !errors.Is(err, ErrEmptyMessage) {
				t.Fatalf("expected ErrEmptyMessage, got %v", err)
			}

			if diff := cmp.Diff(before, h.ctl.Snapshot()); diff != "" {
				t.Fatalf("state changed on empty submit (-before +after):\n%s", diff)
			}
			if len(h.answerer.calls()) != 0 {
				t.Fatal("no call expected")
			}
		})
	}
}

func TestSubmitRejectedWhilePending(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, &fakeAnswerer{reply: "first", release: release})
	if err := h.ctl.SelectCharacter(0); err != nil {
		t.Fatalf("SelectCharacter failed: %v", err)
	}

	if err := h.ctl.Submit("one"); err != nil {
		t.Fatalf("first Submit failed: %v", err)
	}
	if err := h.ctl.Submit("two"); !errors.Is(err, ErrCycleInFlight) {
		t.Fatalf("expected ErrCycleInFlight, got %v", err)
	}

	close(release)
	timer := h.sched.next(t)

	// Still pending during the typing delay.
	if err := h.ctl.Submit("three"); !errors.Is(err, ErrCycleInFlight) {
		t.Fatalf("expected ErrCycleInFlight during typing delay, got %v", err)
	}
	timer.Fire()

	want := []domain.ChatMessage{
		{Sender: "You", Body: "one"},
		{Sender: "Albert Einstein", Body: "first"},
	}
	if diff := cmp.Diff(want, transcriptOf(h.ctl.Snapshot())); diff != "" {
		t.Fatalf("transcript mismatch (-want +got):\n%s", diff)
	}
	if n := len(h.answerer.calls()); n != 1 {
		t.Fatalf("expected exactly one answering call, got %d", n)
	}
}

func TestSequentialSubmissionsKeepOrder(t *testing.T) {
	h := newHarness(t, &fakeAnswerer{reply: "answer"})
	if err := h.ctl.SelectCharacterByID(3); err != nil {
		t.Fatalf("SelectCharacterByID failed: %v", err)
	}

	var want []domain.ChatMessage
	for i := 0; i < 3; i++ {
		q := fmt.Sprintf("question %d", i)
		if err := h.ctl.Submit(q); err != nil {
			t.Fatalf("Submit %d failed: %v", i, err)
		}
		h.sched.next(t).Fire()
		want = append(want,
			domain.ChatMessage{Sender: "You", Body: q},
			domain.ChatMessage{Sender: "Marie Curie", Body: "answer"},
		)
	}

	if diff := cmp.Diff(want, transcriptOf(h.ctl.Snapshot())); diff != "" {
		t.Fatalf("transcript mismatch (-want +got):\n%s", diff)
	}
}

func TestSelectResetsTranscript(t *testing.T) {
	h := newHarness(t, &fakeAnswerer{reply: "hi"})
	if err := h.ctl.SelectCharacter(0); err != nil {
		t.Fatalf("SelectCharacter failed: %v", err)
	}
	if err := h.ctl.Submit("hello"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	h.sched.next(t).Fire()

	for i := 0; i < catalog.Default().Len(); i++ {
		if err := h.ctl.SelectCharacter(i); err != nil {
			t.Fatalf("SelectCharacter(%d) failed: %v", i, err)
		}
		p := h.ctl.Snapshot()
		want, _ := catalog.Default().At(i)
		if len(p.Transcript) != 0 {
			t.Fatalf("expected empty transcript after selecting %d, got %+v", i, p.Transcript)
		}
		if p.ActiveCharacter == nil || p.ActiveCharacter.ID != want.ID {
			t.Fatalf("expected %s active, got %+v", want.Name, p.ActiveCharacter)
		}
	}
}

func TestSwitchDuringTypingDelayDropsReply(t *testing.T) {
	h := newHarness(t, &fakeAnswerer{reply: "late reply"})
	if err := h.ctl.SelectCharacter(0); err != nil {
		t.Fatalf("SelectCharacter failed: %v", err)
	}
	if err := h.ctl.Submit("hello"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	timer := h.sched.next(t)

	if err := h.ctl.SelectCharacter(1); err != nil {
		t.Fatalf("SelectCharacter failed: %v", err)
	}
	if !timer.stopped {
		t.Fatal("expected typing timer to be stopped on switch")
	}

	p := h.ctl.Snapshot()
	if len(p.Transcript) != 0 || p.Pending || p.Typing {
		t.Fatalf("expected clean session after switch, got %+v", p)
	}
	if !p.ComposerEnabled {
		t.Fatal("composer must be usable right after a switch")
	}

	timer.Fire()
	if n := len(h.ctl.Snapshot().Transcript); n != 0 {
		t.Fatalf("stopped timer appended %d messages", n)
	}
}

func TestStaleCompletionIsDiscarded(t *testing.T) {
	h := newHarness(t, &fakeAnswerer{reply: "late"})
	if err := h.ctl.SelectCharacter(0); err != nil {
		t.Fatalf("SelectCharacter failed: %v", err)
	}
	if err := h.ctl.Submit("hello"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	timer := h.sched.next(t)

	// Simulate a timer that already fired when the switch happened: Stop
	// reports false so the completion still runs and must drop itself.
	timer.mu.Lock()
	timer.fired = true
	timer.mu.Unlock()

	if err := h.ctl.SelectCharacter(1); err != nil {
		t.Fatalf("SelectCharacter failed: %v", err)
	}
	timer.f()

	if n := len(h.ctl.Snapshot().Transcript); n != 0 {
		t.Fatalf("stale completion appended %d messages", n)
	}
	kinds := h.recorder.kinds()
	if kinds[len(kinds)-1] != EventDiscarded {
		t.Fatalf("expected last event discarded, got %v", kinds)
	}
}

func TestSwitchDuringCallDropsReply(t *testing.T) {
	release := make(chan struct{})
	called := make(chan struct{}, 1)
	h := newHarness(t, &fakeAnswerer{reply: "stale", release: release, called: called})
	if err := h.ctl.SelectCharacter(0); err != nil {
		t.Fatalf("SelectCharacter failed: %v", err)
	}
	if err := h.ctl.Submit("hello"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	<-called

	if err := h.ctl.SelectCharacter(2); err != nil {
		t.Fatalf("SelectCharacter failed: %v", err)
	}
	if err := h.ctl.Submit("new question"); err != nil {
		t.Fatalf("Submit in new selection failed: %v", err)
	}
	<-called

	close(release)
	timer := h.sched.next(t)
	timer.Fire()
	h.sched.assertIdle(t)

	h.ctl.Close()

	want := []domain.ChatMessage{
		{Sender: "You", Body: "new question"},
		{Sender: "Marie Curie", Body: "stale"},
	}
	if diff := cmp.Diff(want, transcriptOf(h.ctl.Snapshot())); diff != "" {
		t.Fatalf("transcript mismatch (-want +got):\n%s", diff)
	}

	kinds := h.recorder.kinds()
	discarded := 0
	for _, k := range kinds {
		if k == EventDiscarded {
			discarded++
		}
	}
	if discarded != 1 {
		t.Fatalf("expected one discarded event, got %v", kinds)
	}
}

func TestDraft(t *testing.T) {
	h := newHarness(t, &fakeAnswerer{reply: "ok"})

	h.ctl.SetDraft("hello")
	if p := h.ctl.Snapshot(); p.SubmitEnabled || p.Draft != "hello" {
		t.Fatalf("submit must stay disabled without a character, got %+v", p)
	}

	if err := h.ctl.SelectCharacter(0); err != nil {
		t.Fatalf("SelectCharacter failed: %v", err)
	}
	if p := h.ctl.Snapshot(); !p.SubmitEnabled || p.Draft != "hello" {
		t.Fatalf("expected submit enabled with draft kept across selection, got %+v", p)
	}

	h.ctl.SetDraft("   ")
	if h.ctl.Snapshot().SubmitEnabled {
		t.Fatal("whitespace draft must not enable submit")
	}

	h.ctl.SetDraft("question")
	if err := h.ctl.Submit("question"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if p := h.ctl.Snapshot(); p.Draft != "" || p.SubmitEnabled {
		t.Fatalf("expected draft cleared and submit disabled while pending, got %+v", p)
	}
	h.sched.next(t).Fire()
}

func TestSubscribeDeliversLatestProjection(t *testing.T) {
	h := newHarness(t, &fakeAnswerer{reply: "pong"})

	updates, cancel := h.ctl.Subscribe()
	defer cancel()

	first := <-updates
	if first.ActiveCharacter != nil {
		t.Fatalf("expected initial projection, got %+v", first)
	}

	if err := h.ctl.SelectCharacter(0); err != nil {
		t.Fatalf("SelectCharacter failed: %v", err)
	}
	if err := h.ctl.Submit("ping"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// Two changes happened without a read; only the newest is kept.
	p := <-updates
	if !p.Pending || len(p.Transcript) != 1 {
		t.Fatalf("expected pending projection, got %+v", p)
	}

	h.sched.next(t).Fire()
	p = <-updates
	if p.Pending || len(p.Transcript) != 2 {
		t.Fatalf("expected completed projection, got %+v", p)
	}

	cancel()
	if _, ok := <-updates; ok {
		t.Fatal("expected channel closed after cancel")
	}
}

func TestCloseStopsPendingWork(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, &fakeAnswerer{release: release})
	updates, _ := h.ctl.Subscribe()
	<-updates

	if err := h.ctl.SelectCharacter(0); err != nil {
		t.Fatalf("SelectCharacter failed: %v", err)
	}
	if err := h.ctl.Submit("hello"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	h.ctl.Close()
	h.sched.assertIdle(t)

	for range updates {
	}
	if err := h.ctl.Submit("again"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := h.ctl.SelectCharacter(1); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestSystemSchedulerEndToEnd(t *testing.T) {
	ctl, err := New(Options{
		Catalog:     catalog.Default(),
		Answerer:    &fakeAnswerer{reply: "E = mc^2"},
		TypingDelay: 10 * time.Millisecond,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer ctl.Close()

	updates, cancel := ctl.Subscribe()
	defer cancel()

	if err := ctl.SelectCharacter(0); err != nil {
		t.Fatalf("SelectCharacter failed: %v", err)
	}
	if err := ctl.Submit("What is energy?"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case p := <-updates:
			if len(p.Transcript) == 2 && !p.Pending {
				if p.Transcript[1].Body != "E = mc^2" || p.Typing {
					t.Fatalf("unexpected final projection %+v", p)
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for reply")
		}
	}
}
