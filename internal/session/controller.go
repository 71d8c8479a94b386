package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/timetalks/internal/answer"
	"github.com/ashureev/timetalks/internal/catalog"
	"github.com/ashureev/timetalks/internal/domain"
	"github.com/google/uuid"
)

// Messages shown in place of an answer when a cycle fails.
const (
	FallbackServiceMessage   = "Something went wrong."
	FallbackTransportMessage = "Failed to reach the server."
)

// DefaultTypingDelay is how long the typing indicator stays on after the
// answering service has responded.
const DefaultTypingDelay = time.Second

// Submission guard errors. A rejected submission leaves the session untouched.
var (
	ErrNoCharacter      = errors.New("no character selected")
	ErrEmptyMessage     = errors.New("message is empty")
	ErrCycleInFlight    = errors.New("a reply is already pending")
	ErrUnknownCharacter = errors.New("unknown character")
	ErrClosed           = errors.New("session closed")
)

// Options configures a Controller.
type Options struct {
	Catalog  *catalog.Catalog
	Answerer answer.Answerer
	// TypingDelay defaults to DefaultTypingDelay. Use a negative value for no delay.
	TypingDelay time.Duration
	Scheduler   Scheduler
	Recorder    Recorder
	Logger      *slog.Logger
}

// cycle is one submission on its way to a reply or an error.
type cycle struct {
	id        string
	epoch     uint64
	character domain.Character
	question  string
	started   time.Time
	timer     Timer
}

// Controller drives a session: character selection, message submission and
// the asynchronous request/response cycle behind every submission.
type Controller struct {
	id       string
	catalog  *catalog.Catalog
	answerer answer.Answerer
	sched    Scheduler
	delay    time.Duration
	recorder Recorder
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	state   State
	current *cycle
	subs    map[int]chan Projection
	nextSub int
	closed  bool
}

// New creates a controller for a fresh session.
func New(opts Options) (*Controller, error) {
	if opts.Catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if opts.Answerer == nil {
		return nil, fmt.Errorf("answerer is required")
	}
	if opts.Scheduler == nil {
		opts.Scheduler = SystemScheduler()
	}
	if opts.Recorder == nil {
		opts.Recorder = noopRecorder{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	switch {
	case opts.TypingDelay == 0:
		opts.TypingDelay = DefaultTypingDelay
	case opts.TypingDelay < 0:
		opts.TypingDelay = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()

	return &Controller{
		id:       id,
		catalog:  opts.Catalog,
		answerer: opts.Answerer,
		sched:    opts.Scheduler,
		delay:    opts.TypingDelay,
		recorder: opts.Recorder,
		logger:   opts.Logger.With("session_id", id),
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[int]chan Projection),
	}, nil
}

// ID returns the session identifier.
func (c *Controller) ID() string {
	return c.id
}

// Catalog returns the characters this session can select from.
func (c *Controller) Catalog() *catalog.Catalog {
	return c.catalog
}

// Snapshot returns the current projection.
func (c *Controller) Snapshot() Projection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Project(c.id, &c.state)
}

// SelectCharacter makes the character at index active and clears the
// transcript. A cycle still in flight is abandoned: its typing timer is
// stopped and its result will be dropped.
func (c *Controller) SelectCharacter(index int) error {
	ch, ok := c.catalog.At(index)
	if !ok {
		return fmt.Errorf("%w: index %d", ErrUnknownCharacter, index)
	}
	return c.selectCharacter(ch)
}

// SelectCharacterByID is SelectCharacter addressed by character id.
func (c *Controller) SelectCharacterByID(id int) error {
	index, ok := c.catalog.IndexOf(id)
	if !ok {
		return fmt.Errorf("%w: id %d", ErrUnknownCharacter, id)
	}
	return c.SelectCharacter(index)
}

func (c *Controller) selectCharacter(ch domain.Character) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	if cur := c.current; cur != nil {
		c.stopTimerLocked(cur)
		c.logger.Info("Abandoning in-flight cycle on character switch",
			"cycle_id", cur.id,
			"character_id", cur.character.ID,
		)
		c.current = nil
	}

	c.state.selectCharacter(ch)
	c.logger.Info("Character selected", "character_id", ch.ID, "name", ch.Name)
	c.notifyLocked()
	return nil
}

// SetDraft replaces the unsent input text.
func (c *Controller) SetDraft(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.state.draft == text {
		return
	}
	c.state.draft = text
	c.notifyLocked()
}

// Submit sends text to the active character. The user's message is appended
// before Submit returns; the reply or error is appended later, once the
// answering service has responded and the typing delay has passed.
//
// Submit rejects empty text, a missing character selection and a cycle
// already in flight without changing anything.
func (c *Controller) Submit(text string) error {
	question := strings.TrimSpace(text)

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.state.active == nil:
		c.mu.Unlock()
		c.logger.Debug("Submission rejected", "reason", ErrNoCharacter)
		return ErrNoCharacter
	case question == "":
		c.mu.Unlock()
		c.logger.Debug("Submission rejected", "reason", ErrEmptyMessage)
		return ErrEmptyMessage
	case c.state.pending:
		c.mu.Unlock()
		c.logger.Debug("Submission rejected", "reason", ErrCycleInFlight)
		return ErrCycleInFlight
	}

	cy := &cycle{
		id:        uuid.NewString(),
		epoch:     c.state.epoch,
		character: *c.state.active,
		question:  question,
		started:   time.Now(),
	}

	c.state.appendMessage(domain.SenderUser, question)
	c.state.draft = ""
	c.state.pending = true
	c.state.typing = true
	c.current = cy
	c.notifyLocked()

	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Info("Cycle started",
		"cycle_id", cy.id,
		"character_id", cy.character.ID,
		"question_length", len(question),
	)
	c.recorder.Record(Event{
		Timestamp:   cy.started,
		SessionID:   c.id,
		CycleID:     cy.id,
		CharacterID: cy.character.ID,
		Kind:        EventUserMessage,
		Sender:      domain.SenderUser,
		Body:        question,
	})

	go c.run(cy)
	return nil
}

// outcome is the message a settled cycle will append.
type outcome struct {
	kind   EventKind
	sender string
	body   string
	cause  error
}

func (c *Controller) run(cy *cycle) {
	defer c.wg.Done()

	reply, err := c.answerer.Ask(c.ctx, answer.Question{
		CharacterID: cy.character.ID,
		Text:        cy.question,
	})
	out := classify(cy.character, reply, err)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isStaleLocked(cy) {
		c.discardLocked(cy, out)
		return
	}

	// The delay runs from the moment the call settled, however long it took.
	c.wg.Add(1)
	cy.timer = c.sched.AfterFunc(c.delay, func() {
		defer c.wg.Done()
		c.complete(cy, out)
	})
}

func (c *Controller) complete(cy *cycle, out outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isStaleLocked(cy) {
		c.discardLocked(cy, out)
		return
	}

	c.state.typing = false
	c.state.appendMessage(out.sender, out.body)
	c.state.pending = false
	c.current = nil
	c.notifyLocked()

	elapsed := time.Since(cy.started)
	attrs := []any{
		"cycle_id", cy.id,
		"character_id", cy.character.ID,
		"outcome", out.kind,
		"duration_ms", elapsed.Milliseconds(),
	}
	if out.cause != nil {
		c.logger.Warn("Cycle failed", append(attrs, "error", out.cause)...)
	} else {
		c.logger.Info("Cycle completed", attrs...)
	}

	ev := Event{
		Timestamp:   time.Now(),
		SessionID:   c.id,
		CycleID:     cy.id,
		CharacterID: cy.character.ID,
		Kind:        out.kind,
		Sender:      out.sender,
		Body:        out.body,
		Duration:    elapsed,
	}
	if out.cause != nil {
		ev.Cause = out.cause.Error()
	}
	c.recorder.Record(ev)
}

func classify(ch domain.Character, reply string, err error) outcome {
	if err == nil {
		return outcome{kind: EventReply, sender: ch.Name, body: reply}
	}
	if se, ok := answer.AsServiceError(err); ok {
		msg := se.Message
		if msg == "" {
			msg = FallbackServiceMessage
		}
		return outcome{kind: EventSystemMessage, sender: domain.SenderSystem, body: msg, cause: err}
	}
	return outcome{kind: EventSystemMessage, sender: domain.SenderSystem, body: FallbackTransportMessage, cause: err}
}

func (c *Controller) isStaleLocked(cy *cycle) bool {
	return c.closed || c.current != cy || c.state.epoch != cy.epoch
}

func (c *Controller) discardLocked(cy *cycle, out outcome) {
	c.logger.Info("Discarding result of abandoned cycle",
		"cycle_id", cy.id,
		"character_id", cy.character.ID,
		"outcome", out.kind,
	)
	c.recorder.Record(Event{
		Timestamp:   time.Now(),
		SessionID:   c.id,
		CycleID:     cy.id,
		CharacterID: cy.character.ID,
		Kind:        EventDiscarded,
		Sender:      out.sender,
		Body:        out.body,
		Duration:    time.Since(cy.started),
	})
}

// stopTimerLocked cancels the typing timer of cy if it has not fired yet.
func (c *Controller) stopTimerLocked(cy *cycle) {
	if cy.timer != nil && cy.timer.Stop() {
		c.wg.Done()
	}
}

// Subscribe returns a channel that receives the current projection and then
// the latest projection after every change. Slow readers only see the most
// recent one. The channel is closed by the returned cancel func or by Close.
func (c *Controller) Subscribe() (<-chan Projection, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan Projection, 1)
	if c.closed {
		close(ch)
		return ch, func() {}
	}

	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- Project(c.id, &c.state)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

func (c *Controller) notifyLocked() {
	if len(c.subs) == 0 {
		return
	}
	p := Project(c.id, &c.state)
	for _, ch := range c.subs {
		select {
		case ch <- p:
		default:
			// Replace the unread projection with the newer one.
			select {
			case <-ch:
			default:
			}
			ch <- p
		}
	}
}

// Close abandons any in-flight cycle, closes subscriptions and waits for
// background work to finish.
func (c *Controller) Close() {
	c.cancel()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if cur := c.current; cur != nil {
		c.stopTimerLocked(cur)
		c.current = nil
	}
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.mu.Unlock()

	c.wg.Wait()
}
