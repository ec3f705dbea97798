// Package inbox keeps the conversation list and the open conversation in
// sync with the server by polling.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/tradepost/internal/client/api"
	"github.com/dmitrijs2005/tradepost/internal/client/metrics"
	"github.com/dmitrijs2005/tradepost/internal/client/models"
	"github.com/dmitrijs2005/tradepost/internal/logging"
)

const (
	DefaultConversationInterval = 5 * time.Second
	DefaultMessageInterval      = 3 * time.Second
	DefaultMessageLimit         = 50

	loopConversations = "conversations"
	loopMessages      = "messages"

	eventBuffer = 16
)

// API is the part of the API client the inbox polls.
type API interface {
	ListConversations(ctx context.Context) ([]models.ConversationSummary, error)
	StartConversation(ctx context.Context, listingID string) (*models.ConversationSummary, error)
	ListMessages(ctx context.Context, conversationID string, q api.MessageQuery) ([]models.Message, error)
	SendMessage(ctx context.Context, conversationID, body string) (*models.Message, error)
	MarkRead(ctx context.Context, conversationID string) error
}

type Config struct {
	ConversationInterval time.Duration
	MessageInterval      time.Duration
	MessageLimit         int
	Logger               logging.Logger
	Metrics              *metrics.Inbox
}

// Controller runs two polling loops: one for the conversation list while the
// inbox is open, one for the messages of the selected conversation.
//
// Every fetch remembers the generation it was issued under. A result that
// comes back after the view or the selection moved on is dropped.
type Controller struct {
	api          API
	convInterval time.Duration
	msgInterval  time.Duration
	msgLimit     int
	logger       logging.Logger
	metrics      *metrics.Inbox
	events       chan Event
	wg           sync.WaitGroup

	mu            sync.Mutex
	running       bool
	runCtx        context.Context
	cancel        context.CancelFunc
	viewGen       uint64
	convKick      chan struct{}
	conversations []models.ConversationSummary

	selected  string
	selGen    uint64
	msgCancel context.CancelFunc
	msgKick   chan struct{}
	messages  []models.Message
	lastLen   int
}

func NewController(inboxAPI API, cfg Config) *Controller {
	c := &Controller{
		api:          inboxAPI,
		convInterval: cfg.ConversationInterval,
		msgInterval:  cfg.MessageInterval,
		msgLimit:     cfg.MessageLimit,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		events:       make(chan Event, eventBuffer),
	}
	if c.convInterval <= 0 {
		c.convInterval = DefaultConversationInterval
	}
	if c.msgInterval <= 0 {
		c.msgInterval = DefaultMessageInterval
	}
	if c.msgLimit <= 0 {
		c.msgLimit = DefaultMessageLimit
	}
	if c.logger == nil {
		c.logger = logging.Nop()
	}
	if c.metrics == nil {
		c.metrics = metrics.NewInbox(nil)
	}
	return c
}

// Updates delivers change notifications. Events are dropped when the reader
// falls behind; the snapshots are always current.
func (c *Controller) Updates() <-chan Event { return c.events }

// Start opens the inbox view and begins polling conversations. It is a no-op
// when already running.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}

	c.running = true
	c.viewGen++
	c.runCtx, c.cancel = context.WithCancel(ctx)
	c.convKick = make(chan struct{}, 1)

	c.wg.Add(1)
	go c.conversationLoop(c.runCtx, c.viewGen, c.convKick)

	if c.selected != "" {
		c.startMessagesLocked()
	}
}

// Stop closes the view, drops the selection and waits for the loops to exit.
// Calls still in flight finish and their results are discarded.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.haltLocked()
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Select makes id the open conversation, starts its message loop and marks it
// read.
func (c *Controller) Select(id string) {
	c.mu.Lock()
	if id == c.selected {
		c.mu.Unlock()
		return
	}
	c.stopMessagesLocked()
	c.selected = id
	c.selGen++
	c.messages = nil
	c.lastLen = 0

	running := c.running
	var ctx context.Context
	gen := c.selGen
	if running {
		ctx = c.runCtx
		c.startMessagesLocked()
		c.wg.Add(1)
	}
	c.mu.Unlock()

	c.emit(Event{Kind: EventMessages, ConversationID: id})
	if running {
		go func() {
			defer c.wg.Done()
			c.markRead(ctx, gen, id)
		}()
	}
}

// Deselect closes the open conversation and stops its message loop.
func (c *Controller) Deselect() {
	c.mu.Lock()
	if c.selected == "" {
		c.mu.Unlock()
		return
	}
	c.stopMessagesLocked()
	c.selected = ""
	c.selGen++
	c.messages = nil
	c.lastLen = 0
	c.mu.Unlock()

	c.emit(Event{Kind: EventMessages})
}

// Send posts body to the selected conversation and refreshes both lists.
func (c *Controller) Send(ctx context.Context, body string) (*models.Message, error) {
	c.mu.Lock()
	id := c.selected
	c.mu.Unlock()
	if id == "" {
		return nil, fmt.Errorf("%w: no conversation selected", api.ErrPreconditionFailed)
	}

	msg, err := c.api.SendMessage(ctx, id, body)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	c.kickMessages()
	c.kickConversations()
	return msg, nil
}

// StartConversation opens, or reopens, the conversation about a listing and
// selects it.
func (c *Controller) StartConversation(ctx context.Context, listingID string) (*models.ConversationSummary, error) {
	conv, err := c.api.StartConversation(ctx, listingID)
	if err != nil {
		return nil, fmt.Errorf("start conversation: %w", err)
	}
	c.Select(conv.ID)
	c.kickConversations()
	return conv, nil
}

// Conversations returns a copy of the last applied conversation list.
func (c *Controller) Conversations() []models.ConversationSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.ConversationSummary(nil), c.conversations...)
}

// Messages returns a copy of the selected conversation's messages.
func (c *Controller) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Message(nil), c.messages...)
}

func (c *Controller) Selected() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected, c.selected != ""
}

func (c *Controller) conversationLoop(ctx context.Context, gen uint64, kick <-chan struct{}) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.convInterval)
	defer ticker.Stop()

	for {
		c.fetchConversations(ctx, gen)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-kick:
		}
	}
}

func (c *Controller) messageLoop(ctx context.Context, gen uint64, id string, kick <-chan struct{}) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.msgInterval)
	defer ticker.Stop()

	for {
		c.fetchMessages(ctx, gen, id)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-kick:
		}
	}
}

func (c *Controller) fetchConversations(ctx context.Context, gen uint64) {
	list, err := c.api.ListConversations(ctx)
	c.metrics.Polls.WithLabelValues(loopConversations, metrics.Outcome(err)).Inc()
	if err != nil {
		c.fail(ctx, loopConversations, err)
		return
	}

	c.mu.Lock()
	if gen != c.viewGen {
		c.mu.Unlock()
		c.metrics.Discarded.WithLabelValues(loopConversations).Inc()
		return
	}
	c.conversations = list
	c.mu.Unlock()

	c.emit(Event{Kind: EventConversations})
}

func (c *Controller) fetchMessages(ctx context.Context, gen uint64, id string) {
	msgs, err := c.api.ListMessages(ctx, id, api.MessageQuery{Limit: c.msgLimit})
	c.metrics.Polls.WithLabelValues(loopMessages, metrics.Outcome(err)).Inc()
	if err != nil {
		c.fail(ctx, loopMessages, err)
		return
	}

	c.mu.Lock()
	if gen != c.selGen {
		c.mu.Unlock()
		c.metrics.Discarded.WithLabelValues(loopMessages).Inc()
		c.logger.Debug(ctx, "stale messages discarded", "conversation_id", id)
		return
	}
	grew := len(msgs) != c.lastLen
	c.messages = msgs
	c.lastLen = len(msgs)
	c.mu.Unlock()

	c.emit(Event{Kind: EventMessages, ConversationID: id})
	if grew {
		c.markRead(ctx, gen, id)
	}
}

func (c *Controller) markRead(ctx context.Context, gen uint64, id string) {
	err := c.api.MarkRead(ctx, id)
	c.metrics.MarkReads.WithLabelValues(metrics.Outcome(err)).Inc()
	if err != nil {
		c.fail(ctx, "mark-read", err)
		return
	}

	c.mu.Lock()
	current := gen == c.selGen
	c.mu.Unlock()
	if current {
		c.kickConversations()
	}
}

// fail logs a poll error and reports it. Losing the session stops polling
// altogether; anything else is retried on the next tick.
func (c *Controller) fail(ctx context.Context, loop string, err error) {
	if ctx.Err() != nil {
		return
	}
	if errors.Is(err, api.ErrUnauthorized) || errors.Is(err, api.ErrSessionExpired) {
		c.logger.Info(ctx, "inbox stopped, session ended", "loop", loop)
		c.mu.Lock()
		c.haltLocked()
		c.mu.Unlock()
		c.emit(Event{Kind: EventSessionEnded, Err: err})
		return
	}
	c.logger.Warn(ctx, "inbox poll failed", "loop", loop, "error", err)
	c.emit(Event{Kind: EventError, Err: err})
}

func (c *Controller) haltLocked() {
	c.stopMessagesLocked()
	c.selected = ""
	c.selGen++
	c.messages = nil
	c.lastLen = 0
	if !c.running {
		return
	}
	c.running = false
	c.viewGen++
	c.cancel()
	c.convKick = nil
}

func (c *Controller) startMessagesLocked() {
	var ctx context.Context
	ctx, c.msgCancel = context.WithCancel(c.runCtx)
	c.msgKick = make(chan struct{}, 1)
	c.wg.Add(1)
	go c.messageLoop(ctx, c.selGen, c.selected, c.msgKick)
}

func (c *Controller) stopMessagesLocked() {
	if c.msgCancel != nil {
		c.msgCancel()
		c.msgCancel = nil
	}
	c.msgKick = nil
}

func (c *Controller) kickConversations() {
	c.mu.Lock()
	ch := c.convKick
	c.mu.Unlock()
	kick(ch)
}

func (c *Controller) kickMessages() {
	c.mu.Lock()
	ch := c.msgKick
	c.mu.Unlock()
	kick(ch)
}

func kick(ch chan struct{}) {
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (c *Controller) emit(e Event) {
	select {
	case c.events <- e:
	default:
	}
}
