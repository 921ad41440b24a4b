// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/dotnetfactory/model-faceoff/internal/cost"
	"github.com/dotnetfactory/model-faceoff/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNoModelSelected rejects a submit with zero participating panels.
	ErrNoModelSelected = errors.New("no model selected")

	// ErrExchangeInFlight rejects a submit while a previous one streams.
	ErrExchangeInFlight = errors.New("exchange still in flight")
)

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// Streams is the stream registry surface the orchestrator drives.
type Streams interface {
	Start(ctx context.Context, streamID, modelID string, messages []model.ChatMessage) error
	Stop(streamID string)
	StopAll()
}

// Store is the persistence gateway. Every call is advisory: failures are
// logged and never roll back in-memory panel state.
type Store interface {
	CreateConversation(conv *model.Conversation) error
	UpdateConversationTitle(id, title string) error
	GetConversation(id string) (*model.Conversation, error)
	GetMessages(conversationID string) ([]*model.Message, error)
	AppendMessage(msg *model.Message) error
	AppendAPILog(entry *model.APILog) error
}

// TitleGenerator produces a short conversation title from the first prompt.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, modelID, prompt string) (string, error)
}

// PriceSource supplies per-million prices for cost estimation.
type PriceSource interface {
	PriceTable(ctx context.Context) (cost.Table, error)
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// firstExchange tracks title-generation bookkeeping for a conversation that
// was created by this process's first submit.
type firstExchange struct {
	armed     bool
	expected  int
	completed int
	prompt    string
}

// Orchestrator binds panels to model selections and reconciles asynchronous
// chunk events back into their state. Not safe for concurrent use.
type Orchestrator struct {
	streams Streams
	store   Store
	titler  TitleGenerator
	prices  PriceSource

	titleModel string

	panels [PanelCount]*Panel

	conversationID string
	titleDecided   bool
	exchange       firstExchange

	// routes and streamModels are the addressed-routing tables for the
	// multiplexed event channel; seen is the idempotency guard for
	// completion side effects.
	routes       map[string]int
	streamModels map[string]string
	seen         map[string]struct{}

	// priceTable is a snapshot refreshed at submit time so terminal-event
	// handling never waits on the network.
	priceTable cost.Table
}

// New creates an Orchestrator. titler may be nil to disable auto-titles.
func New(streams Streams, store Store, titler TitleGenerator, prices PriceSource, titleModel string) *Orchestrator {
	o := &Orchestrator{
		streams:      streams,
		store:        store,
		titler:       titler,
		prices:       prices,
		titleModel:   titleModel,
		routes:       make(map[string]int),
		streamModels: make(map[string]string),
		seen:         make(map[string]struct{}),
	}
	for i := range o.panels {
		o.panels[i] = &Panel{Index: i}
	}
	return o
}

// Panel returns the panel at index, or nil if out of range.
func (o *Orchestrator) Panel(index int) *Panel {
	if index < 0 || index >= PanelCount {
		return nil
	}
	return o.panels[index]
}

// SetPanelModel selects (or clears, with "") the model for one panel.
func (o *Orchestrator) SetPanelModel(index int, modelID string) {
	if p := o.Panel(index); p != nil {
		p.ModelID = modelID
	}
}

// ConversationID returns the active conversation id, empty if none.
func (o *Orchestrator) ConversationID() string {
	return o.conversationID
}

// Streaming reports whether any panel has a stream in flight.
func (o *Orchestrator) Streaming() bool {
	for _, p := range o.panels {
		if p.Streaming {
			return true
		}
	}
	return false
}

// =============================================================================
// SUBMIT
// =============================================================================

// Submit fans the prompt out to every panel with a selected model. It
// rejects synchronously, before any network call, when no panel has a model
// or a previous exchange is still streaming.
func (o *Orchestrator) Submit(ctx context.Context, prompt string) error {
	var active []*Panel
	for _, p := range o.panels {
		if p.HasModel() {
			active = append(active, p)
		}
	}
	if len(active) == 0 {
		return ErrNoModelSelected
	}
	if o.Streaming() {
		return ErrExchangeInFlight
	}

	o.refreshPrices(ctx)

	if o.conversationID == "" {
		o.createConversation(active, prompt)
	}

	o.persistUserMessage(prompt)

	for _, p := range active {
		streamID := uuid.NewString()
		o.routes[streamID] = p.Index
		o.streamModels[streamID] = p.ModelID

		p.History = append(p.History, model.NewUserMessage(prompt))
		p.beginStream()

		if err := o.streams.Start(ctx, streamID, p.ModelID, p.History); err != nil {
			// Pre-flight rejection (credential policy). Panel-local:
			// siblings keep streaming.
			log.Printf("orchestrator: start %s (%s): %v", streamID, p.ModelID, err)
			p.Streaming = false
			p.LastErr = err.Error()
			delete(o.routes, streamID)
			delete(o.streamModels, streamID)
			o.noteCompletion()
		}
	}
	return nil
}

// createConversation lazily creates the conversation record and arms the
// one-shot title trigger for this first exchange.
func (o *Orchestrator) createConversation(active []*Panel, prompt string) {
	modelIDs := make([]string, 0, len(active))
	for _, p := range active {
		modelIDs = append(modelIDs, p.ModelID)
	}

	conv := &model.Conversation{
		ID:       uuid.NewString(),
		ModelIDs: modelIDs,
	}
	o.conversationID = conv.ID
	o.titleDecided = false
	o.exchange = firstExchange{
		armed:    true,
		expected: len(active),
		prompt:   prompt,
	}

	if err := o.store.CreateConversation(conv); err != nil {
		log.Printf("orchestrator: create conversation: %v", err)
	}
}

// persistUserMessage stores the shared user message once per submit.
func (o *Orchestrator) persistUserMessage(prompt string) {
	msg := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: o.conversationID,
		Role:           model.RoleUser,
		Content:        prompt,
	}
	if err := o.store.AppendMessage(msg); err != nil {
		log.Printf("orchestrator: persist user message: %v", err)
	}
}

// refreshPrices snapshots the price table while a context is at hand.
func (o *Orchestrator) refreshPrices(ctx context.Context) {
	if o.prices == nil {
		return
	}
	table, err := o.prices.PriceTable(ctx)
	if err != nil {
		log.Printf("orchestrator: price table: %v", err)
		return
	}
	o.priceTable = table
}

// =============================================================================
// EVENT HANDLING
// =============================================================================

// HandleEvent routes one chunk event to its panel. Events for unknown
// stream ids are ignored.
func (o *Orchestrator) HandleEvent(ev model.ChunkEvent) {
	panelIdx, ok := o.routes[ev.StreamID]
	if !ok {
		return
	}
	panel := o.panels[panelIdx]

	switch {
	case ev.Err != "":
		o.completeOnce(ev, panel)
		panel.Streaming = false
		panel.Buffer = ""
		panel.LastErr = ev.Err
		o.dropStream(ev.StreamID)

	case ev.Done:
		o.completeOnce(ev, panel)

		content := ev.FullContent
		if content == "" {
			content = panel.Buffer
		}
		panel.History = append(panel.History, model.NewAssistantMessage(content))
		panel.Buffer = ""
		panel.Streaming = false
		panel.LastUsage = ev.Usage
		panel.LastLatencyMs = ev.LatencyMs
		panel.LastCost = o.costFor(ev.StreamID, ev.Usage)
		o.dropStream(ev.StreamID)

	default:
		panel.Buffer += ev.Content
	}
}

// dropStream removes the routing associations for a finished stream.
func (o *Orchestrator) dropStream(streamID string) {
	delete(o.routes, streamID)
	delete(o.streamModels, streamID)
}

// costFor resolves the cost for a completed stream: authoritative when the
// provider reported one, estimated from the price snapshot otherwise, nil
// when neither is available.
func (o *Orchestrator) costFor(streamID string, usage *model.Usage) *float64 {
	var prices *cost.ModelPrices
	if modelID, ok := o.streamModels[streamID]; ok {
		prices = o.priceTable.Lookup(modelID)
	}
	return cost.Compute(usage, prices)
}

// completeOnce runs the completion side effects for a stream id exactly
// once: api-log append, assistant message persistence and completion
// counting. Check-and-insert on the seen set; single-goroutine discipline
// makes that atomic enough.
func (o *Orchestrator) completeOnce(ev model.ChunkEvent, panel *Panel) {
	if _, done := o.seen[ev.StreamID]; done {
		return
	}
	o.seen[ev.StreamID] = struct{}{}

	modelID := o.streamModels[ev.StreamID]
	streamCost := o.costFor(ev.StreamID, ev.Usage)

	if ev.Err != "" {
		o.appendAPILog(&model.APILog{
			ModelID:      modelID,
			Status:       model.APIStatusError,
			ErrorMessage: &ev.Err,
		})
	} else {
		entry := &model.APILog{
			ModelID:   modelID,
			LatencyMs: ev.LatencyMs,
			Cost:      streamCost,
			Status:    model.APIStatusSuccess,
		}
		if ev.Usage != nil {
			entry.PromptTokens = ev.Usage.PromptTokens
			entry.CompletionTokens = ev.Usage.CompletionTokens
			entry.TotalTokens = ev.Usage.TotalTokens
		}
		o.appendAPILog(entry)

		content := ev.FullContent
		if content == "" {
			content = panel.Buffer
		}
		o.persistAssistantMessage(panel, modelID, content, ev, streamCost)
	}

	o.noteCompletion()
}

func (o *Orchestrator) appendAPILog(entry *model.APILog) {
	if err := o.store.AppendAPILog(entry); err != nil {
		log.Printf("orchestrator: append api log: %v", err)
	}
}

func (o *Orchestrator) persistAssistantMessage(panel *Panel, modelID, content string, ev model.ChunkEvent, streamCost *float64) {
	panelIdx := panel.Index
	msg := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: o.conversationID,
		Role:           model.RoleAssistant,
		Content:        content,
		ModelID:        &modelID,
		PanelIndex:     &panelIdx,
		LatencyMs:      &ev.LatencyMs,
		Cost:           streamCost,
	}
	if ev.Usage != nil {
		msg.PromptTokens = &ev.Usage.PromptTokens
		msg.CompletionTokens = &ev.Usage.CompletionTokens
	}
	if err := o.store.AppendMessage(msg); err != nil {
		log.Printf("orchestrator: persist assistant message: %v", err)
	}
}

// =============================================================================
// TITLE GENERATION
// =============================================================================

// titleTimeout bounds the detached title-generation call.
const titleTimeout = 30 * time.Second

// noteCompletion counts one finished stream of the first exchange and fires
// the title generation when all expected streams are accounted for. Never
// re-fires for later exchanges, never fires for restored conversations.
func (o *Orchestrator) noteCompletion() {
	if !o.exchange.armed || o.titleDecided {
		return
	}
	o.exchange.completed++
	if o.exchange.completed < o.exchange.expected {
		return
	}

	o.titleDecided = true
	o.exchange.armed = false

	if o.titler == nil {
		return
	}

	modelID := o.titleModel
	if modelID == "" {
		for _, p := range o.panels {
			if p.HasModel() {
				modelID = p.ModelID
				break
			}
		}
	}

	// Fire-and-forget: failures are logged and never reach the submit path.
	go o.generateTitle(o.conversationID, modelID, o.exchange.prompt)
}

func (o *Orchestrator) generateTitle(conversationID, modelID, prompt string) {
	ctx, cancel := context.WithTimeout(context.Background(), titleTimeout)
	defer cancel()

	title, err := o.titler.GenerateTitle(ctx, modelID, prompt)
	if err != nil {
		log.Printf("orchestrator: title generation: %v", err)
		return
	}
	if title == "" {
		return
	}
	if err := o.store.UpdateConversationTitle(conversationID, title); err != nil {
		log.Printf("orchestrator: persist title: %v", err)
	}
}

// =============================================================================
// STOP / CLEAR / LOAD
// =============================================================================

// StopAll cancels every panel's active stream and clears streaming state
// immediately, without waiting for the network layer.
func (o *Orchestrator) StopAll() {
	for streamID := range o.routes {
		o.streams.Stop(streamID)
	}
	o.routes = make(map[string]int)
	o.streamModels = make(map[string]string)
	for _, p := range o.panels {
		p.Streaming = false
		p.Buffer = ""
	}

	// An interrupted first exchange can never title the conversation; left
	// armed, a later exchange's completions would satisfy its count.
	if o.exchange.armed {
		o.exchange = firstExchange{}
		o.titleDecided = true
	}
}

// Clear stops everything and returns the orchestrator to its initial
// state: empty histories, no conversation, title bookkeeping reset. Model
// selections survive.
func (o *Orchestrator) Clear() {
	o.StopAll()
	for _, p := range o.panels {
		p.reset()
	}
	o.conversationID = ""
	o.titleDecided = false
	o.exchange = firstExchange{}
	o.seen = make(map[string]struct{})
}

// LoadConversation replaces the current state with a persisted conversation,
// rebuilding each panel's history by positional replay. The loaded
// conversation is marked title-decided so auto-titling never re-fires.
func (o *Orchestrator) LoadConversation(id string) error {
	conv, err := o.store.GetConversation(id)
	if err != nil {
		return err
	}
	msgs, err := o.store.GetMessages(id)
	if err != nil {
		return err
	}

	o.Clear()
	o.conversationID = conv.ID
	o.titleDecided = true

	for i := range o.panels {
		if i < len(conv.ModelIDs) {
			o.panels[i].ModelID = conv.ModelIDs[i]
		} else {
			o.panels[i].ModelID = ""
		}
	}

	histories := replayHistories(msgs, PanelCount)
	for i, p := range o.panels {
		if p.HasModel() {
			p.History = histories[i]
		}
	}
	return nil
}
