// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotnetfactory/model-faceoff/internal/cost"
	"github.com/dotnetfactory/model-faceoff/internal/model"
)

// =============================================================================
// FAKES
// =============================================================================

type startCall struct {
	streamID string
	modelID  string
	history  []model.ChatMessage
}

type fakeStreams struct {
	started []startCall
	stopped []string
	stopAll int

	// failModels maps a model id to a synchronous Start error.
	failModels map[string]error
}

func (f *fakeStreams) Start(_ context.Context, streamID, modelID string, messages []model.ChatMessage) error {
	if err := f.failModels[modelID]; err != nil {
		return err
	}
	history := make([]model.ChatMessage, len(messages))
	copy(history, messages)
	f.started = append(f.started, startCall{streamID: streamID, modelID: modelID, history: history})
	return nil
}

func (f *fakeStreams) Stop(streamID string) { f.stopped = append(f.stopped, streamID) }
func (f *fakeStreams) StopAll()             { f.stopAll++ }

type fakeStore struct {
	convs    []*model.Conversation
	messages []*model.Message
	logs     []*model.APILog
	titles   map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{titles: make(map[string]string)}
}

func (f *fakeStore) CreateConversation(conv *model.Conversation) error {
	copied := *conv
	f.convs = append(f.convs, &copied)
	return nil
}

func (f *fakeStore) UpdateConversationTitle(id, title string) error {
	f.titles[id] = title
	return nil
}

func (f *fakeStore) GetConversation(id string) (*model.Conversation, error) {
	for _, conv := range f.convs {
		if conv.ID == id {
			return conv, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeStore) GetMessages(conversationID string) ([]*model.Message, error) {
	var out []*model.Message
	for _, msg := range f.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (f *fakeStore) AppendMessage(msg *model.Message) error {
	copied := *msg
	f.messages = append(f.messages, &copied)
	return nil
}

func (f *fakeStore) AppendAPILog(entry *model.APILog) error {
	copied := *entry
	f.logs = append(f.logs, &copied)
	return nil
}

func (f *fakeStore) userMessages() []*model.Message {
	var out []*model.Message
	for _, msg := range f.messages {
		if msg.Role == model.RoleUser {
			out = append(out, msg)
		}
	}
	return out
}

func (f *fakeStore) assistantMessages() []*model.Message {
	var out []*model.Message
	for _, msg := range f.messages {
		if msg.Role == model.RoleAssistant {
			out = append(out, msg)
		}
	}
	return out
}

type fakeTitler struct {
	calls chan string
	title string
	err   error
}

func newFakeTitler(title string) *fakeTitler {
	return &fakeTitler{calls: make(chan string, 8), title: title}
}

func (f *fakeTitler) GenerateTitle(_ context.Context, _ string, prompt string) (string, error) {
	f.calls <- prompt
	return f.title, f.err
}

type fakePrices struct {
	table cost.Table
}

func (f *fakePrices) PriceTable(context.Context) (cost.Table, error) {
	return f.table, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func newTestOrchestrator() (*Orchestrator, *fakeStreams, *fakeStore, *fakeTitler) {
	streams := &fakeStreams{}
	store := newFakeStore()
	titler := newFakeTitler("A tidy title")
	prices := &fakePrices{table: cost.Table{
		"modelX": {PromptPerM: 1.00, CompletionPerM: 2.00},
	}}
	return New(streams, store, titler, prices, "title-model"), streams, store, titler
}

func terminalEvent(streamID, full string, usage *model.Usage) model.ChunkEvent {
	return model.ChunkEvent{
		StreamID:    streamID,
		Done:        true,
		FullContent: full,
		Usage:       usage,
		LatencyMs:   120,
	}
}

func waitTitle(t *testing.T, titler *fakeTitler) string {
	t.Helper()
	select {
	case prompt := <-titler.calls:
		return prompt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for title generation")
		return ""
	}
}

func assertNoTitle(t *testing.T, titler *fakeTitler) {
	t.Helper()
	select {
	case prompt := <-titler.calls:
		t.Fatalf("unexpected title generation for prompt %q", prompt)
	case <-time.After(200 * time.Millisecond):
	}
}

// =============================================================================
// SUBMIT
// =============================================================================

func TestSubmit_NoModelSelected(t *testing.T) {
	orch, streams, store, _ := newTestOrchestrator()

	err := orch.Submit(context.Background(), "Hello")
	require.ErrorIs(t, err, ErrNoModelSelected)
	assert.Empty(t, streams.started, "validation failure must make no network call")
	assert.Empty(t, store.convs)
	assert.Empty(t, store.messages)
}

func TestSubmit_FanOutMatchesSelection(t *testing.T) {
	orch, streams, store, _ := newTestOrchestrator()
	orch.SetPanelModel(0, "modelX")
	orch.SetPanelModel(1, "modelY")
	// Panel 2 left without a model.

	require.NoError(t, orch.Submit(context.Background(), "Hello"))

	require.Len(t, streams.started, 2)
	assert.Equal(t, "modelX", streams.started[0].modelID)
	assert.Equal(t, "modelY", streams.started[1].modelID)

	// The new conversation records the selected models in panel order.
	require.Len(t, store.convs, 1)
	assert.Equal(t, []string{"modelX", "modelY"}, store.convs[0].ModelIDs)

	// The user message is shared: persisted once, not per panel.
	require.Len(t, store.userMessages(), 1)
	assert.Equal(t, "Hello", store.userMessages()[0].Content)

	// The idle panel is untouched.
	idle := orch.Panel(2)
	assert.False(t, idle.Streaming)
	assert.Empty(t, idle.History)

	// Each dispatched panel carries the prompt in its history.
	assert.Len(t, streams.started[0].history, 1)
	assert.Equal(t, "Hello", streams.started[0].history[0].Content)
}

func TestSubmit_SecondExchangeSendsFullHistory(t *testing.T) {
	orch, streams, _, titler := newTestOrchestrator()
	orch.SetPanelModel(0, "modelX")

	require.NoError(t, orch.Submit(context.Background(), "first"))
	orch.HandleEvent(terminalEvent(streams.started[0].streamID, "reply one", nil))
	waitTitle(t, titler)

	require.NoError(t, orch.Submit(context.Background(), "second"))
	require.Len(t, streams.started, 2)

	history := streams.started[1].history
	require.Len(t, history, 3)
	assert.Equal(t, "first", history[0].Content)
	assert.Equal(t, "reply one", history[1].Content)
	assert.Equal(t, "second", history[2].Content)
}

func TestSubmit_RejectsWhileStreaming(t *testing.T) {
	orch, _, _, _ := newTestOrchestrator()
	orch.SetPanelModel(0, "modelX")

	require.NoError(t, orch.Submit(context.Background(), "Hello"))
	err := orch.Submit(context.Background(), "again")
	assert.ErrorIs(t, err, ErrExchangeInFlight)
}

func TestSubmit_PreflightFailureIsPanelLocal(t *testing.T) {
	orch, streams, _, titler := newTestOrchestrator()
	streams.failModels = map[string]error{"paid-model": errors.New("paid model requires an API key")}
	orch.SetPanelModel(0, "modelX")
	orch.SetPanelModel(1, "paid-model")

	require.NoError(t, orch.Submit(context.Background(), "Hello"))

	// Only the allowed panel streams; the rejected one shows its error.
	require.Len(t, streams.started, 1)
	assert.Equal(t, "modelX", streams.started[0].modelID)
	assert.True(t, orch.Panel(0).Streaming)

	rejected := orch.Panel(1)
	assert.False(t, rejected.Streaming)
	assert.Contains(t, rejected.LastErr, "API key")

	// The rejected panel still counts toward first-exchange completion, so
	// the title fires once the surviving stream finishes.
	orch.HandleEvent(terminalEvent(streams.started[0].streamID, "done", nil))
	waitTitle(t, titler)
}

// =============================================================================
// EVENT ROUTING
// =============================================================================

func TestHandleEvent_PartialsBufferThenTerminalFlushes(t *testing.T) {
	orch, streams, store, _ := newTestOrchestrator()
	orch.SetPanelModel(0, "modelX")
	require.NoError(t, orch.Submit(context.Background(), "Hello"))
	streamID := streams.started[0].streamID

	orch.HandleEvent(model.ChunkEvent{StreamID: streamID, Content: "Hel"})
	orch.HandleEvent(model.ChunkEvent{StreamID: streamID, Content: "lo"})

	panel := orch.Panel(0)
	assert.Equal(t, "Hello", panel.Buffer)
	assert.True(t, panel.Streaming)

	usage := &model.Usage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12}
	orch.HandleEvent(terminalEvent(streamID, "Hello", usage))

	assert.False(t, panel.Streaming)
	assert.Empty(t, panel.Buffer)
	require.Len(t, panel.History, 2)
	assert.Equal(t, model.RoleAssistant, panel.History[1].Role)
	assert.Equal(t, "Hello", panel.History[1].Content)
	assert.Equal(t, usage, panel.LastUsage)
	assert.Equal(t, int64(120), panel.LastLatencyMs)

	// No authoritative cost, known prices 1.00/2.00 per million,
	// usage 10/2 tokens: estimate is 0.000014.
	require.NotNil(t, panel.LastCost)
	assert.InDelta(t, 0.000014, *panel.LastCost, 1e-12)

	// Persisted assistant message carries the same accounting.
	require.Len(t, store.assistantMessages(), 1)
	persisted := store.assistantMessages()[0]
	assert.Equal(t, "Hello", persisted.Content)
	require.NotNil(t, persisted.Cost)
	assert.InDelta(t, 0.000014, *persisted.Cost, 1e-12)
	require.NotNil(t, persisted.PanelIndex)
	assert.Equal(t, 0, *persisted.PanelIndex)

	require.Len(t, store.logs, 1)
	assert.Equal(t, model.APIStatusSuccess, store.logs[0].Status)
	assert.Equal(t, 12, store.logs[0].TotalTokens)
}

func TestHandleEvent_UnknownStreamIgnored(t *testing.T) {
	orch, _, store, _ := newTestOrchestrator()
	orch.HandleEvent(terminalEvent("never-started", "x", nil))
	assert.Empty(t, store.logs)
	assert.Empty(t, store.messages)
}

func TestHandleEvent_ErrorIsolatedToItsPanel(t *testing.T) {
	orch, streams, store, _ := newTestOrchestrator()
	orch.SetPanelModel(0, "modelX")
	orch.SetPanelModel(1, "modelY")
	require.NoError(t, orch.Submit(context.Background(), "Hello"))

	failing := streams.started[1].streamID
	orch.HandleEvent(model.ChunkEvent{StreamID: failing, Err: "upstream error (HTTP 402): no credits"})

	failed := orch.Panel(1)
	assert.False(t, failed.Streaming)
	assert.Contains(t, failed.LastErr, "402")
	assert.Empty(t, failed.Buffer)

	// The sibling keeps streaming untouched.
	assert.True(t, orch.Panel(0).Streaming)
	assert.Empty(t, orch.Panel(0).LastErr)

	// The failure is logged but no assistant message is persisted for it.
	require.Len(t, store.logs, 1)
	assert.Equal(t, model.APIStatusError, store.logs[0].Status)
	assert.Empty(t, store.assistantMessages())
}

func TestCompletionSideEffectsRunExactlyOnce(t *testing.T) {
	orch, streams, store, _ := newTestOrchestrator()
	orch.SetPanelModel(0, "modelX")
	require.NoError(t, orch.Submit(context.Background(), "Hello"))
	streamID := streams.started[0].streamID

	ev := terminalEvent(streamID, "done", nil)

	// Simulate two internal observers of the same terminal event: the
	// second must be a no-op for this id.
	orch.completeOnce(ev, orch.Panel(0))
	orch.completeOnce(ev, orch.Panel(0))

	assert.Len(t, store.logs, 1)
	assert.Len(t, store.assistantMessages(), 1)

	// Routing the event afterwards updates panel state without repeating
	// the side effects.
	orch.HandleEvent(ev)
	assert.Len(t, store.logs, 1)
	assert.Len(t, store.assistantMessages(), 1)

	// A duplicate delivery after the associations are gone is ignored.
	orch.HandleEvent(ev)
	assert.Len(t, store.logs, 1)
}

// =============================================================================
// TITLE GENERATION
// =============================================================================

func TestTitleFiresOnceAfterFirstExchange(t *testing.T) {
	orch, streams, store, titler := newTestOrchestrator()
	orch.SetPanelModel(0, "modelX")
	orch.SetPanelModel(1, "modelY")

	require.NoError(t, orch.Submit(context.Background(), "Hello there"))
	require.Len(t, streams.started, 2)

	// First terminal: not all streams done, no title yet.
	orch.HandleEvent(terminalEvent(streams.started[0].streamID, "a", nil))
	assertNoTitle(t, titler)

	// Second terminal completes the exchange: exactly one title call.
	orch.HandleEvent(terminalEvent(streams.started[1].streamID, "b", nil))
	prompt := waitTitle(t, titler)
	assert.Equal(t, "Hello there", prompt)

	// The title lands on the conversation.
	assert.Eventually(t, func() bool {
		return store.titles[orch.ConversationID()] == "A tidy title"
	}, 2*time.Second, 10*time.Millisecond)

	// A second exchange in the same conversation must not re-fire.
	require.NoError(t, orch.Submit(context.Background(), "Again"))
	orch.HandleEvent(terminalEvent(streams.started[2].streamID, "c", nil))
	orch.HandleEvent(terminalEvent(streams.started[3].streamID, "d", nil))
	assertNoTitle(t, titler)
}

func TestTitleFailureIsDropped(t *testing.T) {
	orch, streams, store, titler := newTestOrchestrator()
	titler.err = errors.New("title backend down")
	orch.SetPanelModel(0, "modelX")

	require.NoError(t, orch.Submit(context.Background(), "Hello"))
	orch.HandleEvent(terminalEvent(streams.started[0].streamID, "a", nil))
	waitTitle(t, titler)

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, store.titles, "failed title generation must persist nothing")
}

func TestTitleNeverFiresForRestoredConversation(t *testing.T) {
	orch, streams, store, titler := newTestOrchestrator()
	orch.SetPanelModel(0, "modelX")

	// Build and finish a conversation so there is something to restore.
	require.NoError(t, orch.Submit(context.Background(), "Hello"))
	orch.HandleEvent(terminalEvent(streams.started[0].streamID, "a", nil))
	waitTitle(t, titler)
	conversationID := orch.ConversationID()

	fresh := New(streams, store, titler, nil, "title-model")
	require.NoError(t, fresh.LoadConversation(conversationID))

	require.NoError(t, fresh.Submit(context.Background(), "Another"))
	orchEvent := terminalEvent(streams.started[len(streams.started)-1].streamID, "b", nil)
	fresh.HandleEvent(orchEvent)
	assertNoTitle(t, titler)
}

// =============================================================================
// STOP / CLEAR
// =============================================================================

func TestStopAllCancelsAndClearsImmediately(t *testing.T) {
	orch, streams, _, _ := newTestOrchestrator()
	orch.SetPanelModel(0, "modelX")
	orch.SetPanelModel(1, "modelY")
	require.NoError(t, orch.Submit(context.Background(), "Hello"))

	orch.StopAll()

	assert.Len(t, streams.stopped, 2)
	for i := 0; i < 2; i++ {
		assert.False(t, orch.Panel(i).Streaming)
	}

	// Late events for the stopped streams are ignored.
	orch.HandleEvent(terminalEvent(streams.started[0].streamID, "late", nil))
	assert.Empty(t, orch.Panel(0).History[1:])
}

func TestStopAllDisarmsFirstExchangeTitleBookkeeping(t *testing.T) {
	orch, streams, store, titler := newTestOrchestrator()
	orch.SetPanelModel(0, "modelX")
	orch.SetPanelModel(1, "modelY")

	require.NoError(t, orch.Submit(context.Background(), "Hello"))

	// One panel finishes, then the exchange is interrupted before the other.
	orch.HandleEvent(terminalEvent(streams.started[0].streamID, "a", nil))
	orch.StopAll()

	// The next exchange's completions must not satisfy the interrupted
	// exchange's expected count.
	require.NoError(t, orch.Submit(context.Background(), "Again"))
	orch.HandleEvent(terminalEvent(streams.started[2].streamID, "b", nil))
	orch.HandleEvent(terminalEvent(streams.started[3].streamID, "c", nil))

	assertNoTitle(t, titler)
	assert.Empty(t, store.titles)
}

func TestClearResetsToInitialState(t *testing.T) {
	orch, streams, _, titler := newTestOrchestrator()
	orch.SetPanelModel(0, "modelX")
	require.NoError(t, orch.Submit(context.Background(), "Hello"))
	orch.HandleEvent(terminalEvent(streams.started[0].streamID, "a", nil))
	waitTitle(t, titler)

	orch.Clear()

	assert.Empty(t, orch.ConversationID())
	panel := orch.Panel(0)
	assert.Empty(t, panel.History)
	assert.Nil(t, panel.LastUsage)
	assert.Equal(t, "modelX", panel.ModelID, "model selection survives clear")

	// Clearing starts a fresh conversation with fresh title bookkeeping.
	require.NoError(t, orch.Submit(context.Background(), "New start"))
	orch.HandleEvent(terminalEvent(streams.started[1].streamID, "b", nil))
	assert.Equal(t, "New start", waitTitle(t, titler))
}
