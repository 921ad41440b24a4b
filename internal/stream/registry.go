// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dotnetfactory/model-faceoff/internal/model"
	"github.com/dotnetfactory/model-faceoff/internal/provider"
)

// =============================================================================
// REGISTRY
// =============================================================================

// eventBuffer sizes the outbound channel. Large enough that short reader
// stalls never block producer goroutines.
const eventBuffer = 256

// handle is the per-stream registration: the cancel function for the
// driver's context and a done channel closed when the stream is stopped or
// released, which aborts any emit still waiting on a full event buffer.
type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry manages cancel handles for concurrent streams with mutex
// protection. Handles are inserted on Start and removed when the stream
// finishes or is stopped, whichever comes first.
// IMPORTANT: must be used as a pointer to prevent copying the mutex.
type Registry struct {
	mu      sync.Mutex
	streams map[string]*handle

	client *provider.Client
	cache  *provider.ModelCache
	events chan model.ChunkEvent
}

// NewRegistry creates a Registry driving streams through the given client.
// Always use this constructor to ensure proper initialization.
func NewRegistry(client *provider.Client, cache *provider.ModelCache) *Registry {
	return &Registry{
		streams: make(map[string]*handle),
		client:  client,
		cache:   cache,
		events:  make(chan model.ChunkEvent, eventBuffer),
	}
}

// Events returns the single outbound channel carrying events for every
// stream this registry has started. The channel is never closed.
func (r *Registry) Events() <-chan model.ChunkEvent {
	return r.events
}

// Active returns the number of streams currently in flight.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

// IsActive reports whether the given stream id is still in flight.
func (r *Registry) IsActive(streamID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.streams[streamID]
	return ok
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Start validates dispatch policy synchronously, registers a cancel handle
// for streamID and launches the goroutine that drives the completion. The
// returned error is a pre-flight failure (credential policy, duplicate id);
// everything after Start returns arrives as events.
func (r *Registry) Start(ctx context.Context, streamID, modelID string, messages []model.ChatMessage) error {
	if err := r.client.CheckDispatch(ctx, r.cache, modelID); err != nil {
		return err
	}

	cctx, cancel := context.WithCancel(ctx)
	h := &handle{cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	if _, exists := r.streams[streamID]; exists {
		r.mu.Unlock()
		cancel()
		return &DuplicateStreamError{StreamID: streamID}
	}
	r.streams[streamID] = h
	r.mu.Unlock()

	go r.run(cctx, streamID, modelID, messages)
	return nil
}

// Stop cancels the stream and removes its handle. Safe to call multiple
// times or with an id that was never started; unknown ids are a no-op.
// Stop never blocks on the event channel: an emit waiting on a full buffer
// is abandoned via the done channel, and later events for the stopped id
// are dropped at the membership check.
func (r *Registry) Stop(streamID string) {
	r.mu.Lock()
	h, ok := r.streams[streamID]
	if ok {
		delete(r.streams, streamID)
	}
	r.mu.Unlock()
	if ok {
		close(h.done)
		h.cancel()
	}
}

// StopAll cancels every in-flight stream. Used on clear and shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	handles := make([]*handle, 0, len(r.streams))
	for id, h := range r.streams {
		handles = append(handles, h)
		delete(r.streams, id)
	}
	r.mu.Unlock()
	for _, h := range handles {
		close(h.done)
		h.cancel()
	}
}

// =============================================================================
// STREAM DRIVER
// =============================================================================

// run drives one completion to its end, forwarding fragments as partial
// events and emitting exactly one terminal event, then releases the handle.
func (r *Registry) run(ctx context.Context, streamID, modelID string, messages []model.ChatMessage) {
	defer r.release(streamID)

	start := time.Now()
	chunks, err := r.client.StreamCompletion(ctx, modelID, messages)
	if err != nil {
		r.emit(model.ChunkEvent{StreamID: streamID, Err: err.Error()})
		return
	}

	var full strings.Builder
	var usage *model.Usage
	for chunk := range chunks {
		if chunk.Err != nil {
			r.emit(model.ChunkEvent{StreamID: streamID, Err: chunk.Err.Error()})
			return
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		if content := chunk.GetContent(); content != "" {
			full.WriteString(content)
			r.emit(model.ChunkEvent{StreamID: streamID, Content: content})
		}
	}

	r.emit(model.ChunkEvent{
		StreamID:    streamID,
		Done:        true,
		FullContent: full.String(),
		Usage:       usage,
		LatencyMs:   time.Since(start).Milliseconds(),
	})
}

// emit delivers an event if the stream is still registered. The membership
// check and the fast-path send happen under the lock, so once Stop has
// removed the id nothing more for that stream reaches the channel. When the
// buffer is full the wait moves outside the lock, racing the send against
// the stream's done channel; Stop and Start stay responsive and a stop
// abandons the pending event.
func (r *Registry) emit(ev model.ChunkEvent) {
	r.mu.Lock()
	h, ok := r.streams[ev.StreamID]
	if !ok {
		r.mu.Unlock()
		return
	}
	select {
	case r.events <- ev:
		r.mu.Unlock()
		return
	default:
	}
	r.mu.Unlock()

	select {
	case r.events <- ev:
	case <-h.done:
	}
}

// release removes the handle after the driver goroutine has finished,
// cancelling the derived context to free request resources.
func (r *Registry) release(streamID string) {
	r.mu.Lock()
	h, ok := r.streams[streamID]
	if ok {
		delete(r.streams, streamID)
	}
	r.mu.Unlock()
	if ok {
		close(h.done)
		h.cancel()
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// DuplicateStreamError reports a Start call reusing an id that is still in
// flight. Callers generate fresh ids per dispatch, so this indicates a bug.
type DuplicateStreamError struct {
	StreamID string
}

func (e *DuplicateStreamError) Error() string {
	return "stream already active: " + e.StreamID
}
