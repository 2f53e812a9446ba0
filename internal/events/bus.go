// Package events provides a publish/subscribe broadcast bus for operator
// telemetry. Events flow from runtime components (transport, planner
// scheduler, session registry, audio orchestrator) to subscribers (the
// telemetry WebSocket handler, future dashboards). The bus is nil-safe:
// calling Publish on a nil *Bus is a no-op, so components do not need
// guard checks.
//
// This is distinct from the world-state event bus in internal/eventbus,
// which is a sequence-numbered ring buffer feeding the planner with
// edge-detected state transitions. This bus has no history and exists
// purely to fan operational events out to live observers.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceTransport identifies events from the serial transport layer.
	SourceTransport = "transport"
	// SourcePlanner identifies events from the planner scheduler.
	SourcePlanner = "planner"
	// SourceSession identifies events from the conversation session registry.
	SourceSession = "session"
	// SourceAudio identifies events from the audio orchestrator.
	SourceAudio = "audio"
	// SourceSafety identifies events from the safety policy layer.
	SourceSafety = "safety"
)

// Kind constants describe the type of event within a source.
const (
	// KindLinkUp signals a serial link (reflex or face) connected.
	// Data: link ("reflex" or "face").
	KindLinkUp = "link_up"
	// KindLinkDown signals a serial link disconnected.
	// Data: link ("reflex" or "face").
	KindLinkDown = "link_down"
	// KindFrameDropped signals a corrupt or oversized frame was discarded.
	// Data: device, reason, bytes.
	KindFrameDropped = "frame_dropped"

	// KindPlanScheduled signals a validated plan was admitted to the scheduler.
	// Data: plan_id, robot_id, action_count.
	KindPlanScheduled = "plan_scheduled"
	// KindActionDispatched signals a queued action was popped and dispatched.
	// Data: plan_id, kind, key.
	KindActionDispatched = "action_dispatched"
	// KindActionSuppressed signals a queued action was dropped by a cooldown or lock.
	// Data: kind, key, reason.
	KindActionSuppressed = "action_suppressed"

	// KindSessionRegistered signals a conversation session claimed a robot id.
	// Data: robot_id, session_seq.
	KindSessionRegistered = "session_registered"
	// KindSessionPreempted signals a session was replaced by a newer connection.
	// Data: robot_id, session_seq.
	KindSessionPreempted = "session_preempted"
	// KindSessionHistoryRestored signals stashed history was reattached to a new session.
	// Data: robot_id, turn_count.
	KindSessionHistoryRestored = "session_history_restored"

	// KindSpeechStarted signals planner speech playback began.
	// Data: emotion, text_len.
	KindSpeechStarted = "speech_started"
	// KindSpeechCancelled signals planner speech was cancelled mid-utterance.
	// Data: reason.
	KindSpeechCancelled = "speech_cancelled"
	// KindPTTStateChanged signals push-to-talk was enabled or disabled.
	// Data: enabled.
	KindPTTStateChanged = "ptt_state_changed"

	// KindSpeedCapApplied carries the safety layer's result for one tick.
	// It is published every tick, whether or not any cap applied.
	// Data: state (the world-state snapshot; its speed_caps field lists
	// the caps applied, each with scale and reason).
	KindSpeedCapApplied = "speed_cap_applied"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// WebSocket consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
