package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/0mdb/robot-buddy/internal/admission"
	"github.com/0mdb/robot-buddy/internal/audio"
	"github.com/0mdb/robot-buddy/internal/config"
	"github.com/0mdb/robot-buddy/internal/connwatch"
	"github.com/0mdb/robot-buddy/internal/conversation"
	"github.com/0mdb/robot-buddy/internal/events"
	"github.com/0mdb/robot-buddy/internal/eventbus"
	"github.com/0mdb/robot-buddy/internal/memory"
	"github.com/0mdb/robot-buddy/internal/planner"
	"github.com/0mdb/robot-buddy/internal/protocol"
	"github.com/0mdb/robot-buddy/internal/safety"
	"github.com/0mdb/robot-buddy/internal/session"
	"github.com/0mdb/robot-buddy/internal/skill"
	"github.com/0mdb/robot-buddy/internal/transport"
	"github.com/0mdb/robot-buddy/internal/worldstate"
)

const tickInterval = 20 * time.Millisecond // 50 Hz

// sessionOwner is the stable identity this single-robot process
// registers with its own session.Registry across converse reconnects.
const sessionOwner = "local-ptt-client"

// Supervisor wires every subsystem together and runs the 50 Hz control
// tick plus the background planner poller.
type Supervisor struct {
	cfg    *config.Config
	logger *slog.Logger

	reflexLink *transport.Link
	faceLink   *transport.Link
	face       *faceAdapter

	bus          *eventbus.Bus
	telemetryBus *events.Bus

	validator *planner.Validator
	scheduler *planner.Scheduler
	skillExec *skill.Executor

	plannerClient   *PlannerClient
	watchMgr        *connwatch.Manager
	plannerWatcher  *connwatch.Watcher
	admissionGate   *admission.Gate
	sessionRegistry *session.Registry
	convHistory     *conversation.History
	convClient      *conversation.Client
	audioOrch       *audio.Orchestrator
	memStore        *memory.Store
	rawLogger       *transport.RawLogger

	mu    sync.Mutex
	state *worldstate.State

	lastAcceptedSeq atomic.Uint64
	nextPlanReqSeq  atomic.Uint64

	planMu     sync.Mutex
	seenPlanID map[string]time.Time

	thinkingGen atomic.Uint64

	tickSeq atomic.Uint64
}

// NewSupervisor constructs every subsystem from cfg but starts nothing.
func NewSupervisor(cfg *config.Config, logger *slog.Logger) *Supervisor {
	s := &Supervisor{
		cfg:             cfg,
		logger:          logger,
		bus:             eventbus.New(),
		telemetryBus:    events.New(),
		validator:       planner.NewValidator(),
		scheduler:       planner.NewScheduler(),
		skillExec:       skill.New(),
		admissionGate:   admission.New(1),
		sessionRegistry: session.New(session.DefaultStashTTL),
		convHistory:     conversation.New(20, 4096),
		state:           worldstate.New(),
		seenPlanID:      make(map[string]time.Time),
	}

	s.reflexLink = transport.New(transport.Config{Port: cfg.Transport.ReflexPort, BaudRate: cfg.Transport.BaudRate, Label: "reflex"}, logger)
	s.faceLink = transport.New(transport.Config{Port: cfg.Transport.FacePort, BaudRate: cfg.Transport.BaudRate, Label: "face"}, logger)
	s.face = newFaceAdapter(s.faceLink, logger)

	if cfg.Transport.RawLogDir != "" {
		s.rawLogger = transport.NewRawLogger(cfg.Transport.RawLogDir, cfg.Transport.RawLogMaxBytes, cfg.Transport.RawLogMaxFiles, logger)
		s.reflexLink.SetRawLogger(s.rawLogger)
		s.faceLink.SetRawLogger(s.rawLogger)
	}

	if cfg.Planner.Configured() {
		s.plannerClient = NewPlannerClient(cfg.Planner.BaseURL, time.Duration(cfg.Planner.TimeoutSec)*time.Second, logger)
	}

	s.memStore = memory.New(cfg.Memory.File, true, logger)
	s.memStore.Load()

	if cfg.Converse.Configured() {
		reconnect := time.Duration(cfg.Converse.ReconnectDelaySec) * time.Second
		s.convClient = conversation.NewClient(cfg.Converse.URL, cfg.RobotID, reconnect, logger)
	}

	audioCfg := audio.Config{SampleRateHz: cfg.Audio.SampleRateHz, DeviceName: cfg.Audio.Device, RobotID: cfg.RobotID}
	var tts audio.Streamer
	if cfg.Planner.Configured() {
		tts = audio.NewTTSClient(cfg.Planner.BaseURL, logger)
	}
	s.audioOrch = audio.New(audioCfg, s.face, tts, s.convClient, logger)

	s.wirePacketHandlers()
	return s
}

func (s *Supervisor) wirePacketHandlers() {
	s.reflexLink.OnPacket(func(f transport.Frame) {
		switch f.Type {
		case protocol.TelemetryState:
			st, err := protocol.UnpackState(f.Payload)
			if err != nil {
				s.logger.Debug("bad reflex telemetry", "error", err)
				return
			}
			s.mu.Lock()
			s.state.SpeedLMMs = st.SpeedLMMs
			s.state.SpeedRMMs = st.SpeedRMMs
			s.state.GyroZMradS = st.GyroZMradS
			s.state.BatteryMV = st.BatteryMV
			s.state.FaultFlags = st.FaultFlags
			s.state.RangeMM = st.RangeMM
			s.state.RangeStatus = st.RangeStatus
			s.state.ReflexSeq = f.Seq
			s.state.ReflexRxMonoMs = nowMonoMs()
			s.mu.Unlock()
		}
	})
	s.reflexLink.OnConnect(func() {
		s.telemetryBus.Publish(events.Event{Timestamp: time.Now(), Source: events.SourceTransport, Kind: events.KindLinkUp, Data: map[string]any{"link": "reflex"}})
	})
	s.reflexLink.OnDisconnect(func() {
		s.telemetryBus.Publish(events.Event{Timestamp: time.Now(), Source: events.SourceTransport, Kind: events.KindLinkDown, Data: map[string]any{"link": "reflex"}})
	})

	s.faceLink.OnPacket(func(f transport.Frame) {
		switch f.Type {
		case protocol.TelemetryFaceStatus:
			fs, err := protocol.UnpackFaceStatus(f.Payload)
			if err != nil {
				s.logger.Debug("bad face status", "error", err)
				return
			}
			s.mu.Lock()
			s.state.FaceMood = fs.Mood
			s.state.FaceGesture = fs.CurrentGestureID
			s.state.FaceSystemMode = fs.SystemMode
			s.mu.Unlock()

		case protocol.TelemetryTouchEvent:
			ev, err := protocol.UnpackTouchEvent(f.Payload)
			if err != nil {
				s.logger.Debug("bad touch event", "error", err)
				return
			}
			s.mu.Lock()
			s.state.FaceTouchActive = ev.EventType != protocol.TouchUp
			now := s.state.TickMonoMs
			s.mu.Unlock()
			s.bus.PushFaceTouch(ev, now)

		case protocol.TelemetryButtonEvent:
			ev, err := protocol.UnpackButtonEvent(f.Payload)
			if err != nil {
				s.logger.Debug("bad button event", "error", err)
				return
			}
			s.mu.Lock()
			now := s.state.TickMonoMs
			s.mu.Unlock()
			s.bus.PushFaceButton(ev.ButtonID, ev.EventType, ev.State, now)

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := s.audioOrch.OnFaceButton(ctx, ev.EventType); err != nil {
				s.logger.Warn("face button handling failed", "error", err)
			}
			cancel()
		}
	})
	s.faceLink.OnConnect(func() {
		s.telemetryBus.Publish(events.Event{Timestamp: time.Now(), Source: events.SourceTransport, Kind: events.KindLinkUp, Data: map[string]any{"link": "face"}})
	})
	s.faceLink.OnDisconnect(func() {
		s.telemetryBus.Publish(events.Event{Timestamp: time.Now(), Source: events.SourceTransport, Kind: events.KindLinkDown, Data: map[string]any{"link": "face"}})
	})
}

// Run starts every background task and the 50 Hz tick loop, blocking
// until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	s.reflexLink.Start(ctx)
	s.faceLink.Start(ctx)
	if s.rawLogger != nil {
		if err := s.rawLogger.Start(); err != nil {
			s.logger.Warn("raw logger failed to start", "error", err)
		}
		defer s.rawLogger.Stop()
	}

	s.audioOrch.Start(ctx)
	defer s.audioOrch.Stop()

	if s.cfg.Planner.Configured() {
		s.watchMgr = connwatch.NewManager(s.logger)
		s.plannerWatcher = s.watchMgr.Watch(ctx, connwatch.WatcherConfig{
			Name:    "planner",
			Probe:   s.plannerClient.Health,
			Backoff: connwatch.DefaultBackoffConfig(),
			Logger:  s.logger,
		})
		go s.plannerPollLoop(ctx)
	}

	if s.convClient != nil {
		go s.runConversation(ctx)
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(now.Sub(start))
		}
	}
}

// tick runs one iteration of the 50 Hz control loop. Compute runs on a
// local copy of the state so the transport callbacks, which mutate
// s.state under s.mu, never race the skill/safety pipeline; results are
// written back under the lock at the end.
func (s *Supervisor) tick(elapsed time.Duration) {
	s.mu.Lock()
	st := s.state
	nowMs := float64(elapsed.Milliseconds())
	st.TickDtMs = nowMs - st.TickMonoMs
	st.TickMonoMs = nowMs
	st.ReflexConnected = s.reflexLink.Connected()
	st.FaceConnected = s.faceLink.Connected()
	st.PersonalityEnabled = s.cfg.Planner.Configured()
	st.PersonalityConnected = s.plannerClient != nil
	st.VMeasMMs = float64(st.SpeedLMMs+st.SpeedRMMs) / 2
	st.WMeasMradS = float64(st.GyroZMradS) // measured yaw rate straight from the reflex IMU
	st.FaceTalking = s.audioOrch.AnySpeaking()
	st.FaceListening = s.audioOrch.PTTEnabled()
	snap := *st
	s.mu.Unlock()

	s.bus.IngestState(&snap)

	desired := s.skillExec.Step(&snap, s.scheduler.ActiveSkill())
	capped := safety.Apply(desired, &snap)

	s.mu.Lock()
	st.TwistCmd = desired
	st.TwistCapped = capped
	st.SpeedCaps = snap.SpeedCaps
	s.mu.Unlock()

	seq := byte(s.tickSeq.Add(1))
	s.reflexLink.Write(protocol.BuildSetTwist(seq, int16(capped.VMMs), int16(capped.WMradS)))

	// Face-lock suppresses emote/gesture dispatch while the face is
	// busy talking or listening.
	faceLocked := snap.FaceTalking || snap.FaceListening
	for _, action := range s.scheduler.PopDueActions(nowMs, faceLocked) {
		s.dispatchAction(action)
	}

	snap.TwistCmd = desired
	snap.TwistCapped = capped
	s.telemetryBus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceSafety,
		Kind:      events.KindSpeedCapApplied,
		Data:      map[string]any{"state": snap.ToSnapshot()},
	})
}

func (s *Supervisor) dispatchAction(a planner.Action) {
	switch a.Kind {
	case planner.ActionSay:
		if !s.audioOrch.EnqueueSpeech(a.Text, "neutral") {
			s.logger.Debug("speech queue full, dropping say action")
		}
	case planner.ActionEmote:
		s.face.SetMood(a.Name, a.Intensity)
	case planner.ActionGesture:
		s.face.Gesture(a.Name)
	case planner.ActionSkill:
		// SchedulePlan already updated the active skill directly; nothing
		// further to dispatch here.
	}
}

// snapshot returns the JSON-serializable telemetry projection used for a
// telemetry websocket's initial frame.
func (s *Supervisor) snapshot() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ToSnapshot()
}

func nowMonoMs() float64 {
	return float64(time.Now().UnixMilli())
}

// defaultPollInterval mirrors the validator's default plan TTL: the
// background poller asks the planner backend about once per plan TTL.
const defaultPollInterval = 5000 * time.Millisecond

// plannerPollLoop asks the planner backend for a plan about once every
// plan TTL, validates the response, and feeds accepted actions into the
// scheduler. Runs until ctx is cancelled.
func (s *Supervisor) plannerPollLoop(ctx context.Context) {
	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.requestAndSchedulePlan(ctx)
		}
	}
}

// requestAndSchedulePlan issues one /plan request, validates the
// response, and schedules it, honoring the admission gate, backend
// health watcher, sequence/plan-id dedup, and TTL staleness.
func (s *Supervisor) requestAndSchedulePlan(ctx context.Context) {
	if s.plannerWatcher != nil && !s.plannerWatcher.IsReady() {
		s.logger.Debug("planner backend known-down, skipping poll")
		return
	}

	if !s.admissionGate.TryAcquire() {
		s.logger.Debug("planner request already in flight, skipping poll")
		return
	}
	defer s.admissionGate.Release()

	// Snapshot the world state under the lock rather than holding the
	// pointer across the request: RequestPlan can block on the network
	// for up to the planner timeout, and s.state is mutated by tick()
	// concurrently.
	s.mu.Lock()
	stCopy := *s.state
	s.mu.Unlock()
	issuedMonoMs := stCopy.TickMonoMs

	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.Planner.TimeoutSec)*time.Second)
	defer cancel()

	reqSeq := s.nextPlanReqSeq.Add(1)
	recent := s.bus.Latest(5)
	recentNames := make([]string, len(recent))
	for i, ev := range recent {
		recentNames[i] = ev.Type
	}

	resp, err := s.plannerClient.RequestPlan(reqCtx, &stCopy, s.cfg.RobotID, reqSeq, issuedMonoMs, s.scheduler.ActiveSkill(), "periodic", recentNames)
	if err != nil {
		if errors.Is(err, errAdmissionSaturated) {
			s.logger.Debug("planner backend saturated (429), will retry next tick")
		} else {
			s.logger.Warn("planner request failed", "error", err)
		}
		s.mu.Lock()
		s.state.PersonalityLastError = err.Error()
		s.mu.Unlock()
		return
	}

	if resp.Seq <= s.lastAcceptedSeq.Load() {
		s.logger.Debug("dropping plan with stale source seq", "seq", resp.Seq)
		return
	}
	if s.planIDSeen(resp.PlanID, resp.TTLMs) {
		s.logger.Debug("dropping duplicate plan id within ttl window", "plan_id", resp.PlanID)
		return
	}
	s.lastAcceptedSeq.Store(resp.Seq)

	rawActions := make([]planner.RawAction, len(resp.Actions))
	for i, a := range resp.Actions {
		rawActions[i] = planner.RawAction(a)
	}
	plan := s.validator.Validate(rawActions, resp.TTLMs)

	// SchedulePlan and PopDueActions both key off the tick loop's
	// elapsed-ms clock (worldstate.State.TickMonoMs), not wall time, so
	// a scheduled action's expiry compares against the same clock
	// tick() later checks it against.
	s.mu.Lock()
	nowMono := s.state.TickMonoMs
	s.mu.Unlock()
	s.scheduler.SchedulePlan(plan, nowMono, resp.MonotonicTsMs)

	s.mu.Lock()
	s.state.PersonalityLastPlanMonoMs = nowMono
	s.state.PersonalityLastPlanActions = len(plan.Actions)
	s.state.PersonalityLastError = ""
	s.mu.Unlock()
}

// planIDSeen reports whether planID was already accepted within its TTL
// window, opportunistically pruning expired entries. An empty planID is
// never deduplicated.
func (s *Supervisor) planIDSeen(planID string, ttlMs int) bool {
	if planID == "" {
		return false
	}
	now := time.Now()
	window := time.Duration(ttlMs) * time.Millisecond

	s.planMu.Lock()
	defer s.planMu.Unlock()

	for id, seenAt := range s.seenPlanID {
		if now.Sub(seenAt) > window {
			delete(s.seenPlanID, id)
		}
	}
	if _, ok := s.seenPlanID[planID]; ok {
		return true
	}
	s.seenPlanID[planID] = now
	return false
}
