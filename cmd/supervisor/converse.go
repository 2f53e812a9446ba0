package main

import (
	"context"
	"time"

	"github.com/0mdb/robot-buddy/internal/conversation"
	"github.com/0mdb/robot-buddy/internal/memory"
	"github.com/0mdb/robot-buddy/internal/planner"
)

// thinkingMoodDuration is how long a "thinking" emotion is displayed
// before the face restores whatever mood preceded it.
const thinkingMoodDuration = 1500 * time.Millisecond

// runConversation owns the /converse client's connect/reconnect loop and
// the session registry's register/stash/restore cycle around it. Runs
// until ctx is cancelled.
func (s *Supervisor) runConversation(ctx context.Context) {
	robotID := s.cfg.RobotID
	reconnectDelay := time.Duration(s.cfg.Converse.ReconnectDelaySec) * time.Second
	if reconnectDelay <= 0 {
		reconnectDelay = 3 * time.Second
	}

	handlers := conversation.Handlers{
		OnListening:     s.onConversationListening,
		OnTranscription: s.onConversationTranscription,
		OnEmotion:       s.onConversationEmotion,
		OnGestures:      s.onConversationGestures,
		OnMemoryTags:    s.onConversationMemoryTags,
		OnAudioChunk:    func(pcm []byte, chunkIndex int) { s.audioOrch.PushConversationAudio(ctx, pcm) },
		OnDone:          s.onConversationDone,
		OnError:         s.onConversationError,
	}

	var sessionSeq int64
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		sessionSeq++
		connMono := time.Now().UnixMilli()
		s.convClient.SetSessionIdentity(&sessionSeq, &connMono)
		if err := s.convClient.Connect(ctx); err != nil {
			s.logger.Warn("converse connect failed", "error", err)
			if !sleepCtx(ctx, reconnectDelay) {
				return
			}
			continue
		}

		s.sessionRegistry.Register(robotID, sessionOwner, &sessionSeq, &connMono)
		if stashed := s.sessionRegistry.TakeStashedHistory(robotID); stashed != nil {
			s.convHistory = stashed
		}
		if err := s.convClient.SendProfile(s.currentProfile()); err != nil {
			s.logger.Debug("send profile on reconnect failed", "error", err)
		}

		if err := s.convClient.RunReadLoop(ctx, handlers); err != nil {
			s.logger.Warn("converse read loop ended", "error", err)
		}
		s.convClient.Close()
		s.audioOrch.CancelConversationAudio()
		s.sessionRegistry.Unregister(robotID, sessionOwner, s.convHistory)

		select {
		case <-ctx.Done():
			return
		default:
		}
		if !sleepCtx(ctx, reconnectDelay) {
			return
		}
	}
}

// sleepCtx blocks for d or until ctx is cancelled, returning false in
// the cancelled case.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// currentProfile renders the supervisor's current personality snapshot
// into the shape the /converse backend expects for CURRENT STATE
// injection.
func (s *Supervisor) currentProfile() conversation.Profile {
	s.mu.Lock()
	mood := s.state.FaceMood
	s.mu.Unlock()

	name := "neutral"
	if n, ok := moodName[mood]; ok {
		name = n
	}

	return conversation.Profile{
		Mood:       name,
		Intensity:  0.5,
		TurnID:     s.convHistory.TurnCount(),
		Valence:    0,
		MemoryTags: s.memStore.ActiveTags(),
	}
}

func (s *Supervisor) onConversationListening() {
	s.logger.Debug("conversation listening")
}

func (s *Supervisor) onConversationTranscription(text string) {
	s.convHistory.AddUser(text)
}

// onConversationEmotion applies a face mood from the conversation
// backend. "thinking" is a short-lived substitution: the face's prior
// mood is restored automatically after thinkingMoodDuration unless a
// newer emotion supersedes it first.
func (s *Supervisor) onConversationEmotion(emotion string, intensity float64, reason string) {
	if emotion == "thinking" {
		prior := s.face.LastMoodName()
		gen := s.thinkingGen.Add(1)
		s.face.SetMood("thinking", intensity)
		go func(expectGen uint64, restoreTo string) {
			time.Sleep(thinkingMoodDuration)
			if s.thinkingGen.Load() == expectGen {
				s.face.SetMood(restoreTo, 0.5)
			}
		}(gen, prior)
		return
	}

	s.thinkingGen.Add(1) // invalidate any pending "thinking" restore
	s.face.SetMood(emotion, intensity)
	s.convHistory.AddAssistant("(voice response)", emotion)
}

func (s *Supervisor) onConversationGestures(names []string) {
	for _, name := range names {
		canon, ok := planner.NormalizeFaceGesture(name)
		if !ok {
			s.logger.Debug("unknown conversation gesture, ignoring", "gesture", name)
			continue
		}
		s.face.Gesture(canon)
	}
}

func (s *Supervisor) onConversationMemoryTags(tags []conversation.MemoryTag) {
	for _, t := range tags {
		valence, arousal := memory.InferBias(t.Tag)
		s.memStore.AddOrReinforce(t.Tag, memory.Category(t.Category), &valence, &arousal, "conversation")
	}
}

func (s *Supervisor) onConversationDone() {
	s.audioOrch.FinishConversationAudio()
}

func (s *Supervisor) onConversationError(message string) {
	s.logger.Warn("conversation backend reported error", "message", message)
	s.onConversationEmotion("thinking", 0.4, "backend_error")
	s.audioOrch.CancelConversationAudio()
}
