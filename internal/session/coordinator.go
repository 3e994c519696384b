package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"soundscape/pkg/interfaces"
	"soundscape/pkg/types"
)

const defaultParticipantAge = 25

// state wraps one session with its serialization lock. opMu serializes the
// multi-call story and music operations per session; concurrent emotion
// updates from different participants do not contend on it.
type state struct {
	session    *types.Session
	opMu       sync.Mutex
	lastActive time.Time
}

// Coordinator owns the in-memory scene sessions and drives the external AI
// collaborators. Session state mutates only after every external call an
// operation depends on has succeeded, so a failed operation leaves the
// session exactly as it was.
type Coordinator struct {
	mu       sync.RWMutex
	sessions map[string]*state

	ai          interfaces.AIProvider
	broadcaster interfaces.Broadcaster
	logger      *logrus.Logger
	idleTTL     time.Duration
}

func NewCoordinator(ai interfaces.AIProvider, broadcaster interfaces.Broadcaster, idleTTL time.Duration, logger *logrus.Logger) *Coordinator {
	return &Coordinator{
		sessions:    make(map[string]*state),
		ai:          ai,
		broadcaster: broadcaster,
		logger:      logger,
		idleTTL:     idleTTL,
	}
}

// Create registers a new session for the given scene and participant roster.
// Unknown scenes are folded into the generic scene rather than rejected.
func (c *Coordinator) Create(scene string, participants []types.Participant) (*types.Session, error) {
	if len(participants) == 0 {
		return nil, errEmptyParticipants
	}

	session := &types.Session{
		ID:           uuid.New().String(),
		Scene:        types.NormalizeScene(scene),
		Participants: append([]types.Participant(nil), participants...),
		Emotions:     make(map[string]types.EmotionReading),
		CreatedAt:    time.Now(),
	}

	c.mu.Lock()
	c.sessions[session.ID] = &state{session: session, lastActive: time.Now()}
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"session_id":   session.ID,
		"scene":        session.Scene,
		"participants": len(participants),
	}).Info("session created")

	return snapshotSession(session), nil
}

// Exists reports whether the session is live, refreshing its idle clock.
func (c *Coordinator) Exists(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.sessions[sessionID]
	if ok {
		st.lastActive = time.Now()
	}
	return ok
}

// Snapshot returns a deep copy of the session state.
func (c *Coordinator) Snapshot(sessionID string) (*types.Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.sessions[sessionID]
	if !ok {
		return nil, errSessionNotFound
	}
	return snapshotSession(st.session), nil
}

// Close removes a session. Connected participants keep their room
// membership; subsequent session events for the removed id fail lookup.
func (c *Coordinator) Close(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sessions[sessionID]; !ok {
		return errSessionNotFound
	}
	delete(c.sessions, sessionID)
	c.logger.WithField("session_id", sessionID).Info("session closed")
	return nil
}

// Count returns the number of live sessions.
func (c *Coordinator) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

// UpdateEmotion classifies one participant's input, generates a spoken
// reply, records the reading, and broadcasts the result to the session
// room. The recorded reading changes only if every external call succeeds.
func (c *Coordinator) UpdateEmotion(ctx context.Context, sessionID, userID, audioData, text string) error {
	st, ok := c.get(sessionID)
	if !ok {
		return errSessionNotFound
	}

	c.mu.RLock()
	scene := st.session.Scene
	groupSize := len(st.session.Participants)
	age := defaultParticipantAge
	for _, p := range st.session.Participants {
		if p.ID == userID && p.Age > 0 {
			age = p.Age
			break
		}
	}
	c.mu.RUnlock()

	reading, err := c.ai.AnalyzeEmotion(ctx, types.EmotionRequest{
		AudioData: audioData,
		Text:      text,
		Scene:     scene,
		UserAge:   age,
		GroupSize: groupSize,
	})
	if err != nil {
		return err
	}

	userText := text
	if userText == "" {
		userText = "..."
	}
	reply, err := c.ai.Chat(ctx, []types.ChatMessage{
		{Role: "system", Content: emotionResponsePrompt(reading.Emotion, scene, age)},
		{Role: "user", Content: userText},
	}, types.ChatOptions{Temperature: 0.7})
	if err != nil {
		return err
	}

	audio, err := c.ai.SynthesizeSpeech(ctx, reply, "alloy", 1.0)
	if err != nil {
		return err
	}

	c.mu.Lock()
	st.session.Emotions[userID] = *reading
	st.lastActive = time.Now()
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"user_id":    userID,
		"emotion":    reading.Emotion,
	}).Info("emotion recorded")

	c.broadcaster.BroadcastRoom(sessionID, types.EventEmotionResult, types.EmotionResult{
		UserID:        userID,
		Emotion:       *reading,
		AIResponse:    reply,
		AudioResponse: audio,
	})
	return nil
}

// AdvanceStory generates the next story turn from a participant's action
// and replaces the current story wholesale. An unknown session is logged
// and dropped without an error to the caller.
func (c *Coordinator) AdvanceStory(ctx context.Context, sessionID, userID, action string) error {
	st, ok := c.get(sessionID)
	if !ok {
		c.logger.WithFields(logrus.Fields{
			"session_id": sessionID,
			"user_id":    userID,
		}).Warn("story action for unknown session")
		return nil
	}

	st.opMu.Lock()
	defer st.opMu.Unlock()

	c.mu.RLock()
	scene := st.session.Scene
	participants := st.session.Participants
	current := st.session.CurrentStory
	c.mu.RUnlock()

	raw, err := c.ai.Chat(ctx, []types.ChatMessage{
		{Role: "system", Content: storyPrompt(scene, participants, current)},
		{Role: "user", Content: "Participant chose: " + action},
	}, types.ChatOptions{Temperature: 0.8})
	if err != nil {
		return err
	}

	var story types.Story
	if err := json.Unmarshal([]byte(raw), &story); err != nil {
		return types.NewExternalServiceError("story generation returned unparseable content", err)
	}

	audio, err := c.ai.SynthesizeSpeech(ctx, story.Scene, "onyx", 0.95)
	if err != nil {
		return err
	}

	c.mu.Lock()
	st.session.CurrentStory = &story
	st.lastActive = time.Now()
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"user_id":    userID,
		"action":     action,
	}).Info("story advanced")

	c.broadcaster.BroadcastRoom(sessionID, types.EventStoryUpdate, types.StoryUpdate{
		Story: &story,
		Audio: audio,
	})
	return nil
}

// RequestMusicMix builds a mixing plan from the recorded emotion snapshot
// and requests a synthesized mix. Participants without a recorded emotion
// contribute nothing to the plan. An unknown session is logged and dropped.
func (c *Coordinator) RequestMusicMix(ctx context.Context, sessionID, style string) error {
	st, ok := c.get(sessionID)
	if !ok {
		c.logger.WithField("session_id", sessionID).Warn("music mix for unknown session")
		return nil
	}

	st.opMu.Lock()
	defer st.opMu.Unlock()

	c.mu.RLock()
	participants := st.session.Participants
	emotions := make([]string, 0, len(st.session.Emotions))
	for _, p := range st.session.Participants {
		if reading, ok := st.session.Emotions[p.ID]; ok {
			emotions = append(emotions, reading.Emotion)
		}
	}
	c.mu.RUnlock()

	if style == "" {
		style = "adaptive"
	}

	planText, err := c.ai.Chat(ctx, []types.ChatMessage{
		{Role: "system", Content: musicMixPrompt(emotions, participants, style)},
	}, types.ChatOptions{Temperature: 0.7})
	if err != nil {
		return err
	}
	plan := json.RawMessage(planText)
	if !json.Valid(plan) {
		return types.NewExternalServiceError("mix plan generation returned unparseable content", nil)
	}

	mix, err := c.ai.ComposeMix(ctx, types.MixRequest{
		Emotions:     emotions,
		Participants: participants,
		Style:        style,
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	st.session.MusicMix = mix
	st.lastActive = time.Now()
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"style":      style,
		"emotions":   len(emotions),
	}).Info("music mix ready")

	c.broadcaster.BroadcastRoom(sessionID, types.EventMusicReady, types.MusicReady{
		Mix:  mix,
		Plan: plan,
	})
	return nil
}

// StartSweeper evicts sessions idle longer than the configured TTL until
// the context is cancelled. A non-positive TTL disables sweeping.
func (c *Coordinator) StartSweeper(ctx context.Context, interval time.Duration) {
	if c.idleTTL <= 0 || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.sweepIdle()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (c *Coordinator) sweepIdle() {
	cutoff := time.Now().Add(-c.idleTTL)

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, st := range c.sessions {
		if st.lastActive.Before(cutoff) {
			delete(c.sessions, id)
			c.logger.WithFields(logrus.Fields{
				"session_id": id,
				"idle_since": st.lastActive,
			}).Info("idle session evicted")
		}
	}
}

func (c *Coordinator) get(sessionID string) (*state, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.sessions[sessionID]
	return st, ok
}

// snapshotSession deep-copies mutable session state so callers cannot
// observe later mutations.
func snapshotSession(s *types.Session) *types.Session {
	out := &types.Session{
		ID:           s.ID,
		Scene:        s.Scene,
		Participants: append([]types.Participant(nil), s.Participants...),
		Emotions:     make(map[string]types.EmotionReading, len(s.Emotions)),
		CreatedAt:    s.CreatedAt,
	}
	for id, reading := range s.Emotions {
		out.Emotions[id] = reading
	}
	if s.CurrentStory != nil {
		story := *s.CurrentStory
		out.CurrentStory = &story
	}
	if s.MusicMix != nil {
		out.MusicMix = append(json.RawMessage(nil), s.MusicMix...)
	}
	return out
}
