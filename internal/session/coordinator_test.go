package session

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"soundscape/pkg/types"
)

// mockAI is a hand-rolled AIProvider double with per-call failure toggles.
type mockAI struct {
	mu sync.Mutex

	analyzeReading *types.EmotionReading
	analyzeErr     error
	analyzeReqs    []types.EmotionRequest

	chatResponse string
	chatErr      error
	chatCalls    []chatCall

	speechResult string
	speechErr    error
	speechCalls  []speechCall

	mixResult json.RawMessage
	mixErr    error
	mixReqs   []types.MixRequest
}

type chatCall struct {
	messages []types.ChatMessage
	opts     types.ChatOptions
}

type speechCall struct {
	text  string
	voice string
	speed float64
}

func newMockAI() *mockAI {
	return &mockAI{
		analyzeReading: &types.EmotionReading{Emotion: "happy", Confidence: 0.9},
		chatResponse:   "glad to hear it",
		speechResult:   "YXVkaW8=",
		mixResult:      json.RawMessage(`{"tracks":[]}`),
	}
}

func (m *mockAI) AnalyzeEmotion(ctx context.Context, req types.EmotionRequest) (*types.EmotionReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analyzeReqs = append(m.analyzeReqs, req)
	if m.analyzeErr != nil {
		return nil, m.analyzeErr
	}
	reading := *m.analyzeReading
	return &reading, nil
}

func (m *mockAI) Chat(ctx context.Context, messages []types.ChatMessage, opts types.ChatOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatCalls = append(m.chatCalls, chatCall{messages: messages, opts: opts})
	if m.chatErr != nil {
		return "", m.chatErr
	}
	return m.chatResponse, nil
}

func (m *mockAI) SynthesizeSpeech(ctx context.Context, text, voice string, speed float64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.speechCalls = append(m.speechCalls, speechCall{text: text, voice: voice, speed: speed})
	if m.speechErr != nil {
		return "", m.speechErr
	}
	return m.speechResult, nil
}

func (m *mockAI) ComposeMix(ctx context.Context, req types.MixRequest) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mixReqs = append(m.mixReqs, req)
	if m.mixErr != nil {
		return nil, m.mixErr
	}
	return m.mixResult, nil
}

// mockBroadcaster records room broadcasts.
type mockBroadcaster struct {
	mu     sync.Mutex
	events []broadcastEvent
}

type broadcastEvent struct {
	roomID  string
	event   string
	payload interface{}
}

func (b *mockBroadcaster) BroadcastRoom(roomID, event string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, broadcastEvent{roomID: roomID, event: event, payload: payload})
}

func (b *mockBroadcaster) BroadcastAll(event string, payload interface{}) {}

func (b *mockBroadcaster) SendToUser(userID, event string, payload interface{}) {}

func (b *mockBroadcaster) recorded() []broadcastEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]broadcastEvent, len(b.events))
	copy(out, b.events)
	return out
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestCoordinator() (*Coordinator, *mockAI, *mockBroadcaster) {
	ai := newMockAI()
	broadcaster := &mockBroadcaster{}
	return NewCoordinator(ai, broadcaster, 2*time.Hour, testLogger()), ai, broadcaster
}

func carSession(t *testing.T, c *Coordinator) *types.Session {
	t.Helper()
	session, err := c.Create("car", []types.Participant{
		{ID: "alice", Name: "Alice", Age: 8},
		{ID: "bob", Name: "Bob", Age: 35},
		{ID: "carol", Name: "Carol"},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return session
}

func TestCreateRequiresParticipants(t *testing.T) {
	c, _, _ := newTestCoordinator()

	_, err := c.Create("car", nil)
	if types.KindOf(err) != types.KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestCreateNormalizesScene(t *testing.T) {
	c, _, _ := newTestCoordinator()

	session, err := c.Create("spaceship", []types.Participant{{ID: "alice", Name: "Alice"}})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if session.Scene != types.SceneOther {
		t.Errorf("expected unknown scene folded to %q, got %q", types.SceneOther, session.Scene)
	}
	if session.ID == "" {
		t.Error("expected generated session id")
	}
	if !c.Exists(session.ID) {
		t.Error("expected session to exist after creation")
	}
}

func TestUpdateEmotionUnknownSession(t *testing.T) {
	c, ai, broadcaster := newTestCoordinator()

	err := c.UpdateEmotion(context.Background(), "ghost", "alice", "", "hello")
	if types.KindOf(err) != types.KindNotFound {
		t.Errorf("expected not_found, got %v", err)
	}
	if len(ai.analyzeReqs) != 0 {
		t.Error("expected no external calls for unknown session")
	}
	if len(broadcaster.recorded()) != 0 {
		t.Error("expected no broadcast for unknown session")
	}
}

func TestUpdateEmotionRecordsAndBroadcasts(t *testing.T) {
	c, ai, broadcaster := newTestCoordinator()
	session := carSession(t, c)

	err := c.UpdateEmotion(context.Background(), session.ID, "alice", "base64audio", "I love this trip")
	if err != nil {
		t.Fatalf("UpdateEmotion failed: %v", err)
	}

	// Analysis request carries scene context and the participant's age.
	if len(ai.analyzeReqs) != 1 {
		t.Fatalf("expected 1 analysis call, got %d", len(ai.analyzeReqs))
	}
	req := ai.analyzeReqs[0]
	if req.Scene != "car" || req.UserAge != 8 || req.GroupSize != 3 {
		t.Errorf("unexpected analysis request: %+v", req)
	}
	if req.AudioData != "base64audio" || req.Text != "I love this trip" {
		t.Errorf("expected input passed through, got %+v", req)
	}

	// The reply prompt is scene- and age-specific.
	if len(ai.chatCalls) != 1 {
		t.Fatalf("expected 1 chat call, got %d", len(ai.chatCalls))
	}
	call := ai.chatCalls[0]
	if call.opts.Temperature != 0.7 {
		t.Errorf("expected temperature 0.7, got %v", call.opts.Temperature)
	}
	if len(call.messages) != 2 || call.messages[0].Role != "system" {
		t.Fatalf("unexpected chat messages: %+v", call.messages)
	}
	if !strings.Contains(call.messages[0].Content, "child") {
		t.Errorf("expected age group in system prompt, got %q", call.messages[0].Content)
	}
	if call.messages[1].Content != "I love this trip" {
		t.Errorf("expected user text in prompt, got %q", call.messages[1].Content)
	}

	// The spoken reply uses the chat voice.
	if len(ai.speechCalls) != 1 {
		t.Fatalf("expected 1 speech call, got %d", len(ai.speechCalls))
	}
	speech := ai.speechCalls[0]
	if speech.text != "glad to hear it" || speech.voice != "alloy" || speech.speed != 1.0 {
		t.Errorf("unexpected speech call: %+v", speech)
	}

	snap, err := c.Snapshot(session.ID)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	reading, ok := snap.Emotions["alice"]
	if !ok || reading.Emotion != "happy" {
		t.Errorf("expected recorded reading for alice, got %+v", snap.Emotions)
	}

	events := broadcaster.recorded()
	if len(events) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(events))
	}
	if events[0].roomID != session.ID || events[0].event != types.EventEmotionResult {
		t.Errorf("unexpected broadcast: %+v", events[0])
	}
	result := events[0].payload.(types.EmotionResult)
	if result.UserID != "alice" || result.AIResponse != "glad to hear it" || result.AudioResponse != "YXVkaW8=" {
		t.Errorf("unexpected emotion result: %+v", result)
	}
}

func TestUpdateEmotionEmptyTextPlaceholder(t *testing.T) {
	c, ai, _ := newTestCoordinator()
	session := carSession(t, c)

	if err := c.UpdateEmotion(context.Background(), session.ID, "bob", "audio", ""); err != nil {
		t.Fatalf("UpdateEmotion failed: %v", err)
	}
	if got := ai.chatCalls[0].messages[1].Content; got != "..." {
		t.Errorf("expected placeholder for empty text, got %q", got)
	}
}

func TestUpdateEmotionUnknownParticipantUsesDefaultAge(t *testing.T) {
	c, ai, _ := newTestCoordinator()
	session := carSession(t, c)

	if err := c.UpdateEmotion(context.Background(), session.ID, "carol", "", "hi"); err != nil {
		t.Fatalf("UpdateEmotion failed: %v", err)
	}
	if got := ai.analyzeReqs[0].UserAge; got != defaultParticipantAge {
		t.Errorf("expected default age %d for ageless participant, got %d", defaultParticipantAge, got)
	}
}

func TestUpdateEmotionKeepsStateOnFailure(t *testing.T) {
	c, ai, broadcaster := newTestCoordinator()
	session := carSession(t, c)

	ai.speechErr = types.NewExternalServiceError("speech down", nil)

	err := c.UpdateEmotion(context.Background(), session.ID, "alice", "", "hello")
	if types.KindOf(err) != types.KindExternalService {
		t.Errorf("expected external_service, got %v", err)
	}

	snap, _ := c.Snapshot(session.ID)
	if len(snap.Emotions) != 0 {
		t.Errorf("expected no recorded emotion after failure, got %+v", snap.Emotions)
	}
	if len(broadcaster.recorded()) != 0 {
		t.Error("expected no broadcast after failure")
	}
}

func TestAdvanceStoryUnknownSessionIsSilent(t *testing.T) {
	c, ai, broadcaster := newTestCoordinator()

	if err := c.AdvanceStory(context.Background(), "ghost", "alice", "run"); err != nil {
		t.Errorf("expected silent drop for unknown session, got %v", err)
	}
	if len(ai.chatCalls) != 0 || len(broadcaster.recorded()) != 0 {
		t.Error("expected no external calls or broadcasts")
	}
}

func TestAdvanceStoryReplacesStory(t *testing.T) {
	c, ai, broadcaster := newTestCoordinator()
	session := carSession(t, c)

	ai.chatResponse = `{"scene":"A dark tunnel ahead","characters":{"Alice":"driving"},"options":[{"id":1,"text":"turn on lights","consequence":"safe"},{"id":2,"text":"speed up","consequence":"risky"}],"emotion":"anxious"}`

	if err := c.AdvanceStory(context.Background(), session.ID, "alice", "enter the tunnel"); err != nil {
		t.Fatalf("AdvanceStory failed: %v", err)
	}

	call := ai.chatCalls[0]
	if call.opts.Temperature != 0.8 {
		t.Errorf("expected temperature 0.8, got %v", call.opts.Temperature)
	}
	if !strings.Contains(call.messages[0].Content, "the story begins") {
		t.Error("expected first turn prompt to start the story")
	}
	if call.messages[1].Content != "Participant chose: enter the tunnel" {
		t.Errorf("unexpected action message: %q", call.messages[1].Content)
	}

	// Narration is synthesized from the new scene text.
	speech := ai.speechCalls[0]
	if speech.text != "A dark tunnel ahead" || speech.voice != "onyx" || speech.speed != 0.95 {
		t.Errorf("unexpected narration call: %+v", speech)
	}

	snap, _ := c.Snapshot(session.ID)
	if snap.CurrentStory == nil || len(snap.CurrentStory.Options) != 2 {
		t.Fatalf("expected stored story with 2 options, got %+v", snap.CurrentStory)
	}

	events := broadcaster.recorded()
	if len(events) != 1 || events[0].event != types.EventStoryUpdate {
		t.Fatalf("expected story_update broadcast, got %+v", events)
	}
	update := events[0].payload.(types.StoryUpdate)
	if update.Story.Scene != "A dark tunnel ahead" || update.Audio != "YXVkaW8=" {
		t.Errorf("unexpected story update: %+v", update)
	}

	// The next turn replaces the story wholesale and feeds the previous
	// turn back into the prompt.
	ai.chatResponse = `{"scene":"Daylight again","characters":{},"options":[{"id":1,"text":"rest","consequence":"calm"}],"emotion":"happy"}`
	if err := c.AdvanceStory(context.Background(), session.ID, "bob", "turn on lights"); err != nil {
		t.Fatalf("second AdvanceStory failed: %v", err)
	}
	if !strings.Contains(ai.chatCalls[1].messages[0].Content, "A dark tunnel ahead") {
		t.Error("expected previous plot in second prompt")
	}
	snap, _ = c.Snapshot(session.ID)
	if snap.CurrentStory.Scene != "Daylight again" || len(snap.CurrentStory.Options) != 1 {
		t.Errorf("expected wholesale replacement, got %+v", snap.CurrentStory)
	}
}

func TestAdvanceStoryUnparseableResponse(t *testing.T) {
	c, ai, broadcaster := newTestCoordinator()
	session := carSession(t, c)

	ai.chatResponse = "once upon a time, without any JSON"

	err := c.AdvanceStory(context.Background(), session.ID, "alice", "begin")
	if types.KindOf(err) != types.KindExternalService {
		t.Errorf("expected external_service for unparseable story, got %v", err)
	}
	if len(ai.speechCalls) != 0 {
		t.Error("expected no narration for a failed turn")
	}
	snap, _ := c.Snapshot(session.ID)
	if snap.CurrentStory != nil {
		t.Errorf("expected story unchanged, got %+v", snap.CurrentStory)
	}
	if len(broadcaster.recorded()) != 0 {
		t.Error("expected no broadcast for a failed turn")
	}
}

func TestRequestMusicMixUsesRecordedEmotionsOnly(t *testing.T) {
	c, ai, broadcaster := newTestCoordinator()
	session := carSession(t, c)

	// Only alice has a recorded emotion.
	if err := c.UpdateEmotion(context.Background(), session.ID, "alice", "", "great"); err != nil {
		t.Fatalf("UpdateEmotion failed: %v", err)
	}
	broadcaster.mu.Lock()
	broadcaster.events = nil
	broadcaster.mu.Unlock()
	ai.chatResponse = `{"bpm":120,"key":"C major"}`

	if err := c.RequestMusicMix(context.Background(), session.ID, ""); err != nil {
		t.Fatalf("RequestMusicMix failed: %v", err)
	}

	if len(ai.mixReqs) != 1 {
		t.Fatalf("expected 1 mix call, got %d", len(ai.mixReqs))
	}
	req := ai.mixReqs[0]
	if len(req.Emotions) != 1 || req.Emotions[0] != "happy" {
		t.Errorf("expected only recorded emotions, got %v", req.Emotions)
	}
	if len(req.Participants) != 3 {
		t.Errorf("expected full roster in mix request, got %d", len(req.Participants))
	}
	if req.Style != "adaptive" {
		t.Errorf("expected default style adaptive, got %q", req.Style)
	}

	events := broadcaster.recorded()
	if len(events) != 1 || events[0].event != types.EventMusicReady {
		t.Fatalf("expected music_ready broadcast, got %+v", events)
	}
	ready := events[0].payload.(types.MusicReady)
	if string(ready.Mix) != `{"tracks":[]}` {
		t.Errorf("unexpected mix payload: %s", ready.Mix)
	}
	if !json.Valid(ready.Plan) {
		t.Errorf("expected valid plan JSON, got %s", ready.Plan)
	}

	snap, _ := c.Snapshot(session.ID)
	if string(snap.MusicMix) != `{"tracks":[]}` {
		t.Errorf("expected mix stored on session, got %s", snap.MusicMix)
	}
}

func TestRequestMusicMixUnknownSessionIsSilent(t *testing.T) {
	c, ai, _ := newTestCoordinator()

	if err := c.RequestMusicMix(context.Background(), "ghost", "jazz"); err != nil {
		t.Errorf("expected silent drop, got %v", err)
	}
	if len(ai.chatCalls) != 0 {
		t.Error("expected no external calls")
	}
}

func TestRequestMusicMixRejectsUnparseablePlan(t *testing.T) {
	c, ai, broadcaster := newTestCoordinator()
	session := carSession(t, c)

	ai.chatResponse = "a vibe, not a plan"

	err := c.RequestMusicMix(context.Background(), session.ID, "jazz")
	if types.KindOf(err) != types.KindExternalService {
		t.Errorf("expected external_service for unparseable plan, got %v", err)
	}
	if len(ai.mixReqs) != 0 {
		t.Error("expected no mix synthesis after plan failure")
	}
	if len(broadcaster.recorded()) != 0 {
		t.Error("expected no broadcast after plan failure")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	c, _, _ := newTestCoordinator()
	session := carSession(t, c)

	if err := c.UpdateEmotion(context.Background(), session.ID, "alice", "", "hi"); err != nil {
		t.Fatalf("UpdateEmotion failed: %v", err)
	}

	snap, _ := c.Snapshot(session.ID)
	snap.Emotions["intruder"] = types.EmotionReading{Emotion: "angry"}
	snap.Participants[0].Name = "Mallory"

	fresh, _ := c.Snapshot(session.ID)
	if _, ok := fresh.Emotions["intruder"]; ok {
		t.Error("expected snapshot mutation not to leak into session state")
	}
	if fresh.Participants[0].Name != "Alice" {
		t.Error("expected participant roster isolated from snapshot mutation")
	}
}

func TestSnapshotUnknownSession(t *testing.T) {
	c, _, _ := newTestCoordinator()

	if _, err := c.Snapshot("ghost"); types.KindOf(err) != types.KindNotFound {
		t.Errorf("expected not_found, got %v", err)
	}
}

func TestCloseAndCount(t *testing.T) {
	c, _, _ := newTestCoordinator()
	session := carSession(t, c)

	if c.Count() != 1 {
		t.Errorf("expected 1 session, got %d", c.Count())
	}
	if err := c.Close(session.ID); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if c.Count() != 0 {
		t.Errorf("expected 0 sessions, got %d", c.Count())
	}
	if err := c.Close(session.ID); types.KindOf(err) != types.KindNotFound {
		t.Errorf("expected not_found on double close, got %v", err)
	}
	if c.Exists(session.ID) {
		t.Error("expected closed session to be gone")
	}
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	ai := newMockAI()
	c := NewCoordinator(ai, &mockBroadcaster{}, 10*time.Millisecond, testLogger())

	stale, err := c.Create("car", []types.Participant{{ID: "alice", Name: "Alice"}})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	fresh, err := c.Create("ktv", []types.Participant{{ID: "bob", Name: "Bob"}})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	c.mu.Lock()
	c.sessions[stale.ID].lastActive = time.Now().Add(-time.Minute)
	c.mu.Unlock()

	c.sweepIdle()

	if c.Exists(stale.ID) {
		t.Error("expected idle session evicted")
	}
	if !c.Exists(fresh.ID) {
		t.Error("expected active session kept")
	}
}

func TestConcurrentEmotionUpdates(t *testing.T) {
	c, _, _ := newTestCoordinator()
	session := carSession(t, c)

	var wg sync.WaitGroup
	for _, userID := range []string{"alice", "bob", "carol"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := c.UpdateEmotion(context.Background(), session.ID, id, "", "hello"); err != nil {
				t.Errorf("UpdateEmotion(%s) failed: %v", id, err)
			}
		}(userID)
	}
	wg.Wait()

	snap, _ := c.Snapshot(session.ID)
	if len(snap.Emotions) != 3 {
		t.Errorf("expected 3 recorded readings, got %d", len(snap.Emotions))
	}
}
