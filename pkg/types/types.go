package types

import (
	"encoding/json"
	"time"
)

// Client status values.
const (
	StatusOnline  = "online"
	StatusAway    = "away"
	StatusBusy    = "busy"
	StatusOffline = "offline"
)

// Scene types recognized by the session coordinator. Unknown scene tags
// fall back to SceneOther at creation time.
const (
	SceneCar   = "car"
	SceneKTV   = "ktv"
	SceneStory = "story"
	SceneOther = "other"
)

// ClientInfo is a read-only snapshot of a connected client as tracked by
// the connection registry.
type ClientInfo struct {
	UserID      string    `json:"userId"`
	Username    string    `json:"username"`
	Status      string    `json:"status"`
	RoomIDs     []string  `json:"roomIds"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// RoomSnapshot is the membership view returned by room operations.
type RoomSnapshot struct {
	RoomID      string    `json:"roomId"`
	Type        string    `json:"type"`
	Members     []string  `json:"members"`
	MemberCount int       `json:"memberCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

// RoomDeparture describes a room a user was removed from during disconnect
// cleanup, so member-left notifications can be emitted after the registry
// mutation has completed.
type RoomDeparture struct {
	RoomID      string `json:"roomId"`
	MemberCount int    `json:"memberCount"`
}

// Participant is one member of a scene session. Age drives prompt selection;
// a zero age is treated as the default adult age by the coordinator.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Age  int    `json:"age"`
	Role string `json:"role,omitempty"`
}

// EmotionReading is the latest classification result for one participant.
// Each update overwrites the previous reading; no history is kept in-session.
type EmotionReading struct {
	Emotion    string  `json:"emotion"`
	Confidence float64 `json:"confidence"`
	Transcript string  `json:"transcript,omitempty"`
}

// StoryOption is one player choice offered by a story turn.
type StoryOption struct {
	ID          int    `json:"id"`
	Text        string `json:"text"`
	Consequence string `json:"consequence"`
}

// Story is the structured output of one story-generation turn. Every turn
// replaces the previous Story wholesale.
type Story struct {
	Scene      string            `json:"scene"`
	Characters map[string]string `json:"characters"`
	Options    []StoryOption     `json:"options"`
	Emotion    string            `json:"emotion"`
}

// Session is a scene-scoped multi-participant state container. The emotion
// map is keyed by participant id and holds only the latest reading per user.
type Session struct {
	ID           string                    `json:"id"`
	Scene        string                    `json:"scene"`
	Participants []Participant             `json:"participants"`
	Emotions     map[string]EmotionReading `json:"emotions"`
	CurrentStory *Story                    `json:"currentStory"`
	MusicMix     json.RawMessage           `json:"musicMix,omitempty"`
	CreatedAt    time.Time                 `json:"createdAt"`
}

// Memory is a persisted session keepsake stored in the record store.
type Memory struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"userId" db:"user_id"`
	SessionID string    `json:"sessionId,omitempty" db:"session_id"`
	Scene     string    `json:"scene,omitempty" db:"scene"`
	Emotion   string    `json:"emotion,omitempty" db:"emotion"`
	Title     string    `json:"title" db:"title"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// ChatMessage is one role-tagged prompt message for the generation service.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions tunes a generation request. Zero values mean service defaults.
type ChatOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// EmotionRequest is the payload sent to the emotion classification service.
type EmotionRequest struct {
	AudioData string `json:"audio_data,omitempty"`
	Text      string `json:"text,omitempty"`
	Scene     string `json:"scene"`
	UserAge   int    `json:"user_age"`
	GroupSize int    `json:"group_size"`
}

// MixRequest is the payload sent to the music mix synthesis service.
type MixRequest struct {
	Emotions     []string      `json:"emotions"`
	Participants []Participant `json:"participants"`
	Style        string        `json:"style"`
}
