package types

import (
	"encoding/json"
	"time"
)

// Inbound event names. These are the only kinds the channel accepts; an
// unknown name is rejected with a validation error before dispatch.
const (
	EventChatMessage      = "chat:message"
	EventChatTyping       = "chat:typing"
	EventRoomJoin         = "room:join"
	EventRoomLeave        = "room:leave"
	EventNotificationSend = "notification:send"
	EventCollabUpdate     = "collab:update"
	EventStatusUpdate     = "status:update"
	EventMusicPlay        = "music:play"
	EventMusicPause       = "music:pause"
	EventMusicSeek        = "music:seek"
	EventInitSession      = "init_session"
	EventEmotionUpdate    = "emotion_update"
	EventStoryAction      = "story_action"
	EventMusicMix         = "music_mix"
)

// Outbound event names.
const (
	EventUserOnline           = "user:online"
	EventUserOffline          = "user:offline"
	EventUserStatusChanged    = "user:status:changed"
	EventRoomMemberJoined     = "room:member:joined"
	EventRoomMembers          = "room:members"
	EventRoomMemberLeft       = "room:member:left"
	EventNotificationReceived = "notification:received"
	EventSessionReady         = "session_ready"
	EventEmotionResult        = "emotion_result"
	EventStoryUpdate          = "story_update"
	EventMusicReady           = "music_ready"
	EventError                = "error"
)

// Envelope is the wire frame for every event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound payloads. Each carries its own Validate so malformed data is
// rejected once, at the channel boundary.

type ChatMessagePayload struct {
	RoomID  string `json:"roomId,omitempty"`
	Message string `json:"message"`
	Emotion string `json:"emotion,omitempty"`
}

func (p *ChatMessagePayload) Validate() error {
	if p.Message == "" {
		return NewValidationError("chat message text is required")
	}
	return nil
}

type TypingPayload struct {
	RoomID   string `json:"roomId,omitempty"`
	IsTyping bool   `json:"isTyping"`
}

func (p *TypingPayload) Validate() error { return nil }

type RoomJoinPayload struct {
	RoomID   string `json:"roomId"`
	RoomType string `json:"roomType,omitempty"`
}

func (p *RoomJoinPayload) Validate() error {
	if p.RoomID == "" {
		return NewValidationError("roomId is required")
	}
	return nil
}

type RoomLeavePayload struct {
	RoomID string `json:"roomId"`
}

func (p *RoomLeavePayload) Validate() error {
	if p.RoomID == "" {
		return NewValidationError("roomId is required")
	}
	return nil
}

type NotificationPayload struct {
	TargetUserID string `json:"targetUserId,omitempty"`
	Type         string `json:"type"`
	Title        string `json:"title"`
	Content      string `json:"content,omitempty"`
	Action       string `json:"action,omitempty"`
}

func (p *NotificationPayload) Validate() error {
	if !IsValidNotificationType(p.Type) {
		return NewValidationError("notification type must be info, warning, success, or error")
	}
	if p.Title == "" {
		return NewValidationError("notification title is required")
	}
	return nil
}

type CollabUpdatePayload struct {
	RoomID     string          `json:"roomId"`
	DocumentID string          `json:"documentId"`
	Changes    json.RawMessage `json:"changes"`
	Version    int             `json:"version"`
}

func (p *CollabUpdatePayload) Validate() error {
	if p.RoomID == "" {
		return NewValidationError("roomId is required")
	}
	if p.DocumentID == "" {
		return NewValidationError("documentId is required")
	}
	return nil
}

type StatusUpdatePayload struct {
	Status string `json:"status"`
}

func (p *StatusUpdatePayload) Validate() error {
	if !IsValidStatus(p.Status) {
		return NewValidationError("status must be online, away, busy, or offline")
	}
	return nil
}

type MusicPlayPayload struct {
	RoomID   string  `json:"roomId"`
	MusicID  string  `json:"musicId"`
	Title    string  `json:"title,omitempty"`
	Position float64 `json:"timestamp,omitempty"`
}

func (p *MusicPlayPayload) Validate() error {
	if p.RoomID == "" {
		return NewValidationError("roomId is required")
	}
	if p.MusicID == "" {
		return NewValidationError("musicId is required")
	}
	return nil
}

type MusicPausePayload struct {
	RoomID  string `json:"roomId"`
	MusicID string `json:"musicId"`
}

func (p *MusicPausePayload) Validate() error {
	if p.RoomID == "" {
		return NewValidationError("roomId is required")
	}
	if p.MusicID == "" {
		return NewValidationError("musicId is required")
	}
	return nil
}

type MusicSeekPayload struct {
	RoomID      string  `json:"roomId"`
	MusicID     string  `json:"musicId"`
	CurrentTime float64 `json:"currentTime"`
}

func (p *MusicSeekPayload) Validate() error {
	if p.RoomID == "" {
		return NewValidationError("roomId is required")
	}
	if p.MusicID == "" {
		return NewValidationError("musicId is required")
	}
	return nil
}

type InitSessionPayload struct {
	SessionID    string        `json:"sessionId,omitempty"`
	Scene        string        `json:"scene,omitempty"`
	Participants []Participant `json:"participants,omitempty"`
}

func (p *InitSessionPayload) Validate() error {
	if p.SessionID == "" && len(p.Participants) == 0 {
		return NewValidationError("either sessionId or participants is required")
	}
	return nil
}

type EmotionUpdatePayload struct {
	SessionID string `json:"sessionId"`
	AudioData string `json:"audioData,omitempty"`
	Text      string `json:"text,omitempty"`
}

func (p *EmotionUpdatePayload) Validate() error {
	if p.SessionID == "" {
		return NewValidationError("sessionId is required")
	}
	return nil
}

type StoryActionPayload struct {
	SessionID string `json:"sessionId"`
	Action    string `json:"action"`
}

func (p *StoryActionPayload) Validate() error {
	if p.SessionID == "" {
		return NewValidationError("sessionId is required")
	}
	if p.Action == "" {
		return NewValidationError("action is required")
	}
	return nil
}

type MusicMixPayload struct {
	SessionID string `json:"sessionId"`
	Style     string `json:"style,omitempty"`
}

func (p *MusicMixPayload) Validate() error {
	if p.SessionID == "" {
		return NewValidationError("sessionId is required")
	}
	return nil
}

// DecodeEvent turns an envelope into its typed payload. The returned value
// is always a pointer to one of the payload structs above, already
// validated. Unknown event names and malformed data yield a validation
// error and no payload.
func DecodeEvent(env *Envelope) (interface{}, error) {
	var payload interface{ Validate() error }

	switch env.Event {
	case EventChatMessage:
		payload = &ChatMessagePayload{}
	case EventChatTyping:
		payload = &TypingPayload{}
	case EventRoomJoin:
		payload = &RoomJoinPayload{}
	case EventRoomLeave:
		payload = &RoomLeavePayload{}
	case EventNotificationSend:
		payload = &NotificationPayload{}
	case EventCollabUpdate:
		payload = &CollabUpdatePayload{}
	case EventStatusUpdate:
		payload = &StatusUpdatePayload{}
	case EventMusicPlay:
		payload = &MusicPlayPayload{}
	case EventMusicPause:
		payload = &MusicPausePayload{}
	case EventMusicSeek:
		payload = &MusicSeekPayload{}
	case EventInitSession:
		payload = &InitSessionPayload{}
	case EventEmotionUpdate:
		payload = &EmotionUpdatePayload{}
	case EventStoryAction:
		payload = &StoryActionPayload{}
	case EventMusicMix:
		payload = &MusicMixPayload{}
	default:
		return nil, NewValidationError("unknown event: " + env.Event)
	}

	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, payload); err != nil {
			return nil, NewValidationError("malformed payload for " + env.Event)
		}
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return payload, nil
}

// Outbound payloads.

type PresencePayload struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Status    string    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ChatBroadcast struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Emotion   string    `json:"emotion,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RoomID    string    `json:"roomId,omitempty"`
}

type TypingBroadcast struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	IsTyping  bool      `json:"isTyping"`
	Timestamp time.Time `json:"timestamp"`
}

type RoomMemberJoined struct {
	RoomID      string    `json:"roomId"`
	UserID      string    `json:"userId"`
	Username    string    `json:"username"`
	Members     []string  `json:"members"`
	MemberCount int       `json:"memberCount"`
	Timestamp   time.Time `json:"timestamp"`
}

type RoomMembersNotice struct {
	RoomID      string   `json:"roomId"`
	Members     []string `json:"members"`
	MemberCount int      `json:"memberCount"`
}

type RoomMemberLeft struct {
	RoomID      string    `json:"roomId"`
	UserID      string    `json:"userId"`
	Username    string    `json:"username"`
	MemberCount int       `json:"memberCount"`
	Timestamp   time.Time `json:"timestamp"`
}

type NotificationReceived struct {
	ID           string    `json:"id"`
	FromUserID   string    `json:"fromUserId"`
	FromUsername string    `json:"fromUsername"`
	Type         string    `json:"type"`
	Title        string    `json:"title"`
	Content      string    `json:"content,omitempty"`
	Action       string    `json:"action,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Read         bool      `json:"read"`
}

type CollabBroadcast struct {
	UserID     string          `json:"userId"`
	Username   string          `json:"username"`
	DocumentID string          `json:"documentId"`
	Changes    json.RawMessage `json:"changes"`
	Version    int             `json:"version"`
	Timestamp  time.Time       `json:"timestamp"`
}

type MusicPlayBroadcast struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	MusicID   string    `json:"musicId"`
	Title     string    `json:"title,omitempty"`
	Position  float64   `json:"timestamp,omitempty"`
	PlayedAt  time.Time `json:"playedAt"`
}

type MusicPauseBroadcast struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username"`
	MusicID  string    `json:"musicId"`
	PausedAt time.Time `json:"pausedAt"`
}

type MusicSeekBroadcast struct {
	UserID      string    `json:"userId"`
	Username    string    `json:"username"`
	MusicID     string    `json:"musicId"`
	CurrentTime float64   `json:"currentTime"`
	SeekedAt    time.Time `json:"seekedAt"`
}

type SessionReady struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

type EmotionResult struct {
	UserID        string         `json:"userId"`
	Emotion       EmotionReading `json:"emotion"`
	AIResponse    string         `json:"aiResponse"`
	AudioResponse string         `json:"audioResponse"`
}

type StoryUpdate struct {
	Story *Story `json:"story"`
	Audio string `json:"audio"`
}

type MusicReady struct {
	Mix  json.RawMessage `json:"mix"`
	Plan json.RawMessage `json:"plan"`
}

type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
