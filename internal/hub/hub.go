package hub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"soundscape/internal/websocket"
	"soundscape/pkg/types"
)

// Coordinator is the session surface the hub dispatches scene events to.
// The blocking operations run off the hub goroutine; the coordinator owns
// its own locking and broadcasts its own results.
type Coordinator interface {
	Exists(sessionID string) bool
	Create(scene string, participants []types.Participant) (*types.Session, error)
	UpdateEmotion(ctx context.Context, sessionID, userID, audioData, text string) error
	AdvanceStory(ctx context.Context, sessionID, userID, action string) error
	RequestMusicMix(ctx context.Context, sessionID, style string) error
}

type taskKind int

const (
	taskRegister taskKind = iota
	taskUnregister
	taskEvent
)

type task struct {
	kind taskKind
	peer websocket.Peer
	env  *types.Envelope
}

// Hub is the realtime messaging channel. A single goroutine consumes one
// ordered task queue, so within a room events are delivered in the order
// they were accepted; per-client ordering is then preserved by each
// connection's writer. All in-memory mutations happen registry-side under
// its lock; the hub goroutine itself never blocks on external services.
type Hub struct {
	registry    *websocket.Registry
	coordinator Coordinator
	logger      *logrus.Logger

	tasks      chan task
	shutdownCh chan struct{}

	running bool
	mu      sync.RWMutex
}

func NewHub(registry *websocket.Registry, logger *logrus.Logger) *Hub {
	return &Hub{
		registry:   registry,
		logger:     logger,
		tasks:      make(chan task, 1024),
		shutdownCh: make(chan struct{}),
	}
}

// SetCoordinator wires the session coordinator in after construction; the
// coordinator needs the hub as its broadcaster, so one side attaches late.
func (h *Hub) SetCoordinator(c Coordinator) {
	h.coordinator = c
}

// Start begins hub processing.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	h.logger.Info("starting realtime hub")
	go h.run(ctx)
	return nil
}

// Stop shuts down the hub loop.
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return ErrHubNotRunning
	}
	h.running = false

	select {
	case <-h.shutdownCh:
	default:
		close(h.shutdownCh)
	}
	return nil
}

// Register queues a connection for registration and the online broadcast.
func (h *Hub) Register(peer websocket.Peer) error {
	return h.enqueue(task{kind: taskRegister, peer: peer})
}

// Unregister queues disconnect cleanup for a connection. Cleanup carries
// the connection itself so a replaced connection's late cleanup cannot
// deregister the connection that superseded it.
func (h *Hub) Unregister(peer websocket.Peer) error {
	return h.enqueue(task{kind: taskUnregister, peer: peer})
}

// Dispatch queues an inbound event from a connected peer.
func (h *Hub) Dispatch(peer websocket.Peer, env *types.Envelope) error {
	return h.enqueue(task{kind: taskEvent, peer: peer, env: env})
}

func (h *Hub) enqueue(t task) error {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ErrHubNotRunning
	}
	h.mu.RUnlock()

	select {
	case h.tasks <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

func (h *Hub) run(ctx context.Context) {
	defer h.logger.Info("hub processing stopped")

	for {
		select {
		case t := <-h.tasks:
			switch t.kind {
			case taskRegister:
				h.handleRegister(t.peer)
			case taskUnregister:
				h.handleUnregister(t.peer)
			case taskEvent:
				h.handleEvent(t.peer, t.env)
			}
		case <-h.shutdownCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) handleRegister(peer websocket.Peer) {
	info, departures, err := h.registry.Register(peer)
	if err != nil {
		h.logger.WithError(err).Warn("connection registration failed")
		h.sendError(peer, err)
		_ = peer.Close()
		return
	}

	// A replaced connection vacates its rooms like a disconnect would.
	h.notifyDepartures(info.UserID, info.Username, departures)

	h.logger.WithFields(logrus.Fields{
		"user_id":  info.UserID,
		"username": info.Username,
	}).Info("user connected")

	h.BroadcastAll(types.EventUserOnline, types.PresencePayload{
		UserID:    info.UserID,
		Username:  info.Username,
		Timestamp: time.Now(),
	})
}

// handleUnregister runs the disconnect path: registry cleanup completes
// atomically first, then member-left notices, then the offline broadcast.
// No listener can observe a room snapshot still holding the departed user.
// A stale connection that was already replaced cleans up to nothing here
// and no offline broadcast goes out.
func (h *Hub) handleUnregister(peer websocket.Peer) {
	username, departures, ok := h.registry.Unregister(peer)
	if !ok {
		return
	}
	userID := peer.UserID()

	h.notifyDepartures(userID, username, departures)

	h.logger.WithField("user_id", userID).Info("user disconnected")

	h.BroadcastAll(types.EventUserOffline, types.PresencePayload{
		UserID:    userID,
		Username:  username,
		Timestamp: time.Now(),
	})
}

func (h *Hub) notifyDepartures(userID, username string, departures []types.RoomDeparture) {
	for _, d := range departures {
		h.BroadcastRoom(d.RoomID, types.EventRoomMemberLeft, types.RoomMemberLeft{
			RoomID:      d.RoomID,
			UserID:      userID,
			Username:    username,
			MemberCount: d.MemberCount,
			Timestamp:   time.Now(),
		})
	}
}

func (h *Hub) handleEvent(peer websocket.Peer, env *types.Envelope) {
	payload, err := types.DecodeEvent(env)
	if err != nil {
		h.sendError(peer, err)
		return
	}

	switch p := payload.(type) {
	case *types.ChatMessagePayload:
		h.handleChat(peer, p)
	case *types.TypingPayload:
		h.handleTyping(peer, p)
	case *types.RoomJoinPayload:
		h.handleRoomJoin(peer, p)
	case *types.RoomLeavePayload:
		h.handleRoomLeave(peer, p)
	case *types.NotificationPayload:
		h.handleNotification(peer, p)
	case *types.CollabUpdatePayload:
		h.handleCollabUpdate(peer, p)
	case *types.StatusUpdatePayload:
		h.handleStatusUpdate(peer, p)
	case *types.MusicPlayPayload:
		h.handleMusicPlay(peer, p)
	case *types.MusicPausePayload:
		h.handleMusicPause(peer, p)
	case *types.MusicSeekPayload:
		h.handleMusicSeek(peer, p)
	case *types.InitSessionPayload:
		go h.handleInitSession(peer, p)
	case *types.EmotionUpdatePayload:
		go h.handleEmotionUpdate(peer, p)
	case *types.StoryActionPayload:
		go h.handleStoryAction(peer, p)
	case *types.MusicMixPayload:
		go h.handleMusicMix(peer, p)
	}
}

func (h *Hub) handleChat(peer websocket.Peer, p *types.ChatMessagePayload) {
	msg := types.ChatBroadcast{
		ID:        uuid.New().String(),
		UserID:    peer.UserID(),
		Username:  peer.Username(),
		Message:   p.Message,
		Emotion:   p.Emotion,
		Timestamp: time.Now(),
		RoomID:    p.RoomID,
	}

	// Chat echoes to the sender; room-scoped when a room is given.
	if p.RoomID != "" {
		h.BroadcastRoom(p.RoomID, types.EventChatMessage, msg)
	} else {
		h.BroadcastAll(types.EventChatMessage, msg)
	}
}

func (h *Hub) handleTyping(peer websocket.Peer, p *types.TypingPayload) {
	notice := types.TypingBroadcast{
		UserID:    peer.UserID(),
		Username:  peer.Username(),
		IsTyping:  p.IsTyping,
		Timestamp: time.Now(),
	}

	if p.RoomID != "" {
		h.broadcastRoomExcept(p.RoomID, peer.UserID(), types.EventChatTyping, notice)
	} else {
		h.broadcastAllExcept(peer.UserID(), types.EventChatTyping, notice)
	}
}

func (h *Hub) handleRoomJoin(peer websocket.Peer, p *types.RoomJoinPayload) {
	snap, err := h.registry.JoinRoom(p.RoomID, peer.UserID(), p.RoomType)
	if err != nil {
		h.sendError(peer, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"user_id": peer.UserID(),
		"room_id": p.RoomID,
	}).Info("user joined room")

	h.BroadcastRoom(p.RoomID, types.EventRoomMemberJoined, types.RoomMemberJoined{
		RoomID:      p.RoomID,
		UserID:      peer.UserID(),
		Username:    peer.Username(),
		Members:     snap.Members,
		MemberCount: snap.MemberCount,
		Timestamp:   time.Now(),
	})

	// Member list goes to the joiner only.
	h.sendTo(peer, types.EventRoomMembers, types.RoomMembersNotice{
		RoomID:      p.RoomID,
		Members:     snap.Members,
		MemberCount: snap.MemberCount,
	})
}

func (h *Hub) handleRoomLeave(peer websocket.Peer, p *types.RoomLeavePayload) {
	count, wasMember := h.registry.LeaveRoom(p.RoomID, peer.UserID())
	if !wasMember {
		return
	}

	h.logger.WithFields(logrus.Fields{
		"user_id": peer.UserID(),
		"room_id": p.RoomID,
	}).Info("user left room")

	h.BroadcastRoom(p.RoomID, types.EventRoomMemberLeft, types.RoomMemberLeft{
		RoomID:      p.RoomID,
		UserID:      peer.UserID(),
		Username:    peer.Username(),
		MemberCount: count,
		Timestamp:   time.Now(),
	})
}

func (h *Hub) handleNotification(peer websocket.Peer, p *types.NotificationPayload) {
	notification := types.NotificationReceived{
		ID:           uuid.New().String(),
		FromUserID:   peer.UserID(),
		FromUsername: peer.Username(),
		Type:         p.Type,
		Title:        p.Title,
		Content:      p.Content,
		Action:       p.Action,
		Timestamp:    time.Now(),
		Read:         false,
	}

	if p.TargetUserID != "" {
		h.SendToUser(p.TargetUserID, types.EventNotificationReceived, notification)
	} else {
		h.BroadcastAll(types.EventNotificationReceived, notification)
	}
}

func (h *Hub) handleCollabUpdate(peer websocket.Peer, p *types.CollabUpdatePayload) {
	h.broadcastRoomExcept(p.RoomID, peer.UserID(), types.EventCollabUpdate, types.CollabBroadcast{
		UserID:     peer.UserID(),
		Username:   peer.Username(),
		DocumentID: p.DocumentID,
		Changes:    p.Changes,
		Version:    p.Version,
		Timestamp:  time.Now(),
	})
}

func (h *Hub) handleStatusUpdate(peer websocket.Peer, p *types.StatusUpdatePayload) {
	username, ok := h.registry.SetStatus(peer.UserID(), p.Status)
	if !ok {
		return
	}

	h.BroadcastAll(types.EventUserStatusChanged, types.PresencePayload{
		UserID:    peer.UserID(),
		Username:  username,
		Status:    p.Status,
		Timestamp: time.Now(),
	})
}

func (h *Hub) handleMusicPlay(peer websocket.Peer, p *types.MusicPlayPayload) {
	h.broadcastRoomExcept(p.RoomID, peer.UserID(), types.EventMusicPlay, types.MusicPlayBroadcast{
		UserID:   peer.UserID(),
		Username: peer.Username(),
		MusicID:  p.MusicID,
		Title:    p.Title,
		Position: p.Position,
		PlayedAt: time.Now(),
	})
}

func (h *Hub) handleMusicPause(peer websocket.Peer, p *types.MusicPausePayload) {
	h.broadcastRoomExcept(p.RoomID, peer.UserID(), types.EventMusicPause, types.MusicPauseBroadcast{
		UserID:   peer.UserID(),
		Username: peer.Username(),
		MusicID:  p.MusicID,
		PausedAt: time.Now(),
	})
}

func (h *Hub) handleMusicSeek(peer websocket.Peer, p *types.MusicSeekPayload) {
	h.broadcastRoomExcept(p.RoomID, peer.UserID(), types.EventMusicSeek, types.MusicSeekBroadcast{
		UserID:      peer.UserID(),
		Username:    peer.Username(),
		MusicID:     p.MusicID,
		CurrentTime: p.CurrentTime,
		SeekedAt:    time.Now(),
	})
}

// Session events run off the hub goroutine because they block on external
// services. State consistency is the coordinator's responsibility.

func (h *Hub) handleInitSession(peer websocket.Peer, p *types.InitSessionPayload) {
	if h.coordinator == nil {
		h.sendError(peer, types.NewInternalError("session coordination unavailable", nil))
		return
	}

	if p.SessionID != "" {
		if !h.coordinator.Exists(p.SessionID) {
			h.sendError(peer, types.NewNotFoundError("session not found"))
			return
		}
		if _, err := h.registry.JoinRoom(p.SessionID, peer.UserID(), "session"); err != nil {
			h.sendError(peer, err)
			return
		}
		h.sendTo(peer, types.EventSessionReady, types.SessionReady{
			SessionID: p.SessionID,
			Status:    "resumed",
		})
		return
	}

	session, err := h.coordinator.Create(p.Scene, p.Participants)
	if err != nil {
		h.sendError(peer, err)
		return
	}
	if _, err := h.registry.JoinRoom(session.ID, peer.UserID(), "session"); err != nil {
		h.sendError(peer, err)
		return
	}
	h.sendTo(peer, types.EventSessionReady, types.SessionReady{
		SessionID: session.ID,
		Status:    "initialized",
	})
}

func (h *Hub) handleEmotionUpdate(peer websocket.Peer, p *types.EmotionUpdatePayload) {
	if h.coordinator == nil {
		h.sendError(peer, types.NewInternalError("session coordination unavailable", nil))
		return
	}
	if err := h.coordinator.UpdateEmotion(context.Background(), p.SessionID, peer.UserID(), p.AudioData, p.Text); err != nil {
		h.sendError(peer, err)
	}
}

func (h *Hub) handleStoryAction(peer websocket.Peer, p *types.StoryActionPayload) {
	if h.coordinator == nil {
		h.sendError(peer, types.NewInternalError("session coordination unavailable", nil))
		return
	}
	if err := h.coordinator.AdvanceStory(context.Background(), p.SessionID, peer.UserID(), p.Action); err != nil {
		h.sendError(peer, err)
	}
}

func (h *Hub) handleMusicMix(peer websocket.Peer, p *types.MusicMixPayload) {
	if h.coordinator == nil {
		h.sendError(peer, types.NewInternalError("session coordination unavailable", nil))
		return
	}
	if err := h.coordinator.RequestMusicMix(context.Background(), p.SessionID, p.Style); err != nil {
		h.sendError(peer, err)
	}
}

// BroadcastRoom delivers an event to every current member of a room.
// Unknown or empty rooms deliver to zero recipients.
func (h *Hub) BroadcastRoom(roomID, event string, payload interface{}) {
	for _, peer := range h.registry.RoomPeers(roomID, "") {
		h.sendTo(peer, event, payload)
	}
}

// BroadcastAll delivers an event to every connected client.
func (h *Hub) BroadcastAll(event string, payload interface{}) {
	for _, peer := range h.registry.AllPeers("") {
		h.sendTo(peer, event, payload)
	}
}

// SendToUser delivers an event to one user; unknown targets are dropped.
func (h *Hub) SendToUser(userID, event string, payload interface{}) {
	if peer, ok := h.registry.Peer(userID); ok {
		h.sendTo(peer, event, payload)
	}
}

func (h *Hub) broadcastRoomExcept(roomID, exclude, event string, payload interface{}) {
	for _, peer := range h.registry.RoomPeers(roomID, exclude) {
		h.sendTo(peer, event, payload)
	}
}

func (h *Hub) broadcastAllExcept(exclude, event string, payload interface{}) {
	for _, peer := range h.registry.AllPeers(exclude) {
		h.sendTo(peer, event, payload)
	}
}

// sendTo is fire-and-forget: a write failure (closed or slow client) is
// logged and the event is lost for that recipient only.
func (h *Hub) sendTo(peer websocket.Peer, event string, payload interface{}) {
	if err := peer.WriteEvent(event, payload); err != nil {
		h.logger.WithFields(logrus.Fields{
			"user_id": peer.UserID(),
			"event":   event,
		}).WithError(err).Debug("event delivery failed")
	}
}

// sendError reports a failure to the originating client only; other room
// members never observe it.
func (h *Hub) sendError(peer websocket.Peer, err error) {
	h.sendTo(peer, types.EventError, types.ErrorPayload{
		Kind:    string(types.KindOf(err)),
		Message: types.MessageOf(err),
	})
}
