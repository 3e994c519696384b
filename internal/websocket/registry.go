package websocket

import (
	"sort"
	"sync"
	"time"

	"soundscape/pkg/types"
)

// Registry is the authoritative map of connected clients and named rooms.
// One mutex guards both sides so the membership relation never drifts:
// a user id appears in a room's member set iff that room id appears in the
// user's room set, and disconnect cleanup is atomic with entry removal.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*clientEntry
	rooms   map[string]*roomEntry
}

type clientEntry struct {
	peer        Peer
	username    string
	status      string
	rooms       map[string]struct{}
	connectedAt time.Time
}

type roomEntry struct {
	roomType  string
	members   map[string]struct{}
	createdAt time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*clientEntry),
		rooms:   make(map[string]*roomEntry),
	}
}

// Register adds a client under its user id. A prior entry for the same id
// is replaced (last-connection-wins): its transport is closed asynchronously
// and its room memberships are vacated as if it had disconnected. The
// returned departures list the rooms the replaced connection left behind.
func (r *Registry) Register(peer Peer) (*types.ClientInfo, []types.RoomDeparture, error) {
	if peer == nil {
		return nil, nil, ErrNilTransport
	}
	userID := peer.UserID()
	if !types.IsValidUserID(userID) {
		return nil, nil, types.NewValidationError("userId is required")
	}

	username := peer.Username()
	if username == "" {
		username = "User_" + userID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var departures []types.RoomDeparture
	if existing, ok := r.clients[userID]; ok {
		departures = r.removeFromRoomsLocked(userID, existing)
		old := existing.peer
		go func() { _ = old.Close() }()
	}

	entry := &clientEntry{
		peer:        peer,
		username:    username,
		status:      types.StatusOnline,
		rooms:       make(map[string]struct{}),
		connectedAt: time.Now(),
	}
	r.clients[userID] = entry

	return snapshotClient(userID, entry), departures, nil
}

// Unregister removes a client and every room membership it held, deleting
// rooms that become empty. Idempotent: unknown ids are a no-op. The removal
// and the room cleanup happen under a single lock hold, so no reader can
// observe a room that still contains a removed client.
//
// Removal is keyed by connection identity, not user id: after a
// last-connection-wins replacement the old connection's read pump still
// runs its cleanup, and that cleanup must not evict the connection that
// superseded it. The entry is only removed while it holds this exact
// transport.
func (r *Registry) Unregister(peer Peer) (string, []types.RoomDeparture, bool) {
	if peer == nil {
		return "", nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	userID := peer.UserID()
	entry, ok := r.clients[userID]
	if !ok {
		return "", nil, false
	}
	if entry.peer != peer {
		return "", nil, false
	}

	departures := r.removeFromRoomsLocked(userID, entry)
	delete(r.clients, userID)
	return entry.username, departures, true
}

// removeFromRoomsLocked vacates every room the entry is a member of and
// evicts rooms whose member set becomes empty. Caller holds the lock.
func (r *Registry) removeFromRoomsLocked(userID string, entry *clientEntry) []types.RoomDeparture {
	departures := make([]types.RoomDeparture, 0, len(entry.rooms))
	for roomID := range entry.rooms {
		room, ok := r.rooms[roomID]
		if !ok {
			continue
		}
		delete(room.members, userID)
		if len(room.members) == 0 {
			delete(r.rooms, roomID)
		}
		departures = append(departures, types.RoomDeparture{
			RoomID:      roomID,
			MemberCount: len(room.members),
		})
	}
	entry.rooms = make(map[string]struct{})
	return departures
}

// SetStatus mutates a client's presence status in place. Unknown ids are a
// silent no-op.
func (r *Registry) SetStatus(userID, status string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.clients[userID]
	if !ok {
		return "", false
	}
	entry.status = status
	return entry.username, true
}

// Clients returns snapshots of all connected clients.
func (r *Registry) Clients() []types.ClientInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]types.ClientInfo, 0, len(r.clients))
	for userID, entry := range r.clients {
		infos = append(infos, *snapshotClient(userID, entry))
	}
	return infos
}

// JoinRoom adds the user to a room, creating it lazily. Joining a room the
// user is already in is idempotent. The room type is fixed at creation;
// after eviction the next join recreates the room fresh.
func (r *Registry) JoinRoom(roomID, userID, roomType string) (*types.RoomSnapshot, error) {
	if roomID == "" {
		return nil, types.NewValidationError("roomId is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.clients[userID]
	if !ok {
		return nil, types.NewNotFoundError("user is not connected")
	}

	room, ok := r.rooms[roomID]
	if !ok {
		if roomType == "" {
			roomType = "chat"
		}
		room = &roomEntry{
			roomType:  roomType,
			members:   make(map[string]struct{}),
			createdAt: time.Now(),
		}
		r.rooms[roomID] = room
	}

	room.members[userID] = struct{}{}
	entry.rooms[roomID] = struct{}{}

	return snapshotRoom(roomID, room), nil
}

// LeaveRoom removes the user from a room, evicting the room if it becomes
// empty. No-op safe for unknown rooms and non-members. Returns the
// remaining member count and whether the user was a member.
func (r *Registry) LeaveRoom(roomID, userID string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return 0, false
	}
	if _, member := room.members[userID]; !member {
		return len(room.members), false
	}

	delete(room.members, userID)
	if entry, ok := r.clients[userID]; ok {
		delete(entry.rooms, roomID)
	}
	if len(room.members) == 0 {
		delete(r.rooms, roomID)
		return 0, true
	}
	return len(room.members), true
}

// RoomMembers returns the member ids of a room, empty if the room is absent.
func (r *Registry) RoomMembers(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return []string{}
	}
	return memberList(room)
}

// Peer returns the live transport for a user.
func (r *Registry) Peer(userID string) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.clients[userID]
	if !ok {
		return nil, false
	}
	return entry.peer, true
}

// RoomPeers returns the transports of a room's current members, optionally
// excluding one user id. An unknown room yields zero recipients.
func (r *Registry) RoomPeers(roomID, exclude string) []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	peers := make([]Peer, 0, len(room.members))
	for userID := range room.members {
		if userID == exclude {
			continue
		}
		if entry, ok := r.clients[userID]; ok {
			peers = append(peers, entry.peer)
		}
	}
	return peers
}

// AllPeers returns every connected transport, optionally excluding one user.
func (r *Registry) AllPeers(exclude string) []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peers := make([]Peer, 0, len(r.clients))
	for userID, entry := range r.clients {
		if userID == exclude {
			continue
		}
		peers = append(peers, entry.peer)
	}
	return peers
}

// Username resolves a connected user's display name.
func (r *Registry) Username(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.clients[userID]
	if !ok {
		return "", false
	}
	return entry.username, true
}

// Stats reports counts for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"connections": len(r.clients),
		"rooms":       len(r.rooms),
	}
}

func snapshotClient(userID string, entry *clientEntry) *types.ClientInfo {
	roomIDs := make([]string, 0, len(entry.rooms))
	for roomID := range entry.rooms {
		roomIDs = append(roomIDs, roomID)
	}
	sort.Strings(roomIDs)
	return &types.ClientInfo{
		UserID:      userID,
		Username:    entry.username,
		Status:      entry.status,
		RoomIDs:     roomIDs,
		ConnectedAt: entry.connectedAt,
	}
}

func snapshotRoom(roomID string, room *roomEntry) *types.RoomSnapshot {
	return &types.RoomSnapshot{
		RoomID:      roomID,
		Type:        room.roomType,
		Members:     memberList(room),
		MemberCount: len(room.members),
		CreatedAt:   room.createdAt,
	}
}

func memberList(room *roomEntry) []string {
	members := make([]string, 0, len(room.members))
	for userID := range room.members {
		members = append(members, userID)
	}
	sort.Strings(members)
	return members
}
