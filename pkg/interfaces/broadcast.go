package interfaces

// Broadcaster delivers fire-and-forget events. Delivery is best-effort:
// an unreachable recipient loses the event, an empty room is a no-op.
type Broadcaster interface {
	BroadcastRoom(roomID, event string, payload interface{})
	BroadcastAll(event string, payload interface{})
	SendToUser(userID, event string, payload interface{})
}
