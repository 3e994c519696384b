package interfaces

import "soundscape/pkg/types"

// SessionCoordinator is the REST-facing surface of the scene session store.
// The realtime operations (emotion, story, music) run through the hub and
// are not part of this interface.
type SessionCoordinator interface {
	Create(scene string, participants []types.Participant) (*types.Session, error)
	Snapshot(sessionID string) (*types.Session, error)
	Close(sessionID string) error
	Count() int
}
