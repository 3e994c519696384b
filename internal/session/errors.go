package session

import "soundscape/pkg/types"

var (
	errEmptyParticipants = types.NewValidationError("participants cannot be empty")
	errSessionNotFound   = types.NewNotFoundError("session not found")
)
