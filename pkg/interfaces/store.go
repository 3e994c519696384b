package interfaces

import (
	"context"

	"soundscape/pkg/types"
)

// MemoryStore persists session keepsakes. The realtime layer never touches
// it; only the REST controllers do.
type MemoryStore interface {
	SaveMemory(ctx context.Context, memory *types.Memory) error
	ListMemories(ctx context.Context, userID string) ([]*types.Memory, error)
	DeleteMemory(ctx context.Context, id string) error
	HealthCheck(ctx context.Context) error
	Close() error
}
