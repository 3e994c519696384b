package interfaces

import (
	"context"
	"encoding/json"

	"soundscape/pkg/types"
)

// AIProvider is the boundary to the external AI collaborators. Every call
// is request/response with a configured timeout; failures surface as
// external-service errors and are never retried by callers.
type AIProvider interface {
	// AnalyzeEmotion classifies a voice or text input in its scene context.
	AnalyzeEmotion(ctx context.Context, req types.EmotionRequest) (*types.EmotionReading, error)

	// Chat requests generated text for role-tagged prompt messages.
	Chat(ctx context.Context, messages []types.ChatMessage, opts types.ChatOptions) (string, error)

	// SynthesizeSpeech returns base64-encoded audio for the given text.
	SynthesizeSpeech(ctx context.Context, text, voice string, speed float64) (string, error)

	// ComposeMix requests a synthesized music mix. The result is opaque to
	// the coordinator and broadcast as-is.
	ComposeMix(ctx context.Context, req types.MixRequest) (json.RawMessage, error)
}
