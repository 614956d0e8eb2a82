// Package audio defines the frame type, PCM conversion helpers and the
// outbound [Sink] abstraction used by the phonebridge call pipeline.
//
// Codec and container specifics live in sub-packages: [g711] handles the
// carrier's mu-law encoding and [wav] handles RIFF/WAVE buffers exchanged with
// speech providers.
//
// This package lives under pkg/ because carrier adapters other than the
// built-in media-stream transport are expected to implement [Sink].
package audio

import "context"

// Sink is the outbound half of a carrier media stream for one call.
//
// Egress writes fixed-size, carrier-encoded frames to a Sink at real-time
// cadence. Implementations must be safe for concurrent use because control
// messages (Clear) may race with frame writes during teardown.
type Sink interface {
	// SendFrame transmits one encoded frame (mu-law for the built-in transport).
	// It must return promptly once ctx is cancelled.
	SendFrame(ctx context.Context, frame []byte) error

	// Mark asks the carrier to acknowledge once all previously sent audio has
	// been played. name is echoed back in the carrier's mark event.
	Mark(ctx context.Context, name string) error

	// Clear discards any audio the carrier has buffered but not yet played.
	Clear(ctx context.Context) error
}
