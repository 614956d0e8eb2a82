// Package types defines the shared types used across all phonebridge packages.
//
// These types form the lingua franca between providers, the orchestrator, the
// conversation history store and the per-call session. Each package defines its
// own domain types; cross-cutting data structures live here to avoid circular
// imports.
package types

import "time"

// Transcript represents a speech-to-text result from an STT provider.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Language is the BCP-47 code of the detected (or confirmed) language,
	// e.g. "hi-IN". Empty when the provider does not report one.
	Language string

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the
	// provider does not report confidence.
	Confidence float64

	// Duration is the length of the transcribed audio.
	Duration time.Duration
}

// Role identifies the author of a conversation turn.
type Role string

const (
	// RoleCaller marks text spoken by the person on the phone.
	RoleCaller Role = "caller"

	// RoleAssistant marks text generated and spoken back by the service.
	RoleAssistant Role = "assistant"
)

// TranscriptEntry is one text turn of a call's conversation history. Audio is
// never stored; only transcripts and replies.
type TranscriptEntry struct {
	// CallID is the carrier call identifier the turn belongs to.
	CallID string

	// Role is who produced the text.
	Role Role

	// Text is the transcript (caller) or reply (assistant).
	Text string

	// Language is the language Text is written in.
	Language string

	// Timestamp is when this entry was recorded.
	Timestamp time.Time

	// Duration is the length of the spoken utterance, if known.
	Duration time.Duration
}

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name.
	Name string
}

// VoiceProfile describes the voice used to speak a reply.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier (e.g. "meera").
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Language is the BCP-47 code the text is spoken in.
	Language string

	// SpeedFactor adjusts speaking rate (0.5–2.0, 1.0 = default).
	SpeedFactor float64

	// Metadata holds provider-specific voice attributes (gender, model, etc.).
	Metadata map[string]string
}

// VADEvent represents a voice activity detection result for a single audio frame.
type VADEvent struct {
	// Type is the detection result.
	Type VADEventType

	// Probability is the speech probability score (0.0–1.0). Energy-based
	// engines report 1 for speech frames and 0 for silence.
	Probability float64

	// RMS is the root-mean-square amplitude of the frame in 16-bit PCM units.
	RMS float64

	// Onset is set on VADSpeechStart when hysteresis delayed the decision: it
	// counts the frames immediately before this one that already carried the
	// speech but were reported as VADSilence.
	Onset int

	// Release is set on VADSpeechEnd: it counts the frames immediately before
	// this one that were already silent but were reported as
	// VADSpeechContinue.
	Release int
}

// IsSpeech reports whether the event classifies the frame as speech.
func (e VADEvent) IsSpeech() bool {
	return e.Type == VADSpeechStart || e.Type == VADSpeechContinue
}

// VADEventType enumerates VAD detection states.
type VADEventType int

const (
	// VADSpeechStart indicates speech has just begun.
	VADSpeechStart VADEventType = iota

	// VADSpeechContinue indicates ongoing speech.
	VADSpeechContinue

	// VADSpeechEnd indicates speech has just ended. The frame itself is silence.
	VADSpeechEnd

	// VADSilence indicates no speech detected.
	VADSilence
)

// String returns the human-readable name of the event type.
func (t VADEventType) String() string {
	switch t {
	case VADSpeechStart:
		return "speech_start"
	case VADSpeechContinue:
		return "speech_continue"
	case VADSpeechEnd:
		return "speech_end"
	case VADSilence:
		return "silence"
	default:
		return "unknown"
	}
}
