// Package telephony connects carrier calls to phonebridge sessions.
//
// It serves the carrier's media-stream websocket ([MediaServer]), answers the
// call-setup webhook with TwiML ([VoiceHandler]) and places or ends calls
// through the carrier REST API ([Client], [CallsAPI]).
//
// The media stream is JSON over websocket. Inbound events are connected,
// start, media, mark and stop; outbound messages are media, mark and clear.
// Audio payloads are base64 mu-law at 8 kHz.
package telephony

import (
	"strconv"
	"time"
)

// Inbound event names.
const (
	eventConnected = "connected"
	eventStart     = "start"
	eventMedia     = "media"
	eventMark      = "mark"
	eventStop      = "stop"
	eventClear     = "clear"
)

// EncodingMuLaw is the media format the carrier announces for mu-law audio.
const EncodingMuLaw = "audio/x-mulaw"

// inboundEvent is one message read from the carrier. Only the field matching
// Event is set.
type inboundEvent struct {
	Event          string        `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSID      string        `json:"streamSid,omitempty"`
	Protocol       string        `json:"protocol,omitempty"`
	Version        string        `json:"version,omitempty"`
	Start          *startPayload `json:"start,omitempty"`
	Media          *mediaPayload `json:"media,omitempty"`
	Mark           *markPayload  `json:"mark,omitempty"`
	Stop           *stopPayload  `json:"stop,omitempty"`
}

type startPayload struct {
	StreamSID        string            `json:"streamSid"`
	AccountSID       string            `json:"accountSid"`
	CallSID          string            `json:"callSid"`
	Tracks           []string          `json:"tracks,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
	MediaFormat      mediaFormat       `json:"mediaFormat"`
}

type mediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type mediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// offset parses the millisecond timestamp relative to stream start. A
// missing or malformed value yields 0.
func (m *mediaPayload) offset() time.Duration {
	ms, err := strconv.ParseInt(m.Timestamp, 10, 64)
	if err != nil || ms < 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

type markPayload struct {
	Name string `json:"name"`
}

type stopPayload struct {
	AccountSID string `json:"accountSid,omitempty"`
	CallSID    string `json:"callSid,omitempty"`
}

// outboundMedia carries one frame of reply audio.
type outboundMedia struct {
	Event     string             `json:"event"`
	StreamSID string             `json:"streamSid"`
	Media     outboundMediaChunk `json:"media"`
}

type outboundMediaChunk struct {
	Payload string `json:"payload"`
}

type outboundMark struct {
	Event     string      `json:"event"`
	StreamSID string      `json:"streamSid"`
	Mark      markPayload `json:"mark"`
}

type outboundClear struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}

// StartInfo describes a media stream as announced by the carrier's start
// event.
type StartInfo struct {
	CallSID          string
	StreamSID        string
	AccountSID       string
	Encoding         string
	SampleRate       int
	Channels         int
	CustomParameters map[string]string
}

func (p *startPayload) info(streamSID string) StartInfo {
	sid := p.StreamSID
	if sid == "" {
		sid = streamSID
	}
	return StartInfo{
		CallSID:          p.CallSID,
		StreamSID:        sid,
		AccountSID:       p.AccountSID,
		Encoding:         p.MediaFormat.Encoding,
		SampleRate:       p.MediaFormat.SampleRate,
		Channels:         p.MediaFormat.Channels,
		CustomParameters: p.CustomParameters,
	}
}
