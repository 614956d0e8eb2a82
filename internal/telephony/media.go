package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/phonebridge/internal/session"
	"github.com/MrWong99/phonebridge/pkg/audio"
)

// DefaultMediaPath is where the carrier connects its media stream.
const DefaultMediaPath = "/ws/media-stream"

// defaultReadLimit bounds a single inbound websocket message. Media events
// carry at most a few hundred bytes of base64 audio.
const defaultReadLimit = 64 << 10

// Stream is the per-call consumer of inbound media. [session.Call]
// satisfies it.
type Stream interface {
	// PushMedia decodes and enqueues one base64 mu-law payload. It must not
	// block.
	PushMedia(payload string, ts time.Duration) error

	// HandleMark records a playback acknowledgement.
	HandleMark(name string)

	// Close ends the call. It must be idempotent.
	Close()
}

// Acceptor creates a Stream for a newly started media stream. sink writes
// back to the same connection and stays valid until the connection closes.
type Acceptor interface {
	Accept(ctx context.Context, info StartInfo, sink audio.Sink) (Stream, error)
}

// MediaOption configures a [MediaServer].
type MediaOption func(*MediaServer)

// WithMediaLogger sets the logger. Defaults to [slog.Default].
func WithMediaLogger(l *slog.Logger) MediaOption {
	return func(s *MediaServer) { s.log = l }
}

// WithReadLimit overrides the maximum inbound message size in bytes.
func WithReadLimit(n int64) MediaOption {
	return func(s *MediaServer) { s.readLimit = n }
}

// WithSampleRate sets the only sample rate accepted in start events.
// Defaults to 8000.
func WithSampleRate(hz int) MediaOption {
	return func(s *MediaServer) { s.sampleRate = hz }
}

// MediaServer upgrades carrier connections on [DefaultMediaPath] and relays
// events between the carrier and the call's [Stream]. One connection carries
// exactly one stream; a disconnect closes the stream.
type MediaServer struct {
	acceptor   Acceptor
	log        *slog.Logger
	readLimit  int64
	sampleRate int
}

// NewMediaServer creates a MediaServer that hands new streams to acceptor.
func NewMediaServer(acceptor Acceptor, opts ...MediaOption) *MediaServer {
	s := &MediaServer{
		acceptor:   acceptor,
		log:        slog.Default(),
		readLimit:  defaultReadLimit,
		sampleRate: audio.Telephone.SampleRate,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds the media-stream route to mux.
func (s *MediaServer) Register(mux *http.ServeMux) {
	mux.Handle("GET "+DefaultMediaPath, s)
}

// ServeHTTP upgrades the request and serves the stream until the carrier
// sends stop, the connection drops or the request context ends.
func (s *MediaServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("telephony: websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(s.readLimit)

	status, reason := s.serve(r.Context(), conn)
	conn.Close(status, reason)
}

// connState is owned by the connection's read loop.
type connState struct {
	stream    Stream
	streamSID string
	callSID   string
	media     int
}

func (s *MediaServer) serve(ctx context.Context, conn *websocket.Conn) (websocket.StatusCode, string) {
	var st connState
	defer func() {
		if st.stream != nil {
			st.stream.Close()
			s.log.Info("telephony: stream closed",
				"call_id", st.callSID,
				"stream_sid", st.streamSID,
				"media_events", st.media,
			)
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch {
			case websocket.CloseStatus(err) != -1:
				s.log.Info("telephony: carrier closed connection", "stream_sid", st.streamSID, "status", websocket.CloseStatus(err))
			case errors.Is(err, context.Canceled):
			default:
				s.log.Warn("telephony: stream disconnected", "stream_sid", st.streamSID, "err", err)
			}
			return websocket.StatusNormalClosure, ""
		}

		var ev inboundEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			s.log.Warn("telephony: malformed event dropped", "stream_sid", st.streamSID, "err", err)
			continue
		}

		switch ev.Event {
		case eventConnected:
			s.log.Debug("telephony: carrier connected", "protocol", ev.Protocol, "version", ev.Version)

		case eventStart:
			if err := s.handleStart(ctx, conn, &st, ev); err != nil {
				s.log.Error("telephony: rejecting stream", "stream_sid", ev.StreamSID, "err", err)
				return websocket.StatusPolicyViolation, "stream rejected"
			}

		case eventMedia:
			if !s.handleMedia(&st, ev) {
				return websocket.StatusNormalClosure, "call ended"
			}

		case eventMark:
			if st.stream != nil && ev.Mark != nil {
				st.stream.HandleMark(ev.Mark.Name)
			}

		case eventStop:
			s.log.Info("telephony: carrier stopped stream", "call_id", st.callSID, "stream_sid", st.streamSID)
			return websocket.StatusNormalClosure, "stopped"

		default:
			s.log.Debug("telephony: unknown event ignored", "event", ev.Event, "stream_sid", st.streamSID)
		}
	}
}

func (s *MediaServer) handleStart(ctx context.Context, conn *websocket.Conn, st *connState, ev inboundEvent) error {
	if st.stream != nil {
		s.log.Warn("telephony: duplicate start ignored", "stream_sid", st.streamSID)
		return nil
	}
	if ev.Start == nil {
		return errors.New("start event without payload")
	}
	info := ev.Start.info(ev.StreamSID)
	if info.StreamSID == "" || info.CallSID == "" {
		return errors.New("start event without stream or call id")
	}
	if info.Encoding != "" && info.Encoding != EncodingMuLaw {
		return fmt.Errorf("unsupported encoding %q", info.Encoding)
	}
	if info.SampleRate == 0 {
		info.SampleRate = s.sampleRate
	}
	if info.SampleRate != s.sampleRate {
		return fmt.Errorf("unsupported sample rate %d Hz", info.SampleRate)
	}

	stream, err := s.acceptor.Accept(ctx, info, newSink(conn, info.StreamSID))
	if err != nil {
		return fmt.Errorf("accept call %s: %w", info.CallSID, err)
	}
	st.stream = stream
	st.streamSID = info.StreamSID
	st.callSID = info.CallSID
	s.log.Info("telephony: stream started",
		"call_id", info.CallSID,
		"stream_sid", info.StreamSID,
		"encoding", info.Encoding,
		"sample_rate", info.SampleRate,
	)
	return nil
}

// handleMedia reports false when the session behind the stream is gone.
func (s *MediaServer) handleMedia(st *connState, ev inboundEvent) bool {
	if ev.Media == nil {
		return true
	}
	if st.stream == nil {
		s.log.Debug("telephony: media before start dropped", "stream_sid", ev.StreamSID)
		return true
	}
	if ev.Media.Track != "" && ev.Media.Track != "inbound" {
		return true
	}
	st.media++

	err := st.stream.PushMedia(ev.Media.Payload, ev.Media.offset())
	switch {
	case err == nil, errors.Is(err, session.ErrFrameDropped):
	case errors.Is(err, session.ErrDecode):
		s.log.Warn("telephony: media payload dropped", "call_id", st.callSID, "chunk", ev.Media.Chunk, "err", err)
	case errors.Is(err, session.ErrSessionNotFound):
		s.log.Info("telephony: session gone, closing stream", "call_id", st.callSID)
		return false
	default:
		s.log.Warn("telephony: push media", "call_id", st.callSID, "err", err)
	}
	return true
}
