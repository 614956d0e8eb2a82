package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"

	"github.com/MrWong99/phonebridge/pkg/audio"
)

// wsSink writes reply audio and control messages for one stream. The
// websocket connection serializes concurrent writers.
type wsSink struct {
	conn      *websocket.Conn
	streamSID string
}

var _ audio.Sink = (*wsSink)(nil)

func newSink(conn *websocket.Conn, streamSID string) *wsSink {
	return &wsSink{conn: conn, streamSID: streamSID}
}

// SendFrame implements [audio.Sink].
func (s *wsSink) SendFrame(ctx context.Context, frame []byte) error {
	return s.write(ctx, outboundMedia{
		Event:     eventMedia,
		StreamSID: s.streamSID,
		Media:     outboundMediaChunk{Payload: base64.StdEncoding.EncodeToString(frame)},
	})
}

// Mark implements [audio.Sink].
func (s *wsSink) Mark(ctx context.Context, name string) error {
	return s.write(ctx, outboundMark{
		Event:     eventMark,
		StreamSID: s.streamSID,
		Mark:      markPayload{Name: name},
	})
}

// Clear implements [audio.Sink].
func (s *wsSink) Clear(ctx context.Context) error {
	return s.write(ctx, outboundClear{Event: eventClear, StreamSID: s.streamSID})
}

func (s *wsSink) write(ctx context.Context, msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("telephony: marshal outbound message: %w", err)
	}
	if err := s.conn.Write(ctx, websocket.MessageText, b); err != nil {
		return fmt.Errorf("telephony: write to stream %s: %w", s.streamSID, err)
	}
	return nil
}
