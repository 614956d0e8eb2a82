// Package segment groups classified audio frames into speech segments.
//
// A [Segmenter] consumes one frame and its VAD decision at a time and decides
// when a contiguous speech region is complete: after enough trailing silence,
// or when it reaches the configured maximum length. Regions shorter than the
// minimum speech duration are discarded as noise (coughs, clicks, line
// artifacts). The segmenter never blocks and never touches I/O, which keeps it
// trivially testable with synthetic frames.
package segment

import (
	"fmt"
	"time"

	"github.com/MrWong99/phonebridge/pkg/audio"
	"github.com/MrWong99/phonebridge/pkg/types"
)

// Config holds the segmentation thresholds.
type Config struct {
	// MinSpeech is the shortest speech region that is forwarded for
	// recognition. Shorter regions are discarded.
	MinSpeech time.Duration

	// MaxSpeech caps the length of a single segment. A region reaching the cap
	// is finalized and any following speech opens a new segment.
	MaxSpeech time.Duration

	// EndOfSpeechSilence is the trailing silence that closes a segment.
	EndOfSpeechSilence time.Duration
}

// DefaultConfig returns the thresholds used when none are configured.
func DefaultConfig() Config {
	return Config{
		MinSpeech:          1000 * time.Millisecond,
		MaxSpeech:          15000 * time.Millisecond,
		EndOfSpeechSilence: 1000 * time.Millisecond,
	}
}

// Validate reports whether the thresholds are usable.
func (c Config) Validate() error {
	switch {
	case c.MinSpeech < 0:
		return fmt.Errorf("segment: min speech must be >= 0, got %s", c.MinSpeech)
	case c.MaxSpeech <= 0:
		return fmt.Errorf("segment: max speech must be > 0, got %s", c.MaxSpeech)
	case c.EndOfSpeechSilence <= 0:
		return fmt.Errorf("segment: end-of-speech silence must be > 0, got %s", c.EndOfSpeechSilence)
	case c.MinSpeech > c.MaxSpeech:
		return fmt.Errorf("segment: min speech %s exceeds max speech %s", c.MinSpeech, c.MaxSpeech)
	}
	return nil
}

// Outcome describes what a call to [Segmenter.Push] or [Segmenter.Flush] did.
type Outcome int

const (
	// OutcomeNone means no segment was completed by this frame.
	OutcomeNone Outcome = iota

	// OutcomeFinalized means a segment ended on trailing silence (or on
	// teardown) and is ready for recognition.
	OutcomeFinalized

	// OutcomeForced means a segment reached the maximum duration and was cut.
	OutcomeForced

	// OutcomeDiscarded means a segment ended with less speech than the
	// minimum and was dropped.
	OutcomeDiscarded
)

// String returns the metric label for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeFinalized:
		return "finalized"
	case OutcomeForced:
		return "forced"
	case OutcomeDiscarded:
		return "discarded"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result is returned for every pushed frame.
type Result struct {
	Outcome Outcome

	// Segment is set for OutcomeFinalized and OutcomeForced. Discarded
	// segments are also returned so callers can log their length.
	Segment *Segment
}

// Ready reports whether the result carries a segment to be recognized.
func (r Result) Ready() bool {
	return r.Outcome == OutcomeFinalized || r.Outcome == OutcomeForced
}

// Segment is one contiguous region of speech. Once returned by the segmenter
// it is never modified again.
type Segment struct {
	frames   []audio.AudioFrame
	start    time.Duration
	duration time.Duration
	trailing time.Duration
	held     time.Duration // trailing silence still present in frames
}

// Start is the stream timestamp of the first frame.
func (s *Segment) Start() time.Duration { return s.start }

// Duration is the total playback length of the frames held by the segment.
func (s *Segment) Duration() time.Duration { return s.duration }

// TrailingSilence is the silence observed after the last speech frame. For
// segments ended by silence the silent frames themselves are not kept.
func (s *Segment) TrailingSilence() time.Duration { return s.trailing }

// SpeechDuration is the segment length excluding trailing silence still held
// in the frames.
func (s *Segment) SpeechDuration() time.Duration { return s.duration - s.held }

// Frames returns the frames in order. The slice must not be modified.
func (s *Segment) Frames() []audio.AudioFrame { return s.frames }

// Len returns the number of frames.
func (s *Segment) Len() int { return len(s.frames) }

// SampleRate returns the sample rate of the segment's frames, or 0 if empty.
func (s *Segment) SampleRate() int {
	if len(s.frames) == 0 {
		return 0
	}
	return s.frames[0].SampleRate
}

// PCM concatenates all frames into a single 16-bit PCM buffer.
func (s *Segment) PCM() []byte {
	n := 0
	for _, f := range s.frames {
		n += len(f.Data)
	}
	out := make([]byte, 0, n)
	for _, f := range s.frames {
		out = append(out, f.Data...)
	}
	return out
}

// maxLookback bounds how many frames seen outside a segment are kept for a
// delayed speech onset.
const maxLookback = 50

// Segmenter turns a stream of classified frames into segments. At most one
// segment is open at any time. A Segmenter is not safe for concurrent use.
//
// VAD hysteresis is undone here: frames a delayed [types.VADSpeechStart]
// reports through Onset are prepended to the new segment, and frames a
// [types.VADSpeechEnd] reports through Release count as trailing silence.
type Segmenter struct {
	cfg            Config
	open           *Segment
	trailingFrames int

	// recent holds the latest frames pushed while no segment was open.
	recent []audio.AudioFrame
}

// New creates a Segmenter. Returns an error if cfg is invalid.
func New(cfg Config) (*Segmenter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Segmenter{cfg: cfg}, nil
}

// Open reports whether a segment is currently being accumulated.
func (s *Segmenter) Open() bool { return s.open != nil }

// Push adds one frame with its VAD decision.
func (s *Segmenter) Push(frame audio.AudioFrame, ev types.VADEvent) Result {
	// A frame that would carry the open segment past the cap closes it first.
	// The frame then starts over on its own; with uniform frames it cannot
	// complete a segment by itself because it is shorter than the cap.
	if seg := s.open; seg != nil && len(seg.frames) > 0 && seg.duration+frame.Duration() > s.cfg.MaxSpeech {
		cut := s.finish(OutcomeForced, false)
		s.push(frame, ev)
		return cut
	}
	return s.push(frame, ev)
}

func (s *Segmenter) push(frame audio.AudioFrame, ev types.VADEvent) Result {
	speech := ev.IsSpeech()
	if s.open == nil {
		if !speech {
			s.remember(frame)
			return Result{}
		}
		s.open = &Segment{start: frame.Timestamp}
		s.trailingFrames = 0
		if ev.Type == types.VADSpeechStart && ev.Onset > 0 {
			lead := s.recent[max(len(s.recent)-ev.Onset, 0):]
			if len(lead) > 0 {
				s.open.start = lead[0].Timestamp
			}
			for _, f := range lead {
				s.open.frames = append(s.open.frames, f)
				s.open.duration += f.Duration()
			}
		}
		s.recent = s.recent[:0]
	}

	seg := s.open
	d := frame.Duration()
	seg.frames = append(seg.frames, frame)
	seg.duration += d
	if speech {
		seg.trailing = 0
		seg.held = 0
		s.trailingFrames = 0
	} else {
		seg.trailing += d
		seg.held += d
		s.trailingFrames++
		if ev.Type == types.VADSpeechEnd && ev.Release > 0 {
			s.release(ev.Release)
		}
	}

	switch {
	case seg.trailing >= s.cfg.EndOfSpeechSilence:
		return s.finish(OutcomeFinalized, true)
	case seg.duration >= s.cfg.MaxSpeech:
		return s.finish(OutcomeForced, false)
	}
	return Result{}
}

// release moves the n frames before the current trailing run from speech to
// trailing silence.
func (s *Segmenter) release(n int) {
	seg := s.open
	end := len(seg.frames) - s.trailingFrames
	n = min(n, end)
	for _, f := range seg.frames[end-n : end] {
		seg.trailing += f.Duration()
		seg.held += f.Duration()
	}
	s.trailingFrames += n
}

func (s *Segmenter) remember(frame audio.AudioFrame) {
	if len(s.recent) == maxLookback {
		copy(s.recent, s.recent[1:])
		s.recent = s.recent[:maxLookback-1]
	}
	s.recent = append(s.recent, frame)
}

// Flush closes the open segment on teardown. It is returned as finalized only
// if it already holds more than the minimum speech; otherwise it is discarded.
func (s *Segmenter) Flush() Result {
	if s.open == nil {
		return Result{}
	}
	if s.open.SpeechDuration() > s.cfg.MinSpeech {
		return s.finish(OutcomeFinalized, true)
	}
	seg := s.open
	s.Reset()
	return Result{Outcome: OutcomeDiscarded, Segment: seg}
}

// Reset drops any open segment without reporting it.
func (s *Segmenter) Reset() {
	s.open = nil
	s.trailingFrames = 0
	s.recent = s.recent[:0]
}

func (s *Segmenter) finish(outcome Outcome, trim bool) Result {
	seg := s.open
	var trimmed []audio.AudioFrame
	if trim && s.trailingFrames > 0 {
		keep := len(seg.frames) - s.trailingFrames
		trimmed = seg.frames[keep:]
		seg.frames = seg.frames[:keep:keep]
		seg.duration -= seg.held
		seg.held = 0
	}
	s.Reset()
	// Trimmed silence may hold the start of a pending onset.
	for _, f := range trimmed {
		s.remember(f)
	}

	if seg.SpeechDuration() < s.cfg.MinSpeech {
		return Result{Outcome: OutcomeDiscarded, Segment: seg}
	}
	return Result{Outcome: outcome, Segment: seg}
}
