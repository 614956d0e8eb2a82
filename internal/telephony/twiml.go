package telephony

import (
	"encoding/xml"
	"log/slog"
	"net/http"
	"strconv"
)

// DefaultGreeting is spoken before the media stream starts.
const DefaultGreeting = "Hello! You are connected. Please speak after the tone, and I will respond."

// maxCallSeconds keeps the call open while the stream runs; the carrier ends
// the call when the pause elapses.
const maxCallSeconds = 3600

type twimlResponse struct {
	XMLName xml.Name   `xml:"Response"`
	Say     *twimlSay  `xml:"Say,omitempty"`
	Start   twimlStart `xml:"Start"`
	Pause   twimlPause `xml:"Pause"`
}

type twimlSay struct {
	Text string `xml:",chardata"`
}

type twimlStart struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Track      string           `xml:"track,attr"`
	Parameters []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type twimlPause struct {
	Length int `xml:"length,attr"`
}

// VoiceHandler answers the carrier's call-setup webhook with TwiML that greets
// the caller and starts the inbound media stream.
type VoiceHandler struct {
	// PublicHost is the externally reachable host[:port] for the media
	// stream. Empty uses the request's Host header.
	PublicHost string

	// Greeting is spoken first. Empty skips the greeting.
	Greeting string

	// SampleRate is announced as the stream's rate parameter.
	SampleRate int

	Log *slog.Logger
}

// Register adds POST /voice to mux.
func (h *VoiceHandler) Register(mux *http.ServeMux) {
	mux.Handle("POST /voice", h)
}

// ServeHTTP writes the TwiML document.
func (h *VoiceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	host := h.PublicHost
	if host == "" {
		host = r.Host
	}
	rate := h.SampleRate
	if rate <= 0 {
		rate = 8000
	}

	body, err := BuildStreamTwiML("wss://"+host+DefaultMediaPath, h.Greeting, rate)
	if err != nil {
		h.logger().Error("telephony: build twiml", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.logger().Info("telephony: answering call",
		"call_id", r.FormValue("CallSid"),
		"from", r.FormValue("From"),
		"to", r.FormValue("To"),
	)
	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write(body)
}

func (h *VoiceHandler) logger() *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}

// BuildStreamTwiML renders the call-setup document: optional greeting, a
// one-way inbound stream to streamURL and a long pause that keeps the call up.
func BuildStreamTwiML(streamURL, greeting string, sampleRate int) ([]byte, error) {
	doc := twimlResponse{
		Start: twimlStart{Stream: twimlStream{
			URL:   streamURL,
			Track: "inbound_track",
			Parameters: []twimlParameter{
				{Name: "format", Value: "mulaw"},
				{Name: "rate", Value: strconv.Itoa(sampleRate)},
			},
		}},
		Pause: twimlPause{Length: maxCallSeconds},
	}
	if greeting != "" {
		doc.Say = &twimlSay{Text: greeting}
	}
	b, err := xml.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), b...), nil
}
