package config

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
)

// Environment variables read by [ApplyEnv].
const (
	EnvTwilioAccountSID  = "TWILIO_ACCOUNT_SID"
	EnvTwilioAuthToken   = "TWILIO_AUTH_TOKEN"
	EnvTwilioPhoneNumber = "TWILIO_PHONE_NUMBER"
	EnvSarvamAPIKey      = "SARVAM_API_KEY"
	EnvOpenAIAPIKey      = "OPENAI_API_KEY"
	EnvDeepgramAPIKey    = "DEEPGRAM_API_KEY"
	EnvElevenLabsAPIKey  = "ELEVENLABS_API_KEY"

	EnvListenAddr  = "PHONEBRIDGE_LISTEN_ADDR"
	EnvPublicHost  = "PHONEBRIDGE_PUBLIC_HOST"
	EnvLogLevel    = "PHONEBRIDGE_LOG_LEVEL"
	EnvPostgresDSN = "PHONEBRIDGE_POSTGRES_DSN"
)

// LookupFunc has the signature of [os.LookupEnv].
type LookupFunc func(key string) (string, bool)

// LoadDotEnv loads KEY=value pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are skipped. With no arguments it reads ".env".
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// ApplyEnv overlays environment values onto cfg. PHONEBRIDGE_* variables
// override the file; vendor credentials only fill empty fields. A vendor key
// is applied to every provider slot (fallbacks included) naming that vendor.
func ApplyEnv(cfg *Config, lookup LookupFunc) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	fill := func(dst *string, key string) {
		if *dst == "" {
			set(dst, key)
		}
	}

	set(&cfg.Server.ListenAddr, EnvListenAddr)
	set(&cfg.Server.PublicHost, EnvPublicHost)
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Server.LogLevel = LogLevel(v)
	}
	set(&cfg.Memory.PostgresDSN, EnvPostgresDSN)

	fill(&cfg.Telephony.AccountSID, EnvTwilioAccountSID)
	fill(&cfg.Telephony.AuthToken, EnvTwilioAuthToken)
	fill(&cfg.Telephony.PhoneNumber, EnvTwilioPhoneNumber)

	vendorKeys := map[string]string{
		"sarvam":     EnvSarvamAPIKey,
		"openai":     EnvOpenAIAPIKey,
		"deepgram":   EnvDeepgramAPIKey,
		"elevenlabs": EnvElevenLabsAPIKey,
	}
	for _, e := range cfg.Providers.entries() {
		if key, ok := vendorKeys[e.Name]; ok {
			fill(&e.APIKey, key)
		}
	}
}

// entries returns pointers to every provider entry, fallbacks included.
func (p *ProvidersConfig) entries() []*ProviderEntry {
	var out []*ProviderEntry
	var walk func(e *ProviderEntry)
	walk = func(e *ProviderEntry) {
		out = append(out, e)
		for i := range e.Fallbacks {
			walk(&e.Fallbacks[i])
		}
	}
	for _, e := range []*ProviderEntry{&p.STT, &p.LLM, &p.TTS, &p.Translate, &p.VAD} {
		walk(e)
	}
	return out
}
