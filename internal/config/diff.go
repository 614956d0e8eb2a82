package config

import "reflect"

// ConfigDiff describes what changed between two configs.
//
// Log level, audio tuning, timeouts and conversation settings are applied
// without a restart; audio and conversation changes only affect calls that
// start afterwards. RestartRequired lists sections whose changes are ignored
// until the process restarts.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	AudioChanged        bool
	TimeoutsChanged     bool
	ConversationChanged bool
	PromptChanged       bool

	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.AudioChanged || d.TimeoutsChanged || d.ConversationChanged || len(d.RestartRequired) > 0
}

// HotReloadable reports whether some change can be applied live.
func (d ConfigDiff) HotReloadable() bool {
	return d.LogLevelChanged || d.AudioChanged || d.TimeoutsChanged || d.ConversationChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.AudioChanged = old.Audio != new.Audio
	d.TimeoutsChanged = old.Timeouts != new.Timeouts
	d.PromptChanged = old.Conversation.SystemPrompt != new.Conversation.SystemPrompt
	d.ConversationChanged = !reflect.DeepEqual(old.Conversation, new.Conversation)

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !reflect.DeepEqual(oldServer, newServer) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Telephony != new.Telephony {
		d.RestartRequired = append(d.RestartRequired, "telephony")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Memory != new.Memory {
		d.RestartRequired = append(d.RestartRequired, "memory")
	}
	return d
}
