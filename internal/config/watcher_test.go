package config_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/phonebridge/internal/config"
)

const watchedYAML = `
server:
  log_level: info
providers:
  stt:
    name: sarvam
  llm:
    name: openai
  tts:
    name: sarvam
audio:
  silence_threshold_rms: 200
`

// noEnv keeps the process environment out of watcher tests.
func noEnv(string) (string, bool) { return "", false }

type reload struct{ prev, next *config.Config }

// watch writes watchedYAML to a temp dir and runs a watcher over it until
// the test ends. Reloads are delivered on the returned channel.
func watch(t *testing.T, opts ...config.WatcherOption) (string, *config.Watcher, <-chan reload) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "phonebridge.yaml")
	writeFile(t, path, watchedYAML)

	reloads := make(chan reload, 4)
	opts = append([]config.WatcherOption{config.WithDebounce(20 * time.Millisecond), config.WithLookup(noEnv)}, opts...)
	w, err := config.NewWatcher(path, func(prev, next *config.Config) {
		reloads <- reload{prev, next}
	}, opts...)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	})
	return path, w, reloads
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func expectReload(t *testing.T, reloads <-chan reload) reload {
	t.Helper()
	select {
	case r := <-reloads:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("no reload within 3s")
		return reload{}
	}
}

func expectNoReload(t *testing.T, reloads <-chan reload) {
	t.Helper()
	select {
	case r := <-reloads:
		t.Fatalf("unexpected reload to log_level=%q", r.next.Server.LogLevel)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	_, w, _ := watch(t)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() = nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if cfg.Audio.SilenceThresholdRMS != 200 {
		t.Errorf("silence_threshold_rms = %v, want 200", cfg.Audio.SilenceThresholdRMS)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()

	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Error("NewWatcher on a missing file succeeded")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, bad, "server:\n  log_level: bananas\n")
	if _, err := config.NewWatcher(bad, nil, config.WithLookup(noEnv)); err == nil {
		t.Error("NewWatcher on an invalid file succeeded")
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	t.Parallel()
	path, w, reloads := watch(t)

	writeFile(t, path, strings.Replace(watchedYAML, "log_level: info", "log_level: debug", 1))
	r := expectReload(t, reloads)

	if r.prev.Server.LogLevel != config.LogInfo || r.next.Server.LogLevel != config.LogDebug {
		t.Errorf("reload %q -> %q, want info -> debug", r.prev.Server.LogLevel, r.next.Server.LogLevel)
	}
	if w.Current() != r.next {
		t.Error("Current() does not return the reloaded config")
	}
}

func TestWatcher_ReloadsOnAtomicReplace(t *testing.T) {
	t.Parallel()
	path, _, reloads := watch(t)

	tmp := path + ".tmp"
	writeFile(t, tmp, strings.Replace(watchedYAML, "silence_threshold_rms: 200", "silence_threshold_rms: 350", 1))
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	r := expectReload(t, reloads)
	if r.next.Audio.SilenceThresholdRMS != 350 {
		t.Errorf("silence_threshold_rms = %v, want 350", r.next.Audio.SilenceThresholdRMS)
	}
}

func TestWatcher_InvalidFileKeepsCurrent(t *testing.T) {
	t.Parallel()
	path, w, reloads := watch(t)
	before := w.Current()

	writeFile(t, path, "server:\n  log_level: bananas\n")
	expectNoReload(t, reloads)

	if w.Current() != before {
		t.Error("invalid file replaced the current config")
	}
	if _, err := w.Reload(); err == nil {
		t.Error("Reload of an invalid file returned nil error")
	}
}

func TestWatcher_IgnoresUnchangedContent(t *testing.T) {
	t.Parallel()
	path, w, reloads := watch(t)

	now := time.Now().Add(time.Second)
	if err := os.Chtimes(path, now, now); err != nil {
		t.Fatal(err)
	}
	writeFile(t, path, watchedYAML)
	expectNoReload(t, reloads)

	changed, err := w.Reload()
	if err != nil || changed {
		t.Errorf("Reload = %v, %v; want false, nil", changed, err)
	}
}

func TestWatcher_IgnoresSiblingFiles(t *testing.T) {
	t.Parallel()
	path, _, reloads := watch(t)

	writeFile(t, filepath.Join(filepath.Dir(path), "other.yaml"), "server:\n  log_level: debug\n")
	expectNoReload(t, reloads)
}

func TestWatcher_ExplicitReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "phonebridge.yaml")
	writeFile(t, path, watchedYAML)
	var got *config.Config
	w, err := config.NewWatcher(path, func(_, next *config.Config) { got = next }, config.WithLookup(noEnv))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	writeFile(t, path, strings.Replace(watchedYAML, "log_level: info", "log_level: warn", 1))
	changed, err := w.Reload()
	if err != nil || !changed {
		t.Fatalf("Reload = %v, %v; want true, nil", changed, err)
	}
	if got == nil || got.Server.LogLevel != config.LogWarn {
		t.Errorf("callback config = %+v", got)
	}
}

func TestWatcher_AppliesEnvOverlay(t *testing.T) {
	t.Parallel()

	env := func(key string) (string, bool) {
		if key == config.EnvSarvamAPIKey {
			return "sk-sarvam", true
		}
		return "", false
	}
	_, w, _ := watch(t, config.WithLookup(env))

	cfg := w.Current()
	if cfg.Providers.STT.APIKey != "sk-sarvam" || cfg.Providers.TTS.APIKey != "sk-sarvam" {
		t.Errorf("sarvam keys not filled from env: stt=%q tts=%q", cfg.Providers.STT.APIKey, cfg.Providers.TTS.APIKey)
	}
	if cfg.Providers.LLM.APIKey != "" {
		t.Errorf("openai key filled from sarvam env: %q", cfg.Providers.LLM.APIKey)
	}
}
