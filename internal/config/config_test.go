package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Transcription.UseServer {
		t.Fatal("expected server transcription by default")
	}
	if cfg.Transcription.Language != "en-US" {
		t.Fatalf("expected default language en-US, got %q", cfg.Transcription.Language)
	}
	if cfg.Session.ChunkWindowMS != 5000 {
		t.Fatalf("expected default chunk window 5000, got %d", cfg.Session.ChunkWindowMS)
	}
	if cfg.Session.RestartDelayMS != 500 {
		t.Fatalf("expected default restart delay 500, got %d", cfg.Session.RestartDelayMS)
	}
	if cfg.Session.AutoAcceptConfidence != 0.8 || cfg.Session.ConfirmConfidence != 0.5 {
		t.Fatalf("unexpected default confidence thresholds: %v / %v",
			cfg.Session.AutoAcceptConfidence, cfg.Session.ConfirmConfidence)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MURMUR_TRANSCRIPTION_USE_SERVER", "false")
	t.Setenv("MURMUR_TRANSCRIPTION_ENGINE_MODE", "mock")
	t.Setenv("MURMUR_TRANSCRIPTION_LANGUAGE", "de-DE")
	t.Setenv("MURMUR_TRANSCRIPTION_SAMPLE_RATE", "16000")
	t.Setenv("MURMUR_SESSION_CONTINUOUS", "false")
	t.Setenv("MURMUR_SESSION_CHUNK_WINDOW_MS", "2500")
	t.Setenv("MURMUR_SESSION_AUTO_ACCEPT_CONFIDENCE", "0.9")
	t.Setenv("MURMUR_SESSION_CONFIRM_CONFIDENCE", "0.6")
	t.Setenv("MURMUR_CAPTURE_INPUT_DEVICE", "hw:1")
	t.Setenv("MURMUR_BUS_SERVERS", "nats://one:4222, nats://two:4222")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Transcription.UseServer {
		t.Fatal("expected use_server override false")
	}
	if cfg.Transcription.EngineMode != "mock" {
		t.Fatalf("expected engine mode override, got %q", cfg.Transcription.EngineMode)
	}
	if cfg.Transcription.Language != "de-DE" {
		t.Fatalf("expected language override, got %q", cfg.Transcription.Language)
	}
	if cfg.Transcription.SampleRate != 16000 {
		t.Fatalf("expected sample rate override, got %d", cfg.Transcription.SampleRate)
	}
	if cfg.Session.Continuous {
		t.Fatal("expected continuous override false")
	}
	if cfg.Session.ChunkWindowMS != 2500 {
		t.Fatalf("expected chunk window override, got %d", cfg.Session.ChunkWindowMS)
	}
	if cfg.Session.AutoAcceptConfidence != 0.9 || cfg.Session.ConfirmConfidence != 0.6 {
		t.Fatalf("expected threshold overrides, got %v / %v",
			cfg.Session.AutoAcceptConfidence, cfg.Session.ConfirmConfidence)
	}
	if cfg.Capture.InputDevice != "hw:1" {
		t.Fatalf("expected capture device override, got %q", cfg.Capture.InputDevice)
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	t.Setenv("MURMUR_SESSION_CONFIRM_CONFIDENCE", "0.95")

	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error when confirm threshold exceeds auto-accept threshold")
	}
}

func TestValidateRejectsExecEngineWithoutCommand(t *testing.T) {
	t.Setenv("MURMUR_TRANSCRIPTION_ENGINE_MODE", "exec")

	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error when engine_mode=exec without engine_command")
	}
}
