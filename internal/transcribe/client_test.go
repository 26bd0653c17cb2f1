package transcribe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/murmurlabs/murmur-core/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testChunk(t *testing.T) Chunk {
	t.Helper()
	wav, err := EncodeWAV(make([]byte, 960), 48000, 1)
	if err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	return Chunk{WAV: wav, SampleRate: 48000, Channels: 1}
}

func TestClientTranscribeSuccess(t *testing.T) {
	t.Parallel()

	var gotLanguage, gotSampleRate string
	var gotAudioBytes int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotLanguage = r.FormValue("language_code")
		gotSampleRate = r.FormValue("sample_rate")
		file, _, err := r.FormFile("audio")
		if err != nil {
			t.Errorf("missing audio part: %v", err)
		} else {
			data, _ := io.ReadAll(file)
			gotAudioBytes = len(data)
			file.Close()
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"success": true,
			"transcription": {"transcript": "create work order for pump 3", "confidence": 0.92, "noise_level": "low"},
			"command_type": "create_work_order",
			"voice_feedback": "Creating work order",
			"execution_result": {"work_order_id": 42}
		}`)
	}))
	defer server.Close()

	client := NewClient(config.TranscriptionConfig{
		ServerEndpoint: server.URL,
		Language:       "en-US",
		SampleRate:     48000,
	}, testLogger())

	result, err := client.Transcribe(context.Background(), testChunk(t))
	if err != nil {
		t.Fatalf("transcribe failed: %v", err)
	}

	if gotLanguage != "en-US" {
		t.Fatalf("unexpected language_code: %q", gotLanguage)
	}
	if gotSampleRate != "48000" {
		t.Fatalf("unexpected sample_rate: %q", gotSampleRate)
	}
	if gotAudioBytes == 0 {
		t.Fatal("expected audio payload bytes")
	}
	if result.Transcript != "create work order for pump 3" {
		t.Fatalf("unexpected transcript: %q", result.Transcript)
	}
	if result.Confidence != 0.92 {
		t.Fatalf("unexpected confidence: %v", result.Confidence)
	}
	if result.NoiseLevel != NoiseLow {
		t.Fatalf("unexpected noise level: %q", result.NoiseLevel)
	}
	if result.CommandType != "create_work_order" {
		t.Fatalf("unexpected command type: %q", result.CommandType)
	}
	if result.ExecutionResult["work_order_id"] != float64(42) {
		t.Fatalf("unexpected execution result: %v", result.ExecutionResult)
	}
}

func TestClientTranscribeBackendFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"success": false, "error": "model unavailable"}`)
	}))
	defer server.Close()

	client := NewClient(config.TranscriptionConfig{ServerEndpoint: server.URL}, testLogger())

	_, err := client.Transcribe(context.Background(), testChunk(t))
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestClientTranscribeHTTPError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(config.TranscriptionConfig{ServerEndpoint: server.URL}, testLogger())

	_, err := client.Transcribe(context.Background(), testChunk(t))
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestClientTranscribeUnreachable(t *testing.T) {
	t.Parallel()

	client := NewClient(config.TranscriptionConfig{ServerEndpoint: "http://127.0.0.1:1/transcribe"}, testLogger())

	_, err := client.Transcribe(context.Background(), testChunk(t))
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestClientClampsConfidenceAndNoise(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"success": true, "transcription": {"transcript": "x", "confidence": 1.7, "noise_level": "deafening"}}`)
	}))
	defer server.Close()

	client := NewClient(config.TranscriptionConfig{ServerEndpoint: server.URL}, testLogger())

	result, err := client.Transcribe(context.Background(), testChunk(t))
	if err != nil {
		t.Fatalf("transcribe failed: %v", err)
	}
	if result.Confidence != 1 {
		t.Fatalf("expected clamped confidence 1, got %v", result.Confidence)
	}
	if result.NoiseLevel != NoiseUnknown {
		t.Fatalf("expected unknown noise level, got %q", result.NoiseLevel)
	}
}
