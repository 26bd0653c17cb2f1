package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/murmurlabs/murmur-core/internal/config"
)

// Client implements the server transcription strategy: one chunk, one
// multipart POST, one JSON response.
type Client struct {
	endpoint   string
	language   string
	sampleRate int
	http       *http.Client
	log        *slog.Logger
}

func NewClient(cfg config.TranscriptionConfig, log *slog.Logger) *Client {
	timeout := time.Duration(cfg.RequestTimeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	language := cfg.Language
	if language == "" {
		language = "en-US"
	}
	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	return &Client{
		endpoint:   cfg.ServerEndpoint,
		language:   language,
		sampleRate: sampleRate,
		http:       &http.Client{Timeout: timeout},
		log:        log.With(slog.String("component", "transcribe-client")),
	}
}

type wireTranscription struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	NoiseLevel string  `json:"noise_level"`
}

type wireResponse struct {
	Success         bool              `json:"success"`
	Transcription   wireTranscription `json:"transcription"`
	CommandType     string            `json:"command_type"`
	HasWakeWord     bool              `json:"has_wake_word"`
	VoiceFeedback   string            `json:"voice_feedback"`
	ExecutionResult map[string]any    `json:"execution_result"`
	Error           string            `json:"error"`
}

// Transcribe uploads one chunk and decodes the backend verdict. Any
// transport problem or success=false response maps onto ErrTransport.
func (c *Client) Transcribe(ctx context.Context, chunk Chunk) (Result, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("audio", "chunk.wav")
	if err != nil {
		return Result{}, fmt.Errorf("create audio form part: %w", err)
	}
	if _, err := part.Write(chunk.WAV); err != nil {
		return Result{}, fmt.Errorf("write audio form part: %w", err)
	}
	if err := writer.WriteField("language_code", c.language); err != nil {
		return Result{}, fmt.Errorf("write language_code field: %w", err)
	}
	if err := writer.WriteField("sample_rate", strconv.Itoa(c.sampleRate)); err != nil {
		return Result{}, fmt.Errorf("write sample_rate field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Result{}, fmt.Errorf("finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return Result{}, fmt.Errorf("build transcription request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("%w: endpoint returned %d: %s", ErrTransport, resp.StatusCode, bytes.TrimSpace(payload))
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return Result{}, fmt.Errorf("%w: decode response: %w", ErrTransport, err)
	}
	if !wire.Success {
		detail := wire.Error
		if detail == "" {
			detail = "backend reported failure"
		}
		return Result{}, fmt.Errorf("%w: %s", ErrTransport, detail)
	}

	c.log.Debug("chunk transcribed",
		slog.Duration("round_trip", time.Since(started)),
		slog.Float64("confidence", wire.Transcription.Confidence))

	return Result{
		Transcript:      wire.Transcription.Transcript,
		Confidence:      clamp(wire.Transcription.Confidence),
		NoiseLevel:      NormalizeNoise(wire.Transcription.NoiseLevel),
		CommandType:     wire.CommandType,
		HasWakeWord:     wire.HasWakeWord,
		VoiceFeedback:   wire.VoiceFeedback,
		ExecutionResult: wire.ExecutionResult,
	}, nil
}
