package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName   string              `yaml:"runtime_name"`
	Environment   string              `yaml:"environment"`
	HTTP          HTTPConfig          `yaml:"http"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Bus           BusConfig           `yaml:"bus"`
	EventLog      EventLogConfig      `yaml:"event_log"`
	Capture       CaptureConfig       `yaml:"capture"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Session       SessionConfig       `yaml:"session"`
	TTS           TTSConfig           `yaml:"tts"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventLogConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type CaptureConfig struct {
	Command      string `yaml:"command"`
	InputFormat  string `yaml:"input_format"`
	InputDevice  string `yaml:"input_device"`
	SampleRate   int    `yaml:"sample_rate"`
	Channels     int    `yaml:"channels"`
	LevelEveryMS int    `yaml:"level_every_ms"`
}

type TranscriptionConfig struct {
	UseServer        bool   `yaml:"use_server"`
	ServerEndpoint   string `yaml:"server_endpoint"`
	WakeWordEndpoint string `yaml:"wake_word_endpoint"` // reserved, not consulted by any transition
	Language         string `yaml:"language"`
	SampleRate       int    `yaml:"sample_rate"`
	EngineMode       string `yaml:"engine_mode"` // off, exec, mock
	EngineCommand    string `yaml:"engine_command"`
	RequestTimeout   int    `yaml:"request_timeout_ms"`
}

type SessionConfig struct {
	AutoStart            bool    `yaml:"auto_start"`
	Continuous           bool    `yaml:"continuous"`
	WakeWordRequired     bool    `yaml:"wake_word_required"` // reserved, not consulted by any transition
	ChunkWindowMS        int     `yaml:"chunk_window_ms"`
	RestartDelayMS       int     `yaml:"restart_delay_ms"`
	AutoAcceptConfidence float64 `yaml:"auto_accept_confidence"`
	ConfirmConfidence    float64 `yaml:"confirm_confidence"`
}

type TTSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Mode       string `yaml:"mode"` // mock, exec
	Command    string `yaml:"command"`
	Voice      string `yaml:"voice"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

func Default() Config {
	return Config{
		RuntimeName: "murmur-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8090,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9092",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventLog: EventLogConfig{
			Path:          "./data/murmur-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Capture: CaptureConfig{
			Command:      "ffmpeg",
			InputFormat:  "pulse",
			InputDevice:  "default",
			SampleRate:   48000,
			Channels:     1,
			LevelEveryMS: 50,
		},
		Transcription: TranscriptionConfig{
			UseServer:      true,
			ServerEndpoint: "http://localhost:8080/api/voice/transcribe",
			Language:       "en-US",
			SampleRate:     48000,
			EngineMode:     "off",
			RequestTimeout: 15000,
		},
		Session: SessionConfig{
			AutoStart:            false,
			Continuous:           true,
			ChunkWindowMS:        5000,
			RestartDelayMS:       500,
			AutoAcceptConfidence: 0.8,
			ConfirmConfidence:    0.5,
		},
		TTS: TTSConfig{
			Enabled:    false,
			Mode:       "mock",
			Voice:      "en-US",
			SampleRate: 22050,
			Channels:   1,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "MURMUR_RUNTIME_NAME")
	overrideString(&cfg.Environment, "MURMUR_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "MURMUR_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "MURMUR_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "MURMUR_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "MURMUR_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "MURMUR_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "MURMUR_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "MURMUR_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "MURMUR_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "MURMUR_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "MURMUR_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "MURMUR_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "MURMUR_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "MURMUR_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "MURMUR_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "MURMUR_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "MURMUR_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventLog.Path, "MURMUR_EVENT_LOG_PATH")
	overrideString(&cfg.EventLog.RetentionMode, "MURMUR_EVENT_LOG_RETENTION_MODE")
	overrideInt(&cfg.EventLog.RetentionDays, "MURMUR_EVENT_LOG_RETENTION_DAYS")
	overrideInt(&cfg.EventLog.MaxSessions, "MURMUR_EVENT_LOG_MAX_SESSIONS")
	overrideBool(&cfg.EventLog.VacuumOnStart, "MURMUR_EVENT_LOG_VACUUM_ON_START")
	overrideString(&cfg.Capture.Command, "MURMUR_CAPTURE_COMMAND")
	overrideString(&cfg.Capture.InputFormat, "MURMUR_CAPTURE_INPUT_FORMAT")
	overrideString(&cfg.Capture.InputDevice, "MURMUR_CAPTURE_INPUT_DEVICE")
	overrideInt(&cfg.Capture.SampleRate, "MURMUR_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.Channels, "MURMUR_CAPTURE_CHANNELS")
	overrideInt(&cfg.Capture.LevelEveryMS, "MURMUR_CAPTURE_LEVEL_EVERY_MS")
	overrideBool(&cfg.Transcription.UseServer, "MURMUR_TRANSCRIPTION_USE_SERVER")
	overrideString(&cfg.Transcription.ServerEndpoint, "MURMUR_TRANSCRIPTION_SERVER_ENDPOINT")
	overrideString(&cfg.Transcription.WakeWordEndpoint, "MURMUR_TRANSCRIPTION_WAKE_WORD_ENDPOINT")
	overrideString(&cfg.Transcription.Language, "MURMUR_TRANSCRIPTION_LANGUAGE")
	overrideInt(&cfg.Transcription.SampleRate, "MURMUR_TRANSCRIPTION_SAMPLE_RATE")
	overrideString(&cfg.Transcription.EngineMode, "MURMUR_TRANSCRIPTION_ENGINE_MODE")
	overrideString(&cfg.Transcription.EngineCommand, "MURMUR_TRANSCRIPTION_ENGINE_COMMAND")
	overrideInt(&cfg.Transcription.RequestTimeout, "MURMUR_TRANSCRIPTION_REQUEST_TIMEOUT_MS")
	overrideBool(&cfg.Session.AutoStart, "MURMUR_SESSION_AUTO_START")
	overrideBool(&cfg.Session.Continuous, "MURMUR_SESSION_CONTINUOUS")
	overrideBool(&cfg.Session.WakeWordRequired, "MURMUR_SESSION_WAKE_WORD_REQUIRED")
	overrideInt(&cfg.Session.ChunkWindowMS, "MURMUR_SESSION_CHUNK_WINDOW_MS")
	overrideInt(&cfg.Session.RestartDelayMS, "MURMUR_SESSION_RESTART_DELAY_MS")
	overrideFloat(&cfg.Session.AutoAcceptConfidence, "MURMUR_SESSION_AUTO_ACCEPT_CONFIDENCE")
	overrideFloat(&cfg.Session.ConfirmConfidence, "MURMUR_SESSION_CONFIRM_CONFIDENCE")
	overrideBool(&cfg.TTS.Enabled, "MURMUR_TTS_ENABLED")
	overrideString(&cfg.TTS.Mode, "MURMUR_TTS_MODE")
	overrideString(&cfg.TTS.Command, "MURMUR_TTS_COMMAND")
	overrideString(&cfg.TTS.Voice, "MURMUR_TTS_VOICE")
	overrideInt(&cfg.TTS.SampleRate, "MURMUR_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "MURMUR_TTS_CHANNELS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventLog.Path == "" {
		return errors.New("event_log.path must not be empty")
	}
	switch cfg.EventLog.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_log.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventLog.RetentionDays < 0 {
		return errors.New("event_log.retention_days must be >= 0")
	}
	if cfg.Capture.Command == "" {
		return errors.New("capture.command must not be empty")
	}
	if cfg.Capture.SampleRate <= 0 {
		return errors.New("capture.sample_rate must be positive")
	}
	if cfg.Capture.Channels <= 0 {
		return errors.New("capture.channels must be positive")
	}
	if cfg.Transcription.UseServer && cfg.Transcription.ServerEndpoint == "" {
		return errors.New("transcription.server_endpoint must be set when use_server is enabled")
	}
	switch cfg.Transcription.EngineMode {
	case "off", "exec", "mock":
	default:
		return errors.New("transcription.engine_mode must be one of off|exec|mock")
	}
	if cfg.Transcription.EngineMode == "exec" && cfg.Transcription.EngineCommand == "" {
		return errors.New("transcription.engine_command must be set when engine_mode=exec")
	}
	if cfg.Transcription.Language == "" {
		return errors.New("transcription.language must not be empty")
	}
	if cfg.Session.ChunkWindowMS <= 0 {
		return errors.New("session.chunk_window_ms must be positive")
	}
	if cfg.Session.RestartDelayMS < 0 {
		return errors.New("session.restart_delay_ms must be >= 0")
	}
	if cfg.Session.AutoAcceptConfidence < 0 || cfg.Session.AutoAcceptConfidence > 1 {
		return errors.New("session.auto_accept_confidence must be within [0,1]")
	}
	if cfg.Session.ConfirmConfidence < 0 || cfg.Session.ConfirmConfidence > cfg.Session.AutoAcceptConfidence {
		return errors.New("session.confirm_confidence must be within [0, auto_accept_confidence]")
	}
	if cfg.TTS.Enabled {
		switch cfg.TTS.Mode {
		case "mock", "exec":
		default:
			return errors.New("tts.mode must be one of mock|exec")
		}
		if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
		if cfg.TTS.SampleRate <= 0 {
			return errors.New("tts.sample_rate must be positive")
		}
	}
	return nil
}
