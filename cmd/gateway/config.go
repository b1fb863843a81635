package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hubenschmidt/lingofit-audio/gateway/internal/env"
	"github.com/hubenschmidt/lingofit-audio/gateway/internal/orchestrator"
	"github.com/hubenschmidt/lingofit-audio/gateway/internal/pipeline"
	"github.com/hubenschmidt/lingofit-audio/gateway/internal/sqlstore"
)

type config struct {
	port     string
	logLevel slog.Level

	dbDriver string
	dbURL    string

	voicesFile string

	openaiAPIKey  string
	openaiBaseURL string
	scriptModel   string
	vocabModel    string
	judgeModel    string
	scriptCfg     pipeline.ScriptConfig

	ttsEngine         string
	elevenlabsAPIKey  string
	elevenlabsModelID string
	elevenlabsURL     string
	ttsPoolSize       int
	synthWorkers      int

	blobBackend  string
	gcsBucket    string
	gcsCDNDomain string
	blobDir      string
	blobBaseURL  string

	jwtSecret string

	redisAddr         string
	enrichConcurrency int
	enrichTimeout     time.Duration

	levelEvaluator string

	deadlines orchestrator.Deadlines

	maxConcurrentSessions int
	wsHandshakeTimeout    time.Duration

	traceEnabled bool
}

func loadConfig() config {
	def := pipeline.DefaultScriptConfig()
	dl := orchestrator.DefaultDeadlines()

	return config{
		port:     env.Str("GATEWAY_PORT", "8000"),
		logLevel: parseLogLevel(env.Str("LOG_LEVEL", "info")),

		dbDriver: env.Str("DATABASE_DRIVER", sqlstore.SQLite),
		dbURL:    env.Str("DATABASE_URL", "lingofit.db"),

		voicesFile: env.Str("VOICES_FILE", "config/voices.json"),

		openaiAPIKey:  env.Str("OPENAI_API_KEY", ""),
		openaiBaseURL: env.Str("OPENAI_BASE_URL", ""),
		scriptModel:   env.Str("SCRIPT_MODEL", "gpt-4o"),
		vocabModel:    env.Str("VOCAB_MODEL", "gpt-4o-mini"),
		judgeModel:    env.Str("LEVEL_MODEL", "gpt-4o-mini"),
		scriptCfg: pipeline.ScriptConfig{
			MinWords:    env.Int("SCRIPT_MIN_WORDS", def.MinWords),
			TargetWords: env.Int("SCRIPT_TARGET_WORDS", def.TargetWords),
			MaxAttempts: env.Int("SCRIPT_MAX_ATTEMPTS", def.MaxAttempts),
		},

		ttsEngine:         env.Str("TTS_ENGINE", "elevenlabs"),
		elevenlabsAPIKey:  env.Str("ELEVENLABS_API_KEY", ""),
		elevenlabsModelID: env.Str("ELEVENLABS_MODEL_ID", "eleven_multilingual_v2"),
		elevenlabsURL:     env.Str("ELEVENLABS_URL", ""),
		ttsPoolSize:       env.Int("TTS_POOL_SIZE", 50),
		synthWorkers:      env.Int("SYNTH_WORKERS", 8),

		blobBackend:  env.Str("BLOB_BACKEND", "file"),
		gcsBucket:    env.Str("GCS_BUCKET", ""),
		gcsCDNDomain: env.Str("GCS_CDN_DOMAIN", ""),
		blobDir:      env.Str("BLOB_DIR", "media"),
		blobBaseURL:  env.Str("BLOB_BASE_URL", "http://localhost:8000/media"),

		jwtSecret: env.Str("JWT_SECRET", ""),

		redisAddr:         env.Str("REDIS_ADDR", ""),
		enrichConcurrency: env.Int("ENRICH_CONCURRENCY", 8),
		enrichTimeout:     env.Duration("ENRICH_TIMEOUT", 2*time.Minute),

		levelEvaluator: env.Str("LEVEL_EVALUATOR", "heuristic"),

		deadlines: orchestrator.Deadlines{
			Script:    env.Duration("SCRIPT_TIMEOUT", dl.Script),
			Synthesis: env.Duration("SYNTH_TIMEOUT", dl.Synthesis),
			Upload:    env.Duration("UPLOAD_TIMEOUT", dl.Upload),
			Store:     env.Duration("STORE_TIMEOUT", dl.Store),
		},

		maxConcurrentSessions: env.Int("MAX_CONCURRENT_SESSIONS", 100),
		wsHandshakeTimeout:    env.Duration("WS_HANDSHAKE_TIMEOUT", 30*time.Second),

		traceEnabled: env.Bool("TRACE_ENABLED", true),
	}
}

// validate reports settings the gateway cannot start without.
func (c config) validate() error {
	var errs []error
	if c.openaiAPIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	if c.jwtSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.ttsEngine == "elevenlabs" && c.elevenlabsAPIKey == "" {
		errs = append(errs, errors.New("ELEVENLABS_API_KEY is required when TTS_ENGINE=elevenlabs"))
	}
	switch c.ttsEngine {
	case "elevenlabs", "local":
	default:
		errs = append(errs, fmt.Errorf("unknown TTS_ENGINE %q", c.ttsEngine))
	}
	switch c.blobBackend {
	case "gcs":
		if c.gcsBucket == "" {
			errs = append(errs, errors.New("GCS_BUCKET is required when BLOB_BACKEND=gcs"))
		}
	case "file":
	default:
		errs = append(errs, fmt.Errorf("unknown BLOB_BACKEND %q", c.blobBackend))
	}
	switch c.dbDriver {
	case sqlstore.Postgres, sqlstore.SQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown DATABASE_DRIVER %q", c.dbDriver))
	}
	switch c.levelEvaluator {
	case "heuristic", "llm":
	default:
		errs = append(errs, fmt.Errorf("unknown LEVEL_EVALUATOR %q", c.levelEvaluator))
	}
	return errors.Join(errs...)
}

func parseLogLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
