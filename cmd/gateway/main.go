package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hubenschmidt/lingofit-audio/gateway/internal/auth"
	"github.com/hubenschmidt/lingofit-audio/gateway/internal/blob"
	"github.com/hubenschmidt/lingofit-audio/gateway/internal/content"
	"github.com/hubenschmidt/lingofit-audio/gateway/internal/level"
	"github.com/hubenschmidt/lingofit-audio/gateway/internal/orchestrator"
	"github.com/hubenschmidt/lingofit-audio/gateway/internal/pipeline"
	"github.com/hubenschmidt/lingofit-audio/gateway/internal/trace"
	"github.com/hubenschmidt/lingofit-audio/gateway/internal/voice"
	"github.com/hubenschmidt/lingofit-audio/gateway/internal/ws"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("load .env", "error", err)
	}
	cfg := loadConfig()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel})))

	if err := cfg.validate(); err != nil {
		fatal("invalid configuration", err)
	}

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()

	catalog, err := voice.LoadCatalog(cfg.voicesFile)
	if err != nil {
		fatal("load voice catalog", err)
	}
	slog.Info("voice catalog loaded", "path", cfg.voicesFile, "voices", catalog.Len())

	store, err := content.Open(initCtx, cfg.dbDriver, cfg.dbURL)
	if err != nil {
		fatal("open content store", err)
	}
	defer store.Close()

	verifier, err := auth.NewVerifier(cfg.jwtSecret)
	if err != nil {
		fatal("jwt verifier", err)
	}

	// LLM
	provider := pipeline.NewOpenAIProvider(cfg.openaiAPIKey, cfg.openaiBaseURL)
	scriptLLM := pipeline.NewAgentTextGenerator(provider, cfg.scriptModel, 2000, "script_llm")
	scripts := pipeline.NewScriptGenerator(scriptLLM, cfg.scriptCfg, slog.Default())

	var evaluator level.Evaluator = level.NewHeuristicEvaluator()
	if cfg.levelEvaluator == "llm" {
		judge := pipeline.NewAgentTextGenerator(provider, cfg.judgeModel, 400, "level_llm")
		evaluator = level.NewLLMEvaluator(judge, slog.Default())
	}
	levels := level.NewService(evaluator, store, slog.Default())

	// TTS
	ttsHTTP := pipeline.NewPooledHTTPClient(cfg.ttsPoolSize, cfg.deadlines.Synthesis)
	ttsBackends := map[string]pipeline.AlignedSynthesizer{
		"local": pipeline.NewLocalSynthesizer(),
	}
	if cfg.elevenlabsAPIKey != "" {
		ttsBackends["elevenlabs"] = pipeline.NewElevenLabsSynthesizer(cfg.elevenlabsAPIKey, cfg.elevenlabsModelID, cfg.elevenlabsURL, ttsHTTP)
	}
	synth := pipeline.NewSynthesizer(ttsBackends, cfg.ttsEngine, cfg.synthWorkers, slog.Default())

	// Blob storage
	var blobs blob.Store
	var media http.Handler
	switch cfg.blobBackend {
	case "gcs":
		gcs, err := blob.NewGCSStore(initCtx, cfg.gcsBucket, cfg.gcsCDNDomain)
		if err != nil {
			fatal("gcs client", err)
		}
		defer gcs.Close()
		blobs = gcs
		slog.Info("blob backend gcs", "bucket", cfg.gcsBucket, "cdn", cfg.gcsCDNDomain)
	default:
		fs, err := blob.NewFileStore(cfg.blobDir, cfg.blobBaseURL)
		if err != nil {
			fatal("file blob store", err)
		}
		blobs = fs
		media = fs.Handler()
		slog.Info("blob backend file", "dir", cfg.blobDir, "base_url", cfg.blobBaseURL)
	}

	// Enrichment
	var registry pipeline.Registry = pipeline.NewMemoryRegistry()
	if cfg.redisAddr != "" {
		rr, err := pipeline.NewRedisRegistry(initCtx, cfg.redisAddr, 0, slog.Default())
		if err != nil {
			fatal("redis registry", err)
		}
		defer rr.Close()
		registry = rr
		slog.Info("enrichment registry redis", "addr", cfg.redisAddr)
	}
	annotator := pipeline.NewOpenAIAnnotator(cfg.openaiAPIKey, cfg.openaiBaseURL, cfg.vocabModel)
	enricher := pipeline.NewEnricher(annotator, store, registry, pipeline.EnricherConfig{
		Concurrency:  cfg.enrichConcurrency,
		Timeout:      cfg.enrichTimeout,
		StoreTimeout: cfg.deadlines.Store,
	}, slog.Default())

	// Tracing
	var tracer *trace.Tracer
	var traces traceReader
	if cfg.traceEnabled {
		ts, err := trace.Open(initCtx, cfg.dbDriver, cfg.dbURL)
		if err != nil {
			slog.Warn("trace store unavailable, tracing disabled", "error", err)
		} else {
			defer ts.Close()
			tracer = trace.NewTracer(ts, slog.Default())
			traces = ts
		}
	}

	orch := orchestrator.New(orchestrator.Config{
		Scripts:   scripts,
		Voices:    catalog,
		Selector:  voice.NewSelector(nil),
		Store:     store,
		Enricher:  enricher,
		Synth:     synth,
		Blobs:     blobs,
		Tracer:    tracer,
		Deadlines: cfg.deadlines,
	}, slog.Default())

	handler := ws.NewHandler(ws.HandlerConfig{
		Verifier:         verifier,
		Profiles:         levels,
		Generator:        orch,
		MaxConcurrent:    cfg.maxConcurrentSessions,
		HandshakeTimeout: cfg.wsHandshakeTimeout,
		ProfileTimeout:   cfg.deadlines.Store,
		Log:              slog.Default(),
	})

	mux := http.NewServeMux()
	registerRoutes(mux, deps{
		lessons:   orch,
		store:     store,
		levels:    levels,
		verifier:  verifier,
		traces:    traces,
		wsHandler: handler,
		media:     media,
	})

	addr := ":" + cfg.port
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown", "error", err)
		}
	}()

	slog.Info("gateway starting",
		"addr", addr,
		"max_concurrent", cfg.maxConcurrentSessions,
		"tts_engine", cfg.ttsEngine,
		"tts_backends", synth.Engines(),
		"level_evaluator", cfg.levelEvaluator,
		"db_driver", cfg.dbDriver,
	)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fatal("server failed", err)
	}
	<-shutdownDone

	slog.Info("waiting for open sessions and enrichment")
	handler.Wait()
	enricher.Wait()
	tracer.Close()
	slog.Info("gateway stopped")
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
