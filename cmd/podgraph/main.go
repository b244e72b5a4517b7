// Command podgraph runs one episode through the transcript-to-knowledge-graph
// pipeline: WebVTT parsing, speaker identification, conversation analysis,
// meaningful-unit construction, bounded-concurrency knowledge extraction,
// entity resolution, and a transactional write into the graph store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/podgraph/internal/checkpoint"
	"github.com/MrWong99/podgraph/internal/config"
	"github.com/MrWong99/podgraph/internal/convanalysis"
	"github.com/MrWong99/podgraph/internal/extraction"
	"github.com/MrWong99/podgraph/internal/graphstore/pgstore"
	"github.com/MrWong99/podgraph/internal/observe"
	"github.com/MrWong99/podgraph/internal/orchestrator"
	"github.com/MrWong99/podgraph/internal/quota"
	"github.com/MrWong99/podgraph/internal/speaker"
	"github.com/MrWong99/podgraph/internal/unitbuilder"
	"github.com/MrWong99/podgraph/pkg/embedclient"
	"github.com/MrWong99/podgraph/pkg/embedclient/mock"
	embedopenai "github.com/MrWong99/podgraph/pkg/embedclient/openai"
	"github.com/MrWong99/podgraph/pkg/llmclient"
	"github.com/MrWong99/podgraph/pkg/llmclient/anyllm"
	"github.com/MrWong99/podgraph/pkg/model"
	"github.com/MrWong99/podgraph/pkg/vttparse/webvtt"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	episodePath := flag.String("episode", "", "path to a YAML file describing the episode to process (required)")
	flag.Parse()

	if *episodePath == "" {
		fmt.Fprintln(os.Stderr, "podgraph: -episode is required")
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "podgraph: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "podgraph: %v\n", err)
		}
		return 1
	}

	episode, err := loadEpisode(*episodePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "podgraph: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("podgraph starting", "config", *configPath, "episode", *episodePath, "vtt_filename", episode.VTTFilename)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "podgraph"})
	if err != nil {
		slog.Error("failed to initialize telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Error("telemetry shutdown error", "err", err)
		}
	}()

	orc, closeStore, err := buildOrchestrator(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to wire pipeline", "err", err)
		return 1
	}
	defer closeStore()

	result, err := orc.ProcessEpisode(ctx, episode)
	logResult(result)
	if err != nil {
		slog.Error("episode processing failed", "err", err)
		return 1
	}
	return 0
}

// loadEpisode decodes a model.Episode from a YAML file. Episode carries yaml
// tags for exactly this purpose — it is both the pipeline's internal episode
// record and its CLI input shape.
func loadEpisode(path string) (model.Episode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Episode{}, fmt.Errorf("read episode file %q: %w", path, err)
	}
	var episode model.Episode
	if err := yaml.Unmarshal(data, &episode); err != nil {
		return model.Episode{}, fmt.Errorf("parse episode file %q: %w", path, err)
	}
	if episode.VTTFilename == "" {
		return model.Episode{}, fmt.Errorf("episode file %q: vtt_filename is required", path)
	}
	return episode, nil
}

// buildOrchestrator wires every collaborator named in cfg into an
// orchestrator.Orchestrator. The returned close func releases the graph
// store's connection pool and must be called once processing is done.
func buildOrchestrator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*orchestrator.Orchestrator, func(), error) {
	llmCfg := cfg.LLM
	if llmCfg.UsePaidKeyOnly {
		paid := make([]config.KeyEntry, 0, len(llmCfg.Keys))
		for _, k := range llmCfg.Keys {
			if k.IsPaidTier {
				paid = append(paid, k)
			}
		}
		llmCfg.Keys = paid
	}

	llmProviders, err := buildLLMProviders(llmCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("build llm providers: %w", err)
	}

	quotaKeys := make([]quota.KeyConfig, len(llmCfg.Keys))
	for i, k := range llmCfg.Keys {
		quotaKeys[i] = quota.KeyConfig{APIKey: k.APIKey, IsPaidTier: k.IsPaidTier}
	}

	manager, err := quota.New(quota.Config{
		Keys:          quotaKeys,
		RPM:           cfg.LLM.RPM,
		RPD:           cfg.LLM.RPD,
		TPD:           cfg.LLM.TPD,
		Rotation:      quota.Rotation(cfg.LLM.Rotation),
		RetryAttempts: cfg.LLM.RetryAttempts,
		UsageFilePath: cfg.LLM.UsageFilePath,
	}, llmProviders, quota.WithLogger(logger))
	if err != nil {
		return nil, nil, fmt.Errorf("build quota manager: %w", err)
	}

	embedProvider, err := buildEmbedProvider(cfg.Embeddings)
	if err != nil {
		return nil, nil, fmt.Errorf("build embeddings provider: %w", err)
	}

	checkpointDir := cfg.Checkpoint.Dir
	if checkpointDir == "" {
		checkpointDir = "./checkpoints"
	}
	checkpoints, err := checkpoint.NewStore(checkpointDir,
		checkpoint.WithCompression(cfg.Checkpoint.Compress),
		checkpoint.WithLogger(logger),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("build checkpoint store: %w", err)
	}

	store, err := pgstore.NewStore(ctx, cfg.GraphStore.PostgresDSN, cfg.Embeddings.Dimensions, pgstore.WithLogger(logger))
	if err != nil {
		return nil, nil, fmt.Errorf("connect graph store: %w", err)
	}

	deps := orchestrator.Dependencies{
		Parser: webvtt.New(webvtt.WithLogger(logger)),
		Speakers: speaker.New(speaker.Config{
			MaxWindowSegments: cfg.Speakers.MaxWindowSegments,
			MinConfidence:     cfg.Speakers.MinConfidence,
		}, manager, speaker.WithLogger(logger)),
		Conversations: convanalysis.New(convanalysis.Config{}, manager, convanalysis.WithLogger(logger)),
		Units:         unitbuilder.New(embedProvider, unitbuilder.WithLogger(logger)),
		Extractor: extraction.New(extraction.Config{
			MaxConcurrentUnits: cfg.Extraction.MaxConcurrentUnits,
			UnitTimeout:        cfg.Extraction.UnitTimeout,
			MaxFailureRate:     cfg.Extraction.MaxFailureRate,
		}, manager, extraction.WithLogger(logger)),
		Writer:      store,
		Checkpoints: checkpoints,
		Metrics:     observe.DefaultMetrics(),
	}

	orc := orchestrator.New(orchestrator.Config{
		DisableCheckpoints:     cfg.Checkpoint.Disabled,
		EnableSpeakerMapping:   cfg.Speakers.EnablePostProcessMapping,
		EmbeddingFailureLogDir: cfg.Embeddings.FailureLogDir,
	}, deps, orchestrator.WithLogger(logger))

	return orc, func() { store.Close() }, nil
}

func buildLLMProviders(cfg config.LLMConfig) ([]llmclient.Provider, error) {
	providers := make([]llmclient.Provider, len(cfg.Keys))
	for i, key := range cfg.Keys {
		p, err := anyllm.New(cfg.Provider, cfg.Model, anyllmlib.WithAPIKey(key.APIKey))
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		providers[i] = p
	}
	return providers, nil
}

func buildEmbedProvider(cfg config.EmbeddingsConfig) (embedclient.Provider, error) {
	switch cfg.Provider {
	case "", "mock":
		dims := cfg.Dimensions
		if dims <= 0 {
			dims = 1536
		}
		return &mock.Provider{DimensionsValue: dims, ModelIDValue: "mock-embed"}, nil
	case "openai":
		return embedopenai.New(cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Provider)
	}
}

func logResult(result *model.PipelineResult) {
	if result == nil {
		return
	}
	slog.Info("episode processed",
		"episode_id", result.EpisodeID,
		"status", result.Status,
		"total_time", result.TotalTime,
		"phases_completed", len(result.PhasesCompleted),
		"entities_extracted", result.Stats.EntitiesExtracted,
		"quotes_extracted", result.Stats.QuotesExtracted,
		"insights_extracted", result.Stats.InsightsExtracted,
		"relationships_extracted", result.Stats.RelationshipsExtracted,
	)
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
