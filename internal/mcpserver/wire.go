package mcpserver

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/memoindex/memosearch/internal/caption"
	memoconfig "github.com/memoindex/memosearch/internal/config"
	"github.com/memoindex/memosearch/internal/embed"
	"github.com/memoindex/memosearch/internal/index"
	"github.com/memoindex/memosearch/internal/ingest"
	"github.com/memoindex/memosearch/internal/memo"
	"github.com/memoindex/memosearch/internal/search"
	"github.com/memoindex/memosearch/internal/source"
	"github.com/memoindex/memosearch/internal/store"
)

// Core bundles the wired retrieval-core singletons installed at startup,
// so cmd/memosearch's subcommands share one construction path regardless
// of which one they need.
type Core struct {
	Manager  *index.Manager
	Registry *search.Registry
	Pipeline *ingest.Pipeline
}

// BuildCore wires the vector stores, BM25 index, embedder, Index Manager,
// Retriever Registry, and Ingestion Pipeline from cfg. This is the
// composition root every cmd/memosearch subcommand calls into; handlers
// get their dependencies injected here rather than reaching for ambient
// singletons.
func BuildCore(ctx context.Context, cfg *memoconfig.Config, log *slog.Logger) (*Core, error) {
	if log == nil {
		log = slog.Default()
	}

	embedder, err := embed.NewEmbedder(ctx, embed.FactoryConfig{
		JinaAPIKey:     cfg.JinaAPIKey,
		JinaTextModel:  cfg.JinaTextModel,
		JinaImageModel: cfg.JinaImageModel,
	})
	if err != nil {
		return nil, err
	}

	vectors := store.NewHNSWVectorStore(cfg.IndexBaseDir)
	bm25, err := store.NewBleveBM25Index(cfg.IndexBaseDir + "/text/bm25")
	if err != nil {
		return nil, err
	}

	manager, err := index.NewManager(cfg.IndexBaseDir, vectors, bm25, embedder, log)
	if err != nil {
		return nil, err
	}

	registry := search.NewRegistry(log)
	search.RegisterDefaults(registry)

	buildCfg := memo.BuildConfig{
		MaxImages:            cfg.MaxImages,
		MaxAttachments:       cfg.MaxAttachments,
		AttachmentSnippetLen: cfg.AttachmentSnippetLen,
		AttachmentTextMaxLen: cfg.AttachmentTextMaxLen,
		MemosBaseURL:         cfg.MemosBaseURL,
		MemosSessionCookie:   cfg.MemosSessionCookie,
	}

	srcClient := source.NewClient(source.Config{
		BaseURL:       cfg.MemosBaseURL,
		SessionCookie: cfg.MemosSessionCookie,
	})

	// Caption generation is opt-in; when disabled, unconfigured, or
	// construction fails, memo.Build falls back to the filename caption
	// for every image. VisionProvider holds the caption endpoint's base
	// URL; local vision servers (no auth) are the expected deployment
	// shape here.
	var captioner memo.CaptionProvider
	if cfg.UseImageCaption && cfg.ImageCaptionModel != "" && cfg.VisionProvider != "" {
		provider, err := caption.NewProvider(caption.Config{
			BaseURL: cfg.VisionProvider,
			Model:   cfg.ImageCaptionModel,
		})
		if err != nil {
			log.Warn("mcpserver: caption provider unavailable, falling back to filename captions", slog.String("error", err.Error()))
		} else {
			captioner = provider
		}
	}

	pipeline := ingest.New(manager, srcClient, buildCfg, captioner, index.NewRebuildRegistry(), log)

	// Snapshot the effective configuration beside the index, so the
	// embedding models and limits an index was built with stay
	// inspectable. The previous snapshot is backed up first. Best-effort:
	// an unwritable snapshot never blocks startup.
	snapshot := filepath.Join(cfg.IndexBaseDir, "config.yaml")
	if _, err := memoconfig.BackupSnapshot(snapshot); err != nil {
		log.Warn("mcpserver: config snapshot backup failed", slog.String("error", err.Error()))
	} else if err := cfg.ExportYAML(snapshot); err != nil {
		log.Warn("mcpserver: config snapshot write failed", slog.String("error", err.Error()))
	}

	return &Core{Manager: manager, Registry: registry, Pipeline: pipeline}, nil
}
