package ingest

import (
	"time"

	"go.uber.org/zap"

	"github.com/cognicore/larder/pkg/larder/config"
	"github.com/cognicore/larder/pkg/larder/pipeline"
	"github.com/cognicore/larder/pkg/larder/source"
)

// Options tunes the stages of the canned pipelines.
type Options struct {
	// Stage is applied to every stage.
	Stage []pipeline.StageOption
	// FetchAttempts and FetchBackoff control item retry of transient
	// failures in the loading stage.
	FetchAttempts int
	FetchBackoff  time.Duration
	Logger        *zap.Logger
}

// OptionsFromConfig maps pipeline settings onto stage options.
func OptionsFromConfig(cfg config.PipelineConfig, logger *zap.Logger) Options {
	return Options{
		Stage: []pipeline.StageOption{
			pipeline.WithQueueSize(cfg.QueueSize),
			pipeline.WithPollTimeout(cfg.PollTimeout),
			pipeline.WithMaxIdleRetries(cfg.MaxIdleRetries),
			pipeline.WithIdleBackoff(cfg.IdleBackoff),
		},
		FetchAttempts: cfg.ItemAttempts,
		FetchBackoff:  cfg.ItemBackoff,
		Logger:        logger,
	}
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o Options) stage(extra ...pipeline.StageOption) []pipeline.StageOption {
	out := make([]pipeline.StageOption, 0, len(o.Stage)+len(extra))
	out = append(out, o.Stage...)
	return append(out, extra...)
}

func (o Options) loader() []pipeline.StageOption {
	if o.FetchAttempts <= 1 {
		return o.stage()
	}
	return o.stage(pipeline.WithItemRetry(o.FetchAttempts, o.FetchBackoff))
}

// NewHTMLPipeline builds fetch → archive → extract over web pages. Items fed
// are URLs. A nil raw store leaves out the archive stage.
func NewHTMLPipeline(web source.Fetcher, raw RawStore, ex *Extractor, opts Options) *pipeline.Pipeline {
	logger := opts.logger()
	p := pipeline.New(pipeline.WithLogger(logger))
	p.AddStage(pipeline.NewStage("fetch", FetchStage(web), opts.loader()...))
	if raw != nil {
		p.AddStage(pipeline.NewStage("archive", ArchiveStage(raw, logger.Named("archive")), opts.stage()...))
	}
	p.AddStage(pipeline.NewStage("extract", ex.Process, opts.stage()...))
	return p
}

// NewJSONPipeline builds load → extract over recipe JSON dumps. Items fed are
// file paths.
func NewJSONPipeline(files source.Fetcher, ex *Extractor, opts Options) *pipeline.Pipeline {
	p := pipeline.New(pipeline.WithLogger(opts.logger()))
	p.AddStage(pipeline.NewStage("load", FetchStage(files), opts.loader()...))
	p.AddStage(pipeline.NewStage("extract", ex.Process, opts.stage()...))
	return p
}

// NewReplayPipeline re-extracts archived documents without fetching them
// again. Items fed are archived references.
func NewReplayPipeline(raw source.RawArchive, ex *Extractor, opts Options) *pipeline.Pipeline {
	p := pipeline.New(pipeline.WithLogger(opts.logger()))
	p.AddStage(pipeline.NewStage("replay", FetchStage(source.NewArchive(raw)), opts.stage()...))
	p.AddStage(pipeline.NewStage("extract", ex.Process, opts.stage()...))
	return p
}
