package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/DeafMist/wiki-offline/internal/dump"
	"github.com/DeafMist/wiki-offline/internal/models"
	"github.com/DeafMist/wiki-offline/internal/processing"
)

const (
	defaultWorkers = 4
	defaultWindow  = 64
	progressEvery  = 10000
)

var errLimitReached = errors.New("article limit reached")

// Options configure a Pipeline run.
type Options struct {
	Policy Policy
	// Workers normalize pages in parallel.
	Workers int
	// Window bounds the pages in flight between the parser and the writer.
	Window       int
	MaxPageBytes int

	RunID      string
	Language   string
	SourceFile string

	Now func() time.Time
}

// Pipeline parses, normalizes and assembles one dump stream.
type Pipeline struct {
	sink   RecordSink
	opts   Options
	logger *slog.Logger
}

// NewPipeline creates a pipeline writing to sink.
func NewPipeline(sink RecordSink, opts Options, logger *slog.Logger) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.Window <= 0 {
		opts.Window = defaultWindow
	}
	if opts.Window < opts.Workers {
		opts.Window = opts.Workers
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{sink: sink, opts: opts, logger: logger}
}

// job carries one page through the pipeline. done is closed once result or
// pageErr is final.
type job struct {
	page    *models.RawPage
	pageErr error
	result  processing.Result
	done    chan struct{}
}

// Run consumes src until the end of the stream, a fatal error or ctx is
// cancelled. The returned stats are always populated; on error Complete is
// false and AbortReason holds the cause. Records accepted before an abort
// are flushed so the log stays a valid prefix.
func (p *Pipeline) Run(ctx context.Context, src io.Reader) (models.ExtractionStats, error) {
	asm := NewAssembler(p.opts.Policy, p.sink, p.opts.Now)
	parser := dump.NewParser(src, dump.Options{MaxPageBytes: p.opts.MaxPageBytes})

	ordered := make(chan *job, p.opts.Window)
	work := make(chan *job, p.opts.Window)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(ordered)
		defer close(work)
		return p.parse(gctx, parser, ordered, work)
	})

	for i := 0; i < p.opts.Workers; i++ {
		g.Go(func() error {
			for j := range work {
				j.result = processing.Normalize(j.page.Text)
				close(j.done)
			}
			return nil
		})
	}

	g.Go(func() error {
		return p.assemble(gctx, asm, ordered)
	})

	runErr := g.Wait()
	if errors.Is(runErr, errLimitReached) {
		runErr = nil
	}
	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}
	if err := p.sink.Flush(); err != nil && runErr == nil {
		runErr = &WriteFailureError{Err: err}
	}

	stats := asm.Finish(runErr)
	stats.RunID = p.opts.RunID
	stats.Language = p.opts.Language
	stats.SourceFile = p.opts.SourceFile

	if runErr != nil {
		p.logger.Error("ingest aborted", "error", runErr, "articles", stats.ArticlesExtracted)
		return stats, fmt.Errorf("ingest: %w", runErr)
	}
	p.logger.Info("ingest complete",
		"articles", stats.ArticlesExtracted,
		"skipped", stats.Skipped(),
		"duration_secs", stats.DurationSec,
		"articles_per_sec", stats.ArticlesPerSecond(),
	)
	return stats, nil
}

func (p *Pipeline) parse(ctx context.Context, parser *dump.Parser, ordered, work chan<- *job) error {
	for {
		page, err := parser.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}

		j := &job{page: page, done: make(chan struct{})}
		normalize := false
		var pageErr *dump.PageError
		switch {
		case errors.As(err, &pageErr):
			j.pageErr = err
			close(j.done)
		case err != nil:
			return err
		case Skippable(page):
			close(j.done)
		default:
			normalize = true
		}

		select {
		case ordered <- j:
		case <-ctx.Done():
			return ctx.Err()
		}
		if !normalize {
			continue
		}
		select {
		case work <- j:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Pipeline) assemble(ctx context.Context, asm *Assembler, ordered <-chan *job) error {
	for j := range ordered {
		select {
		case <-j.done:
		case <-ctx.Done():
			return ctx.Err()
		}

		if j.pageErr != nil {
			asm.PageFailed(j.pageErr)
			p.logger.Warn("page skipped", "error", j.pageErr)
			continue
		}

		decision, err := asm.Add(j.page, j.result)
		if err != nil {
			return err
		}
		if decision != DecisionKeep {
			p.logger.Debug("page dropped", "page_id", j.page.ID, "title", j.page.Title, "reason", decision.String())
			continue
		}

		kept := asm.Stats().ArticlesExtracted
		if kept%progressEvery == 0 {
			p.logger.Info("ingest progress", "articles", kept)
		}
		if asm.LimitReached() {
			return errLimitReached
		}
	}
	return nil
}
