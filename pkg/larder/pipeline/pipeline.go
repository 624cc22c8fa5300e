// Package pipeline chains concurrent stages through bounded queues.
//
// Each Stage runs in its own goroutine, consumes its input queue and pushes
// results to the next stage, blocking while that queue is full. Shutdown
// travels down the chain as a stop signal: Stop injects it at the head, and
// a stage that exits for any other reason forwards it as well.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cognicore/larder/pkg/larder/internalerr"
)

var (
	// ErrNoStages is returned when a pipeline without stages is fed or run.
	ErrNoStages = errors.New("pipeline has no stages")
	// ErrClosed is returned by Feed once the first stage has exited.
	ErrClosed = errors.New("pipeline closed")
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger handed to stages that have none of their own.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// Pipeline is an ordered chain of stages.
type Pipeline struct {
	stages []*Stage
	logger *zap.Logger
}

// New creates an empty pipeline.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddStage appends s and wires the previous stage's output to it.
func (p *Pipeline) AddStage(s *Stage) *Pipeline {
	if s.logger == nil {
		s.logger = p.logger.Named(s.name)
	}
	if n := len(p.stages); n > 0 {
		prev := p.stages[n-1]
		prev.next = s
		s.prev = prev
	}
	p.stages = append(p.stages, s)
	return p
}

// Stages returns the stages in processing order.
func (p *Pipeline) Stages() []*Stage {
	out := make([]*Stage, len(p.stages))
	copy(out, p.stages)
	return out
}

// Feed enqueues item on the first stage, blocking while its queue is full.
func (p *Pipeline) Feed(ctx context.Context, item any) error {
	if len(p.stages) == 0 {
		return ErrNoStages
	}
	if item == nil {
		return fmt.Errorf("feed nil item: %w", internalerr.ErrInvalidInput)
	}

	head := p.stages[0]
	if head.exited() {
		return ErrClosed
	}
	select {
	case head.in <- message{payload: item}:
		return nil
	case <-head.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts every stage and blocks until all of them have exited. It
// returns the first error a stage exited with.
func (p *Pipeline) Run(ctx context.Context) error {
	if len(p.stages) == 0 {
		return ErrNoStages
	}

	// A plain group: a failing stage must not cancel its siblings, they
	// drain through the stop signal instead.
	var g errgroup.Group
	for _, s := range p.stages {
		g.Go(func() error {
			return s.Run(ctx)
		})
	}
	err := g.Wait()

	for _, st := range p.Stats() {
		p.logger.Info("stage finished",
			zap.String("stage", st.Name),
			zap.Int64("received", st.Received),
			zap.Int64("emitted", st.Emitted),
			zap.Int64("skipped", st.Skipped),
			zap.Int64("failed", st.Failed))
	}
	return err
}

// Stop sends the stop signal down the chain and waits until every stage has
// exited. It does not start stages; Run must be running or called later.
func (p *Pipeline) Stop(ctx context.Context) error {
	if len(p.stages) == 0 {
		return ErrNoStages
	}

	head := p.stages[0]
	select {
	case head.in <- stopMessage:
	case <-head.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	for _, s := range p.stages {
		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Stats returns per-stage counters in processing order.
func (p *Pipeline) Stats() []StageStats {
	out := make([]StageStats, 0, len(p.stages))
	for _, s := range p.stages {
		out = append(out, s.Stats())
	}
	return out
}
