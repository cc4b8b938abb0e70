// Package fstx is a transactional file-operation engine: reversible commands,
// batches that either complete or roll back, classified retries and an
// undo/redo history.
//
// Engine wires the pieces together from a config.Config:
//
//	engine, err := fstx.New(ctx, cfg)
//	op := engine.NewBatch("tidy", commands.NewMoveCommand(fs, "a", "b", false))
//	res, err := engine.Run(ctx, op)
//	err = engine.Undo(ctx)
package fstx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/arthur-debert/fstx/pkg/fstx/batch"
	"github.com/arthur-debert/fstx/pkg/fstx/commands"
	"github.com/arthur-debert/fstx/pkg/fstx/config"
	"github.com/arthur-debert/fstx/pkg/fstx/history"
	"github.com/arthur-debert/fstx/pkg/fstx/recovery"
	"github.com/arthur-debert/fstx/pkg/fstx/telemetry"
)

// Engine runs commands and batches and records what succeeded in a shared
// history. It is safe for concurrent use.
type Engine struct {
	cfg      *config.Config
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	recovery *recovery.Manager

	processors []*batch.Processor
	next       atomic.Uint64

	mu          sync.Mutex
	history     *history.History
	historyPath string
}

type engineOptions struct {
	logger     zerolog.Logger
	hasLogger  bool
	onProgress batch.ProgressFunc
	rnd        func() float64
}

// Option configures an Engine.
type Option func(*engineOptions)

// WithLogger overrides the logger built from the configuration.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *engineOptions) {
		o.logger = logger
		o.hasLogger = true
	}
}

// WithProgressFunc receives progress of every batch the engine runs.
func WithProgressFunc(fn batch.ProgressFunc) Option {
	return func(o *engineOptions) { o.onProgress = fn }
}

// WithRand sets the backoff jitter source.
func WithRand(rnd func() float64) Option {
	return func(o *engineOptions) { o.rnd = rnd }
}

// New builds an engine from cfg. A nil cfg means config.Default(). The
// processors stop when ctx is cancelled, but Close must still be called.
// With History.Persist set, the persisted history log is loaded if present.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := engineOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if !o.hasLogger {
		logger = NewLogger(os.Stderr, cfg.LogLevel())
	}

	e := &Engine{
		cfg:     cfg,
		logger:  logger,
		metrics: telemetry.NewMetrics(cfg.Metrics),
	}

	recoveryOpts := []recovery.Option{
		recovery.WithRetryConfig(cfg.Retry),
		recovery.WithLogger(componentLogger(logger, "recovery")),
		recovery.WithMetrics(e.metrics),
	}
	if o.rnd != nil {
		recoveryOpts = append(recoveryOpts, recovery.WithRand(o.rnd))
	}
	e.recovery = recovery.NewManager(recoveryOpts...)

	e.history = history.New(cfg.History,
		history.WithLogger(componentLogger(logger, "history")),
		history.WithMetrics(e.metrics),
	)
	if cfg.History.Persist {
		path, err := cfg.HistoryPath()
		if err != nil {
			return nil, fmt.Errorf("resolving history path: %w", err)
		}
		e.historyPath = path
		if _, err := os.Stat(path); err == nil {
			if err := e.history.LoadFromFile(path); err != nil {
				return nil, err
			}
		}
	}

	for i := 0; i < cfg.Batch.Processors; i++ {
		e.processors = append(e.processors, batch.NewProcessor(ctx,
			batch.WithLogger(componentLogger(logger, "batch").With().Int("processor", i).Logger()),
			batch.WithRecovery(e.recovery),
			batch.WithMetrics(e.metrics),
			batch.WithProgressFunc(o.onProgress),
			batch.WithQueueSize(cfg.Batch.QueueSize),
		))
	}

	logger.Debug().
		Int("processors", len(e.processors)).
		Bool("persist_history", cfg.History.Persist).
		Msg("engine started")
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Metrics returns the metrics sink, nil when metrics are disabled.
func (e *Engine) Metrics() *telemetry.Metrics {
	return e.metrics
}

// Recovery returns the recovery manager shared by all processors.
func (e *Engine) Recovery() *recovery.Manager {
	return e.recovery
}

// NewBatch creates a batch carrying the configured batch defaults.
func (e *Engine) NewBatch(description string, cmds ...commands.Command) *batch.Operation {
	return batch.NewOperation(description, cmds...).
		WithPartialFailure(e.cfg.Batch.AllowPartialFailure).
		WithMaxRetries(e.cfg.Batch.MaxRetries)
}

func (e *Engine) processor() *batch.Processor {
	n := e.next.Add(1) - 1
	return e.processors[n%uint64(len(e.processors))]
}

// Run executes op and adds the commands that succeeded to the history.
// The returned error reports submission or history problems; the outcome
// of the batch itself is in the Result.
func (e *Engine) Run(ctx context.Context, op *batch.Operation) (*batch.Result, error) {
	res, err := e.processor().Execute(ctx, op)
	if err != nil {
		return nil, err
	}
	if !res.Success() {
		logger := batchLogger(e.logger, op)
		logger.Info().
			Str("status", res.Status.String()).
			Err(res.Err).
			Msg("batch did not complete")
	}
	return res, e.record(res.Executed...)
}

// RunAll executes the batches concurrently, spread over the engine's
// processors. Results are returned in the order of ops.
func (e *Engine) RunAll(ctx context.Context, ops ...*batch.Operation) ([]*batch.Result, error) {
	results := make([]*batch.Result, len(ops))
	var g errgroup.Group
	g.SetLimit(len(e.processors))
	for i, op := range ops {
		i, op := i, op
		g.Go(func() error {
			res, err := e.Run(ctx, op)
			results[i] = res
			if err != nil {
				return fmt.Errorf("batch %s: %w", op.ID, err)
			}
			return nil
		})
	}
	return results, g.Wait()
}

// Execute runs a single command with retries and records it on success.
func (e *Engine) Execute(ctx context.Context, cmd commands.Command) error {
	logger := commandLogger(e.logger, cmd)
	if err := cmd.Validate(ctx); err != nil {
		e.metrics.RecordCommand(cmd.Type(), "failure")
		logger.Debug().Err(err).Msg("command rejected")
		return err
	}
	err := e.recovery.ExecuteWithRetry(ctx, cmd.Description(), cmd.Execute)
	if err != nil {
		e.metrics.RecordCommand(cmd.Type(), "failure")
		logger.Warn().Err(err).Msg("command failed")
		return err
	}
	e.metrics.RecordCommand(cmd.Type(), "success")
	logger.Debug().Str("description", cmd.Description()).Msg("command executed")
	return e.record(cmd)
}

func (e *Engine) record(cmds ...commands.Command) error {
	if len(cmds) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []error
	for _, cmd := range cmds {
		if err := e.history.AddExecutedCommand(cmd); err != nil {
			logger := commandLogger(e.logger, cmd)
			logger.Warn().
				Err(err).
				Msg("command not recorded in history")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Undo reverts the most recent command in the history.
func (e *Engine) Undo(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.Undo(ctx)
}

// Redo re-applies the most recently undone command.
func (e *Engine) Redo(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.Redo(ctx)
}

// CanUndo reports whether Undo has something to revert.
func (e *Engine) CanUndo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.CanUndo()
}

// CanRedo reports whether Redo has something to re-apply.
func (e *Engine) CanRedo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.CanRedo()
}

// UndoDescription describes the command Undo would revert.
func (e *Engine) UndoDescription() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.UndoDescription()
}

// RedoDescription describes the command Redo would re-apply.
func (e *Engine) RedoDescription() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.RedoDescription()
}

// HistoryEntries returns the history log, oldest first.
func (e *Engine) HistoryEntries() []history.Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.Entries()
}

// ClearHistory empties the history.
func (e *Engine) ClearHistory() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history.Clear()
}

// Suggest describes err and how to react to it.
func (e *Engine) Suggest(err error) recovery.Suggestion {
	return e.recovery.Suggest(err)
}

// Close shuts the processors down, waiting for queued batches, and saves
// the history when persistence is enabled.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	for _, p := range e.processors {
		if err := p.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if e.historyPath != "" {
		e.mu.Lock()
		err := e.history.SaveToFile(e.historyPath)
		e.mu.Unlock()
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
