package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arthur-debert/fstx/pkg/fstx/commands"
	"github.com/arthur-debert/fstx/pkg/fstx/core"
	"github.com/arthur-debert/fstx/pkg/fstx/recovery"
	"github.com/arthur-debert/fstx/pkg/fstx/telemetry"
)

// ErrProcessorClosed is returned when submitting to a processor that is
// shutting down.
var ErrProcessorClosed = errors.New("batch processor is shut down")

// defaultQueueSize is the request buffer of a processor.
const defaultQueueSize = 16

// Result is the outcome of a batch.
type Result struct {
	BatchID           core.BatchID
	Status            Status
	TotalCommands     int
	CompletedCommands int
	FailedCommands    int
	// Executed lists the commands that succeeded, in execution order.
	// It is empty when the batch was rolled back.
	Executed   []commands.Command
	Err        error
	Suggestion *recovery.Suggestion
	Duration   time.Duration
}

// Success reports whether the batch completed.
func (r *Result) Success() bool {
	return r.Status == StatusCompleted
}

// ProgressFunc is called on every progress change of a batch. It runs on the
// processor goroutine and should return quickly.
type ProgressFunc func(Progress)

type messageKind int

const (
	msgExecute messageKind = iota
	msgShutdown
)

type message struct {
	kind  messageKind
	op    *Operation
	reply chan *Result
}

// Processor executes batches one at a time on a dedicated goroutine.
// Several processors can run side by side.
type Processor struct {
	logger     zerolog.Logger
	recovery   *recovery.Manager
	metrics    *telemetry.Metrics
	onProgress ProgressFunc
	queueSize  int

	requests chan message
	done     chan struct{}
	runCtx   context.Context
	stop     context.CancelFunc

	lifecycle sync.Mutex
	closing   bool

	mu       sync.RWMutex
	progress map[core.BatchID]Progress
	tokens   map[core.BatchID]*CancellationToken
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = logger }
}

// WithRecovery sets the recovery manager used to classify, record and pace
// retries.
func WithRecovery(m *recovery.Manager) ProcessorOption {
	return func(p *Processor) { p.recovery = m }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) ProcessorOption {
	return func(p *Processor) { p.metrics = m }
}

// WithProgressFunc sets a progress callback.
func WithProgressFunc(fn ProgressFunc) ProcessorOption {
	return func(p *Processor) { p.onProgress = fn }
}

// WithQueueSize sets how many requests may wait for the processor.
func WithQueueSize(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// NewProcessor starts a processor. Cancelling ctx cancels the batch in
// flight and every queued one; Shutdown must still be called to release the
// goroutine.
func NewProcessor(ctx context.Context, opts ...ProcessorOption) *Processor {
	p := &Processor{
		logger:    zerolog.Nop(),
		queueSize: defaultQueueSize,
		done:      make(chan struct{}),
		progress:  make(map[core.BatchID]Progress),
		tokens:    make(map[core.BatchID]*CancellationToken),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.recovery == nil {
		p.recovery = recovery.NewManager(recovery.WithLogger(p.logger), recovery.WithMetrics(p.metrics))
	}
	p.requests = make(chan message, p.queueSize)
	p.runCtx, p.stop = context.WithCancel(ctx)

	go p.run()
	return p
}

func (p *Processor) run() {
	defer close(p.done)
	for msg := range p.requests {
		switch msg.kind {
		case msgExecute:
			msg.reply <- p.execute(p.runCtx, msg.op)
		case msgShutdown:
			return
		}
	}
}

// Submit queues op and returns a channel that receives its result once.
// ctx only bounds the wait for a queue slot.
func (p *Processor) Submit(ctx context.Context, op *Operation) (<-chan *Result, error) {
	if !op.submitted.CompareAndSwap(false, true) {
		return nil, core.NewBatchError(op.ID, "batch was already submitted", nil)
	}

	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	if p.closing {
		return nil, ErrProcessorClosed
	}

	p.mu.Lock()
	p.tokens[op.ID] = op.token
	p.progress[op.ID] = Progress{BatchID: op.ID, Status: StatusPending, Total: op.Len(), UpdatedAt: time.Now()}
	p.mu.Unlock()

	reply := make(chan *Result, 1)
	select {
	case p.requests <- message{kind: msgExecute, op: op, reply: reply}:
		p.logger.Debug().Str("batch_id", string(op.ID)).Int("commands", op.Len()).Msg("batch queued")
		return reply, nil
	case <-ctx.Done():
		p.forget(op.ID)
		return nil, ctx.Err()
	}
}

// Execute submits op and waits for its result. If ctx ends first the batch
// is cancelled and Execute still waits for it to roll back.
func (p *Processor) Execute(ctx context.Context, op *Operation) (*Result, error) {
	reply, err := p.Submit(ctx, op)
	if err != nil {
		return nil, err
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		op.token.Cancel()
		return <-reply, nil
	}
}

// Progress returns the latest progress of a queued or running batch.
func (p *Processor) Progress(id core.BatchID) (Progress, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	prog, ok := p.progress[id]
	return prog, ok
}

// Cancel requests cancellation of a queued or running batch. It reports
// whether the batch was known.
func (p *Processor) Cancel(id core.BatchID) bool {
	p.mu.RLock()
	token, ok := p.tokens[id]
	p.mu.RUnlock()
	if ok {
		token.Cancel()
	}
	return ok
}

// Shutdown stops accepting batches, lets queued ones finish and waits for
// the processor goroutine. If ctx ends first, remaining batches are
// cancelled (and rolled back) before Shutdown returns ctx.Err().
func (p *Processor) Shutdown(ctx context.Context) error {
	p.lifecycle.Lock()
	if p.closing {
		p.lifecycle.Unlock()
		<-p.done
		return nil
	}
	p.closing = true
	p.lifecycle.Unlock()

	select {
	case p.requests <- message{kind: msgShutdown}:
	case <-ctx.Done():
		p.stop()
		p.requests <- message{kind: msgShutdown}
		<-p.done
		return ctx.Err()
	}

	select {
	case <-p.done:
		p.stop()
		return nil
	case <-ctx.Done():
		p.stop()
		<-p.done
		return ctx.Err()
	}
}

func (p *Processor) forget(id core.BatchID) {
	p.mu.Lock()
	delete(p.tokens, id)
	delete(p.progress, id)
	p.mu.Unlock()
}

// tracker publishes progress of one batch.
type tracker struct {
	p    *Processor
	prog Progress
}

func (t *tracker) set(update func(*Progress)) {
	update(&t.prog)
	t.prog.UpdatedAt = time.Now()
	t.p.mu.Lock()
	t.p.progress[t.prog.BatchID] = t.prog
	t.p.mu.Unlock()
	if t.p.onProgress != nil {
		t.p.onProgress(t.prog)
	}
}

func (t *tracker) status(s Status) {
	t.set(func(pr *Progress) { pr.Status = s })
}

func cancelled(ctx context.Context, op *Operation) bool {
	return op.token.IsCancelled() || ctx.Err() != nil
}

func (p *Processor) execute(ctx context.Context, op *Operation) *Result {
	start := time.Now()
	log := p.logger.With().Str("batch_id", string(op.ID)).Logger()
	t := &tracker{p: p, prog: Progress{BatchID: op.ID, Total: op.Len()}}
	res := &Result{BatchID: op.ID, TotalCommands: op.Len()}

	finish := func(status Status, err error) *Result {
		t.status(status)
		res.Status = status
		res.Err = err
		res.CompletedCommands = t.prog.Completed
		res.FailedCommands = t.prog.Failed
		if err != nil {
			s := p.recovery.Suggest(err)
			res.Suggestion = &s
		}
		res.Duration = time.Since(start)
		p.metrics.RecordBatch(status.String(), res.Duration)
		p.forget(op.ID)

		ev := log.Info()
		if err != nil {
			ev = log.Warn().Err(err)
		}
		ev.Str("status", status.String()).
			Int("completed", res.CompletedCommands).
			Int("failed", res.FailedCommands).
			Dur("duration", res.Duration).
			Msg("batch finished")
		return res
	}

	t.status(StatusValidating)
	if cancelled(ctx, op) {
		return finish(StatusCancelled, core.NewCancelledError("batch cancelled before validation"))
	}
	for i, cmd := range op.commands {
		if cancelled(ctx, op) {
			return finish(StatusCancelled, core.NewCancelledError("batch cancelled during validation"))
		}
		if err := cmd.Validate(ctx); err != nil {
			log.Debug().Int("index", i).Str("command_id", string(cmd.Metadata().ID)).Err(err).Msg("validation failed")
			return finish(StatusFailed, core.NewBatchValidationError(op.ID, err))
		}
	}

	t.status(StatusExecuting)
	if op.MaxRetries < minAttempts {
		log.Debug().Int("max_retries", op.MaxRetries).Int("attempts", minAttempts).Msg("raising retry attempts to minimum")
	}

	for i, cmd := range op.commands {
		if cancelled(ctx, op) {
			return p.abort(ctx, op, t, res, finish, core.NewCancelledError("batch cancelled"))
		}
		t.set(func(pr *Progress) { pr.Current = cmd.Description() })

		err := p.executeCommand(ctx, op, cmd, log)
		if err == nil {
			op.executed = append(op.executed, i)
			res.Executed = append(res.Executed, cmd)
			p.metrics.RecordCommand(cmd.Type(), "success")
			t.set(func(pr *Progress) { pr.Completed++ })
			continue
		}
		p.metrics.RecordCommand(cmd.Type(), "failure")

		_, strategy := recovery.Classify(err)
		if op.AllowPartialFailure && strategy == recovery.Skip {
			log.Warn().Int("index", i).Str("command_id", string(cmd.Metadata().ID)).Err(err).Msg("command failed, continuing")
			t.set(func(pr *Progress) { pr.Failed++ })
			continue
		}

		t.set(func(pr *Progress) { pr.Failed++ })
		if recovery.IsCancellation(err) {
			return p.abort(ctx, op, t, res, finish, err)
		}
		return p.abort(ctx, op, t, res, finish,
			core.NewBatchError(op.ID, fmt.Sprintf("command %d (%s) failed", i, cmd.Description()), err))
	}

	t.set(func(pr *Progress) { pr.Current = "" })
	return finish(StatusCompleted, nil)
}

// executeCommand runs one command with the batch retry loop.
func (p *Processor) executeCommand(ctx context.Context, op *Operation, cmd commands.Command, log zerolog.Logger) error {
	attempts := op.attempts()
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			p.metrics.RecordRetry()
		}
		err = cmd.Execute(ctx)
		if err == nil {
			return nil
		}

		rec := p.recovery.Record(err, cmd.Description(), attempt)
		switch rec.Strategy {
		case recovery.RetryImmediate:
		case recovery.RetryWithBackoff:
			if attempt == attempts-1 {
				break
			}
			if cancelled(ctx, op) {
				return core.NewCancelledError("batch cancelled before retry")
			}
			delay := p.recovery.Delay(attempt)
			log.Debug().
				Str("command_id", string(cmd.Metadata().ID)).
				Int("attempt", attempt+1).
				Dur("delay", delay).
				Msg("retrying command after backoff")
			if recovery.Sleep(ctx, delay) != nil || cancelled(ctx, op) {
				return core.NewCancelledError("batch cancelled during retry backoff")
			}
		default:
			return err
		}
	}
	return core.NewRecoveryFailedError(attempts, cmd.Description(), err)
}

// abort rolls back the executed prefix of op in reverse order and finishes
// the batch as Failed, or Cancelled when cause is a cancellation.
func (p *Processor) abort(ctx context.Context, op *Operation, t *tracker, res *Result,
	finish func(Status, error) *Result, cause error) *Result {
	t.status(StatusRollingBack)
	res.Executed = nil

	// undo must run even when ctx is what stopped the batch
	undoCtx := context.WithoutCancel(ctx)
	rollbackErrs := make(map[core.CommandID]error)
	for len(op.executed) > 0 {
		last := len(op.executed) - 1
		cmd := op.commands[op.executed[last]]
		op.executed = op.executed[:last]

		if err := cmd.Undo(undoCtx); err != nil {
			p.logger.Error().
				Str("batch_id", string(op.ID)).
				Str("command_id", string(cmd.Metadata().ID)).
				Err(err).
				Msg("rollback of command failed")
			rollbackErrs[cmd.Metadata().ID] = err
		}
	}

	if len(rollbackErrs) > 0 {
		p.metrics.RecordRollback("failure")
		return finish(StatusFailed, &core.RollbackError{BatchID: op.ID, OriginalErr: cause, RollbackErrs: rollbackErrs})
	}
	p.metrics.RecordRollback("success")
	if recovery.IsCancellation(cause) {
		return finish(StatusCancelled, cause)
	}
	return finish(StatusFailed, cause)
}
