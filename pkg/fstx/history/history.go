// Package history keeps executed commands on undo and redo stacks with
// bounded size and memory, and persists a descriptive log of them.
package history

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/arthur-debert/fstx/pkg/fstx/commands"
	"github.com/arthur-debert/fstx/pkg/fstx/core"
	"github.com/arthur-debert/fstx/pkg/fstx/telemetry"
)

// cleanupRatio is the fraction of a limit that cleanup trims down to.
const cleanupRatio = 0.9

// Config bounds the history.
type Config struct {
	MaxHistorySize   int   `yaml:"max_history_size" json:"max_history_size" validate:"gte=1"`
	Persist          bool  `yaml:"persist" json:"persist"`
	MemoryLimitBytes int64 `yaml:"memory_limit_bytes" json:"memory_limit_bytes" validate:"gte=1"`
	// Path overrides DefaultPath when persisting.
	Path string `yaml:"path" json:"path,omitempty"`
}

// DefaultConfig returns 100 commands and 100 MiB, not persisted.
func DefaultConfig() Config {
	return Config{
		MaxHistorySize:   100,
		MemoryLimitBytes: 100 << 20,
	}
}

// Entry describes one command added to the history.
type Entry struct {
	ID          string         `json:"id"`
	CommandID   core.CommandID `json:"command_id"`
	Description string         `json:"description"`
	Timestamp   time.Time      `json:"timestamp"`
	SizeBytes   int64          `json:"size_bytes"`
}

type item struct {
	cmd  commands.Command
	size int64
}

// History is an undo/redo manager. It is not safe for concurrent use.
type History struct {
	config  Config
	logger  zerolog.Logger
	metrics *telemetry.Metrics

	undo    []item
	redo    []item
	entries []Entry
	memory  int64
}

// Option configures a History.
type Option func(*History)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(h *History) { h.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(h *History) { h.metrics = m }
}

// New creates an empty history. Non-positive limits fall back to defaults.
func New(cfg Config, opts ...Option) *History {
	h := &History{
		config: normalize(cfg),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func normalize(cfg Config) Config {
	def := DefaultConfig()
	if cfg.MaxHistorySize <= 0 {
		cfg.MaxHistorySize = def.MaxHistorySize
	}
	if cfg.MemoryLimitBytes <= 0 {
		cfg.MemoryLimitBytes = def.MemoryLimitBytes
	}
	return cfg
}

// Config returns the active configuration.
func (h *History) Config() Config {
	return h.config
}

// AddExecutedCommand records an executed command and clears the redo stack.
func (h *History) AddExecutedCommand(cmd commands.Command) error {
	meta := cmd.Metadata()
	if meta.Status != core.StatusExecuted {
		return core.NewHistoryError(fmt.Sprintf("command %s is %s, only executed commands can be added", meta.ID, meta.Status))
	}
	size := cmd.ApproxSize()
	if size > h.config.MemoryLimitBytes {
		return &core.Error{
			Kind:      core.KindHistoryLimitExceeded,
			CommandID: meta.ID,
			Reason:    fmt.Sprintf("command needs %d bytes, limit is %d", size, h.config.MemoryLimitBytes),
		}
	}

	if len(h.redo) > 0 {
		discarded := make(map[core.CommandID]bool, len(h.redo))
		for _, it := range h.redo {
			h.memory -= it.size
			discarded[it.cmd.Metadata().ID] = true
		}
		h.redo = nil
		h.dropEntries(discarded)
	}

	h.undo = append(h.undo, item{cmd: cmd, size: size})
	h.memory += size
	h.entries = append(h.entries, Entry{
		ID:          uuid.NewString(),
		CommandID:   meta.ID,
		Description: cmd.Description(),
		Timestamp:   time.Now(),
		SizeBytes:   size,
	})

	if len(h.undo) > h.config.MaxHistorySize || h.memory > h.config.MemoryLimitBytes {
		h.cleanup()
	}
	h.publish()
	return nil
}

// cleanup evicts the oldest undoable commands until the exceeded limits are
// back under cleanupRatio of their value.
func (h *History) cleanup() {
	countTriggered := len(h.undo) > h.config.MaxHistorySize
	memoryTriggered := h.memory > h.config.MemoryLimitBytes
	targetCount := int(math.Ceil(cleanupRatio * float64(h.config.MaxHistorySize)))
	targetMemory := int64(cleanupRatio * float64(h.config.MemoryLimitBytes))

	evicted := make(map[core.CommandID]bool)
	for len(h.undo) > 0 &&
		((countTriggered && len(h.undo) > targetCount) || (memoryTriggered && h.memory > targetMemory)) {
		oldest := h.undo[0]
		h.undo[0] = item{}
		h.undo = h.undo[1:]
		h.memory -= oldest.size
		evicted[oldest.cmd.Metadata().ID] = true
	}
	if len(evicted) == 0 {
		return
	}

	h.dropEntries(evicted)

	h.metrics.RecordEvictions(len(evicted))
	h.logger.Debug().
		Int("evicted", len(evicted)).
		Int("undo_count", len(h.undo)).
		Int64("memory_bytes", h.memory).
		Msg("history cleanup")
}

// dropEntries removes the log entries of the given commands.
func (h *History) dropEntries(ids map[core.CommandID]bool) {
	kept := h.entries[:0]
	for _, e := range h.entries {
		if !ids[e.CommandID] {
			kept = append(kept, e)
		}
	}
	h.entries = kept
}

// Undo reverts the most recent command. On failure the stacks are unchanged.
func (h *History) Undo(ctx context.Context) error {
	if len(h.undo) == 0 {
		return core.NewError(core.KindNoUndoAvailable, "", nil)
	}
	last := len(h.undo) - 1
	it := h.undo[last]

	if err := it.cmd.Undo(ctx); err != nil {
		h.logger.Warn().Str("command_id", string(it.cmd.Metadata().ID)).Err(err).Msg("undo failed")
		if !errors.Is(err, core.ErrUndoFailed) {
			err = core.NewUndoError(it.cmd.Metadata().ID, "undo failed", err)
		}
		return err
	}

	h.undo = h.undo[:last]
	h.redo = append(h.redo, h.remeasure(it))
	h.publish()
	return nil
}

// Redo re-executes the most recently undone command. On failure the stacks
// are unchanged.
func (h *History) Redo(ctx context.Context) error {
	if len(h.redo) == 0 {
		return core.NewError(core.KindNoRedoAvailable, "", nil)
	}
	last := len(h.redo) - 1
	it := h.redo[last]

	if err := it.cmd.Execute(ctx); err != nil {
		h.logger.Warn().Str("command_id", string(it.cmd.Metadata().ID)).Err(err).Msg("redo failed")
		if !errors.Is(err, core.ErrExecutionFailed) {
			err = core.NewExecutionError(it.cmd.Metadata().ID, "redo failed", err)
		}
		return err
	}

	h.redo = h.redo[:last]
	h.undo = append(h.undo, h.remeasure(it))
	h.publish()
	return nil
}

// remeasure refreshes the size of an item whose backups may have changed.
func (h *History) remeasure(it item) item {
	h.memory -= it.size
	it.size = it.cmd.ApproxSize()
	h.memory += it.size
	return it
}

func (h *History) CanUndo() bool { return len(h.undo) > 0 }
func (h *History) CanRedo() bool { return len(h.redo) > 0 }
func (h *History) UndoCount() int { return len(h.undo) }
func (h *History) RedoCount() int { return len(h.redo) }

// MemoryUsage returns the approximate bytes held by both stacks.
func (h *History) MemoryUsage() int64 { return h.memory }

// Entries returns a copy of the entry log, oldest first.
func (h *History) Entries() []Entry {
	return append([]Entry(nil), h.entries...)
}

// UndoDescription describes the command Undo would revert.
func (h *History) UndoDescription() (string, bool) {
	if len(h.undo) == 0 {
		return "", false
	}
	return h.undo[len(h.undo)-1].cmd.Description(), true
}

// RedoDescription describes the command Redo would re-execute.
func (h *History) RedoDescription() (string, bool) {
	if len(h.redo) == 0 {
		return "", false
	}
	return h.redo[len(h.redo)-1].cmd.Description(), true
}

// Clear drops both stacks and the entry log.
func (h *History) Clear() {
	h.undo = nil
	h.redo = nil
	h.entries = nil
	h.memory = 0
	h.publish()
}

func (h *History) publish() {
	h.metrics.SetHistoryState(h.memory, len(h.undo), len(h.redo))
}
