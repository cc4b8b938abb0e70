package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"

	"github.com/arthur-debert/fstx/pkg/fstx/core"
)

// document is the on-disk form of a history. Command objects are never
// persisted, only their descriptions.
type document struct {
	Entries   []Entry   `json:"entries"`
	Config    Config    `json:"config"`
	SavedAt   time.Time `json:"saved_at"`
	UndoCount int       `json:"undo_count"`
	RedoCount int       `json:"redo_count"`
}

// DefaultPath returns $XDG_DATA_HOME/fstx/history.json, creating the parent
// directory if needed.
func DefaultPath() (string, error) {
	return xdg.DataFile(filepath.Join("fstx", "history.json"))
}

// SaveToFile writes the entry log and configuration to path as JSON.
func (h *History) SaveToFile(path string) error {
	doc := document{
		Entries:   h.entries,
		Config:    h.config,
		SavedAt:   time.Now().UTC(),
		UndoCount: len(h.undo),
		RedoCount: len(h.redo),
	}
	if doc.Entries == nil {
		doc.Entries = []Entry{}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return core.NewSerializationError("failed to encode history", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return core.NewError(core.KindHistory, "failed to create history directory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".history-*.json")
	if err != nil {
		return core.NewError(core.KindHistory, "failed to write history", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return core.NewError(core.KindHistory, "failed to write history", err)
	}
	if err := tmp.Close(); err != nil {
		return core.NewError(core.KindHistory, "failed to write history", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return core.NewError(core.KindHistory, "failed to write history", err)
	}

	h.logger.Debug().Str("path", path).Int("entries", len(doc.Entries)).Msg("history saved")
	return nil
}

// LoadFromFile replaces the entry log and configuration with the content of
// path. Both stacks are emptied: commands cannot be undone or redone after a
// reload.
func (h *History) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return core.NewError(core.KindHistory, "failed to read history", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return core.NewSerializationError("failed to decode history "+path, err)
	}

	h.config = normalize(doc.Config)
	h.entries = doc.Entries
	h.undo = nil
	h.redo = nil
	h.memory = 0
	h.publish()

	h.logger.Debug().
		Str("path", path).
		Int("entries", len(doc.Entries)).
		Int("saved_undo_count", doc.UndoCount).
		Msg("history loaded; undo and redo are unavailable for loaded entries")
	return nil
}
