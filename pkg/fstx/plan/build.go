package plan

import (
	"fmt"
	"io/fs"
	"path"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gammazero/toposort"

	"github.com/arthur-debert/fstx/pkg/fstx/batch"
	"github.com/arthur-debert/fstx/pkg/fstx/commands"
	"github.com/arthur-debert/fstx/pkg/fstx/filesystem"
)

// Resolve returns the steps in dependency order. Steps that take part in no
// dependency keep their declaration order and come last.
func (p *Plan) Resolve() ([]Step, error) {
	index := make(map[string]int, len(p.Steps))
	for i, s := range p.Steps {
		index[s.ID] = i
	}

	edges := make([]toposort.Edge, 0)
	for _, s := range p.Steps {
		for _, dep := range s.After {
			if _, ok := index[dep]; !ok {
				return nil, fmt.Errorf("step %q depends on unknown step %q", s.ID, dep)
			}
			// element 0 comes before element 1
			edges = append(edges, toposort.Edge{dep, s.ID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("circular dependency detected: %w", err)
	}

	ordered := make([]Step, 0, len(p.Steps))
	added := make(map[string]bool, len(p.Steps))
	for _, v := range sorted {
		id, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected type in topological sort result: %T", v)
		}
		ordered = append(ordered, p.Steps[index[id]])
		added[id] = true
	}
	for _, s := range p.Steps {
		if !added[s.ID] {
			ordered = append(ordered, s)
		}
	}
	return ordered, nil
}

// Build turns the plan into a batch operation over fsys. Glob steps are
// expanded against globFS, which must present the same tree as fsys with
// slash-separated paths relative to its root; it may be nil when the plan
// has no glob steps.
func (p *Plan) Build(fsys filesystem.Service, globFS fs.FS) (*batch.Operation, error) {
	steps, err := p.Resolve()
	if err != nil {
		return nil, err
	}

	op := batch.NewOperation(p.Description).WithPartialFailure(p.AllowPartialFailure)
	if p.MaxRetries > 0 {
		op.WithMaxRetries(p.MaxRetries)
	}

	for _, s := range steps {
		cmds, err := s.commands(fsys, globFS)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", s.ID, err)
		}
		for _, cmd := range cmds {
			op.Add(cmd)
		}
	}
	return op, nil
}

func (s Step) commands(fsys filesystem.Service, globFS fs.FS) ([]commands.Command, error) {
	if s.Glob {
		return s.expand(fsys, globFS)
	}
	switch s.Op {
	case OpCopy:
		return []commands.Command{commands.NewCopyCommand(fsys, s.Src, s.Dst, s.Overwrite)}, nil
	case OpMove:
		return []commands.Command{commands.NewMoveCommand(fsys, s.Src, s.Dst, s.Overwrite)}, nil
	case OpDelete:
		return []commands.Command{commands.NewDeleteCommand(fsys, s.Path)}, nil
	case OpRename:
		return []commands.Command{commands.NewRenameCommand(fsys, s.Path, s.NewName)}, nil
	}
	return nil, fmt.Errorf("unknown operation %q", s.Op)
}

// expand creates one command per file matching the step pattern. Copy
// destinations are directories: each match keeps its base name.
func (s Step) expand(fsys filesystem.Service, globFS fs.FS) ([]commands.Command, error) {
	if globFS == nil {
		return nil, fmt.Errorf("glob step needs a filesystem to match against")
	}
	pattern := s.Src
	if s.Op == OpDelete {
		pattern = s.Path
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid glob pattern %q", pattern)
	}

	matches, err := doublestar.Glob(globFS, pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("expanding %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("pattern %q matched no files", pattern)
	}

	cmds := make([]commands.Command, 0, len(matches))
	for _, m := range matches {
		switch s.Op {
		case OpCopy:
			cmds = append(cmds, commands.NewCopyCommand(fsys, m, path.Join(s.Dst, path.Base(m)), s.Overwrite))
		case OpDelete:
			cmds = append(cmds, commands.NewDeleteCommand(fsys, m))
		}
	}
	return cmds, nil
}
