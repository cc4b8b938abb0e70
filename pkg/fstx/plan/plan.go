// Package plan reads declarative batch plans from YAML or JSON, orders their
// steps by dependency and builds batch operations from them.
//
// A plan runs as one batch, and a batch validates every command against the
// tree before the first one executes. After therefore only orders steps: a
// step cannot read a file that another step of the same plan creates.
// Validate rejects such plans; split them into separate runs instead.
package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// CurrentVersion is the plan format version understood by this package.
const CurrentVersion = 1

// Op names a step operation.
type Op string

const (
	OpCopy   Op = "copy"
	OpMove   Op = "move"
	OpDelete Op = "delete"
	OpRename Op = "rename"
)

// Step is one operation of a plan.
type Step struct {
	ID        string   `yaml:"id" json:"id" validate:"required"`
	Op        Op       `yaml:"op" json:"op" validate:"required,oneof=copy move delete rename"`
	Src       string   `yaml:"src,omitempty" json:"src,omitempty"`
	Dst       string   `yaml:"dst,omitempty" json:"dst,omitempty"`
	Path      string   `yaml:"path,omitempty" json:"path,omitempty"`
	NewName   string   `yaml:"new_name,omitempty" json:"new_name,omitempty"`
	Overwrite bool     `yaml:"overwrite,omitempty" json:"overwrite,omitempty"`
	Glob      bool     `yaml:"glob,omitempty" json:"glob,omitempty"`
	After     []string `yaml:"after,omitempty" json:"after,omitempty"`
}

// Plan is a declarative batch.
type Plan struct {
	Version             int    `yaml:"version" json:"version" validate:"eq=1"`
	Description         string `yaml:"description" json:"description"`
	AllowPartialFailure bool   `yaml:"allow_partial_failure" json:"allow_partial_failure"`
	MaxRetries          int    `yaml:"max_retries" json:"max_retries" validate:"gte=0"`
	Steps               []Step `yaml:"steps" json:"steps" validate:"required,min=1,dive"`
}

// Load reads a plan file. Files ending in .json are parsed as JSON,
// everything else as YAML.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan: %w", err)
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	p, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes and validates a plan in the given format ("yaml" or "json").
// Unknown fields are rejected.
func Parse(data []byte, format string) (*Plan, error) {
	var p Plan
	switch format {
	case "json":
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&p); err != nil {
			return nil, fmt.Errorf("parsing JSON: %w", err)
		}
	case "yaml", "yml":
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&p); err != nil {
			return nil, fmt.Errorf("parsing YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported plan format %q", format)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

var validate = validator.New()

// Validate checks field constraints, per-operation required fields, unique
// step ids and dependency references.
func (p *Plan) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid plan: %w", err)
	}

	ids := make(map[string]bool, len(p.Steps))
	for _, s := range p.Steps {
		if ids[s.ID] {
			return fmt.Errorf("invalid plan: duplicate step id %q", s.ID)
		}
		ids[s.ID] = true
		if err := s.validate(); err != nil {
			return fmt.Errorf("invalid plan: step %q: %w", s.ID, err)
		}
	}
	for _, s := range p.Steps {
		for _, dep := range s.After {
			if !ids[dep] {
				return fmt.Errorf("invalid plan: step %q depends on unknown step %q", s.ID, dep)
			}
			if dep == s.ID {
				return fmt.Errorf("invalid plan: step %q depends on itself", s.ID)
			}
		}
	}

	creates := make(map[string]string)
	for _, s := range p.Steps {
		if out, ok := s.output(); ok {
			creates[out] = s.ID
		}
	}
	for _, s := range p.Steps {
		in, ok := s.input()
		if !ok {
			continue
		}
		if by, found := creates[in]; found && by != s.ID {
			return fmt.Errorf("invalid plan: step %q reads %s, which step %q creates; steps are validated before any runs, so split the plan", s.ID, in, by)
		}
	}
	return nil
}

// input is the file a non-glob step reads.
func (s Step) input() (string, bool) {
	if s.Glob {
		return "", false
	}
	switch s.Op {
	case OpCopy, OpMove:
		return filepath.Clean(s.Src), true
	default:
		return filepath.Clean(s.Path), true
	}
}

// output is the file a non-glob step creates.
func (s Step) output() (string, bool) {
	if s.Glob {
		return "", false
	}
	switch s.Op {
	case OpCopy, OpMove:
		return filepath.Clean(s.Dst), true
	case OpRename:
		return filepath.Join(filepath.Dir(s.Path), s.NewName), true
	default:
		return "", false
	}
}

func (s Step) validate() error {
	switch s.Op {
	case OpCopy, OpMove:
		if s.Src == "" || s.Dst == "" {
			return fmt.Errorf("%s requires src and dst", s.Op)
		}
	case OpDelete:
		if s.Path == "" {
			return fmt.Errorf("delete requires path")
		}
	case OpRename:
		if s.Path == "" || s.NewName == "" {
			return fmt.Errorf("rename requires path and new_name")
		}
	}
	if s.Glob && s.Op != OpCopy && s.Op != OpDelete {
		return fmt.Errorf("glob is only supported for copy and delete")
	}
	return nil
}
