package plan_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arthur-debert/fstx/pkg/fstx/batch"
	"github.com/arthur-debert/fstx/pkg/fstx/plan"
	"github.com/arthur-debert/fstx/pkg/fstx/testutil"
)

const samplePlan = `
version: 1
description: tidy reports
steps:
  - id: archive
    op: move
    src: reports/q1.txt
    dst: archive/q1.txt
    after: [backup]
  - id: backup
    op: copy
    src: reports/q1.txt
    dst: backup/q1.txt
  - id: notes
    op: rename
    path: notes.txt
    new_name: notes.md
`

func TestParse(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		p, err := plan.Parse([]byte(samplePlan), "yaml")
		require.NoError(t, err)
		assert.Equal(t, "tidy reports", p.Description)
		require.Len(t, p.Steps, 3)
		assert.Equal(t, plan.OpMove, p.Steps[0].Op)
		assert.Equal(t, []string{"backup"}, p.Steps[0].After)
	})

	t.Run("json", func(t *testing.T) {
		data := `{"version":1,"allow_partial_failure":true,"max_retries":5,
			"steps":[{"id":"d","op":"delete","path":"tmp/*.log","glob":true}]}`
		p, err := plan.Parse([]byte(data), "json")
		require.NoError(t, err)
		assert.True(t, p.AllowPartialFailure)
		assert.Equal(t, 5, p.MaxRetries)
		assert.True(t, p.Steps[0].Glob)
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		_, err := plan.Parse([]byte("version: 1\nsurprise: true\nsteps: [{id: a, op: delete, path: x}]\n"), "yaml")
		assert.Error(t, err)
		_, err = plan.Parse([]byte(`{"version":1,"surprise":1,"steps":[{"id":"a","op":"delete","path":"x"}]}`), "json")
		assert.Error(t, err)
	})

	t.Run("unsupported format", func(t *testing.T) {
		_, err := plan.Parse([]byte(samplePlan), "toml")
		assert.ErrorContains(t, err, "unsupported plan format")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"wrong version", "version: 2\nsteps: [{id: a, op: delete, path: x}]\n", "invalid plan"},
		{"no steps", "version: 1\nsteps: []\n", "invalid plan"},
		{"unknown op", "version: 1\nsteps: [{id: a, op: link, path: x}]\n", "invalid plan"},
		{"missing id", "version: 1\nsteps: [{op: delete, path: x}]\n", "invalid plan"},
		{"copy without dst", "version: 1\nsteps: [{id: a, op: copy, src: x}]\n", "requires src and dst"},
		{"rename without name", "version: 1\nsteps: [{id: a, op: rename, path: x}]\n", "requires path and new_name"},
		{"glob rename", "version: 1\nsteps: [{id: a, op: rename, path: x, new_name: y, glob: true}]\n", "glob is only supported"},
		{"duplicate id", "version: 1\nsteps: [{id: a, op: delete, path: x}, {id: a, op: delete, path: y}]\n", "duplicate step id"},
		{"unknown dependency", "version: 1\nsteps: [{id: a, op: delete, path: x, after: [b]}]\n", "unknown step"},
		{"self dependency", "version: 1\nsteps: [{id: a, op: delete, path: x, after: [a]}]\n", "depends on itself"},
		{"reads a copied file", "version: 1\nsteps: [{id: a, op: copy, src: x, dst: y}, {id: b, op: rename, path: y, new_name: z, after: [a]}]\n", `step "b" reads y, which step "a" creates`},
		{"reads a renamed file", "version: 1\nsteps: [{id: a, op: rename, path: d/x, new_name: y}, {id: b, op: delete, path: ./d/y}]\n", `step "b" reads d/y, which step "a" creates`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := plan.Parse([]byte(tt.yaml), "yaml")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "plan.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(samplePlan), 0644))
	p, err := plan.Load(yamlPath)
	require.NoError(t, err)
	assert.Len(t, p.Steps, 3)

	jsonPath := filepath.Join(dir, "plan.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"version":1,"steps":[{"id":"a","op":"delete","path":"x"}]}`), 0644))
	p, err = plan.Load(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "x", p.Steps[0].Path)

	_, err = plan.Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func stepIDs(steps []plan.Step) []string {
	ids := make([]string, len(steps))
	for i, s := range steps {
		ids[i] = s.ID
	}
	return ids
}

func TestResolve(t *testing.T) {
	t.Run("dependencies come first", func(t *testing.T) {
		p, err := plan.Parse([]byte(samplePlan), "yaml")
		require.NoError(t, err)
		steps, err := p.Resolve()
		require.NoError(t, err)
		assert.Equal(t, []string{"backup", "archive", "notes"}, stepIDs(steps))
	})

	t.Run("independent steps keep declaration order", func(t *testing.T) {
		p := &plan.Plan{Version: 1, Steps: []plan.Step{
			{ID: "c", Op: plan.OpDelete, Path: "c"},
			{ID: "a", Op: plan.OpDelete, Path: "a"},
			{ID: "b", Op: plan.OpDelete, Path: "b"},
		}}
		steps, err := p.Resolve()
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "a", "b"}, stepIDs(steps))
	})

	t.Run("cycles are rejected", func(t *testing.T) {
		p := &plan.Plan{Version: 1, Steps: []plan.Step{
			{ID: "a", Op: plan.OpDelete, Path: "a", After: []string{"b"}},
			{ID: "b", Op: plan.OpDelete, Path: "b", After: []string{"a"}},
		}}
		_, err := p.Resolve()
		assert.ErrorContains(t, err, "circular dependency detected")
	})

	t.Run("unknown ids are rejected", func(t *testing.T) {
		p := &plan.Plan{Version: 1, Steps: []plan.Step{
			{ID: "a", Op: plan.OpDelete, Path: "a", After: []string{"ghost"}},
		}}
		_, err := p.Resolve()
		assert.ErrorContains(t, err, "unknown step")
	})
}

func TestBuildAndRun(t *testing.T) {
	ctx := context.Background()
	fs := testutil.NewMockFS()
	fs.AddFile("reports/q1.txt", []byte("q1"))
	fs.AddFile("notes.txt", []byte("n"))
	fs.AddDir("archive")
	fs.AddDir("backup")

	p, err := plan.Parse([]byte(samplePlan), "yaml")
	require.NoError(t, err)
	op, err := p.Build(fs, nil)
	require.NoError(t, err)
	require.Equal(t, 3, op.Len())
	assert.Equal(t, "Copy reports/q1.txt to backup/q1.txt", op.Commands()[0].Description())

	proc := batch.NewProcessor(ctx)
	defer func() { _ = proc.Shutdown(ctx) }()
	res, err := proc.Execute(ctx, op)
	require.NoError(t, err)
	require.True(t, res.Success(), "batch failed: %v", res.Err)

	assert.True(t, fs.Exists("backup/q1.txt"))
	assert.True(t, fs.Exists("archive/q1.txt"))
	assert.False(t, fs.Exists("reports/q1.txt"))
	assert.True(t, fs.Exists("notes.md"))
}

func TestBuildGlob(t *testing.T) {
	tree := fstest.MapFS{
		"logs/a.log":        {Data: []byte("a")},
		"logs/b.log":        {Data: []byte("b")},
		"logs/keep.txt":     {Data: []byte("k")},
		"logs/old/c.log":    {Data: []byte("c")},
		"logs/old/more.log": {Data: []byte("m")},
	}
	fs := testutil.NewMockFS()
	for name, f := range tree {
		fs.AddFile(name, f.Data)
	}
	fs.AddDir("saved")

	t.Run("copy into a directory", func(t *testing.T) {
		p := &plan.Plan{Version: 1, Steps: []plan.Step{
			{ID: "save", Op: plan.OpCopy, Src: "logs/*.log", Dst: "saved", Glob: true},
		}}
		op, err := p.Build(fs, tree)
		require.NoError(t, err)
		var descs []string
		for _, cmd := range op.Commands() {
			descs = append(descs, cmd.Description())
		}
		assert.ElementsMatch(t, []string{
			"Copy logs/a.log to saved/a.log",
			"Copy logs/b.log to saved/b.log",
		}, descs)
	})

	t.Run("recursive delete pattern", func(t *testing.T) {
		p := &plan.Plan{Version: 1, Steps: []plan.Step{
			{ID: "purge", Op: plan.OpDelete, Path: "logs/**/*.log", Glob: true},
		}}
		op, err := p.Build(fs, tree)
		require.NoError(t, err)
		assert.Equal(t, 4, op.Len())
	})

	t.Run("no matches", func(t *testing.T) {
		p := &plan.Plan{Version: 1, Steps: []plan.Step{
			{ID: "none", Op: plan.OpDelete, Path: "logs/*.tmp", Glob: true},
		}}
		_, err := p.Build(fs, tree)
		assert.ErrorContains(t, err, "matched no files")
	})

	t.Run("bad pattern", func(t *testing.T) {
		p := &plan.Plan{Version: 1, Steps: []plan.Step{
			{ID: "bad", Op: plan.OpDelete, Path: "logs/[a", Glob: true},
		}}
		_, err := p.Build(fs, tree)
		assert.ErrorContains(t, err, "invalid glob pattern")
	})

	t.Run("glob without a tree", func(t *testing.T) {
		p := &plan.Plan{Version: 1, Steps: []plan.Step{
			{ID: "g", Op: plan.OpDelete, Path: "logs/*.log", Glob: true},
		}}
		_, err := p.Build(fs, nil)
		assert.Error(t, err)
	})
}

func TestBuildCarriesBatchSettings(t *testing.T) {
	fs := testutil.NewMockFS()
	p := &plan.Plan{Version: 1, Description: "d", AllowPartialFailure: true, MaxRetries: 7, Steps: []plan.Step{
		{ID: "a", Op: plan.OpDelete, Path: "x"},
	}}
	op, err := p.Build(fs, nil)
	require.NoError(t, err)
	assert.Equal(t, "d", op.Description)
	assert.True(t, op.AllowPartialFailure)
	assert.Equal(t, 7, op.MaxRetries)
}
