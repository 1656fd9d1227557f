package watcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileIndex_UpdateAndDependents(t *testing.T) {
	// Given: an index where a.go imports b.go
	idx := NewFileIndex()
	idx.Update("a.go", []string{"b.go"})

	// Then: b.go reports a.go as a dependent
	deps := idx.Dependents("b.go")
	require.Len(t, deps, 1)
	assert.Equal(t, "a.go", deps[0])
}

func TestFileIndex_UpdateReplacesStaleEdges(t *testing.T) {
	// Given: a.go initially imports b.go
	idx := NewFileIndex()
	idx.Update("a.go", []string{"b.go"})

	// When: a.go is re-indexed without that import
	idx.Update("a.go", nil)

	// Then: b.go no longer reports a.go as a dependent
	assert.Empty(t, idx.Dependents("b.go"))
}

func TestFileIndex_RemoveReturnsDependents(t *testing.T) {
	// Given: a.go imports b.go
	idx := NewFileIndex()
	idx.Update("a.go", []string{"b.go"})

	// When: b.go is removed
	dependents := idx.Remove("b.go")

	// Then: a.go is surfaced for reprocessing
	require.Len(t, dependents, 1)
	assert.Equal(t, "a.go", dependents[0])
}

func TestReconcile_CascadesToDependent(t *testing.T) {
	// Given: an index where consumer.go depends on lib.go, and lib.go just changed
	idx := NewFileIndex()
	idx.Update("consumer.go", []string{"lib.go"})

	files := map[string][]byte{
		"lib.go": []byte(`package lib`),
	}
	reader := func(path string) ([]byte, error) { return files[path], nil }

	result := Reconcile(idx, []FileEvent{
		{Path: "lib.go", Operation: OpModify},
	}, reader)

	// Then: both the changed file and its dependent are queued for reprocessing
	assert.Contains(t, result.Reprocess, "lib.go")
	assert.Contains(t, result.Reprocess, "consumer.go")
}

func TestReconcile_DeleteDropsFromReprocessButCascades(t *testing.T) {
	idx := NewFileIndex()
	idx.Update("consumer.go", []string{"lib.go"})

	result := Reconcile(idx, []FileEvent{
		{Path: "lib.go", Operation: OpDelete},
	}, nil)

	assert.Contains(t, result.Removed, "lib.go")
	assert.NotContains(t, result.Reprocess, "lib.go")
	assert.Contains(t, result.Reprocess, "consumer.go")
}

func TestReconcile_GitignoreEventSetsFlagNotReprocess(t *testing.T) {
	idx := NewFileIndex()

	result := Reconcile(idx, []FileEvent{
		{Path: ".gitignore", Operation: OpGitignoreChange},
	}, nil)

	assert.True(t, result.GitignoreChanged)
	assert.Empty(t, result.Reprocess)
}

func TestReconcile_ConfigEventSetsFlag(t *testing.T) {
	idx := NewFileIndex()

	result := Reconcile(idx, []FileEvent{
		{Path: ".cigraph.yaml", Operation: OpConfigChange},
	}, nil)

	assert.True(t, result.ConfigChanged)
}

func TestReconcile_CommentOnlyChangeStillTouchesFileButNotUnrelated(t *testing.T) {
	// A comment-only edit still re-enters the reprocess set here: Reconcile
	// only tracks which files and dependents are in play from raw FileEvents,
	// it has no access to the previously stored content hash. The actual
	// codeHash comparison that turns this into a no-op happens one layer up,
	// in the index coordinator's indexFile (see TestCoordinator_HandleEvents_CommentOnlyChangeSkipsReindex).
	idx := NewFileIndex()
	idx.Update("other.go", []string{"unrelated.go"})

	files := map[string][]byte{
		"solo.go": []byte(`package solo // a comment`),
	}
	reader := func(path string) ([]byte, error) { return files[path], nil }

	result := Reconcile(idx, []FileEvent{
		{Path: "solo.go", Operation: OpModify},
	}, reader)

	assert.Equal(t, []string{"solo.go"}, result.Reprocess)
}

func TestExtractImports_GoRelativeSpecifier(t *testing.T) {
	content := []byte(`package main

import "./sub/helper"
`)
	specs := ExtractImports("main.go", content)
	require.NotEmpty(t, specs)
	assert.Contains(t, specs, "./sub/helper")
}

func TestExtractImports_UnsupportedExtensionReturnsNil(t *testing.T) {
	assert.Nil(t, ExtractImports("readme.md", []byte("# hi")))
}

func TestResolveImport_IgnoresBareSpecifiers(t *testing.T) {
	assert.Equal(t, "", ResolveImport("main.go", "fmt", defaultResolutionExts))
}

func TestResolveImport_ResolvesRelativeSpecifier(t *testing.T) {
	got := ResolveImport("pkg/a.go", "./b", defaultResolutionExts)
	assert.Equal(t, "pkg/b", got)
}
