package refs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdqctl/sdqctl/pkg/wf"
)

func writeTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg", "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("line1\nline2\nline3\nfunc Handle() {}\nline5\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "sub", "a.go"), []byte("package sub\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "sub", "b.md"), []byte("notes\n"), 0o644))
	return root
}

func TestResolve_LineRange(t *testing.T) {
	root := writeTree(t)
	res, err := Resolve(context.Background(), Roots{"": root}, []wf.Ref{
		{Pattern: "main.go", LineFrom: 2, LineTo: 3},
	})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, "line2\nline3", res.Entries[0].Contents)
}

func TestResolve_SymbolRegex(t *testing.T) {
	root := writeTree(t)
	res, err := Resolve(context.Background(), Roots{"": root}, []wf.Ref{
		{Pattern: "main.go", Symbol: `func Handle\(\) \{\}`},
	})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, "func Handle() {}", res.Entries[0].Contents)
}

func TestResolve_RecursiveGlob(t *testing.T) {
	root := writeTree(t)
	res, err := Resolve(context.Background(), Roots{"": root}, []wf.Ref{
		{Pattern: "pkg/**/*.go"},
	})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Contains(t, res.Entries[0].Path, "a.go")
}

func TestResolve_OptionalMissIsNotAnError(t *testing.T) {
	root := writeTree(t)
	res, err := Resolve(context.Background(), Roots{"": root}, []wf.Ref{
		{Pattern: "does-not-exist.go", Optional: true},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Entries)
	require.Len(t, res.Misses, 1)
	assert.True(t, res.Misses[0].Optional)
}

func TestResolve_ExcludeRemovesMatches(t *testing.T) {
	root := writeTree(t)
	res, err := Resolve(context.Background(), Roots{"": root}, []wf.Ref{
		{Pattern: "pkg/**/*"},
		{Pattern: "pkg/**/*.md", Exclude: true},
	})
	require.NoError(t, err)
	for _, e := range res.Entries {
		assert.NotContains(t, e.Path, ".md")
	}
}

func TestResolve_DedupesByCanonicalPath(t *testing.T) {
	root := writeTree(t)
	res, err := Resolve(context.Background(), Roots{"": root}, []wf.Ref{
		{Pattern: "main.go"},
		{Pattern: "main.go"},
	})
	require.NoError(t, err)
	assert.Len(t, res.Entries, 1)
}

func TestResolve_UnknownAliasErrors(t *testing.T) {
	root := writeTree(t)
	_, err := Resolve(context.Background(), Roots{"": root}, []wf.Ref{
		{Pattern: "main.go", Alias: "nope"},
	})
	require.Error(t, err)
}
