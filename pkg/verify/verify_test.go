package verify

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRegistryBuiltins(t *testing.T) {
	r := NewRegistry()
	kinds := r.Kinds()
	assert.Equal(t, []string{"assertions", "coverage", "links", "refs", "terminology", "traceability"}, kinds)
}

func TestRegistryUnknownKind(t *testing.T) {
	r := NewRegistry()
	_, err := r.Run(context.Background(), "nonexistent", t.TempDir(), nil)
	require.Error(t, err)
	var unk *ErrUnknownKind
	require.ErrorAs(t, err, &unk)
	assert.Equal(t, "nonexistent", unk.Kind)
}

func TestRefsResolved(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "target.go", "package main\n")
	writeFile(t, dir, "doc.md", "see @target.go for details\n")

	res, err := Refs(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Empty(t, res.Errors)
}

func TestRefsUnresolved(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "doc.md", "see @missing.go for details\n")

	res, err := Refs(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "unresolved")
}

func TestLinksLocalMissing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "doc.md", "see [details](./missing.md) for more\n")

	res, err := Links(context.Background(), dir, []string{"**/*.md"})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "missing.md")
}

func TestLinksLocalPresent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "other.md", "# Other\n")
	writeFile(t, dir, "doc.md", "see [other](./other.md) for more\n")

	res, err := Links(context.Background(), dir, []string{"**/*.md"})
	require.NoError(t, err)
	assert.True(t, res.Passed)
}

func TestTraceabilityUnreferenced(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "requirements.md", "REQ-1: the system must log errors\n")

	res, err := Traceability(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Contains(t, res.Errors[0], "REQ-1")
}

func TestTraceabilityReferenced(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "requirements.md", "REQ-1: the system must log errors\n")
	writeFile(t, dir, "impl_notes.md", "Implements REQ-1 in internal/logger\n")

	res, err := Traceability(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.True(t, res.Passed)
}

func TestTerminologyNoConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "doc.md", "uses the old blacklist term\n")

	res, err := Terminology(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.True(t, res.Passed)
}

func TestTerminologyFlagsDeprecated(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".sdqctl/terminology.toml", "[deprecated]\nblacklist = \"denylist\"\n")
	writeFile(t, dir, "doc.md", "uses the old blacklist term\n")

	res, err := Terminology(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Contains(t, res.Errors[0], "blacklist")
	assert.Contains(t, res.Errors[0], "denylist")
}

func TestAssertionsContains(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "doc.md", "ASSERT-CONTAINS: hello\nhello world\n")

	res, err := Assertions(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.True(t, res.Passed)
}

func TestAssertionsContainsFails(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "doc.md", "ASSERT-CONTAINS: goodbye\nhello world\n")

	res, err := Assertions(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Contains(t, res.Errors[0], "goodbye")
}

func TestAssertionsNotContainsFails(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "doc.md", "ASSERT-NOT-CONTAINS: TODO\nTODO: fix this\n")

	res, err := Assertions(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.False(t, res.Passed)
}

func TestAssertionsMatches(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "doc.md", "ASSERT-MATCHES: ^# \\w+\n# Title\nbody text\n")

	res, err := Assertions(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.True(t, res.Passed)
}
