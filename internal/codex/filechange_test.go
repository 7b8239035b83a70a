package codex

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractFileChangesSinglePayload(t *testing.T) {
	params := json.RawMessage(`{"path":"main.go","diff":"+a\n-b\n"}`)

	payloads := ExtractFileChanges(params)
	require.Len(t, payloads, 1)
	assert.Equal(t, "main.go", payloads[0].Path)
	assert.Equal(t, "+a\n-b\n", payloads[0].Diff)
}

func TestExtractFileChangesAlternateFieldNames(t *testing.T) {
	params := json.RawMessage(`{"file":"main.go","unifiedDiff":"+a\n"}`)

	payloads := ExtractFileChanges(params)
	require.Len(t, payloads, 1)
	assert.Equal(t, "main.go", payloads[0].Path)
	assert.Equal(t, "+a\n", payloads[0].Diff)
}

func TestExtractFileChangesPayloadList(t *testing.T) {
	params := json.RawMessage(`{"files":[{"path":"a.go","diff":"+1\n"},{"path":"b.go","diff":"-2\n"}]}`)

	payloads := ExtractFileChanges(params)
	require.Len(t, payloads, 2)
	assert.Equal(t, "a.go", payloads[0].Path)
	assert.Equal(t, "b.go", payloads[1].Path)
}

func TestExtractFileChangesChangesContainer(t *testing.T) {
	params := json.RawMessage(`{"changes":[{"path":"a.go","patch":"+1\n"}]}`)

	payloads := ExtractFileChanges(params)
	require.Len(t, payloads, 1)
	assert.Equal(t, "+1\n", payloads[0].Diff)
}

func TestExtractFileChangesRawGitDiff(t *testing.T) {
	diff := "diff --git a/x.go b/x.go\n--- a/x.go\n+++ b/x.go\n@@ -1 +1 @@\n-old\n+new\n" +
		"diff --git a/y.go b/y.go\n--- a/y.go\n+++ b/y.go\n@@ -1 +1 @@\n+added\n"
	raw, err := json.Marshal(map[string]string{"diff": diff})
	require.NoError(t, err)

	payloads := ExtractFileChanges(raw)
	require.Len(t, payloads, 2)
	assert.Equal(t, "x.go", payloads[0].Path)
	assert.Equal(t, "y.go", payloads[1].Path)
	assert.Contains(t, payloads[0].Diff, "-old")
	assert.Contains(t, payloads[1].Diff, "+added")
}

func TestExtractFileChangesEmpty(t *testing.T) {
	assert.Nil(t, ExtractFileChanges(nil))
	assert.Nil(t, ExtractFileChanges(json.RawMessage(`{}`)))
	assert.Nil(t, ExtractFileChanges(json.RawMessage(`{"reason":"because"}`)))
}

func TestSplitDiffByFileApplyPatch(t *testing.T) {
	diff := "*** Begin Patch\n" +
		"*** Update File: src/a.go\n" +
		"+line a\n" +
		"*** Add File: src/b.go\n" +
		"+line b\n" +
		"*** End Patch\n"

	payloads := SplitDiffByFile(diff)
	require.Len(t, payloads, 2)
	assert.Equal(t, "src/a.go", payloads[0].Path)
	assert.Equal(t, "+line a", payloads[0].Diff)
	assert.Equal(t, "src/b.go", payloads[1].Path)
	assert.Equal(t, "+line b", payloads[1].Diff)
}

func TestSplitDiffByFileBareUnified(t *testing.T) {
	diff := "--- a/first.go\n+++ b/first.go\n@@ -1 +1 @@\n-x\n+y\n" +
		"--- a/second.go\n+++ b/second.go\n@@ -1 +1 @@\n+z\n"

	payloads := SplitDiffByFile(diff)
	require.Len(t, payloads, 2)
	assert.Equal(t, "first.go", payloads[0].Path)
	assert.Equal(t, "second.go", payloads[1].Path)
}

func TestSplitDiffByFileBareUnifiedSkipsDevNull(t *testing.T) {
	diff := "--- a/gone.go\n+++ /dev/null\n@@ -1 +0,0 @@\n-x\n"

	payloads := SplitDiffByFile(diff)
	assert.Empty(t, payloads)
}

func TestSplitDiffByFileUnrecognized(t *testing.T) {
	assert.Empty(t, SplitDiffByFile("just some text\nwith no headers\n"))
}
