package codex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReasoningAssemblerCompletesPreviousIndexOnce(t *testing.T) {
	a := NewReasoningAssembler()

	_, done := a.AppendDelta("item1", 0, "first ")
	assert.False(t, done)
	_, done = a.AppendDelta("item1", 0, "paragraph")
	assert.False(t, done)

	// Advancing to index 1 completes index 0 exactly once.
	segment, done := a.AppendDelta("item1", 1, "second")
	require.True(t, done)
	assert.Equal(t, "item1_summary_0", segment.PartID)
	assert.Equal(t, "first paragraph", segment.Text)

	_, done = a.AppendDelta("item1", 1, " paragraph")
	assert.False(t, done)
}

func TestReasoningAssemblerSkipsBlankCompletedBuffer(t *testing.T) {
	a := NewReasoningAssembler()

	a.AppendDelta("item1", 0, "   ")
	_, done := a.AppendDelta("item1", 1, "text")
	assert.False(t, done)
}

func TestReasoningAssemblerFinalizeFlushesUnemitted(t *testing.T) {
	a := NewReasoningAssembler()

	a.AppendDelta("item1", 0, "alpha")
	a.AppendDelta("item1", 2, "gamma") // completes index 0
	a.AppendDelta("item1", 1, "beta")  // out of order, buffered

	segments := a.Finalize("item1", nil)
	require.Len(t, segments, 2)
	assert.Equal(t, "item1_summary_1", segments[0].PartID)
	assert.Equal(t, "beta", segments[0].Text)
	assert.Equal(t, "item1_summary_2", segments[1].PartID)
	assert.Equal(t, "gamma", segments[1].Text)

	// State is discarded; a second finalize has nothing left.
	assert.Empty(t, a.Finalize("item1", nil))
}

func TestReasoningAssemblerFinalizeReconcilesAgainstFinalTexts(t *testing.T) {
	a := NewReasoningAssembler()

	a.AppendDelta("item1", 0, "alpha")
	a.AppendDelta("item1", 1, "beta") // completes index 0

	// Index 0 matches what was already emitted, index 1 was never emitted,
	// index 2 is new.
	segments := a.Finalize("item1", []string{"alpha", "beta", "gamma"})
	require.Len(t, segments, 2)
	assert.Equal(t, "item1_summary_1", segments[0].PartID)
	assert.Equal(t, "beta", segments[0].Text)
	assert.Equal(t, "item1_summary_2", segments[1].PartID)
	assert.Equal(t, "gamma", segments[1].Text)
}

func TestReasoningAssemblerFinalizeReemitsDifferingText(t *testing.T) {
	a := NewReasoningAssembler()

	a.AppendDelta("item1", 0, "draft text")
	a.AppendDelta("item1", 1, "next") // emits index 0 as "draft text"

	segments := a.Finalize("item1", []string{"final text"})
	require.Len(t, segments, 1)
	assert.Equal(t, "item1_summary_0", segments[0].PartID)
	assert.Equal(t, "final text", segments[0].Text)
}

func TestReasoningAssemblerFinalizeSkipsBlankFinalTexts(t *testing.T) {
	a := NewReasoningAssembler()
	segments := a.Finalize("item1", []string{"", "  ", "real"})
	require.Len(t, segments, 1)
	assert.Equal(t, "item1_summary_2", segments[0].PartID)
}

func TestReasoningAssemblerIgnoresBlankInputs(t *testing.T) {
	a := NewReasoningAssembler()

	_, done := a.AppendDelta("", 0, "text")
	assert.False(t, done)
	_, done = a.AppendDelta("item1", 0, "")
	assert.False(t, done)
	assert.Empty(t, a.Finalize("", []string{"x"}))
}

func TestReasoningAssemblerClearDropsState(t *testing.T) {
	a := NewReasoningAssembler()
	a.AppendDelta("item1", 0, "alpha")
	a.Clear("item1")
	assert.Empty(t, a.Finalize("item1", nil))
}

func TestReasoningAssemblerTracksItemsIndependently(t *testing.T) {
	a := NewReasoningAssembler()
	a.AppendDelta("item1", 0, "one")
	a.AppendDelta("item2", 0, "two")

	segment, done := a.AppendDelta("item1", 1, "next")
	require.True(t, done)
	assert.Equal(t, "one", segment.Text)

	segments := a.Finalize("item2", nil)
	require.Len(t, segments, 1)
	assert.Equal(t, "two", segments[0].Text)
}
