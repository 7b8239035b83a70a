package codex

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ReasoningSegment is one completed paragraph of the agent's streamed
// reasoning summary, identified by "{itemId}_summary_{index}".
type ReasoningSegment struct {
	PartID string
	Text   string
}

type reasoningItemState struct {
	currentIndex int64
	buffers      map[int64]*strings.Builder
	emitted      map[int64]bool
}

// ReasoningAssembler reconstructs completed summary paragraphs from the
// per-index text deltas the agent streams. A delta arriving for a higher
// summary index marks the previous index's buffer complete.
type ReasoningAssembler struct {
	mu     sync.Mutex
	states map[string]*reasoningItemState
}

// NewReasoningAssembler creates an empty assembler.
func NewReasoningAssembler() *ReasoningAssembler {
	return &ReasoningAssembler{states: make(map[string]*reasoningItemState)}
}

// AppendDelta appends delta to the buffer for (itemID, summaryIndex). When
// summaryIndex advances past the currently tracked index, the previous
// index's buffer is returned exactly once as a completed segment.
func (a *ReasoningAssembler) AppendDelta(itemID string, summaryIndex int64, delta string) (ReasoningSegment, bool) {
	key := strings.TrimSpace(itemID)
	if key == "" || delta == "" {
		return ReasoningSegment{}, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	state := a.states[key]
	if state == nil {
		state = &reasoningItemState{
			currentIndex: -1,
			buffers:      make(map[int64]*strings.Builder),
			emitted:      make(map[int64]bool),
		}
		a.states[key] = state
	}

	var completed ReasoningSegment
	var hasCompleted bool
	if summaryIndex > state.currentIndex && state.currentIndex >= 0 {
		prev := state.currentIndex
		if !state.emitted[prev] {
			if buf, ok := state.buffers[prev]; ok {
				text := buf.String()
				if strings.TrimSpace(text) != "" {
					completed = ReasoningSegment{PartID: reasoningPartID(key, prev), Text: text}
					state.emitted[prev] = true
					hasCompleted = true
				}
			}
		}
	}

	if summaryIndex > state.currentIndex {
		state.currentIndex = summaryIndex
	}

	buf := state.buffers[summaryIndex]
	if buf == nil {
		buf = &strings.Builder{}
		state.buffers[summaryIndex] = buf
	}
	buf.WriteString(delta)

	return completed, hasCompleted
}

// Finalize settles the item's remaining segments and discards its state.
// With an authoritative finalTexts list, only entries differing from what was
// already buffered and emitted are returned; without one, every buffered but
// not yet emitted index is flushed in ascending order.
func (a *ReasoningAssembler) Finalize(itemID string, finalTexts []string) []ReasoningSegment {
	key := strings.TrimSpace(itemID)
	if key == "" {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	state := a.states[key]
	var segments []ReasoningSegment

	if len(finalTexts) > 0 {
		for i, text := range finalTexts {
			if strings.TrimSpace(text) == "" {
				continue
			}
			index := int64(i)

			emit := true
			if state != nil && state.emitted[index] {
				if buf, ok := state.buffers[index]; ok {
					emit = strings.TrimSpace(buf.String()) != strings.TrimSpace(text)
				} else {
					emit = false
				}
			}
			if emit {
				segments = append(segments, ReasoningSegment{PartID: reasoningPartID(key, index), Text: text})
			}
			if state != nil {
				state.emitted[index] = true
				buf := &strings.Builder{}
				buf.WriteString(text)
				state.buffers[index] = buf
			}
		}
	} else if state != nil {
		indices := make([]int64, 0, len(state.buffers))
		for index := range state.buffers {
			indices = append(indices, index)
		}
		sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

		for _, index := range indices {
			if state.emitted[index] {
				continue
			}
			text := state.buffers[index].String()
			if strings.TrimSpace(text) == "" {
				continue
			}
			segments = append(segments, ReasoningSegment{PartID: reasoningPartID(key, index), Text: text})
			state.emitted[index] = true
		}
	}

	delete(a.states, key)
	return segments
}

// Clear drops all state for an item without emitting anything.
func (a *ReasoningAssembler) Clear(itemID string) {
	key := strings.TrimSpace(itemID)
	if key == "" {
		return
	}
	a.mu.Lock()
	delete(a.states, key)
	a.mu.Unlock()
}

func reasoningPartID(itemID string, summaryIndex int64) string {
	return fmt.Sprintf("%s_summary_%d", itemID, summaryIndex)
}
