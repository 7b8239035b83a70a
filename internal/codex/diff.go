package codex

import (
	"sort"
	"strings"
	"sync"
)

// FileSnapshot is the latest recorded change for one file within a run.
type FileSnapshot struct {
	Path    string `json:"path"`
	Diff    string `json:"diff,omitempty"`
	Added   int    `json:"added"`
	Removed int    `json:"removed"`
}

// FileSummary is the per-file entry of a DiffSummary.
type FileSummary struct {
	Path    string `json:"path"`
	Added   int    `json:"added"`
	Removed int    `json:"removed"`
}

// DiffSummary aggregates line counts across every file touched in a run.
type DiffSummary struct {
	Files        []FileSummary `json:"files"`
	TotalAdded   int           `json:"totalAdded"`
	TotalRemoved int           `json:"totalRemoved"`
}

// DiffTracker keeps the latest diff per file for one run. Each Update
// overwrites the previous snapshot for that path; hunks are never merged
// across calls.
type DiffTracker struct {
	mu    sync.Mutex
	files map[string]FileSnapshot
}

// NewDiffTracker creates an empty tracker.
func NewDiffTracker() *DiffTracker {
	return &DiffTracker{files: make(map[string]FileSnapshot)}
}

// Update records the latest diff for path and returns the stored snapshot.
// Line counts are recomputed from the diff body; when the body has no
// countable lines (binary or metadata-only changes) a non-zero caller-supplied
// pair is kept instead. Returns nil for a blank path.
func (t *DiffTracker) Update(path, diff string, added, removed int) *FileSnapshot {
	normalized := strings.TrimSpace(path)
	if normalized == "" {
		return nil
	}

	diffText := diff
	if strings.TrimSpace(diffText) == "" {
		diffText = ""
	}

	addedCount, removedCount := CountUnifiedDiffLines(diffText)
	if addedCount == 0 && removedCount == 0 && (added != 0 || removed != 0) {
		addedCount = added
		removedCount = removed
	}

	snapshot := FileSnapshot{
		Path:    normalized,
		Diff:    diffText,
		Added:   addedCount,
		Removed: removedCount,
	}

	t.mu.Lock()
	t.files[normalized] = snapshot
	t.mu.Unlock()
	return &snapshot
}

// HasChanges reports whether any file snapshot has been recorded.
func (t *DiffTracker) HasChanges() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.files) > 0
}

// Snapshots returns all recorded snapshots ordered by path.
func (t *DiffTracker) Snapshots() []FileSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := make([]FileSnapshot, 0, len(t.files))
	for _, snap := range t.files {
		result = append(result, snap)
	}
	sort.Slice(result, func(i, j int) bool {
		return strings.ToLower(result[i].Path) < strings.ToLower(result[j].Path)
	})
	return result
}

// BuildSummary aggregates added/removed totals across all recorded files.
func (t *DiffTracker) BuildSummary() DiffSummary {
	files := t.Snapshots()

	summary := DiffSummary{Files: make([]FileSummary, 0, len(files))}
	for _, file := range files {
		summary.Files = append(summary.Files, FileSummary{
			Path:    file.Path,
			Added:   file.Added,
			Removed: file.Removed,
		})
		summary.TotalAdded += file.Added
		summary.TotalRemoved += file.Removed
	}
	return summary
}

// CountUnifiedDiffLines counts added and removed lines in a unified diff
// body, skipping the header lines ("+++ ", "--- ", "@@ ", "diff ", "index ").
func CountUnifiedDiffLines(diff string) (added, removed int) {
	if strings.TrimSpace(diff) == "" {
		return 0, 0
	}

	normalized := strings.ReplaceAll(diff, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	for _, line := range strings.Split(normalized, "\n") {
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "+++ ") ||
			strings.HasPrefix(line, "--- ") ||
			strings.HasPrefix(line, "@@ ") ||
			strings.HasPrefix(line, "diff ") ||
			strings.HasPrefix(line, "index ") {
			continue
		}
		switch line[0] {
		case '+':
			added++
		case '-':
			removed++
		}
	}
	return added, removed
}
