package codex

import (
	"encoding/json"
	"strings"
)

// FileChangePayload is one file's change extracted from a fileChange
// approval request.
type FileChangePayload struct {
	Path    string
	Diff    string
	Added   int
	Removed int
}

type fileChangeWire struct {
	Path        string `json:"path"`
	File        string `json:"file"`
	Diff        string `json:"diff"`
	UnifiedDiff string `json:"unifiedDiff"`
	Patch       string `json:"patch"`
	Added       int    `json:"added"`
	Removed     int    `json:"removed"`
}

func (w *fileChangeWire) toPayload() (FileChangePayload, bool) {
	path := strings.TrimSpace(w.Path)
	if path == "" {
		path = strings.TrimSpace(w.File)
	}
	if path == "" {
		return FileChangePayload{}, false
	}
	diff := w.Diff
	if diff == "" {
		diff = w.UnifiedDiff
	}
	if diff == "" {
		diff = w.Patch
	}
	return FileChangePayload{Path: path, Diff: diff, Added: w.Added, Removed: w.Removed}, true
}

// ExtractFileChanges pulls file payloads out of a fileChange approval
// request's params. The wire shape varies between agent versions, so an
// ordered chain of matchers is tried: a single payload object, a list of
// payloads, then a raw diff blob that has to be split by file boundary.
func ExtractFileChanges(params json.RawMessage) []FileChangePayload {
	if len(params) == 0 {
		return nil
	}

	if payloads, ok := matchSinglePayload(params); ok {
		return payloads
	}
	if payloads, ok := matchPayloadList(params); ok {
		return payloads
	}
	if payloads, ok := matchRawDiff(params); ok {
		return payloads
	}
	return nil
}

func matchSinglePayload(params json.RawMessage) ([]FileChangePayload, bool) {
	var wire fileChangeWire
	if err := json.Unmarshal(params, &wire); err != nil {
		return nil, false
	}
	payload, ok := wire.toPayload()
	if !ok {
		return nil, false
	}
	return []FileChangePayload{payload}, true
}

func matchPayloadList(params json.RawMessage) ([]FileChangePayload, bool) {
	var containers struct {
		Files       []fileChangeWire `json:"files"`
		Changes     []fileChangeWire `json:"changes"`
		FileChanges []fileChangeWire `json:"fileChanges"`
	}
	if err := json.Unmarshal(params, &containers); err != nil {
		return nil, false
	}

	list := containers.Files
	if len(list) == 0 {
		list = containers.Changes
	}
	if len(list) == 0 {
		list = containers.FileChanges
	}
	if len(list) == 0 {
		return nil, false
	}

	payloads := make([]FileChangePayload, 0, len(list))
	for i := range list {
		if payload, ok := list[i].toPayload(); ok {
			payloads = append(payloads, payload)
		}
	}
	if len(payloads) == 0 {
		return nil, false
	}
	return payloads, true
}

func matchRawDiff(params json.RawMessage) ([]FileChangePayload, bool) {
	var wire fileChangeWire
	if err := json.Unmarshal(params, &wire); err != nil {
		return nil, false
	}
	diff := wire.Diff
	if diff == "" {
		diff = wire.UnifiedDiff
	}
	if diff == "" {
		diff = wire.Patch
	}
	if strings.TrimSpace(diff) == "" {
		return nil, false
	}

	payloads := SplitDiffByFile(diff)
	if len(payloads) == 0 {
		return nil, false
	}
	return payloads, true
}

// SplitDiffByFile splits a multi-file diff blob into per-file payloads.
// Three header styles are recognized, tried in order: apply_patch markers
// ("*** Update File: ..."), git-style "diff --git" headers, then bare
// unified-diff "--- /+++ " pairs. The heuristics mirror what the agent is
// known to emit; anything unrecognized yields no payloads.
func SplitDiffByFile(diff string) []FileChangePayload {
	normalized := strings.ReplaceAll(diff, "\r\n", "\n")
	lines := strings.Split(normalized, "\n")

	if payloads := splitApplyPatch(lines); len(payloads) > 0 {
		return payloads
	}
	if payloads := splitGitDiff(lines); len(payloads) > 0 {
		return payloads
	}
	return splitBareUnified(lines)
}

// apply_patch file markers, e.g. "*** Update File: src/main.go".
var applyPatchMarkers = []string{
	"*** Update File:",
	"*** Add File:",
	"*** Delete File:",
	"*** Move to:",
}

func splitApplyPatch(lines []string) []FileChangePayload {
	var payloads []FileChangePayload
	var current *FileChangePayload
	var body []string

	flush := func() {
		if current != nil {
			current.Diff = strings.Join(body, "\n")
			payloads = append(payloads, *current)
		}
		current = nil
		body = nil
	}

	for _, line := range lines {
		if strings.HasPrefix(line, "*** Begin Patch") || strings.HasPrefix(line, "*** End Patch") {
			flush()
			continue
		}

		matched := false
		for _, marker := range applyPatchMarkers {
			if strings.HasPrefix(line, marker) {
				flush()
				path := strings.TrimSpace(strings.TrimPrefix(line, marker))
				if path != "" {
					current = &FileChangePayload{Path: path}
				}
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		if current != nil {
			body = append(body, line)
		}
	}
	flush()
	return payloads
}

func splitGitDiff(lines []string) []FileChangePayload {
	var payloads []FileChangePayload
	var current *FileChangePayload
	var body []string

	flush := func() {
		if current != nil {
			current.Diff = strings.Join(body, "\n")
			payloads = append(payloads, *current)
		}
		current = nil
		body = nil
	}

	for _, line := range lines {
		if strings.HasPrefix(line, "diff --git ") {
			flush()
			if path := pathFromGitHeader(line); path != "" {
				current = &FileChangePayload{Path: path}
				body = append(body, line)
			}
			continue
		}
		if current != nil {
			body = append(body, line)
		}
	}
	flush()
	return payloads
}

// pathFromGitHeader extracts the b-side path from "diff --git a/x b/x".
func pathFromGitHeader(line string) string {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return ""
	}
	return strings.TrimPrefix(fields[3], "b/")
}

func splitBareUnified(lines []string) []FileChangePayload {
	var payloads []FileChangePayload
	var current *FileChangePayload
	var body []string

	flush := func() {
		if current != nil {
			current.Diff = strings.Join(body, "\n")
			payloads = append(payloads, *current)
		}
		current = nil
		body = nil
	}

	for i, line := range lines {
		if strings.HasPrefix(line, "--- ") && i+1 < len(lines) && strings.HasPrefix(lines[i+1], "+++ ") {
			flush()
			if path := pathFromUnifiedHeader(lines[i+1]); path != "" {
				current = &FileChangePayload{Path: path}
			}
		}
		if current != nil {
			body = append(body, line)
		}
	}
	flush()
	return payloads
}

// pathFromUnifiedHeader extracts the path from a "+++ b/path" header line.
func pathFromUnifiedHeader(line string) string {
	path := strings.TrimSpace(strings.TrimPrefix(line, "+++ "))
	path = strings.TrimPrefix(path, "b/")
	if path == "/dev/null" {
		return ""
	}
	return path
}
