package codex

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"codex-bridge/internal/protocol"
)

const (
	defaultExecutable = "codex"
	appServerArg      = "app-server"

	// ExecutableEnv overrides the codex binary looked up on PATH.
	ExecutableEnv = "CODEX_BRIDGE_CODEX_BIN"

	warmupMethod   = "mcpServerStatus/list"
	warmupBase     = 200 * time.Millisecond
	warmupDeadline = 2 * time.Second

	// Agent stdout lines can carry whole file diffs.
	maxLineSize = 10 * 1024 * 1024
)

// RunRequest describes one turn to execute against the agent.
type RunRequest struct {
	Prompt           string
	ImageDataURLs    []string
	SessionID        string
	WorkingDirectory string
	Model            string
	Sandbox          string
	ApprovalPolicy   string
	Effort           string
	SkipGitRepoCheck bool
}

// TurnResult is the terminal state of a completed turn.
type TurnResult struct {
	ThreadID       string
	TurnID         string
	Status         string
	FailureMessage string
}

// EmitFunc delivers one event envelope to connected clients.
type EmitFunc func(protocol.Envelope)

// ApprovalFunc blocks until a human decides on an approval request, the
// context is canceled, or the broker declines on the caller's behalf.
type ApprovalFunc func(ctx context.Context, req ApprovalRequest) (ApprovalDecision, error)

// Runner executes turns by spawning one agent subprocess per turn and
// driving its line-delimited JSON-RPC lifecycle.
type Runner struct {
	executable string
	plans      *PlanStore
}

// NewRunner creates a runner. executable may be empty to use the default
// PATH lookup; plans receives every turn plan the agent publishes.
func NewRunner(executable string, plans *PlanStore) *Runner {
	if strings.TrimSpace(executable) == "" {
		executable = defaultExecutable
	}
	return &Runner{executable: executable, plans: plans}
}

func (r *Runner) resolveExecutable() (string, error) {
	name := r.executable
	if override := strings.TrimSpace(os.Getenv(ExecutableEnv)); override != "" {
		name = override
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("resolve codex executable %q: %w", name, err)
	}
	return path, nil
}

// RunTurn spawns the agent, executes one turn, and tears the subprocess down
// on every exit path. Cancellation propagates as ctx.Err(); a non-zero
// subprocess exit before turn completion is a fatal error.
func (r *Runner) RunTurn(ctx context.Context, runID string, req RunRequest, emit EmitFunc, requestApproval ApprovalFunc) (TurnResult, error) {
	bin, err := r.resolveExecutable()
	if err != nil {
		return TurnResult{}, err
	}

	if wd := strings.TrimSpace(req.WorkingDirectory); wd != "" {
		info, statErr := os.Stat(wd)
		if statErr != nil || !info.IsDir() {
			return TurnResult{}, fmt.Errorf("working directory not accessible: %s", wd)
		}
		req.WorkingDirectory = wd
	}

	cmd := exec.Command(bin, appServerArg)
	cmd.Dir = req.WorkingDirectory

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return TurnResult{}, fmt.Errorf("open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return TurnResult{}, fmt.Errorf("open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return TurnResult{}, fmt.Errorf("open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return TurnResult{}, fmt.Errorf("start codex app-server: %w", err)
	}

	t := &turnSession{
		runID:           runID,
		req:             req,
		conn:            newConn(stdin),
		emit:            emit,
		requestApproval: requestApproval,
		plans:           r.plans,
		diff:            NewDiffTracker(),
		reasoning:       NewReasoningAssembler(),
		completedCh:     make(chan TurnResult, 1),
	}

	var pumps sync.WaitGroup
	pumps.Add(2)
	go func() {
		defer pumps.Done()
		t.pumpStderr(stderr)
	}()
	go func() {
		defer pumps.Done()
		t.pumpStdout(ctx, stdout)
	}()

	var waitErr error
	waitDone := make(chan struct{})
	go func() {
		pumps.Wait()
		waitErr = cmd.Wait()
		close(waitDone)
	}()

	result, runErr := t.execute(ctx, waitDone, func() error { return waitErr })

	// Teardown runs unconditionally: close stdin so the agent sees EOF, kill
	// it if still alive, then wait for both pumps to drain.
	_ = stdin.Close()
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	<-waitDone
	t.conn.drainPending()
	t.emitDiffSummary()

	return result, runErr
}

// turnSession is the per-turn state shared between the orchestration flow,
// the stdout pump, and approval handler goroutines.
type turnSession struct {
	runID           string
	req             RunRequest
	conn            *conn
	emit            EmitFunc
	requestApproval ApprovalFunc
	plans           *PlanStore
	diff            *DiffTracker
	reasoning       *ReasoningAssembler

	mu       sync.Mutex
	threadID string
	turnID   string

	completedCh chan TurnResult
	summaryOnce sync.Once
}

func (t *turnSession) execute(ctx context.Context, waitDone <-chan struct{}, waitErr func() error) (TurnResult, error) {
	if err := t.initialize(ctx); err != nil {
		return TurnResult{}, err
	}

	t.warmUp(ctx)

	threadID, err := t.ensureThread(ctx)
	if err != nil {
		return TurnResult{}, err
	}
	t.setThreadID(threadID)

	turnID, err := t.startTurn(ctx, threadID)
	if err != nil {
		return TurnResult{}, err
	}
	t.setTurnID(turnID)

	t.event(protocol.EvTurnStarted, map[string]any{
		"runId":    t.runID,
		"threadId": threadID,
		"turnId":   turnID,
	})

	select {
	case result := <-t.completedCh:
		return result, nil
	case <-waitDone:
		if err := waitErr(); err != nil {
			return TurnResult{}, fmt.Errorf("codex app-server exited before turn completion: %w", err)
		}
		return TurnResult{ThreadID: threadID, TurnID: turnID, Status: "completed"}, nil
	case <-ctx.Done():
		return TurnResult{}, ctx.Err()
	}
}

func (t *turnSession) initialize(ctx context.Context) error {
	params := map[string]any{
		"clientInfo": map[string]any{"name": "codex-bridge", "version": "0.0"},
	}
	if _, err := t.conn.call(ctx, "initialize", params); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	return nil
}

// warmUp asks the agent for its tool-server status so MCP servers spin up
// before the turn starts. Best effort: retried with doubling backoff under an
// overall deadline, failures logged and swallowed.
func (t *turnSession) warmUp(ctx context.Context) {
	deadline := time.Now().Add(warmupDeadline)
	delay := warmupBase

	var lastErr error
	for {
		callCtx, cancel := context.WithDeadline(ctx, deadline)
		_, err := t.conn.call(callCtx, warmupMethod, nil)
		cancel()
		if err == nil {
			return
		}
		lastErr = err

		if ctx.Err() != nil || time.Now().Add(delay).After(deadline) {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		delay *= 2
	}
	log.Printf("codex warm-up skipped for run %s: %v", t.runID, lastErr)
}

type threadResponse struct {
	Thread struct {
		ID string `json:"id"`
	} `json:"thread"`
}

func (t *turnSession) ensureThread(ctx context.Context) (string, error) {
	if sessionID := strings.TrimSpace(t.req.SessionID); sessionID != "" {
		result, err := t.conn.call(ctx, "thread/resume", map[string]any{"threadId": sessionID})
		if err != nil {
			return "", fmt.Errorf("thread/resume: %w", err)
		}
		threadID, ok := threadIDFromResponse(result)
		if !ok {
			return "", fmt.Errorf("thread/resume returned no thread.id")
		}
		return threadID, nil
	}

	params := map[string]any{"cwd": t.req.WorkingDirectory}
	if t.req.Model != "" {
		params["model"] = t.req.Model
	}
	if t.req.Sandbox != "" {
		params["sandbox"] = t.req.Sandbox
	}
	if t.req.ApprovalPolicy != "" {
		params["approvalPolicy"] = t.req.ApprovalPolicy
	}
	if t.req.SkipGitRepoCheck {
		params["skipGitRepoCheck"] = true
	}

	result, err := t.conn.call(ctx, "thread/start", params)
	if err != nil {
		return "", fmt.Errorf("thread/start: %w", err)
	}
	threadID, ok := threadIDFromResponse(result)
	if !ok {
		return "", fmt.Errorf("thread/start returned no thread.id")
	}

	t.event(protocol.EvSessionCreated, map[string]any{
		"runId":     t.runID,
		"sessionId": threadID,
	})
	return threadID, nil
}

func threadIDFromResponse(result json.RawMessage) (string, bool) {
	var resp threadResponse
	if err := json.Unmarshal(result, &resp); err != nil {
		return "", false
	}
	id := strings.TrimSpace(resp.Thread.ID)
	return id, id != ""
}

func (t *turnSession) startTurn(ctx context.Context, threadID string) (string, error) {
	params := map[string]any{
		"threadId": threadID,
		"input":    buildTurnInput(t.req.Prompt, t.req.ImageDataURLs),
		"cwd":      t.req.WorkingDirectory,
	}
	if t.req.Model != "" {
		params["model"] = t.req.Model
	}
	if t.req.Effort != "" {
		params["effort"] = t.req.Effort
	}
	if t.req.ApprovalPolicy != "" {
		params["approvalPolicy"] = t.req.ApprovalPolicy
	}
	if policy := buildSandboxPolicy(t.req.Sandbox, t.req.WorkingDirectory); policy != nil {
		params["sandboxPolicy"] = policy
	}

	result, err := t.conn.call(ctx, "turn/start", params)
	if err != nil {
		return "", fmt.Errorf("turn/start: %w", err)
	}

	var resp struct {
		Turn struct {
			ID string `json:"id"`
		} `json:"turn"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return "", fmt.Errorf("turn/start returned no turn: %w", err)
	}
	turnID := strings.TrimSpace(resp.Turn.ID)
	if turnID == "" {
		return "", fmt.Errorf("turn/start returned no turn.id")
	}
	return turnID, nil
}

type turnInputItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
}

func buildTurnInput(prompt string, imageDataURLs []string) []turnInputItem {
	items := make([]turnInputItem, 0, 1+len(imageDataURLs))
	if strings.TrimSpace(prompt) != "" {
		items = append(items, turnInputItem{Type: "text", Text: prompt})
	}
	for _, url := range imageDataURLs {
		if url = strings.TrimSpace(url); url != "" {
			items = append(items, turnInputItem{Type: "image", URL: url})
		}
	}
	if len(items) == 0 {
		items = append(items, turnInputItem{Type: "text", Text: ""})
	}
	return items
}

func buildSandboxPolicy(mode, workingDirectory string) map[string]any {
	switch strings.TrimSpace(mode) {
	case "read-only":
		return map[string]any{"type": "readOnly"}
	case "workspace-write":
		roots := []string{}
		if wd := strings.TrimSpace(workingDirectory); wd != "" {
			roots = []string{wd}
		}
		return map[string]any{
			"type":                "workspaceWrite",
			"writableRoots":       roots,
			"networkAccess":       false,
			"excludeTmpdirEnvVar": false,
			"excludeSlashTmp":     false,
		}
	case "danger-full-access":
		return map[string]any{"type": "dangerFullAccess"}
	default:
		return nil
	}
}

func (t *turnSession) pumpStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		log.Printf("codex app-server stderr: %s", line)
	}
}

func (t *turnSession) pumpStdout(ctx context.Context, r io.Reader) {
	// Unblock callers waiting on responses once the stream closes.
	defer t.conn.drainPending()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		msg, ok := parseInbound(scanner.Bytes())
		if !ok {
			continue
		}
		switch msg.kind() {
		case kindResponse:
			t.conn.dispatchResponse(msg)
		case kindServerRequest:
			go t.handleServerRequest(ctx, *msg.ID, msg.Method, msg.Params)
		case kindNotification:
			t.handleNotification(msg.Method, msg.Params)
		}
	}
}

// notificationScope carries the ids every notification is filtered by.
type notificationScope struct {
	ThreadID string `json:"threadId"`
	TurnID   string `json:"turnId"`
}

// inScope adopts the first threadId observed and drops notifications carrying
// a foreign threadId or turnId.
func (t *turnSession) inScope(scope notificationScope) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tid := strings.TrimSpace(scope.ThreadID); tid != "" {
		if t.threadID == "" {
			t.threadID = tid
		} else if tid != t.threadID {
			return false
		}
	}
	if tid := strings.TrimSpace(scope.TurnID); tid != "" && t.turnID != "" && tid != t.turnID {
		return false
	}
	return true
}

func (t *turnSession) handleNotification(method string, params json.RawMessage) {
	if len(params) == 0 {
		return
	}
	var scope notificationScope
	if err := json.Unmarshal(params, &scope); err != nil {
		return
	}
	if !t.inScope(scope) {
		return
	}

	switch method {
	case "turn/completed":
		t.onTurnCompleted(params)
	case "turn/plan/updated":
		t.onPlanUpdated(params)
	case "item/agentMessage/delta":
		t.onAgentMessageDelta(params)
	case "item/reasoning/summaryTextDelta":
		t.onReasoningDelta(params)
	case "item/commandExecution/outputDelta":
		t.onCommandOutputDelta(params)
	case "item/started":
		t.onItemStarted(params)
	case "item/completed":
		t.onItemCompleted(params)
	}
}

type turnPayload struct {
	Turn struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"turn"`
}

func (t *turnSession) onTurnCompleted(params json.RawMessage) {
	var payload turnPayload
	if err := json.Unmarshal(params, &payload); err != nil {
		return
	}
	completedID := strings.TrimSpace(payload.Turn.ID)
	if completedID == "" || completedID != t.currentTurnID() {
		return
	}

	status := payload.Turn.Status
	if status == "" {
		status = "completed"
	}
	result := TurnResult{
		ThreadID: t.currentThreadID(),
		TurnID:   completedID,
		Status:   status,
	}
	select {
	case t.completedCh <- result:
	default:
	}
}

func (t *turnSession) onPlanUpdated(params json.RawMessage) {
	var payload struct {
		ThreadID    string `json:"threadId"`
		TurnID      string `json:"turnId"`
		Explanation string `json:"explanation"`
		Plan        []struct {
			Step   string `json:"step"`
			Status string `json:"status"`
		} `json:"plan"`
	}
	if err := json.Unmarshal(params, &payload); err != nil {
		return
	}

	threadID := strings.TrimSpace(payload.ThreadID)
	if threadID == "" {
		threadID = t.currentThreadID()
	}
	turnID := strings.TrimSpace(payload.TurnID)
	if turnID == "" {
		turnID = t.currentTurnID()
	}
	if threadID == "" || turnID == "" || payload.Plan == nil {
		return
	}

	steps := make([]PlanStep, 0, len(payload.Plan))
	for _, entry := range payload.Plan {
		step := strings.TrimSpace(entry.Step)
		status := strings.TrimSpace(entry.Status)
		if step == "" || status == "" {
			continue
		}
		steps = append(steps, PlanStep{Step: step, Status: status})
	}

	snapshot := PlanSnapshot{
		SessionID:   threadID,
		TurnID:      turnID,
		Explanation: strings.TrimSpace(payload.Explanation),
		Plan:        steps,
		UpdatedAt:   time.Now().UTC(),
	}
	if t.plans != nil {
		t.plans.Upsert(snapshot)
	}

	t.event(protocol.EvRunPlanUpdated, map[string]any{
		"runId":       t.runID,
		"threadId":    threadID,
		"turnId":      turnID,
		"explanation": snapshot.Explanation,
		"plan":        snapshot.Plan,
		"updatedAt":   snapshot.UpdatedAt,
	})
}

type itemDeltaPayload struct {
	ItemID       string `json:"itemId"`
	Delta        string `json:"delta"`
	SummaryIndex int64  `json:"summaryIndex"`
}

func (t *turnSession) onAgentMessageDelta(params json.RawMessage) {
	var payload itemDeltaPayload
	if err := json.Unmarshal(params, &payload); err != nil {
		return
	}
	if payload.Delta == "" || strings.TrimSpace(payload.ItemID) == "" {
		return
	}
	t.event(protocol.EvChatMessageDelta, map[string]any{
		"runId":  t.runID,
		"itemId": payload.ItemID,
		"delta":  payload.Delta,
	})
}

func (t *turnSession) onReasoningDelta(params json.RawMessage) {
	var payload itemDeltaPayload
	if err := json.Unmarshal(params, &payload); err != nil {
		return
	}
	itemID := strings.TrimSpace(payload.ItemID)
	if payload.Delta == "" || itemID == "" {
		return
	}

	partID := reasoningPartID(itemID, payload.SummaryIndex)
	t.event(protocol.EvRunReasoningDelta, map[string]any{
		"runId":     t.runID,
		"itemId":    partID,
		"textDelta": payload.Delta,
	})

	if segment, done := t.reasoning.AppendDelta(itemID, payload.SummaryIndex, payload.Delta); done {
		t.event(protocol.EvRunReasoning, map[string]any{
			"runId":  t.runID,
			"itemId": segment.PartID,
			"text":   segment.Text,
		})
	}
}

func (t *turnSession) onCommandOutputDelta(params json.RawMessage) {
	var payload itemDeltaPayload
	if err := json.Unmarshal(params, &payload); err != nil {
		return
	}
	if payload.Delta == "" || strings.TrimSpace(payload.ItemID) == "" {
		return
	}
	t.event(protocol.EvRunCommandOutput, map[string]any{
		"runId":  t.runID,
		"itemId": payload.ItemID,
		"delta":  payload.Delta,
	})
}

type itemPayload struct {
	Item struct {
		ID               string   `json:"id"`
		Type             string   `json:"type"`
		Command          string   `json:"command"`
		Status           string   `json:"status"`
		Text             string   `json:"text"`
		AggregatedOutput string   `json:"aggregatedOutput"`
		ExitCode         *int     `json:"exitCode"`
		Summary          []string `json:"summary"`
	} `json:"item"`
}

func (t *turnSession) onItemStarted(params json.RawMessage) {
	var payload itemPayload
	if err := json.Unmarshal(params, &payload); err != nil {
		return
	}
	item := payload.Item
	if strings.TrimSpace(item.ID) == "" || item.Type != "commandExecution" {
		return
	}
	if strings.TrimSpace(item.Command) == "" {
		return
	}
	status := item.Status
	if status == "" {
		status = "inProgress"
	}
	t.event(protocol.EvRunCommand, map[string]any{
		"runId":   t.runID,
		"itemId":  item.ID,
		"command": item.Command,
		"status":  status,
	})
}

func (t *turnSession) onItemCompleted(params json.RawMessage) {
	var payload itemPayload
	if err := json.Unmarshal(params, &payload); err != nil {
		return
	}
	item := payload.Item
	itemID := strings.TrimSpace(item.ID)
	if itemID == "" {
		return
	}

	switch item.Type {
	case "agentMessage":
		if strings.TrimSpace(item.Text) == "" {
			return
		}
		t.event(protocol.EvChatMessage, map[string]any{
			"runId": t.runID,
			"role":  "assistant",
			"text":  item.Text,
		})

	case "commandExecution":
		if strings.TrimSpace(item.Command) == "" {
			return
		}
		status := item.Status
		if status == "" {
			status = "completed"
		}
		data := map[string]any{
			"runId":   t.runID,
			"itemId":  itemID,
			"command": item.Command,
			"status":  status,
		}
		if item.ExitCode != nil {
			data["exitCode"] = *item.ExitCode
		}
		if item.AggregatedOutput != "" {
			data["output"] = item.AggregatedOutput
		}
		t.event(protocol.EvRunCommand, data)

	case "reasoning":
		for _, segment := range t.reasoning.Finalize(itemID, item.Summary) {
			t.event(protocol.EvRunReasoning, map[string]any{
				"runId":  t.runID,
				"itemId": segment.PartID,
				"text":   segment.Text,
			})
		}
	}
}

func (t *turnSession) handleServerRequest(ctx context.Context, id int64, method string, params json.RawMessage) {
	switch method {
	case "item/commandExecution/requestApproval":
		t.handleApproval(ctx, id, "commandExecution", params)
	case "item/fileChange/requestApproval":
		t.handleApproval(ctx, id, "fileChange", params)
	default:
		if err := t.conn.replyError(id, rpcMethodNotFound, "unsupported request: "+method); err != nil {
			log.Printf("codex reply failed for run %s: %v", t.runID, err)
		}
	}
}

func (t *turnSession) handleApproval(ctx context.Context, id int64, kind string, params json.RawMessage) {
	approval := parseApprovalRequest(id, kind, params)

	decision, err := t.requestApproval(ctx, approval)
	if err != nil {
		log.Printf("codex approval %s failed for run %s: %v", approval.RequestID, t.runID, err)
		if replyErr := t.conn.replyError(id, rpcApplicationError, err.Error()); replyErr != nil {
			log.Printf("codex reply failed for run %s: %v", t.runID, replyErr)
		}
		return
	}

	normalized := NormalizeDecision(decision.Decision, DecisionDecline)

	var result any
	switch kind {
	case "commandExecution":
		result = commandExecutionApprovalResult(normalized, decision.ExecpolicyAmendment)
	default:
		// Accepted file changes update the diff state and notify clients
		// before the agent is unblocked.
		if DecisionAccepted(normalized) {
			t.recordFileChanges(params)
		}
		result = map[string]any{"decision": normalized}
	}

	if err := t.conn.reply(id, result); err != nil {
		log.Printf("codex reply failed for run %s: %v", t.runID, err)
	}
}

func parseApprovalRequest(id int64, kind string, params json.RawMessage) ApprovalRequest {
	var wire struct {
		ThreadID                    string   `json:"threadId"`
		TurnID                      string   `json:"turnId"`
		ItemID                      string   `json:"itemId"`
		Reason                      string   `json:"reason"`
		GrantRoot                   string   `json:"grantRoot"`
		ProposedExecpolicyAmendment []string `json:"proposedExecpolicyAmendment"`
	}
	_ = json.Unmarshal(params, &wire)

	var proposed []string
	for _, entry := range wire.ProposedExecpolicyAmendment {
		if strings.TrimSpace(entry) != "" {
			proposed = append(proposed, entry)
		}
	}

	return ApprovalRequest{
		RequestID:                   strconv.FormatInt(id, 10),
		Kind:                        kind,
		ThreadID:                    wire.ThreadID,
		TurnID:                      wire.TurnID,
		ItemID:                      wire.ItemID,
		Reason:                      wire.Reason,
		GrantRoot:                   wire.GrantRoot,
		ProposedExecpolicyAmendment: proposed,
	}
}

func commandExecutionApprovalResult(normalized string, amendment []string) any {
	if normalized == DecisionAcceptAmendment && len(amendment) > 0 {
		return map[string]any{
			"decision": map[string]any{
				"acceptWithExecpolicyAmendment": map[string]any{
					"execpolicy_amendment": amendment,
				},
			},
		}
	}
	return map[string]any{"decision": normalized}
}

func (t *turnSession) recordFileChanges(params json.RawMessage) {
	payloads := ExtractFileChanges(params)
	if len(payloads) == 0 {
		return
	}

	files := make([]FileSnapshot, 0, len(payloads))
	for _, payload := range payloads {
		if snap := t.diff.Update(payload.Path, payload.Diff, payload.Added, payload.Removed); snap != nil {
			files = append(files, *snap)
		}
	}
	if len(files) == 0 {
		return
	}

	t.event(protocol.EvDiffUpdated, map[string]any{
		"runId":    t.runID,
		"threadId": t.currentThreadID(),
		"files":    files,
	})
}

// emitDiffSummary publishes the aggregated per-file totals exactly once, on
// whichever exit path runs first.
func (t *turnSession) emitDiffSummary() {
	t.summaryOnce.Do(func() {
		if !t.diff.HasChanges() {
			return
		}
		summary := t.diff.BuildSummary()
		t.event(protocol.EvDiffSummary, map[string]any{
			"runId":        t.runID,
			"threadId":     t.currentThreadID(),
			"files":        summary.Files,
			"totalAdded":   summary.TotalAdded,
			"totalRemoved": summary.TotalRemoved,
		})
	})
}

func (t *turnSession) event(name string, data map[string]any) {
	if t.emit == nil {
		return
	}
	t.emit(protocol.MustEvent(name, data))
}

func (t *turnSession) setThreadID(id string) {
	t.mu.Lock()
	if t.threadID == "" {
		t.threadID = id
	}
	t.mu.Unlock()
}

func (t *turnSession) setTurnID(id string) {
	t.mu.Lock()
	t.turnID = id
	t.mu.Unlock()
}

func (t *turnSession) currentThreadID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.threadID
}

func (t *turnSession) currentTurnID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.turnID
}
