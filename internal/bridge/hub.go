package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"codex-bridge/internal/codex"
	"codex-bridge/internal/protocol"
	"codex-bridge/internal/translate"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Paired devices connect from LAN origins.
	},
}

// TurnRunner executes one agent turn. Satisfied by *codex.Runner.
type TurnRunner interface {
	RunTurn(ctx context.Context, runID string, req codex.RunRequest, emit codex.EmitFunc, requestApproval codex.ApprovalFunc) (codex.TurnResult, error)
}

// RunDefaults supplies fallback sandbox/approval settings for sends that
// leave them blank. Satisfied by *config.CodexDefaults.
type RunDefaults interface {
	DefaultRunSettings() (approvalPolicy, sandbox string)
}

// PairingNotification is pushed to loopback clients when an external pairing
// flow wants operator attention.
type PairingNotification struct {
	RequestID   string    `json:"requestId"`
	DeviceName  string    `json:"deviceName"`
	Platform    string    `json:"platform"`
	DeviceModel string    `json:"deviceModel"`
	AppVersion  string    `json:"appVersion"`
	ClientIP    string    `json:"clientIp"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Hub owns the WebSocket clients and routes command envelopes to runs.
// Every event is broadcast to all clients; presence and pairing events go to
// loopback clients only.
type Hub struct {
	runner     TurnRunner
	authorizer Authorizer
	plans      *codex.PlanStore
	defaults   RunDefaults
	translator translate.Translator

	approvals *ApprovalBroker
	presence  *DevicePresenceTracker

	clientsMu sync.RWMutex
	clients   map[string]*client

	runsMu             sync.Mutex
	runs               map[string]*runContext
	activeRunBySession map[string]string

	settingsMu      sync.Mutex
	sessionSettings map[string]runSettings
}

type client struct {
	id         string
	conn       *websocket.Conn
	send       chan []byte
	isLoopback bool
	deviceID   string
	hub        *Hub
}

type runContext struct {
	runID    string
	clientID string
	cancel   context.CancelFunc
	settings runSettings

	mu        sync.Mutex
	sessionID string
}

// runSettings is the sandbox/approval pair remembered per session.
type runSettings struct {
	ApprovalPolicy string
	Sandbox        string
}

func (r *runContext) session() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

func (r *runContext) setSession(sessionID string) {
	r.mu.Lock()
	r.sessionID = sessionID
	r.mu.Unlock()
}

// NewHub creates a hub. translator may be nil to disable reasoning
// translation; defaults may be nil when no config-level fallback exists.
func NewHub(runner TurnRunner, authorizer Authorizer, plans *codex.PlanStore, defaults RunDefaults, translator translate.Translator) *Hub {
	h := &Hub{
		runner:             runner,
		authorizer:         authorizer,
		plans:              plans,
		defaults:           defaults,
		translator:         translator,
		presence:           NewDevicePresenceTracker(),
		clients:            make(map[string]*client),
		runs:               make(map[string]*runContext),
		activeRunBySession: make(map[string]string),
		sessionSettings:    make(map[string]runSettings),
	}
	h.approvals = NewApprovalBroker(h.Broadcast, h.hasClients)
	return h
}

// Handler returns the hub's HTTP routes.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.HandleWS)
	return mux
}

// HandleWS authorizes and upgrades one WebSocket connection, then serves it
// until the peer disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	auth := h.authorizer.Authorize(r)
	if !auth.Authorized {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}

	c := &client{
		id:         uuid.NewString(),
		conn:       conn,
		send:       make(chan []byte, 256),
		isLoopback: auth.IsLoopback,
		deviceID:   auth.DeviceID,
		hub:        h,
	}

	h.clientsMu.Lock()
	h.clients[c.id] = c
	h.clientsMu.Unlock()
	h.presence.Track(c.id, c.deviceID)
	log.Printf("websocket connected: %s", c.id)

	c.enqueue(protocol.MustEvent(protocol.EvBridgeConnected, map[string]any{"clientId": c.id}))
	if c.deviceID != "" {
		h.BroadcastLoopback(protocol.MustEvent(protocol.EvDevicePresence, map[string]any{
			"deviceId":   c.deviceID,
			"online":     true,
			"lastSeenAt": time.Now().UTC(),
		}))
	}

	go c.writePump()
	go c.readPump()
}

// NotifyPairingRequested pushes a pairing request to loopback clients so the
// operator can approve it.
func (h *Hub) NotifyPairingRequested(n PairingNotification) {
	h.BroadcastLoopback(protocol.MustEvent(protocol.EvDevicePairingRequest, n))
}

// DisconnectDevice force-closes every connection belonging to a device,
// typically after its token was revoked.
func (h *Hub) DisconnectDevice(deviceID string) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return
	}

	h.clientsMu.RLock()
	targets := make([]*client, 0, 1)
	for _, c := range h.clients {
		if strings.EqualFold(c.deviceID, deviceID) {
			targets = append(targets, c)
		}
	}
	h.clientsMu.RUnlock()

	for _, c := range targets {
		frame := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "device revoked")
		_ = c.conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(writeDeadline))
		_ = c.conn.Close()
	}
}

// DevicePresenceSnapshot lists every device seen since startup.
func (h *Hub) DevicePresenceSnapshot() []DevicePresence {
	return h.presence.Snapshot()
}

func (h *Hub) hasClients() bool {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients) > 0
}

func (c *client) readPump() {
	defer func() {
		c.hub.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.ClosePolicyViolation) {
				log.Printf("websocket read error: %v", err)
			}
			return
		}
		c.hub.handleMessage(c, message)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) removeClient(c *client) {
	h.clientsMu.Lock()
	_, present := h.clients[c.id]
	delete(h.clients, c.id)
	h.clientsMu.Unlock()
	if !present {
		return
	}

	close(c.send)

	if deviceID, wentOffline := h.presence.Untrack(c.id); wentOffline {
		h.BroadcastLoopback(protocol.MustEvent(protocol.EvDevicePresence, map[string]any{
			"deviceId":   deviceID,
			"online":     false,
			"lastSeenAt": time.Now().UTC(),
		}))
	}
	log.Printf("websocket disconnected: %s", c.id)
}

func (h *Hub) handleMessage(c *client, raw []byte) {
	env, err := protocol.ParseCommand(raw)
	if err != nil {
		h.Broadcast(protocol.MustEvent(protocol.EvBridgeError, map[string]any{"message": err.Error()}))
		return
	}
	if env == nil {
		return
	}

	switch env.Name {
	case protocol.CmdChatSend:
		h.handleChatSend(c, env)
	case protocol.CmdRunCancel:
		h.handleRunCancel(c, env)
	case protocol.CmdApprovalRespond:
		h.handleApprovalRespond(c, env)
	case protocol.CmdPlanGet:
		h.handlePlanGet(c, env)
	}
}

func (h *Hub) handleChatSend(c *client, env *protocol.Envelope) {
	var data protocol.ChatSendData
	if err := protocol.DecodeData(env, &data); err != nil {
		h.Broadcast(protocol.MustEvent(protocol.EvBridgeError, map[string]any{"message": err.Error()}))
		return
	}

	prompt := strings.TrimSpace(data.Prompt)
	images := data.ImageDataURLs()
	if prompt == "" && len(images) == 0 {
		h.Broadcast(protocol.MustEvent(protocol.EvRunRejected, map[string]any{
			"clientId": c.id,
			"reason":   "缺少 prompt/images",
		}))
		return
	}

	sessionID := strings.TrimSpace(data.SessionID)
	settings := h.resolveRunSettings(sessionID, data.ApprovalPolicy, data.Sandbox)

	runID := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	run := &runContext{
		runID:     runID,
		clientID:  c.id,
		cancel:    cancel,
		settings:  settings,
		sessionID: sessionID,
	}

	h.runsMu.Lock()
	if sessionID != "" {
		if _, busy := h.activeRunBySession[sessionID]; busy {
			h.runsMu.Unlock()
			cancel()
			h.Broadcast(protocol.MustEvent(protocol.EvRunRejected, map[string]any{
				"clientId":  c.id,
				"sessionId": sessionID,
				"reason":    "该会话已有运行中的任务",
			}))
			return
		}
		h.activeRunBySession[sessionID] = runID
	}
	h.runs[runID] = run
	h.runsMu.Unlock()

	if sessionID != "" {
		h.rememberSettings(sessionID, settings)
	}

	h.Broadcast(protocol.MustEvent(protocol.EvChatMessage, map[string]any{
		"runId":     runID,
		"sessionId": sessionID,
		"role":      "user",
		"text":      prompt,
		"images":    images,
		"clientId":  c.id,
	}))
	h.Broadcast(protocol.MustEvent(protocol.EvRunStarted, map[string]any{
		"runId":     runID,
		"sessionId": sessionID,
		"clientId":  c.id,
	}))

	req := codex.RunRequest{
		Prompt:           prompt,
		ImageDataURLs:    images,
		SessionID:        sessionID,
		WorkingDirectory: data.WorkingDirectory,
		Model:            data.Model,
		Sandbox:          settings.Sandbox,
		ApprovalPolicy:   settings.ApprovalPolicy,
		Effort:           data.Effort,
		SkipGitRepoCheck: data.SkipGitRepoCheck,
	}

	go h.executeRun(ctx, run, req)
}

// executeRun drives one turn to exactly one terminal event. The run registry
// is cleaned up and pending approvals declined before the terminal event goes
// out, so a client reacting to run.completed can start the next turn for the
// same session immediately.
func (h *Hub) executeRun(ctx context.Context, run *runContext, req codex.RunRequest) {
	result, err := h.runner.RunTurn(ctx, run.runID, req,
		func(env protocol.Envelope) { h.routeRunEvent(run, env) },
		func(ctx context.Context, approval codex.ApprovalRequest) (codex.ApprovalDecision, error) {
			return h.approvals.Request(ctx, run.runID, approval)
		})

	sessionID := run.session()
	h.runsMu.Lock()
	delete(h.runs, run.runID)
	if sessionID != "" && h.activeRunBySession[sessionID] == run.runID {
		delete(h.activeRunBySession, sessionID)
	}
	h.runsMu.Unlock()
	h.approvals.CancelAll(run.runID)
	run.cancel()

	switch {
	case err == nil:
		switch strings.ToLower(strings.TrimSpace(result.Status)) {
		case "interrupted":
			h.Broadcast(protocol.MustEvent(protocol.EvRunCanceled, map[string]any{
				"runId":     run.runID,
				"sessionId": sessionID,
			}))
		case "failed":
			message := strings.TrimSpace(result.FailureMessage)
			if message == "" {
				message = "codex 执行失败"
			}
			h.Broadcast(protocol.MustEvent(protocol.EvRunFailed, map[string]any{
				"runId":     run.runID,
				"sessionId": sessionID,
				"message":   message,
			}))
		default:
			h.Broadcast(protocol.MustEvent(protocol.EvRunCompleted, map[string]any{
				"runId":     run.runID,
				"sessionId": sessionID,
				"exitCode":  0,
			}))
		}
	case errors.Is(err, context.Canceled):
		h.Broadcast(protocol.MustEvent(protocol.EvRunCanceled, map[string]any{
			"runId":     run.runID,
			"sessionId": sessionID,
		}))
	default:
		log.Printf("run %s failed: %v", run.runID, err)
		h.Broadcast(protocol.MustEvent(protocol.EvRunFailed, map[string]any{
			"runId":     run.runID,
			"sessionId": sessionID,
			"message":   err.Error(),
		}))
	}
}

// routeRunEvent learns session affinity from session.created and turn.started
// before forwarding the event to all clients.
func (h *Hub) routeRunEvent(run *runContext, env protocol.Envelope) {
	if env.Type == protocol.TypeEvent {
		switch env.Name {
		case protocol.EvSessionCreated:
			var data struct {
				SessionID string `json:"sessionId"`
			}
			if json.Unmarshal(env.Data, &data) == nil {
				h.adoptSession(run, data.SessionID)
			}
		case protocol.EvTurnStarted:
			var data struct {
				ThreadID string `json:"threadId"`
			}
			if json.Unmarshal(env.Data, &data) == nil {
				h.adoptSession(run, data.ThreadID)
			}
		case protocol.EvRunReasoning:
			h.translateReasoning(run.runID, env)
		}
	}

	h.Broadcast(env)
}

func (h *Hub) adoptSession(run *runContext, sessionID string) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return
	}
	run.setSession(sessionID)

	h.runsMu.Lock()
	if _, exists := h.activeRunBySession[sessionID]; !exists {
		h.activeRunBySession[sessionID] = run.runID
	}
	h.runsMu.Unlock()

	h.rememberSettings(sessionID, run.settings)
}

// translateReasoning publishes a best-effort translated copy of a completed
// reasoning segment. Never blocks the event path.
func (h *Hub) translateReasoning(runID string, env protocol.Envelope) {
	if h.translator == nil {
		return
	}

	var data struct {
		ItemID string `json:"itemId"`
		Text   string `json:"text"`
	}
	if json.Unmarshal(env.Data, &data) != nil || strings.TrimSpace(data.Text) == "" {
		return
	}

	go func() {
		translated, err := h.translator.Translate(context.Background(), data.Text)
		if err != nil {
			if !errors.Is(err, translate.ErrNoTranslation) {
				log.Printf("reasoning translation failed for run %s: %v", runID, err)
			}
			return
		}
		h.Broadcast(protocol.MustEvent(protocol.EvRunReasoningXlated, map[string]any{
			"runId":  runID,
			"itemId": data.ItemID,
			"text":   translated,
		}))
	}()
}

func (h *Hub) handleRunCancel(c *client, env *protocol.Envelope) {
	var data protocol.RunCancelData
	if err := protocol.DecodeData(env, &data); err != nil {
		h.Broadcast(protocol.MustEvent(protocol.EvBridgeError, map[string]any{"message": err.Error()}))
		return
	}

	runID := strings.TrimSpace(data.RunID)
	sessionID := strings.TrimSpace(data.SessionID)
	if runID == "" && sessionID == "" {
		h.Broadcast(protocol.MustEvent(protocol.EvRunRejected, map[string]any{
			"clientId": c.id,
			"reason":   "缺少 runId/sessionId",
		}))
		return
	}

	h.runsMu.Lock()
	if runID == "" {
		runID = h.activeRunBySession[sessionID]
	}
	run := h.runs[runID]
	h.runsMu.Unlock()

	if run == nil {
		h.Broadcast(protocol.MustEvent(protocol.EvRunRejected, map[string]any{
			"clientId":  c.id,
			"sessionId": sessionID,
			"reason":    "没有可取消的任务",
		}))
		return
	}

	run.cancel()
	if s := run.session(); s != "" {
		sessionID = s
	}
	h.Broadcast(protocol.MustEvent(protocol.EvRunCancelRequested, map[string]any{
		"clientId":  c.id,
		"runId":     run.runID,
		"sessionId": sessionID,
	}))
}

func (h *Hub) handleApprovalRespond(c *client, env *protocol.Envelope) {
	var data protocol.ApprovalRespondData
	if err := protocol.DecodeData(env, &data); err != nil {
		h.Broadcast(protocol.MustEvent(protocol.EvBridgeError, map[string]any{"message": err.Error()}))
		return
	}

	runID := strings.TrimSpace(data.RunID)
	if runID == "" {
		h.Broadcast(protocol.MustEvent(protocol.EvRunRejected, map[string]any{
			"clientId": c.id,
			"reason":   "缺少 runId",
		}))
		return
	}
	requestID := strings.TrimSpace(data.RequestID)
	if requestID == "" {
		h.Broadcast(protocol.MustEvent(protocol.EvRunRejected, map[string]any{
			"reason": "缺少 requestId",
		}))
		return
	}

	decision := strings.TrimSpace(data.Decision)
	if decision == "" {
		decision = codex.DecisionDecline
	}

	if !h.approvals.Respond(runID, requestID, decision) {
		return
	}

	h.Broadcast(protocol.MustEvent(protocol.EvApprovalResponded, map[string]any{
		"clientId":  c.id,
		"requestId": requestID,
		"decision":  decision,
	}))
}

// handlePlanGet backfills the latest cached plan to the requesting client.
func (h *Hub) handlePlanGet(c *client, env *protocol.Envelope) {
	var data protocol.PlanGetData
	if err := protocol.DecodeData(env, &data); err != nil {
		h.Broadcast(protocol.MustEvent(protocol.EvBridgeError, map[string]any{"message": err.Error()}))
		return
	}

	sessionID := strings.TrimSpace(data.SessionID)
	payload := map[string]any{"sessionId": sessionID, "found": false}
	if h.plans != nil && sessionID != "" {
		if snapshot, ok := h.plans.Get(sessionID); ok {
			payload["found"] = true
			payload["turnId"] = snapshot.TurnID
			payload["explanation"] = snapshot.Explanation
			payload["plan"] = snapshot.Plan
			payload["updatedAt"] = snapshot.UpdatedAt
		}
	}
	c.enqueue(protocol.MustEvent(protocol.EvPlanSnapshot, payload))
}

// resolveRunSettings fills blank sandbox/approval values from the session's
// remembered settings, then from the configured defaults.
func (h *Hub) resolveRunSettings(sessionID, approvalPolicy, sandbox string) runSettings {
	approvalPolicy = strings.TrimSpace(approvalPolicy)
	sandbox = strings.TrimSpace(sandbox)

	if (approvalPolicy == "" || sandbox == "") && sessionID != "" {
		h.settingsMu.Lock()
		remembered, ok := h.sessionSettings[sessionID]
		h.settingsMu.Unlock()
		if ok {
			if approvalPolicy == "" {
				approvalPolicy = remembered.ApprovalPolicy
			}
			if sandbox == "" {
				sandbox = remembered.Sandbox
			}
		}
	}

	if (approvalPolicy == "" || sandbox == "") && h.defaults != nil {
		defaultPolicy, defaultSandbox := h.defaults.DefaultRunSettings()
		if approvalPolicy == "" {
			approvalPolicy = defaultPolicy
		}
		if sandbox == "" {
			sandbox = defaultSandbox
		}
	}

	return runSettings{ApprovalPolicy: approvalPolicy, Sandbox: sandbox}
}

func (h *Hub) rememberSettings(sessionID string, settings runSettings) {
	if settings.ApprovalPolicy == "" && settings.Sandbox == "" {
		return
	}
	h.settingsMu.Lock()
	remembered := h.sessionSettings[sessionID]
	if settings.ApprovalPolicy != "" {
		remembered.ApprovalPolicy = settings.ApprovalPolicy
	}
	if settings.Sandbox != "" {
		remembered.Sandbox = settings.Sandbox
	}
	h.sessionSettings[sessionID] = remembered
	h.settingsMu.Unlock()
}

// Broadcast sends an envelope to every connected client. Clients with full
// buffers are skipped rather than blocking the sender.
func (h *Hub) Broadcast(env protocol.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}

// BroadcastLoopback sends an envelope to loopback clients only.
func (h *Hub) BroadcastLoopback(env protocol.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	for _, c := range h.clients {
		if !c.isLoopback {
			continue
		}
		select {
		case c.send <- data:
		default:
		}
	}
}

func (c *client) enqueue(env protocol.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
