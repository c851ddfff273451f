// Package serve implements the JSON-RPC server for editor integrations.
// It communicates over stdio (stdin/stdout) using newline-delimited JSON
// messages, hosts any number of concurrent missions and streams their
// trace events as notifications.
package serve

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/ormasoftchile/missionkit/pkg/kernel/engine"
	"github.com/ormasoftchile/missionkit/pkg/kernel/executor"
	"github.com/ormasoftchile/missionkit/pkg/kernel/replay"
	"github.com/ormasoftchile/missionkit/pkg/kernel/scope"
	"github.com/ormasoftchile/missionkit/pkg/kernel/trace"
	"github.com/ormasoftchile/missionkit/pkg/kernel/validate"
	"github.com/ormasoftchile/missionkit/pkg/kernel/variable"
	"github.com/ormasoftchile/missionkit/pkg/project"
	"github.com/ormasoftchile/missionkit/pkg/store"
)

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeMissionError   = -32000
)

// Notification methods.
const (
	NotifyEvent = "mission/event"
)

// Message is a JSON-RPC 2.0 message (request or notification).
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int            `json:"id,omitempty"` // nil for notifications
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// StartParams are the parameters for mission/start.
type StartParams struct {
	Template  string            `json:"template"`
	Vars      map[string]string `json:"vars,omitempty"`
	Scenario  string            `json:"scenario,omitempty"`
	MissionID string            `json:"missionId,omitempty"`
}

// MissionParams address one mission. Scenario applies to mission/resume.
type MissionParams struct {
	MissionID string `json:"missionId"`
	Scenario  string `json:"scenario,omitempty"`
}

// EventParams is the payload of a mission/event notification.
type EventParams struct {
	MissionID string      `json:"missionId"`
	Event     trace.Event `json:"event"`
}

// Status is the result of mission/status.
type Status struct {
	MissionID  string         `json:"missionId"`
	RunID      string         `json:"runId,omitempty"`
	Template   string         `json:"template"`
	Status     scope.Status   `json:"status"`
	Active     bool           `json:"active"`
	Cursor     int            `json:"cursor"`
	JumpCount  int            `json:"jumpCount"`
	DurationMs int64          `json:"durationMs,omitempty"`
	FailedStep string         `json:"failedStep,omitempty"`
	Error      string         `json:"error,omitempty"`
	Outputs    map[string]any `json:"outputs,omitempty"`
}

// ScopeVariables lists one scope's variables for mission/variables.
type ScopeVariables struct {
	ID        string   `json:"id"`
	Kind      string   `json:"kind"`
	Status    string   `json:"status"`
	Variables []any    `json:"variables"`
	Children  []string `json:"children,omitempty"`
}

// Server is the JSON-RPC server that hosts mission runs.
type Server struct {
	reader io.Reader
	writer io.Writer
	mu     sync.Mutex // serializes writes

	proj   *project.Project
	store  store.Store
	log    hclog.Logger
	events *trace.Broadcaster

	ctx    context.Context
	cancel context.CancelFunc

	smu      sync.Mutex
	sessions map[string]*session
	runs     map[string]string // run id → mission id
	wg       sync.WaitGroup

	// invoker builds the live tool invoker when a request has no scenario.
	invoker func() (executor.Invoker, error)
}

// New creates a server reading from stdin and writing to stdout. Missions
// checkpoint to st and route tools through proj's tool configuration.
func New(proj *project.Project, st store.Store, log hclog.Logger) *Server {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		reader:   os.Stdin,
		writer:   os.Stdout,
		proj:     proj,
		store:    st,
		log:      log,
		events:   trace.NewBroadcaster(),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
		runs:     make(map[string]string),
	}
	s.invoker = func() (executor.Invoker, error) {
		mgr, err := proj.ToolManager(log)
		if err != nil {
			return nil, err
		}
		return mgr, nil
	}
	return s
}

// SetIO replaces stdin/stdout.
func (s *Server) SetIO(r io.Reader, w io.Writer) {
	s.reader = r
	s.writer = w
}

// Run starts the server main loop. It returns once input ends and every
// running mission has finished, or after shutdown cancels them.
func (s *Server) Run() error {
	sub, unsubscribe := s.events.Subscribe(1024)
	pumped := make(chan struct{})
	go func() {
		defer close(pumped)
		for evt := range sub {
			s.sendEvent(NotifyEvent, EventParams{MissionID: s.missionOf(evt.RunID), Event: evt})
		}
	}()

	scanner := bufio.NewScanner(s.reader)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			s.sendError(nil, codeParseError, fmt.Sprintf("parse error: %v", err))
			continue
		}
		s.dispatch(&msg)
	}

	s.wg.Wait()
	s.cancel()
	s.events.Close()
	<-pumped
	unsubscribe()
	if n := s.events.Dropped(); n > 0 {
		s.log.Warn("events dropped for a slow client", "count", n)
	}
	return scanner.Err()
}

// dispatch routes a message to the appropriate handler.
func (s *Server) dispatch(msg *Message) {
	switch msg.Method {
	case "mission/start":
		s.handleStart(msg)
	case "mission/resume":
		s.handleResume(msg)
	case "mission/cancel":
		s.handleCancel(msg)
	case "mission/status":
		s.handleStatus(msg)
	case "mission/variables":
		s.handleVariables(msg)
	case "mission/list":
		s.handleList(msg)
	case "shutdown":
		s.cancel()
		s.sendResult(msg.ID, map[string]string{"status": "shutting down"})
	default:
		s.sendError(msg.ID, codeMethodNotFound, fmt.Sprintf("unknown method: %s", msg.Method))
	}
}

// handleStart validates a template, instantiates a mission and runs it in
// the background.
func (s *Server) handleStart(msg *Message) {
	var params StartParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.sendError(msg.ID, codeInvalidParams, fmt.Sprintf("invalid params: %v", err))
		return
	}
	if params.Template == "" {
		s.sendError(msg.ID, codeInvalidParams, "template is required")
		return
	}
	path, err := s.proj.ResolveTemplate(params.Template)
	if err != nil {
		s.sendError(msg.ID, codeMissionError, err.Error())
		return
	}
	tpl, errs := validate.ValidateFile(path)
	if validate.HasErrors(errs) {
		s.sendError(msg.ID, codeMissionError, validate.Err(errs).Error())
		return
	}

	var sc *replay.Scenario
	inputs := make(map[string]string)
	if params.Scenario != "" {
		if sc, err = replay.LoadScenarioPath(params.Scenario); err != nil {
			s.sendError(msg.ID, codeMissionError, err.Error())
			return
		}
		for k, v := range sc.Inputs {
			inputs[k] = v
		}
	}
	for k, v := range params.Vars {
		inputs[k] = v
	}

	runID := uuid.NewString()
	missionID := params.MissionID
	if missionID == "" {
		missionID = runID
	}
	if s.active(missionID) {
		s.sendError(msg.ID, codeMissionError, fmt.Sprintf("mission %s is already running", missionID))
		return
	}
	m, err := scope.Build(tpl, scope.WithMissionID(missionID), scope.WithInputs(inputs))
	if err != nil {
		s.sendError(msg.ID, codeMissionError, err.Error())
		return
	}
	inv, err := s.buildInvoker(sc)
	if err != nil {
		s.sendError(msg.ID, codeMissionError, err.Error())
		return
	}

	s.sendResult(msg.ID, map[string]string{"missionId": missionID, "runId": runID})
	s.launch(m, runID, inv)
}

// handleResume reloads a checkpointed mission and continues it.
func (s *Server) handleResume(msg *Message) {
	params, ok := s.missionParams(msg)
	if !ok {
		return
	}
	if s.active(params.MissionID) {
		s.sendError(msg.ID, codeMissionError, fmt.Sprintf("mission %s is already running", params.MissionID))
		return
	}
	snap, err := s.store.Load(s.ctx, params.MissionID)
	if err != nil {
		s.sendError(msg.ID, codeMissionError, err.Error())
		return
	}
	m, err := scope.Restore(snap)
	if err != nil {
		s.sendError(msg.ID, codeMissionError, err.Error())
		return
	}
	switch m.Status {
	case scope.StatusCompleted, scope.StatusEnded, scope.StatusFailed:
		s.sendError(msg.ID, codeMissionError, fmt.Sprintf("mission %s already %s", m.ID, m.Status))
		return
	}

	var sc *replay.Scenario
	if params.Scenario != "" {
		if sc, err = replay.LoadScenarioPath(params.Scenario); err != nil {
			s.sendError(msg.ID, codeMissionError, err.Error())
			return
		}
	}
	inv, err := s.buildInvoker(sc)
	if err != nil {
		s.sendError(msg.ID, codeMissionError, err.Error())
		return
	}
	runID := uuid.NewString()
	s.sendResult(msg.ID, map[string]string{"missionId": m.ID, "runId": runID})
	s.launch(m, runID, inv)
}

func (s *Server) handleCancel(msg *Message) {
	params, ok := s.missionParams(msg)
	if !ok {
		return
	}
	sess := s.session(params.MissionID)
	if sess == nil || !s.active(params.MissionID) {
		s.sendError(msg.ID, codeMissionError, fmt.Sprintf("mission %s is not running", params.MissionID))
		return
	}
	sess.cancel()
	s.sendResult(msg.ID, map[string]string{"missionId": params.MissionID, "status": "cancelling"})
}

func (s *Server) handleStatus(msg *Message) {
	params, ok := s.missionParams(msg)
	if !ok {
		return
	}
	if sess := s.session(params.MissionID); sess != nil {
		s.sendResult(msg.ID, sess.status())
		return
	}
	snap, err := s.store.Load(s.ctx, params.MissionID)
	if err != nil {
		s.sendError(msg.ID, codeMissionError, err.Error())
		return
	}
	s.sendResult(msg.ID, snapshotStatus(snap))
}

func (s *Server) handleVariables(msg *Message) {
	params, ok := s.missionParams(msg)
	if !ok {
		return
	}
	var snap *scope.Snapshot
	if sess := s.session(params.MissionID); sess != nil {
		snap = sess.snapshot()
	}
	if snap == nil {
		var err error
		if snap, err = s.store.Load(s.ctx, params.MissionID); err != nil {
			s.sendError(msg.ID, codeMissionError, err.Error())
			return
		}
	}
	var scopes []ScopeVariables
	flattenScopes(snap.Mission, &scopes)
	s.sendResult(msg.ID, map[string]any{"missionId": params.MissionID, "scopes": scopes})
}

func (s *Server) handleList(msg *Message) {
	missions, err := s.store.List(s.ctx)
	if err != nil {
		s.sendError(msg.ID, codeMissionError, err.Error())
		return
	}
	s.smu.Lock()
	var active []string
	for id, sess := range s.sessions {
		if !sess.finished() {
			active = append(active, id)
		}
	}
	s.smu.Unlock()
	sort.Strings(active)
	s.sendResult(msg.ID, map[string]any{"missions": missions, "active": active})
}

// launch runs m on its own engine. Events reach the broadcaster; every
// checkpoint is kept on the session and persisted to the store.
func (s *Server) launch(m *scope.Mission, runID string, inv executor.Invoker) {
	ctx, cancel := context.WithCancel(s.ctx)
	sess := &session{
		missionID: m.ID,
		runID:     runID,
		template:  m.Template,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.smu.Lock()
	s.sessions[m.ID] = sess
	s.runs[runID] = m.ID
	s.smu.Unlock()

	cfg := engine.RunConfig{
		RunID:   runID,
		Invoker: inv,
		Events:  s.events,
		Logger:  s.log.Named(m.ID),
		Saver:   &sessionSaver{sess: sess, next: s.store},
	}
	eng := engine.New(m, cfg)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(sess.done)
		defer cancel()
		defer closeInvoker(inv)
		res := eng.Run(ctx)
		sess.finish(res)
	}()
}

// Wait blocks until missionID's current run finishes.
func (s *Server) Wait(missionID string) {
	if sess := s.session(missionID); sess != nil {
		<-sess.done
	}
}

func (s *Server) buildInvoker(sc *replay.Scenario) (executor.Invoker, error) {
	if sc != nil {
		return replay.NewInvoker(sc), nil
	}
	return s.invoker()
}

func closeInvoker(inv executor.Invoker) {
	if c, ok := inv.(io.Closer); ok {
		c.Close()
	}
}

func (s *Server) missionParams(msg *Message) (MissionParams, bool) {
	var params MissionParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.sendError(msg.ID, codeInvalidParams, fmt.Sprintf("invalid params: %v", err))
		return params, false
	}
	if params.MissionID == "" {
		s.sendError(msg.ID, codeInvalidParams, "missionId is required")
		return params, false
	}
	return params, true
}

func (s *Server) session(id string) *session {
	s.smu.Lock()
	defer s.smu.Unlock()
	return s.sessions[id]
}

func (s *Server) missionOf(runID string) string {
	s.smu.Lock()
	defer s.smu.Unlock()
	return s.runs[runID]
}

func (s *Server) active(id string) bool {
	sess := s.session(id)
	return sess != nil && !sess.finished()
}

// --- Message sending ---

func (s *Server) sendResult(id *int, result any) {
	data, err := json.Marshal(result)
	if err != nil {
		s.sendError(id, codeMissionError, fmt.Sprintf("marshal result: %v", err))
		return
	}
	s.send(&Message{JSONRPC: "2.0", ID: id, Result: json.RawMessage(data)})
}

func (s *Server) sendError(id *int, code int, message string) {
	s.send(&Message{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}})
}

func (s *Server) sendEvent(method string, params any) {
	data, _ := json.Marshal(params)
	s.send(&Message{JSONRPC: "2.0", Method: method, Params: json.RawMessage(data)})
}

func (s *Server) send(msg *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, _ := json.Marshal(msg)
	fmt.Fprintf(s.writer, "%s\n", data)
}

// --- Sessions ---

type session struct {
	missionID string
	runID     string
	template  string
	cancel    context.CancelFunc
	done      chan struct{}

	mu     sync.Mutex
	last   *scope.Snapshot
	result *engine.RunResult
}

func (ss *session) finish(res *engine.RunResult) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.result = res
}

func (ss *session) finished() bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.result != nil
}

func (ss *session) snapshot() *scope.Snapshot {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.last
}

func (ss *session) status() Status {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	st := Status{MissionID: ss.missionID, RunID: ss.runID, Template: ss.template, Status: scope.StatusRunning, Active: ss.result == nil}
	if ss.last != nil && len(ss.last.Mission.Children) > 0 {
		st.Cursor = ss.last.Mission.Children[0].Cursor
		st.JumpCount = ss.last.Mission.Children[0].JumpCount
	}
	if res := ss.result; res != nil {
		st.Status = res.Status
		st.JumpCount = res.JumpCount
		st.DurationMs = res.Duration.Milliseconds()
		st.FailedStep = res.FailedStep
		st.Outputs = res.Outputs
		if res.Error != nil {
			st.Error = res.Error.Error()
		}
	}
	return st
}

// sessionSaver keeps the latest checkpoint on the session, then persists it.
type sessionSaver struct {
	sess *session
	next engine.Saver
}

func (s *sessionSaver) Save(ctx context.Context, snap *scope.Snapshot) error {
	s.sess.mu.Lock()
	s.sess.last = snap
	s.sess.mu.Unlock()
	if s.next == nil {
		return nil
	}
	return s.next.Save(ctx, snap)
}

func snapshotStatus(snap *scope.Snapshot) Status {
	st := Status{MissionID: snap.Mission.ID, Template: snap.Template, Status: snap.Mission.Status}
	if len(snap.Mission.Children) > 0 {
		st.Cursor = snap.Mission.Children[0].Cursor
		st.JumpCount = snap.Mission.Children[0].JumpCount
	}
	if snap.Mission.Error != "" {
		st.Error = snap.Mission.Error
	}
	outputs := make(map[string]any)
	for _, v := range snap.Mission.Variables {
		if v.Status == variable.StatusReady {
			outputs[v.Name] = v.Value
		}
	}
	if len(outputs) > 0 {
		st.Outputs = outputs
	}
	return st
}

func flattenScopes(r scope.Record, out *[]ScopeVariables) {
	sv := ScopeVariables{ID: r.ID, Kind: string(r.Kind), Status: string(r.Status), Variables: make([]any, 0, len(r.Variables))}
	for _, v := range r.Variables {
		sv.Variables = append(sv.Variables, v)
	}
	for _, c := range r.Children {
		sv.Children = append(sv.Children, c.ID)
	}
	*out = append(*out, sv)
	for _, c := range r.Children {
		flattenScopes(c, out)
	}
}
