package serve

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ormasoftchile/missionkit/pkg/kernel/executor"
	"github.com/ormasoftchile/missionkit/pkg/kernel/scope"
	"github.com/ormasoftchile/missionkit/pkg/kernel/trace"
	"github.com/ormasoftchile/missionkit/pkg/project"
	"github.com/ormasoftchile/missionkit/pkg/store"
)

var (
	templatePath = filepath.Join("..", "kernel", "testing", "testdata", "summarise.yaml")
	happyPath    = filepath.Join("..", "kernel", "testing", "testdata", "scenarios", "summarise", "happy")
)

func newTestServer(t *testing.T) (*Server, *bytes.Buffer) {
	t.Helper()
	s := New(project.Fallback(t.TempDir()), store.NewMemoryStore(), nil)
	var out bytes.Buffer
	s.SetIO(strings.NewReader(""), &out)
	return s, &out
}

func request(id int, method string, params any) *Message {
	data, _ := json.Marshal(params)
	return &Message{JSONRPC: "2.0", ID: &id, Method: method, Params: data}
}

func line(id int, method string, params any) string {
	data, _ := json.Marshal(request(id, method, params))
	return string(data) + "\n"
}

func decode(t *testing.T, out *bytes.Buffer) []Message {
	t.Helper()
	var msgs []Message
	for _, l := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if l == "" {
			continue
		}
		var m Message
		if err := json.Unmarshal([]byte(l), &m); err != nil {
			t.Fatalf("bad output line %q: %v", l, err)
		}
		msgs = append(msgs, m)
	}
	return msgs
}

func response(t *testing.T, msgs []Message, id int) Message {
	t.Helper()
	for _, m := range msgs {
		if m.ID != nil && *m.ID == id {
			return m
		}
	}
	t.Fatalf("no response with id %d", id)
	return Message{}
}

func statusOf(t *testing.T, s *Server, out *bytes.Buffer, id int, missionID string) Status {
	t.Helper()
	s.dispatch(request(id, "mission/status", MissionParams{MissionID: missionID}))
	resp := response(t, decode(t, out), id)
	if resp.Error != nil {
		t.Fatalf("status error: %s", resp.Error.Message)
	}
	var st Status
	if err := json.Unmarshal(resp.Result, &st); err != nil {
		t.Fatal(err)
	}
	return st
}

func TestServer_RunStreamsEvents(t *testing.T) {
	s, out := newTestServer(t)
	input := line(1, "mission/start", StartParams{Template: templatePath, Scenario: happyPath, MissionID: "m1"})
	s.SetIO(strings.NewReader(input), out)

	if err := s.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	msgs := decode(t, out)

	first := msgs[0]
	if first.ID == nil || *first.ID != 1 || first.Error != nil {
		t.Fatalf("first message should be the start response, got %+v", first)
	}
	var started map[string]string
	json.Unmarshal(first.Result, &started)
	if started["missionId"] != "m1" || started["runId"] == "" {
		t.Errorf("start result = %v", started)
	}

	var sawComplete bool
	for _, m := range msgs[1:] {
		if m.Method != NotifyEvent {
			t.Errorf("unexpected message %+v", m)
			continue
		}
		var ev EventParams
		if err := json.Unmarshal(m.Params, &ev); err != nil {
			t.Fatal(err)
		}
		if ev.MissionID != "m1" {
			t.Errorf("event mission = %q", ev.MissionID)
		}
		if ev.Event.Type == trace.EventRunComplete {
			sawComplete = true
			if ev.Event.Status != string(scope.StatusCompleted) {
				t.Errorf("run_complete status = %s", ev.Event.Status)
			}
		}
	}
	if !sawComplete {
		t.Error("missing run_complete notification")
	}

	st := statusOf(t, s, out, 2, "m1")
	if st.Status != scope.StatusCompleted || st.Active {
		t.Errorf("status = %+v", st)
	}
	if st.Outputs["final_summary"] != "Go is a programming language" {
		t.Errorf("outputs = %v", st.Outputs)
	}
}

func TestServer_VariablesAndList(t *testing.T) {
	s, out := newTestServer(t)
	s.dispatch(request(1, "mission/start", StartParams{Template: templatePath, Scenario: happyPath, MissionID: "m1"}))
	s.Wait("m1")

	s.dispatch(request(2, "mission/variables", MissionParams{MissionID: "m1"}))
	resp := response(t, decode(t, out), 2)
	var vars struct {
		Scopes []ScopeVariables `json:"scopes"`
	}
	if err := json.Unmarshal(resp.Result, &vars); err != nil {
		t.Fatal(err)
	}
	kinds := map[string]int{}
	for _, sc := range vars.Scopes {
		kinds[sc.Kind]++
	}
	if kinds["mission"] != 1 || kinds["workflow"] != 1 || kinds["stage"] != 1 || kinds["step"] != 2 {
		t.Errorf("scope kinds = %v", kinds)
	}

	s.dispatch(request(3, "mission/list", nil))
	resp = response(t, decode(t, out), 3)
	if !strings.Contains(string(resp.Result), `"id":"m1"`) || !strings.Contains(string(resp.Result), `"active":null`) {
		t.Errorf("list = %s", resp.Result)
	}
}

func TestServer_CancelThenResume(t *testing.T) {
	s, out := newTestServer(t)
	entered := make(chan struct{})
	s.invoker = func() (executor.Invoker, error) {
		return executor.InvokerFunc(func(ctx context.Context, call executor.Call) (*executor.Result, error) {
			close(entered)
			<-ctx.Done()
			return nil, ctx.Err()
		}), nil
	}

	s.dispatch(request(1, "mission/start", StartParams{
		Template:  templatePath,
		Vars:      map[string]string{"raw_question": "what is go?"},
		MissionID: "m2",
	}))
	<-entered

	s.dispatch(request(2, "mission/start", StartParams{Template: templatePath, MissionID: "m2"}))
	if resp := response(t, decode(t, out), 2); resp.Error == nil || !strings.Contains(resp.Error.Message, "already running") {
		t.Errorf("second start = %+v", resp)
	}

	s.dispatch(request(3, "mission/cancel", MissionParams{MissionID: "m2"}))
	s.Wait("m2")
	if st := statusOf(t, s, out, 4, "m2"); st.Status != scope.StatusCancelled {
		t.Fatalf("status after cancel = %+v", st)
	}

	s.dispatch(request(5, "mission/resume", MissionParams{MissionID: "m2", Scenario: happyPath}))
	if resp := response(t, decode(t, out), 5); resp.Error != nil {
		t.Fatalf("resume: %s", resp.Error.Message)
	}
	s.Wait("m2")
	st := statusOf(t, s, out, 6, "m2")
	if st.Status != scope.StatusCompleted {
		t.Errorf("status after resume = %+v", st)
	}

	s.dispatch(request(7, "mission/resume", MissionParams{MissionID: "m2"}))
	if resp := response(t, decode(t, out), 7); resp.Error == nil || !strings.Contains(resp.Error.Message, "already completed") {
		t.Errorf("resume of finished mission = %+v", resp)
	}
}

func TestServer_Errors(t *testing.T) {
	s, out := newTestServer(t)
	input := "not json\n" +
		line(1, "mission/nope", nil) +
		line(2, "mission/start", StartParams{}) +
		line(3, "mission/status", MissionParams{}) +
		line(4, "mission/status", MissionParams{MissionID: "ghost"}) +
		line(5, "mission/cancel", MissionParams{MissionID: "ghost"}) +
		line(6, "mission/start", StartParams{Template: "missing.yaml"}) +
		line(7, "shutdown", nil)
	s.SetIO(strings.NewReader(input), out)
	if err := s.Run(); err != nil {
		t.Fatal(err)
	}
	msgs := decode(t, out)

	if msgs[0].Error == nil || msgs[0].Error.Code != codeParseError {
		t.Errorf("parse error = %+v", msgs[0])
	}
	want := map[int]int{
		1: codeMethodNotFound,
		2: codeInvalidParams,
		3: codeInvalidParams,
		4: codeMissionError,
		5: codeMissionError,
		6: codeMissionError,
	}
	for id, code := range want {
		resp := response(t, msgs, id)
		if resp.Error == nil || resp.Error.Code != code {
			t.Errorf("id %d: error = %+v, want code %d", id, resp.Error, code)
		}
	}
	if resp := response(t, msgs, 7); resp.Error != nil {
		t.Errorf("shutdown error = %+v", resp.Error)
	}
}
