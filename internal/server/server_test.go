package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breachline/breachline/internal/agents"
	"github.com/breachline/breachline/internal/auth"
	"github.com/breachline/breachline/internal/channel"
	"github.com/breachline/breachline/internal/execution"
	"github.com/breachline/breachline/internal/model"
	"github.com/breachline/breachline/internal/scheduler"
	"github.com/breachline/breachline/internal/testutil"
)

const testAdminKey = "test-admin-key"

type testEnv struct {
	store  *testutil.MemStore
	hub    *channel.Hub
	jwtMgr *auth.JWTManager
	ts     *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	store := testutil.NewMemStore()
	hub := channel.NewHub(logger)

	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	registry := agents.NewRegistry(store, 90*time.Second, logger)
	execSvc := execution.NewService(store, hub, 5*time.Second, logger)
	schedSvc := scheduler.NewService(store, execSvc, time.Hour, logger)

	handlers, err := NewHandlers(HandlersDeps{
		Registry:    registry,
		ExecSvc:     execSvc,
		SchedSvc:    schedSvc,
		Catalog:     store,
		JWTMgr:      jwtMgr,
		Hub:         hub,
		Logger:      logger,
		Version:     "test",
		AdminAPIKey: testAdminKey,
	})
	require.NoError(t, err)

	srv := NewServer(handlers, Options{MaxBodyBytes: 1 << 20}, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		execSvc.Close()
		hub.CloseAll()
	})

	return &testEnv{store: store, hub: hub, jwtMgr: jwtMgr, ts: ts}
}

func (e *testEnv) token(t *testing.T, subject string, role model.UserRole) string {
	t.Helper()
	token, _, err := e.jwtMgr.IssueToken(subject, role)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.ts.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.ts.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decodeData(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, target))
}

func decodeErrorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	var envelope model.APIError
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope.Error.Code
}

func seedProcessDiscovery(t *testing.T, env *testEnv) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, env.store.UpsertTechnique(ctx, model.Technique{
		ID:        "T1057",
		Name:      "Process Discovery",
		Tactics:   []string{"discovery"},
		Platforms: []string{"linux"},
		Executors: []model.Executor{
			{Name: "sh", Type: "sh", Platform: "linux", Command: "ps aux", Timeout: 60, IsSafe: true},
		},
		IsSafe: true,
	}))
	require.NoError(t, env.store.UpsertScenario(ctx, model.Scenario{
		ID:   "discovery-basics",
		Name: "Discovery Basics",
		Phases: []model.Phase{
			{Name: "discovery", Order: 1, Techniques: []model.TechniqueSelection{{TechniqueID: "T1057"}}},
		},
	}))
}

func TestHealthUnauthenticated(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]string
	decodeData(t, resp, &health)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "test", health["version"])
}

func TestAuthTokenExchange(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/auth/token", "", model.AuthTokenRequest{APIKey: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, model.ErrCodeUnauthorized, decodeErrorCode(t, resp))

	resp = env.do(t, http.MethodPost, "/auth/token", "", model.AuthTokenRequest{APIKey: testAdminKey})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tok model.AuthTokenResponse
	decodeData(t, resp, &tok)
	require.NotEmpty(t, tok.Token)

	// The issued token works against a protected route.
	resp = env.do(t, http.MethodGet, "/v1/agents", tok.Token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestProtectedRouteRequiresToken(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/v1/agents", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/v1/agents", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestViewerCannotMutate(t *testing.T) {
	env := newTestEnv(t)
	viewer := env.token(t, "ro-user", model.RoleViewer)

	resp := env.do(t, http.MethodPost, "/v1/executions", viewer,
		model.StartExecutionRequest{ScenarioID: "discovery-basics"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, model.ErrCodeForbidden, decodeErrorCode(t, resp))

	resp = env.do(t, http.MethodGet, "/v1/executions", viewer, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestScenarioLifecycle(t *testing.T) {
	env := newTestEnv(t)
	operator := env.token(t, "op", model.RoleOperator)

	scenario := model.Scenario{
		Name: "Cred Access Sweep",
		Phases: []model.Phase{
			{Name: "collection", Order: 1, Techniques: []model.TechniqueSelection{{TechniqueID: "T1003"}}},
		},
	}
	resp := env.do(t, http.MethodPut, "/v1/scenarios/cred-sweep", operator, scenario)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/v1/scenarios/cred-sweep", operator, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got model.Scenario
	decodeData(t, resp, &got)
	assert.Equal(t, "cred-sweep", got.ID)
	assert.Equal(t, "Cred Access Sweep", got.Name)

	resp = env.do(t, http.MethodDelete, "/v1/scenarios/cred-sweep", operator, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/v1/scenarios/cred-sweep", operator, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestStartExecutionUnknownScenario(t *testing.T) {
	env := newTestEnv(t)
	operator := env.token(t, "op", model.RoleOperator)

	resp := env.do(t, http.MethodPost, "/v1/executions", operator,
		model.StartExecutionRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, model.ErrCodeNotFound, decodeErrorCode(t, resp))
}

func TestExecutionFlowOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	operator := env.token(t, "op", model.RoleOperator)
	seedProcessDiscovery(t, env)

	// Agent registered and online in storage but without a live channel
	// connection, so its task fails as undeliverable.
	_, err := env.store.UpsertAgent(context.Background(), model.Agent{
		Paw: "abcdef", Platform: "linux", Executors: []string{"sh"}, Status: model.AgentOnline,
	})
	require.NoError(t, err)

	resp := env.do(t, http.MethodPost, "/v1/executions", operator,
		model.StartExecutionRequest{ScenarioID: "discovery-basics"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var exec model.Execution
	decodeData(t, resp, &exec)
	assert.Equal(t, "op", exec.StartedBy)

	require.Eventually(t, func() bool {
		resp := env.do(t, http.MethodGet, "/v1/executions/"+exec.ID.String(), operator, nil)
		var got model.Execution
		decodeData(t, resp, &got)
		return got.Status == model.ExecutionCompleted
	}, 3*time.Second, 20*time.Millisecond)

	resp = env.do(t, http.MethodGet, "/v1/executions/"+exec.ID.String()+"/results", operator, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var results struct {
		Results []model.Result `json:"results"`
	}
	decodeData(t, resp, &results)
	require.Len(t, results.Results, 1)
	assert.Equal(t, model.ResultFailed, results.Results[0].Status)

	resp = env.do(t, http.MethodGet, "/v1/executions/"+exec.ID.String()+"/score", operator, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var breakdown model.ScoreBreakdown
	decodeData(t, resp, &breakdown)
	assert.Zero(t, breakdown.Overall)
}

func TestScheduleValidationOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	operator := env.token(t, "op", model.RoleOperator)
	seedProcessDiscovery(t, env)

	resp := env.do(t, http.MethodPost, "/v1/schedules", operator, model.ScheduleRequest{
		Name:       "nightly",
		ScenarioID: "discovery-basics",
		Frequency:  model.FrequencyCron,
		CronExpr:   "not a cron",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, model.ErrCodeInvalidCron, decodeErrorCode(t, resp))

	resp = env.do(t, http.MethodPost, "/v1/schedules", operator, model.ScheduleRequest{
		Name:       "nightly",
		ScenarioID: "discovery-basics",
		Frequency:  model.FrequencyDaily,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var sched model.Schedule
	decodeData(t, resp, &sched)
	assert.Equal(t, model.ScheduleActive, sched.Status)
	assert.Equal(t, "op", sched.CreatedBy)

	resp = env.do(t, http.MethodPost, "/v1/schedules/"+sched.ID.String()+"/pause", operator, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var paused model.Schedule
	decodeData(t, resp, &paused)
	assert.Equal(t, model.SchedulePaused, paused.Status)
}

func TestStatusWriterSupportsHijack(t *testing.T) {
	// gorilla's Upgrade type-asserts http.Hijacker on the writer it is
	// handed; the logging and tracing wrappers must not hide it.
	var w http.ResponseWriter = &statusWriter{}
	_, ok := w.(http.Hijacker)
	assert.True(t, ok)
}

func TestRequestIDPropagation(t *testing.T) {
	env := newTestEnv(t)

	req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err := env.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "req-42", resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func dialAgent(t *testing.T, env *testEnv, paw string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(env.ts, "/ws/agent"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	regEnv, err := channel.NewEnvelope(channel.TypeRegister, channel.RegisterPayload{
		Paw:       paw,
		Hostname:  "host-1",
		Username:  "svc",
		Platform:  "linux",
		Executors: []string{"sh"},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(regEnv))

	var ack channel.Envelope
	require.NoError(t, conn.ReadJSON(&ack))
	require.Equal(t, channel.TypeRegistered, ack.Type)
	return conn
}

func TestAgentWebsocketRegistration(t *testing.T) {
	env := newTestEnv(t)
	operator := env.token(t, "op", model.RoleOperator)

	dialAgent(t, env, "abcdef")

	resp := env.do(t, http.MethodGet, "/v1/agents/abcdef", operator, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var agent model.Agent
	decodeData(t, resp, &agent)
	assert.Equal(t, model.AgentOnline, agent.Status)
	assert.Equal(t, "linux", agent.Platform)

	var agentList struct {
		Agents []struct {
			model.Agent
			Connected bool `json:"connected"`
		} `json:"agents"`
	}
	resp = env.do(t, http.MethodGet, "/v1/agents", operator, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeData(t, resp, &agentList)
	require.Len(t, agentList.Agents, 1)
	assert.True(t, agentList.Agents[0].Connected)
}

func TestAgentWebsocketExecutionRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	operator := env.token(t, "op", model.RoleOperator)
	seedProcessDiscovery(t, env)

	conn := dialAgent(t, env, "abcdef")

	resp := env.do(t, http.MethodPost, "/v1/executions", operator,
		model.StartExecutionRequest{ScenarioID: "discovery-basics"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var exec model.Execution
	decodeData(t, resp, &exec)

	var taskEnv channel.Envelope
	require.NoError(t, conn.ReadJSON(&taskEnv))
	require.Equal(t, channel.TypeTask, taskEnv.Type)
	var task model.Task
	require.NoError(t, json.Unmarshal(taskEnv.Payload, &task))
	assert.Equal(t, "T1057", task.TechniqueID)
	assert.Equal(t, "ps aux", task.Command)

	resultEnv, err := channel.NewEnvelope(channel.TypeTaskResult, channel.TaskResultPayload{
		TaskID: task.ID.String(),
		Status: "detected",
		Output: "edr alert fired",
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(resultEnv))

	var ackEnv channel.Envelope
	require.NoError(t, conn.ReadJSON(&ackEnv))
	require.Equal(t, channel.TypeTaskAck, ackEnv.Type)
	var taskAck channel.TaskAckPayload
	require.NoError(t, json.Unmarshal(ackEnv.Payload, &taskAck))
	assert.Equal(t, task.ID.String(), taskAck.TaskID)
	assert.Equal(t, "accepted", taskAck.Status)

	require.Eventually(t, func() bool {
		resp := env.do(t, http.MethodGet, "/v1/executions/"+exec.ID.String(), operator, nil)
		var got model.Execution
		decodeData(t, resp, &got)
		return got.Status == model.ExecutionCompleted
	}, 3*time.Second, 20*time.Millisecond)

	resp = env.do(t, http.MethodGet, "/v1/executions/"+exec.ID.String()+"/score", operator, nil)
	var breakdown model.ScoreBreakdown
	decodeData(t, resp, &breakdown)
	assert.Equal(t, 1, breakdown.Detected)
	assert.InDelta(t, 50.0, breakdown.Overall, 0.001)
	require.Contains(t, breakdown.ByTactic, "discovery")
	assert.InDelta(t, 50.0, breakdown.ByTactic["discovery"], 0.001)
}

func TestDashboardWebsocketAuth(t *testing.T) {
	env := newTestEnv(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(env.ts, "/ws/dashboard"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	viewer := env.token(t, "watcher", model.RoleViewer)
	conn, _, err := websocket.DefaultDialer.Dial(
		wsURL(env.ts, fmt.Sprintf("/ws/dashboard?token=%s", viewer)), nil)
	require.NoError(t, err)
	defer conn.Close()

	env.hub.Broadcast("agent_connected", map[string]string{"paw": "abcdef"})

	var event channel.Envelope
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, channel.TypeEvent, event.Type)
	var payload channel.EventPayload
	require.NoError(t, json.Unmarshal(event.Payload, &payload))
	assert.Equal(t, "agent_connected", payload.Event)
}
