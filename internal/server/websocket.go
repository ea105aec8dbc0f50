package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/breachline/breachline/internal/channel"
	"github.com/breachline/breachline/internal/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Agents are headless processes; origin checks only apply to browsers
	// and the dashboard socket is token-gated by the auth middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// HandleAgentSocket is the persistent agent channel. The first message must
// be a register envelope; everything after that is heartbeats and task
// results until the connection drops.
func (h *Handlers) HandleAgentSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("agent websocket upgrade failed", "error", err)
		return
	}
	client := channel.NewClient(conn, h.logger)

	env, err := client.ReadEnvelope()
	if err != nil || env.Type != channel.TypeRegister {
		h.logger.Warn("agent connection without registration", "error", err)
		client.Close()
		return
	}
	var reg channel.RegisterPayload
	if err := json.Unmarshal(env.Payload, &reg); err != nil {
		h.logger.Warn("malformed register payload", "error", err)
		client.Close()
		return
	}

	agent, err := h.registry.Register(r.Context(), model.Agent{
		Paw:       reg.Paw,
		Hostname:  reg.Hostname,
		Username:  reg.Username,
		Platform:  reg.Platform,
		Executors: reg.Executors,
		IPAddress: remoteIP(r),
	})
	if err != nil {
		h.logger.Warn("agent registration rejected", "paw", reg.Paw, "error", err)
		client.Close()
		return
	}

	h.hub.RegisterAgent(agent.Paw, client)
	go client.WritePump()

	if ack, err := channel.NewEnvelope(channel.TypeRegistered, channel.RegisteredPayload{Status: "ok", Paw: agent.Paw}); err == nil {
		_ = client.Send(ack)
	}
	h.hub.Broadcast("agent_connected", agent)

	client.ReadPump(func(env channel.Envelope) {
		h.handleAgentMessage(r.Context(), agent.Paw, client, env)
	})

	h.hub.UnregisterAgent(agent.Paw, client)
	// A reconnect may already own the paw; only the last connection's
	// departure flips the agent offline.
	if !h.hub.AgentConnected(agent.Paw) {
		if err := h.registry.MarkOffline(context.Background(), agent.Paw); err != nil {
			h.logger.Warn("mark agent offline", "paw", agent.Paw, "error", err)
		}
		h.hub.Broadcast("agent_disconnected", map[string]string{"paw": agent.Paw})
	}
}

func (h *Handlers) handleAgentMessage(ctx context.Context, paw string, client *channel.Client, env channel.Envelope) {
	switch env.Type {
	case channel.TypeHeartbeat:
		if err := h.registry.Heartbeat(ctx, paw); err != nil {
			h.logger.Warn("heartbeat", "paw", paw, "error", err)
		}
	case channel.TypeTaskResult:
		var result channel.TaskResultPayload
		if err := json.Unmarshal(env.Payload, &result); err != nil {
			h.logger.Warn("malformed task result", "paw", paw, "error", err)
			return
		}
		taskID, err := uuid.Parse(result.TaskID)
		if err != nil {
			h.logger.Warn("task result with invalid task id", "paw", paw, "task_id", result.TaskID)
			return
		}
		ackStatus := "discarded"
		if h.execSvc.IngestResult(ctx, taskID, mapResultStatus(result.Status), result.Output) {
			ackStatus = "accepted"
		}
		if ack, err := channel.NewEnvelope(channel.TypeTaskAck, channel.TaskAckPayload{TaskID: result.TaskID, Status: ackStatus}); err == nil {
			_ = client.Send(ack)
		}
	default:
		h.logger.Warn("unknown agent message type", "paw", paw, "type", env.Type)
	}
}

// mapResultStatus normalizes agent-reported outcomes. Anything the agent
// reports as a technical problem (timeout, error, unknown strings) counts as
// failed so it never inflates the defense score.
func mapResultStatus(status string) model.ResultStatus {
	switch status {
	case "success":
		return model.ResultSuccess
	case "blocked":
		return model.ResultBlocked
	case "detected":
		return model.ResultDetected
	default:
		return model.ResultFailed
	}
}

// HandleDashboardSocket streams control-plane events to an authenticated
// dashboard client. The socket is read-mostly; inbound messages are ignored.
func (h *Handlers) HandleDashboardSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("dashboard websocket upgrade failed", "error", err)
		return
	}
	client := channel.NewClient(conn, h.logger)

	h.hub.RegisterDashboard(client)
	go client.WritePump()

	client.ReadPump(func(channel.Envelope) {})
	h.hub.UnregisterDashboard(client)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
