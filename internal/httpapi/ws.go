package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/DylanCkawalec/warp-engine/pkg/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The daemon binds to loopback; browser clients connect same-host.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// wsConn is one bidirectional push connection. It accepts execute and
// subscribe messages and emits job_update events for the jobs it has
// submitted or subscribed to.
type wsConn struct {
	conn *websocket.Conn

	mu   sync.Mutex
	jobs map[string]bool // job ids this connection cares about
	all  bool            // subscribe to every job
}

func (c *wsConn) watching(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.all || c.jobs[jobID]
}

func (c *wsConn) watch(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if jobID == "*" {
		c.all = true
		return
	}
	c.jobs[jobID] = true
}

// wsMessage is the envelope for both directions.
type wsMessage struct {
	Type    string            `json:"type"`
	Command string            `json:"command,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
	JobID   string            `json:"job_id,omitempty"`
	Error   string            `json:"error,omitempty"`
	Job     *models.Job       `json:"job,omitempty"`
}

// handleWS upgrades the connection and bridges it to the hub: inbound
// {type:"execute"} messages submit jobs, inbound {type:"subscribe"}
// messages widen the watch set, and hub job_update events matching the
// watch set are forwarded outbound.
func (a *App) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &wsConn{conn: conn, jobs: make(map[string]bool)}

	ch := a.Hub.Subscribe()
	defer a.Hub.Unsubscribe(ch)
	defer func() { _ = conn.Close() }()

	writeMu := &sync.Mutex{}
	send := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(v)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Outbound: forward matching hub events and keep the peer alive.
	go func() {
		ping := time.NewTicker(wsPingPeriod)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				writeMu.Lock()
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				writeMu.Unlock()
				if err != nil {
					cancel()
					return
				}
			case raw, ok := <-ch:
				if !ok {
					return
				}
				var ev struct {
					Type string     `json:"type"`
					Job  models.Job `json:"job"`
				}
				if json.Unmarshal(raw, &ev) != nil || ev.Type != "job_update" {
					continue
				}
				if !c.watching(ev.Job.JobID) {
					continue
				}
				if err := send(wsMessage{Type: "job_update", JobID: ev.Job.JobID, Job: &ev.Job}); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	// Inbound: execute and subscribe.
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "execute":
			jobID, err := a.Queue.Submit(ctx, msg.Command, msg.Params)
			if err != nil {
				_ = send(wsMessage{Type: "error", Error: err.Error()})
				continue
			}
			c.watch(jobID)
			_ = send(wsMessage{Type: "job_accepted", JobID: jobID})
		case "subscribe":
			if msg.JobID == "" {
				_ = send(wsMessage{Type: "error", Error: "job_id required"})
				continue
			}
			c.watch(msg.JobID)
			_ = send(wsMessage{Type: "subscribed", JobID: msg.JobID})
		default:
			slog.Debug("ws message ignored", "type", msg.Type)
		}
	}
}
