package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/DylanCkawalec/warp-engine/pkg/models"
)

// wantsLogStream reports whether the logs request asks for an
// incremental feed rather than the JSON snapshot.
func wantsLogStream(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		return true
	}
	return r.URL.Query().Get("follow") != ""
}

// logEvent is the subset of hub events the log follower cares about.
type logEvent struct {
	Type  string      `json:"type"`
	JobID string      `json:"job_id"`
	Line  string      `json:"line"`
	Job   *models.Job `json:"job"`
}

// streamJobLogs replays the stored log lines as SSE events, then follows
// the hub for lines appended while the connection is open. The stream
// ends when the job reaches a terminal status. Delivery past the replay
// is best-effort, same as every other hub subscriber.
func (a *App) streamJobLogs(w http.ResponseWriter, r *http.Request, jobID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	writeLine := func(line string) {
		b, err := json.Marshal(map[string]string{
			"type":   "job_log",
			"job_id": jobID,
			"line":   line,
		})
		if err != nil {
			return
		}
		_, _ = fmt.Fprintf(w, "data: %s\n\n", b)
	}

	logs, err := a.Store.ListJobLogs(r.Context(), jobID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	for _, line := range logs {
		writeLine(line)
	}

	job, err := a.Store.GetJob(r.Context(), jobID)
	if err != nil {
		flusher.Flush()
		return
	}
	if isTerminalStatus(job.Status) {
		writeDone(w, jobID, job.Status)
		flusher.Flush()
		return
	}
	flusher.Flush()

	ch := a.Hub.Subscribe()
	defer a.Hub.Unsubscribe(ch)

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			_, _ = fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev logEvent
			if err := json.Unmarshal(msg, &ev); err != nil {
				continue
			}
			switch ev.Type {
			case "job_log":
				if ev.JobID != jobID {
					continue
				}
				writeLine(ev.Line)
				flusher.Flush()
			case "job_update":
				if ev.Job == nil || ev.Job.JobID != jobID || !isTerminalStatus(ev.Job.Status) {
					continue
				}
				writeDone(w, jobID, ev.Job.Status)
				flusher.Flush()
				return
			}
		}
	}
}

// writeDone closes the feed with the job's terminal status.
func writeDone(w http.ResponseWriter, jobID, status string) {
	b, err := json.Marshal(map[string]string{
		"type":   "job_done",
		"job_id": jobID,
		"status": status,
	})
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", b)
}

func isTerminalStatus(status string) bool {
	switch status {
	case models.StatusCompleted, models.StatusFailed, models.StatusCancelled:
		return true
	}
	return false
}
