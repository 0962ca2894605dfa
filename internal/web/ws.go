package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/forPelevin/ytclipper/internal/events"
	"github.com/forPelevin/ytclipper/internal/jobs"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	subBuffer      = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// statusMessage is the job snapshot sent when a stream opens and right
// before it closes.
type statusMessage struct {
	Kind  string `json:"kind"`
	JobID string `json:"job_id"`
	jobStatus
}

func snapshot(j jobs.Job) statusMessage {
	return statusMessage{Kind: "status", JobID: j.ID, jobStatus: statusOf(j)}
}

// handleJobEvents streams one job's events over a websocket. The stream
// opens with a status snapshot, relays events as they are published and
// ends with a final snapshot once the job finishes.
func (s *Server) handleJobEvents(c *gin.Context) {
	id := c.Param("id")
	if _, ok := s.opts.Jobs.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Job not found"})
		return
	}
	if s.opts.Bus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "event stream unavailable"})
		return
	}

	// Subscribe before the snapshot so nothing published in between is lost.
	sub := s.opts.Bus.Subscribe(subBuffer)
	defer s.opts.Bus.Unsubscribe(sub)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "job_id", id, "err", err)
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go readPump(conn, closed)

	j, ok := s.opts.Jobs.Get(id)
	if !ok {
		return
	}
	if err := writeJSON(conn, snapshot(j)); err != nil {
		return
	}
	if j.Finished() {
		s.closeStream(conn, id)
		return
	}

	done := s.opts.Jobs.Done(id)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			if e.JobID != id {
				continue
			}
			if err := writeJSON(conn, e); err != nil {
				return
			}
			if e.Terminal() {
				select {
				case <-done:
				case <-time.After(writeWait):
				}
				s.closeStream(conn, id)
				return
			}
		case <-done:
			drain(conn, sub, id)
			s.closeStream(conn, id)
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// drain relays events for id that were published before the job finished
// but not yet delivered.
func drain(conn *websocket.Conn, sub <-chan events.Event, id string) {
	for {
		select {
		case e, ok := <-sub:
			if !ok {
				return
			}
			if e.JobID != id {
				continue
			}
			if err := writeJSON(conn, e); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Server) closeStream(conn *websocket.Conn, id string) {
	if j, ok := s.opts.Jobs.Get(id); ok {
		_ = writeJSON(conn, snapshot(j))
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func writeJSON(conn *websocket.Conn, v any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}

// readPump discards client messages and keeps the read deadline fresh on
// pongs. closed is closed when the client goes away.
func readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
