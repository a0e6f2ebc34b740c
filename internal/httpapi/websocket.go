package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Milix-M/DeepReSearch/internal/engine"
	"github.com/Milix-M/DeepReSearch/internal/events"
	"github.com/Milix-M/DeepReSearch/internal/streaming"
	"github.com/Milix-M/DeepReSearch/pkg/schema"
)

const (
	// closeBadPayload rejects malformed client frames and empty queries.
	closeBadPayload = 4000

	pingInterval  = 20 * time.Second
	writeDeadline = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // Browser origin checks are enforced at the HTTP layer.
	},
}

// wsFrame is the server-to-client message envelope.
type wsFrame struct {
	Type      string                `json:"type"`
	ThreadID  string                `json:"thread_id,omitempty"`
	Message   string                `json:"message,omitempty"`
	Event     *schema.ProgressEvent `json:"event,omitempty"`
	Interrupt map[string]any        `json:"interrupt,omitempty"`
	State     map[string]any        `json:"state,omitempty"`
}

// handleResearchSocket drives one interactive research session: the client
// opens with {"query"}, the server streams events, and each pause becomes an
// interrupt/decision round trip until the thread completes.
func (s *Server) handleResearchSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // Upgrade already replied with an HTTP error.
	}
	defer conn.Close()

	var start struct {
		Query string `json:"query"`
	}
	if err := conn.ReadJSON(&start); err != nil {
		closeSocket(conn, closeBadPayload, "invalid payload")
		return
	}
	query := strings.TrimSpace(start.Query)
	if query == "" {
		s.logger.Warn("websocket closing due to empty query")
		writeFrame(conn, wsFrame{Type: "error", Message: "query が空です。"})
		closeSocket(conn, closeBadPayload, "empty query")
		return
	}

	threadID := s.svc.NewThreadID()
	s.logger.Info("websocket session started", "thread_id", threadID)
	if err := writeFrame(conn, wsFrame{Type: "thread_started", ThreadID: threadID}); err != nil {
		return
	}

	// Subscribe before starting so no event slips past the relay.
	sub, err := s.svc.Subscribe(r.Context(), streaming.Filter{ThreadID: threadID})
	if err != nil {
		writeFrame(conn, wsFrame{Type: "error", ThreadID: threadID, Message: agentMessage(err)})
		closeSocket(conn, websocket.CloseInternalServerErr, "subscribe failed")
		return
	}
	defer s.svc.Unsubscribe(sub.ID)

	stopPing := keepalive(conn)
	defer stopPing()

	ctx := r.Context()
	outcome, runErr := s.runForwarding(conn, sub, func() (*engine.RunOutcome, error) {
		return s.svc.StartResearch(ctx, threadID, query)
	})

	for {
		switch {
		case runErr != nil:
			s.logger.Error("websocket run failed", "thread_id", threadID, "error", runErr)
			writeFrame(conn, wsFrame{Type: "error", ThreadID: threadID, Message: agentMessage(runErr)})
			closeSocket(conn, websocket.CloseInternalServerErr, "run failed")
			return
		case outcome.Status == schema.ThreadStatusCompleted:
			st, _ := events.Sanitize(outcome.State).(map[string]any)
			writeFrame(conn, wsFrame{Type: "complete", ThreadID: threadID, State: st})
			closeSocket(conn, websocket.CloseNormalClosure, "completed")
			return
		case outcome.Interrupt == nil:
			writeFrame(conn, wsFrame{Type: "error", ThreadID: threadID, Message: "割り込み情報が取得できませんでした。"})
			closeSocket(conn, websocket.CloseInternalServerErr, "missing interrupt")
			return
		}

		if err := writeFrame(conn, wsFrame{Type: "interrupt", ThreadID: threadID, Interrupt: outcome.Interrupt.ExportFields()}); err != nil {
			return
		}

		var resume struct {
			Decision string         `json:"decision"`
			Plan     map[string]any `json:"plan"`
		}
		if err := conn.ReadJSON(&resume); err != nil {
			closeSocket(conn, closeBadPayload, "invalid payload")
			return
		}

		next, err := s.runForwarding(conn, sub, func() (*engine.RunOutcome, error) {
			return s.svc.ResumeResearch(ctx, threadID, resume.Decision, resume.Plan)
		})
		if schema.IsCode(err, schema.ErrCodeInvalidDecision) {
			// The pause stays outstanding; the loop re-sends the interrupt
			// and waits for a recognizable decision.
			writeFrame(conn, wsFrame{Type: "error", ThreadID: threadID, Message: "decision は 'y' または 'n' を指定してください。"})
			continue
		}
		outcome, runErr = next, err
	}
}

// runForwarding executes call while relaying the thread's events to the
// client. Events publish before the run returns, so once call finishes the
// leftovers are already buffered and a non-blocking drain empties them.
func (s *Server) runForwarding(conn *websocket.Conn, sub *streaming.Subscription, call func() (*engine.RunOutcome, error)) (*engine.RunOutcome, error) {
	type result struct {
		outcome *engine.RunOutcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		outcome, err := call()
		done <- result{outcome: outcome, err: err}
	}()

	for {
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				res := <-done
				return res.outcome, res.err
			}
			if err := s.forwardEvent(conn, ev); err != nil {
				res := <-done
				return res.outcome, err
			}
		case res := <-done:
			for {
				select {
				case ev, ok := <-sub.Events:
					if !ok {
						return res.outcome, res.err
					}
					if err := s.forwardEvent(conn, ev); err != nil {
						return res.outcome, err
					}
				default:
					return res.outcome, res.err
				}
			}
		}
	}
}

// forwardEvent relays one event frame. Error-level events additionally
// produce an error frame so the frontend can surface them without digging
// into payloads.
func (s *Server) forwardEvent(conn *websocket.Conn, ev schema.ProgressEvent) error {
	if err := writeFrame(conn, wsFrame{Type: "event", ThreadID: ev.ThreadID, Event: &ev}); err != nil {
		return err
	}
	if ev.Level == schema.LevelError {
		msg := ev.Message
		if msg == "" {
			msg = "処理中にエラーが発生しました。"
		}
		return writeFrame(conn, wsFrame{Type: "error", ThreadID: ev.ThreadID, Message: msg})
	}
	return nil
}

// writeFrame sends one JSON frame. Every data write happens on the handler
// goroutine; only control frames go out concurrently.
func writeFrame(conn *websocket.Conn, frame wsFrame) error {
	conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return conn.WriteJSON(frame)
}

// closeSocket sends a close frame; the deferred conn.Close tears down the
// transport.
func closeSocket(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeDeadline))
}

// keepalive pings the client until the returned stop function runs.
// WriteControl is safe to use concurrently with WriteJSON.
func keepalive(conn *websocket.Conn) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeDeadline)); err != nil {
					return
				}
			}
		}
	}()
	return func() { close(stop) }
}
