package queue

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// CounterSocket pushes the session counter over a websocket. Incoming
// messages are ignored; reading only detects the disconnect.
func (h *Handler) CounterSocket(w http.ResponseWriter, r *http.Request) {
	log := h.log(r)

	session, ok := h.sessionParam(w, r, log)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	updates := newLatest[*SessionCounter]()
	sub, err := h.svc.SubscribeToCounter(ctx, session, updates.push)
	if err != nil {
		log.Error("cannot subscribe to counter", "error", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscription failed"),
			time.Now().Add(writeWait))
		return
	}
	defer sub.Unsubscribe()

	log.Info("counter socket opened", "session_id", session.String())

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("counter socket closed", "session_id", session.String())
			return

		case <-sub.Done():
			log.Info("counter feed ended", "session_id", session.String(), "error", sub.Err())
			return

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}

		case counter := <-updates.ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(counter); err != nil {
				log.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}
