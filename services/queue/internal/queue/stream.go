package queue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/appetiteclub/apt"
)

const keepaliveInterval = 30 * time.Second

// latest is a one-slot mailbox that keeps only the newest value, so a slow
// client skips intermediate snapshots instead of blocking the watcher.
type latest[T any] struct {
	ch chan T
}

func newLatest[T any]() *latest[T] {
	return &latest[T]{ch: make(chan T, 1)}
}

func (l *latest[T]) push(v T) {
	for {
		select {
		case l.ch <- v:
			return
		default:
			select {
			case <-l.ch:
			default:
			}
		}
	}
}

func writeEvent(w io.Writer, name string, data []byte) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}

func openEventStream(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		apt.RespondError(w, http.StatusInternalServerError, "Streaming unsupported")
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	fmt.Fprintf(w, ": connected\n\n")
	fmt.Fprintf(w, "retry: 2000\n\n")
	flusher.Flush()
	return flusher, true
}

// StreamCounter pushes the session counter as server-sent events.
func (h *Handler) StreamCounter(w http.ResponseWriter, r *http.Request) {
	log := h.log(r)

	session, ok := h.sessionParam(w, r, log)
	if !ok {
		return
	}

	updates := newLatest[*SessionCounter]()
	sub, err := h.svc.SubscribeToCounter(r.Context(), session, updates.push)
	if err != nil {
		h.respondServiceError(w, log, err, "subscribe to counter")
		return
	}
	defer sub.Unsubscribe()

	flusher, ok := openEventStream(w)
	if !ok {
		return
	}
	log.Info("counter stream opened", "session_id", session.String())

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Info("counter stream closed", "session_id", session.String())
			return

		case <-sub.Done():
			log.Info("counter feed ended", "session_id", session.String(), "error", sub.Err())
			return

		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()

		case counter := <-updates.ch:
			h.counters.Set(counter)
			data, err := json.Marshal(counter)
			if err != nil {
				log.Error("cannot encode counter", "error", err)
				continue
			}
			if err := writeEvent(w, "counter", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// StreamTracking pushes the customer's tracking view whenever one of their
// orders or the session counter changes. Under the between policy any order
// of the session can move the position, so the whole session is followed.
func (h *Handler) StreamTracking(w http.ResponseWriter, r *http.Request) {
	log := h.log(r)
	ctx := r.Context()

	session, ok := h.sessionQuery(w, r, log)
	if !ok {
		return
	}
	phone := r.URL.Query().Get("phone")

	changed := newLatest[struct{}]()
	signal := func() { changed.push(struct{}{}) }

	var (
		orderSub *Subscription
		err      error
	)
	if h.svc.Policy().NeedsSessionOrders() {
		if strings.TrimSpace(phone) == "" {
			h.respondServiceError(w, log, invalid("phone", "phone is required"), "subscribe to orders")
			return
		}
		orderSub, err = h.svc.SubscribeToSessionOrders(ctx, session, func([]*Order) { signal() })
	} else {
		orderSub, err = h.svc.SubscribeToOrdersByPhone(ctx, phone, session, func([]*Order) { signal() })
	}
	if err != nil {
		h.respondServiceError(w, log, err, "subscribe to orders")
		return
	}
	defer orderSub.Unsubscribe()

	counterSub, err := h.svc.SubscribeToCounter(ctx, session, func(*SessionCounter) { signal() })
	if err != nil {
		h.respondServiceError(w, log, err, "subscribe to counter")
		return
	}
	defer counterSub.Unsubscribe()

	flusher, ok := openEventStream(w)
	if !ok {
		return
	}

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	var last []byte
	for {
		select {
		case <-ctx.Done():
			return

		case <-orderSub.Done():
			log.Info("order feed ended", "error", orderSub.Err())
			return

		case <-counterSub.Done():
			log.Info("counter feed ended", "error", counterSub.Err())
			return

		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()

		case <-changed.ch:
			tracking, err := h.svc.TrackOrder(ctx, phone, session)
			if err != nil {
				log.Error("cannot track order", "error", err)
				continue
			}
			data, err := json.Marshal(tracking)
			if err != nil {
				log.Error("cannot encode tracking", "error", err)
				continue
			}
			if bytes.Equal(data, last) {
				continue
			}
			last = data
			if err := writeEvent(w, "tracking", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
