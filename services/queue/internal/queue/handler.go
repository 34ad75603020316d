package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/telemetry"
	"github.com/appetiteclub/kiosk/pkg/enums/orderstatus"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const MaxBodyBytes = 1 << 20

type Handler struct {
	logger    apt.Logger
	config    *apt.Config
	tlm       *telemetry.HTTP
	svc       *Service
	counters  *CounterCache
	auth      *StaffAuth
	limiter   *SubmitLimiter
	upgrader  websocket.Upgrader
	publicURL string
}

type HandlerDeps struct {
	Service  *Service
	Counters *CounterCache
	Auth     *StaffAuth
	Limiter  *SubmitLimiter
}

func NewHandler(hd HandlerDeps, config *apt.Config, logger apt.Logger) *Handler {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}

	auth := hd.Auth
	if auth == nil {
		auth = NewStaffAuth("", logger)
	}
	limiter := hd.Limiter
	if limiter == nil {
		limiter = NewSubmitLimiter(0, 1)
	}
	counters := hd.Counters
	if counters == nil {
		counters = NewCounterCache(nil, nil, logger)
	}

	publicURL := "http://localhost:8080"
	if config != nil {
		publicURL = config.GetStringOrDef("public.url", publicURL)
	}

	return &Handler{
		logger:   logger,
		config:   config,
		tlm:      telemetry.NewHTTP(),
		svc:      hd.Service,
		counters: counters,
		auth:     auth,
		limiter:  limiter,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.With(h.limiter.Middleware).Post("/", h.SubmitOrder)
		r.Get("/{id}", h.GetOrder)
		r.Get("/{id}/qr", h.OrderQR)

		r.Group(func(r chi.Router) {
			r.Use(h.auth.Middleware)
			r.Get("/", h.ListOrders)
			r.Put("/{id}", h.UpdateOrderItems)
			r.Delete("/{id}", h.DeleteOrder)
			r.Post("/{id}/approve", h.ApproveOrder)
			r.Post("/{id}/complete", h.CompleteOrder)
			r.Post("/{id}/paid", h.MarkPaid)
		})
	})

	r.Get("/track", h.TrackOrder)

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/active", h.GetActiveSession)
		r.Get("/{id}/counter", h.GetCounter)
		r.Get("/{id}/queue", h.ListQueue)

		r.Group(func(r chi.Router) {
			r.Use(h.auth.Middleware)
			r.Post("/", h.StartSession)
			r.Put("/active", h.ActivateSession)
			r.Post("/{id}/call-next", h.CallNext)
		})
	})

	r.Get("/stream/sessions/{id}/counter", h.StreamCounter)
	r.Get("/stream/track", h.StreamTracking)
	r.Get("/ws/sessions/{id}/counter", h.CounterSocket)
}

// OrderView is an order with its status derived against the session
// counter.
type OrderView struct {
	*Order
	QueueStatus orderstatus.Status `json:"queue_status"`
}

type SubmitOrderRequest struct {
	CustomerName string `json:"customer_name"`
	Phone        string `json:"phone"`
	Items        []Item `json:"items"`
	SessionID    string `json:"session_id"`
}

type UpdateItemsRequest struct {
	Items []Item `json:"items"`
}

type MarkPaidRequest struct {
	Paid *bool `json:"paid"`
}

type SessionRequest struct {
	SessionID string `json:"session_id"`
}

type ApprovalResponse struct {
	OrderID uuid.UUID `json:"order_id"`
	Token   Token     `json:"token"`
}

// Order handlers

func (h *Handler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.SubmitOrder")
	defer finish()

	log := h.log(r)
	ctx := r.Context()

	var req SubmitOrderRequest
	if !h.decodePayload(w, r, log, &req, false) {
		return
	}

	session := SessionID(strings.TrimSpace(req.SessionID))
	if session == "" {
		active, err := h.svc.ActiveSession(ctx)
		if err != nil {
			log.Error("cannot resolve active session", "error", err)
			apt.RespondError(w, http.StatusInternalServerError, "Could not resolve active session")
			return
		}
		session = active
	}

	key := r.Header.Get("Idempotency-Key")
	order, err := h.svc.SubmitOrder(ctx, SubmitRequest{
		CustomerName:   req.CustomerName,
		Phone:          req.Phone,
		Items:          req.Items,
		SessionID:      session,
		IdempotencyKey: key,
	})
	if err != nil {
		h.respondServiceError(w, log, err, "submit order")
		return
	}

	log.Info("order submitted", "order_id", order.ID.String(), "session_id", order.SessionID.String())

	links := apt.RESTfulLinksFor(order)
	w.WriteHeader(http.StatusCreated)
	apt.RespondSuccess(w, h.view(ctx, order), links...)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetOrder")
	defer finish()

	log := h.log(r)
	ctx := r.Context()

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}

	order, err := h.svc.GetOrder(ctx, id)
	if err != nil {
		h.respondServiceError(w, log, err, "load order")
		return
	}

	links := apt.RESTfulLinksFor(order)
	apt.RespondSuccess(w, h.view(ctx, order), links...)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListOrders")
	defer finish()

	log := h.log(r)
	ctx := r.Context()

	filter := OrderFilter{
		SessionID: SessionID(strings.TrimSpace(r.URL.Query().Get("session"))),
		Phone:     strings.TrimSpace(r.URL.Query().Get("phone")),
	}

	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := orderstatus.Parse(raw)
		if err != nil || !status.Stored() {
			log.Debug("invalid status parameter", "status", raw)
			apt.RespondError(w, http.StatusBadRequest, "Invalid status parameter")
			return
		}
		filter.Statuses = []orderstatus.Status{status}
	}

	orders, err := h.svc.ListOrders(ctx, filter)
	if err != nil {
		h.respondServiceError(w, log, err, "list orders")
		return
	}

	apt.RespondCollection(w, h.views(ctx, orders), "order")
}

func (h *Handler) UpdateOrderItems(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.UpdateOrderItems")
	defer finish()

	log := h.log(r)
	ctx := r.Context()

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}

	var req UpdateItemsRequest
	if !h.decodePayload(w, r, log, &req, false) {
		return
	}

	order, err := h.svc.UpdateOrderItems(ctx, id, req.Items)
	if err != nil {
		h.respondServiceError(w, log, err, "update order")
		return
	}

	links := apt.RESTfulLinksFor(order)
	apt.RespondSuccess(w, h.view(ctx, order), links...)
}

func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.DeleteOrder")
	defer finish()

	log := h.log(r)

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}

	if err := h.svc.DeleteOrder(r.Context(), id); err != nil {
		h.respondServiceError(w, log, err, "delete order")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ApproveOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ApproveOrder")
	defer finish()

	log := h.log(r)

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}

	token, err := h.svc.ApproveOrder(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, log, err, "approve order")
		return
	}

	log.Info("order approved", "order_id", id.String(), "token", int(token), "staff", StaffFrom(r.Context()))
	apt.RespondSuccess(w, ApprovalResponse{OrderID: id, Token: token})
}

func (h *Handler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.CompleteOrder")
	defer finish()

	log := h.log(r)
	ctx := r.Context()

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}

	order, err := h.svc.CompleteOrder(ctx, id)
	if err != nil {
		h.respondServiceError(w, log, err, "complete order")
		return
	}

	links := apt.RESTfulLinksFor(order)
	apt.RespondSuccess(w, h.view(ctx, order), links...)
}

func (h *Handler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.MarkPaid")
	defer finish()

	log := h.log(r)
	ctx := r.Context()

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}

	var req MarkPaidRequest
	if !h.decodePayload(w, r, log, &req, true) {
		return
	}
	paid := true
	if req.Paid != nil {
		paid = *req.Paid
	}

	order, err := h.svc.MarkPaid(ctx, id, paid)
	if err != nil {
		h.respondServiceError(w, log, err, "update payment")
		return
	}

	links := apt.RESTfulLinksFor(order)
	apt.RespondSuccess(w, h.view(ctx, order), links...)
}

func (h *Handler) TrackOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.TrackOrder")
	defer finish()

	log := h.log(r)
	ctx := r.Context()

	session, ok := h.sessionQuery(w, r, log)
	if !ok {
		return
	}

	tracking, err := h.svc.TrackOrder(ctx, r.URL.Query().Get("phone"), session)
	if err != nil {
		h.respondServiceError(w, log, err, "track order")
		return
	}

	apt.RespondSuccess(w, tracking)
}

// Session handlers

func (h *Handler) GetActiveSession(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetActiveSession")
	defer finish()

	log := h.log(r)

	session, err := h.svc.ActiveSession(r.Context())
	if err != nil {
		h.respondServiceError(w, log, err, "load active session")
		return
	}

	apt.RespondSuccess(w, SessionRequest{SessionID: session.String()})
}

func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.StartSession")
	defer finish()

	log := h.log(r)
	ctx := r.Context()

	var req SessionRequest
	if !h.decodePayload(w, r, log, &req, true) {
		return
	}

	previous := SessionID(strings.TrimSpace(req.SessionID))
	if previous == "" {
		active, err := h.svc.ActiveSession(ctx)
		if err != nil {
			h.respondServiceError(w, log, err, "load active session")
			return
		}
		previous = active
	}

	next, err := h.svc.StartNewSession(ctx, previous)
	if err != nil {
		h.respondServiceError(w, log, err, "start session")
		return
	}

	h.counters.Set(NewSessionCounter(next))

	w.WriteHeader(http.StatusCreated)
	apt.RespondSuccess(w, SessionRequest{SessionID: next.String()})
}

func (h *Handler) ActivateSession(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ActivateSession")
	defer finish()

	log := h.log(r)

	var req SessionRequest
	if !h.decodePayload(w, r, log, &req, false) {
		return
	}

	if err := h.svc.ActivateSession(r.Context(), SessionID(req.SessionID)); err != nil {
		h.respondServiceError(w, log, err, "activate session")
		return
	}

	apt.RespondSuccess(w, SessionRequest{SessionID: strings.TrimSpace(req.SessionID)})
}

func (h *Handler) GetCounter(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetCounter")
	defer finish()

	log := h.log(r)

	session, ok := h.sessionParam(w, r, log)
	if !ok {
		return
	}

	counter, err := h.counter(r.Context(), session)
	if err != nil {
		h.respondServiceError(w, log, err, "load counter")
		return
	}

	apt.RespondSuccess(w, counter)
}

func (h *Handler) CallNext(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.CallNext")
	defer finish()

	log := h.log(r)
	ctx := r.Context()

	session, ok := h.sessionParam(w, r, log)
	if !ok {
		return
	}

	if _, err := h.svc.CallNext(ctx, session); err != nil {
		h.respondServiceError(w, log, err, "call next")
		return
	}

	counter, err := h.svc.Counter(ctx, session)
	if err != nil {
		h.respondServiceError(w, log, err, "load counter")
		return
	}
	h.counters.Set(counter)

	log.Info("next ticket called", "session_id", session.String(), "current", counter.Current)
	apt.RespondSuccess(w, counter)
}

func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListQueue")
	defer finish()

	log := h.log(r)
	ctx := r.Context()

	session, ok := h.sessionParam(w, r, log)
	if !ok {
		return
	}

	orders, err := h.svc.ListQueue(ctx, session, r.URL.Query().Get("q"))
	if err != nil {
		h.respondServiceError(w, log, err, "list queue")
		return
	}

	apt.RespondCollection(w, h.views(ctx, orders), "order")
}

// Helpers

// counter reads the session counter from the store, the same source the
// tracking view uses. The cache only answers while the store is unreachable.
func (h *Handler) counter(ctx context.Context, session SessionID) (*SessionCounter, error) {
	counter, err := h.svc.Counter(ctx, session)
	if err != nil {
		if cached, ok := h.counters.Get(session); ok {
			h.logger.Info("serving cached counter", "session_id", session.String(), "error", err)
			return cached, nil
		}
		return nil, err
	}
	h.counters.Set(counter)
	return counter, nil
}

func (h *Handler) view(ctx context.Context, order *Order) OrderView {
	current := 0
	if counter, err := h.counter(ctx, order.SessionID); err == nil {
		current = counter.Current
	}
	return OrderView{Order: order, QueueStatus: order.QueueStatus(current)}
}

func (h *Handler) views(ctx context.Context, orders []*Order) []OrderView {
	currents := make(map[SessionID]int)
	views := make([]OrderView, 0, len(orders))
	for _, order := range orders {
		current, ok := currents[order.SessionID]
		if !ok {
			if counter, err := h.counter(ctx, order.SessionID); err == nil {
				current = counter.Current
			}
			currents[order.SessionID] = current
		}
		views = append(views, OrderView{Order: order, QueueStatus: order.QueueStatus(current)})
	}
	return views
}

func (h *Handler) respondServiceError(w http.ResponseWriter, log apt.Logger, err error, action string) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		apt.RespondError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, ErrValidation):
		apt.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrOrderNotFound):
		apt.RespondError(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, ErrSessionNotFound):
		apt.RespondError(w, http.StatusNotFound, "Session not found")
	case errors.Is(err, ErrNotPending):
		apt.RespondError(w, http.StatusConflict, "Order already processed")
	case errors.Is(err, ErrAlreadyCompleted),
		errors.Is(err, ErrNotApproved),
		errors.Is(err, ErrOrderLocked),
		errors.Is(err, ErrSessionExists),
		errors.Is(err, ErrDuplicateSubmission):
		apt.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrTransactionConflict):
		log.Info("transaction conflict", "action", action)
		apt.RespondError(w, http.StatusServiceUnavailable, "Transaction conflict, try again")
	default:
		log.Error("cannot "+action, "error", err)
		apt.RespondError(w, http.StatusInternalServerError, "Could not "+action)
	}
}

func (h *Handler) decodePayload(w http.ResponseWriter, r *http.Request, log apt.Logger, v interface{}, optional bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Debug("failed to read request body", "error", err)
		apt.RespondError(w, http.StatusBadRequest, "Failed to read request body")
		return false
	}

	if optional && len(strings.TrimSpace(string(body))) == 0 {
		return true
	}

	if err := json.Unmarshal(body, v); err != nil {
		log.Debug("failed to decode request body", "error", err)
		apt.RespondError(w, http.StatusBadRequest, "Invalid JSON in request body")
		return false
	}

	return true
}

func (h *Handler) parseIDParam(w http.ResponseWriter, r *http.Request, log apt.Logger) (uuid.UUID, bool) {
	rawID := chi.URLParam(r, "id")
	id, err := uuid.Parse(rawID)
	if err != nil {
		log.Debug("invalid order id", "id", rawID, "error", err)
		apt.RespondError(w, http.StatusBadRequest, "Invalid order ID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) sessionParam(w http.ResponseWriter, r *http.Request, log apt.Logger) (SessionID, bool) {
	raw := chi.URLParam(r, "id")
	if decoded, err := url.PathUnescape(raw); err == nil {
		raw = decoded
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		log.Debug("missing session id")
		apt.RespondError(w, http.StatusBadRequest, "session is required")
		return "", false
	}
	return SessionID(raw), true
}

// sessionQuery reads ?session= and falls back to the active session.
func (h *Handler) sessionQuery(w http.ResponseWriter, r *http.Request, log apt.Logger) (SessionID, bool) {
	if raw := strings.TrimSpace(r.URL.Query().Get("session")); raw != "" {
		return SessionID(raw), true
	}
	session, err := h.svc.ActiveSession(r.Context())
	if err != nil {
		log.Error("cannot resolve active session", "error", err)
		apt.RespondError(w, http.StatusInternalServerError, "Could not resolve active session")
		return "", false
	}
	return session, true
}

func (h *Handler) log(r *http.Request) apt.Logger {
	return h.logger.With("request_id", apt.RequestIDFrom(r.Context()))
}
