package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/auth"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/delivery"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/dispatch"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/inbound"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/models"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/observability"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/storage"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, bookingID string) (dispatch.Result, error)
	CancelDispatch(ctx context.Context, bookingID string) (int, error)
}

type Resolver interface {
	Resolve(ctx context.Context, resp dispatch.Response) (storage.ResolveResult, error)
}

type SMSWebhook interface {
	Handle(ctx context.Context, m inbound.Message) (inbound.Reply, error)
}

type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

// Deps are the collaborators the API needs. WSReg is optional.
type Deps struct {
	Store      storage.Store
	Dispatcher Dispatcher
	Resolver   Resolver
	Webhook    SMSWebhook
	Tokens     TokenParser
	WSReg      *delivery.WSRegistry
}

type Server struct {
	Deps
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{Deps: deps, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

const defaultListLimit = 50

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Handle("/bookings/{id}/dispatch", s.requireRole(s.handleDispatch, auth.RoleAdmin, auth.RoleRider)).Methods(http.MethodPost)
	api.Handle("/bookings/{id}/cancel-dispatch", s.requireRole(s.handleCancelDispatch, auth.RoleAdmin, auth.RoleRider)).Methods(http.MethodPost)
	api.Handle("/bookings/{id}/notifications", s.requireRole(s.handleBookingNotifications, auth.RoleAdmin)).Methods(http.MethodGet)
	api.Handle("/bookings/{id}/logs", s.requireRole(s.handleBookingLogs, auth.RoleAdmin)).Methods(http.MethodGet)
	api.Handle("/drivers/me/notifications", s.requireRole(s.handleMyNotifications, auth.RoleDriver)).Methods(http.MethodGet)
	api.Handle("/notifications/{id}/respond", s.requireRole(s.handleRespond, auth.RoleDriver)).Methods(http.MethodPost)

	s.mux.Handle("/ws", s.requireRole(s.handleWS, auth.RoleDriver)).Methods(http.MethodGet)
	s.mux.HandleFunc("/webhooks/sms", s.handleSMSWebhook).Methods(http.MethodPost)
	s.mux.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	res, err := s.Dispatcher.Dispatch(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCancelDispatch(w http.ResponseWriter, r *http.Request) {
	n, err := s.Dispatcher.CancelDispatch(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"expired": n})
}

func (s *Server) handleBookingNotifications(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.Store.GetBooking(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	ns, err := s.Store.ListByBooking(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": nonNil(ns)})
}

func (s *Server) handleBookingLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.Store.ListLogs(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": nonNil(logs)})
}

func (s *Server) handleMyNotifications(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	ns, err := s.Store.ListByDriver(r.Context(), claims.Subject, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": nonNil(ns)})
}

type respondRequest struct {
	BookingID    string `json:"booking_id"`
	Accepted     *bool  `json:"accepted"`
	ResponseCode string `json:"response_code"`
}

type respondResponse struct {
	Outcome      models.Outcome             `json:"outcome"`
	Notification *models.DriverNotification `json:"notification,omitempty"`
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return
	}
	if req.Accepted == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "accepted is required"})
		return
	}
	res, err := s.Resolver.Resolve(r.Context(), dispatch.Response{
		NotificationID: mux.Vars(r)["id"],
		DriverID:       claims.Subject,
		BookingID:      req.BookingID,
		Accepted:       *req.Accepted,
		ResponseCode:   req.ResponseCode,
		Channel:        delivery.ChannelInApp,
	})
	if err != nil {
		// nothing was confirmed; the driver app retries
		s.logger.Error("respond failed", "driver_id", claims.Subject, "error", err, "request_id", requestIDFromContext(r.Context()))
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "response could not be recorded, try again"})
		return
	}
	status := http.StatusOK
	if res.Outcome == models.OutcomeNotFound {
		status = http.StatusNotFound
	}
	writeJSON(w, status, respondResponse{Outcome: res.Outcome, Notification: res.Notification})
}

func (s *Server) handleSMSWebhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}
	from := r.PostForm.Get("From")
	if from == "" {
		http.Error(w, "missing From", http.StatusBadRequest)
		return
	}
	reply, err := s.Webhook.Handle(r.Context(), inbound.Message{
		From:      from,
		Body:      r.PostForm.Get("Body"),
		MessageID: r.PostForm.Get("MessageSid"),
	})
	switch {
	case errors.Is(err, inbound.ErrUnknownSender):
		http.Error(w, "Driver not found", http.StatusNotFound)
		return
	case errors.Is(err, inbound.ErrNoPendingOffer):
		http.Error(w, "No pending booking notification found", http.StatusNotFound)
		return
	case err != nil:
		s.logger.Error("sms webhook failed", "error", err, "request_id", requestIDFromContext(r.Context()))
		http.Error(w, "Error processing response", http.StatusInternalServerError)
		return
	}
	body, err := inbound.TwiML(reply.Text)
	if err != nil {
		http.Error(w, "Error processing response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write(body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Ping(r.Context()); err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ok"))
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.WSReg == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "push sessions are disabled"})
		return
	}
	claims, _ := auth.FromContext(r.Context())
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "driver_id", claims.Subject, "error", err)
		return
	}
	sess := s.WSReg.Add(claims.Subject, conn)
	observability.WSSessions.Inc()
	defer func() {
		s.WSReg.Remove(claims.Subject, sess)
		observability.WSSessions.Dec()
	}()

	// New sessions start from the same rows a polling client would see.
	if ns, err := s.Store.ListByDriver(r.Context(), claims.Subject, defaultListLimit); err == nil {
		_ = sess.Send(map[string]any{"type": "snapshot", "notifications": nonNil(ns)})
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps domain errors to HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, dispatch.ErrBookingNotFound), errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, dispatch.ErrNotDispatchable):
		status = http.StatusConflict
	case errors.Is(err, dispatch.ErrPaymentNotConfirmed):
		status = http.StatusPaymentRequired
	case storage.IsTransient(err):
		status = http.StatusServiceUnavailable
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "route", routeTemplate(r), "error", err, "request_id", requestIDFromContext(r.Context()))
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
