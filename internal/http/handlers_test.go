package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/auth"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/delivery"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/dispatch"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/eligibility"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/inbound"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/models"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/storage"
)

type testEnv struct {
	srv    *Server
	store  *storage.MemoryStore
	tokens *auth.Signer
	wsreg  *delivery.WSRegistry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	for _, id := range []string{"D1", "D2"} {
		phone := "+1555000" + id
		require.NoError(t, store.SaveDriver(ctx, &models.Driver{ID: id, Status: models.DriverActive, DocumentsVerified: true, Available: true, Phone: &phone}))
	}
	require.NoError(t, store.SaveBooking(ctx, &models.Booking{ID: "X", FromLocation: "Airport", ToLocation: "Harbour", Status: models.BookingConfirmed}))

	wsreg := delivery.NewWSRegistry()
	resolver := &dispatch.Resolver{Store: store, Pusher: wsreg, Backoff: time.Millisecond}
	orch := &dispatch.Orchestrator{
		Store:    store,
		Selector: &eligibility.Selector{Drivers: store},
		Delivery: &delivery.Fanout{Senders: []delivery.Sender{wsreg}, Timeout: time.Second},
		Pusher:   wsreg,
	}
	tokens := auth.NewSigner("test-secret")
	srv := NewServer(Deps{
		Store:      store,
		Dispatcher: orch,
		Resolver:   resolver,
		Webhook:    &inbound.Webhook{Lookup: store, Resolver: resolver, Dedup: inbound.NewMemoryDeduper(time.Hour)},
		Tokens:     tokens,
		WSReg:      wsreg,
	}, nil)
	return &testEnv{srv: srv, store: store, tokens: tokens, wsreg: wsreg}
}

func (e *testEnv) token(t *testing.T, subject, role string) string {
	t.Helper()
	tok, err := e.tokens.Issue(subject, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (e *testEnv) notificationID(t *testing.T, driverID string) string {
	t.Helper()
	ns, err := e.store.ListByDriver(context.Background(), driverID, 1)
	require.NoError(t, err)
	require.Len(t, ns, 1)
	return ns[0].ID
}

func TestDispatchRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/bookings/X/dispatch", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/bookings/X/dispatch", "not-a-jwt", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/bookings/X/dispatch", env.token(t, "D1", auth.RoleDriver), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDispatchEndpoint(t *testing.T) {
	env := newTestEnv(t)
	admin := env.token(t, "ops", auth.RoleAdmin)

	rec := env.do(t, http.MethodPost, "/api/v1/bookings/X/dispatch", admin, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[dispatch.Result](t, rec)
	assert.Equal(t, 2, res.Notified)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = env.do(t, http.MethodPost, "/api/v1/bookings/X/dispatch", env.token(t, "r1", auth.RoleRider), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[dispatch.Result](t, rec).Reused)

	rec = env.do(t, http.MethodGet, "/api/v1/bookings/X/notifications", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Notifications []models.DriverNotification `json:"notifications"`
	}](t, rec)
	assert.Len(t, list.Notifications, 2)

	rec = env.do(t, http.MethodPost, "/api/v1/bookings/nope/dispatch", admin, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decode[errorBody](t, rec).Error, "booking not found")
}

func TestDispatchRejectsClosedBooking(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.SaveBooking(context.Background(), &models.Booking{ID: "C", Status: models.BookingCompleted}))

	rec := env.do(t, http.MethodPost, "/api/v1/bookings/C/dispatch", env.token(t, "ops", auth.RoleAdmin), "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRespondEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/bookings/X/dispatch", env.token(t, "ops", auth.RoleAdmin), "")
	require.Equal(t, http.StatusOK, rec.Code)

	d1 := env.token(t, "D1", auth.RoleDriver)
	d2 := env.token(t, "D2", auth.RoleDriver)
	n1 := env.notificationID(t, "D1")
	n2 := env.notificationID(t, "D2")

	rec = env.do(t, http.MethodPost, "/api/v1/notifications/"+n1+"/respond", d1, `{"booking_id":"X"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/notifications/"+n1+"/respond", d2, `{"booking_id":"X","accepted":true}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, models.OutcomeNotFound, decode[respondResponse](t, rec).Outcome)

	rec = env.do(t, http.MethodPost, "/api/v1/notifications/"+n1+"/respond", d1, `{"booking_id":"X","accepted":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.OutcomeSuccess, decode[respondResponse](t, rec).Outcome)

	rec = env.do(t, http.MethodPost, "/api/v1/notifications/"+n1+"/respond", d1, `{"booking_id":"X","accepted":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.OutcomeAlreadyResolved, decode[respondResponse](t, rec).Outcome)

	rec = env.do(t, http.MethodPost, "/api/v1/notifications/"+n2+"/respond", d2, `{"booking_id":"X","accepted":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.OutcomeAlreadyResolved, decode[respondResponse](t, rec).Outcome)

	rec = env.do(t, http.MethodGet, "/api/v1/drivers/me/notifications", d2, "")
	require.Equal(t, http.StatusOK, rec.Code)
	mine := decode[struct {
		Notifications []models.DriverNotification `json:"notifications"`
	}](t, rec)
	require.Len(t, mine.Notifications, 1)
	assert.Equal(t, models.NotificationExpired, mine.Notifications[0].Status)
}

func TestCancelDispatchEndpoint(t *testing.T) {
	env := newTestEnv(t)
	admin := env.token(t, "ops", auth.RoleAdmin)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/bookings/X/dispatch", admin, "").Code)

	rec := env.do(t, http.MethodPost, "/api/v1/bookings/X/cancel-dispatch", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int{"expired": 2}, decode[map[string]int](t, rec))
}

func postForm(env *testEnv, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/sms", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)
	return rec
}

func TestSMSWebhook(t *testing.T) {
	env := newTestEnv(t)
	rec := postForm(env, url.Values{"From": {"+1555000D1"}, "Body": {"YES"}, "MessageSid": {"SM1"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "No pending booking notification found")

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/bookings/X/dispatch", env.token(t, "ops", auth.RoleAdmin), "").Code)

	rec = postForm(env, url.Values{"From": {"whatsapp:+1555000D1"}, "Body": {"yes"}, "MessageSid": {"SM2"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<Response><Message>Booking confirmed")

	rec = postForm(env, url.Values{"From": {"+19990000000"}, "Body": {"YES"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Driver not found")

	rec = postForm(env, url.Values{"Body": {"YES"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestWebsocketReceivesOffers(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + env.token(t, "D1", auth.RoleDriver)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var snapshot map[string]any
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, "snapshot", snapshot["type"])

	rec := env.do(t, http.MethodPost, "/api/v1/bookings/X/dispatch", env.token(t, "ops", auth.RoleAdmin), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var offer dispatch.OfferPush
	require.NoError(t, conn.ReadJSON(&offer))
	assert.Equal(t, "offer", offer.Type)
	require.NotNil(t, offer.Notification)
	assert.Equal(t, "D1", offer.Notification.DriverID)
	assert.Equal(t, "X", offer.Booking.ID)
}
