package delivery

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// WSSession represents a connected driver app.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

// WSRegistry holds driver sessions and doubles as the in-app Sender.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{sessions: make(map[string]*WSSession)} }

// Add registers conn for driverID, closing any session it replaces.
func (r *WSRegistry) Add(driverID string, conn *websocket.Conn) *WSSession {
	s := &WSSession{conn: conn}
	r.mu.Lock()
	old := r.sessions[driverID]
	r.sessions[driverID] = s
	r.mu.Unlock()
	if old != nil {
		_ = old.conn.Close()
	}
	return s
}

// Remove drops the session if it is still the current one for driverID.
func (r *WSRegistry) Remove(driverID string, s *WSSession) {
	r.mu.Lock()
	if cur, ok := r.sessions[driverID]; ok && cur == s {
		delete(r.sessions, driverID)
	}
	r.mu.Unlock()
	_ = s.conn.Close()
}

func (r *WSRegistry) Connected(driverID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[driverID]
	return ok
}

// Push writes v to the driver's session.
func (r *WSRegistry) Push(driverID string, v any) error {
	r.mu.RLock()
	s, ok := r.sessions[driverID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoRecipient
	}
	return s.Send(v)
}

func (r *WSRegistry) Channel() string { return ChannelInApp }

func (r *WSRegistry) Send(ctx context.Context, m Message) (Result, error) {
	payload := m.Payload
	if payload == nil {
		payload = map[string]string{"type": "message", "body": m.Body}
	}
	if err := r.Push(m.DriverID, payload); err != nil {
		if err == ErrNoRecipient {
			return Result{}, err
		}
		return Result{Channel: ChannelInApp, StatusCode: http.StatusGone, Payload: rawJSON([]byte(err.Error()))}, err
	}
	return Result{Channel: ChannelInApp, StatusCode: http.StatusOK, Payload: rawJSON([]byte(`{"pushed":true}`))}, nil
}
