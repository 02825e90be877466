package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/models"
)

// ErrNoRecipient is returned by a sender that has no address for the driver
// on its channel. Fanout skips those attempts.
var ErrNoRecipient = errors.New("no recipient for channel")

const (
	ChannelSMS      = "sms"
	ChannelWhatsApp = "whatsapp"
	ChannelTelegram = "telegram"
	ChannelInApp    = "in_app"
)

type Message struct {
	DriverID       string
	Phone          string
	TelegramChatID *int64
	Body           string
	// Payload is pushed as-is to in-app sessions.
	Payload any
}

type Result struct {
	Channel    string
	StatusCode int
	ProviderID string
	Payload    json.RawMessage
}

// Sender delivers one message over one channel.
type Sender interface {
	Channel() string
	Send(ctx context.Context, m Message) (Result, error)
}

// ProviderError is a non-2xx answer from a messaging provider.
type ProviderError struct {
	Channel    string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider returned %d: %s", e.Channel, e.StatusCode, e.Body)
}

type Attempt struct {
	Result Result
	Err    error
}

// Fanout sends a message on every configured channel, each bounded by Timeout.
type Fanout struct {
	Senders []Sender
	Timeout time.Duration
}

// SendAll sends on every channel at once, so the slowest channel bounds the
// call rather than the sum of all of them. It returns one attempt per channel
// that had a recipient for m, in Senders order.
func (f *Fanout) SendAll(ctx context.Context, m Message) []Attempt {
	results := make([]Attempt, len(f.Senders))
	skipped := make([]bool, len(f.Senders))
	var wg sync.WaitGroup
	for i, s := range f.Senders {
		wg.Add(1)
		go func(i int, s Sender) {
			defer wg.Done()
			res, err := f.send(ctx, s, m)
			if errors.Is(err, ErrNoRecipient) {
				skipped[i] = true
				return
			}
			if res.Channel == "" {
				res.Channel = s.Channel()
			}
			results[i] = Attempt{Result: res, Err: err}
		}(i, s)
	}
	wg.Wait()

	out := make([]Attempt, 0, len(f.Senders))
	for i := range results {
		if !skipped[i] {
			out = append(out, results[i])
		}
	}
	return out
}

func (f *Fanout) send(ctx context.Context, s Sender, m Message) (Result, error) {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}
	return s.Send(ctx, m)
}

// Delivered reports whether any attempt succeeded.
func Delivered(attempts []Attempt) bool {
	for _, a := range attempts {
		if a.Err == nil {
			return true
		}
	}
	return false
}

// Compose renders the alert text a driver receives for a booking offer.
func Compose(b *models.Booking, n *models.DriverNotification) string {
	var sb strings.Builder
	sb.WriteString("New booking request\n")
	fmt.Fprintf(&sb, "Route: %s -> %s\n", b.FromLocation, b.ToLocation)
	when := strings.TrimSpace(b.DepartureDate + " " + b.DepartureTime)
	if when != "" {
		fmt.Fprintf(&sb, "Departure: %s\n", when)
	}
	if b.ServiceType != "" {
		fmt.Fprintf(&sb, "Service: %s\n", b.ServiceType)
	}
	if b.GroupSize > 0 {
		fmt.Fprintf(&sb, "Passengers: %d\n", b.GroupSize)
	}
	fmt.Fprintf(&sb, "Reply YES %s to accept or NO %s to decline before %s.",
		n.ResponseCode, n.ResponseCode, n.ExpiresAt.UTC().Format("15:04 MST"))
	return sb.String()
}

func rawJSON(body []byte) json.RawMessage {
	if len(body) > 0 && json.Valid(body) {
		return json.RawMessage(body)
	}
	b, _ := json.Marshal(map[string]string{"raw": string(body)})
	return b
}
