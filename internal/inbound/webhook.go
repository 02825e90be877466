package inbound

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/delivery"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/dispatch"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/models"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/storage"
)

var (
	ErrUnknownSender  = errors.New("driver not found")
	ErrNoPendingOffer = errors.New("no pending booking notification found")
)

// Lookup is the store surface the webhook reads.
type Lookup interface {
	DriverByPhone(ctx context.Context, phone string) (*models.Driver, error)
	NotificationByCode(ctx context.Context, driverID, code string) (*models.DriverNotification, error)
	LatestPendingForDriver(ctx context.Context, driverID string) (*models.DriverNotification, error)
}

type Resolver interface {
	Resolve(ctx context.Context, resp dispatch.Response) (storage.ResolveResult, error)
}

// Message is one inbound SMS/WhatsApp reply as posted by the provider.
type Message struct {
	From      string
	Body      string
	MessageID string
}

// Reply is what gets sent back to the driver through the provider.
type Reply struct {
	Text      string
	Outcome   models.Outcome
	Duplicate bool
}

type Webhook struct {
	Lookup   Lookup
	Resolver Resolver
	// Dedup is optional.
	Dedup  Deduper
	Logger *slog.Logger
}

// Handle turns a text reply into a resolver call. ErrUnknownSender and
// ErrNoPendingOffer mean nothing could be matched.
//
// The message id is claimed before processing and released again when Handle
// fails, so a provider retry of the same message is processed.
func (w *Webhook) Handle(ctx context.Context, m Message) (reply Reply, err error) {
	log := w.logger().With("message_id", m.MessageID)
	if w.Dedup != nil && m.MessageID != "" {
		first, derr := w.Dedup.FirstSeen(ctx, m.MessageID)
		switch {
		case derr != nil:
			log.Warn("webhook dedup unavailable", "error", derr)
		case !first:
			log.Info("duplicate webhook delivery ignored")
			return Reply{Duplicate: true}, nil
		default:
			defer func() {
				if err == nil {
					return
				}
				if rerr := w.Dedup.Release(context.WithoutCancel(ctx), m.MessageID); rerr != nil {
					log.Error("release webhook claim", "error", rerr)
				}
			}()
		}
	}
	return w.handle(ctx, m, log)
}

func (w *Webhook) handle(ctx context.Context, m Message, log *slog.Logger) (Reply, error) {
	phone := NormalizePhone(m.From)
	driver, err := w.Lookup.DriverByPhone(ctx, phone)
	if errors.Is(err, storage.ErrNotFound) {
		return Reply{}, ErrUnknownSender
	}
	if err != nil {
		return Reply{}, fmt.Errorf("lookup driver: %w", err)
	}

	accepted, code := ParseBody(m.Body)
	var n *models.DriverNotification
	if code != "" {
		n, err = w.Lookup.NotificationByCode(ctx, driver.ID, code)
		if errors.Is(err, storage.ErrNotFound) {
			return Reply{Text: OutcomeText(models.OutcomeInvalidCode, accepted), Outcome: models.OutcomeInvalidCode}, nil
		}
	} else {
		n, err = w.Lookup.LatestPendingForDriver(ctx, driver.ID)
		if errors.Is(err, storage.ErrNotFound) {
			return Reply{}, ErrNoPendingOffer
		}
	}
	if err != nil {
		return Reply{}, fmt.Errorf("lookup notification: %w", err)
	}

	channel := delivery.ChannelSMS
	if strings.HasPrefix(strings.TrimSpace(m.From), "whatsapp:") {
		channel = delivery.ChannelWhatsApp
	}
	res, err := w.Resolver.Resolve(ctx, dispatch.Response{
		NotificationID: n.ID,
		DriverID:       driver.ID,
		BookingID:      n.BookingID,
		Accepted:       accepted,
		ResponseCode:   code,
		Channel:        channel,
	})
	if err != nil {
		return Reply{}, err
	}
	log.Info("sms response handled", "driver_id", driver.ID, "booking_id", n.BookingID, "outcome", res.Outcome)
	return Reply{Text: OutcomeText(res.Outcome, accepted), Outcome: res.Outcome}, nil
}

func (w *Webhook) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

// NormalizePhone strips the WhatsApp prefix and formatting characters.
func NormalizePhone(from string) string {
	p := strings.TrimSpace(from)
	p = strings.TrimPrefix(p, "whatsapp:")
	return strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(p)
}

// ParseBody reads "YES [CODE]" or "NO [CODE]". Anything but YES is a decline.
func ParseBody(body string) (accepted bool, code string) {
	fields := strings.Fields(strings.ToUpper(strings.TrimSpace(body)))
	if len(fields) == 0 {
		return false, ""
	}
	accepted = fields[0] == "YES"
	if len(fields) > 1 {
		code = fields[1]
	}
	return accepted, code
}

func OutcomeText(o models.Outcome, accepted bool) string {
	switch o {
	case models.OutcomeSuccess:
		if accepted {
			return "Booking confirmed. You have been assigned this trip."
		}
		return "Thanks, you have declined this booking."
	case models.OutcomeExpired:
		return "Sorry, this booking offer has expired."
	case models.OutcomeAlreadyResolved:
		return "This booking offer has already been answered or assigned."
	case models.OutcomeInvalidCode:
		return "That response code is not valid. Reply YES <code> to accept."
	case models.OutcomeBookingNoLongerAvailable:
		return "Sorry, this booking is no longer available."
	default:
		return "We could not find a booking offer for you."
	}
}

type twiml struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message,omitempty"`
}

// TwiML renders the provider's XML reply format.
func TwiML(text string) ([]byte, error) {
	out, err := xml.Marshal(twiml{Message: text})
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}
