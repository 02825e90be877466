package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/delivery"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/events"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/models"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/observability"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/storage"
)

var (
	ErrBookingNotFound     = errors.New("booking not found")
	ErrNotDispatchable     = errors.New("booking is not in a dispatchable state")
	ErrPaymentNotConfirmed = errors.New("booking payment is not confirmed")
	ErrNothingWritten      = errors.New("no notification rows were written")
)

// DefaultWindow is how long drivers have to answer an offer.
const DefaultWindow = 10 * time.Minute

const codeAttempts = 3

type DriverSelector interface {
	Select(ctx context.Context, b *models.Booking) ([]models.Driver, error)
}

type PaymentGate interface {
	Confirmed(ctx context.Context, paymentRef string) (bool, error)
}

type Notifier interface {
	SendAll(ctx context.Context, m delivery.Message) []delivery.Attempt
}

// Pusher sends live status updates to connected driver apps.
type Pusher interface {
	Push(driverID string, v any) error
}

// Result is what the rider/admin side sees after a dispatch call.
type Result struct {
	BookingID       string `json:"booking_id"`
	Round           int    `json:"round"`
	Eligible        int    `json:"eligible"`
	Notified        int    `json:"notified"`
	Pending         int    `json:"pending"`
	Delivered       int    `json:"delivered"`
	Failed          int    `json:"failed"`
	AlreadyResolved bool   `json:"already_resolved"`
	Reused          bool   `json:"reused"`
}

// OfferPush is the in-app payload for a new offer or a status change.
type OfferPush struct {
	Type         string                     `json:"type"`
	Notification *models.DriverNotification `json:"notification"`
	Booking      *models.Booking            `json:"booking,omitempty"`
}

type Orchestrator struct {
	Store    storage.Store
	Selector DriverSelector
	// Delivery, Payments and Pusher are optional.
	Delivery Notifier
	Payments PaymentGate
	Pusher   Pusher
	Events   events.Publisher
	Window   time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
	Codes    func() (string, error)
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) window() time.Duration {
	if o.Window > 0 {
		return o.Window
	}
	return DefaultWindow
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Dispatch offers the booking to every eligible driver. Calling it again while
// a round is live, or after a driver accepted, writes nothing.
func (o *Orchestrator) Dispatch(ctx context.Context, bookingID string) (Result, error) {
	res := Result{BookingID: bookingID}
	log := o.logger().With("booking_id", bookingID)

	b, err := o.Store.GetBooking(ctx, bookingID)
	if errors.Is(err, storage.ErrNotFound) {
		return res, ErrBookingNotFound
	}
	if err != nil {
		return res, fmt.Errorf("load booking: %w", err)
	}

	accepted, err := o.Store.HasAccepted(ctx, bookingID)
	if err != nil {
		return res, fmt.Errorf("check accepted: %w", err)
	}
	if accepted {
		res.AlreadyResolved = true
		observability.DispatchRounds.WithLabelValues("already_resolved").Inc()
		return res, nil
	}
	if !b.Status.Dispatchable() {
		return res, fmt.Errorf("%w: status %s", ErrNotDispatchable, b.Status)
	}
	if o.Payments != nil && b.PaymentRef != "" {
		ok, err := o.Payments.Confirmed(ctx, b.PaymentRef)
		if err != nil {
			return res, fmt.Errorf("payment check: %w", err)
		}
		if !ok {
			return res, ErrPaymentNotConfirmed
		}
	}

	drivers, err := o.Selector.Select(ctx, b)
	if err != nil {
		return res, fmt.Errorf("select drivers: %w", err)
	}
	res.Eligible = len(drivers)
	if len(drivers) == 0 {
		log.Info("no eligible drivers")
		observability.DispatchRounds.WithLabelValues("no_drivers").Inc()
		return res, nil
	}

	now := o.now()
	expiresAt := now.Add(o.window())
	round, err := o.createRound(ctx, b.ID, drivers, now, expiresAt)
	if err != nil {
		observability.DispatchRounds.WithLabelValues("error").Inc()
		return res, fmt.Errorf("create notifications: %w", err)
	}
	if round.StaleExpired > 0 {
		log.Info("expired stale notifications", "count", round.StaleExpired)
	}
	switch {
	case round.AlreadyResolved:
		res.AlreadyResolved = true
		observability.DispatchRounds.WithLabelValues("already_resolved").Inc()
		return res, nil
	case round.Reused:
		res.Reused = true
		res.Round = round.Round
		res.Pending = len(round.Notifications)
		observability.DispatchRounds.WithLabelValues("reused").Inc()
		return res, nil
	case len(round.Notifications) == 0:
		observability.DispatchRounds.WithLabelValues("error").Inc()
		return res, ErrNothingWritten
	}

	res.Round = round.Round
	res.Notified = len(round.Notifications)
	res.Pending = res.Notified
	observability.NotificationsCreated.Add(float64(res.Notified))

	if moved, err := o.Store.MarkFindingDriver(ctx, b.ID, now); err != nil {
		log.Error("mark finding_driver failed", "error", err)
	} else if moved {
		b.Status = models.BookingFindingDriver
	}

	res.Delivered, res.Failed = o.deliver(context.WithoutCancel(ctx), b, round.Notifications, drivers)
	observability.DispatchRounds.WithLabelValues("created").Inc()
	log.Info("dispatch round created",
		"round", res.Round, "eligible", res.Eligible, "notified", res.Notified,
		"delivered", res.Delivered, "failed", res.Failed, "expires_at", expiresAt)

	o.publish(ctx, events.Event{
		Type:       events.DispatchStarted,
		BookingID:  b.ID,
		OccurredAt: now,
		Data:       map[string]any{"round": res.Round, "notified": res.Notified, "expires_at": expiresAt},
	})
	return res, nil
}

func (o *Orchestrator) createRound(ctx context.Context, bookingID string, drivers []models.Driver, now, expiresAt time.Time) (storage.RoundResult, error) {
	codes := o.Codes
	if codes == nil {
		codes = NewResponseCode
	}
	var lastErr error
	for attempt := 0; attempt < codeAttempts; attempt++ {
		offers := make([]storage.Offer, 0, len(drivers))
		for _, d := range drivers {
			code, err := codes()
			if err != nil {
				return storage.RoundResult{}, fmt.Errorf("response code: %w", err)
			}
			offers = append(offers, storage.Offer{DriverID: d.ID, ResponseCode: code})
		}
		round, err := o.Store.CreateRound(ctx, bookingID, offers, now, expiresAt)
		if errors.Is(err, storage.ErrCodeConflict) {
			lastErr = err
			continue
		}
		return round, err
	}
	return storage.RoundResult{}, lastErr
}

// deliver sends every alert concurrently. Rows are already committed, so a
// failure here only costs the out-of-band channel.
func (o *Orchestrator) deliver(ctx context.Context, b *models.Booking, ns []models.DriverNotification, drivers []models.Driver) (delivered, failed int) {
	if o.Delivery == nil {
		return 0, 0
	}
	byID := make(map[string]models.Driver, len(drivers))
	for _, d := range drivers {
		byID[d.ID] = d
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for i := range ns {
		n := ns[i]
		d := byID[n.DriverID]
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg := delivery.Message{
				DriverID:       d.ID,
				TelegramChatID: d.TelegramChatID,
				Body:           delivery.Compose(b, &n),
				Payload:        OfferPush{Type: "offer", Notification: &n, Booking: b},
			}
			if d.Phone != nil {
				msg.Phone = *d.Phone
			}
			attempts := o.Delivery.SendAll(ctx, msg)
			for _, a := range attempts {
				o.recordAttempt(ctx, n, a)
			}
			ok := delivery.Delivered(attempts)
			if len(attempts) == 0 {
				o.logger().Warn("no delivery channel for driver", "booking_id", b.ID, "driver_id", d.ID)
			}
			mu.Lock()
			if ok {
				delivered++
			} else {
				failed++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	return delivered, failed
}

func (o *Orchestrator) recordAttempt(ctx context.Context, n models.DriverNotification, a delivery.Attempt) {
	result := "ok"
	code := a.Result.StatusCode
	payload := a.Result.Payload
	if a.Err != nil {
		result = "failed"
		if code == 0 || (code >= 200 && code < 300) {
			code = http.StatusBadGateway
		}
		payload = errorPayload(a.Err, payload)
		o.logger().Warn("delivery failed",
			"booking_id", n.BookingID, "driver_id", n.DriverID, "notification_id", n.ID,
			"channel", a.Result.Channel, "status", code, "error", a.Err)
	}
	observability.DeliveryAttempts.WithLabelValues(a.Result.Channel, result).Inc()

	entry := &models.NotificationLog{
		BookingID:      n.BookingID,
		DriverID:       n.DriverID,
		NotificationID: n.ID,
		Channel:        a.Result.Channel,
		StatusCode:     code,
		Response:       payload,
	}
	if err := o.Store.AppendLog(ctx, entry); err != nil {
		o.logger().Error("append notification log", "notification_id", n.ID, "error", err)
	}
}

// CancelDispatch expires every pending offer of the booking, e.g. when the
// rider cancels.
func (o *Orchestrator) CancelDispatch(ctx context.Context, bookingID string) (int, error) {
	now := o.now()
	expired, err := o.Store.ExpirePending(ctx, bookingID, now)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, ErrBookingNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("expire pending: %w", err)
	}
	pushStatuses(o.Pusher, expired)
	o.logger().Info("dispatch cancelled", "booking_id", bookingID, "expired", len(expired))
	o.publish(ctx, events.Event{
		Type:       events.DispatchCancelled,
		BookingID:  bookingID,
		OccurredAt: now,
		Data:       map[string]any{"expired": len(expired)},
	})
	return len(expired), nil
}

func (o *Orchestrator) publish(ctx context.Context, e events.Event) {
	if o.Events == nil {
		return
	}
	if err := o.Events.Publish(ctx, e); err != nil {
		o.logger().Warn("publish event", "type", e.Type, "booking_id", e.BookingID, "error", err)
	}
}

func errorPayload(err error, provider json.RawMessage) json.RawMessage {
	body := map[string]any{"error": err.Error()}
	if len(provider) > 0 {
		body["response"] = provider
	}
	b, _ := json.Marshal(body)
	return b
}

func pushStatuses(p Pusher, ns []models.DriverNotification) {
	if p == nil {
		return
	}
	for i := range ns {
		n := ns[i]
		_ = p.Push(n.DriverID, OfferPush{Type: "status", Notification: &n})
	}
}
