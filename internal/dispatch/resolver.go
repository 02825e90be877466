package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/events"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/models"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/observability"
	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/storage"
)

// Response is one driver's answer to an offer. Either NotificationID or the
// DriverID+BookingID pair locates the offer; DriverID, when set, must own it.
type Response struct {
	NotificationID string
	DriverID       string
	BookingID      string
	Accepted       bool
	// ResponseCode is only supplied by out-of-band channels.
	ResponseCode string
	Channel      string
}

// Resolver applies driver responses. All state changes happen inside the
// store's atomic Resolve; this type only retries, logs and fans out.
type Resolver struct {
	Store  storage.Store
	Events events.Publisher
	Pusher Pusher
	Logger *slog.Logger
	Now    func() time.Time

	MaxAttempts int
	Backoff     time.Duration
}

func (r *Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Resolve returns the outcome for the response. An error means the store
// could not confirm anything and the caller should retry later.
func (r *Resolver) Resolve(ctx context.Context, resp Response) (storage.ResolveResult, error) {
	if resp.NotificationID == "" && (resp.DriverID == "" || resp.BookingID == "") {
		return storage.ResolveResult{Outcome: models.OutcomeNotFound}, nil
	}
	start := time.Now()
	var res storage.ResolveResult
	err := r.withRetry(ctx, func() error {
		var err error
		res, err = r.Store.Resolve(ctx, storage.ResolveParams{
			NotificationID: resp.NotificationID,
			DriverID:       resp.DriverID,
			BookingID:      resp.BookingID,
			Accepted:       resp.Accepted,
			ResponseCode:   resp.ResponseCode,
			Now:            r.now(),
		})
		return err
	})
	observability.ResolveLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		r.logger().Error("resolve response failed",
			"notification_id", resp.NotificationID, "driver_id", resp.DriverID, "booking_id", resp.BookingID,
			"accepted", resp.Accepted, "channel", resp.Channel, "error", err)
		return storage.ResolveResult{}, fmt.Errorf("resolve response: %w", err)
	}
	observability.Resolutions.WithLabelValues(strconv.FormatBool(resp.Accepted), string(res.Outcome)).Inc()

	args := []any{"outcome", res.Outcome, "accepted", resp.Accepted, "channel", resp.Channel}
	if n := res.Notification; n != nil {
		args = append(args, "notification_id", n.ID, "driver_id", n.DriverID, "booking_id", n.BookingID)
	}
	r.logger().Info("driver response resolved", args...)

	if res.Outcome == models.OutcomeSuccess && res.Notification != nil {
		r.afterSuccess(ctx, resp, res)
	}
	return res, nil
}

func (r *Resolver) afterSuccess(ctx context.Context, resp Response, res storage.ResolveResult) {
	n := res.Notification
	if !resp.Accepted {
		r.publish(ctx, events.Event{Type: events.NotificationDeclined, BookingID: n.BookingID, DriverID: n.DriverID, OccurredAt: n.UpdatedAt})
		return
	}
	pushStatuses(r.Pusher, append([]models.DriverNotification{*n}, res.Expired...))
	data := map[string]any{"notification_id": n.ID, "expired": len(res.Expired)}
	if res.Assignment != nil {
		data["trip_assignment_id"] = res.Assignment.ID
	}
	r.publish(ctx, events.Event{Type: events.BookingAssigned, BookingID: n.BookingID, DriverID: n.DriverID, OccurredAt: n.UpdatedAt, Data: data})
}

// withRetry re-runs fn on transient store errors with doubling backoff.
func (r *Resolver) withRetry(ctx context.Context, fn func() error) error {
	attempts := r.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	delay := r.Backoff
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !storage.IsTransient(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		observability.ResolveRetries.Inc()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

func (r *Resolver) publish(ctx context.Context, e events.Event) {
	if r.Events == nil {
		return
	}
	if err := r.Events.Publish(ctx, e); err != nil {
		r.logger().Warn("publish event", "type", e.Type, "booking_id", e.BookingID, "error", err)
	}
}
