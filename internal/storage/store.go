package storage

import (
	"context"
	"errors"
	"time"

	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrCodeConflict means a generated response code collided with a live one.
	ErrCodeConflict = errors.New("response code already in use")
	// ErrTransient marks failures worth retrying (serialization, deadlock, lost connection).
	ErrTransient = errors.New("transient store error")
)

// Offer is one driver slot in a dispatch round.
type Offer struct {
	DriverID     string
	ResponseCode string
}

// RoundResult describes what CreateRound did for a booking.
type RoundResult struct {
	Round           int
	Notifications   []models.DriverNotification
	Reused          bool
	AlreadyResolved bool
	// StaleExpired counts pending rows of an earlier round that had run out of time.
	StaleExpired int
}

type ResolveParams struct {
	NotificationID string
	DriverID       string
	BookingID      string
	Accepted       bool
	ResponseCode   string
	Now            time.Time
}

type ResolveResult struct {
	Outcome      models.Outcome
	Notification *models.DriverNotification
	Assignment   *models.TripAssignment
	// Expired holds the sibling rows that lost the race on a successful accept.
	Expired []models.DriverNotification
}

// Store persists bookings, drivers and the dispatch audit trail.
// CreateRound, Resolve and ExpirePending are atomic with respect to each other
// for the same booking.
type Store interface {
	SaveBooking(ctx context.Context, b *models.Booking) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	MarkFindingDriver(ctx context.Context, bookingID string, now time.Time) (bool, error)

	SaveDriver(ctx context.Context, d *models.Driver) error
	GetDriver(ctx context.Context, id string) (*models.Driver, error)
	DriverByPhone(ctx context.Context, phone string) (*models.Driver, error)
	ListActiveDrivers(ctx context.Context) ([]models.Driver, error)
	UpdateDriverPosition(ctx context.Context, pos models.DriverPosition) error

	HasAccepted(ctx context.Context, bookingID string) (bool, error)
	CreateRound(ctx context.Context, bookingID string, offers []Offer, now, expiresAt time.Time) (RoundResult, error)
	ExpirePending(ctx context.Context, bookingID string, now time.Time) ([]models.DriverNotification, error)
	ExpireStale(ctx context.Context, now time.Time) (int, error)
	Resolve(ctx context.Context, p ResolveParams) (ResolveResult, error)

	GetNotification(ctx context.Context, id string) (*models.DriverNotification, error)
	LatestPendingForDriver(ctx context.Context, driverID string) (*models.DriverNotification, error)
	NotificationByCode(ctx context.Context, driverID, code string) (*models.DriverNotification, error)
	ListByBooking(ctx context.Context, bookingID string) ([]models.DriverNotification, error)
	ListByDriver(ctx context.Context, driverID string, limit int) ([]models.DriverNotification, error)
	TripAssignments(ctx context.Context, bookingID string) ([]models.TripAssignment, error)

	AppendLog(ctx context.Context, l *models.NotificationLog) error
	ListLogs(ctx context.Context, bookingID string) ([]models.NotificationLog, error)

	Ping(ctx context.Context) error
	Close() error
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	return isTransientPG(err)
}
