package models

import (
	"encoding/json"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type BookingStatus string

const (
	BookingPending        BookingStatus = "pending"
	BookingConfirmed      BookingStatus = "confirmed"
	BookingFindingDriver  BookingStatus = "finding_driver"
	BookingDriverAssigned BookingStatus = "driver_assigned"
	BookingCompleted      BookingStatus = "completed"
	BookingCancelled      BookingStatus = "cancelled"
)

// DispatchableStatuses are the booking states from which drivers may be offered the trip.
var DispatchableStatuses = []BookingStatus{BookingPending, BookingConfirmed, BookingFindingDriver}

func (s BookingStatus) Dispatchable() bool {
	for _, d := range DispatchableStatuses {
		if s == d {
			return true
		}
	}
	return false
}

type Booking struct {
	ID               string        `json:"id"`
	FromLocation     string        `json:"from_location"`
	ToLocation       string        `json:"to_location"`
	Pickup           *Coord        `json:"pickup,omitempty"`
	DepartureDate    string        `json:"departure_date"`
	DepartureTime    string        `json:"departure_time"`
	ServiceType      string        `json:"service_type"`
	GroupSize        int           `json:"group_size"`
	Amount           float64       `json:"amount"`
	PaymentRef       string        `json:"payment_ref,omitempty"`
	Status           BookingStatus `json:"status"`
	AssignedDriverID *string       `json:"assigned_driver_id"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

type DriverStatus string

const (
	DriverActive    DriverStatus = "active"
	DriverInactive  DriverStatus = "inactive"
	DriverSuspended DriverStatus = "suspended"
)

type Driver struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	Status            DriverStatus `json:"status"`
	DocumentsVerified bool         `json:"documents_verified"`
	Available         bool         `json:"available"`
	Phone             *string      `json:"phone"`
	TelegramChatID    *int64       `json:"telegram_chat_id,omitempty"`
	Loc               *Coord       `json:"loc,omitempty"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// Eligible reports whether the driver may be offered a booking at all.
func (d Driver) Eligible() bool {
	return d.Status == DriverActive && d.DocumentsVerified && d.Available && d.Phone != nil && *d.Phone != ""
}

type NotificationStatus string

const (
	NotificationPending  NotificationStatus = "pending"
	NotificationAccepted NotificationStatus = "accepted"
	NotificationDeclined NotificationStatus = "declined"
	NotificationExpired  NotificationStatus = "expired"
)

func (s NotificationStatus) Terminal() bool { return s != NotificationPending }

type DriverNotification struct {
	ID           string             `json:"id"`
	BookingID    string             `json:"booking_id"`
	DriverID     string             `json:"driver_id"`
	Round        int                `json:"round"`
	Status       NotificationStatus `json:"status"`
	ResponseCode string             `json:"response_code"`
	ExpiresAt    time.Time          `json:"expires_at"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// Acceptable reports whether the row can still be accepted at now.
func (n DriverNotification) Acceptable(now time.Time) bool {
	return n.Status == NotificationPending && now.Before(n.ExpiresAt)
}

type TripAssignment struct {
	ID        string    `json:"id"`
	BookingID string    `json:"booking_id"`
	DriverID  string    `json:"driver_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

const TripAssigned = "assigned"

type NotificationLog struct {
	ID             string          `json:"id"`
	BookingID      string          `json:"booking_id"`
	DriverID       string          `json:"driver_id"`
	NotificationID string          `json:"notification_id"`
	Channel        string          `json:"channel"`
	StatusCode     int             `json:"status_code"`
	Response       json.RawMessage `json:"response"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Outcome is the result of resolving one driver response.
type Outcome string

const (
	OutcomeSuccess                  Outcome = "SUCCESS"
	OutcomeExpired                  Outcome = "EXPIRED"
	OutcomeAlreadyResolved          Outcome = "ALREADY_RESOLVED"
	OutcomeInvalidCode              Outcome = "INVALID_CODE"
	OutcomeNotFound                 Outcome = "NOT_FOUND"
	OutcomeBookingNoLongerAvailable Outcome = "BOOKING_NO_LONGER_AVAILABLE"
)

// DriverPosition is the message shape on the driver availability topic.
type DriverPosition struct {
	DriverID  string  `json:"driver_id"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Available bool    `json:"available"`
}
