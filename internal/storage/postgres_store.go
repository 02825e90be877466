package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) Close() error { return p.db.Close() }

const bookingCols = `id, from_location, to_location, pickup_lat, pickup_lon, departure_date, departure_time,
	service_type, group_size, amount, payment_ref, status, assigned_driver_id, created_at, updated_at`

const driverCols = `id, name, status, documents_verified, available, phone, telegram_chat_id, lat, lon, updated_at`

const notificationCols = `id, booking_id, driver_id, round, status, response_code, expires_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b          models.Booking
		lat, lon   sql.NullFloat64
		paymentRef sql.NullString
		assigned   sql.NullString
		status     string
	)
	err := row.Scan(&b.ID, &b.FromLocation, &b.ToLocation, &lat, &lon, &b.DepartureDate, &b.DepartureTime,
		&b.ServiceType, &b.GroupSize, &b.Amount, &paymentRef, &status, &assigned, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lat.Valid && lon.Valid {
		b.Pickup = &models.Coord{Lat: lat.Float64, Lon: lon.Float64}
	}
	b.PaymentRef = paymentRef.String
	b.Status = models.BookingStatus(status)
	if assigned.Valid {
		b.AssignedDriverID = &assigned.String
	}
	return &b, nil
}

func scanDriver(row rowScanner) (*models.Driver, error) {
	var (
		d        models.Driver
		status   string
		phone    sql.NullString
		chatID   sql.NullInt64
		lat, lon sql.NullFloat64
	)
	if err := row.Scan(&d.ID, &d.Name, &status, &d.DocumentsVerified, &d.Available, &phone, &chatID, &lat, &lon, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Status = models.DriverStatus(status)
	if phone.Valid {
		d.Phone = &phone.String
	}
	if chatID.Valid {
		d.TelegramChatID = &chatID.Int64
	}
	if lat.Valid && lon.Valid {
		d.Loc = &models.Coord{Lat: lat.Float64, Lon: lon.Float64}
	}
	return &d, nil
}

func scanNotification(row rowScanner) (*models.DriverNotification, error) {
	var (
		n      models.DriverNotification
		status string
	)
	if err := row.Scan(&n.ID, &n.BookingID, &n.DriverID, &n.Round, &status, &n.ResponseCode, &n.ExpiresAt, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	n.Status = models.NotificationStatus(status)
	return &n, nil
}

func scanNotifications(rows *sql.Rows) ([]models.DriverNotification, error) {
	defer rows.Close()
	var out []models.DriverNotification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (p *PostgresStore) SaveBooking(ctx context.Context, b *models.Booking) error {
	var lat, lon sql.NullFloat64
	if b.Pickup != nil {
		lat = sql.NullFloat64{Float64: b.Pickup.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: b.Pickup.Lon, Valid: true}
	}
	now := time.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO bookings (`+bookingCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (id) DO UPDATE SET
			from_location = EXCLUDED.from_location, to_location = EXCLUDED.to_location,
			pickup_lat = EXCLUDED.pickup_lat, pickup_lon = EXCLUDED.pickup_lon,
			departure_date = EXCLUDED.departure_date, departure_time = EXCLUDED.departure_time,
			service_type = EXCLUDED.service_type, group_size = EXCLUDED.group_size,
			amount = EXCLUDED.amount, payment_ref = EXCLUDED.payment_ref,
			status = EXCLUDED.status, assigned_driver_id = EXCLUDED.assigned_driver_id,
			updated_at = EXCLUDED.updated_at`,
		b.ID, b.FromLocation, b.ToLocation, lat, lon, b.DepartureDate, b.DepartureTime,
		b.ServiceType, b.GroupSize, b.Amount, nullString(b.PaymentRef), string(b.Status), b.AssignedDriverID,
		b.CreatedAt, b.UpdatedAt)
	return err
}

func (p *PostgresStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	b, err := scanBooking(p.db.QueryRowContext(ctx, `SELECT `+bookingCols+` FROM bookings WHERE id = $1`, id))
	return b, notFound(err)
}

func (p *PostgresStore) MarkFindingDriver(ctx context.Context, bookingID string, now time.Time) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE bookings SET status = $1, updated_at = $2
		WHERE id = $3 AND assigned_driver_id IS NULL AND status = ANY($4)`,
		string(models.BookingFindingDriver), now, bookingID, dispatchableArray())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (p *PostgresStore) SaveDriver(ctx context.Context, d *models.Driver) error {
	var lat, lon sql.NullFloat64
	if d.Loc != nil {
		lat = sql.NullFloat64{Float64: d.Loc.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: d.Loc.Lon, Valid: true}
	}
	d.UpdatedAt = time.Now()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO drivers (`+driverCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, status = EXCLUDED.status,
			documents_verified = EXCLUDED.documents_verified, available = EXCLUDED.available,
			phone = EXCLUDED.phone, telegram_chat_id = EXCLUDED.telegram_chat_id,
			lat = EXCLUDED.lat, lon = EXCLUDED.lon, updated_at = EXCLUDED.updated_at`,
		d.ID, d.Name, string(d.Status), d.DocumentsVerified, d.Available, d.Phone, d.TelegramChatID, lat, lon, d.UpdatedAt)
	return err
}

func (p *PostgresStore) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	d, err := scanDriver(p.db.QueryRowContext(ctx, `SELECT `+driverCols+` FROM drivers WHERE id = $1`, id))
	return d, notFound(err)
}

func (p *PostgresStore) DriverByPhone(ctx context.Context, phone string) (*models.Driver, error) {
	d, err := scanDriver(p.db.QueryRowContext(ctx, `SELECT `+driverCols+` FROM drivers WHERE phone = $1`, phone))
	return d, notFound(err)
}

func (p *PostgresStore) ListActiveDrivers(ctx context.Context) ([]models.Driver, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+driverCols+` FROM drivers WHERE status = $1 ORDER BY id`, string(models.DriverActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpdateDriverPosition(ctx context.Context, pos models.DriverPosition) error {
	res, err := p.db.ExecContext(ctx, `UPDATE drivers SET available = $1, lat = $2, lon = $3, updated_at = now() WHERE id = $4`,
		pos.Available, pos.Lat, pos.Lon, pos.DriverID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) HasAccepted(ctx context.Context, bookingID string) (bool, error) {
	var ok bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM driver_notifications WHERE booking_id = $1 AND status = 'accepted')`, bookingID).Scan(&ok)
	return ok, err
}

// lockBooking takes the row lock that serializes every dispatch writer of one booking.
func lockBooking(ctx context.Context, tx *sql.Tx, bookingID string) (*models.Booking, error) {
	b, err := scanBooking(tx.QueryRowContext(ctx, `SELECT `+bookingCols+` FROM bookings WHERE id = $1 FOR UPDATE`, bookingID))
	return b, notFound(err)
}

func (p *PostgresStore) CreateRound(ctx context.Context, bookingID string, offers []Offer, now, expiresAt time.Time) (RoundResult, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return RoundResult{}, wrapPG(err)
	}
	defer tx.Rollback()

	if _, err := lockBooking(ctx, tx, bookingID); err != nil {
		return RoundResult{}, wrapPG(err)
	}

	var accepted bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM driver_notifications WHERE booking_id = $1 AND status = 'accepted')`, bookingID).Scan(&accepted); err != nil {
		return RoundResult{}, wrapPG(err)
	}
	if accepted {
		return RoundResult{AlreadyResolved: true}, nil
	}

	var res RoundResult
	stale, err := tx.ExecContext(ctx, `
		UPDATE driver_notifications SET status = 'expired', updated_at = $1
		WHERE booking_id = $2 AND status = 'pending' AND expires_at <= $1`, now, bookingID)
	if err != nil {
		return RoundResult{}, wrapPG(err)
	}
	if n, err := stale.RowsAffected(); err == nil {
		res.StaleExpired = int(n)
	}

	rows, err := tx.QueryContext(ctx, `SELECT `+notificationCols+` FROM driver_notifications
		WHERE booking_id = $1 AND status = 'pending' ORDER BY round, driver_id`, bookingID)
	if err != nil {
		return RoundResult{}, wrapPG(err)
	}
	live, err := scanNotifications(rows)
	if err != nil {
		return RoundResult{}, wrapPG(err)
	}
	if len(live) > 0 {
		if err := tx.Commit(); err != nil {
			return RoundResult{}, wrapPG(err)
		}
		return RoundResult{Round: live[0].Round, Notifications: live, Reused: true, StaleExpired: res.StaleExpired}, nil
	}

	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(round), 0) + 1 FROM driver_notifications WHERE booking_id = $1`, bookingID).Scan(&res.Round); err != nil {
		return RoundResult{}, wrapPG(err)
	}

	for _, o := range offers {
		n, err := scanNotification(tx.QueryRowContext(ctx, `
			INSERT INTO driver_notifications (id, booking_id, driver_id, round, status, response_code, expires_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 'pending', $5, $6, $7, $7)
			ON CONFLICT (booking_id, driver_id, round) DO NOTHING
			RETURNING `+notificationCols,
			uuid.NewString(), bookingID, o.DriverID, res.Round, o.ResponseCode, expiresAt, now))
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return RoundResult{}, wrapPG(err)
		}
		res.Notifications = append(res.Notifications, *n)
	}
	if err := tx.Commit(); err != nil {
		return RoundResult{}, wrapPG(err)
	}
	return res, nil
}

func (p *PostgresStore) ExpirePending(ctx context.Context, bookingID string, now time.Time) ([]models.DriverNotification, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapPG(err)
	}
	defer tx.Rollback()
	if _, err := lockBooking(ctx, tx, bookingID); err != nil {
		return nil, wrapPG(err)
	}
	expired, err := expireSiblings(ctx, tx, bookingID, "", now)
	if err != nil {
		return nil, wrapPG(err)
	}
	return expired, wrapPG(tx.Commit())
}

func expireSiblings(ctx context.Context, tx *sql.Tx, bookingID, exceptID string, now time.Time) ([]models.DriverNotification, error) {
	rows, err := tx.QueryContext(ctx, `
		UPDATE driver_notifications SET status = 'expired', updated_at = $1
		WHERE booking_id = $2 AND status = 'pending' AND ($3 = '' OR id::text <> $3)
		RETURNING `+notificationCols, now, bookingID, exceptID)
	if err != nil {
		return nil, err
	}
	return scanNotifications(rows)
}

func (p *PostgresStore) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE driver_notifications SET status = 'expired', updated_at = $1
		WHERE status = 'pending' AND expires_at <= $1`, now)
	if err != nil {
		return 0, wrapPG(err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Resolve runs the whole response state machine in one transaction. The
// booking row is locked before the notification row so concurrent resolvers
// of one booking queue up instead of deadlocking; the winner is decided by
// the affected-row count of the conditional booking update.
func (p *PostgresStore) Resolve(ctx context.Context, in ResolveParams) (ResolveResult, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return ResolveResult{}, wrapPG(err)
	}
	defer tx.Rollback()

	bookingID := in.BookingID
	if in.NotificationID != "" {
		if _, err := uuid.Parse(in.NotificationID); err != nil {
			return ResolveResult{Outcome: models.OutcomeNotFound}, nil
		}
		err := tx.QueryRowContext(ctx, `SELECT booking_id FROM driver_notifications WHERE id = $1`, in.NotificationID).Scan(&bookingID)
		if errors.Is(err, sql.ErrNoRows) {
			return ResolveResult{Outcome: models.OutcomeNotFound}, nil
		}
		if err != nil {
			return ResolveResult{}, wrapPG(err)
		}
		if in.BookingID != "" && in.BookingID != bookingID {
			return ResolveResult{Outcome: models.OutcomeNotFound}, nil
		}
	}

	booking, err := lockBooking(ctx, tx, bookingID)
	if errors.Is(err, ErrNotFound) {
		return ResolveResult{Outcome: models.OutcomeNotFound}, nil
	}
	if err != nil {
		return ResolveResult{}, wrapPG(err)
	}

	var n *models.DriverNotification
	if in.NotificationID != "" {
		n, err = scanNotification(tx.QueryRowContext(ctx, `SELECT `+notificationCols+` FROM driver_notifications WHERE id = $1 FOR UPDATE`, in.NotificationID))
	} else {
		n, err = scanNotification(tx.QueryRowContext(ctx, `SELECT `+notificationCols+` FROM driver_notifications
			WHERE driver_id = $1 AND booking_id = $2 ORDER BY round DESC LIMIT 1 FOR UPDATE`, in.DriverID, bookingID))
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ResolveResult{Outcome: models.OutcomeNotFound}, nil
	}
	if err != nil {
		return ResolveResult{}, wrapPG(err)
	}
	if in.DriverID != "" && n.DriverID != in.DriverID {
		return ResolveResult{Outcome: models.OutcomeNotFound}, nil
	}

	setStatus := func(s models.NotificationStatus) error {
		_, err := tx.ExecContext(ctx, `UPDATE driver_notifications SET status = $1, updated_at = $2 WHERE id = $3 AND status = 'pending'`,
			string(s), in.Now, n.ID)
		if err == nil {
			n.Status = s
			n.UpdatedAt = in.Now
		}
		return err
	}
	commit := func(r ResolveResult) (ResolveResult, error) {
		if err := tx.Commit(); err != nil {
			return ResolveResult{}, wrapPG(err)
		}
		return r, nil
	}

	if !in.Now.Before(n.ExpiresAt) {
		if n.Status == models.NotificationPending {
			if err := setStatus(models.NotificationExpired); err != nil {
				return ResolveResult{}, wrapPG(err)
			}
		}
		return commit(ResolveResult{Outcome: models.OutcomeExpired, Notification: n})
	}
	if n.Status != models.NotificationPending {
		return ResolveResult{Outcome: models.OutcomeAlreadyResolved, Notification: n}, nil
	}
	if in.ResponseCode != "" && !strings.EqualFold(in.ResponseCode, n.ResponseCode) {
		return ResolveResult{Outcome: models.OutcomeInvalidCode, Notification: n}, nil
	}
	if !in.Accepted {
		if err := setStatus(models.NotificationDeclined); err != nil {
			return ResolveResult{}, wrapPG(err)
		}
		return commit(ResolveResult{Outcome: models.OutcomeSuccess, Notification: n})
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE bookings SET status = $1, assigned_driver_id = $2, updated_at = $3
		WHERE id = $4 AND assigned_driver_id IS NULL AND status = ANY($5)`,
		string(models.BookingDriverAssigned), n.DriverID, in.Now, bookingID, dispatchableArray())
	if err != nil {
		return ResolveResult{}, wrapPG(err)
	}
	won, err := res.RowsAffected()
	if err != nil {
		return ResolveResult{}, wrapPG(err)
	}
	if won == 0 {
		if err := setStatus(models.NotificationExpired); err != nil {
			return ResolveResult{}, wrapPG(err)
		}
		outcome := models.OutcomeBookingNoLongerAvailable
		if booking.AssignedDriverID != nil {
			outcome = models.OutcomeAlreadyResolved
		}
		return commit(ResolveResult{Outcome: outcome, Notification: n})
	}

	if err := setStatus(models.NotificationAccepted); err != nil {
		return ResolveResult{}, wrapPG(err)
	}
	trip := &models.TripAssignment{
		ID:        uuid.NewString(),
		BookingID: bookingID,
		DriverID:  n.DriverID,
		Status:    models.TripAssigned,
		CreatedAt: in.Now,
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO trip_assignments (id, booking_id, driver_id, status, created_at) VALUES ($1, $2, $3, $4, $5)`,
		trip.ID, trip.BookingID, trip.DriverID, trip.Status, trip.CreatedAt); err != nil {
		return ResolveResult{}, wrapPG(err)
	}
	expired, err := expireSiblings(ctx, tx, bookingID, n.ID, in.Now)
	if err != nil {
		return ResolveResult{}, wrapPG(err)
	}
	return commit(ResolveResult{Outcome: models.OutcomeSuccess, Notification: n, Assignment: trip, Expired: expired})
}

func (p *PostgresStore) GetNotification(ctx context.Context, id string) (*models.DriverNotification, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	n, err := scanNotification(p.db.QueryRowContext(ctx, `SELECT `+notificationCols+` FROM driver_notifications WHERE id = $1`, id))
	return n, notFound(err)
}

func (p *PostgresStore) LatestPendingForDriver(ctx context.Context, driverID string) (*models.DriverNotification, error) {
	n, err := scanNotification(p.db.QueryRowContext(ctx, `SELECT `+notificationCols+` FROM driver_notifications
		WHERE driver_id = $1 AND status = 'pending' ORDER BY created_at DESC LIMIT 1`, driverID))
	return n, notFound(err)
}

func (p *PostgresStore) NotificationByCode(ctx context.Context, driverID, code string) (*models.DriverNotification, error) {
	n, err := scanNotification(p.db.QueryRowContext(ctx, `SELECT `+notificationCols+` FROM driver_notifications
		WHERE driver_id = $1 AND upper(response_code) = upper($2) ORDER BY created_at DESC LIMIT 1`, driverID, code))
	return n, notFound(err)
}

func (p *PostgresStore) ListByBooking(ctx context.Context, bookingID string) ([]models.DriverNotification, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+notificationCols+` FROM driver_notifications
		WHERE booking_id = $1 ORDER BY round, driver_id`, bookingID)
	if err != nil {
		return nil, err
	}
	return scanNotifications(rows)
}

func (p *PostgresStore) ListByDriver(ctx context.Context, driverID string, limit int) ([]models.DriverNotification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `SELECT `+notificationCols+` FROM driver_notifications
		WHERE driver_id = $1 ORDER BY created_at DESC LIMIT $2`, driverID, limit)
	if err != nil {
		return nil, err
	}
	return scanNotifications(rows)
}

func (p *PostgresStore) TripAssignments(ctx context.Context, bookingID string) ([]models.TripAssignment, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, booking_id, driver_id, status, created_at FROM trip_assignments WHERE booking_id = $1`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.TripAssignment
	for rows.Next() {
		var t models.TripAssignment
		if err := rows.Scan(&t.ID, &t.BookingID, &t.DriverID, &t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *PostgresStore) AppendLog(ctx context.Context, l *models.NotificationLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	payload := []byte(l.Response)
	if len(payload) == 0 || !json.Valid(payload) {
		payload, _ = json.Marshal(map[string]string{"raw": string(l.Response)})
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO notification_logs (id, booking_id, driver_id, notification_id, channel, status_code, response, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		l.ID, l.BookingID, l.DriverID, nullString(l.NotificationID), l.Channel, l.StatusCode, string(payload), l.CreatedAt)
	return err
}

func (p *PostgresStore) ListLogs(ctx context.Context, bookingID string) ([]models.NotificationLog, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, booking_id, driver_id, COALESCE(notification_id::text, ''), channel, status_code, response, created_at
		FROM notification_logs WHERE booking_id = $1 ORDER BY created_at`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.NotificationLog
	for rows.Next() {
		var (
			l       models.NotificationLog
			payload []byte
		)
		if err := rows.Scan(&l.ID, &l.BookingID, &l.DriverID, &l.NotificationID, &l.Channel, &l.StatusCode, &payload, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.Response = json.RawMessage(payload)
		out = append(out, l)
	}
	return out, rows.Err()
}

func dispatchableArray() any {
	out := make([]string, 0, len(models.DispatchableStatuses))
	for _, s := range models.DispatchableStatuses {
		out = append(out, string(s))
	}
	return pq.Array(out)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// wrapPG maps driver errors onto the package sentinels.
func wrapPG(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == "driver_notifications_live_code" {
		return fmt.Errorf("%w: %v", ErrCodeConflict, err)
	}
	if isTransientPG(err) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}

func isTransientPG(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code.Class() {
	case "40", "08": // transaction rollback (serialization, deadlock), connection exception
		return true
	}
	return false
}
