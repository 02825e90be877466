package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/models"
)

// MemoryStore keeps everything behind one mutex, which makes every method
// atomic. Used for tests and for STORE=memory local runs.
type MemoryStore struct {
	mu            sync.Mutex
	bookings      map[string]models.Booking
	drivers       map[string]models.Driver
	notifications map[string]models.DriverNotification
	trips         map[string]models.TripAssignment // by booking id
	logs          []models.NotificationLog
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings:      make(map[string]models.Booking),
		drivers:       make(map[string]models.Driver),
		notifications: make(map[string]models.DriverNotification),
		trips:         make(map[string]models.TripAssignment),
	}
}

func (m *MemoryStore) SaveBooking(ctx context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	m.bookings[b.ID] = *b
	return nil
}

func (m *MemoryStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (m *MemoryStore) MarkFindingDriver(ctx context.Context, bookingID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok {
		return false, ErrNotFound
	}
	if b.AssignedDriverID != nil || !b.Status.Dispatchable() {
		return false, nil
	}
	b.Status = models.BookingFindingDriver
	b.UpdatedAt = now
	m.bookings[bookingID] = b
	return true, nil
}

func (m *MemoryStore) SaveDriver(ctx context.Context, d *models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.UpdatedAt = time.Now()
	m.drivers[d.ID] = *d
	return nil
}

func (m *MemoryStore) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (m *MemoryStore) DriverByPhone(ctx context.Context, phone string) (*models.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.drivers {
		if d.Phone != nil && *d.Phone == phone {
			return &d, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListActiveDrivers(ctx context.Context) ([]models.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Driver, 0, len(m.drivers))
	for _, d := range m.drivers {
		if d.Status == models.DriverActive {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) UpdateDriverPosition(ctx context.Context, pos models.DriverPosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[pos.DriverID]
	if !ok {
		return ErrNotFound
	}
	d.Available = pos.Available
	d.Loc = &models.Coord{Lat: pos.Lat, Lon: pos.Lon}
	d.UpdatedAt = time.Now()
	m.drivers[d.ID] = d
	return nil
}

func (m *MemoryStore) HasAccepted(ctx context.Context, bookingID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasAcceptedLocked(bookingID), nil
}

func (m *MemoryStore) hasAcceptedLocked(bookingID string) bool {
	for _, n := range m.notifications {
		if n.BookingID == bookingID && n.Status == models.NotificationAccepted {
			return true
		}
	}
	return false
}

func (m *MemoryStore) CreateRound(ctx context.Context, bookingID string, offers []Offer, now, expiresAt time.Time) (RoundResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookings[bookingID]; !ok {
		return RoundResult{}, ErrNotFound
	}
	if m.hasAcceptedLocked(bookingID) {
		return RoundResult{AlreadyResolved: true}, nil
	}

	var res RoundResult
	maxRound := 0
	var live []models.DriverNotification
	for id, n := range m.notifications {
		if n.BookingID != bookingID {
			continue
		}
		if n.Round > maxRound {
			maxRound = n.Round
		}
		if n.Status != models.NotificationPending {
			continue
		}
		if now.Before(n.ExpiresAt) {
			live = append(live, n)
			continue
		}
		n.Status = models.NotificationExpired
		n.UpdatedAt = now
		m.notifications[id] = n
		res.StaleExpired++
	}
	if len(live) > 0 {
		sortNotifications(live)
		return RoundResult{Round: live[0].Round, Notifications: live, Reused: true, StaleExpired: res.StaleExpired}, nil
	}

	live = make([]models.DriverNotification, 0, len(offers))
	seen := make(map[string]bool, len(offers))
	codes := make(map[string]bool, len(offers))
	for _, o := range offers {
		if codes[o.ResponseCode] || m.codeInUseLocked(o.ResponseCode) {
			return RoundResult{}, ErrCodeConflict
		}
		codes[o.ResponseCode] = true
		if seen[o.DriverID] {
			continue
		}
		seen[o.DriverID] = true
		live = append(live, models.DriverNotification{
			ID:           uuid.NewString(),
			BookingID:    bookingID,
			DriverID:     o.DriverID,
			Round:        maxRound + 1,
			Status:       models.NotificationPending,
			ResponseCode: o.ResponseCode,
			ExpiresAt:    expiresAt,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}
	for _, n := range live {
		m.notifications[n.ID] = n
	}
	res.Round = maxRound + 1
	res.Notifications = live
	return res, nil
}

func (m *MemoryStore) codeInUseLocked(code string) bool {
	for _, n := range m.notifications {
		if n.Status == models.NotificationPending && n.ResponseCode == code {
			return true
		}
	}
	return false
}

func (m *MemoryStore) ExpirePending(ctx context.Context, bookingID string, now time.Time) ([]models.DriverNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookings[bookingID]; !ok {
		return nil, ErrNotFound
	}
	return m.expireSiblingsLocked(bookingID, "", now), nil
}

func (m *MemoryStore) expireSiblingsLocked(bookingID, exceptID string, now time.Time) []models.DriverNotification {
	var out []models.DriverNotification
	for id, n := range m.notifications {
		if n.BookingID != bookingID || id == exceptID || n.Status != models.NotificationPending {
			continue
		}
		n.Status = models.NotificationExpired
		n.UpdatedAt = now
		m.notifications[id] = n
		out = append(out, n)
	}
	sortNotifications(out)
	return out
}

func (m *MemoryStore) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for id, n := range m.notifications {
		if n.Status == models.NotificationPending && !now.Before(n.ExpiresAt) {
			n.Status = models.NotificationExpired
			n.UpdatedAt = now
			m.notifications[id] = n
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) Resolve(ctx context.Context, p ResolveParams) (ResolveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.locateLocked(p)
	if !ok {
		return ResolveResult{Outcome: models.OutcomeNotFound}, nil
	}
	setStatus := func(s models.NotificationStatus) {
		n.Status = s
		n.UpdatedAt = p.Now
		m.notifications[n.ID] = n
	}

	if !p.Now.Before(n.ExpiresAt) {
		if n.Status == models.NotificationPending {
			setStatus(models.NotificationExpired)
		}
		return ResolveResult{Outcome: models.OutcomeExpired, Notification: &n}, nil
	}
	if n.Status != models.NotificationPending {
		return ResolveResult{Outcome: models.OutcomeAlreadyResolved, Notification: &n}, nil
	}
	if p.ResponseCode != "" && !strings.EqualFold(p.ResponseCode, n.ResponseCode) {
		return ResolveResult{Outcome: models.OutcomeInvalidCode, Notification: &n}, nil
	}
	if !p.Accepted {
		setStatus(models.NotificationDeclined)
		return ResolveResult{Outcome: models.OutcomeSuccess, Notification: &n}, nil
	}

	b, ok := m.bookings[n.BookingID]
	if !ok {
		return ResolveResult{}, ErrNotFound
	}
	if b.AssignedDriverID != nil || !b.Status.Dispatchable() {
		setStatus(models.NotificationExpired)
		outcome := models.OutcomeBookingNoLongerAvailable
		if b.AssignedDriverID != nil {
			outcome = models.OutcomeAlreadyResolved
		}
		return ResolveResult{Outcome: outcome, Notification: &n}, nil
	}
	driverID := n.DriverID
	b.AssignedDriverID = &driverID
	b.Status = models.BookingDriverAssigned
	b.UpdatedAt = p.Now
	m.bookings[b.ID] = b

	setStatus(models.NotificationAccepted)
	trip := models.TripAssignment{
		ID:        uuid.NewString(),
		BookingID: b.ID,
		DriverID:  driverID,
		Status:    models.TripAssigned,
		CreatedAt: p.Now,
	}
	m.trips[b.ID] = trip
	expired := m.expireSiblingsLocked(b.ID, n.ID, p.Now)
	return ResolveResult{Outcome: models.OutcomeSuccess, Notification: &n, Assignment: &trip, Expired: expired}, nil
}

// locateLocked finds the row a response refers to, applying the same
// ownership rules as the Postgres store.
func (m *MemoryStore) locateLocked(p ResolveParams) (models.DriverNotification, bool) {
	var (
		n  models.DriverNotification
		ok bool
	)
	if p.NotificationID != "" {
		n, ok = m.notifications[p.NotificationID]
	} else {
		for _, c := range m.notifications {
			if c.DriverID == p.DriverID && c.BookingID == p.BookingID && (!ok || c.Round > n.Round) {
				n, ok = c, true
			}
		}
	}
	if !ok {
		return n, false
	}
	if p.DriverID != "" && n.DriverID != p.DriverID {
		return n, false
	}
	if p.BookingID != "" && n.BookingID != p.BookingID {
		return n, false
	}
	return n, true
}

func (m *MemoryStore) GetNotification(ctx context.Context, id string) (*models.DriverNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &n, nil
}

func (m *MemoryStore) LatestPendingForDriver(ctx context.Context, driverID string) (*models.DriverNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		best  models.DriverNotification
		found bool
	)
	for _, n := range m.notifications {
		if n.DriverID != driverID || n.Status != models.NotificationPending {
			continue
		}
		if !found || n.CreatedAt.After(best.CreatedAt) {
			best, found = n, true
		}
	}
	if !found {
		return nil, ErrNotFound
	}
	return &best, nil
}

func (m *MemoryStore) NotificationByCode(ctx context.Context, driverID, code string) (*models.DriverNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		best  models.DriverNotification
		found bool
	)
	for _, n := range m.notifications {
		if n.DriverID != driverID || !strings.EqualFold(n.ResponseCode, code) {
			continue
		}
		if !found || n.CreatedAt.After(best.CreatedAt) {
			best, found = n, true
		}
	}
	if !found {
		return nil, ErrNotFound
	}
	return &best, nil
}

func (m *MemoryStore) ListByBooking(ctx context.Context, bookingID string) ([]models.DriverNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DriverNotification
	for _, n := range m.notifications {
		if n.BookingID == bookingID {
			out = append(out, n)
		}
	}
	sortNotifications(out)
	return out, nil
}

func (m *MemoryStore) ListByDriver(ctx context.Context, driverID string, limit int) ([]models.DriverNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DriverNotification
	for _, n := range m.notifications {
		if n.DriverID == driverID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) TripAssignments(ctx context.Context, bookingID string) ([]models.TripAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.trips[bookingID]; ok {
		return []models.TripAssignment{t}, nil
	}
	return nil, nil
}

func (m *MemoryStore) AppendLog(ctx context.Context, l *models.NotificationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	m.logs = append(m.logs, *l)
	return nil
}

func (m *MemoryStore) ListLogs(ctx context.Context, bookingID string) ([]models.NotificationLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.NotificationLog
	for _, l := range m.logs {
		if l.BookingID == bookingID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func sortNotifications(ns []models.DriverNotification) {
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].Round != ns[j].Round {
			return ns[i].Round < ns[j].Round
		}
		return ns[i].DriverID < ns[j].DriverID
	})
}
