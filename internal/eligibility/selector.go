package eligibility

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/models"
)

// DriverSource lists drivers with operational status active.
type DriverSource interface {
	ListActiveDrivers(ctx context.Context) ([]models.Driver, error)
}

// Area narrows candidates to those near the pickup point.
type Area interface {
	Within(ctx context.Context, center models.Coord, radiusM float64) ([]string, error)
}

// Selector decides which drivers are offered a booking.
type Selector struct {
	Drivers DriverSource
	// Area and RadiusM are optional. Without them every eligible driver is returned.
	Area    Area
	RadiusM float64
	Logger  *slog.Logger
}

// Select returns the eligible drivers for b. An empty result is not an error.
func (s *Selector) Select(ctx context.Context, b *models.Booking) ([]models.Driver, error) {
	all, err := s.Drivers.ListActiveDrivers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list drivers: %w", err)
	}
	out := make([]models.Driver, 0, len(all))
	for _, d := range all {
		if d.Eligible() {
			out = append(out, d)
		}
	}
	if s.Area == nil || s.RadiusM <= 0 || b.Pickup == nil || len(out) == 0 {
		return out, nil
	}

	near, err := s.Area.Within(ctx, *b.Pickup, s.RadiusM)
	if err != nil {
		// the area index is an optimisation; fall back to the unfiltered pool
		if s.Logger != nil {
			s.Logger.Warn("area filter unavailable", "booking_id", b.ID, "error", err)
		}
		return out, nil
	}
	rank := make(map[string]int, len(near))
	for i, id := range near {
		rank[id] = i
	}
	narrowed := make([]models.Driver, 0, len(near))
	for _, d := range out {
		if _, ok := rank[d.ID]; ok {
			narrowed = append(narrowed, d)
		}
	}
	sort.SliceStable(narrowed, func(i, j int) bool { return rank[narrowed[i].ID] < rank[narrowed[j].ID] })
	return narrowed, nil
}
