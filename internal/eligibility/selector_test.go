package eligibility

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/models"
)

type fakeDrivers struct{ drivers []models.Driver }

func (f *fakeDrivers) ListActiveDrivers(ctx context.Context) ([]models.Driver, error) {
	return f.drivers, nil
}

type fakeArea struct {
	ids []string
	err error
}

func (f *fakeArea) Within(ctx context.Context, center models.Coord, radiusM float64) ([]string, error) {
	return f.ids, f.err
}

func phone(s string) *string { return &s }

func driver(id string, mutate func(*models.Driver)) models.Driver {
	d := models.Driver{ID: id, Status: models.DriverActive, DocumentsVerified: true, Available: true, Phone: phone("+1555" + id)}
	if mutate != nil {
		mutate(&d)
	}
	return d
}

func ids(ds []models.Driver) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.ID)
	}
	return out
}

func TestSelectFiltersIneligibleDrivers(t *testing.T) {
	src := &fakeDrivers{drivers: []models.Driver{
		driver("ok", nil),
		driver("unverified", func(d *models.Driver) { d.DocumentsVerified = false }),
		driver("suspended", func(d *models.Driver) { d.Status = models.DriverSuspended }),
		driver("busy", func(d *models.Driver) { d.Available = false }),
		driver("nophone", func(d *models.Driver) { d.Phone = nil }),
		driver("emptyphone", func(d *models.Driver) { d.Phone = phone("") }),
	}}
	s := &Selector{Drivers: src}

	got, err := s.Select(context.Background(), &models.Booking{ID: "b1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, ids(got))
}

func TestSelectEmptyPoolIsNotAnError(t *testing.T) {
	s := &Selector{Drivers: &fakeDrivers{}}
	got, err := s.Select(context.Background(), &models.Booking{ID: "b1"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSelectNarrowsByAreaWhenPickupKnown(t *testing.T) {
	src := &fakeDrivers{drivers: []models.Driver{driver("a", nil), driver("b", nil), driver("c", nil)}}
	s := &Selector{Drivers: src, Area: &fakeArea{ids: []string{"c", "a", "unknown"}}, RadiusM: 5000}

	got, err := s.Select(context.Background(), &models.Booking{ID: "b1", Pickup: &models.Coord{Lat: 1, Lon: 2}})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, ids(got))
}

func TestSelectIgnoresAreaWithoutPickup(t *testing.T) {
	src := &fakeDrivers{drivers: []models.Driver{driver("a", nil), driver("b", nil)}}
	s := &Selector{Drivers: src, Area: &fakeArea{ids: []string{"a"}}, RadiusM: 5000}

	got, err := s.Select(context.Background(), &models.Booking{ID: "b1"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSelectFallsBackWhenAreaFails(t *testing.T) {
	src := &fakeDrivers{drivers: []models.Driver{driver("a", nil), driver("b", nil)}}
	s := &Selector{Drivers: src, Area: &fakeArea{err: errors.New("redis down")}, RadiusM: 5000}

	got, err := s.Select(context.Background(), &models.Booking{ID: "b1", Pickup: &models.Coord{}})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
