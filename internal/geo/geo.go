package geo

import (
	"context"
	"math"
	"sort"

	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/models"
)

// DriverLister is the slice of the store StoreArea reads positions from.
type DriverLister interface {
	ListActiveDrivers(ctx context.Context) ([]models.Driver, error)
}

// StoreArea answers radius queries from the last position persisted on each
// driver row. It is the area index when no Redis is configured, so the
// consumer's writes to the driver table are what narrows a round.
type StoreArea struct {
	Drivers DriverLister
}

func NewStoreArea(drivers DriverLister) *StoreArea {
	return &StoreArea{Drivers: drivers}
}

// Within returns ids of available drivers inside radiusM of center, nearest
// first. Drivers with no known position are left out.
func (a *StoreArea) Within(ctx context.Context, center models.Coord, radiusM float64) ([]string, error) {
	drivers, err := a.Drivers.ListActiveDrivers(ctx)
	if err != nil {
		return nil, err
	}
	type pair struct {
		id   string
		dist float64
	}
	arr := make([]pair, 0, len(drivers))
	for _, d := range drivers {
		if !d.Available || d.Loc == nil {
			continue
		}
		dist := Haversine(center.Lat, center.Lon, d.Loc.Lat, d.Loc.Lon)
		if dist <= radiusM {
			arr = append(arr, pair{d.ID, dist})
		}
	}
	sort.SliceStable(arr, func(i, j int) bool { return arr[i].dist < arr[j].dist })
	out := make([]string, 0, len(arr))
	for _, p := range arr {
		out = append(out, p.id)
	}
	return out, nil
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
