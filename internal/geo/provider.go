package geo

import (
	"context"
	"errors"
	"sync"

	"github.com/jogardn/delivery-tracker/pkg/models"
)

// ErrLocationDenied means the device refused or cannot provide a position.
var ErrLocationDenied = errors.New("location permission denied")

type Provider interface {
	CurrentLocation(ctx context.Context) (models.Location, error)
}

// Fixed reports a configured position. It can be moved at runtime, e.g. by
// a simulator or an operator through the control API.
type Fixed struct {
	mutex    sync.RWMutex
	location *models.Location
}

// NewFixed returns a provider at lat/lng. A zero position counts as unknown
// and every lookup is denied until Set is called.
func NewFixed(lat, lng float64) *Fixed {
	f := &Fixed{}
	if lat != 0 || lng != 0 {
		f.location = &models.Location{Lat: lat, Lng: lng}
	}
	return f
}

func (f *Fixed) CurrentLocation(ctx context.Context) (models.Location, error) {
	if err := ctx.Err(); err != nil {
		return models.Location{}, err
	}
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	if f.location == nil {
		return models.Location{}, ErrLocationDenied
	}
	return *f.location, nil
}

func (f *Fixed) Set(lat, lng float64) {
	f.mutex.Lock()
	f.location = &models.Location{Lat: lat, Lng: lng}
	f.mutex.Unlock()
}

// Denied never provides a position.
type Denied struct{}

func (Denied) CurrentLocation(ctx context.Context) (models.Location, error) {
	return models.Location{}, ErrLocationDenied
}
