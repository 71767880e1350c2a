// Package geomap stores the interest pins users drop on the community map.
package geomap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/socio/backend/internal/docstore"
	"github.com/socio/backend/internal/moderation"
	"github.com/socio/backend/internal/validation"
)

const Collection = "mapData"

var (
	ErrInvalidLocation = errors.New("geomap: coordinates out of range")
	ErrInappropriate   = errors.New("geomap: interest rejected by moderation")
)

// Point is a GeoJSON point. Coordinates are [longitude, latitude].
type Point struct {
	Type        string    `json:"type" validate:"required,oneof=Point"`
	Coordinates []float64 `json:"coordinates" validate:"len=2"`
}

func (p Point) Lng() float64 { return p.Coordinates[0] }
func (p Point) Lat() float64 { return p.Coordinates[1] }

type Pin struct {
	ID        string    `json:"_id,omitempty"`
	Location  Point     `json:"location"`
	Interest  string    `json:"interest" validate:"required,max=80"`
	Category  string    `json:"category" validate:"required,max=40"`
	Tags      []string  `json:"tags,omitempty" validate:"max=10,dive,max=40"`
	Timestamp time.Time `json:"timestamp"`
}

type Service struct {
	store  docstore.Store
	filter *moderation.Filter
	now    func() time.Time
}

func NewService(store docstore.Store, filter *moderation.Filter) *Service {
	if filter == nil {
		filter = moderation.NewFilter()
	}
	return &Service{store: store, filter: filter, now: time.Now}
}

// List returns every pin, oldest first.
func (s *Service) List(ctx context.Context) ([]Pin, error) {
	docs, err := s.store.Find(ctx, Collection, docstore.Query{SortBy: "timestamp"})
	if err != nil {
		return nil, fmt.Errorf("geomap: list: %w", err)
	}
	pins, err := docstore.DecodeAll[Pin](docs)
	if err != nil {
		return nil, fmt.Errorf("geomap: list: %w", err)
	}
	return pins, nil
}

// Add validates and stores a pin. Tags that trip the moderation filter are
// dropped; an interest that trips it rejects the pin.
func (s *Service) Add(ctx context.Context, pin Pin) (Pin, error) {
	if err := validation.Struct(pin); err != nil {
		return Pin{}, err
	}
	if lng, lat := pin.Location.Lng(), pin.Location.Lat(); lng < -180 || lng > 180 || lat < -90 || lat > 90 {
		return Pin{}, fmt.Errorf("%w: [%g, %g]", ErrInvalidLocation, lng, lat)
	}
	if res := s.filter.Check(pin.Interest); res.Blocked {
		return Pin{}, ErrInappropriate
	}
	if len(pin.Tags) > 0 {
		pin.Tags = s.filter.CleanTerms(pin.Tags)
	}

	pin.ID = ""
	pin.Timestamp = s.now().UTC()
	doc, err := docstore.Encode(pin)
	if err != nil {
		return Pin{}, fmt.Errorf("geomap: add: %w", err)
	}
	id, err := s.store.Insert(ctx, Collection, doc)
	if err != nil {
		return Pin{}, fmt.Errorf("geomap: add: %w", err)
	}
	pin.ID = id
	return pin, nil
}
