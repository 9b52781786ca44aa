package appointment

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Administration of the resources the engine allocates. Resources are never
// deleted; a room is taken out of rotation by deactivating it.

func (s *Service) CreateRoom(ctx context.Context, location, label string) (*Room, error) {
	location, label = strings.TrimSpace(location), strings.TrimSpace(label)
	if location == "" || label == "" {
		return nil, fmt.Errorf("%w: location and label are required", ErrInvalidRequest)
	}
	room := &Room{Location: location, Label: label, IsActive: true}
	if err := s.repo.CreateRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	return room, nil
}

func (s *Service) SetRoomActive(ctx context.Context, id uuid.UUID, active bool) (*Room, error) {
	room, err := s.repo.SetRoomActive(ctx, id, active)
	if err != nil {
		return nil, fmt.Errorf("set room active: %w", err)
	}
	return room, nil
}

func (s *Service) ListRooms(ctx context.Context, location string) ([]Room, error) {
	return s.repo.ListRooms(ctx, location)
}

func (s *Service) CreateDentist(ctx context.Context, location, name string) (*Dentist, error) {
	location, name = strings.TrimSpace(location), strings.TrimSpace(name)
	if location == "" || name == "" {
		return nil, fmt.Errorf("%w: location and name are required", ErrInvalidRequest)
	}
	d := &Dentist{Location: location, Name: name, Available: true}
	if err := s.repo.CreateDentist(ctx, d); err != nil {
		return nil, fmt.Errorf("create dentist: %w", err)
	}
	return d, nil
}

func (s *Service) ListDentists(ctx context.Context, location string) ([]Dentist, error) {
	return s.repo.ListDentists(ctx, location)
}

func (s *Service) CreateTreatment(ctx context.Context, name string, minutes int) (*Treatment, error) {
	name = strings.TrimSpace(name)
	if name == "" || minutes <= 0 {
		return nil, fmt.Errorf("%w: name and a positive duration are required", ErrInvalidRequest)
	}
	t := &Treatment{Name: name, DurationMinutes: minutes}
	if err := s.repo.CreateTreatment(ctx, t); err != nil {
		return nil, fmt.Errorf("create service: %w", err)
	}
	return t, nil
}

func (s *Service) ListTreatments(ctx context.Context) ([]Treatment, error) {
	return s.repo.ListTreatments(ctx)
}
