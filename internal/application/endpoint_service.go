package application

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fleetgate/fleetgate-server/internal/domain"
)

// EndpointService manages custom health check endpoint definitions.
type EndpointService struct {
	Endpoints domain.EndpointRepository

	NewID func() string
	Now   func() time.Time
}

func (s *EndpointService) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *EndpointService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Create validates and persists an endpoint definition. The ID is generated
// when empty; new endpoints default to enabled.
func (s *EndpointService) Create(ctx context.Context, e domain.HealthCheckEndpoint) (domain.HealthCheckEndpoint, error) {
	if e.ID == "" {
		e.ID = s.newID()
	}
	if e.Method == "" {
		e.Method = domain.ProbeGET
	}
	if err := e.Validate(); err != nil {
		return domain.HealthCheckEndpoint{}, err
	}
	e.CreatedAt = s.now()
	if err := s.Endpoints.Create(ctx, e); err != nil {
		return domain.HealthCheckEndpoint{}, err
	}
	return e, nil
}

// Get returns one endpoint definition.
func (s *EndpointService) Get(ctx context.Context, id string) (domain.HealthCheckEndpoint, error) {
	return s.Endpoints.Get(ctx, id)
}

// List returns the project's endpoint definitions.
func (s *EndpointService) List(ctx context.Context, project domain.ProjectID) ([]domain.HealthCheckEndpoint, error) {
	return s.Endpoints.ListByProject(ctx, project)
}

// Update validates and persists changes to an endpoint definition.
func (s *EndpointService) Update(ctx context.Context, e domain.HealthCheckEndpoint) error {
	if err := e.Validate(); err != nil {
		return err
	}
	return s.Endpoints.Update(ctx, e)
}

// SetEnabled toggles whether the endpoint participates in gate evaluation.
func (s *EndpointService) SetEnabled(ctx context.Context, id string, enabled bool) error {
	e, err := s.Endpoints.Get(ctx, id)
	if err != nil {
		return err
	}
	e.Enabled = enabled
	return s.Endpoints.Update(ctx, e)
}

// Delete removes an endpoint definition.
func (s *EndpointService) Delete(ctx context.Context, id string) error {
	return s.Endpoints.Delete(ctx, id)
}
