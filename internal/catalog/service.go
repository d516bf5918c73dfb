package catalog

import (
	"context"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (Material, error)
	List(ctx context.Context, filters ListFilters) ([]Material, error)
}

// Service exposes catalog lookups.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Get returns one material.
func (s *Service) Get(ctx context.Context, id int64) (Material, error) {
	if id <= 0 {
		return Material{}, ErrMaterialNotFound
	}
	return s.repo.Get(ctx, id)
}

// List returns materials matching the filters.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Material, error) {
	return s.repo.List(ctx, filters)
}
