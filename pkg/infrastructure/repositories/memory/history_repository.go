package memory

import (
	"context"

	"github.com/google/uuid"
	"github.com/vsinha/packflow/pkg/domain/entities"
)

// AppendHistory appends a movement row; rows are never modified afterwards
func (s *Store) AppendHistory(ctx context.Context, entry *entities.PackageLocationHistory) error {
	return s.view(ctx, func(st *state) error {
		st.history = append(st.history, *entry)
		return nil
	})
}

// ListHistory returns the movements of a package in insertion order
func (s *Store) ListHistory(ctx context.Context, packageID uuid.UUID) ([]*entities.PackageLocationHistory, error) {
	var out []*entities.PackageLocationHistory
	err := s.view(ctx, func(st *state) error {
		for _, h := range st.history {
			if h.PackageID == packageID {
				entry := h
				out = append(out, &entry)
			}
		}
		return nil
	})
	return out, err
}
