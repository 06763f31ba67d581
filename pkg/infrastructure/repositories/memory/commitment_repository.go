package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/vsinha/packflow/pkg/domain/entities"
)

// CreateCommitment stores a new commitment
func (s *Store) CreateCommitment(ctx context.Context, commitment *entities.PackageCommitment) error {
	return s.view(ctx, func(st *state) error {
		st.commitments[commitment.ID] = *commitment
		return nil
	})
}

// GetCommitment returns a copy of a commitment
func (s *Store) GetCommitment(ctx context.Context, id uuid.UUID) (*entities.PackageCommitment, error) {
	var out *entities.PackageCommitment
	err := s.view(ctx, func(st *state) error {
		c, ok := st.commitments[id]
		if !ok {
			return entities.NewNotFoundError(entities.CodeContentNotFound, "commitment %s not found", id)
		}
		out = &c
		return nil
	})
	return out, err
}

// UpdateCommitment replaces a stored commitment
func (s *Store) UpdateCommitment(ctx context.Context, commitment *entities.PackageCommitment) error {
	return s.view(ctx, func(st *state) error {
		if _, ok := st.commitments[commitment.ID]; !ok {
			return entities.NewNotFoundError(entities.CodeContentNotFound, "commitment %s not found", commitment.ID)
		}
		st.commitments[commitment.ID] = *commitment
		return nil
	})
}

// DeleteCommitment removes a commitment
func (s *Store) DeleteCommitment(ctx context.Context, id uuid.UUID) error {
	return s.view(ctx, func(st *state) error {
		delete(st.commitments, id)
		return nil
	})
}

func (s *Store) listCommitments(ctx context.Context, match func(c entities.PackageCommitment) bool) ([]*entities.PackageCommitment, error) {
	var out []*entities.PackageCommitment
	err := s.view(ctx, func(st *state) error {
		for _, c := range st.commitments {
			if match(c) {
				found := c
				out = append(out, &found)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, err
}

// ListCommitmentsByContent returns the live commitments of a content row
func (s *Store) ListCommitmentsByContent(ctx context.Context, contentID uuid.UUID) ([]*entities.PackageCommitment, error) {
	return s.listCommitments(ctx, func(c entities.PackageCommitment) bool { return c.ContentID == contentID })
}

// ListCommitmentsByPackage returns the live commitments against a package
func (s *Store) ListCommitmentsByPackage(ctx context.Context, packageID uuid.UUID) ([]*entities.PackageCommitment, error) {
	return s.listCommitments(ctx, func(c entities.PackageCommitment) bool { return c.PackageID == packageID })
}

// ListCommitmentsBySource returns the live commitments of an operation
func (s *Store) ListCommitmentsBySource(ctx context.Context, source entities.SourceOperation) ([]*entities.PackageCommitment, error) {
	return s.listCommitments(ctx, func(c entities.PackageCommitment) bool { return c.Source == source })
}

// ListCommitmentsBySourceLine returns the live commitments of one operation line
func (s *Store) ListCommitmentsBySourceLine(ctx context.Context, source entities.SourceOperation, lineID int64) ([]*entities.PackageCommitment, error) {
	return s.listCommitments(ctx, func(c entities.PackageCommitment) bool {
		return c.Source == source && c.SourceLineID == lineID
	})
}
