package repository

import (
	"context"

	"github.com/agamordechai/EASS-partA-WorkoutTracker/internal/models"
	"github.com/agamordechai/EASS-partA-WorkoutTracker/internal/ratelimit"
	"github.com/agamordechai/EASS-partA-WorkoutTracker/internal/storage"
	"go.uber.org/multierr"
)

type PolicyRepository struct {
	db *storage.Postgres
}

func NewPolicyRepository(db *storage.Postgres) *PolicyRepository {
	return &PolicyRepository{db: db}
}

// Retrieves every stored override
func (r *PolicyRepository) List(ctx context.Context) ([]models.RateLimitPolicy, error) {
	var rows []models.RateLimitPolicy
	err := r.db.DB.WithContext(ctx).
		Order("category, subject_class").
		Find(&rows).Error

	return rows, err
}

// Retrieves stored overrides as policies. Every malformed row is reported.
func (r *PolicyRepository) Policies(ctx context.Context) ([]ratelimit.Policy, error) {
	rows, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	return ToPolicies(rows)
}

func ToPolicies(rows []models.RateLimitPolicy) ([]ratelimit.Policy, error) {
	var (
		policies []ratelimit.Policy
		errs     error
	)
	for _, row := range rows {
		p, err := row.ToPolicy()
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		policies = append(policies, p)
	}

	return policies, errs
}
