package models

import (
	"fmt"
	"time"

	"github.com/agamordechai/EASS-partA-WorkoutTracker/internal/ratelimit"
)

// RateLimitPolicy is an operator override for one (category, subject class)
// pair. Rows are read once at startup.
type RateLimitPolicy struct {
	Category      string    `gorm:"primaryKey" json:"category"`
	SubjectClass  string    `gorm:"primaryKey" json:"subject_class"`
	Limit         int       `gorm:"not null" json:"limit"`
	WindowSeconds int       `gorm:"not null" json:"window_seconds"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (RateLimitPolicy) TableName() string {
	return "rate_limit_policies"
}

// ToPolicy validates the row's names. Limit and window are checked when the
// policy table is built.
func (p RateLimitPolicy) ToPolicy() (ratelimit.Policy, error) {
	category, err := ratelimit.ParseCategory(p.Category)
	if err != nil {
		return ratelimit.Policy{}, fmt.Errorf("rate_limit_policies row %s/%s: %w", p.Category, p.SubjectClass, err)
	}
	class, err := ratelimit.ParseSubjectClass(p.SubjectClass)
	if err != nil {
		return ratelimit.Policy{}, fmt.Errorf("rate_limit_policies row %s/%s: %w", p.Category, p.SubjectClass, err)
	}

	return ratelimit.Policy{
		Category: category,
		Class:    class,
		Limit:    p.Limit,
		Window:   time.Duration(p.WindowSeconds) * time.Second,
	}, nil
}
