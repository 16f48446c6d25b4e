package domain

import (
	"errors"
	"time"
)

var ErrNegativeRest = errors.New("minimum rest must not be negative")

// RestConfig is the minimum idle time required between consecutive sessions.
type RestConfig struct {
	Enabled        bool `json:"enabled"`
	MinimumMinutes int  `json:"minimum_minutes"`
	AllowOverride  bool `json:"allow_override"`
}

// NewRestConfig validates a rest configuration.
func NewRestConfig(enabled bool, minimumMinutes int, allowOverride bool) (*RestConfig, error) {
	if minimumMinutes < 0 {
		return nil, ErrNegativeRest
	}
	return &RestConfig{Enabled: enabled, MinimumMinutes: minimumMinutes, AllowOverride: allowOverride}, nil
}

// MinimumGap returns the configured gap as a duration.
func (r RestConfig) MinimumGap() time.Duration {
	return time.Duration(r.MinimumMinutes) * time.Minute
}
