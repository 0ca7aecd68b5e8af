package flag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// ServiceConfig holds configuration for the flag admin service.
type ServiceConfig struct {
	Store  Store
	Logger zerolog.Logger

	// MaxWriteElapsed bounds conflict retries on list updates and archival.
	// Default: 5 seconds.
	MaxWriteElapsed time.Duration
}

// Service implements the operator-facing flag operations that do not move
// the rollout stage: creation, allow/deny list edits, and archival. Stage
// changes go through the rollout transitioner.
type Service struct {
	store           Store
	logger          zerolog.Logger
	maxWriteElapsed time.Duration
}

// NewService creates a new flag admin service.
func NewService(cfg ServiceConfig) *Service {
	maxWrite := cfg.MaxWriteElapsed
	if maxWrite == 0 {
		maxWrite = 5 * time.Second
	}
	return &Service{
		store:           cfg.Store,
		logger:          cfg.Logger,
		maxWriteElapsed: maxWrite,
	}
}

// Create registers a new flag in the Disabled stage.
func (s *Service) Create(ctx context.Context, id, environment string) (*Definition, error) {
	def := NewDefinition(id, environment)
	if err := s.store.Create(ctx, def); err != nil {
		return nil, err
	}

	s.logger.Info().Str("flag", id).Str("environment", environment).Msg("flag created")
	return def, nil
}

// Get returns the current definition for a flag.
func (s *Service) Get(ctx context.Context, id string) (*Definition, error) {
	return s.store.Get(ctx, id)
}

// List returns all active flags for an environment.
func (s *Service) List(ctx context.Context, environment string) ([]*Definition, error) {
	return s.store.List(ctx, environment)
}

// SetLists replaces the allow and deny lists. A subject present in both
// lists is tolerated here because the deny-list wins at evaluation time, but
// it is logged since it is almost certainly an operator mistake.
func (s *Service) SetLists(ctx context.Context, id string, allowList, denyList []string) (*Definition, error) {
	for _, subject := range allowList {
		if contains(denyList, subject) {
			s.logger.Warn().
				Str("flag", id).
				Str("subject", subject).
				Msg("subject on both allow and deny list, deny wins")
		}
	}

	var updated *Definition
	err := s.retryOnConflict(ctx, func() error {
		def, err := s.store.Get(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		if def.Archived {
			return backoff.Permanent(ErrFlagArchived)
		}

		next := def.Clone()
		next.AllowList = append([]string(nil), allowList...)
		next.DenyList = append([]string(nil), denyList...)
		if err := s.store.Put(ctx, id, def.Version, next); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				return err
			}
			return backoff.Permanent(err)
		}
		next.Version = def.Version + 1
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("flag", id).
		Int("allow", len(allowList)).
		Int("deny", len(denyList)).
		Msg("flag lists updated")
	return updated, nil
}

// Archive marks a flag permanently disabled while keeping its record for
// audit continuity.
func (s *Service) Archive(ctx context.Context, id string) error {
	err := s.retryOnConflict(ctx, func() error {
		def, err := s.store.Get(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		if def.Archived {
			return nil
		}
		if err := s.store.Archive(ctx, id, def.Version); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("archive flag %s: %w", id, err)
	}

	s.logger.Info().Str("flag", id).Msg("flag archived")
	return nil
}

func (s *Service) retryOnConflict(ctx context.Context, operation func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxElapsedTime = s.maxWriteElapsed
	return backoff.Retry(operation, backoff.WithContext(bo, ctx))
}
