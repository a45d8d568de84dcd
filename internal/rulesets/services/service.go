package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"

	"battlescope/internal/rulesets/dto"
	"battlescope/internal/rulesets/models"
	"battlescope/pkg/database"
)

// ErrInvalidPatch marks ruleset updates rejected by validation
var ErrInvalidPatch = errors.New("invalid ruleset patch")

// Service owns the active ruleset snapshot. Readers (clusterer, killmail
// feed) load the pointer once per batch or request; updates persist first
// and then swap in a new immutable value, so a snapshot is never mutated
// after publication.
type Service struct {
	repo     *Repository
	validate *validator.Validate
	active   atomic.Pointer[models.Ruleset]
}

// NewService creates a new service instance
func NewService(db *database.MongoDB) (*Service, error) {
	validate := validator.New()
	if err := dto.RegisterCustomValidators(validate); err != nil {
		return nil, err
	}

	s := &Service{
		repo:     NewRepository(db),
		validate: validate,
	}
	s.active.Store(models.DefaultRuleset())
	return s, nil
}

// Initialize ensures indexes exist and loads the stored ruleset into the
// snapshot, seeding the default when the collection is empty.
func (s *Service) Initialize(ctx context.Context) error {
	if err := s.repo.CreateIndexes(ctx); err != nil {
		return err
	}

	stored, err := s.repo.Get(ctx, models.DefaultRulesetID)
	if err != nil {
		return fmt.Errorf("failed to load ruleset: %w", err)
	}

	if stored == nil {
		stored = models.DefaultRuleset()
		stored.UpdatedAt = time.Now().UTC()
		if err := s.repo.Save(ctx, stored); err != nil {
			return fmt.Errorf("failed to seed default ruleset: %w", err)
		}
		slog.Info("Seeded default ruleset", "ruleset_id", stored.RulesetID)
	}

	s.active.Store(stored)
	return nil
}

// Active returns the current ruleset snapshot, never nil
func (s *Service) Active() *models.Ruleset {
	return s.active.Load()
}

// Update validates the patch, applies only the provided fields, persists
// the result and swaps the snapshot. Returns the new value.
func (s *Service) Update(ctx context.Context, patch *dto.RulesetPatch) (*models.Ruleset, error) {
	if err := s.validate.Struct(patch); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPatch, formatValidationErrors(err))
	}

	current := s.active.Load()
	next := applyPatch(current, patch)
	next.UpdatedAt = time.Now().UTC()

	if err := s.repo.Save(ctx, next); err != nil {
		return nil, err
	}

	s.active.Store(next)
	slog.Info("Ruleset updated",
		"min_pilots", next.MinPilots,
		"alliances", len(next.AllianceIDs),
		"corps", len(next.CorpIDs),
		"systems", len(next.SystemIDs),
		"security_types", len(next.SecurityTypes),
		"ignore_unlisted", next.IgnoreUnlisted)

	return next, nil
}

// applyPatch copies the current ruleset and overlays the provided fields.
// Slices are copied so the previous snapshot stays immutable.
func applyPatch(current *models.Ruleset, patch *dto.RulesetPatch) *models.Ruleset {
	next := &models.Ruleset{
		RulesetID:      current.RulesetID,
		MinPilots:      current.MinPilots,
		AllianceIDs:    copyIDs(current.AllianceIDs),
		CorpIDs:        copyIDs(current.CorpIDs),
		SystemIDs:      copyIDs(current.SystemIDs),
		SecurityTypes:  append([]string{}, current.SecurityTypes...),
		IgnoreUnlisted: current.IgnoreUnlisted,
	}

	if patch.MinPilots != nil {
		next.MinPilots = *patch.MinPilots
	}
	if patch.AllianceIDs != nil {
		next.AllianceIDs = dedupeIDs(*patch.AllianceIDs)
	}
	if patch.CorpIDs != nil {
		next.CorpIDs = dedupeIDs(*patch.CorpIDs)
	}
	if patch.SystemIDs != nil {
		next.SystemIDs = dedupeIDs(*patch.SystemIDs)
	}
	if patch.SecurityTypes != nil {
		next.SecurityTypes = dedupeStrings(*patch.SecurityTypes)
	}
	if patch.IgnoreUnlisted != nil {
		next.IgnoreUnlisted = *patch.IgnoreUnlisted
	}

	return next
}

func copyIDs(ids []int64) []int64 {
	out := make([]int64, len(ids))
	copy(out, ids)
	return out
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func formatValidationErrors(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msg := ""
	for i, fe := range verrs {
		if i > 0 {
			msg += "; "
		}
		msg += fmt.Sprintf("field %s failed %s validation", fe.Field(), fe.Tag())
	}
	return msg
}
