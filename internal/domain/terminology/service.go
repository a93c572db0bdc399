package terminology

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ehr/extraction/internal/domain/mapping"
)

// Service serves reference code search and keeps the mapping engine's
// in-memory code sets in step with the reference tables.
type Service struct {
	repo   Repository
	codes  *mapping.CodeSets
	logger zerolog.Logger
}

func NewService(repo Repository, codes *mapping.CodeSets, logger zerolog.Logger) *Service {
	return &Service{repo: repo, codes: codes, logger: logger}
}

// Load reads every code set into memory. It is called at startup and by
// the reload endpoint.
func (s *Service) Load(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int, len(codeSets))
	for _, set := range codeSets {
		codes, err := s.repo.All(ctx, set)
		if err != nil {
			return nil, fmt.Errorf("load code set %s: %w", set, err)
		}
		s.codes.Replace(set, toEntries(codes))
		counts[set] = len(codes)
		s.logger.Info().Str("code_set", set).Int("entries", len(codes)).Msg("reference codes loaded")
	}
	return counts, nil
}

func (s *Service) Search(ctx context.Context, codeSet, query string, limit int) ([]*Code, error) {
	if query == "" {
		return nil, fmt.Errorf("query parameter is required")
	}
	if limit <= 0 {
		limit = 20
	}
	return s.repo.Search(ctx, codeSet, query, limit)
}

// Resolve runs the same matching the mapping engine uses, so reviewers can
// check what a term would be coded as.
func (s *Service) Resolve(codeSet, term string, fuzzy bool) (string, bool) {
	if fuzzy {
		return s.codes.Match(codeSet, term)
	}
	return s.codes.Lookup(codeSet, term)
}
