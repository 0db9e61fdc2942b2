package lookup

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"cake-server/internal/core"
	"cake-server/internal/entities"
)

const (
	DefaultCacheSize = 256
	DefaultTimeout   = 5 * time.Second
)

// Candidate is one image a player may pick for an entry.
type Candidate struct {
	Name     string          `json:"name"`
	ImageURL *string         `json:"image_url"`
	Subtitle string          `json:"subtitle,omitempty"`
	Source   entities.Source `json:"source"`
}

// Provider searches one external catalog. Failures must wrap
// core.ErrUpstreamUnavailable.
type Provider interface {
	Source() entities.Source
	Search(ctx context.Context, query string) ([]Candidate, error)
}

// Recorder observes lookup outcomes.
type Recorder interface {
	Lookup(source string, err error)
}

// Service runs lookups outside of any room. It never fails: an unavailable
// provider yields no candidates.
type Service struct {
	providers []Provider
	cache     *lru.Cache
	timeout   time.Duration
	recorder  Recorder
}

func NewService(providers []Provider, cacheSize int, timeout time.Duration, recorder Recorder) (*Service, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Service{providers: providers, cache: cache, timeout: timeout, recorder: recorder}, nil
}

func (s *Service) provider(source entities.Source) (Provider, bool) {
	for _, p := range s.providers {
		if p.Source() == source {
			return p, true
		}
	}
	return nil, false
}

// Search queries a single source.
func (s *Service) Search(ctx context.Context, source entities.Source, query string) []Candidate {
	p, ok := s.provider(source)
	if !ok {
		return []Candidate{}
	}
	return s.search(ctx, p, query)
}

// SearchAll queries every provider concurrently and concatenates the results
// in provider order.
func (s *Service) SearchAll(ctx context.Context, query string) []Candidate {
	results := make([][]Candidate, len(s.providers))
	p := pool.New().WithMaxGoroutines(len(s.providers) + 1)
	for i, provider := range s.providers {
		i, provider := i, provider
		p.Go(func() {
			results[i] = s.search(ctx, provider, query)
		})
	}
	p.Wait()

	all := make([]Candidate, 0)
	for _, r := range results {
		all = append(all, r...)
	}
	return all
}

func (s *Service) search(ctx context.Context, p Provider, query string) []Candidate {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Candidate{}
	}

	key := string(p.Source()) + "\x00" + strings.ToLower(query)
	if cached, ok := s.cache.Get(key); ok {
		return cached.([]Candidate)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	candidates, err := p.Search(ctx, query)
	if s.recorder != nil {
		s.recorder.Lookup(string(p.Source()), err)
	}
	if err != nil {
		log.Warn().Err(err).Str("source", string(p.Source())).Str("query", query).Msg("Candidate lookup failed")
		return []Candidate{}
	}
	if candidates == nil {
		candidates = []Candidate{}
	}
	s.cache.Add(key, candidates)
	return candidates
}

func unavailable(err error, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	if err != nil {
		msg += ": " + err.Error()
	}
	return errors.Wrap(core.ErrUpstreamUnavailable, msg)
}
