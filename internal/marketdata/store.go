package marketdata

import (
	"fmt"

	"github.com/rs/zerolog"
)

const (
	tableRegime = "regime_scores"
	tableBetas  = "beta_values"
	tablePrices = "daily_prices"
)

// Store resolves market tables through the cache-then-database path: the
// first load of a table hits SQLite and writes the msgpack cache, later
// loads are served from disk.
type Store struct {
	repo  *Repository
	cache *Cache
	log   zerolog.Logger
}

// NewStore creates a Store over a repository and cache.
func NewStore(repo *Repository, cache *Cache, log zerolog.Logger) *Store {
	return &Store{
		repo:  repo,
		cache: cache,
		log:   log.With().Str("component", "marketdata_store").Logger(),
	}
}

// LoadTables loads all three market tables. With forceReload the cache is
// bypassed and rewritten.
func (s *Store) LoadTables(forceReload bool) (Tables, error) {
	var tables Tables

	if !forceReload && s.cache.Has(tableRegime) && s.cache.Has(tableBetas) && s.cache.Has(tablePrices) {
		if err := s.loadCached(&tables); err == nil {
			s.log.Info().
				Int("regime_rows", len(tables.Regime)).
				Int("beta_rows", len(tables.Betas)).
				Int("price_rows", len(tables.Prices)).
				Msg("Market tables loaded from cache")
			return tables, nil
		}
		// Corrupt cache falls through to a database reload
		s.log.Warn().Msg("Cache load failed, reloading from database")
	}

	var err error
	if tables.Regime, err = s.repo.LoadRegime(); err != nil {
		return Tables{}, fmt.Errorf("loading regime table: %w", err)
	}
	if tables.Betas, err = s.repo.LoadBetas(); err != nil {
		return Tables{}, fmt.Errorf("loading beta table: %w", err)
	}
	if tables.Prices, err = s.repo.LoadPrices(); err != nil {
		return Tables{}, fmt.Errorf("loading price table: %w", err)
	}

	if err := s.saveCached(tables); err != nil {
		// Caching is best-effort; the load itself succeeded
		s.log.Warn().Err(err).Msg("Failed to write market table cache")
	}

	s.log.Info().
		Int("regime_rows", len(tables.Regime)).
		Int("beta_rows", len(tables.Betas)).
		Int("price_rows", len(tables.Prices)).
		Msg("Market tables loaded from database")

	return tables, nil
}

func (s *Store) loadCached(tables *Tables) error {
	if err := s.cache.Load(tableRegime, &tables.Regime); err != nil {
		return err
	}
	if err := s.cache.Load(tableBetas, &tables.Betas); err != nil {
		return err
	}
	return s.cache.Load(tablePrices, &tables.Prices)
}

func (s *Store) saveCached(tables Tables) error {
	if err := s.cache.Save(tableRegime, tables.Regime); err != nil {
		return err
	}
	if err := s.cache.Save(tableBetas, tables.Betas); err != nil {
		return err
	}
	return s.cache.Save(tablePrices, tables.Prices)
}
