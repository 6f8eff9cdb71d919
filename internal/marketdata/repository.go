package marketdata

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ophirlabs/ophir/internal/database"
)

// Repository reads the three market tables from the SQLite store.
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a market table repository.
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "marketdata_repo").Logger(),
	}
}

// LoadRegime loads the full regime score table ordered by date.
func (r *Repository) LoadRegime() ([]RegimeRow, error) {
	rows, err := r.db.Query(`
		SELECT date, score
		FROM regime_scores
		ORDER BY date
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query regime scores: %w", err)
	}
	defer rows.Close()

	var out []RegimeRow
	for rows.Next() {
		var dateStr string
		var row RegimeRow
		if err := rows.Scan(&dateStr, &row.Score); err != nil {
			return nil, fmt.Errorf("failed to scan regime score: %w", err)
		}
		if row.Date, err = ParseDay(dateStr); err != nil {
			return nil, fmt.Errorf("invalid regime date %q: %w", dateStr, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating regime scores: %w", err)
	}

	r.log.Debug().Int("rows", len(out)).Msg("Regime table loaded")
	return out, nil
}

// LoadBetas loads the full beta table ordered by date and symbol.
func (r *Repository) LoadBetas() ([]BetaRow, error) {
	rows, err := r.db.Query(`
		SELECT symbol, date, window, beta_up, beta_down
		FROM beta_values
		ORDER BY date, symbol, window
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query beta values: %w", err)
	}
	defer rows.Close()

	var out []BetaRow
	for rows.Next() {
		var dateStr string
		var row BetaRow
		if err := rows.Scan(&row.Symbol, &dateStr, &row.Window, &row.BetaUp, &row.BetaDown); err != nil {
			return nil, fmt.Errorf("failed to scan beta value: %w", err)
		}
		if row.Date, err = ParseDay(dateStr); err != nil {
			return nil, fmt.Errorf("invalid beta date %q: %w", dateStr, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating beta values: %w", err)
	}

	r.log.Debug().Int("rows", len(out)).Msg("Beta table loaded")
	return out, nil
}

// LoadPrices loads the full daily closing price table ordered by date and
// symbol.
func (r *Repository) LoadPrices() ([]PriceRow, error) {
	rows, err := r.db.Query(`
		SELECT symbol, date, close_price
		FROM daily_prices
		ORDER BY date, symbol
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily prices: %w", err)
	}
	defer rows.Close()

	var out []PriceRow
	for rows.Next() {
		var dateStr string
		var row PriceRow
		if err := rows.Scan(&row.Symbol, &dateStr, &row.Close); err != nil {
			return nil, fmt.Errorf("failed to scan daily price: %w", err)
		}
		if row.Date, err = ParseDay(dateStr); err != nil {
			return nil, fmt.Errorf("invalid price date %q: %w", dateStr, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily prices: %w", err)
	}

	r.log.Debug().Int("rows", len(out)).Msg("Price table loaded")
	return out, nil
}
