package marketdata

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ophirlabs/ophir/internal/database"
)

func seedDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{
		Path: filepath.Join(t.TempDir(), "market.db"),
		Name: "market",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	stmts := []string{
		`CREATE TABLE regime_scores (date TEXT PRIMARY KEY, score INTEGER NOT NULL)`,
		`CREATE TABLE beta_values (
			symbol TEXT NOT NULL, date TEXT NOT NULL, window INTEGER NOT NULL,
			beta_up REAL NOT NULL, beta_down REAL NOT NULL,
			PRIMARY KEY (symbol, date, window)
		)`,
		`CREATE TABLE daily_prices (
			symbol TEXT NOT NULL, date TEXT NOT NULL, close_price REAL NOT NULL,
			PRIMARY KEY (symbol, date)
		)`,
		`INSERT INTO regime_scores VALUES ('2024-01-01', 1), ('2024-01-02', -1)`,
		`INSERT INTO beta_values VALUES ('AAA', '2024-01-01', 30, 1.4, 0.9)`,
		`INSERT INTO daily_prices VALUES ('AAA', '2024-01-01', 100.5)`,
	}
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return db
}

func TestRepositoryLoadsTables(t *testing.T) {
	repo := NewRepository(seedDB(t), zerolog.Nop())

	regime, err := repo.LoadRegime()
	require.NoError(t, err)
	require.Len(t, regime, 2)
	assert.Equal(t, d("2024-01-01"), regime[0].Date)
	assert.Equal(t, 1, regime[0].Score)

	betas, err := repo.LoadBetas()
	require.NoError(t, err)
	require.Len(t, betas, 1)
	assert.Equal(t, "AAA", betas[0].Symbol)
	assert.Equal(t, 30, betas[0].Window)
	assert.Equal(t, 1.4, betas[0].BetaUp)

	prices, err := repo.LoadPrices()
	require.NoError(t, err)
	require.Len(t, prices, 1)
	assert.Equal(t, 100.5, prices[0].Close)
}

func TestStoreCachesAfterFirstLoad(t *testing.T) {
	db := seedDB(t)
	cacheDir := t.TempDir()
	cache := NewCache(cacheDir, zerolog.Nop())
	store := NewStore(NewRepository(db, zerolog.Nop()), cache, zerolog.Nop())

	tables, err := store.LoadTables(false)
	require.NoError(t, err)
	assert.Len(t, tables.Regime, 2)
	assert.True(t, cache.Has(tableRegime))
	assert.True(t, cache.Has(tableBetas))
	assert.True(t, cache.Has(tablePrices))

	// Second load is served from the cache; mutate the database to prove it.
	_, err = db.Exec(`DELETE FROM regime_scores`)
	require.NoError(t, err)

	cached, err := store.LoadTables(false)
	require.NoError(t, err)
	assert.Len(t, cached.Regime, 2)

	// forceReload bypasses the cache and sees the mutation.
	reloaded, err := store.LoadTables(true)
	require.NoError(t, err)
	assert.Empty(t, reloaded.Regime)
}
