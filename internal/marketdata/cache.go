package marketdata

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Cache serializes loaded market tables to disk so repeated runs skip the
// SQLite scans. One msgpack file per table under the cache directory.
type Cache struct {
	dir string
	log zerolog.Logger
}

// NewCache creates a table cache rooted at dir.
func NewCache(dir string, log zerolog.Logger) *Cache {
	return &Cache{
		dir: dir,
		log: log.With().Str("component", "marketdata_cache").Logger(),
	}
}

func (c *Cache) path(name string) string {
	return filepath.Join(c.dir, name+".msgpack")
}

// Has reports whether a cached copy of the named table exists.
func (c *Cache) Has(name string) bool {
	_, err := os.Stat(c.path(name))
	return err == nil
}

// Save writes a table to the cache, creating the directory if needed.
func (c *Cache) Save(name string, table interface{}) error {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	data, err := msgpack.Marshal(table)
	if err != nil {
		return fmt.Errorf("failed to encode %s cache: %w", name, err)
	}
	if err := os.WriteFile(c.path(name), data, 0644); err != nil {
		return fmt.Errorf("failed to write %s cache: %w", name, err)
	}

	c.log.Debug().Str("table", name).Int("bytes", len(data)).Msg("Table cached")
	return nil
}

// Load reads a table from the cache into out.
func (c *Cache) Load(name string, out interface{}) error {
	data, err := os.ReadFile(c.path(name))
	if err != nil {
		return fmt.Errorf("failed to read %s cache: %w", name, err)
	}
	if err := msgpack.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s cache: %w", name, err)
	}
	return nil
}

// Invalidate removes all cached tables. A no-op when nothing is cached.
func (c *Cache) Invalidate() error {
	for _, name := range []string{tableRegime, tableBetas, tablePrices} {
		if err := os.Remove(c.path(name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s cache: %w", name, err)
		}
	}
	return nil
}
