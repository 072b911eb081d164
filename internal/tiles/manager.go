package tiles

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

// Manager owns one Cache per configured style.
type Manager struct {
	caches map[string]*Cache
}

func NewManager(styles []Style, fetcher Fetcher, size int, rec Recorder, logger zerolog.Logger) (*Manager, error) {
	if len(styles) == 0 {
		return nil, fmt.Errorf("no basemap styles configured")
	}
	m := &Manager{caches: make(map[string]*Cache, len(styles))}
	for _, s := range styles {
		c, err := NewCache(s, fetcher, size, rec, logger)
		if err != nil {
			return nil, err
		}
		m.caches[s.Name] = c
	}
	return m, nil
}

// Cache returns the cache for a style name.
func (m *Manager) Cache(style string) (*Cache, error) {
	c, ok := m.caches[style]
	if !ok {
		return nil, fmt.Errorf("invalid map style: %s", style)
	}
	return c, nil
}

func (m *Manager) Styles() []string {
	names := make([]string, 0, len(m.caches))
	for name := range m.caches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
