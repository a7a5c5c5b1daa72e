package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kshedden/gonpy"

	"github.com/miltoncamacho/ggr-recon/internal/models"
)

// Key identifies a slice profile filter. Filters are pure functions of the
// acquisition parameters and the lattice they were built for, so identical
// keys always yield numerically identical filters.
type Key struct {
	Orientation models.Orientation
	Shape       Shape
	Thickness   float64
	Gap         float64

	// AxisLen and Spacing pin the lattice the filter was prepared for.
	AxisLen int
	Spacing float64
}

// Cache is an explicit, injectable store of built filters. A single cache
// may be shared read-only across concurrent reconstruction groups; the
// compute-once discipline exists to avoid duplicate work, not for
// correctness.
type Cache struct {
	mu      sync.Mutex
	filters map[Key]*Filter
}

// NewCache returns an empty filter cache.
func NewCache() *Cache {
	return &Cache{filters: make(map[Key]*Filter)}
}

// Get returns the filter for key, building and caching it on first use.
func (c *Cache) Get(key Key) *Filter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.filters[key]; ok {
		return f
	}
	f := Build(key.Shape, models.AcquisitionParams{
		SliceThickness: key.Thickness,
		SliceGap:       key.Gap,
	}, key.AxisLen, key.Spacing)
	c.filters[key] = f
	return f
}

// Len reports how many filters have been built so far.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.filters)
}

// SaveResponse persists a filter's frequency response as an .npy file in
// dir, named after the orientation. The identity of a filter is fully
// determined by its key, which makes this a pure memoization boundary: a
// later run may reload the response instead of rebuilding it.
func SaveResponse(dir string, key Key, f *Filter) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create filter directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("h_%s.npy", key.Orientation))
	w, err := gonpy.NewFileWriter(path)
	if err != nil {
		return fmt.Errorf("failed to create filter file: %w", err)
	}
	w.Shape = []int{len(f.Response)}
	if err := w.WriteFloat64(f.Response); err != nil {
		return fmt.Errorf("failed to write filter response: %w", err)
	}
	return nil
}

// LoadResponse reads a previously persisted frequency response. The caller
// is responsible for using it only with the key it was saved under.
func LoadResponse(dir string, orientation models.Orientation) ([]float64, error) {
	path := filepath.Join(dir, fmt.Sprintf("h_%s.npy", orientation))
	r, err := gonpy.NewFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open filter file: %w", err)
	}
	data, err := r.GetFloat64()
	if err != nil {
		return nil, fmt.Errorf("failed to read filter response: %w", err)
	}
	return data, nil
}
