package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/JakeFAU/pom-harvester/internal/metrics"
)

const cursorSource = "github"

type cursorFile struct {
	LastID map[string]uint64 `json:"last_id"`
}

// Cursor is the scan watermark. Reads are lock-free; every save rewrites
// the whole file under a lock.
type Cursor struct {
	path  string
	value atomic.Uint64
	mu    sync.Mutex
}

// LoadCursor reads the cursor at path. A missing file starts the scan at 0.
func LoadCursor(path string) (*Cursor, error) {
	c := &Cursor{path: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cursor: %w", err)
	}
	var file cursorFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode cursor %s: %w", path, err)
	}
	c.value.Store(file.LastID[cursorSource])
	return c, nil
}

// Load returns the in-memory watermark.
func (c *Cursor) Load() uint64 {
	return c.value.Load()
}

// Save persists max(current, id). The watermark never moves backwards.
func (c *Cursor) Save(id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := id
	if cur := c.value.Load(); cur > next {
		next = cur
	}
	data, err := json.MarshalIndent(cursorFile{LastID: map[string]uint64{cursorSource: next}}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cursor: %w", err)
	}
	data = append(data, '\n')
	if err := writeFileAtomic(c.path, data, 0o600); err != nil {
		return fmt.Errorf("persist cursor: %w", err)
	}
	c.value.Store(next)
	metrics.SetCursor(next)
	return nil
}
