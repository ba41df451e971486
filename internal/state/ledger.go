package state

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Ledger records repositories whose harvest has concluded. The file is
// read once at open; membership checks never touch disk again.
type Ledger struct {
	path string
	mu   sync.RWMutex
	done map[string]struct{}
}

// OpenLedger loads the ledger at path, creating nothing until the first append.
func OpenLedger(path string) (*Ledger, error) {
	l := &Ledger{path: path, done: make(map[string]struct{})}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if id := strings.TrimSpace(scanner.Text()); id != "" {
			l.done[id] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return l, nil
}

// Contains reports whether id already concluded.
func (l *Ledger) Contains(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.done[id]
	return ok
}

// Len is the number of concluded repositories.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.done)
}

// Append records id as concluded. Repeated appends of the same id are no-ops.
func (l *Ledger) Append(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("ledger id is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.done[id]; ok {
		return nil
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open ledger for append: %w", err)
	}
	if _, err := f.WriteString(id + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("append ledger: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close ledger: %w", err)
	}
	l.done[id] = struct{}{}
	return nil
}
