package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
)

// DefaultSubsetSeed makes subsets reproducible across runs.
const DefaultSubsetSeed uint64 = 42

// ErrSubsetExists guards against overwriting an existing data directory.
var ErrSubsetExists = errors.New("subset destination already has results")

// Consolidate sets has_pom on every record whose descriptor directory exists.
// The sink is rewritten to <name>.csv.new and renamed over the original.
// It returns how many rows flipped to true.
func Consolidate(layout Layout) (int, error) {
	records, err := ReadRecords(layout.ResultsPath())
	if err != nil {
		return 0, err
	}
	updated := 0
	for i := range records {
		if records[i].HasPom {
			continue
		}
		ok, err := exists(layout.RepoDir(records[i].Name))
		if err != nil {
			return 0, err
		}
		if ok {
			records[i].HasPom = true
			updated++
		}
	}

	tmp := layout.ResultsPath() + ".new"
	if err := WriteRecords(tmp, records); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp, layout.ResultsPath()); err != nil {
		return 0, fmt.Errorf("replace results: %w", err)
	}
	return updated, nil
}

// CreateSubset copies a seeded random sample of n records from one data
// directory into another. Descriptor directories are symlinked, not copied,
// and the ledger is copied whole.
func CreateSubset(from, to Layout, n int, seed uint64) (int, error) {
	if n < 0 {
		return 0, fmt.Errorf("subset size must be >= 0")
	}
	if ok, err := exists(to.ResultsPath()); err != nil {
		return 0, err
	} else if ok {
		return 0, fmt.Errorf("%w: %s", ErrSubsetExists, to.ResultsPath())
	}
	records, err := ReadRecords(from.ResultsPath())
	if err != nil {
		return 0, err
	}

	var key [32]byte
	binary.LittleEndian.PutUint64(key[:8], seed)
	rng := rand.New(rand.NewChaCha8(key))
	rng.Shuffle(len(records), func(i, j int) {
		records[i], records[j] = records[j], records[i]
	})
	if n < len(records) {
		records = records[:n]
	}

	if err := to.Ensure(); err != nil {
		return 0, err
	}
	if err := copyFile(from.LedgerPath(), to.LedgerPath()); err != nil {
		return 0, err
	}
	for _, rec := range records {
		src := from.RepoDir(rec.Name)
		ok, err := exists(src)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		abs, err := filepath.Abs(src)
		if err != nil {
			return 0, fmt.Errorf("resolve %s: %w", src, err)
		}
		if err := os.Symlink(abs, to.RepoDir(rec.Name)); err != nil {
			return 0, fmt.Errorf("link %s: %w", rec.Name, err)
		}
	}
	if err := WriteRecords(to.ResultsPath(), records); err != nil {
		return 0, err
	}
	return len(records), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	return nil
}
