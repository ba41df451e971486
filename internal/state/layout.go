package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultResultsName is the result sink's file stem.
const DefaultResultsName = "github"

const (
	stateFile  = "state.json"
	ledgerFile = "fetched"
	pomsDir    = "poms"
)

// Layout resolves the files that make up a data directory.
type Layout struct {
	Dir         string
	ResultsName string
}

// NewLayout returns the layout rooted at dir.
func NewLayout(dir, resultsName string) Layout {
	if strings.TrimSpace(resultsName) == "" {
		resultsName = DefaultResultsName
	}
	return Layout{Dir: dir, ResultsName: resultsName}
}

// Ensure creates the data directory and its descriptor root.
func (l Layout) Ensure() error {
	if strings.TrimSpace(l.Dir) == "" {
		return fmt.Errorf("data directory is required")
	}
	if err := os.MkdirAll(l.PomsDir(), 0o750); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	return nil
}

// StatePath is the durable cursor file.
func (l Layout) StatePath() string {
	return filepath.Join(l.Dir, stateFile)
}

// LedgerPath is the newline-delimited completion ledger.
func (l Layout) LedgerPath() string {
	return filepath.Join(l.Dir, ledgerFile)
}

// ResultsPath is the CSV result sink.
func (l Layout) ResultsPath() string {
	return filepath.Join(l.Dir, l.ResultsName+".csv")
}

// PomsDir is the root of downloaded descriptor files.
func (l Layout) PomsDir() string {
	return filepath.Join(l.Dir, pomsDir)
}

// RepoDir is where one repository's descriptors are stored.
func (l Layout) RepoDir(fullName string) string {
	return filepath.Join(l.PomsDir(), SanitizeName(fullName))
}

// SanitizeName flattens "owner/repo" into a single directory name.
func SanitizeName(fullName string) string {
	return strings.ReplaceAll(fullName, "/", ".")
}

// DescriptorKey is the store key, relative to PomsDir, of one downloaded file.
func DescriptorKey(fullName, path string) string {
	return SanitizeName(fullName) + "/" + strings.TrimPrefix(path, "/")
}
