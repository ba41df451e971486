package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedDataDir(t *testing.T, records []Record, withPoms ...string) Layout {
	t.Helper()
	layout := NewLayout(t.TempDir(), "")
	require.NoError(t, layout.Ensure())
	require.NoError(t, WriteRecords(layout.ResultsPath(), records))
	ledger, err := OpenLedger(layout.LedgerPath())
	require.NoError(t, err)
	for _, rec := range records {
		require.NoError(t, ledger.Append(rec.ID))
	}
	for _, name := range withPoms {
		dir := layout.RepoDir(name)
		require.NoError(t, os.MkdirAll(dir, 0o750))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "pom.xml"), []byte("<project/>"), 0o600))
	}
	return layout
}

func TestConsolidateMarksReposWithDescriptors(t *testing.T) {
	t.Parallel()

	layout := seedDataDir(t, []Record{
		{ID: "R_1", Name: "a/one", HasPom: false},
		{ID: "R_2", Name: "b/two", HasPom: true},
		{ID: "R_3", Name: "c/three", HasPom: false},
	}, "a/one")

	updated, err := Consolidate(layout)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	records, err := ReadRecords(layout.ResultsPath())
	require.NoError(t, err)
	assert.Equal(t, []Record{
		{ID: "R_1", Name: "a/one", HasPom: true},
		{ID: "R_2", Name: "b/two", HasPom: true},
		{ID: "R_3", Name: "c/three", HasPom: false},
	}, records)

	_, err = os.Stat(layout.ResultsPath() + ".new")
	assert.True(t, os.IsNotExist(err))
}

func TestCreateSubsetIsSeeded(t *testing.T) {
	t.Parallel()

	var records []Record
	for _, name := range []string{"a/1", "a/2", "a/3", "a/4", "a/5", "a/6"} {
		records = append(records, Record{ID: "id-" + name, Name: name, HasPom: true})
	}
	from := seedDataDir(t, records, "a/1", "a/2", "a/3", "a/4", "a/5", "a/6")

	first := NewLayout(filepath.Join(t.TempDir(), "one"), "")
	n, err := CreateSubset(from, first, 3, DefaultSubsetSeed)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	second := NewLayout(filepath.Join(t.TempDir(), "two"), "")
	_, err = CreateSubset(from, second, 3, DefaultSubsetSeed)
	require.NoError(t, err)

	a, err := ReadRecords(first.ResultsPath())
	require.NoError(t, err)
	b, err := ReadRecords(second.ResultsPath())
	require.NoError(t, err)
	assert.Equal(t, a, b)
	require.Len(t, a, 3)

	for _, rec := range a {
		target, err := os.Readlink(first.RepoDir(rec.Name))
		require.NoError(t, err)
		abs, err := filepath.Abs(from.RepoDir(rec.Name))
		require.NoError(t, err)
		assert.Equal(t, abs, target)
	}

	ledger, err := OpenLedger(first.LedgerPath())
	require.NoError(t, err)
	assert.Equal(t, len(records), ledger.Len())

	_, err = CreateSubset(from, first, 3, DefaultSubsetSeed)
	require.ErrorIs(t, err, ErrSubsetExists)
}

func TestCreateSubsetLargerThanSource(t *testing.T) {
	t.Parallel()

	from := seedDataDir(t, []Record{{ID: "R_1", Name: "a/one"}})
	to := NewLayout(filepath.Join(t.TempDir(), "out"), "")
	n, err := CreateSubset(from, to, 10, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
