package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultSinkWritesHeaderOnce(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "github.csv")
	sink := OpenResultSink(path)

	require.NoError(t, sink.Append(Record{ID: "R_1", Name: "a/one", HasPom: true}))
	require.NoError(t, sink.Append(Record{ID: "R_2", Name: "b/two", HasPom: false}))
	require.NoError(t, sink.Append(Record{ID: "R_3", Name: "c/three", HasPom: true}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	assert.Equal(t, []string{
		"id,name,has_pom",
		"R_1,a/one,true",
		"R_2,b/two,false",
		"R_3,c/three,true",
	}, lines)
}

func TestResultSinkAppendsToExistingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "github.csv")
	require.NoError(t, OpenResultSink(path).Append(Record{ID: "R_1", Name: "a/one"}))
	require.NoError(t, OpenResultSink(path).Append(Record{ID: "R_2", Name: "b/two"}))

	records, err := ReadRecords(path)
	require.NoError(t, err)
	assert.Equal(t, []Record{{ID: "R_1", Name: "a/one"}, {ID: "R_2", Name: "b/two"}}, records)
}

func TestReadRecordsRejectsForeignHeader(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "github.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b,c\n1,2,true\n"), 0o600))
	_, err := ReadRecords(path)
	require.Error(t, err)
}

func TestReadRecordsEmptyFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "github.csv")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	records, err := ReadRecords(path)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSanitizeName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "owner.repo", SanitizeName("owner/repo"))
	assert.Equal(t, "owner.repo/sub/pom.xml", DescriptorKey("owner/repo", "/sub/pom.xml"))

	layout := NewLayout("/data", "")
	assert.Equal(t, filepath.Join("/data", "github.csv"), layout.ResultsPath())
	assert.Equal(t, filepath.Join("/data", "poms", "owner.repo"), layout.RepoDir("owner/repo"))
}
