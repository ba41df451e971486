package state

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
)

var resultsHeader = []string{"id", "name", "has_pom"}

// Record is one row of the result sink.
type Record struct {
	ID     string
	Name   string
	HasPom bool
}

func (r Record) row() []string {
	return []string{r.ID, r.Name, strconv.FormatBool(r.HasPom)}
}

// ResultSink appends records to a CSV file, writing the header on first use.
type ResultSink struct {
	path string
	mu   sync.Mutex
}

// OpenResultSink returns a sink writing to path.
func OpenResultSink(path string) *ResultSink {
	return &ResultSink{path: path}
}

// Path is the CSV file backing the sink.
func (s *ResultSink) Path() string {
	return s.path
}

// Append writes one row. All writers in the process serialize here.
func (s *ResultSink) Append(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open results: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat results: %w", err)
	}
	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(resultsHeader); err != nil {
			_ = f.Close()
			return fmt.Errorf("write results header: %w", err)
		}
	}
	if err := w.Write(rec.row()); err != nil {
		_ = f.Close()
		return fmt.Errorf("write result: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush results: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close results: %w", err)
	}
	return nil
}

// ReadRecords loads every row of the CSV at path.
func ReadRecords(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open results: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(resultsHeader)
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read results header: %w", err)
	}
	for i, col := range resultsHeader {
		if header[i] != col {
			return nil, fmt.Errorf("results %s: unexpected header %v", path, header)
		}
	}

	var records []Record
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read results: %w", err)
		}
		hasPom, err := strconv.ParseBool(row[2])
		if err != nil {
			return nil, fmt.Errorf("results row %q: has_pom: %w", row[0], err)
		}
		records = append(records, Record{ID: row[0], Name: row[1], HasPom: hasPom})
	}
	return records, nil
}

// WriteRecords replaces the CSV at path with header plus records.
func WriteRecords(path string, records []Record) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(resultsHeader); err != nil {
		return fmt.Errorf("encode results header: %w", err)
	}
	for _, rec := range records {
		if err := w.Write(rec.row()); err != nil {
			return fmt.Errorf("encode result %s: %w", rec.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}
