package export

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"splittrip/internal/core"
)

var _ Target = (*CSVDir)(nil)

// CSVDir mirrors expenses into one interchange CSV per trip under a
// directory. Files are named <trip-id>.csv.
type CSVDir struct {
	mu  sync.Mutex
	dir string
}

func NewCSVDir(dir string) (*CSVDir, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}
	return &CSVDir{dir: dir}, nil
}

func (d *CSVDir) Name() string { return "csvdir" }

// AppendExpense appends one row to the trip's file, creating it with a
// header first. The returned reference is "<file>:<line>".
func (d *CSVDir) AppendExpense(_ context.Context, trip core.Trip, e core.Expense) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	name := trip.ID + ".csv"
	path := filepath.Join(d.dir, name)

	rows, err := countRows(path)
	if err != nil {
		return "", err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if rows == 0 {
		if err := w.Write(Header()); err != nil {
			return "", fmt.Errorf("write header: %w", err)
		}
		rows = 1
	}
	if err := w.Write(EncodeRecord(trip.Name, e)); err != nil {
		return "", fmt.Errorf("write row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush %s: %w", name, err)
	}

	return fmt.Sprintf("%s:%d", name, rows+1), nil
}

// WriteSnapshot replaces the trip's file with a full export. The file is
// written to a temp path and renamed, so readers never see a partial
// snapshot.
func (d *CSVDir) WriteSnapshot(trip core.Trip, expenses []core.Expense) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	name := trip.ID + ".csv"
	tmp, err := os.CreateTemp(d.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteTrip(tmp, trip, expenses); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(d.dir, name)); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

func countRows(path string) (int, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	n := 0
	for {
		if _, err := r.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return 0, fmt.Errorf("read %s: %w", filepath.Base(path), err)
		}
		n++
	}
}
