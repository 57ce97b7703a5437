package persist

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
)

// hdfTable is the typed container persisted in place of a real HDF5 file.
// No HDF5 binding appears anywhere in the example pack this repo was
// grounded on, so the "hdf" output format is implemented as a self-describing
// encoding/gob stream instead of fabricating a C-binding dependency; see
// DESIGN.md for the per-dependency justification this stands in for.
type hdfTable struct {
	Header [][]byte
	Rows   [][][]byte
}

func writeHDF(path string, header []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("persist: mkdir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("persist: create %s: %w", path, err)
	}
	defer f.Close()

	table := hdfTable{Header: toBytes(header)}
	for _, row := range rows {
		table.Rows = append(table.Rows, toBytes(row))
	}

	if err := gob.NewEncoder(f).Encode(table); err != nil {
		return fmt.Errorf("persist: gob encode %s: %w", path, err)
	}
	return nil
}

// ReadHDF decodes a table previously written by writeHDF, returning the
// header and rows exactly as WriteAppData built them — used by persistence
// round-trip tests.
func ReadHDF(path string) (header []string, rows [][]string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("persist: open %s: %w", path, err)
	}
	defer f.Close()

	var table hdfTable
	if err := gob.NewDecoder(f).Decode(&table); err != nil {
		return nil, nil, fmt.Errorf("persist: gob decode %s: %w", path, err)
	}

	header = fromBytes(table.Header)
	for _, row := range table.Rows {
		rows = append(rows, fromBytes(row))
	}
	return header, rows, nil
}

func toBytes(ss []string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}

func fromBytes(bs [][]byte) []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = string(b)
	}
	return out
}
