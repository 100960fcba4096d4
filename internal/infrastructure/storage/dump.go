package storage

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// WriteAccuracies writes one float64 per task, little-endian, no header.
func WriteAccuracies(w io.Writer, accuracies []float64) error {
	if err := binary.Write(w, binary.LittleEndian, accuracies); err != nil {
		return fmt.Errorf("failed to write accuracies: %w", err)
	}
	return nil
}

// ReadAccuracies reads a stream produced by WriteAccuracies.
func ReadAccuracies(r io.Reader) ([]float64, error) {
	var out []float64
	for {
		var v float64
		err := binary.Read(r, binary.LittleEndian, &v)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read accuracies: %w", err)
		}
		out = append(out, v)
	}
}

// DumpAccuracies writes the ledger accuracies to path, replacing it.
func DumpAccuracies(path string, accuracies []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WriteAccuracies(f, accuracies); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
