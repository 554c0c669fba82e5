package snapshot

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const filePattern = "snapshot-*.gob"

type Writer struct {
	Dir string
	// Keep is how many snapshot files survive a write; 0 keeps two.
	Keep int
}

// Write stores s atomically and prunes older snapshots.
func (w *Writer) Write(s *Snapshot) (string, error) {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", err
	}
	if s.Created.IsZero() {
		s.Created = time.Now()
	}

	path := filepath.Join(w.Dir, fmt.Sprintf("snapshot-%020d.gob", s.Seq))
	tmp, err := os.CreateTemp(w.Dir, "snapshot-*.tmp")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(s); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	return path, w.prune()
}

func (w *Writer) prune() error {
	keep := w.Keep
	if keep <= 0 {
		keep = 2
	}
	files, err := filepath.Glob(filepath.Join(w.Dir, filePattern))
	if err != nil {
		return err
	}
	// zero-padded names sort by sequence
	for i := 0; i < len(files)-keep; i++ {
		if err := os.Remove(files[i]); err != nil {
			return err
		}
	}
	return nil
}
