package snapshot

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
)

// LoadLatest decodes the newest snapshot in dir. It returns nil, nil
// when there is none.
func LoadLatest(dir string) (*Snapshot, error) {
	files, err := filepath.Glob(filepath.Join(dir, filePattern))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}
	return Load(files[len(files)-1])
}

func Load(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var s Snapshot
	if err := gob.NewDecoder(f).Decode(&s); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", filepath.Base(path), err)
	}
	return &s, nil
}
