package disk

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

type recordFile struct {
	path    string
	size    int64
	modTime time.Time
}

// isRecordName reports whether a file name holds a committed record.
// Partition markers and in-flight temp files are skipped.
func isRecordName(name string) bool {
	return name != markerName && !strings.HasPrefix(name, "cache-")
}

func recordFiles(root string) ([]recordFile, error) {
	files := make([]recordFile, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || !isRecordName(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		files = append(files, recordFile{
			path:    path,
			size:    info.Size(),
			modTime: info.ModTime(),
		})
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return files, err
}

func dirSize(root string) (int64, error) {
	files, err := recordFiles(root)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, f := range files {
		total += f.size
	}
	return total, nil
}

func pruneDir(root string, targetBytes int64) (freed int64, remaining int64, err error) {
	if targetBytes < 0 {
		targetBytes = 0
	}

	entries, err := recordFiles(root)
	if err != nil {
		return 0, 0, err
	}
	for _, e := range entries {
		remaining += e.size
	}
	if remaining <= targetBytes {
		return 0, remaining, nil
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].modTime.Equal(entries[j].modTime) {
			return entries[i].path < entries[j].path
		}
		return entries[i].modTime.Before(entries[j].modTime)
	})

	for _, entry := range entries {
		if remaining <= targetBytes {
			break
		}
		if err := os.Remove(entry.path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return freed, remaining, err
		}
		remaining -= entry.size
		freed += entry.size
	}

	return freed, remaining, nil
}
