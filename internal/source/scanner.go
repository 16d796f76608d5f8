package source

import (
	"io/fs"
	"os"
	"path/filepath"
)

// ScanDir walks root recursively and returns every session log file found,
// with its current fingerprint (mtime, size) captured at discovery time.
// A missing root means there is nothing to scan, not an error. Unreadable
// directory entries are skipped and the walk continues.
func ScanDir(root string) ([]SessionFile, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, nil
	}

	var files []SessionFile

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // intentionally skip unreadable entries
		}
		if d.IsDir() {
			return nil
		}
		if filepath.Ext(path) != ".jsonl" {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return nil //nolint:nilerr // file vanished mid-walk
		}

		files = append(files, SessionFile{
			Path:      path,
			SessionID: filepath.Dir(path),
			MtimeNs:   fi.ModTime().UnixNano(),
			SizeBytes: fi.Size(),
		})
		return nil
	})

	return files, err
}

// CountSessions returns the number of distinct session directories in a set
// of discovered files.
func CountSessions(files []SessionFile) int {
	seen := make(map[string]struct{})
	for _, f := range files {
		seen[f.SessionID] = struct{}{}
	}
	return len(seen)
}
