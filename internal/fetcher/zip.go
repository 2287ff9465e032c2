package fetcher

import (
	"archive/zip"
	"bytes"
	"io"
	"path"
	"strings"

	"github.com/rotisserie/eris"
)

// Entry is one file read from an archive.
type Entry struct {
	Name string
	Data []byte
}

// IsZIP reports whether data starts with a ZIP local file header.
func IsZIP(data []byte) bool {
	return bytes.HasPrefix(data, []byte("PK\x03\x04"))
}

// ReadZIP returns the regular files in an in-memory archive. Directories,
// macOS resource forks and dotfiles are skipped. Entries larger than
// maxEntryBytes (when positive) are rejected.
func ReadZIP(data []byte, maxEntryBytes int64) ([]Entry, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, eris.Wrap(err, "zip: open archive")
	}

	var entries []Entry
	for _, f := range r.File {
		if f.FileInfo().IsDir() || skipEntry(f.Name) {
			continue
		}
		name, err := cleanEntryName(f.Name)
		if err != nil {
			return nil, err
		}
		if maxEntryBytes > 0 && f.UncompressedSize64 > uint64(maxEntryBytes) {
			return nil, eris.Errorf("zip: entry %q exceeds %d bytes", f.Name, maxEntryBytes)
		}

		b, err := readEntry(f, maxEntryBytes)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Name: name, Data: b})
	}
	return entries, nil
}

func readEntry(f *zip.File, limit int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, eris.Wrapf(err, "zip: open entry %q", f.Name)
	}
	defer rc.Close() //nolint:errcheck

	var r io.Reader = rc
	if limit > 0 {
		r = io.LimitReader(rc, limit+1)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrapf(err, "zip: read entry %q", f.Name)
	}
	if limit > 0 && int64(len(b)) > limit {
		return nil, eris.Errorf("zip: entry %q exceeds %d bytes", f.Name, limit)
	}
	return b, nil
}

func skipEntry(name string) bool {
	if strings.HasPrefix(name, "__MACOSX/") {
		return true
	}
	return strings.HasPrefix(path.Base(name), ".")
}

// cleanEntryName rejects absolute and parent-relative names.
func cleanEntryName(name string) (string, error) {
	clean := path.Clean(strings.ReplaceAll(name, "\\", "/"))
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", eris.Errorf("zip: illegal path %q", name)
	}
	return clean, nil
}
