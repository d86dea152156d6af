package pipeline

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const archiveName = "project.zip"

// decodeDataURI decodes "data:[<mediatype>][;base64],<data>", refusing
// payloads that decode to more than limit bytes.
func decodeDataURI(uri string, limit int64) ([]byte, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("%w: malformed data URI", ErrDownloadFailed)
	}
	if strings.HasSuffix(meta, ";base64") {
		if int64(base64.StdEncoding.DecodedLen(len(payload))) > limit+2 {
			return nil, fmt.Errorf("%w: archive exceeds %d bytes", ErrDownloadFailed, limit)
		}
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
		}
		if int64(len(data)) > limit {
			return nil, fmt.Errorf("%w: archive exceeds %d bytes", ErrDownloadFailed, limit)
		}
		return data, nil
	}
	if int64(len(payload)) > 3*limit {
		return nil, fmt.Errorf("%w: archive exceeds %d bytes", ErrDownloadFailed, limit)
	}
	s, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	if int64(len(s)) > limit {
		return nil, fmt.Errorf("%w: archive exceeds %d bytes", ErrDownloadFailed, limit)
	}
	return []byte(s), nil
}

// extractZip unpacks data into dir, rejecting entries that escape dir and
// archives that inflate past limit bytes.
func extractZip(data []byte, dir string, limit int64) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}

	var declared uint64
	for _, f := range zr.File {
		declared += f.UncompressedSize64
		if declared > uint64(limit) {
			return fmt.Errorf("%w: %d", ErrArchiveTooLarge, limit)
		}
	}

	root := filepath.Clean(dir) + string(os.PathSeparator)
	for _, f := range zr.File {
		target := filepath.Join(dir, f.Name)
		if !strings.HasPrefix(target, root) {
			return fmt.Errorf("archive entry %q escapes extraction directory", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		n, err := writeEntry(f, target, limit)
		if err != nil {
			return err
		}
		limit -= n
	}
	return nil
}

// writeEntry copies at most limit bytes of f to target. The header sizes
// are not trusted.
func writeEntry(f *zip.File, target string, limit int64) (int64, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("failed to read archive entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}
	defer out.Close()

	n, err := io.Copy(out, io.LimitReader(rc, limit+1))
	if err != nil {
		return n, fmt.Errorf("failed to extract %s: %w", f.Name, err)
	}
	if n > limit {
		return n, fmt.Errorf("%w: %d", ErrArchiveTooLarge, limit)
	}
	return n, nil
}

// projectRoot returns the single subdirectory of dir when the archive was
// packed with one top-level folder, and dir itself otherwise.
func projectRoot(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read extraction directory: %w", err)
	}

	var content []os.DirEntry
	for _, e := range entries {
		if e.Name() != archiveName {
			content = append(content, e)
		}
	}
	if len(content) == 1 && content[0].IsDir() {
		return filepath.Join(dir, content[0].Name()), nil
	}
	return dir, nil
}

// findSource returns the first .tex file name in root, in name order
func findSource(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("failed to read project root: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".tex" {
			return e.Name(), nil
		}
	}
	return "", fmt.Errorf("%w in %s", ErrNoSourceFile, filepath.Base(root))
}
