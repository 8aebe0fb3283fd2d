package watcher

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const maxExtractedSize = 2 << 30 // 2 GiB across the archive

// extractZip unpacks src into dst, rejecting entries that escape dst
// and bounding total extracted size.
func extractZip(src, dst string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer r.Close()

	var total int64
	for _, f := range r.File {
		cleaned := filepath.Clean(f.Name)
		if strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
			return fmt.Errorf("zip entry escapes extraction dir: %s", f.Name)
		}
		target := filepath.Join(dst, cleaned)
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := extractFile(f, target, &total); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string, total *int64) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(target)
	if err != nil {
		return err
	}
	defer out.Close()

	n, err := io.Copy(out, io.LimitReader(rc, maxExtractedSize-*total))
	if err != nil {
		return err
	}
	*total += n
	if *total >= maxExtractedSize {
		return fmt.Errorf("zip too large after extracting %s", f.Name)
	}
	return nil
}

// findConversationsJSON looks for conversations.json at the extraction
// root or one directory deep, which covers how the export tools lay
// their archives out.
func findConversationsJSON(root string) (string, error) {
	direct := filepath.Join(root, "conversations.json")
	if _, err := os.Stat(direct); err == nil {
		return direct, nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		nested := filepath.Join(root, e.Name(), "conversations.json")
		if _, err := os.Stat(nested); err == nil {
			return nested, nil
		}
	}
	return "", fmt.Errorf("no conversations.json found in archive")
}
