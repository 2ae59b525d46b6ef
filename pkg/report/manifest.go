package report

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
)

// ManifestEntry is one artifact fingerprint.
type ManifestEntry struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// WriteManifest hashes every regular file under dir (except the manifest
// itself) and writes artifact_manifest.json. Paths are slash-separated and
// relative to dir, sorted.
func WriteManifest(dir string) ([]ManifestEntry, error) {
	entries, err := HashTree(dir, ManifestJSON)
	if err != nil {
		return nil, err
	}
	if err := writeJSON(filepath.Join(dir, ManifestJSON), entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// HashTree fingerprints every regular file under dir, skipping the named
// files.
func HashTree(dir string, skip ...string) ([]ManifestEntry, error) {
	skipped := map[string]bool{}
	for _, name := range skip {
		skipped[name] = true
	}

	var entries []ManifestEntry
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if skipped[rel] {
			return nil
		}
		sum, err := hashFile(path)
		if err != nil {
			return err
		}
		entries = append(entries, ManifestEntry{Path: rel, SHA256: sum})
		return nil
	})
	if err != nil {
		return nil, contracts.WrapError(contracts.KindTransientIO, "hash report dir", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
