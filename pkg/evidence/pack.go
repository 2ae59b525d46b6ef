package evidence

import (
	"archive/zip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
	"github.com/heartbeat-ops/heartbeat/pkg/report"
)

// PackManifest is the manifest.json of an evidence pack.
type PackManifest struct {
	CaseID       string                 `json:"case_id"`
	GeneratedUTC string                 `json:"generated_utc"`
	SBOMHash     string                 `json:"sbom_hash,omitempty"`
	CodeVersion  string                 `json:"code_version,omitempty"`
	Redaction    string                 `json:"redaction,omitempty"`
	Artifacts    []report.ManifestEntry `json:"artifacts"`
}

// PackOptions parameterizes evidence pack creation.
type PackOptions struct {
	CaseID    string
	ReportDir string
	OutParent string
	// ConfigPaths maps Ref* keys to the live config files to snapshot.
	ConfigPaths     map[string]string
	BaselineMetrics map[string]contracts.Metric
	// RawSlicePath optionally includes the raw telemetry slice.
	RawSlicePath string
	Redaction    Profile
	SBOMHash     string
	CodeVersion  string
	Zip          bool
	Now          time.Time
}

// Pack copies the decision artifacts, config snapshot, and baseline into
// evidence_<case_id>/ under OutParent, writes the manifest, and optionally
// archives the directory. Returns the pack path (dir or zip).
func Pack(opts PackOptions) (string, error) {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	dir := filepath.Join(opts.OutParent, "evidence_"+opts.CaseID)
	if err := os.MkdirAll(filepath.Join(dir, "config"), 0o755); err != nil {
		return "", contracts.WrapError(contracts.KindTransientIO, "create evidence dir", err)
	}

	for _, name := range []string{
		report.RunMetaJSON, report.DriftReportJSON, report.DriftReportHTML,
		report.MetricsCSV, report.DecisionJSON, report.BaselineSnapshot,
	} {
		src := filepath.Join(opts.ReportDir, name)
		if _, err := os.Stat(src); err != nil {
			continue // absent artifacts are skipped, not fatal
		}
		if err := copyRedacted(src, filepath.Join(dir, name), opts.Redaction); err != nil {
			return "", err
		}
	}

	for key, src := range opts.ConfigPaths {
		if src == "" {
			continue
		}
		dst := filepath.Join(dir, "config", key+".yaml")
		if err := copyFile(src, dst); err != nil {
			return "", err
		}
	}

	if opts.BaselineMetrics != nil {
		if err := report.WriteBaselineSnapshot(dir, opts.BaselineMetrics); err != nil {
			return "", err
		}
	}
	if opts.RawSlicePath != "" {
		if err := copyFile(opts.RawSlicePath, filepath.Join(dir, "raw_slice"+filepath.Ext(opts.RawSlicePath))); err != nil {
			return "", err
		}
	}

	artifacts, err := report.HashTree(dir, "manifest.json")
	if err != nil {
		return "", err
	}
	manifest := PackManifest{
		CaseID:       opts.CaseID,
		GeneratedUTC: opts.Now.UTC().Format(time.RFC3339Nano),
		SBOMHash:     opts.SBOMHash,
		CodeVersion:  opts.CodeVersion,
		Redaction:    string(opts.Redaction),
		Artifacts:    artifacts,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", contracts.WrapError(contracts.KindTransientIO, "encode pack manifest", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), append(data, '\n'), 0o644); err != nil {
		return "", contracts.WrapError(contracts.KindTransientIO, "write pack manifest", err)
	}

	if opts.Zip {
		zipPath := dir + ".zip"
		if err := zipDir(dir, zipPath); err != nil {
			return "", err
		}
		return zipPath, nil
	}
	return dir, nil
}

// ReadManifest loads a pack manifest.
func ReadManifest(dir string) (PackManifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return PackManifest{}, contracts.WrapError(contracts.KindTransientIO, "read pack manifest", err)
	}
	var m PackManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return PackManifest{}, contracts.WrapError(contracts.KindParse, "parse pack manifest", err)
	}
	return m, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return contracts.WrapError(contracts.KindTransientIO, "read "+filepath.Base(src), err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return contracts.WrapError(contracts.KindTransientIO, "write "+filepath.Base(dst), err)
	}
	return nil
}

func zipDir(dir, zipPath string) error {
	f, err := os.Create(zipPath)
	if err != nil {
		return contracts.WrapError(contracts.KindTransientIO, "create evidence archive", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(w, src)
		return err
	})
	if err != nil {
		return contracts.WrapError(contracts.KindTransientIO, "archive evidence dir", err)
	}
	if err := zw.Close(); err != nil {
		return contracts.WrapError(contracts.KindTransientIO, "finish evidence archive", err)
	}
	return f.Close()
}
