package evidence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
	"github.com/heartbeat-ops/heartbeat/pkg/report"
)

// Profile names a redaction level for evidence packs.
type Profile string

const (
	RedactNone     Profile = ""
	RedactStandard Profile = "standard"
	RedactStrict   Profile = "strict"
)

const redactedPlaceholder = "[REDACTED]"

// Fields stripped from run_meta_normalized.json per profile. Strict is a
// superset of standard.
var (
	standardFields = []string{"correlation_id", "source_system"}
	strictFields   = append([]string{"environment", "build"}, standardFields...)
)

// copyRedacted copies an artifact, redacting JSON documents that carry
// operator-identifying fields. Non-JSON artifacts copy verbatim.
func copyRedacted(src, dst string, profile Profile) error {
	if profile == RedactNone || filepath.Base(src) != report.RunMetaJSON {
		return copyFile(src, dst)
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return contracts.WrapError(contracts.KindTransientIO, "read run meta", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return contracts.WrapError(contracts.KindParse, "parse run meta", err)
	}

	fields := standardFields
	if profile == RedactStrict {
		fields = strictFields
	}
	for _, field := range fields {
		if _, ok := doc[field]; ok {
			doc[field] = redactedPlaceholder
		}
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return contracts.WrapError(contracts.KindTransientIO, "encode redacted run meta", err)
	}
	if err := os.WriteFile(dst, append(out, '\n'), 0o644); err != nil {
		return contracts.WrapError(contracts.KindTransientIO, "write redacted run meta", err)
	}
	return nil
}

// RejectPlaintextSecrets scans a config snapshot for obvious secret
// material and refuses the pack when found. Enabled by the
// HB_REJECT_PLAINTEXT_SECRETS toggle.
func RejectPlaintextSecrets(dir string) error {
	markers := []string{"BEGIN RSA PRIVATE KEY", "BEGIN PRIVATE KEY", "aws_secret_access_key"}
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		text := string(data)
		for _, marker := range markers {
			if strings.Contains(text, marker) {
				return contracts.Errorf(contracts.KindConfig,
					"plaintext secret material in %s", filepath.Base(path))
			}
		}
		return nil
	})
}
