package report

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
)

// csvHeader is the exact, required column set of metrics_normalized.csv.
var csvHeader = []string{"metric", "value", "unit", "tags"}

// WriteMetricsCSV writes the normalized metrics as CSV, one row per metric
// in sorted name order. Null values render as empty cells; tags as JSON.
func WriteMetricsCSV(dir string, metrics map[string]contracts.Metric) error {
	path := filepath.Join(dir, MetricsCSV)
	f, err := os.Create(path)
	if err != nil {
		return contracts.WrapError(contracts.KindTransientIO, "create metrics csv", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return contracts.WrapError(contracts.KindTransientIO, "write metrics csv", err)
	}

	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		m := metrics[name]
		value := ""
		if m.Value != nil {
			value = strconv.FormatFloat(*m.Value, 'g', -1, 64)
		}
		tags := ""
		if len(m.Tags) > 0 {
			data, err := json.Marshal(m.Tags)
			if err != nil {
				return contracts.WrapError(contracts.KindTransientIO, "encode metric tags", err)
			}
			tags = string(data)
		}
		if err := w.Write([]string{name, value, m.Unit, tags}); err != nil {
			return contracts.WrapError(contracts.KindTransientIO, "write metrics csv", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return contracts.WrapError(contracts.KindTransientIO, "flush metrics csv", err)
	}
	return f.Close()
}

// ReadMetricsCSV loads a metrics_normalized.csv back into metric structs.
// Used by replay and verification.
func ReadMetricsCSV(path string) (map[string]contracts.Metric, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, contracts.WrapError(contracts.KindTransientIO, "open metrics csv", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, contracts.WrapError(contracts.KindParse, "read metrics csv", err)
	}
	if len(rows) == 0 || len(rows[0]) != len(csvHeader) {
		return nil, contracts.Errorf(contracts.KindSchema, "metrics csv missing header row")
	}
	for i, col := range csvHeader {
		if rows[0][i] != col {
			return nil, contracts.Errorf(contracts.KindSchema,
				"metrics csv column %d is %q, want %q", i, rows[0][i], col)
		}
	}

	out := make(map[string]contracts.Metric, len(rows)-1)
	for _, row := range rows[1:] {
		m := contracts.Metric{Name: row[0], Unit: row[2]}
		if row[1] != "" {
			v, err := strconv.ParseFloat(row[1], 64)
			if err != nil {
				return nil, contracts.WrapError(contracts.KindParse,
					"metric "+row[0]+" value", err)
			}
			m.Value = &v
		}
		if row[3] != "" {
			if err := json.Unmarshal([]byte(row[3]), &m.Tags); err != nil {
				return nil, contracts.WrapError(contracts.KindParse,
					"metric "+row[0]+" tags", err)
			}
		}
		out[m.Name] = m
	}
	return out, nil
}
