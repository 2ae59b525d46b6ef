package daemon

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
)

type reportDir struct {
	name string
	size int64
}

// prune deletes the oldest daemon report directories until total usage is
// at or under the configured cap. Lexicographic order on the UTC-stamped
// names is chronological order.
func (d *Daemon) prune() error {
	if d.cfg.MaxReportsBytes <= 0 {
		return nil
	}
	entries, err := os.ReadDir(d.cfg.ReportsDir)
	if err != nil {
		return contracts.WrapError(contracts.KindTransientIO, "scan reports dir", err)
	}

	var dirs []reportDir
	var total int64
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "daemon_") {
			continue
		}
		size, err := dirSize(filepath.Join(d.cfg.ReportsDir, e.Name()))
		if err != nil {
			return err
		}
		dirs = append(dirs, reportDir{name: e.Name(), size: size})
		total += size
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].name < dirs[j].name })

	// Always keep the newest dir, even over the cap.
	for i := 0; i < len(dirs)-1 && total > d.cfg.MaxReportsBytes; i++ {
		if err := os.RemoveAll(filepath.Join(d.cfg.ReportsDir, dirs[i].name)); err != nil {
			return contracts.WrapError(contracts.KindTransientIO, "prune report dir", err)
		}
		d.logger.Info("pruned report dir", "dir", dirs[i].name, "bytes", dirs[i].size)
		total -= dirs[i].size
	}
	return nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, contracts.WrapError(contracts.KindTransientIO, "measure report dir", err)
	}
	return total, nil
}
