package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"marketlake/internal/domain"
	"marketlake/internal/frame"
	"marketlake/internal/lake"
	"marketlake/internal/refdata"
	"marketlake/internal/schema"
)

// latestPartitionDir returns the newest dated partition of a dataset
// holding at least one data file, at or before the given ISO date.
// Empty when the dataset has no usable partition.
func (rc *Run) latestPartitionDir(dataset, upTo string) string {
	root := rc.deps.Writer.DatasetDir(dataset)
	years, err := os.ReadDir(root)
	if err != nil {
		return ""
	}

	var best, bestDate string
	for _, y := range years {
		yv, ok := partitionComponent(y, "year=")
		if !ok {
			continue
		}
		months, err := os.ReadDir(filepath.Join(root, y.Name()))
		if err != nil {
			continue
		}
		for _, m := range months {
			mv, ok := partitionComponent(m, "month=")
			if !ok {
				continue
			}
			days, err := os.ReadDir(filepath.Join(root, y.Name(), m.Name()))
			if err != nil {
				continue
			}
			for _, d := range days {
				dv, ok := partitionComponent(d, "day=")
				if !ok {
					continue
				}
				date := fmt.Sprintf("%04d-%02d-%02d", yv, mv, dv)
				if date > upTo || date <= bestDate {
					continue
				}
				dir := filepath.Join(root, y.Name(), m.Name(), d.Name())
				if !hasDataFile(dir) {
					continue
				}
				best, bestDate = dir, date
			}
		}
	}
	return best
}

func partitionComponent(e os.DirEntry, prefix string) (int, bool) {
	if !e.IsDir() {
		return 0, false
	}
	v, ok := strings.CutPrefix(e.Name(), prefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func hasDataFile(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "part-") && strings.HasSuffix(e.Name(), ".parquet") {
			return true
		}
	}
	return false
}

// lakeBars reads back the keyed equity bars of the run date's
// partition. Nil when the file is absent or unreadable; callers treat
// that as the key not being recoverable.
func (rc *Run) lakeBars(key string) *frame.Frame {
	year, month, day, err := domain.Partition(rc.Date)
	if err != nil {
		return nil
	}
	dir := rc.deps.Writer.PartitionDir(schema.DatasetEquityOHLC, year, month, day)
	path := filepath.Join(dir, lake.DataFileName(key, rc.deps.Config.Writer.Compression))
	f, err := lake.ReadParquet(path, schema.EquityOHLC())
	if err != nil {
		rc.log.Warn().Err(err).Str("path", path).Msg("keyed bars unreadable")
		return nil
	}
	return f
}

// masterIndex loads the freshest symbol master at or before the run
// date. Nil when the lake has none, which disables enrichment.
func (rc *Run) masterIndex() *refdata.Index {
	dir := rc.latestPartitionDir(schema.DatasetSymbolMaster, rc.Date)
	if dir == "" {
		rc.log.Debug().Msg("no symbol master in the lake, enrichment disabled")
		return nil
	}
	f, err := lake.ReadPartition(dir, schema.SymbolMaster())
	if err != nil {
		rc.log.Warn().Err(err).Str("dir", dir).Msg("symbol master unreadable")
		return nil
	}
	ix, err := refdata.NewIndex(f)
	if err != nil {
		rc.log.Warn().Err(err).Msg("symbol master not indexable")
		return nil
	}
	return ix
}

// previousConstituents loads the newest index membership snapshot
// strictly before the run date, for ADD/REMOVE diffing. Nil when this
// is the first snapshot.
func (rc *Run) previousConstituents() *frame.Frame {
	t, err := domain.ParseISODate(rc.Date)
	if err != nil {
		return nil
	}
	dayBefore := t.AddDate(0, 0, -1).Format("2006-01-02")
	dir := rc.latestPartitionDir(schema.DatasetIndexConstituents, dayBefore)
	if dir == "" {
		return nil
	}
	f, err := lake.ReadPartition(dir, schema.IndexConstituents())
	if err != nil {
		rc.log.Warn().Err(err).Str("dir", dir).Msg("previous constituents unreadable")
		return nil
	}
	return f
}
