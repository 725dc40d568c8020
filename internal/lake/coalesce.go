package lake

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/parquet-go/parquet-go"

	"marketlake/internal/errs"
	"marketlake/internal/frame"
)

// Coalescer defaults. Partition directories accumulate one small file
// per daily run; periodic compaction rewrites them into scan-friendly
// sizes.
const (
	DefaultCoalesceTarget    = 128 << 20
	DefaultCoalesceThreshold = 10 << 20
)

// CoalesceOptions controls one compaction pass.
type CoalesceOptions struct {
	// TargetBytes caps the input volume merged into one output file.
	// Zero selects 128 MB.
	TargetBytes int64
	// ThresholdBytes marks a file as small enough to merge. Zero
	// selects 10 MB.
	ThresholdBytes int64
	// Compression names the output codec. Empty means snappy.
	Compression string
	// DryRun reports what would be merged without touching files.
	DryRun bool
}

// CoalesceGroup is one planned or executed merge within a directory.
type CoalesceGroup struct {
	Dir        string
	Inputs     []string
	InputBytes int64
	Output     string
	Rows       int64
}

// CoalesceResult summarizes a compaction pass.
type CoalesceResult struct {
	Groups       []CoalesceGroup
	FilesRemoved int
	FilesWritten int
}

// Coalesce merges small parquet files within each partition directory
// of a dataset. Inputs are packed into bins capped at TargetBytes; a
// directory's bin is only merged when it holds at least two files. Row
// counts are verified before originals are deleted.
func (w *Writer) Coalesce(ctx context.Context, dataset string, opts CoalesceOptions) (*CoalesceResult, error) {
	if opts.TargetBytes <= 0 {
		opts.TargetBytes = DefaultCoalesceTarget
	}
	if opts.ThresholdBytes <= 0 {
		opts.ThresholdBytes = DefaultCoalesceThreshold
	}
	if _, err := codecFor(opts.Compression); err != nil {
		return nil, err
	}

	dirs, err := partitionDirs(w.DatasetDir(dataset))
	if err != nil {
		return nil, err
	}

	result := &CoalesceResult{}
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return result, errs.E(errs.KindData, err)
		}
		groups, err := planDir(dir, opts)
		if err != nil {
			return result, err
		}
		for i, g := range groups {
			g.Output = filepath.Join(dir, mergedFileName(i, opts.Compression))
			if opts.DryRun {
				result.Groups = append(result.Groups, g)
				continue
			}
			executed, err := w.mergeGroup(dataset, g, opts.Compression)
			if err != nil {
				return result, err
			}
			result.Groups = append(result.Groups, executed)
			result.FilesWritten++
			result.FilesRemoved += len(executed.Inputs)
			w.Log.Info().Str("dataset", dataset).Str("dir", dir).
				Int("inputs", len(executed.Inputs)).Int64("rows", executed.Rows).
				Str("output", executed.Output).Msg("partition coalesced")
		}
	}
	return result, nil
}

// partitionDirs lists directories under root that directly contain
// parquet data files. Quarantine output is never compacted.
func partitionDirs(root string) ([]string, error) {
	seen := make(map[string]bool)
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), "_") {
				return filepath.SkipDir
			}
			return nil
		}
		if !isDataFile(d.Name()) {
			return nil
		}
		dir := filepath.Dir(path)
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
		return nil
	})
	if err != nil {
		return nil, errs.E(errs.KindData, fmt.Errorf("walk dataset: %w", err))
	}
	sort.Strings(dirs)
	return dirs, nil
}

func isDataFile(name string) bool {
	return strings.HasSuffix(name, ".parquet") &&
		!strings.HasPrefix(name, "_") &&
		!strings.HasPrefix(name, ".")
}

// planDir bins the directory's small files into merge groups.
func planDir(dir string, opts CoalesceOptions) ([]CoalesceGroup, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errs.E(errs.KindData, fmt.Errorf("list partition dir: %w", err))
	}

	type smallFile struct {
		path string
		size int64
	}
	var small []smallFile
	for _, e := range entries {
		if e.IsDir() || !isDataFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, errs.E(errs.KindData, fmt.Errorf("stat %s: %w", e.Name(), err))
		}
		if info.Size() < opts.ThresholdBytes {
			small = append(small, smallFile{path: filepath.Join(dir, e.Name()), size: info.Size()})
		}
	}

	var groups []CoalesceGroup
	current := CoalesceGroup{Dir: dir}
	flush := func() {
		if len(current.Inputs) >= 2 {
			groups = append(groups, current)
		}
		current = CoalesceGroup{Dir: dir}
	}
	for _, f := range small {
		if current.InputBytes+f.size > opts.TargetBytes && len(current.Inputs) > 0 {
			flush()
		}
		current.Inputs = append(current.Inputs, f.path)
		current.InputBytes += f.size
	}
	flush()
	return groups, nil
}

func mergedFileName(bin int, compression string) string {
	if compression == "" {
		compression = CompressionSnappy
	}
	return fmt.Sprintf("part-merged-%05d.%s.parquet", bin, compression)
}

// mergeGroup rewrites the group's inputs into one file, verifies the
// row count, then removes the originals and fixes the _metadata
// sidecar.
func (w *Writer) mergeGroup(dataset string, g CoalesceGroup, compression string) (CoalesceGroup, error) {
	codec, err := codecFor(compression)
	if err != nil {
		return g, err
	}

	type openInput struct {
		file *os.File
		pf   *parquet.File
	}
	inputs := make([]openInput, 0, len(g.Inputs))
	defer func() {
		for _, in := range inputs {
			in.file.Close()
		}
	}()

	var expected int64
	for _, path := range g.Inputs {
		f, err := os.Open(path)
		if err != nil {
			return g, errs.E(errs.KindData, fmt.Errorf("open input: %w", err))
		}
		st, err := f.Stat()
		if err != nil {
			f.Close()
			return g, errs.E(errs.KindData, fmt.Errorf("stat input: %w", err))
		}
		pf, err := parquet.OpenFile(f, st.Size())
		if err != nil {
			f.Close()
			return g, errs.E(errs.KindData, fmt.Errorf("open input footer %s: %w", path, err))
		}
		inputs = append(inputs, openInput{file: f, pf: pf})
		expected += pf.NumRows()
	}

	tmp, err := os.CreateTemp(g.Dir, ".tmp-merge-*.parquet")
	if err != nil {
		return g, errs.E(errs.KindData, fmt.Errorf("create temp file: %w", err))
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	out := parquet.NewGenericWriter[frame.Row](tmp, inputs[0].pf.Schema(), parquet.Compression(codec))
	var copied int64
	for _, in := range inputs {
		for _, rg := range in.pf.RowGroups() {
			rows := rg.Rows()
			n, err := parquet.CopyRows(out, rows)
			rows.Close()
			if err != nil {
				cleanup()
				return g, errs.E(errs.KindData, fmt.Errorf("copy rows: %w", err))
			}
			copied += n
		}
	}
	if copied != expected {
		cleanup()
		return g, errs.Errorf(errs.KindData,
			"coalesce row count mismatch in %s: copied %d, expected %d", g.Dir, copied, expected)
	}
	if err := out.Close(); err != nil {
		cleanup()
		return g, errs.E(errs.KindData, fmt.Errorf("close parquet writer: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return g, errs.E(errs.KindData, fmt.Errorf("close temp file: %w", err))
	}
	if err := os.Rename(tmpName, g.Output); err != nil {
		os.Remove(tmpName)
		return g, errs.E(errs.KindData, fmt.Errorf("publish merged file: %w", err))
	}

	// Inputs are gone from this point; the merged file carries their rows.
	gone := make(map[string]bool, len(g.Inputs))
	for _, path := range g.Inputs {
		if path == g.Output {
			continue
		}
		if err := os.Remove(path); err != nil {
			return g, errs.E(errs.KindData, fmt.Errorf("remove input %s: %w", path, err))
		}
		gone[filepath.Base(path)] = true
	}

	stats := mergedStats(g.Dir, gone)
	if err := removeDirMetadataEntries(g.Dir, gone); err != nil {
		return g, err
	}
	st, err := os.Stat(g.Output)
	if err != nil {
		return g, errs.E(errs.KindData, fmt.Errorf("stat merged file: %w", err))
	}
	if err := updateDirMetadata(g.Dir, dataset, FileMeta{
		Path:    filepath.Base(g.Output),
		Rows:    copied,
		Bytes:   st.Size(),
		Columns: stats,
	}); err != nil {
		return g, err
	}

	g.Rows = copied
	return g, nil
}

// mergedStats folds the consumed files' sidecar statistics into one
// entry for the merged file. Best effort: a missing or corrupt sidecar
// yields nil stats.
func mergedStats(dir string, gone map[string]bool) map[string]ColumnStats {
	raw, err := os.ReadFile(filepath.Join(dir, dirMetadataName))
	if err != nil {
		return nil
	}
	var meta dirMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil
	}

	merged := make(map[string]ColumnStats)
	found := false
	for _, f := range meta.Files {
		if !gone[f.Path] {
			continue
		}
		found = true
		for col, cs := range f.Columns {
			acc, ok := merged[col]
			if !ok {
				merged[col] = cs
				continue
			}
			acc.Nulls += cs.Nulls
			acc.Min = foldStat(acc.Min, cs.Min, true)
			acc.Max = foldStat(acc.Max, cs.Max, false)
			merged[col] = acc
		}
	}
	if !found {
		return nil
	}
	return merged
}

// foldStat combines two JSON-decoded stat values of the same column.
func foldStat(a, b any, wantMin bool) any {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return a
		}
		if (wantMin && bv < av) || (!wantMin && bv > av) {
			return bv
		}
		return av
	case string:
		bv, ok := b.(string)
		if !ok {
			return a
		}
		if (wantMin && bv < av) || (!wantMin && bv > av) {
			return bv
		}
		return av
	default:
		return a
	}
}
