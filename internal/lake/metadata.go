package lake

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"marketlake/internal/errs"
	"marketlake/internal/frame"
	"marketlake/internal/schema"
)

// Sidecar file names following the parquet dataset convention:
// _common_metadata at the dataset root carries the schema, _metadata in
// each partition directory carries per-file statistics.
const (
	commonMetadataName = "_common_metadata"
	dirMetadataName    = "_metadata"
)

// ColumnStats summarizes one column of one file. Min and Max hold a
// float64 for numeric columns and a string for text columns.
type ColumnStats struct {
	Min   any   `json:"min,omitempty"`
	Max   any   `json:"max,omitempty"`
	Nulls int64 `json:"nulls"`
}

// FileMeta describes one data file inside a partition directory.
type FileMeta struct {
	Path    string                 `json:"path"` // base name within the directory
	Rows    int64                  `json:"rows"`
	Bytes   int64                  `json:"bytes"`
	Columns map[string]ColumnStats `json:"columns,omitempty"`
}

type commonMetadata struct {
	Dataset   string         `json:"dataset"`
	Fields    []metadataItem `json:"fields"`
	WrittenAt time.Time      `json:"written_at"`
}

type metadataItem struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Nullable bool   `json:"nullable"`
}

type dirMetadata struct {
	Dataset   string     `json:"dataset"`
	Files     []FileMeta `json:"files"`
	WrittenAt time.Time  `json:"written_at"`
}

// computeStats builds per-column statistics from in-memory rows.
func computeStats(s schema.Schema, rows []frame.Row) map[string]ColumnStats {
	stats := make(map[string]ColumnStats, len(s.Fields))
	for _, f := range s.Fields {
		var cs ColumnStats
		switch f.Kind {
		case schema.Int64, schema.Float64:
			var minV, maxV float64
			seen := false
			for _, r := range rows {
				v, ok := frame.GetFloat(r, f.Name)
				if !ok {
					cs.Nulls++
					continue
				}
				if !seen || v < minV {
					minV = v
				}
				if !seen || v > maxV {
					maxV = v
				}
				seen = true
			}
			if seen {
				cs.Min, cs.Max = minV, maxV
			}
		case schema.String:
			var minV, maxV string
			seen := false
			for _, r := range rows {
				v, ok := frame.GetString(r, f.Name)
				if !ok {
					cs.Nulls++
					continue
				}
				if !seen || v < minV {
					minV = v
				}
				if !seen || v > maxV {
					maxV = v
				}
				seen = true
			}
			if seen {
				cs.Min, cs.Max = minV, maxV
			}
		case schema.Bool:
			for _, r := range rows {
				if frame.IsNull(r, f.Name) {
					cs.Nulls++
				}
			}
		}
		stats[f.Name] = cs
	}
	return stats
}

// writeCommonMetadata publishes the dataset schema sidecar at the
// dataset root. Last write wins; the schema is identical across writes
// of one dataset version.
func writeCommonMetadata(datasetDir string, s schema.Schema) error {
	meta := commonMetadata{
		Dataset:   s.Name,
		Fields:    make([]metadataItem, len(s.Fields)),
		WrittenAt: time.Now().UTC(),
	}
	for i, f := range s.Fields {
		meta.Fields[i] = metadataItem{Name: f.Name, Kind: f.Kind.String(), Nullable: f.Nullable}
	}
	return writeJSONSidecar(filepath.Join(datasetDir, commonMetadataName), meta)
}

// updateDirMetadata upserts one file entry into the partition
// directory's _metadata sidecar.
func updateDirMetadata(dir, dataset string, entry FileMeta) error {
	var meta dirMetadata
	raw, err := os.ReadFile(filepath.Join(dir, dirMetadataName))
	if err == nil {
		// Corrupt sidecars are rebuilt from scratch.
		_ = json.Unmarshal(raw, &meta)
	}

	meta.Dataset = dataset
	meta.WrittenAt = time.Now().UTC()
	replaced := false
	for i := range meta.Files {
		if meta.Files[i].Path == entry.Path {
			meta.Files[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		meta.Files = append(meta.Files, entry)
	}
	return writeJSONSidecar(filepath.Join(dir, dirMetadataName), meta)
}

// removeDirMetadataEntries drops entries for deleted files, used by the
// coalescer after it replaces small files.
func removeDirMetadataEntries(dir string, gone map[string]bool) error {
	path := filepath.Join(dir, dirMetadataName)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errs.E(errs.KindData, fmt.Errorf("read metadata sidecar: %w", err))
	}
	var meta dirMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil
	}
	kept := meta.Files[:0]
	for _, f := range meta.Files {
		if !gone[f.Path] {
			kept = append(kept, f)
		}
	}
	meta.Files = kept
	meta.WrittenAt = time.Now().UTC()
	return writeJSONSidecar(path, meta)
}

func writeJSONSidecar(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errs.E(errs.KindData, fmt.Errorf("encode metadata sidecar: %w", err))
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return errs.E(errs.KindData, fmt.Errorf("write metadata sidecar: %w", err))
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errs.E(errs.KindData, fmt.Errorf("publish metadata sidecar: %w", err))
	}
	return nil
}
