// Package dedup combines per-source frames covering the same
// instruments into one frame, preferring a configured source.
package dedup

import (
	"strings"

	"marketlake/internal/errs"
	"marketlake/internal/frame"
)

// Deduplicate merges the frames in bySource by business key. The
// preference list names sources from most to least trusted. Every row
// of the most-preferred present source is kept; rows from lower
// preference sources are appended only when their key value has not
// been seen yet. Rows with a null key carry no identity to collide on
// and are always appended.
//
// A source listed in preference but absent from bySource is skipped,
// so the caller can feed in whatever its fetches produced. When only
// one frame is present it is returned unchanged. When none are, the
// merge has nothing to stand on and fails.
func Deduplicate(bySource map[string]*frame.Frame, preference []string, key string) (*frame.Frame, error) {
	if key == "" {
		return nil, errs.Errorf(errs.KindValidation, "dedup: empty key column")
	}
	for name := range bySource {
		if !contains(preference, name) {
			return nil, errs.Errorf(errs.KindValidation,
				"dedup: source %q not in preference order %s", name, strings.Join(preference, ","))
		}
	}

	var present []*frame.Frame
	for _, name := range preference {
		if f := bySource[name]; f != nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil, errs.Errorf(errs.KindData, "dedup: no input frames")
	}
	if len(present) == 1 {
		return present[0], nil
	}

	base := present[0]
	if !base.Schema.Has(key) {
		return nil, errs.Errorf(errs.KindValidation,
			"dedup: key column %q not in schema %s", key, base.Schema.Name)
	}
	for _, f := range present[1:] {
		if !f.Schema.Equal(base.Schema) {
			return nil, errs.Errorf(errs.KindSchemaDrift,
				"dedup: schema %s does not match %s", f.Schema.Name, base.Schema.Name)
		}
	}

	out := frame.New(base.Schema)
	out.Rows = make([]frame.Row, 0, base.Len())
	seen := make(map[any]bool, base.Len())

	for _, r := range base.Rows {
		out.Append(r)
		if v := r[key]; v != nil {
			seen[v] = true
		}
	}
	for _, f := range present[1:] {
		for _, r := range f.Rows {
			v := r[key]
			if v != nil && seen[v] {
				continue
			}
			out.Append(r)
			if v != nil {
				seen[v] = true
			}
		}
	}
	return out, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
