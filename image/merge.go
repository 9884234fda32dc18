package image

import (
	"slices"
	"time"
)

// Merge combines locally known records with remote records into one
// deduplicated list ordered by CreatedAt, newest first.
//
// Local records always win: a remote record is dropped when any of its
// identifiers was already seen. Local records that repeat an earlier local
// identifier are dropped too. Local records with no identifier are kept,
// remote ones are dropped since they cannot be deduplicated.
//
// Records with unparsable timestamps sort after all dated records and keep
// their relative order.
func Merge(local, remote []Record) []Record {
	result := make([]Record, 0, len(local)+len(remote))
	seen := make(map[string]struct{}, 2*(len(local)+len(remote)))

	anySeen := func(ids []string) bool {
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				return true
			}
		}
		return false
	}
	mark := func(ids []string) {
		for _, id := range ids {
			seen[id] = struct{}{}
		}
	}

	for _, r := range local {
		ids := r.Identifiers()
		if len(ids) > 0 && anySeen(ids) {
			continue
		}
		mark(ids)
		result = append(result, r.Clone())
	}

	for _, r := range remote {
		if r.DedupKey() == "" {
			continue
		}
		ids := r.Identifiers()
		if anySeen(ids) {
			continue
		}
		mark(ids)
		result = append(result, r.Clone())
	}

	SortNewestFirst(result)
	return result
}

// SortNewestFirst stable-sorts records by CreatedAt descending.
func SortNewestFirst(records []Record) {
	type keyed struct {
		rec Record
		t   time.Time
		ok  bool
	}
	keys := make([]keyed, len(records))
	for i, r := range records {
		t, ok := r.Created()
		keys[i] = keyed{rec: r, t: t, ok: ok}
	}

	slices.SortStableFunc(keys, func(a, b keyed) int {
		switch {
		case a.ok != b.ok:
			if a.ok {
				return -1
			}
			return 1
		case !a.ok:
			return 0
		}
		return b.t.Compare(a.t)
	})

	for i, k := range keys {
		records[i] = k.rec
	}
}

// ContainsKey reports whether any record shares an identifier with key.
func ContainsKey(records []Record, key string) bool {
	if key == "" {
		return false
	}
	for _, r := range records {
		for _, id := range r.Identifiers() {
			if id == key {
				return true
			}
		}
	}
	return false
}
