package enrichd

// Merge reconciles a batch of incoming update records against the records
// already stored in the search index. The stored record is authoritative: an
// incoming field is applied only where the stored record has no value for
// that field, or stores an explicit null. Zero values ("", 0, false) are
// values, not gaps; only null and absence count as missing, so a truthiness
// test here would be a correctness bug.
//
// Records whose identifier has no stored counterpart pass through unchanged.
// The output preserves batch order, and neither batch nor existing is
// mutated; merged records are fresh maps.
//
// A batch may carry the same identifier more than once. Occurrences are not
// deduplicated: each is merged independently against the stored record, and
// the index applies them in batch order, so for a field the stored record is
// missing, the last occurrence's value wins.
func Merge(batch []map[string]interface{}, existing map[string]map[string]interface{}) []map[string]interface{} {
	if len(batch) == 0 {
		return nil
	}

	merged := make([]map[string]interface{}, 0, len(batch))
	for _, rec := range batch {
		id, _ := rec[IDField].(string)
		stored, ok := existing[id]
		if !ok {
			// New to the index; nothing to reconcile against.
			merged = append(merged, rec)
			continue
		}

		out := make(map[string]interface{}, len(stored)+len(rec))
		for k, v := range stored {
			out[k] = v
		}
		for k, v := range rec {
			if cur, ok := out[k]; !ok || cur == nil {
				out[k] = v
			}
		}
		merged = append(merged, out)
	}

	return merged
}

// BatchIDs returns the distinct identifiers in batch, in first-seen order.
// Records without a valid identifier contribute nothing.
func BatchIDs(batch []map[string]interface{}) []string {
	seen := make(map[string]struct{}, len(batch))
	ids := make([]string, 0, len(batch))
	for _, rec := range batch {
		id, ok := rec[IDField].(string)
		if !ok || id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
