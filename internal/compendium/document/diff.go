package document

import "sort"

// ChangedFields compares two map values and returns the sorted top-level
// field names whose values differ structurally. Fields present on only one
// side count as changed. Non-map inputs are treated as empty maps.
func ChangedFields(old, new Value) []string {
	seen := map[string]struct{}{}
	for _, k := range old.Keys() {
		seen[k] = struct{}{}
	}
	for _, k := range new.Keys() {
		seen[k] = struct{}{}
	}

	var changed []string
	for k := range seen {
		ov, okOld := old.Field(k)
		nv, okNew := new.Field(k)
		if okOld != okNew || !Equal(ov, nv) {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}

// Restrict returns a map value containing only the named fields of v, in so
// far as they are present. Non-map inputs yield an empty map.
func Restrict(v Value, fields []string) Value {
	entries := make(map[string]Value, len(fields))
	for _, name := range fields {
		if fv, ok := v.Field(name); ok {
			entries[name] = fv.Clone()
		}
	}
	return Map(entries)
}
