package exiftool

// Merge combines two metadata bags without mutating either input. Keys from
// addition overwrite keys in base, except when both values are maps: those
// are unioned one level deep, addition winning on conflicts.
func Merge(base, addition map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(addition))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range addition {
		prev, ok := merged[k].(map[string]any)
		next, ok2 := v.(map[string]any)
		if ok && ok2 {
			nested := make(map[string]any, len(prev)+len(next))
			for nk, nv := range prev {
				nested[nk] = nv
			}
			for nk, nv := range next {
				nested[nk] = nv
			}
			merged[k] = nested
			continue
		}
		merged[k] = v
	}
	return merged
}
