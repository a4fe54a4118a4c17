package threads

import "strings"

// ResolveKey finds the stored key that refers to the same logical thread as
// requested. The editing engine suffixes marker names ("base:suffix") while
// hosts may persist either form. An exact match wins; otherwise keys are
// scanned once in order and the first key that
//
//   - extends requested,
//   - is extended by requested, or
//   - shares its base (text before the first ':')
//
// is returned. An empty id never matches.
func ResolveKey(keys []string, requested string) (string, bool) {
	if requested == "" {
		return "", false
	}
	for _, key := range keys {
		if key == requested {
			return key, true
		}
	}
	base := BaseID(requested)
	for _, key := range keys {
		if key == "" {
			continue
		}
		if strings.HasPrefix(key, requested) || strings.HasPrefix(requested, key) || BaseID(key) == base {
			return key, true
		}
	}
	return "", false
}

// BaseID returns the part of id before its first ':'.
func BaseID(id string) string {
	if i := strings.IndexByte(id, ':'); i >= 0 {
		return id[:i]
	}
	return id
}
