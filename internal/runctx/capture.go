package runctx

import (
	"regexp"
	"strconv"
	"strings"
)

// pathSegment matches "name" or "name[0]" (one or more trailing indices).
var pathSegment = regexp.MustCompile(`^([^\[\]]*)((?:\[\d+\])*)$`)

var indexPart = regexp.MustCompile(`\[(\d+)\]`)

// extractPath resolves a dotted path with optional array indices
// ("data.items[0].id") against a decoded JSON value. The second return is
// false when any segment does not resolve.
func extractPath(body interface{}, path string) (interface{}, bool) {
	current := body
	for _, seg := range strings.Split(path, ".") {
		m := pathSegment.FindStringSubmatch(seg)
		if m == nil {
			return nil, false
		}
		key, indices := m[1], m[2]
		if key != "" {
			obj, ok := current.(map[string]interface{})
			if !ok {
				return nil, false
			}
			current, ok = obj[key]
			if !ok {
				return nil, false
			}
		}
		for _, im := range indexPart.FindAllStringSubmatch(indices, -1) {
			arr, ok := current.([]interface{})
			if !ok {
				return nil, false
			}
			idx, err := strconv.Atoi(im[1])
			if err != nil || idx < 0 || idx >= len(arr) {
				return nil, false
			}
			current = arr[idx]
		}
	}
	return current, true
}
