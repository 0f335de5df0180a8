package index

import (
	"encoding/json"
	"slices"
)

// DecodeList parses a stored value. nil decodes to an empty list. The
// result is normalised to sorted, deduplicated order.
func DecodeList(raw []byte) ([]string, error) {
	if raw == nil {
		return []string{}, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	if list == nil {
		return []string{}, nil
	}
	slices.Sort(list)
	return slices.Compact(list), nil
}

// EncodeList serialises a list as a JSON array.
func EncodeList(list []string) ([]byte, error) {
	if list == nil {
		list = []string{}
	}
	return json.Marshal(list)
}

// Insert adds item to a sorted, deduplicated list, keeping it so.
func Insert(list []string, item string) []string {
	i, found := slices.BinarySearch(list, item)
	if found {
		return list
	}
	return slices.Insert(list, i, item)
}

// Union merges two sorted, deduplicated lists.
func Union(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	slices.Sort(out)
	return slices.Compact(out)
}
