package cli

import (
	"strconv"
	"strings"
	"unicode"
)

// ParseIDs collects link IDs from flag values that may hold comma or space
// separated lists. Tokens that are not positive integers are skipped, and
// repeated IDs are kept once in first-seen order.
func ParseIDs(values []string) []int64 {
	seen := make(map[int64]bool)
	var ids []int64
	for _, v := range values {
		fields := strings.FieldsFunc(v, func(r rune) bool {
			return r == ',' || r == ';' || unicode.IsSpace(r)
		})
		for _, f := range fields {
			id, err := strconv.ParseInt(f, 10, 64)
			if err != nil || id <= 0 || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}
