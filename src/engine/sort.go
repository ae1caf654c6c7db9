package engine

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// BuildSort parses a comma-separated sort list ("price,-createdAt") into an
// ordered sort document. A leading "-" forces descending; otherwise the
// default order applies. Fields outside the sortable whitelist are dropped,
// not rejected; an empty whitelist allows everything.
func BuildSort(sort, defaultOrder string, sortable []string) bson.D {
	if sort == "" {
		return nil
	}

	defaultDir := 1
	if strings.EqualFold(defaultOrder, "desc") {
		defaultDir = -1
	}

	var spec bson.D
	for _, raw := range strings.Split(sort, ",") {
		field := strings.TrimSpace(raw)
		if field == "" {
			continue
		}
		dir := defaultDir
		if strings.HasPrefix(field, "-") {
			field = field[1:]
			dir = -1
		}
		if len(sortable) > 0 && !containsString(sortable, field) {
			continue
		}
		spec = append(spec, bson.E{Key: field, Value: dir})
	}
	return spec
}
