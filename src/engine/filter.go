package engine

import (
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"contentd/src/errs"
)

// FilterInput describes everything BuildFilter needs to compile one
// request's filters into a match predicate.
type FilterInput struct {
	// Filters holds the leftover query keys after the reserved ones (page,
	// limit, sort, populate, ...) are consumed.
	Filters map[string]string

	// Searchable and AllFields come from the compiled model descriptor.
	Searchable []string
	AllFields  []string

	Keyword          string
	Language         string
	MaxKeywordLength int

	Types map[string]ConcreteType
}

// BuildFilter compiles the REST filter grammar into a bson predicate.
// Unknown keys that match no field and no prefix are ignored; malformed
// values for recognized keys are an InvalidFilterValue error; keywords
// beyond the length limit are a KeywordTooLong error, never truncated.
func BuildFilter(in FilterInput) (bson.M, error) {
	query := bson.M{}

	if in.Keyword != "" {
		if len(in.Keyword) > in.MaxKeywordLength {
			return nil, errs.New(errs.KeywordTooLong,
				"keyword too long, maximum length is %d characters", in.MaxKeywordLength)
		}
		var conditions []bson.M
		for _, field := range in.Searchable {
			if !in.Types[field].IsText() {
				continue
			}
			target := field
			if in.Language != "" && containsString(in.AllFields, field+"."+in.Language) {
				target = field + "." + in.Language
			}
			conditions = append(conditions, bson.M{
				target: bson.M{"$regex": in.Keyword, "$options": "i"},
			})
		}
		if len(conditions) > 0 {
			query["$or"] = conditions
		}
	}

	for key, value := range in.Filters {
		if err := applyFilterKey(query, key, value, in); err != nil {
			return nil, err
		}
	}

	return query, nil
}

// applyFilterKey tries the prefix matchers in their fixed priority order:
// before/after, between, min/max, more/less, then an exact field name, and
// contains last.
func applyFilterKey(query bson.M, key, value string, in FilterInput) error {
	switch {
	case strings.HasPrefix(key, "before") && len(key) > 6:
		return applyDateBound(query, lowerFirst(key[6:]), value, "$lt", in)

	case strings.HasPrefix(key, "after") && len(key) > 5:
		return applyDateBound(query, lowerFirst(key[5:]), value, "$gt", in)

	case strings.HasPrefix(key, "between") && len(key) > 7:
		return applyBetween(query, lowerFirst(key[7:]), value, in)

	case (strings.HasPrefix(key, "min") || strings.HasPrefix(key, "max")) && len(key) > 3:
		field := lowerFirst(key[3:])
		t, ok := in.Types[field]
		if !ok || !t.IsNumeric() {
			return nil
		}
		n, err := parseNumber(key, value)
		if err != nil {
			return err
		}
		op := "$gte"
		if strings.HasPrefix(key, "max") {
			op = "$lte"
		}
		mergeRange(query, field, op, n)
		return nil

	case (strings.HasPrefix(key, "more") || strings.HasPrefix(key, "less")) && len(key) > 4:
		field := lowerFirst(key[4:])
		if _, ok := in.Types[field]; !ok {
			return nil
		}
		n, err := parseNumber(key, value)
		if err != nil {
			return err
		}
		// Deliberately asymmetric, as shipped clients depend on it: "more"
		// compares the array length, "less" compares the literal value.
		if strings.HasPrefix(key, "more") {
			query[field] = bson.M{"$size": int64(n)}
		} else {
			query[field] = bson.M{"$lt": n}
		}
		return nil

	case fieldKnown(key, in):
		return applyExactKey(query, key, value, in)

	case strings.HasPrefix(key, "contains") && len(key) > 8:
		field := lowerFirst(key[8:])
		t, ok := in.Types[field]
		if !ok {
			return nil
		}
		if t.IsPatternTarget() {
			query[field] = bson.M{"$regex": value, "$options": "i"}
		}
		return nil
	}

	// Lenient grammar: keys matching nothing are dropped without error.
	return nil
}

func applyExactKey(query bson.M, key, value string, in FilterInput) error {
	switch in.Types[key].Kind {
	case KindBool:
		query[key] = value == "true"
	case KindString, KindSymbol, KindCode:
		query[key] = bson.M{"$regex": value, "$options": "i"}
	case KindNull:
		query[key] = bson.M{"$not": bson.M{"$exists": true}}
	case KindNumber, KindDecimal:
		n, err := parseNumber(key, value)
		if err != nil {
			return err
		}
		query[key] = n
	default:
		query[key] = value
	}
	return nil
}

func applyDateBound(query bson.M, field, value, op string, in FilterInput) error {
	if t, ok := in.Types[field]; ok && t.Kind != KindDate {
		return nil
	}
	date, err := parseCompactDate(field, value)
	if err != nil {
		return err
	}
	mergeRange(query, field, op, date)
	return nil
}

// applyBetween dispatches on the field type: date fields take a
// "ddmmyy-ddmmyy" token pair, numeric fields a "start,end" pair. Both
// ranges are inclusive.
func applyBetween(query bson.M, field, value string, in FilterInput) error {
	t, known := in.Types[field]

	if !known || t.Kind == KindDate {
		start, end, ok := strings.Cut(value, "-")
		if !ok {
			return errs.New(errs.InvalidFilterValue,
				"between%s: expected \"start-end\" date range, got %q", upperFirst(field), value)
		}
		from, err := parseCompactDate(field, start)
		if err != nil {
			return err
		}
		to, err := parseCompactDate(field, end)
		if err != nil {
			return err
		}
		mergeRange(query, field, "$gte", from)
		mergeRange(query, field, "$lte", to)
		return nil
	}

	if t.IsNumeric() {
		start, end, ok := strings.Cut(value, ",")
		if !ok {
			return errs.New(errs.InvalidFilterValue,
				"between%s: expected \"start,end\" numeric range, got %q", upperFirst(field), value)
		}
		from, err := parseNumber(field, start)
		if err != nil {
			return err
		}
		to, err := parseNumber(field, end)
		if err != nil {
			return err
		}
		mergeRange(query, field, "$gte", from)
		mergeRange(query, field, "$lte", to)
	}

	return nil
}

// mergeRange folds an operator into an existing range predicate on the same
// field instead of overwriting it, so min+max combine.
func mergeRange(query bson.M, field, op string, value any) {
	if existing, ok := query[field].(bson.M); ok {
		existing[op] = value
		return
	}
	query[field] = bson.M{op: value}
}

// parseCompactDate parses the fixed 6-digit ddmmyy token the public filter
// grammar uses for every date bound.
func parseCompactDate(field, token string) (time.Time, error) {
	token = strings.TrimSpace(token)
	if len(token) != 6 {
		return time.Time{}, errs.New(errs.InvalidFilterValue,
			"field %q: expected 6-digit ddmmyy date, got %q", field, token)
	}
	day, err1 := strconv.Atoi(token[0:2])
	month, err2 := strconv.Atoi(token[2:4])
	year, err3 := strconv.Atoi(token[4:6])
	if err1 != nil || err2 != nil || err3 != nil ||
		day < 1 || day > 31 || month < 1 || month > 12 {
		return time.Time{}, errs.New(errs.InvalidFilterValue,
			"field %q: malformed date token %q", field, token)
	}
	return time.Date(2000+year, time.Month(month), day, 0, 0, 0, 0, time.UTC), nil
}

func parseNumber(key, value string) (float64, error) {
	n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, errs.New(errs.InvalidFilterValue,
			"%s: expected a number, got %q", key, value)
	}
	return n, nil
}

func fieldKnown(key string, in FilterInput) bool {
	_, ok := in.Types[key]
	if ok {
		return true
	}
	return containsString(in.AllFields, key)
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
