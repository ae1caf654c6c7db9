package engine

import (
	"encoding/json"
	"net/url"
	"strconv"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"contentd/src/errs"
	"contentd/src/helpers"
)

// reservedKeys are the query parameters the read grammar consumes itself;
// everything else is a filter key.
var reservedKeys = map[string]bool{
	"page": true, "limit": true, "lastId": true, "keyword": true,
	"sort": true, "order": true, "language": true, "random": true,
	"populate": true, "exclude": true, "fields": true, "facet": true,
	"addFields": true, "variantFilters": true, "joins": true,
}

// ListQuery is one parsed read request.
type ListQuery struct {
	Page  int64
	Limit int64

	LastID *primitive.ObjectID
	Random bool
	Facet  bool

	Keyword  string
	Sort     string
	Order    string
	Language string

	Populate []PopulatePath
	Exclude  []string
	Joins    []JoinSpec
	Fields   []string

	AddFields bson.M

	Filters map[string]string
}

// ListDefaults carries the paging knobs from settings.
type ListDefaults struct {
	PageSize    int64
	MaxPageSize int64
}

// ParseListQuery decodes the wire grammar from raw query parameters. Unknown
// filter keys survive into Filters untouched; the filter compiler decides
// their fate.
func ParseListQuery(values url.Values, defaults ListDefaults) (*ListQuery, error) {
	q := &ListQuery{
		Page:    1,
		Limit:   defaults.PageSize,
		Order:   "asc",
		Filters: make(map[string]string),
	}

	if raw := values.Get("page"); raw != "" {
		page, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || page < 1 {
			return nil, errs.New(errs.InvalidFilterValue, "invalid page %q", raw)
		}
		q.Page = page
	}
	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || limit < 1 {
			return nil, errs.New(errs.InvalidFilterValue, "invalid limit %q", raw)
		}
		q.Limit = limit
	}
	if defaults.MaxPageSize > 0 && q.Limit > defaults.MaxPageSize {
		q.Limit = defaults.MaxPageSize
	}

	if raw := values.Get("lastId"); raw != "" {
		id, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			return nil, errs.New(errs.InvalidFilterValue, "invalid lastId format")
		}
		q.LastID = &id
	}

	q.Random = values.Get("random") == "true"
	q.Facet = values.Get("facet") == "true"
	q.Keyword = values.Get("keyword")
	q.Sort = values.Get("sort")
	if order := values.Get("order"); order != "" {
		q.Order = order
	}
	q.Language = values.Get("language")

	q.Populate = ParsePopulate(values.Get("populate"))
	q.Exclude = ParseExclude(values.Get("exclude"))

	joins, err := ParseJoins(values.Get("joins"))
	if err != nil {
		return nil, err
	}
	q.Joins = joins

	if raw := values.Get("fields"); raw != "" {
		q.Fields = ParseExclude(raw) // same comma-list shape
	}

	if raw := values.Get("addFields"); raw != "" {
		var computed bson.M
		if err := json.Unmarshal([]byte(raw), &computed); err == nil {
			q.AddFields = computed
		}
		// Invalid addFields JSON degrades to no computed fields.
	}

	if raw := values.Get("variantFilters"); raw != "" {
		var extra map[string]string
		if err := json.Unmarshal([]byte(raw), &extra); err == nil {
			for k, v := range extra {
				q.Filters[k] = helpers.StripQuotes(v)
			}
		}
	}

	// Clients wrap exact-match values in quotes often enough that the
	// grammar strips them before the filter compiler sees the value.
	for key := range values {
		if reservedKeys[key] {
			continue
		}
		q.Filters[key] = helpers.StripQuotes(values.Get(key))
	}

	return q, nil
}
