package engine

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"contentd/src/errs"
)

var testDefaults = ListDefaults{PageSize: 24, MaxPageSize: 500}

func TestParseListQueryDefaults(t *testing.T) {
	q, err := ParseListQuery(url.Values{}, testDefaults)
	require.NoError(t, err)

	assert.Equal(t, int64(1), q.Page)
	assert.Equal(t, int64(24), q.Limit)
	assert.Equal(t, "asc", q.Order)
	assert.Empty(t, q.Filters)
}

func TestParseListQueryRejectsBadPaging(t *testing.T) {
	for _, values := range []url.Values{
		{"page": {"0"}},
		{"page": {"abc"}},
		{"limit": {"-1"}},
		{"limit": {"x"}},
	} {
		_, err := ParseListQuery(values, testDefaults)
		require.Error(t, err, "values %v", values)
		assert.True(t, errs.IsCode(err, errs.InvalidFilterValue))
	}
}

func TestParseListQueryCapsLimit(t *testing.T) {
	q, err := ParseListQuery(url.Values{"limit": {"9999"}}, testDefaults)
	require.NoError(t, err)
	assert.Equal(t, int64(500), q.Limit)
}

func TestParseListQueryLastID(t *testing.T) {
	id := primitive.NewObjectID()
	q, err := ParseListQuery(url.Values{"lastId": {id.Hex()}}, testDefaults)
	require.NoError(t, err)
	require.NotNil(t, q.LastID)
	assert.Equal(t, id, *q.LastID)

	_, err = ParseListQuery(url.Values{"lastId": {"garbage"}}, testDefaults)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.InvalidFilterValue))
}

func TestParseListQueryReservedKeysSeparatedFromFilters(t *testing.T) {
	q, err := ParseListQuery(url.Values{
		"page":     {"2"},
		"keyword":  {"lamp"},
		"sort":     {"-price"},
		"populate": {"vendor"},
		"minPrice": {"10"},
		"active":   {"true"},
	}, testDefaults)
	require.NoError(t, err)

	assert.Equal(t, "lamp", q.Keyword)
	assert.Equal(t, "-price", q.Sort)
	require.Len(t, q.Populate, 1)

	assert.Equal(t, map[string]string{"minPrice": "10", "active": "true"}, q.Filters)
}

func TestParseListQueryAddFieldsDegradesSilently(t *testing.T) {
	q, err := ParseListQuery(url.Values{
		"addFields": {`{"total": {"$sum": "$lines.qty"}}`},
	}, testDefaults)
	require.NoError(t, err)
	assert.Equal(t, bson.M{"total": map[string]any{"$sum": "$lines.qty"}}, q.AddFields)

	q, err = ParseListQuery(url.Values{"addFields": {"{not json"}}, testDefaults)
	require.NoError(t, err)
	assert.Nil(t, q.AddFields)
}

func TestParseListQueryVariantFiltersMerge(t *testing.T) {
	q, err := ParseListQuery(url.Values{
		"variantFilters": {`{"species": "cat"}`},
		"minPrice":       {"5"},
	}, testDefaults)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"species": "cat", "minPrice": "5"}, q.Filters)
}

func TestParseListQueryStripsQuotedFilterValues(t *testing.T) {
	q, err := ParseListQuery(url.Values{
		"title":          {`"chair"`},
		"sku":            {"'AB-1'"},
		"variantFilters": {`{"species": "'cat'"}`},
	}, testDefaults)
	require.NoError(t, err)

	assert.Equal(t, "chair", q.Filters["title"])
	assert.Equal(t, "AB-1", q.Filters["sku"])
	assert.Equal(t, "cat", q.Filters["species"])
}

func TestParseListQueryFlags(t *testing.T) {
	q, err := ParseListQuery(url.Values{
		"random": {"true"},
		"facet":  {"true"},
	}, testDefaults)
	require.NoError(t, err)
	assert.True(t, q.Random)
	assert.True(t, q.Facet)
}
