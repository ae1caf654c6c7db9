package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"contentd/src/errs"
	"contentd/src/schema"
)

func orderFields() []schema.FieldDefinition {
	return []schema.FieldDefinition{
		{Name: "reference", Type: "string"},
		{Name: "customer", Type: "relation", Relation: &schema.RelationDef{Ref: "customers"}},
		{Name: "lines", Type: "array", Fields: []schema.FieldDefinition{
			{Name: "product", Type: "relation", Relation: &schema.RelationDef{Ref: "products"}},
			{Name: "qty", Type: "number"},
		}},
	}
}

func stageKeys(stages []bson.D) []string {
	keys := make([]string, len(stages))
	for i, stage := range stages {
		keys[i] = stage[0].Key
	}
	return keys
}

func TestParsePopulate(t *testing.T) {
	paths := ParsePopulate("customer, lines.product:title|price ,")

	require.Len(t, paths, 2)
	assert.Equal(t, PopulatePath{Path: "customer"}, paths[0])
	assert.Equal(t, PopulatePath{Path: "lines.product", Select: []string{"title", "price"}}, paths[1])

	assert.Nil(t, ParsePopulate("  "))
}

func TestParseJoins(t *testing.T) {
	joins, err := ParseJoins("reviews:productId,stats:sku=skuCode")
	require.NoError(t, err)
	require.Len(t, joins, 2)

	assert.Equal(t, JoinSpec{From: "reviews", LocalField: "productId", ForeignField: "_id"}, joins[0])
	assert.Equal(t, JoinSpec{From: "stats", LocalField: "sku", ForeignField: "skuCode"}, joins[1])

	_, err = ParseJoins("nocolon")
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.InvalidFilterValue))
}

func TestAutoProjection(t *testing.T) {
	fields := AutoProjection([]PopulatePath{
		{Path: "customer", Select: []string{"name", "email"}},
		{Path: "lines.product"},
	})
	assert.Equal(t, []string{"customer.name", "customer.email"}, fields)
}

func TestBuildPipelineStageOrder(t *testing.T) {
	stages, err := BuildPipeline(PipelineRequest{
		Match:          bson.M{"reference": "A-1"},
		Populate:       []PopulatePath{{Path: "lines.product"}},
		Joins:          []JoinSpec{{From: "reviews", LocalField: "_id", ForeignField: "orderId"}},
		ComputedFields: bson.M{"lineCount": bson.M{"$size": "$lines"}},
		Projection:     []string{"reference", "lines"},
		Sort:           bson.D{{Key: "reference", Value: 1}},
		Page:           2,
		Limit:          10,
	}, orderFields())
	require.NoError(t, err)

	// match, unwind lines, lookup+merge+unset for the relation, one regroup,
	// join lookup, computed fields, projection, then sort and paging.
	assert.Equal(t, []string{
		"$match", "$unwind", "$lookup", "$addFields", "$unset",
		"$group", "$lookup", "$addFields", "$project",
		"$sort", "$skip", "$limit",
	}, stageKeys(stages))

	skip := stages[10][0].Value
	assert.Equal(t, int64(10), skip)
}

func TestBuildPipelineRegroupRunsOncePushingUnwoundFields(t *testing.T) {
	stages, err := BuildPipeline(PipelineRequest{
		Match:    bson.M{},
		Populate: []PopulatePath{{Path: "lines.product"}},
		Limit:    10,
	}, orderFields())
	require.NoError(t, err)

	var groups []bson.M
	for _, stage := range stages {
		if stage[0].Key == "$group" {
			groups = append(groups, stage[0].Value.(bson.M))
		}
	}
	require.Len(t, groups, 1)

	group := groups[0]
	assert.Equal(t, "$_id", group["_id"])
	assert.Equal(t, bson.M{"$push": "$lines"}, group["lines"])
	assert.Equal(t, bson.M{"$first": "$reference"}, group["reference"])
	assert.Equal(t, bson.M{"$first": "$customer"}, group["customer"])
}

func TestBuildPipelineNoRegroupWithoutUnwind(t *testing.T) {
	stages, err := BuildPipeline(PipelineRequest{
		Match:    bson.M{},
		Populate: []PopulatePath{{Path: "customer"}},
		Limit:    10,
	}, orderFields())
	require.NoError(t, err)

	assert.NotContains(t, stageKeys(stages), "$group")
}

// A missed lookup must keep the original identifier in place instead of
// nulling the field out.
func TestBuildPipelineLookupPreservesIdentifierOnMiss(t *testing.T) {
	stages, err := BuildPipeline(PipelineRequest{
		Match:    bson.M{},
		Populate: []PopulatePath{{Path: "customer"}},
		Limit:    10,
	}, orderFields())
	require.NoError(t, err)

	var merge bson.M
	for _, stage := range stages {
		if stage[0].Key == "$addFields" {
			merge = stage[0].Value.(bson.M)
			break
		}
	}
	require.NotNil(t, merge)

	cond := merge["customer"].(bson.M)["$cond"].(bson.M)
	assert.Equal(t, bson.M{"_id": "$customer"}, cond["else"])

	then := cond["then"].(bson.M)["$mergeObjects"].(bson.A)
	assert.Equal(t, bson.M{"_id": "$customer"}, then[0])
}

func TestBuildPipelineWildcardSkipsExcluded(t *testing.T) {
	stages, err := BuildPipeline(PipelineRequest{
		Match:    bson.M{},
		Populate: []PopulatePath{{Path: "all"}},
		Exclude:  []string{"customer"},
		Limit:    10,
	}, orderFields())
	require.NoError(t, err)

	for _, stage := range stages {
		if stage[0].Key != "$lookup" {
			continue
		}
		lookup := stage[0].Value.(bson.M)
		assert.NotEqual(t, "customers", lookup["from"])
	}
}

func TestBuildPipelinePaginationModesExclusive(t *testing.T) {
	lastID := primitive.NewObjectID()

	// Cursor mode folds the id bound into the match and never skips.
	stages, err := BuildPipeline(PipelineRequest{
		Match:  bson.M{},
		LastID: &lastID,
		Page:   5,
		Limit:  10,
	}, orderFields())
	require.NoError(t, err)

	match := stages[0][0].Value.(bson.M)
	assert.Equal(t, bson.M{"$lt": lastID}, match["_id"])
	assert.NotContains(t, stageKeys(stages), "$skip")

	// Random mode samples and neither sorts nor skips.
	stages, err = BuildPipeline(PipelineRequest{
		Match:  bson.M{},
		Random: true,
		Sort:   bson.D{{Key: "reference", Value: 1}},
		Page:   3,
		Limit:  7,
	}, orderFields())
	require.NoError(t, err)

	keys := stageKeys(stages)
	assert.Contains(t, keys, "$sample")
	assert.NotContains(t, keys, "$sort")
	assert.NotContains(t, keys, "$skip")
	assert.NotContains(t, keys, "$limit")
}

func TestBuildFacetPipelineCountsFromBareMatch(t *testing.T) {
	match := bson.M{"reference": "A-1"}
	items := []bson.D{{{Key: "$match", Value: match}}}

	facet := BuildFacetPipeline(items, match)
	require.Len(t, facet, 1)

	value := facet[0][0].Value.(bson.M)
	total := value["total"].([]bson.D)
	require.Len(t, total, 2)
	assert.Equal(t, "$match", total[0][0].Key)
	assert.Equal(t, "$count", total[1][0].Key)
	assert.Equal(t, items, value["items"])
}
