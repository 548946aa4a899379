package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/vitals/internal/model"
)

func TestPageQuery_Normalize(t *testing.T) {
	q := model.PageQuery{}.Normalize()
	assert.Equal(t, model.DefaultPageLimit, q.Limit)
	assert.Equal(t, 0, q.Offset)
	assert.Equal(t, model.SortPageLoads, q.SortBy)
	assert.Equal(t, model.SortDesc, q.SortOrder)
	assert.Equal(t, model.DeviceDesktop, q.Device)

	q = model.PageQuery{Limit: 1000, Offset: -5, Search: "  chat "}.Normalize()
	assert.Equal(t, model.MaxPageLimit, q.Limit)
	assert.Equal(t, 0, q.Offset)
	assert.Equal(t, "chat", q.Search)
}

func TestParseSortField(t *testing.T) {
	f, err := model.ParseSortField("")
	require.NoError(t, err)
	assert.Equal(t, model.SortPageLoads, f)

	f, err = model.ParseSortField("PerformanceScore")
	require.NoError(t, err)
	assert.Equal(t, model.SortPerformanceScore, f)

	m, ok := model.SortLCP.Metric()
	assert.True(t, ok)
	assert.Equal(t, model.MetricLCP, m)
	_, ok = model.SortOpportunity.Metric()
	assert.False(t, ok)

	_, err = model.ParseSortField("bogus")
	assert.Error(t, err)
}

func TestParseSortOrder(t *testing.T) {
	o, err := model.ParseSortOrder("")
	require.NoError(t, err)
	assert.Equal(t, model.SortDesc, o)

	o, err = model.ParseSortOrder("ASC")
	require.NoError(t, err)
	assert.Equal(t, model.SortAsc, o)

	_, err = model.ParseSortOrder("up")
	assert.Error(t, err)
}
