package updates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/ftindex/model"
)

func TestBuffered_AddTermKeepsLargerBound(t *testing.T) {
	b := NewBuffered()
	x := model.NewTerm("id", "x")

	b.AddTerm(x, 5)
	bytes := b.BytesUsed()
	assert.Positive(t, bytes)

	b.AddTerm(x, 3)
	limit, ok := b.TermLimit(x)
	require.True(t, ok)
	assert.Equal(t, 5, limit)
	assert.Equal(t, int64(1), b.NumTermDeletes(), "ignored lower bound is not counted")

	b.AddTerm(x, 9)
	limit, _ = b.TermLimit(x)
	assert.Equal(t, 9, limit)
	assert.Equal(t, int64(2), b.NumTermDeletes())
	assert.Equal(t, bytes, b.BytesUsed(), "replacement does not grow RAM")
	assert.Equal(t, 1, b.NumTerms())
}

func TestBuffered_Queries(t *testing.T) {
	b := NewBuffered()
	q := model.TermQuery{Term: model.NewTerm("tag", "a")}

	b.AddQuery(q, 2)
	b.AddQuery(q, 1) // later query with the same key replaces
	limit, ok := b.QueryLimit(q.Key())
	require.True(t, ok)
	assert.Equal(t, 1, limit)
	assert.Equal(t, 1, b.NumQueries())
}

func TestBuffered_DocValuesUpdates(t *testing.T) {
	b := NewBuffered()
	term := model.NewTerm("id", "1")

	b.AddNumericUpdate(model.NumericUpdate{Term: term, Field: "n", Value: 1}, 4)
	b.AddNumericUpdate(model.NumericUpdate{Term: term, Field: "n", Value: 2}, 2) // lower bound ignored
	b.AddNumericUpdate(model.NumericUpdate{Term: term, Field: "n", Value: 3}, 6)
	assert.Equal(t, int64(2), b.NumNumericUpdates())

	b.AddBinaryUpdate(model.BinaryUpdate{Term: term, Field: "b", Value: []byte("v")}, 1)
	assert.Equal(t, int64(1), b.NumBinaryUpdates())

	f := Freeze(b, false)
	require.Len(t, f.NumericUpdates(), 1)
	assert.Equal(t, int64(3), f.NumericUpdates()[0].Update.Value)
	assert.Equal(t, 6, f.NumericUpdates()[0].Limit)
	require.Len(t, f.BinaryUpdates(), 1)
}

func TestBuffered_DocIDs(t *testing.T) {
	b := NewBuffered()
	b.AddDocID(3)
	b.AddDocID(3)
	b.AddDocID(7)
	assert.Equal(t, uint64(2), b.DeletedDocIDs().GetCardinality())
	assert.Equal(t, int64(2*bytesPerDelDocID), b.BytesUsed())
	assert.True(t, b.Any())

	b.ClearDocIDs()
	assert.Zero(t, b.BytesUsed())
	assert.False(t, b.Any())
}

func TestBuffered_Clear(t *testing.T) {
	b := NewBuffered()
	assert.False(t, b.Any())

	b.AddTerm(model.NewTerm("id", "1"), 1)
	b.AddQuery(model.TermQuery{Term: model.NewTerm("tag", "a")}, 1)
	b.AddDocID(0)
	assert.True(t, b.Any())

	b.ClearTerms()
	assert.Zero(t, b.NumTerms())
	assert.Zero(t, b.NumTermDeletes())
	assert.True(t, b.Any())

	b.Clear()
	assert.False(t, b.Any())
	assert.Zero(t, b.BytesUsed())
	assert.Zero(t, b.NumQueries())
}
