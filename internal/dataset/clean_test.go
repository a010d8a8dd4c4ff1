package dataset

import (
	"testing"

	apperrors "github.com/Aidin1998/analytics/common/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cleanFixture() *Frame {
	return FromRecords([]map[string]interface{}{
		{"id": 1.0, "v": 10.0, "tag": "a"},
		{"id": 1.0, "v": 10.0, "tag": "a"},
		{"id": 2.0, "v": nil, "tag": "b"},
		{"id": 3.0, "v": 12.0, "tag": nil},
		{"id": 4.0, "v": 14.0, "tag": "a"},
	})
}

func TestClean_Defaults(t *testing.T) {
	in := cleanFixture()
	out, res, err := Clean(in, CleanOptions{})
	require.NoError(t, err)

	assert.Equal(t, 5, res.OriginalRows)
	assert.Equal(t, 1, res.DuplicatesRemoved)
	assert.Equal(t, 2, res.MissingValuesHandled)
	assert.Equal(t, 2, res.CleanedRows)
	assert.Equal(t, 2, out.Len())
	assert.Equal(t, "drop", res.CleaningSummary.MissingValueStrategy)
	assert.True(t, res.CleaningSummary.RemoveDuplicates)
	assert.Equal(t, 5, in.Len(), "input must not change")
}

func TestClean_FillStrategies(t *testing.T) {
	keep := false
	tests := []struct {
		strategy string
		want     interface{}
	}{
		{MissingMean, 11.5},
		{MissingMedian, 11.0},
		{MissingZero, 0.0},
		{MissingMode, 10.0},
		{MissingFfill, 10.0},
	}
	for _, tt := range tests {
		t.Run(tt.strategy, func(t *testing.T) {
			out, _, err := Clean(cleanFixture(), CleanOptions{RemoveDuplicates: &keep, HandleMissing: tt.strategy})
			require.NoError(t, err)
			v, _ := out.Column("v")
			assert.Equal(t, tt.want, v.Values[2])
		})
	}
}

func TestClean_ModeFillsText(t *testing.T) {
	keep := false
	out, res, err := Clean(cleanFixture(), CleanOptions{RemoveDuplicates: &keep, HandleMissing: MissingMode})
	require.NoError(t, err)
	tag, _ := out.Column("tag")
	assert.Equal(t, "a", tag.Values[3])
	assert.Equal(t, 2, res.MissingValuesHandled)
}

func TestClean_Outliers(t *testing.T) {
	records := make([]map[string]interface{}, 0, 11)
	for i := 0; i < 10; i++ {
		records = append(records, map[string]interface{}{"x": float64(10 + i%3)})
	}
	records = append(records, map[string]interface{}{"x": 500.0})
	out, res, err := Clean(FromRecords(records), CleanOptions{RemoveOutliers: true, HandleMissing: MissingNone, RemoveDuplicates: new(bool)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.OutliersRemoved)
	assert.Equal(t, 10, out.Len())
}

func TestClean_UnknownStrategy(t *testing.T) {
	_, _, err := Clean(cleanFixture(), CleanOptions{HandleMissing: "guess"})
	assert.Equal(t, apperrors.Invalid, apperrors.KindOf(err))
}
