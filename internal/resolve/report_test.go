package resolve

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/address-mapper/pkg/geocode"
)

func mixedOutcomes() []Outcome {
	table := addressTable("a", "", "b", "c", "d")
	results := []geocode.Result{
		geocode.Resolved(bakerStreet),
		geocode.Unresolved(geocode.ReasonInvalidAddress),
		geocode.Unresolved(geocode.ReasonNotFound),
		geocode.Resolved(geocode.Coordinate{Lat: 1, Lon: 2}),
		geocode.Unresolved(geocode.ReasonRetriesExhausted),
	}
	out := make([]Outcome, len(results))
	for i, r := range results {
		key, _ := geocode.Normalize(table.Rows[i]["address"])
		out[i] = newOutcome(i, table.Rows[i], key, r)
	}
	return out
}

func TestPartition_SplitsAndKeepsOrder(t *testing.T) {
	resolved, unresolved := Partition(mixedOutcomes())

	require.Len(t, resolved, 2)
	assert.Equal(t, 0, resolved[0].Index)
	assert.Equal(t, 3, resolved[1].Index)

	require.Len(t, unresolved, 3)
	assert.Equal(t, 1, unresolved[0].Index)
	assert.Equal(t, 2, unresolved[1].Index)
	assert.Equal(t, 4, unresolved[2].Index)
}

func TestPartition_RecombineReconstructsInput(t *testing.T) {
	in := mixedOutcomes()
	resolved, unresolved := Partition(in)

	all := append(append([]Outcome{}, resolved...), unresolved...)
	sort.Slice(all, func(i, j int) bool { return all[i].Index < all[j].Index })
	assert.Equal(t, in, all)
}

func TestPartition_Empty(t *testing.T) {
	resolved, unresolved := Partition(nil)
	assert.Empty(t, resolved)
	assert.Empty(t, unresolved)
}

func TestSummarize(t *testing.T) {
	s := Summarize(mixedOutcomes())
	assert.Equal(t, Summary{Total: 5, Resolved: 2, Unresolved: 3}, s)
}
