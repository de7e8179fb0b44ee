package answer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeduplicate_DropsNearDuplicates(t *testing.T) {
	passages := []Passage{
		{ChunkID: "c1", Text: "the reactor produces forty megawatts under normal operation", Score: 0.9},
		{ChunkID: "c2", Text: "the reactor produces forty megawatts under normal operation today", Score: 0.8},
		{ChunkID: "c3", Text: "maintenance windows are scheduled every second tuesday", Score: 0.7},
	}

	kept := Deduplicate(passages)
	require.Len(t, kept, 2)
	// The higher-ranked duplicate survives.
	assert.Equal(t, "c1", kept[0].ChunkID)
	assert.Equal(t, "c3", kept[1].ChunkID)
}

func TestDeduplicate_KeepsDistinct(t *testing.T) {
	passages := []Passage{
		{ChunkID: "c1", Text: "pump pressure exceeded the alarm threshold"},
		{ChunkID: "c2", Text: "the cafeteria menu rotates weekly on mondays"},
	}
	assert.Equal(t, passages, Deduplicate(passages))
}

func TestDeduplicate_ShortInput(t *testing.T) {
	assert.Empty(t, Deduplicate(nil))
	one := []Passage{{ChunkID: "c1", Text: "solo"}}
	assert.Equal(t, one, Deduplicate(one))
}

func TestJaccard(t *testing.T) {
	a := tokenSet("alpha bravo charlie")
	b := tokenSet("alpha bravo delta")
	assert.InDelta(t, 0.5, jaccard(a, b), 1e-9)
	assert.InDelta(t, jaccard(a, b), jaccard(b, a), 1e-9)
	assert.Zero(t, jaccard(a, tokenSet("")))
}

func TestTokenSet_StripsPunctuationAndCase(t *testing.T) {
	set := tokenSet("Alpha, bravo! (charlie)")
	assert.Len(t, set, 3)
	_, ok := set["alpha"]
	assert.True(t, ok)
	_, ok = set["charlie"]
	assert.True(t, ok)
}
