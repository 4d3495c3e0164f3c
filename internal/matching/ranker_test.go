package matching

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func entryWithPriority(score float64) WaitlistEntry {
	return WaitlistEntry{
		ID:            uuid.New(),
		WaitlistID:    uuid.New(),
		PatientID:     uuid.New(),
		PriorityScore: score,
		Status:        EntryActive,
	}
}

func TestRankEntry_HigherScoreRanksEarlier(t *testing.T) {
	active := []WaitlistEntry{
		entryWithPriority(0.9),
		entryWithPriority(0.7),
		entryWithPriority(0.4),
		entryWithPriority(0.1),
	}

	for i, e := range active {
		pos := rankEntry(&active[i], active)
		assert.Equal(t, i+1, pos.Position, "entry with score %v", e.PriorityScore)
		assert.Equal(t, 4, pos.Total)
		assert.Equal(t, e.PriorityScore, pos.PriorityScore)
	}
}

func TestRankEntry_EqualScoresSharePosition(t *testing.T) {
	active := []WaitlistEntry{
		entryWithPriority(0.9),
		entryWithPriority(0.5),
		entryWithPriority(0.5),
		entryWithPriority(0.2),
	}

	// Both 0.5 entries have exactly one entry strictly above them.
	assert.Equal(t, 2, rankEntry(&active[1], active).Position)
	assert.Equal(t, 2, rankEntry(&active[2], active).Position)
	// The 0.2 entry counts all three above it, not a tie-broken rank.
	assert.Equal(t, 4, rankEntry(&active[3], active).Position)
}

func TestRankEntry_SingleEntry(t *testing.T) {
	e := entryWithPriority(0.3)
	pos := rankEntry(&e, []WaitlistEntry{e})
	assert.Equal(t, 1, pos.Position)
	assert.Equal(t, 1, pos.Total)
}

func TestRankEntry_PositionMonotoneInScore(t *testing.T) {
	active := []WaitlistEntry{
		entryWithPriority(0.95),
		entryWithPriority(0.8),
		entryWithPriority(0.8),
		entryWithPriority(0.6),
		entryWithPriority(0.3),
		entryWithPriority(0.05),
	}

	prevPos := 0
	prevScore := 2.0
	for i := range active {
		pos := rankEntry(&active[i], active)
		if active[i].PriorityScore < prevScore {
			assert.Greater(t, pos.Position, prevPos)
		} else {
			assert.GreaterOrEqual(t, pos.Position, prevPos)
		}
		prevPos = pos.Position
		prevScore = active[i].PriorityScore
	}
}
