package dashboard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-ai/aegis/internal/model"
)

func makeRun(outcome model.RunOutcome, used ...string) model.Run {
	now := time.Now()
	return model.Run{
		RunID:        model.NewID(),
		ProjectID:    "proj",
		AgentID:      "a1",
		Task:         "t",
		MemoriesUsed: used,
		Outcome:      &outcome,
		StartedAt:    now.Add(-time.Minute),
		CompletedAt:  &now,
	}
}

func TestCorrelateInsufficientData(t *testing.T) {
	var runs []model.Run
	for range 9 {
		runs = append(runs, makeRun(model.RunSuccess, "m1"))
	}

	report := correlate(runs)
	assert.True(t, report.InsufficientData)
	assert.Equal(t, 9, report.Runs)
	assert.Empty(t, report.Memories)
}

func TestCorrelatePartialRunsExcluded(t *testing.T) {
	var runs []model.Run
	for range 6 {
		runs = append(runs, makeRun(model.RunPartial, "m1"))
	}
	for range 6 {
		runs = append(runs, makeRun(model.RunSuccess, "m1"))
	}

	// Only the 6 success runs count, below the threshold.
	report := correlate(runs)
	assert.Equal(t, 6, report.Runs)
	assert.True(t, report.InsufficientData)
}

func TestCorrelatePerfectPositiveSignal(t *testing.T) {
	var runs []model.Run
	// m1 used in every success, never in a failure: correlation 1.
	for range 6 {
		runs = append(runs, makeRun(model.RunSuccess, "m1"))
	}
	for range 6 {
		runs = append(runs, makeRun(model.RunFailure))
	}

	report := correlate(runs)
	require.False(t, report.InsufficientData)
	require.Len(t, report.Memories, 1)
	assert.Equal(t, "m1", report.Memories[0].MemoryID)
	assert.Equal(t, 6, report.Memories[0].UsedRuns)
	assert.InDelta(t, 1.0, report.Memories[0].Correlation, 1e-9)
}

func TestCorrelatePerfectNegativeSignal(t *testing.T) {
	var runs []model.Run
	for range 5 {
		runs = append(runs, makeRun(model.RunSuccess))
	}
	for range 5 {
		runs = append(runs, makeRun(model.RunFailure, "bad"))
	}

	report := correlate(runs)
	require.Len(t, report.Memories, 1)
	assert.InDelta(t, -1.0, report.Memories[0].Correlation, 1e-9)
}

func TestCorrelateNoVarianceYieldsNoSignal(t *testing.T) {
	var runs []model.Run
	for range 12 {
		runs = append(runs, makeRun(model.RunSuccess, "m1"))
	}

	report := correlate(runs)
	assert.False(t, report.InsufficientData)
	assert.Empty(t, report.Memories, "uniform outcomes carry no signal")
}

func TestCorrelateSkipsUniversallyUsedMemory(t *testing.T) {
	var runs []model.Run
	for range 6 {
		runs = append(runs, makeRun(model.RunSuccess, "always", "m1"))
	}
	for range 6 {
		runs = append(runs, makeRun(model.RunFailure, "always"))
	}

	report := correlate(runs)
	require.Len(t, report.Memories, 1, "a memory used in every run is undefined")
	assert.Equal(t, "m1", report.Memories[0].MemoryID)
}

func TestCorrelateOrdersByAbsoluteStrength(t *testing.T) {
	var runs []model.Run
	// strong: all 6 successes. weak: 4 successes and 2 failures.
	for i := range 6 {
		used := []string{"strong"}
		if i < 4 {
			used = append(used, "weak")
		}
		runs = append(runs, makeRun(model.RunSuccess, used...))
	}
	for i := range 6 {
		var used []string
		if i < 2 {
			used = append(used, "weak")
		}
		runs = append(runs, makeRun(model.RunFailure, used...))
	}

	report := correlate(runs)
	require.Len(t, report.Memories, 2)
	assert.Equal(t, "strong", report.Memories[0].MemoryID)
	assert.Equal(t, "weak", report.Memories[1].MemoryID)
	assert.Greater(t, report.Memories[0].Correlation, report.Memories[1].Correlation)
}
