package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEffectiveness(t *testing.T) {
	tests := []struct {
		name             string
		helpful, harmful int
		want             float64
	}{
		{"no votes", 0, 0, 0},
		{"all helpful", 10, 0, 10.0 / 11.0},
		{"all harmful", 0, 5, -5.0 / 6.0},
		{"mixed", 3, 2, 1.0 / 6.0},
		{"single helpful", 1, 0, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Effectiveness(tt.helpful, tt.harmful)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.Greater(t, got, -1.0)
			assert.Less(t, got, 1.0)
		})
	}
}

func TestSessionTransitions(t *testing.T) {
	allowed := []struct{ from, to SessionStatus }{
		{SessionActive, SessionPaused},
		{SessionPaused, SessionActive},
		{SessionActive, SessionCompleted},
		{SessionActive, SessionFailed},
		{SessionActive, SessionActive}, // self-transition is a no-op
	}
	for _, tr := range allowed {
		assert.True(t, tr.from.CanTransition(tr.to), "%s -> %s should be allowed", tr.from, tr.to)
	}

	denied := []struct{ from, to SessionStatus }{
		{SessionCompleted, SessionActive},
		{SessionFailed, SessionActive},
		{SessionCompleted, SessionFailed},
		{SessionPaused, SessionCompleted},
		{SessionPaused, SessionFailed},
	}
	for _, tr := range denied {
		assert.False(t, tr.from.CanTransition(tr.to), "%s -> %s should be denied", tr.from, tr.to)
	}
}

func TestFeatureTransitions(t *testing.T) {
	allowed := []struct{ from, to FeatureStatus }{
		{FeatureNotStarted, FeatureInProgress},
		{FeatureInProgress, FeatureTesting},
		{FeatureTesting, FeatureComplete},
		{FeatureTesting, FeatureFailed},
		{FeatureInProgress, FeatureBlocked},
		{FeatureBlocked, FeatureInProgress},
		{FeatureTesting, FeatureBlocked},
		{FeatureBlocked, FeatureTesting},
	}
	for _, tr := range allowed {
		assert.True(t, tr.from.CanTransition(tr.to), "%s -> %s should be allowed", tr.from, tr.to)
	}

	denied := []struct{ from, to FeatureStatus }{
		{FeatureNotStarted, FeatureComplete},
		{FeatureNotStarted, FeatureTesting},
		{FeatureInProgress, FeatureComplete},
		{FeatureComplete, FeatureInProgress},
		{FeatureFailed, FeatureTesting},
		{FeatureComplete, FeatureBlocked},
	}
	for _, tr := range denied {
		assert.False(t, tr.from.CanTransition(tr.to), "%s -> %s should be denied", tr.from, tr.to)
	}
}

func TestVoteValid(t *testing.T) {
	assert.True(t, VoteHelpful.Valid())
	assert.True(t, VoteHarmful.Valid())
	assert.False(t, Vote("meh").Valid())
}

func TestRunOutcomeValid(t *testing.T) {
	assert.True(t, RunSuccess.Valid())
	assert.True(t, RunFailure.Valid())
	assert.True(t, RunPartial.Valid())
	assert.False(t, RunOutcome("crashed").Valid())
}
