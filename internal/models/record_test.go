package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEligiblePending(t *testing.T) {
	rec := &ImageRecord{EmbeddingStatus: StatusPending}
	assert.True(t, Eligible(rec, DefaultRetryPolicy(), time.Now()))
}

func TestEligibleCompletedNever(t *testing.T) {
	rec := &ImageRecord{EmbeddingStatus: StatusCompleted, IsEmbedded: true}
	assert.False(t, Eligible(rec, DefaultRetryPolicy(), time.Now()))
}

func TestEligibleFailedRespectsBackoff(t *testing.T) {
	policy := DefaultRetryPolicy()
	now := time.Now()

	justShort := now.Add(-policy.RetryDelay + time.Millisecond)
	rec := &ImageRecord{
		EmbeddingStatus:      StatusFailed,
		EmbeddingAttempts:    2,
		LastEmbeddingAttempt: &justShort,
	}
	assert.False(t, Eligible(rec, policy, now), "1ms short of the delay")

	exact := now.Add(-policy.RetryDelay)
	rec.LastEmbeddingAttempt = &exact
	assert.True(t, Eligible(rec, policy, now), "exactly at the delay")
}

func TestEligibleFailedWithoutAttemptTimestamp(t *testing.T) {
	rec := &ImageRecord{EmbeddingStatus: StatusFailed, EmbeddingAttempts: 1}
	assert.True(t, Eligible(rec, DefaultRetryPolicy(), time.Now()))
}

func TestEligibleTerminalFailure(t *testing.T) {
	policy := DefaultRetryPolicy()
	old := time.Now().Add(-time.Hour)
	rec := &ImageRecord{
		EmbeddingStatus:      StatusFailed,
		EmbeddingAttempts:    policy.MaxAttempts,
		LastEmbeddingAttempt: &old,
	}
	// Exhausted records are excluded no matter how long ago the last attempt
	// was, and stay excluded on repeated evaluation.
	for i := 0; i < 3; i++ {
		assert.False(t, Eligible(rec, policy, time.Now()))
	}
}

func TestEligibleProcessingNormallySkipped(t *testing.T) {
	now := time.Now()
	recent := now.Add(-time.Minute)
	rec := &ImageRecord{
		EmbeddingStatus:      StatusProcessing,
		EmbeddingAttempts:    1,
		LastEmbeddingAttempt: &recent,
	}
	assert.False(t, Eligible(rec, DefaultRetryPolicy(), now))
}

func TestEligibleStaleProcessingReclaimed(t *testing.T) {
	policy := DefaultRetryPolicy()
	now := time.Now()
	stuck := now.Add(-policy.StaleProcessingAge)
	rec := &ImageRecord{
		EmbeddingStatus:      StatusProcessing,
		EmbeddingAttempts:    1,
		LastEmbeddingAttempt: &stuck,
	}
	assert.True(t, Eligible(rec, policy, now))

	// Reclaim disabled: stuck records stay stuck.
	policy.StaleProcessingAge = 0
	assert.False(t, Eligible(rec, policy, now))
}

func TestStatsPercentage(t *testing.T) {
	assert.Equal(t, 0, NewEmbeddingStats(0, 0, 0, 0, 0).Percentage)
	assert.Equal(t, 33, NewEmbeddingStats(3, 1, 1, 0, 1).Percentage)
	assert.Equal(t, 67, NewEmbeddingStats(3, 2, 1, 0, 0).Percentage)
	assert.Equal(t, 100, NewEmbeddingStats(5, 5, 0, 0, 0).Percentage)
}
