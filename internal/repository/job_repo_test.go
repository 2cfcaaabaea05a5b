package repository

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeJobLimit(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		fallback int
		want     int
	}{
		{
			name:     "absent key falls back",
			raw:      `{"max_hosts": 10}`,
			fallback: 2,
			want:     2,
		},
		{
			name:     "explicit zero starves the target",
			raw:      `{"max_concurrent_jobs": 0}`,
			fallback: 2,
			want:     0,
		},
		{
			name:     "positive value overrides the default",
			raw:      `{"max_concurrent_jobs": 5}`,
			fallback: 2,
			want:     5,
		},
		{
			name:     "empty scope falls back",
			raw:      ``,
			fallback: 3,
			want:     3,
		},
		{
			name:     "malformed scope falls back",
			raw:      `not json`,
			fallback: 3,
			want:     3,
		},
		{
			name:     "empty object falls back",
			raw:      `{}`,
			fallback: 4,
			want:     4,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scopeJobLimit(json.RawMessage(tt.raw), tt.fallback)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJSONHasKey(t *testing.T) {
	assert.True(t, jsonHasKey(json.RawMessage(`{"max_concurrent_jobs": 0}`), "max_concurrent_jobs"))
	assert.True(t, jsonHasKey(json.RawMessage(`{"max_concurrent_jobs": null}`), "max_concurrent_jobs"))
	assert.False(t, jsonHasKey(json.RawMessage(`{"max_hosts": 1}`), "max_concurrent_jobs"))
	assert.False(t, jsonHasKey(json.RawMessage(`[1,2]`), "max_concurrent_jobs"))
	assert.False(t, jsonHasKey(nil, "max_concurrent_jobs"))
}

// A zero global cap must block every claim before any queue access; the
// nil transaction proves nothing was queried.
func TestClaimNextZeroGlobalLimitClaimsNothing(t *testing.T) {
	repo := NewJobRepository(nil)

	job, err := repo.ClaimNext(context.Background(), nil, "worker-test", ClaimLimits{Global: 0, PerTarget: 2})
	require.NoError(t, err)
	assert.Nil(t, job)

	job, err = repo.ClaimNext(context.Background(), nil, "worker-test", ClaimLimits{Global: -1, PerTarget: 2})
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestTruncateCapsErrorText(t *testing.T) {
	long := make([]byte, maxErrorLen+100)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, truncate(string(long), maxErrorLen), maxErrorLen)
	assert.Equal(t, "short", truncate("short", maxErrorLen))
}
