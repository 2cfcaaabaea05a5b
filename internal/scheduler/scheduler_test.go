package scheduler

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Good-Security/shadowpulse/internal/models"
)

func TestBuildPayloadMergesScheduledFlag(t *testing.T) {
	s := &models.Schedule{
		PipelineConfig: json.RawMessage(`{"max_hosts": 10, "max_http_targets": 20}`),
	}
	payload := buildPayload(s)
	assert.Equal(t, true, payload["scheduled"])
	assert.EqualValues(t, 10, payload["max_hosts"])
	assert.EqualValues(t, 20, payload["max_http_targets"])
}

func TestBuildPayloadEmptyConfig(t *testing.T) {
	payload := buildPayload(&models.Schedule{})
	assert.Equal(t, map[string]any{"scheduled": true}, payload)
}

func TestBuildPayloadBadConfigStillScheduled(t *testing.T) {
	s := &models.Schedule{PipelineConfig: json.RawMessage(`not json`)}
	payload := buildPayload(s)
	assert.Equal(t, true, payload["scheduled"])
}
