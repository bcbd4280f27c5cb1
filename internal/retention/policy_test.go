package retention

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reflux-run/reflux/internal/config"
)

func TestLoadPolicyDefaults(t *testing.T) {
	p, err := LoadPolicy(config.RetentionEnv{})
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), p)
}

func TestLoadPolicyOverridesWithinBounds(t *testing.T) {
	p, err := LoadPolicy(config.RetentionEnv{RunsSuccessfulDays: 5, FlowVersionsKeep: 3, BatchSize: 50})
	require.NoError(t, err)
	assert.Equal(t, 5*24*time.Hour, p.RunsSuccessful)
	assert.Equal(t, 3, p.FlowVersionsKeep)
	assert.Equal(t, 50, p.BatchSize)
}

func TestLoadPolicyRejectsOutOfBounds(t *testing.T) {
	_, err := LoadPolicy(config.RetentionEnv{RunsSuccessfulDays: 9999})
	assert.Error(t, err)

	_, err = LoadPolicy(config.RetentionEnv{LogsDebugDays: 400})
	assert.Error(t, err)

	_, err = LoadPolicy(config.RetentionEnv{FlowVersionsKeep: -1})
	assert.Error(t, err)
}
