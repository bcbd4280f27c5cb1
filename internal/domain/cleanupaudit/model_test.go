package cleanupaudit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountsTotal(t *testing.T) {
	c := Counts{RunsSuccessful: 5, LogsDebug: 2, Artifacts: 1}
	assert.Equal(t, int64(8), c.Total())
}
