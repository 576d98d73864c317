package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAvailable_Ordered(t *testing.T) {
	ms, err := Available()
	require.NoError(t, err)
	require.Len(t, ms, 3)
	assert.Equal(t, "0001_jobs", ms[0].Version)
	assert.Equal(t, "0002_entities", ms[1].Version)
	assert.Equal(t, "0003_jobs_halted", ms[2].Version)

	for _, m := range ms {
		body, err := migrationsFS.ReadFile("migrations/" + m.File)
		require.NoError(t, err)
		assert.NotEmpty(t, body)
	}
}
