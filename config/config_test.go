package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvConfigDefaultsWhenUnset(t *testing.T) {
	env := NewEnvConfig("SYSLOGCORE_TEST")
	assert.Equal(t, "fallback", env.GetString("MISSING", "fallback"))
	assert.Equal(t, 7, env.GetInt("MISSING", 7))
	assert.Equal(t, time.Second, env.GetDuration("MISSING", time.Second))
}

func TestEnvConfigReadsPrefixedKey(t *testing.T) {
	os.Setenv("SYSLOGCORE_TEST_SIZE", "500")
	defer os.Unsetenv("SYSLOGCORE_TEST_SIZE")

	env := NewEnvConfig("SYSLOGCORE_TEST")
	assert.Equal(t, 500, env.GetInt("SIZE", 10))
}

func TestLoadQueueSettingsDefaults(t *testing.T) {
	q := LoadQueueSettings("SYSLOGCORE_TEST_UNSET_QUEUE")
	assert.Equal(t, "fixedarray", q.Type)
	assert.Equal(t, 10000, q.Size)
	assert.Equal(t, 8000, q.Marks.High)
}

func TestLoadQueueSettingsMinWorkersDefaultAndOverride(t *testing.T) {
	q := LoadQueueSettings("SYSLOGCORE_TEST_UNSET_QUEUE")
	assert.Equal(t, 1, q.MinWorkers)

	os.Setenv("SYSLOGCORE_TEST_MINW_QUEUE_MIN_WORKERS", "4")
	defer os.Unsetenv("SYSLOGCORE_TEST_MINW_QUEUE_MIN_WORKERS")
	q = LoadQueueSettings("SYSLOGCORE_TEST_MINW_QUEUE")
	assert.Equal(t, 4, q.MinWorkers)
}

func TestValidateQueueSettingsRejectsBadWaterMarkOrder(t *testing.T) {
	q := LoadQueueSettings("SYSLOGCORE_TEST_UNSET_QUEUE")
	q.Name = "main"
	q.Marks.Low = 9000 // now >= High, invalid

	err := ValidateQueueSettings(q)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "water-marks")
}

func TestValidateQueueSettingsAcceptsDefaults(t *testing.T) {
	q := LoadQueueSettings("SYSLOGCORE_TEST_UNSET_QUEUE")
	q.Name = "main"
	assert.NoError(t, ValidateQueueSettings(q))
}

func TestValidateActionSettingsRequiresName(t *testing.T) {
	a := LoadActionSettings("SYSLOGCORE_TEST_UNSET_ACTION")
	err := ValidateActionSettings(a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Name is required")
}
