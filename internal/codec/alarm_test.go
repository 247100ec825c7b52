package codec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k-butz/tedge-c8y-mapper/internal/codec"
)

func TestAlarmToSmartRest_Create(t *testing.T) {
	line, err := codec.AlarmToSmartRest(
		"local/alarms/critical/temp",
		[]byte(`{"text":"hot","time":"2024-01-01T00:00:00Z"}`),
	)
	require.NoError(t, err)
	assert.Equal(t, `301,temp,hot,2024-01-01T00:00:00Z`, line)
}

func TestAlarmToSmartRest_Clear(t *testing.T) {
	line, err := codec.AlarmToSmartRest("local/alarms/critical/temp", nil)
	require.NoError(t, err)
	assert.Equal(t, "305,temp", line)
}

func TestAlarmToSmartRest_QuotesText(t *testing.T) {
	line, err := codec.AlarmToSmartRest(
		"local/alarms/major/door",
		[]byte(`{"text":"door, ajar","time":"t"}`),
	)
	require.NoError(t, err)
	assert.Equal(t, `302,door,"door, ajar",t`, line)
}

func TestAlarmSeverityAndType(t *testing.T) {
	sev, typ, ok := codec.AlarmSeverityAndType("local/alarms/critical/temp")
	require.True(t, ok)
	assert.Equal(t, "critical", sev)
	assert.Equal(t, "temp", typ)

	_, _, ok = codec.AlarmSeverityAndType("local/alarms/critical")
	assert.False(t, ok)
}
