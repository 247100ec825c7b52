package alarms_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k-butz/tedge-c8y-mapper/internal/alarms"
	"github.com/k-butz/tedge-c8y-mapper/internal/bus"
)

func TestReconciler_SyncingStoresWithoutEmitting(t *testing.T) {
	r := alarms.New()

	out, err := r.HandleLocal(bus.New("local/alarms/critical/temp", `{"text":"hot","time":"t"}`))
	require.NoError(t, err)
	assert.Empty(t, out)

	require.NoError(t, r.HandleInternal(bus.New("internal/alarms/critical/temp", `{"text":"hot","time":"t"}`).Retained()))
}

func TestReconciler_FlushClearsAlarmMissingFromPending(t *testing.T) {
	r := alarms.New()

	require.NoError(t, r.HandleInternal(bus.New("internal/alarms/critical/temp", `{"text":"hot"}`).Retained()))
	// nothing arrives on local/alarms/** during the sync window

	flushed := r.Flush()
	require.Len(t, flushed, 1)
	assert.Equal(t, "local/alarms/critical/temp", flushed[0].Topic)
	assert.Empty(t, flushed[0].Payload)
	assert.True(t, flushed[0].Retain)
}

func TestReconciler_FlushDropsIdenticalPayload(t *testing.T) {
	r := alarms.New()

	payload := `{"text":"hot","time":"t"}`
	require.NoError(t, r.HandleInternal(bus.New("internal/alarms/critical/temp", payload).Retained()))
	_, err := r.HandleLocal(bus.New("local/alarms/critical/temp", payload))
	require.NoError(t, err)

	flushed := r.Flush()
	assert.Empty(t, flushed)
}

func TestReconciler_FlushKeepsChangedPayload(t *testing.T) {
	r := alarms.New()

	require.NoError(t, r.HandleInternal(bus.New("internal/alarms/critical/temp", `{"text":"old"}`).Retained()))
	_, err := r.HandleLocal(bus.New("local/alarms/critical/temp", `{"text":"new","time":"t"}`))
	require.NoError(t, err)

	flushed := r.Flush()
	require.Len(t, flushed, 1)
	assert.Equal(t, "local/alarms/critical/temp", flushed[0].Topic)
	assert.Equal(t, `{"text":"new","time":"t"}`, flushed[0].PayloadString())
}

func TestReconciler_SyncedStateConvertsImmediately(t *testing.T) {
	r := alarms.New()
	r.Flush() // transitions to Synced with nothing pending

	out, err := r.HandleLocal(bus.New("local/alarms/critical/temp", `{"text":"hot","time":"t"}`))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "cloud/out", out[0].Topic)
	assert.Equal(t, "301,temp,hot,t", out[0].PayloadString())
	assert.Equal(t, "internal/alarms/critical/temp", out[1].Topic)
	assert.True(t, out[1].Retain)
	assert.Equal(t, `{"text":"hot","time":"t"}`, out[1].PayloadString())
}

func TestReconciler_SyncedStateIgnoresInternal(t *testing.T) {
	r := alarms.New()
	r.Flush()

	require.NoError(t, r.HandleInternal(bus.New("internal/alarms/critical/temp", "x").Retained()))
}
