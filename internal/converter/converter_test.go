package converter_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k-butz/tedge-c8y-mapper/internal/alarms"
	"github.com/k-butz/tedge-c8y-mapper/internal/bus"
	"github.com/k-butz/tedge-c8y-mapper/internal/codec"
	"github.com/k-butz/tedge-c8y-mapper/internal/converter"
	"github.com/k-butz/tedge-c8y-mapper/internal/httpclient"
	"github.com/k-butz/tedge-c8y-mapper/internal/journal"
	"github.com/k-butz/tedge-c8y-mapper/internal/operations"
	"github.com/k-butz/tedge-c8y-mapper/internal/software"
)

type fakeSpawner struct {
	spawnErr error
	spawned  []operations.Operation
}

func (f *fakeSpawner) Spawn(op operations.Operation, payload []byte) error {
	f.spawned = append(f.spawned, op)
	return f.spawnErr
}

type testHarness struct {
	conv    *converter.CumulocityConverter
	http    *httpclient.Stub
	spawner *fakeSpawner
	journal *journal.Journal
}

func newHarness(t *testing.T, opsDir string) *testHarness {
	t.Helper()

	if opsDir == "" {
		opsDir = filepath.Join(t.TempDir(), "no-such-dir")
	}
	registry, err := operations.New(opsDir)
	require.NoError(t, err)

	j, err := journal.Open(filepath.Join(t.TempDir(), "current-operation.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	httpStub := &httpclient.Stub{}
	spawner := &fakeSpawner{}

	conv, err := converter.New(converter.Config{
		DeviceID:      "dev1",
		DeviceType:    "thin-edge.io",
		SizeThreshold: codec.NewSizeThreshold(16 * 1024),
	}, registry, alarms.New(), httpStub, spawner, j, nil)
	require.NoError(t, err)

	return &testHarness{conv: conv, http: httpStub, spawner: spawner, journal: j}
}

func (h *testHarness) convert(t *testing.T, topic, payload string) ([]bus.Message, error) {
	t.Helper()
	return h.conv.Convert(context.Background(), bus.New(topic, payload))
}

func TestConvert_RootMeasurement(t *testing.T) {
	h := newHarness(t, "")

	out, err := h.convert(t, "local/measurements", `{"temperature":21.5,"time":"2024-01-01T00:00:00Z"}`)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "cloud/measurement/create", out[0].Topic)
	assert.JSONEq(t,
		`{"type":"ThinEdgeMeasurement","time":"2024-01-01T00:00:00Z","temperature":{"temperature":{"value":21.5}}}`,
		out[0].PayloadString())
}

func TestConvert_ChildMeasurement_FirstThenSecond(t *testing.T) {
	h := newHarness(t, "")

	payload := `{"temperature":21.5,"time":"2024-01-01T00:00:00Z"}`

	first, err := h.convert(t, "local/measurements/sensor-a", payload)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "cloud/out", first[0].Topic)
	assert.Equal(t, "101,sensor-a,sensor-a,thin-edge.io-child", first[0].PayloadString())
	assert.Equal(t, "cloud/measurement/create", first[1].Topic)

	second, err := h.convert(t, "local/measurements/sensor-a", payload)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "cloud/measurement/create", second[0].Topic)
}

func TestConvert_OversizedPayloadRoutesToLocalErrors(t *testing.T) {
	h := newHarness(t, "")

	out, err := h.convert(t, "local/measurements", string(make([]byte, 20*1024)))
	require.Error(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "local/errors", out[0].Topic)
	assert.Equal(t, "The input size 20480 is too big. The threshold is 16384.", out[0].PayloadString())
}

func TestConvert_UnknownOperationTemplate(t *testing.T) {
	h := newHarness(t, "")

	out, err := h.convert(t, "cloud/in/999", "999,foo")
	require.Error(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "501,foo", out[0].PayloadString())
	assert.Equal(t, `502,foo,"unknown operation template id ""999"""`, out[1].PayloadString())
}

func TestConvert_CustomOperation_SpawnsAndReportsCompletion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c8y_LogRequest"), []byte(`
template = "901"
command = "/usr/bin/log-request"
`), 0o644))

	h := newHarness(t, dir)

	out, err := h.convert(t, "cloud/in/901", "901,dev1,log.txt")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "501,c8y_LogRequest", out[0].PayloadString())
	require.Len(t, h.spawner.spawned, 1)
	assert.Equal(t, "901", h.spawner.spawned[0].TemplateID)

	completion, err := json.Marshal(struct {
		Success bool `json:"success"`
	}{Success: true})
	require.NoError(t, err)

	out, err = h.convert(t, operations.CompletionTopicPrefix+"c8y_LogRequest", string(completion))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "503,c8y_LogRequest", out[0].PayloadString())
}

func TestConvert_SoftwareUpdate_HappyPath(t *testing.T) {
	h := newHarness(t, "")

	reqOut, err := h.convert(t, "cloud/in/528", "528,dev1,apt::curl,7,http://example.com/curl,install")
	require.NoError(t, err)
	require.Len(t, reqOut, 1)
	assert.Equal(t, "local/cmd/req/software/update", reqOut[0].Topic)

	var req software.UpdateRequest
	require.NoError(t, json.Unmarshal(reqOut[0].Payload, &req))
	assert.Equal(t, "c8y_SoftwareUpdate", req.ID)
	require.Len(t, req.UpdateList["apt"], 1)
	assert.Equal(t, "curl", req.UpdateList["apt"][0].Name)

	executing, err := json.Marshal(software.UpdateResponse{ID: req.ID, Status: software.StatusExecuting})
	require.NoError(t, err)
	out, err := h.convert(t, "local/cmd/res/software/update", string(executing))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "501,c8y_SoftwareUpdate", out[0].PayloadString())

	_, ok, err := h.journal.Read()
	require.NoError(t, err)
	assert.True(t, ok, "journal entry must exist between Executing and terminal status")

	successful, err := json.Marshal(software.UpdateResponse{
		ID:                  req.ID,
		Status:              software.StatusSuccessful,
		CurrentSoftwareList: software.Inventory{"apt": {{Name: "curl", Version: "7"}}},
	})
	require.NoError(t, err)
	out, err = h.convert(t, "local/cmd/res/software/update", string(successful))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "503,c8y_SoftwareUpdate", out[0].PayloadString())

	require.Len(t, h.http.Uploads, 1)
	assert.Equal(t, "dev1", h.http.Uploads[0].DeviceID)

	_, ok, err = h.journal.Read()
	require.NoError(t, err)
	assert.False(t, ok, "journal entry must be cleared after the terminal status")
}

func TestConvert_AlarmClearAfterRestart(t *testing.T) {
	h := newHarness(t, "")

	internalMsg := bus.Message{Topic: "internal/alarms/critical/temp", Payload: []byte(`{"text":"hot"}`), Retain: true}
	out, err := h.conv.Convert(context.Background(), internalMsg)
	require.NoError(t, err)
	assert.Empty(t, out)

	syncOut := h.conv.SyncMessages()
	require.Len(t, syncOut, 3)
	assert.Equal(t, "local/alarms/critical/temp", syncOut[0].Topic)
	assert.Empty(t, syncOut[0].Payload)
	assert.True(t, syncOut[0].Retain)
	assert.Equal(t, "cloud/out", syncOut[1].Topic)
	assert.Equal(t, "305,temp", syncOut[1].PayloadString())
	assert.Equal(t, "internal/alarms/critical/temp", syncOut[2].Topic)
	assert.True(t, syncOut[2].Retain)
}

func TestConvert_AlarmSyncedImmediateConversion(t *testing.T) {
	h := newHarness(t, "")
	_ = h.conv.SyncMessages() // transition straight to Synced with nothing pending

	out, err := h.convert(t, "local/alarms/critical/temp", `{"text":"hot","time":"2024-01-01T00:00:00Z"}`)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "cloud/out", out[0].Topic)
	assert.Equal(t, `301,temp,hot,2024-01-01T00:00:00Z`, out[0].PayloadString())
	assert.Equal(t, "internal/alarms/critical/temp", out[1].Topic)
	assert.True(t, out[1].Retain)
}
