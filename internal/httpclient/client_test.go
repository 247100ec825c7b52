package httpclient_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/k-butz/tedge-c8y-mapper/internal/httpclient"
)

func TestURLIsInTenantDomain(t *testing.T) {
	c := httpclient.New(httpclient.Config{
		BaseURL: "https://mytenant.eu-latest.cumulocity.com",
	}, zap.NewNop())

	in, err := c.URLIsInTenantDomain("https://mytenant.eu-latest.cumulocity.com/inventory/binaries/1")
	require.NoError(t, err)
	assert.True(t, in)

	out, err := c.URLIsInTenantDomain("https://example.org/firmware.bin")
	require.NoError(t, err)
	assert.False(t, out)
}

func TestStubUploadSoftwareList(t *testing.T) {
	stub := &httpclient.Stub{}
	require.NoError(t, stub.UploadSoftwareList(nil, "device-1", []byte(`{"c8y_SoftwareList":[]}`)))
	require.Len(t, stub.Uploads, 1)
	assert.Equal(t, "device-1", stub.Uploads[0].DeviceID)
}
