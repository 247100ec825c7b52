package httpclient

import (
	"context"
	"net/url"
)

// Stub is an in-memory CloudClient for tests: the converter and agent
// packages depend only on the CloudClient interface, so their tests swap
// in this stub instead of talking to a real cloud tenant.
type Stub struct {
	Token            string
	TenantDomainHost string
	UploadErr        error
	Uploads          []StubUpload
}

// StubUpload records one UploadSoftwareList call for assertions.
type StubUpload struct {
	DeviceID  string
	Inventory []byte
}

func (s *Stub) GetJWTToken(ctx context.Context) (string, error) {
	if s.Token == "" {
		return "stub-token", nil
	}
	return s.Token, nil
}

func (s *Stub) URLIsInTenantDomain(rawURL string) (bool, error) {
	if s.TenantDomainHost == "" {
		return false, nil
	}
	return hostOf(rawURL) == s.TenantDomainHost, nil
}

func (s *Stub) UploadSoftwareList(ctx context.Context, deviceID string, inventory []byte) error {
	if s.UploadErr != nil {
		return s.UploadErr
	}
	s.Uploads = append(s.Uploads, StubUpload{DeviceID: deviceID, Inventory: inventory})
	return nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
