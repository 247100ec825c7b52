// Package httpclient implements the cloud HTTP client collaborator: JWT
// acquisition, software-list upload, and tenant-domain checks. The
// converter never sees transport details — only these three typed
// operations.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"
)

// CloudClient is the contract the converter and software agent consume.
// Each method returns a typed result; callers never inspect status codes
// or response bodies directly.
type CloudClient interface {
	// GetJWTToken returns a bearer token for the cloud tenant, acquiring
	// and caching it as needed.
	GetJWTToken(ctx context.Context) (string, error)

	// URLIsInTenantDomain reports whether rawURL's host is within the
	// configured cloud tenant's domain.
	URLIsInTenantDomain(rawURL string) (bool, error)

	// UploadSoftwareList pushes the device's current software inventory
	// to the cloud, used after a successful software/list or
	// software/update response.
	UploadSoftwareList(ctx context.Context, deviceID string, inventory []byte) error
}

// Client is the concrete CloudClient backed by an OAuth2 client-
// credentials flow (golang.org/x/oauth2) for token acquisition and
// plain net/http for the inventory upload, with gjson picking fields
// out of the cloud's JSON responses.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokenConf  *clientcredentials.Config
	log        *zap.Logger
}

// Config configures a Client.
type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// New builds a Client. The OAuth2 config caches and refreshes its own
// token internally (golang.org/x/oauth2's TokenSource); the client
// itself never writes the token to disk.
func New(cfg Config, log *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		tokenConf: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		},
		log: log,
	}
}

// GetJWTToken implements CloudClient.
func (c *Client) GetJWTToken(ctx context.Context) (string, error) {
	token, err := c.tokenConf.Token(ctx)
	if err != nil {
		return "", &HttpError{Op: "get_jwt_token", Err: err}
	}
	return token.AccessToken, nil
}

// URLIsInTenantDomain implements CloudClient. It compares the URL's host
// against the configured base URL's host — the device's own cloud
// tenant.
func (c *Client) URLIsInTenantDomain(rawURL string) (bool, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return false, &HttpError{Op: "url_is_in_my_tenant_domain", Err: err}
	}
	target, err := url.Parse(rawURL)
	if err != nil {
		return false, &HttpError{Op: "url_is_in_my_tenant_domain", Err: err}
	}
	return strings.EqualFold(target.Hostname(), base.Hostname()), nil
}

// UploadSoftwareList implements CloudClient.
func (c *Client) UploadSoftwareList(ctx context.Context, deviceID string, inventory []byte) error {
	token, err := c.GetJWTToken(ctx)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/inventory/managedObjects/%s", c.baseURL, url.PathEscape(deviceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(inventory))
	if err != nil {
		return &HttpError{Op: "upload_software_list", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &HttpError{Op: "upload_software_list", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return &HttpError{Op: "upload_software_list", Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, errorFromResponseBody(body))}
	}
	return nil
}

// errorFromResponseBody extracts a human-readable "message" field from a
// Cumulocity-style JSON error body, falling back to the raw body.
func errorFromResponseBody(body []byte) string {
	if msg := gjson.GetBytes(body, "message"); msg.Exists() {
		return msg.String()
	}
	return string(body)
}

// HttpError wraps any transport-level failure from the cloud client.
// Callers log it; it never blocks the converter's SmartREST status
// publication.
type HttpError struct {
	Op  string
	Err error
}

func (e *HttpError) Error() string {
	return fmt.Sprintf("httpclient: %s: %v", e.Op, e.Err)
}

func (e *HttpError) Unwrap() error {
	return e.Err
}
