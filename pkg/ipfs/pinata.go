package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/ipfs/go-cid"

	"github.com/angelmondragon/originhash-backend/pkg/config"
	"github.com/angelmondragon/originhash-backend/pkg/logger"
)

const (
	pinFilePath  = "/pinning/pinFileToIPFS"
	unpinPath    = "/pinning/unpin/{cid}"
	testAuthPath = "/data/testAuthentication"
)

var errNoCredentials = errors.New("pinata credentials are required (jwt or api key and secret)")

// Client talks to the Pinata pinning API.
type Client struct {
	http       *resty.Client
	gatewayURL string
	cidVersion int
	logg       *logger.Logger
	now        func() time.Time
}

type pinResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

type pinataError struct {
	Error any `json:"error"`
}

type pinMetadata struct {
	Name      string   `json:"name"`
	KeyValues Metadata `json:"keyvalues,omitempty"`
}

type pinOptions struct {
	CIDVersion int `json:"cidVersion"`
}

// NewClient builds a Pinata client. Retries cover transport errors, 5xx and 429 responses.
func NewClient(cfg config.IPFSConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return nil, errors.New("ipfs api base url is required")
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.APIBaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(cfg.RetryWait * 8).
		SetRetryResetReaders(true).
		AddRetryCondition(retryOnErrOr5xxOr429)

	switch {
	case cfg.JWT != "":
		httpClient.SetAuthToken(cfg.JWT)
	case cfg.APIKey != "" && cfg.APISecret != "":
		httpClient.SetHeader("pinata_api_key", cfg.APIKey)
		httpClient.SetHeader("pinata_secret_api_key", cfg.APISecret)
	default:
		return nil, errNoCredentials
	}

	cidVersion := cfg.CIDVersion
	if cidVersion != 0 && cidVersion != 1 {
		return nil, fmt.Errorf("unsupported cid version %d", cidVersion)
	}

	return &Client{
		http:       httpClient,
		gatewayURL: strings.TrimRight(cfg.GatewayURL, "/"),
		cidVersion: cidVersion,
		logg:       logg,
		now:        time.Now,
	}, nil
}

func retryOnErrOr5xxOr429(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	return r.StatusCode() >= http.StatusInternalServerError || r.StatusCode() == http.StatusTooManyRequests
}

// Upload pins data under name. An uploadedAt keyvalue is always added.
func (c *Client) Upload(ctx context.Context, data []byte, name string, meta Metadata) (UploadResult, error) {
	if len(data) == 0 {
		return UploadResult{}, &UploadError{Name: name, Reason: "empty payload"}
	}
	if strings.TrimSpace(name) == "" {
		return UploadResult{}, &UploadError{Name: name, Reason: "file name is required"}
	}

	metaJSON, err := json.Marshal(pinMetadata{Name: name, KeyValues: c.withUploadedAt(meta)})
	if err != nil {
		return UploadResult{}, &UploadError{Name: name, Reason: "encode metadata", Err: err}
	}
	optsJSON, err := json.Marshal(pinOptions{CIDVersion: c.cidVersion})
	if err != nil {
		return UploadResult{}, &UploadError{Name: name, Reason: "encode options", Err: err}
	}

	var out pinResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetMultipartField("file", name, ContentTypeFor(name), bytes.NewReader(data)).
		SetMultipartFormData(map[string]string{
			"pinataMetadata": string(metaJSON),
			"pinataOptions":  string(optsJSON),
		}).
		SetResult(&out).
		Post(pinFilePath)
	if err != nil {
		return UploadResult{}, &UploadError{Name: name, Reason: err.Error(), Err: err}
	}
	if resp.IsError() {
		return UploadResult{}, &UploadError{Name: name, StatusCode: resp.StatusCode(), Reason: errorReason(resp)}
	}

	result, err := c.toResult(out)
	if err != nil {
		return UploadResult{}, &UploadError{Name: name, StatusCode: resp.StatusCode(), Reason: err.Error(), Err: err}
	}

	if c.logg != nil {
		logCtx := c.logg.WithFields(ctx, map[string]any{"file": name, "cid": result.ContentID, "size": result.SizeBytes})
		c.logg.Info(logCtx, "ipfs pin created")
	}
	return result, nil
}

// Unpin removes a pin. Unknown pins are not an error.
func (c *Client) Unpin(ctx context.Context, contentID string) error {
	if _, err := cid.Decode(contentID); err != nil {
		return fmt.Errorf("invalid cid %q: %w", contentID, err)
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("cid", contentID).
		Delete(unpinPath)
	if err != nil {
		return fmt.Errorf("unpin %s: %w", contentID, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil
	}
	if resp.IsError() {
		return fmt.Errorf("unpin %s failed (status %d): %s", contentID, resp.StatusCode(), errorReason(resp))
	}
	return nil
}

// TestAuthentication checks the configured credentials.
func (c *Client) TestAuthentication(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get(testAuthPath)
	if err != nil {
		return fmt.Errorf("pinata auth check: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("pinata auth check failed (status %d): %s", resp.StatusCode(), errorReason(resp))
	}
	return nil
}

// Ping is the readiness hook.
func (c *Client) Ping(ctx context.Context) error {
	return c.TestAuthentication(ctx)
}

// GatewayURL returns the public gateway link for contentID.
func (c *Client) GatewayURL(contentID string) string {
	if contentID == "" {
		return ""
	}
	return c.gatewayURL + "/ipfs/" + contentID
}

func (c *Client) toResult(out pinResponse) (UploadResult, error) {
	if _, err := cid.Decode(out.IpfsHash); err != nil {
		return UploadResult{}, fmt.Errorf("pinata returned invalid cid %q: %w", out.IpfsHash, err)
	}
	contentID := out.IpfsHash

	ts := c.now().UTC()
	if out.Timestamp != "" {
		if parsedTS, err := time.Parse(time.RFC3339, out.Timestamp); err == nil {
			ts = parsedTS.UTC()
		}
	}

	return UploadResult{
		ContentID:  contentID,
		SizeBytes:  out.PinSize,
		GatewayURL: c.GatewayURL(contentID),
		Timestamp:  ts,
	}, nil
}

func (c *Client) withUploadedAt(meta Metadata) Metadata {
	merged := Metadata{"uploadedAt": c.now().UTC().Format(time.RFC3339)}
	for k, v := range meta {
		merged[k] = v
	}
	return merged
}

func errorReason(resp *resty.Response) string {
	var body pinataError
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.Error != nil {
		switch v := body.Error.(type) {
		case string:
			return v
		case map[string]any:
			if reason, ok := v["reason"].(string); ok && reason != "" {
				if details, ok := v["details"].(string); ok && details != "" {
					return reason + ": " + details
				}
				return reason
			}
		}
	}
	text := strings.TrimSpace(resp.String())
	if text == "" {
		return http.StatusText(resp.StatusCode())
	}
	if len(text) > 256 {
		text = text[:256]
	}
	return text
}
