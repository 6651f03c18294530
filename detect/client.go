// Package detect sends captured images to the Krishi Sahay inference
// endpoint, which finds crop diseases in them.
package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	krishisahay "github.com/krishisahay/camera-sdk-go"
)

// APIBaseURL is the default base URL of the platform API.
var APIBaseURL = "http://localhost:8000"

// BaseURLEnv names the environment variable that overrides the base URL.
const BaseURLEnv = "KRISHI_API_URL"

// DetectPath is the path of the inference endpoint.
const DetectPath = "/api/detection/detect"

// DefaultTimeout limits a whole detection request, including uploading the
// image and reading the response.
const DefaultTimeout = 30 * time.Second

// AuthFunc returns the headers that authenticate a request, typically
// {"Authorization": "Bearer <token>"}.
type AuthFunc func() (map[string]string, error)

// Bearer returns an AuthFunc for a fixed bearer token.
func Bearer(token string) AuthFunc {
	return func() (map[string]string, error) {
		if token == "" {
			return nil, fmt.Errorf("no bearer token configured")
		}
		return map[string]string{"Authorization": "Bearer " + token}, nil
	}
}

// ClientOpts are options for a new Client.
type ClientOpts struct {
	// BaseURL of the platform API. If empty, environment variable
	// KRISHI_API_URL is used, otherwise APIBaseURL.
	BaseURL string

	// Auth provides the authentication headers. Requests are sent without
	// authentication if nil.
	Auth AuthFunc

	// Timeout for a request, DefaultTimeout if zero. Ignored if HTTPClient
	// is set.
	Timeout time.Duration

	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client submits images to the inference endpoint.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string

	auth AuthFunc
	log  *zap.Logger
}

// NewClient makes a new Client.
func NewClient(opts *ClientOpts) *Client {
	var xopts ClientOpts
	if opts != nil {
		xopts = *opts
	}
	baseURL := xopts.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv(BaseURLEnv)
	}
	if baseURL == "" {
		baseURL = APIBaseURL
	}
	c := &Client{
		HTTPClient: xopts.HTTPClient,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		auth:       xopts.Auth,
		log:        xopts.Logger,
	}
	if c.HTTPClient == nil {
		c.HTTPClient = newHTTPClient(xopts.Timeout)
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// Detect uploads a JPEG image with a confidence threshold and returns the
// detections. The threshold is clamped to [0.1, 0.9].
//
// A 2xx response is returned as a result, with Success false if the endpoint
// reported a failure. Non-2xx responses, transport failures and bodies that
// cannot be decoded, including severities other than mild, moderate and
// severe, are returned as *RequestError. The request is not retried.
func (c *Client) Detect(ctx context.Context, jpeg []byte, threshold float64) (*krishisahay.DetectionResult, error) {
	if len(jpeg) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	th := krishisahay.ClampThreshold(threshold)
	if th != threshold {
		c.log.Debug("clamped confidence threshold", zap.Float64("requested", threshold), zap.Float64("used", th))
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="capture.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("creating multipart file: %v", err)
	}
	if _, err := part.Write(jpeg); err != nil {
		return nil, fmt.Errorf("writing multipart file: %v", err)
	}
	if err := mw.WriteField("confidence_threshold", strconv.FormatFloat(th, 'f', -1, 64)); err != nil {
		return nil, fmt.Errorf("writing multipart field: %v", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+DetectPath, &body)
	if err != nil {
		return nil, fmt.Errorf("new HTTP request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	if c.auth != nil {
		hdrs, err := c.auth()
		if err != nil {
			return nil, fmt.Errorf("auth headers: %w", err)
		}
		for k, v := range hdrs {
			req.Header.Set(k, v)
		}
	}

	t0 := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &RequestError{Err: err}
	}
	defer func() {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Attempt to read a response message to use in error message, otherwise use http status message.
		msg := resp.Status
		buf, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err == nil && len(buf) > 0 {
			msg = errorMessage(buf)
		}
		return nil, &RequestError{Code: resp.StatusCode, Status: msg}
	}

	var result krishisahay.DetectionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &RequestError{Err: fmt.Errorf("decoding response: %w", err)}
	}
	if result.DetectionCount != len(result.Detections) {
		c.log.Warn("detection count does not match detections", zap.Int("count", result.DetectionCount), zap.Int("detections", len(result.Detections)))
		result.DetectionCount = len(result.Detections)
	}
	if result.Detections == nil {
		result.Detections = []krishisahay.Detection{}
	}
	for i := range result.Detections {
		d := &result.Detections[i]
		d.Severity = krishisahay.Severity(strings.ToLower(strings.TrimSpace(string(d.Severity))))
		if !d.Severity.Valid() {
			return nil, &RequestError{Err: fmt.Errorf("decoding response: detection %d (%s): unknown severity %q", i, d.ClassName, d.Severity)}
		}
	}
	if !result.Success {
		c.log.Warn("inference endpoint reported failure", zap.Int("status", resp.StatusCode))
	}
	c.log.Debug("detection response", zap.Bool("success", result.Success), zap.Int("detections", result.DetectionCount), zap.Duration("elapsed", time.Since(t0)), zap.Float64("processing", result.ProcessingTime))
	return &result, nil
}

// errorMessage returns the "detail" or "message" field of a JSON error body,
// or the body itself.
func errorMessage(buf []byte) string {
	var v struct {
		Detail  any    `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(buf, &v); err == nil {
		switch d := v.Detail.(type) {
		case string:
			if d != "" {
				return d
			}
		case nil:
		default:
			if b, err := json.Marshal(d); err == nil {
				return string(b)
			}
		}
		if v.Message != "" {
			return v.Message
		}
	}
	return strings.TrimSpace(string(buf))
}
