// Package attendance is the client for the remote attendance API.
package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-hclog"

	"github.com/dotside-studios/davi-attendance/buildinfo"
	"github.com/dotside-studios/davi-attendance/logging"
)

// API paths relative to the base URL.
const (
	PathAttendance = "/attendance"
	PathInfo       = "/attendance/info"
)

// DefaultTimeout bounds a single API call.
const DefaultTimeout = 10 * time.Second

// Action is the attendance event recorded by POST /attendance.
type Action string

const (
	ActionCheckIn  Action = "check_in"
	ActionCheckOut Action = "check_out"
)

// Request is the body of POST /attendance.
type Request struct {
	NFCID  string `json:"nfc_id"`
	Action Action `json:"action"`
}

// Info is the status object returned by the API. Fields the kiosk does not
// model are kept in Extra.
type Info struct {
	NFCID     string         `json:"nfc_id"`
	Status    Action         `json:"status"`
	Timestamp string         `json:"timestamp,omitempty"`
	Extra     map[string]any `json:"-"`
}

var infoKnownFields = []string{"nfc_id", "status", "timestamp"}

// UnmarshalJSON fills the known fields and keeps the rest in Extra.
func (i *Info) UnmarshalJSON(data []byte) error {
	type plain Info
	var known plain
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range infoKnownFields {
		delete(all, k)
	}
	if len(all) > 0 {
		known.Extra = all
	}
	*i = Info(known)
	return nil
}

// MarshalJSON writes Extra alongside the known fields.
func (i Info) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(i.Extra)+3)
	for k, v := range i.Extra {
		out[k] = v
	}
	out["nfc_id"] = i.NFCID
	out["status"] = i.Status
	if i.Timestamp != "" {
		out["timestamp"] = i.Timestamp
	}
	return json.Marshal(out)
}

// CheckedIn reports whether the status is check_in.
func (i *Info) CheckedIn() bool {
	return i.Status == ActionCheckIn
}

// APIError is returned for non-2xx responses.
type APIError struct {
	Op         string // e.g. "check-in request"
	StatusCode int
	Status     string // HTTP status text
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Op, e.Status)
}

// IsAPIError reports whether err carries an API status error.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// Client calls the attendance API. It never retries.
type Client struct {
	http   *resty.Client
	logger hclog.Logger
}

// NewClient returns a client for baseURL.
func NewClient(baseURL string, timeout time.Duration, logger hclog.Logger) *Client {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", buildinfo.UserAgent()).
		SetLogger(logging.NewRestyLogger(logger))

	return &Client{http: httpClient, logger: logger}
}

// CheckIn records a check-in for nfcID.
func (c *Client) CheckIn(ctx context.Context, nfcID string) (*Info, error) {
	return c.record(ctx, "check-in request", nfcID, ActionCheckIn)
}

// CheckOut records a check-out for nfcID.
func (c *Client) CheckOut(ctx context.Context, nfcID string) (*Info, error) {
	return c.record(ctx, "check-out request", nfcID, ActionCheckOut)
}

// Info fetches the current attendance status for nfcID.
func (c *Client) Info(ctx context.Context, nfcID string) (*Info, error) {
	var info Info
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&info).
		Get(PathInfo + "/" + url.PathEscape(nfcID))
	if err := c.check("status check", resp, err); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) record(ctx context.Context, op, nfcID string, action Action) (*Info, error) {
	var info Info
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(Request{NFCID: nfcID, Action: action}).
		SetResult(&info).
		Post(PathAttendance)
	if err := c.check(op, resp, err); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) check(op string, resp *resty.Response, err error) error {
	if err != nil {
		c.logger.Debug("request failed", "op", op, "error", err)
		return fmt.Errorf("%s failed: %w", op, err)
	}
	if resp.IsError() || resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		c.logger.Debug("unexpected response", "op", op, "status", resp.Status())
		return &APIError{Op: op, StatusCode: resp.StatusCode(), Status: statusText(resp)}
	}
	return nil
}

// statusText returns the reason phrase, e.g. "Not Found".
func statusText(resp *resty.Response) string {
	status := resp.Status() // "404 Not Found"
	if _, text, ok := strings.Cut(status, " "); ok && text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode())
}
