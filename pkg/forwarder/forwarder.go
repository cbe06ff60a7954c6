// Package forwarder relays speed commands to the fan controller's HTTP
// endpoint.
package forwarder

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/IpsoVeritas/fanpanel"
	"github.com/pkg/errors"
)

const (
	DefaultTimeout = 2 * time.Second
	SetSpeedPath   = "/setSpeed"

	// responses larger than this are truncated
	maxBodySize = 1024 * 500
)

// Response is the device's answer, relayed to the caller as is.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// UpstreamError is returned when the device could not be reached at all.
type UpstreamError struct {
	URL   string
	cause error
}

func (e *UpstreamError) Error() string {
	return e.cause.Error()
}

func (e *UpstreamError) Cause() error {
	return e.cause
}

func (e *UpstreamError) Unwrap() error {
	return e.cause
}

func (e *UpstreamError) Is(target error) bool {
	return target == fanpanel.ErrUpstream
}

type Forwarder struct {
	client  *http.Client
	timeout time.Duration
}

// New creates a Forwarder. If client is nil, the http.DefaultClient is used.
// A timeout of zero uses DefaultTimeout.
func New(client *http.Client, timeout time.Duration) *Forwarder {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Forwarder{client: client, timeout: timeout}
}

// URL builds the device URL for a speed command.
func URL(address string, speed fanpanel.Speed) (string, error) {
	u, err := url.Parse(address)
	if err != nil {
		return "", errors.Wrap(fanpanel.ErrInvalidInput, err.Error())
	}

	u.Path = u.Path + SetSpeedPath
	u.RawQuery = url.Values{"speed": []string{speed.String()}}.Encode()

	return u.String(), nil
}

// Forward sends the speed to the device at address. Any HTTP response,
// whatever its status, is returned. Transport failures are returned as
// *UpstreamError.
func (f *Forwarder) Forward(ctx context.Context, address string, speed fanpanel.Speed) (*Response, error) {
	endpoint, err := URL(address, speed)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &UpstreamError{URL: endpoint, cause: err}
	}

	res, err := f.client.Do(req)
	if err != nil {
		return nil, &UpstreamError{URL: endpoint, cause: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
	if err != nil {
		return nil, &UpstreamError{URL: endpoint, cause: errors.Wrap(err, "failed to read response")}
	}

	return &Response{
		Status:      res.StatusCode,
		ContentType: res.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}
