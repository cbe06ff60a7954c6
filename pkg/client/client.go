package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/IpsoVeritas/fanpanel"
	"github.com/pkg/errors"
)

const requestTimeout = 10 * time.Second

// PanelClient talks to a fanpanel server. Devices use it to announce their
// address, tools use it to set the speed and follow events.
type PanelClient struct {
	endpoint   string
	httpClient *http.Client
}

// NewPanelClient creates a client for the panel at endpoint. If client is
// nil, one with a 10s timeout is used.
func NewPanelClient(endpoint string, client *http.Client) (*PanelClient, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, errors.New("panel endpoint is required")
	}
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}

	return &PanelClient{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: client,
	}, nil
}

// Register announces the device address to the panel.
func (p *PanelClient) Register(ctx context.Context, ip string) (*fanpanel.RegistrationResponse, error) {
	body, _ := json.Marshal(&fanpanel.RegistrationRequest{IP: ip})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/receive_ip", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := p.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to register")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		e := &fanpanel.ErrorResponse{}
		if err := json.NewDecoder(res.Body).Decode(e); err != nil || e.Message == "" {
			return nil, errors.Errorf("registration failed with status %d", res.StatusCode)
		}
		return nil, errors.Errorf("registration failed: %s", e.Message)
	}

	r := &fanpanel.RegistrationResponse{}
	if err := json.NewDecoder(res.Body).Decode(r); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal registration response")
	}

	return r, nil
}

// SetSpeed asks the panel to forward speed to the device and returns the
// device's answer.
func (p *PanelClient) SetSpeed(ctx context.Context, speed fanpanel.Speed) (string, error) {
	q := url.Values{"speed": []string{speed.String()}}

	body, status, err := p.get(ctx, "/update?"+q.Encode())
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", errors.Errorf("set speed failed with status %d: %s", status, strings.TrimSpace(body))
	}

	return body, nil
}

func (p *PanelClient) Status(ctx context.Context) (*fanpanel.Status, error) {
	body, status, err := p.get(ctx, "/status")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, errors.Errorf("status failed with status %d", status)
	}

	s := &fanpanel.Status{}
	if err := json.Unmarshal([]byte(body), s); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal status")
	}

	return s, nil
}

func (p *PanelClient) get(ctx context.Context, path string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+path, nil)
	if err != nil {
		return "", 0, errors.Wrap(err, "failed to build request")
	}

	res, err := p.httpClient.Do(req)
	if err != nil {
		return "", 0, errors.Wrapf(err, "request %s", path)
	}
	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return "", 0, errors.Wrapf(err, "read %s", path)
	}

	return string(b), res.StatusCode, nil
}
