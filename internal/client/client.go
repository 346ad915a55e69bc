package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	v1 "github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/handlers/v1"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/pkg/requestid"
	"github.com/pkg/errors"
)

// APIError is returned for every non 2xx answer of the job API.
type APIError struct {
	StatusCode int
	Reply      v1.ErrorReply
}

func (e *APIError) Error() string {
	if e.Reply.ErrorCode == "" {
		return fmt.Sprintf("job api returned %d", e.StatusCode)
	}
	return fmt.Sprintf("job api returned %d: %s: %s", e.StatusCode, e.Reply.ErrorCode, e.Reply.Message)
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// Client talks to the job API on behalf of one user.
type Client struct {
	server string
	user   string
	http   *http.Client
}

func New(server, user string, opts ...Option) (*Client, error) {
	u, err := url.Parse(server)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", server)
	}
	c := &Client{
		server: strings.TrimRight(server, "/"),
		user:   user,
		http:   NewHTTPClient(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// NewHTTPClient returns the transport settings used by the cli.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

func (c *Client) CreateJob(ctx context.Context, form v1.CreateJobForm) (*v1.CreateJobReply, error) {
	var reply v1.CreateJobReply
	if err := c.do(ctx, http.MethodPost, "/api/v1/jobs", form, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *Client) GetJob(ctx context.Context, id string) (*v1.JobReply, error) {
	var reply v1.JobReply
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(id), nil, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *Client) ListJobs(ctx context.Context) ([]v1.JobReply, error) {
	var reply []v1.JobReply
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs", nil, &reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *Client) GetJobOutput(ctx context.Context, id string) (*v1.JobOutputReply, error) {
	var reply v1.JobOutputReply
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(id)+"/output", nil, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encoding request")
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.server+path, payload)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(v1.UserHeader, c.user)
	req.Header.Set(requestid.Header, requestid.Generate())

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "reading response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(data, &apiErr.Reply)
		return apiErr
	}
	return errors.Wrap(json.Unmarshal(data, out), "decoding response")
}
