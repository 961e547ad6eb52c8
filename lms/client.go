// Package lms is a client for the subset of the Canvas REST API used to
// attach grading spreadsheets to submissions and post grades.
package lms

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Sirupsen/logrus"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL  = "https://ufl.instructure.com/api/v1/"
	DefaultMaxPages = 1000
	DefaultPerPage  = 100
)

// Options configures a Client. Only BaseURL and Token are required.
type Options struct {
	BaseURL string
	Token   string

	// RequestsPerSecond spaces requests; zero means unlimited.
	RequestsPerSecond float64

	// HTTPClient supplies the transport (tests point this at httptest).
	HTTPClient *http.Client

	MaxPages  int
	APIReport bool
	APIDump   bool
	Log       *logrus.Entry
}

// Client talks to one LMS instance with one bearer token.
// It issues one request at a time.
type Client struct {
	base      *url.URL
	api       *http.Client
	upload    *http.Client
	limiter   *rate.Limiter
	maxPages  int
	apiReport bool
	apiDump   bool
	log       *logrus.Entry
}

// StatusError is returned when the LMS answers with an unexpected status.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("unexpected status from %s %s: %s", e.Method, e.URL, e.Status)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// IsNotFound reports whether err is a 404 from the LMS.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// New builds a Client. Requests to the API carry the bearer token through
// an oauth2 static token source; uploads to the storage URL do not.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(opts.BaseURL, "/") {
		opts.BaseURL += "/"
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing base URL %q", opts.BaseURL)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base URL %q must be http or https", opts.BaseURL)
	}
	if opts.Token == "" {
		return nil, fmt.Errorf("no access token")
	}

	raw := opts.HTTPClient
	if raw == nil {
		raw = http.DefaultClient
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, raw)
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token, TokenType: "Bearer"})

	c := &Client{
		base: base,
		api:  oauth2.NewClient(ctx, src),
		upload: &http.Client{
			Transport: raw.Transport,
			Timeout:   raw.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		maxPages:  opts.MaxPages,
		apiReport: opts.APIReport || opts.APIDump,
		apiDump:   opts.APIDump,
		log:       opts.Log,
	}
	if c.maxPages <= 0 {
		c.maxPages = DefaultMaxPages
	}
	if c.log == nil {
		c.log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return c, nil
}

// BaseURL returns the API root every relative path is resolved against.
func (c *Client) BaseURL() string { return c.base.String() }

// resolve turns an API-relative path into an absolute URL. Absolute URLs
// (pagination links, upload locations) are returned unchanged.
func (c *Client) resolve(target string, params url.Values) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", errors.Wrapf(err, "parsing URL %q", target)
	}
	if !u.IsAbs() {
		u = c.base.ResolveReference(&url.URL{Path: strings.TrimPrefix(u.Path, "/"), RawQuery: u.RawQuery})
	}
	if len(params) > 0 {
		q := u.Query()
		for key, vals := range params {
			for _, v := range vals {
				q.Add(key, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return ctx.Err()
	}
	return c.limiter.Wait(ctx)
}

// getJSON issues a GET and decodes the JSON response into download.
// A *[]byte download receives the body undecoded.
// The response headers are returned for callers that need Link relations.
func (c *Client) getJSON(ctx context.Context, target string, params url.Values, download interface{}) (http.Header, error) {
	u, err := c.resolve(target, params)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating http request")
	}
	return c.doRequest(c.api, req, nil, download)
}

// sendForm issues a POST or PUT whose arguments are form-encoded in the
// query string, the way the LMS accepts submission updates.
func (c *Client) sendForm(ctx context.Context, method, target string, form url.Values, download interface{}) (http.Header, error) {
	u, err := c.resolve(target, form)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating http request")
	}
	return c.doRequest(c.api, req, nil, download)
}

// sendJSON issues a POST or PUT with a JSON body.
func (c *Client) sendJSON(ctx context.Context, method, target string, upload, download interface{}) (http.Header, error) {
	u, err := c.resolve(target, nil)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(upload)
	if err != nil {
		return nil, errors.Wrap(err, "JSON error encoding object to upload")
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "creating http request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doRequest(c.api, req, payload, download)
}

func (c *Client) doRequest(client *http.Client, req *http.Request, payload []byte, download interface{}) (http.Header, error) {
	if err := c.wait(req.Context()); err != nil {
		return nil, err
	}
	if c.apiReport {
		c.log.Infof("%s %s", req.Method, req.URL)
	}
	if c.apiDump && payload != nil {
		c.log.Infof("Request data: %s", payload)
	}

	if download != nil {
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Accept-Encoding", "gzip")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "error connecting to %s", req.URL.Host)
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return resp.Header, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.Header, &StatusError{
			Method:     req.Method,
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       truncate(string(body), 512),
		}
	}
	if c.apiDump {
		c.log.Infof("Response data: %s", body)
	}

	if raw, ok := download.(*[]byte); ok {
		*raw = body
	} else if download != nil {
		if err := json.Unmarshal(body, download); err != nil {
			return resp.Header, errors.Wrapf(err, "failed to parse result object from %s", req.URL)
		}
	}
	return resp.Header, nil
}

// readBody reads the whole response, undoing gzip when the server used it.
func readBody(resp *http.Response) ([]byte, error) {
	var body io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, errors.Wrap(err, "failed to decompress gzip result")
		}
		defer gz.Close()
		body = gz
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, errors.Wrap(err, "reading response body")
	}
	return raw, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
