package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/cortexproject/resultdist/pkg/distribution"
	"github.com/cortexproject/resultdist/pkg/jobs"
)

const (
	pagePath = "/api/v1/distributed/{job}/{phase}"
	killPath = "/api/v1/jobs/{job}/kill"

	// maxErrMsgLen is how much of an error response body is kept.
	maxErrMsgLen = 1024
)

// AddrResolver maps a node id to the host:port it serves HTTP on.
type AddrResolver interface {
	Addr(nodeID string) (string, error)
}

// StatusError is a non-2xx answer of a node.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned HTTP status %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned HTTP status %d: %s", e.StatusCode, e.Message)
}

// Client delivers pages and kill messages to other nodes over HTTP. It
// implements distribution.Transport.
type Client struct {
	addrs  AddrResolver
	client *http.Client
}

// NewClient makes a new Client. Connections are pooled per node.
func NewClient(addrs AddrResolver) *Client {
	return &Client{
		addrs:  addrs,
		client: cleanhttp.DefaultPooledClient(),
	}
}

// Send implements distribution.Transport. A 409 or any other 4xx answer is a
// rejection; 5xx answers and network errors are temporary failures.
func (c *Client) Send(ctx context.Context, node string, req *distribution.Request) error {
	addr, err := c.addrs.Addr(node)
	if err != nil {
		return distribution.NewRejection(node, err)
	}

	body, err := encodeRequest(req)
	if err != nil {
		return distribution.NewRejection(node, err)
	}

	path := expandPath(pagePath, "{job}", req.JobID.String(), "{phase}", fmt.Sprint(req.PhaseID))
	return c.doRequest(ctx, node, "http://"+addr+path, bytes.NewReader(body), func(h http.Header) {
		h.Set("Content-Type", contentType)
		h.Set("Content-Encoding", contentEncoding)
	})
}

// Kill asks node to kill every component of jobID it runs.
func (c *Client) Kill(ctx context.Context, node string, jobID jobs.JobID, reason string) error {
	addr, err := c.addrs.Addr(node)
	if err != nil {
		return err
	}

	form := url.Values{"reason": []string{reason}}
	path := expandPath(killPath, "{job}", jobID.String())
	return c.doRequest(ctx, node, "http://"+addr+path, strings.NewReader(form.Encode()), func(h http.Header) {
		h.Set("Content-Type", "application/x-www-form-urlencoded")
	})
}

func (c *Client) doRequest(ctx context.Context, node, target string, body io.Reader, setHeaders func(http.Header)) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return distribution.NewRejection(node, errors.Wrap(err, "unable to create request"))
	}
	setHeaders(httpReq.Header)
	if span := opentracing.SpanFromContext(ctx); span != nil {
		// The receiving node continues the trace from these headers.
		_ = span.Tracer().Inject(span.Context(), opentracing.HTTPHeaders, opentracing.HTTPHeadersCarrier(httpReq.Header))
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		// Report the context error as is: a deadline is retried, a
		// cancellation is not.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return distribution.NewTemporaryFailure(node, errors.Wrap(err, "error sending request"))
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, httpResp.Body)
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrMsgLen))
	statusErr := &StatusError{
		StatusCode: httpResp.StatusCode,
		Message:    strings.TrimSpace(string(msg)),
	}
	if httpResp.StatusCode/100 == 5 || httpResp.StatusCode == http.StatusTooManyRequests {
		return distribution.NewTemporaryFailure(node, statusErr)
	}
	return distribution.NewRejection(node, statusErr)
}

func expandPath(pattern string, oldnew ...string) string {
	for i := 0; i+1 < len(oldnew); i += 2 {
		oldnew[i+1] = url.PathEscape(oldnew[i+1])
	}
	return strings.NewReplacer(oldnew...).Replace(pattern)
}
