package bridge

import (
	"context"
	"encoding/base64"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Cancellation reasons recorded on a pending request, mapped to the
// matching terminal event kind.
const (
	reasonAbort   = "abort"
	reasonTimeout = "timeout"
)

type xhrClient struct {
	client *resty.Client
	logger *zap.Logger
}

func newXHRClient(logger *zap.Logger) *xhrClient {
	client := resty.New()
	// The body is read manually so a read failure after a successful
	// status can be reported as an error event, not a completion.
	client.SetDoNotParseResponse(true)
	return &xhrClient{client: client, logger: logger}
}

// handleXHRStart runs one http-request call through its state machine:
// issued -> in-flight -> {load | error | abort | timeout}. Exactly one
// terminal event fires per id; the registry in Deliver enforces it even
// under cancellation races.
func (b *Bridge) handleXHRStart(c *call) {
	url := c.payload.Get("url").String()
	if url == "" {
		b.Deliver(c.id, EventError, map[string]interface{}{"status": 0, "error": "missing url"})
		return
	}
	method := strings.ToUpper(c.payload.Get("method").String())
	if method == "" {
		method = "GET"
	}

	pr, ok := b.lookupPending(c.id)
	if !ok {
		// Retired before we started (page closed).
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pr.arm(cancel)

	if timeoutMs := c.payload.Get("timeout").Int(); timeoutMs > 0 {
		timer := time.AfterFunc(time.Duration(timeoutMs)*time.Millisecond, func() {
			pr.interrupt(reasonTimeout)
		})
		defer timer.Stop()
	}

	req := b.xhr.client.R().SetContext(ctx)
	c.payload.Get("headers").ForEach(func(k, v gjson.Result) bool {
		req.SetHeader(k.String(), v.String())
		return true
	})
	// Basic auth is the only implicit header mutation performed.
	if user := c.payload.Get("user"); user.Exists() {
		req.SetBasicAuth(user.String(), c.payload.Get("password").String())
	}
	if data := c.payload.Get("data"); data.Exists() {
		req.SetBody(data.String())
	}

	resp, err := req.Execute(method, url)
	if err != nil {
		b.deliverXHRFailure(c.id, url, pr.takeReason(), err)
		return
	}
	defer func() { _ = resp.RawBody().Close() }()

	body, err := io.ReadAll(resp.RawBody())
	if err != nil {
		// Covers both mid-body cancellation and genuine read failures
		// after a successful status line.
		b.deliverXHRFailure(c.id, url, pr.takeReason(), err)
		return
	}

	contentType := resp.Header().Get("Content-Type")
	responseType := effectiveResponseType(c.payload.Get("responseType").String(), contentType)

	finalURL := url
	if resp.RawResponse != nil && resp.RawResponse.Request != nil && resp.RawResponse.Request.URL != nil {
		finalURL = resp.RawResponse.Request.URL.String()
	}

	payload := map[string]interface{}{
		"status":          resp.StatusCode(),
		"statusText":      resp.Status(),
		"finalUrl":        finalURL,
		"responseHeaders": flattenHeaders(resp),
		"responseType":    responseType,
		"contentType":     contentType,
	}
	switch responseType {
	case "arraybuffer", "blob":
		// Binary payloads cross the privilege boundary as base64 text;
		// the shim reconstructs them with the carried content type.
		payload["bodyBase64"] = base64.StdEncoding.EncodeToString(body)
	default:
		payload["body"] = string(body)
	}

	b.Deliver(c.id, EventLoad, payload)
}

// handleXHRAbort services the abort handle: a notification referencing
// the target request id. Aborting an already-terminal request is a
// logged no-op.
func (b *Bridge) handleXHRAbort(c *call) {
	target := c.payload.Get("target").Int()
	pr, ok := b.lookupPending(target)
	if !ok || pr.op != OpXHRStart {
		b.logger.Debug("abort for unknown or finished request", zap.Int64("target", target))
		return
	}
	pr.interrupt(reasonAbort)
}

func (b *Bridge) deliverXHRFailure(id int64, url, reason string, err error) {
	switch reason {
	case reasonTimeout:
		// Synthetic zero-status response, as XHR reports timeouts.
		b.Deliver(id, EventTimeout, map[string]interface{}{
			"status": 0, "finalUrl": url, "error": "timeout",
		})
	case reasonAbort:
		b.Deliver(id, EventAbort, map[string]interface{}{
			"status": 0, "finalUrl": url, "error": "aborted",
		})
	default:
		b.logger.Debug("http-request failed", zap.String("url", url), zap.Error(err))
		b.Deliver(id, EventError, map[string]interface{}{
			"status": 0, "finalUrl": url, "error": err.Error(),
		})
	}
}

// effectiveResponseType resolves the materialization of the body:
// explicit requested type if known, else json when the content type says
// so, else text.
func effectiveResponseType(requested, contentType string) string {
	switch strings.ToLower(requested) {
	case "json", "text", "arraybuffer", "blob":
		return strings.ToLower(requested)
	}
	if strings.Contains(strings.ToLower(contentType), "json") {
		return "json"
	}
	return "text"
}

// flattenHeaders renders response headers in the raw `Key: value` CRLF
// form userscripts expect from responseHeaders.
func flattenHeaders(resp *resty.Response) string {
	header := resp.Header()
	keys := make([]string, 0, len(header))
	for k := range header {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		for _, v := range header[k] {
			sb.WriteString(k)
			sb.WriteString(": ")
			sb.WriteString(v)
			sb.WriteString("\r\n")
		}
	}
	return sb.String()
}
