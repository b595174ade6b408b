package lookup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dayuer/botrelay/internal/metrics"
)

const (
	// DefaultSecret is used when no signing secret is configured.
	DefaultSecret = "RobotSecret123456"
	// AttemptTimeout bounds each HTTP attempt.
	AttemptTimeout = 15 * time.Second

	maxBodyBytes = 1 << 20
)

// Result is the outcome of a lookup. PayOrderID is empty when nothing was
// found; Diagnostic always describes the last attempt.
type Result struct {
	PayOrderID string
	Diagnostic string
}

// Found reports whether a pay order id was returned.
func (r Result) Found() bool { return r.PayOrderID != "" }

// Client calls the lookup API.
type Client struct {
	secret string
	http   *http.Client
	now    func() time.Time
	log    zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithClock replaces the time source used for request timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithLogger attaches a logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// NewClient creates a lookup client signing requests with secret.
func NewClient(secret string, opts ...Option) *Client {
	if secret == "" {
		secret = DefaultSecret
	}
	c := &Client{
		secret: secret,
		http:   &http.Client{},
		now:    time.Now,
		log:    zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type apiResponse struct {
	Code any `json:"code"`
	Data struct {
		PayOrderID any `json:"payOrderId"`
	} `json:"data"`
}

// Lookup resolves mchOrderNo against baseURL. The request is first signed with
// a millisecond timestamp and, if that fails, once more with a second
// timestamp. Lookup never returns an error; failures are reported through
// Result.Diagnostic.
func (c *Client) Lookup(ctx context.Context, mchOrderNo, baseURL string) Result {
	now := c.now()
	attempts := []struct{ precision, ts string }{
		{"ms", strconv.FormatInt(now.UnixMilli(), 10)},
		{"s", strconv.FormatInt(now.Unix(), 10)},
	}

	var last string
	for _, a := range attempts {
		payID, resp, err := c.attempt(ctx, mchOrderNo, baseURL, a.precision, a.ts)
		if err == nil && payID != "" {
			return Result{PayOrderID: payID, Diagnostic: fmt.Sprintf("OK(ts=%s)", a.ts)}
		}
		if err != nil {
			last = fmt.Sprintf("{exception: %s, ts: %s}", err, a.ts)
		} else {
			last = resp
		}
		c.log.Debug().Str("mch_order_no", mchOrderNo).Str("ts", a.ts).Str("resp", last).Msg("lookup attempt failed")
	}
	return Result{Diagnostic: fmt.Sprintf("FAIL(resp=%s)", last)}
}

// attempt performs one signed request. A non-nil error means no usable
// response body; otherwise resp holds the raw body and payID is set only on
// success.
func (c *Client) attempt(ctx context.Context, mchOrderNo, baseURL, precision, ts string) (payID, resp string, err error) {
	ctx, span := otel.Tracer("botrelay/lookup").Start(ctx, "lookup.attempt")
	span.SetAttributes(attribute.String("lookup.precision", precision))
	start := time.Now()
	defer func() {
		outcome := "fail"
		if payID != "" {
			outcome = "ok"
		} else if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.LookupAttempts.WithLabelValues(precision, outcome).Inc()
		metrics.LookupDuration.Observe(time.Since(start).Seconds())
		span.End()
	}()

	reqURL, err := c.buildURL(mchOrderNo, baseURL, ts)
	if err != nil {
		return "", "", err
	}

	ctx, cancel := context.WithTimeout(ctx, AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return "", "", err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return "", "", err
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return "", "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed apiResponse
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&parsed); err != nil {
		return "", "", fmt.Errorf("invalid JSON response: %w", err)
	}

	raw := strings.TrimSpace(string(body))
	if !isZero(parsed.Code) {
		return "", raw, nil
	}
	return payOrderID(parsed.Data.PayOrderID), raw, nil
}

func (c *Client) buildURL(mchOrderNo, baseURL, ts string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid lookup url: %w", err)
	}
	params := map[string]string{"mchOrderNo": mchOrderNo, "timestamp": ts}
	params["sign"] = Sign(params, c.secret)

	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// payOrderID accepts the id as a JSON string or number.
func payOrderID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case json.Number:
		return id.String()
	}
	return ""
}

func isZero(code any) bool {
	n, ok := code.(json.Number)
	if !ok {
		return false
	}
	f, err := n.Float64()
	return err == nil && f == 0
}
