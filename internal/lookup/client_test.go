package lookup

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.UnixMilli(1700000000123)

type recorder struct {
	mu    sync.Mutex
	query []map[string]string
}

func (r *recorder) add(req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := map[string]string{}
	for k, v := range req.URL.Query() {
		q[k] = v[0]
	}
	r.query = append(r.query, q)
}

func newTestClient() *Client {
	return NewClient("", WithClock(func() time.Time { return fixedNow }))
}

func TestLookup_FirstAttemptSucceeds(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		_, _ = w.Write([]byte(`{"code":0,"data":{"payOrderId":"PAY999"}}`))
	}))
	defer srv.Close()

	res := newTestClient().Lookup(context.Background(), "ABC123", srv.URL+"/api/query?channel=tg")
	require.True(t, res.Found())
	assert.Equal(t, "PAY999", res.PayOrderID)
	assert.Equal(t, "OK(ts=1700000000123)", res.Diagnostic)

	require.Len(t, rec.query, 1)
	q := rec.query[0]
	assert.Equal(t, "ABC123", q["mchOrderNo"])
	assert.Equal(t, "1700000000123", q["timestamp"])
	assert.Equal(t, "tg", q["channel"])
	assert.Equal(t, Sign(map[string]string{"mchOrderNo": "ABC123", "timestamp": "1700000000123"}, DefaultSecret), q["sign"])
}

func TestLookup_RetriesWithSeconds(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		if len(r.URL.Query().Get("timestamp")) > 10 {
			_, _ = w.Write([]byte(`{"code":1001,"msg":"bad sign"}`))
			return
		}
		_, _ = w.Write([]byte(`{"code":0,"data":{"payOrderId":12345}}`))
	}))
	defer srv.Close()

	res := newTestClient().Lookup(context.Background(), "ABC123", srv.URL)
	assert.Equal(t, "12345", res.PayOrderID)
	assert.Equal(t, "OK(ts=1700000000)", res.Diagnostic)
	require.Len(t, rec.query, 2)
	assert.Equal(t, "1700000000123", rec.query[0]["timestamp"])
	assert.Equal(t, "1700000000", rec.query[1]["timestamp"])
}

func TestLookup_BothFailReportsLastBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":0,"data":{"payOrderId":""}}`))
	}))
	defer srv.Close()

	res := newTestClient().Lookup(context.Background(), "ABC123", srv.URL)
	assert.False(t, res.Found())
	assert.Equal(t, `FAIL(resp={"code":0,"data":{"payOrderId":""}})`, res.Diagnostic)
}

func TestLookup_HTTPErrorIsAttemptFailure(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	res := newTestClient().Lookup(context.Background(), "X1", srv.URL)
	assert.False(t, res.Found())
	assert.Equal(t, 2, calls)
	assert.True(t, strings.HasPrefix(res.Diagnostic, "FAIL(resp={exception: HTTP 500"))
	assert.Contains(t, res.Diagnostic, "ts: 1700000000}")
}

func TestLookup_MalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>oops</html>`))
	}))
	defer srv.Close()

	res := newTestClient().Lookup(context.Background(), "X1", srv.URL)
	assert.False(t, res.Found())
	assert.Contains(t, res.Diagnostic, "invalid JSON response")
}

func TestLookup_UnreachableNeverPanics(t *testing.T) {
	res := newTestClient().Lookup(context.Background(), "X1", "http://127.0.0.1:1/nothing")
	assert.False(t, res.Found())
	assert.True(t, strings.HasPrefix(res.Diagnostic, "FAIL(resp={exception:"))
}
