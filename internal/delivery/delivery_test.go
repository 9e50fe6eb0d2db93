package delivery

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Vovarama1992/alphasnap/internal/archive"
	"github.com/Vovarama1992/alphasnap/internal/convert"
	"github.com/Vovarama1992/alphasnap/internal/quota"
	"github.com/Vovarama1992/go-utils/logger"
	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeConverter struct {
	job    convert.Job
	names  []string
	result func() *convert.Result
}

func (f *fakeConverter) Convert(_ context.Context, job convert.Job) (*convert.Result, error) {
	f.job = job
	for _, d := range job.Documents {
		f.names = append(f.names, d.Name())
	}
	return f.result(), nil
}

func okResult(t *testing.T) func() *convert.Result {
	return func() *convert.Result {
		w := archive.OpenMemory()
		require.NoError(t, w.WriteEntry("doc_001.png", []byte("png")))
		b, err := w.Finalize()
		require.NoError(t, err)
		return &convert.Result{JobID: "job-1", Status: convert.StatusOK, Archive: b, Pages: 1}
	}
}

func newRouter(t *testing.T, gate *quota.Gate, conv Converter, perMinute int) http.Handler {
	t.Helper()
	zl := logger.NewZapLogger(zap.NewNop().Sugar())
	r := chi.NewRouter()
	RegisterRoutes(r, NewQuotaHandler(gate, zl), NewConvertHandler(conv, 1<<20, zl), perMinute)
	return r
}

func newGate(secrets ...string) *quota.Gate {
	return quota.NewGate(quota.NewMemoryStore(), quota.Config{DailyLimit: 3, Secrets: secrets})
}

func multipartBody(t *testing.T, fields map[string]string, files ...string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, name := range files {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		fw.Write([]byte("%PDF-1.7\n"))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestPing(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter(t, newGate(), &fakeConverter{}, 0).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())
}

func TestResolveIdentity(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.7:5555"
	assert.Equal(t, "10.0.0.7", ResolveIdentity(r))

	r.Header.Set("X-Forwarded-For", " 203.0.113.9 , 10.0.0.1")
	assert.Equal(t, "203.0.113.9", ResolveIdentity(r))

	r.Header.Set("X-Device-Id", "abc")
	assert.Equal(t, "device:abc", ResolveIdentity(r))
}

func TestStatus(t *testing.T) {
	gate := newGate()
	adm, err := gate.CheckAndReserve(context.Background(), "192.0.2.1", 1)
	require.NoError(t, err)
	require.NoError(t, gate.Commit(context.Background(), adm.Reservation, 1))

	rec := httptest.NewRecorder()
	newRouter(t, gate, &fakeConverter{}, 0).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body quotaView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, 3, body.Limit)
	assert.Equal(t, 2, body.Remaining)
	assert.False(t, body.LimitReached)
}

func TestUnlock(t *testing.T) {
	cases := []struct {
		name    string
		secrets []string
		body    string
		code    int
	}{
		{"ok", []string{"s3cret"}, `{"password":"s3cret"}`, http.StatusOK},
		{"wrong", []string{"s3cret"}, `{"password":"nope"}`, http.StatusUnauthorized},
		{"not configured", nil, `{"password":"x"}`, http.StatusServiceUnavailable},
		{"bad json", []string{"s3cret"}, `{`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gate := newGate(tc.secrets...)
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/unlock", strings.NewReader(tc.body))
			newRouter(t, gate, &fakeConverter{}, 0).ServeHTTP(rec, req)
			assert.Equal(t, tc.code, rec.Code)
		})
	}

	t.Run("persists", func(t *testing.T) {
		gate := newGate("s3cret")
		router := newRouter(t, gate, &fakeConverter{}, 0)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/unlock", strings.NewReader(`{"password":"s3cret"}`)))
		require.Equal(t, http.StatusOK, rec.Code)

		st, err := gate.Status(context.Background(), "192.0.2.1")
		require.NoError(t, err)
		assert.True(t, st.Unlimited)
	})
}

func TestConvert_Archive(t *testing.T) {
	conv := &fakeConverter{result: okResult(t)}
	body, ct := multipartBody(t, map[string]string{"dpi": "300", "transparent": "on", "password": "pw"}, "a.pdf", "b.pdf")

	req := httptest.NewRequest(http.MethodPost, "/api/convert", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("X-Device-Id", "dev-1")
	rec := httptest.NewRecorder()
	newRouter(t, newGate(), conv, 0).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), archive.DownloadName)
	assert.Equal(t, "ok", rec.Header().Get("X-Conversion-Status"))
	assert.Equal(t, "1", rec.Header().Get("X-Pages-Converted"))
	assert.Equal(t, "false", rec.Header().Get("X-Partial"))

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, "doc_001.png", zr.File[0].Name)

	assert.Equal(t, "device:dev-1", conv.job.Identity)
	assert.Equal(t, "pw", conv.job.Credential)
	assert.Equal(t, 300, conv.job.DPI)
	assert.True(t, conv.job.Transparent)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, conv.names)
}

func TestConvert_Published(t *testing.T) {
	exp := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	conv := &fakeConverter{result: func() *convert.Result {
		return &convert.Result{Status: convert.StatusOK, URL: "https://s3/x.zip", ExpiresAt: exp, Pages: 2}
	}}
	body, ct := multipartBody(t, nil, "a.pdf")
	req := httptest.NewRequest(http.MethodPost, "/api/convert", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	newRouter(t, newGate(), conv, 0).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "https://s3/x.zip", out["url"])
	assert.Equal(t, exp.Format(time.RFC3339), out["expires_at"])
}

func TestConvert_Errors(t *testing.T) {
	cases := []struct {
		code   convert.Code
		status convert.Status
		http   int
		quota  bool
	}{
		{convert.CodeQuotaDenied, convert.StatusDenied, http.StatusTooManyRequests, true},
		{convert.CodeAuthorizationFailed, convert.StatusDenied, http.StatusUnauthorized, true},
		{convert.CodeUnsupportedInput, convert.StatusFailed, http.StatusBadRequest, false},
		{convert.CodeJobFailed, convert.StatusFailed, http.StatusUnprocessableEntity, false},
		{convert.CodeSystemError, convert.StatusFailed, http.StatusInternalServerError, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			conv := &fakeConverter{result: func() *convert.Result {
				return &convert.Result{
					Status: tc.status, Code: tc.code, Message: "msg",
					Quota: quota.Status{Count: 3, Limit: 3},
				}
			}}
			body, ct := multipartBody(t, nil, "a.pdf")
			req := httptest.NewRequest(http.MethodPost, "/api/convert", body)
			req.Header.Set("Content-Type", ct)
			rec := httptest.NewRecorder()
			newRouter(t, newGate(), conv, 0).ServeHTTP(rec, req)

			require.Equal(t, tc.http, rec.Code)
			var out errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
			assert.Equal(t, tc.code, out.Code)
			assert.Equal(t, tc.status, out.Status)
			if tc.quota {
				require.NotNil(t, out.Quota)
				assert.True(t, out.Quota.LimitReached)
			} else {
				assert.Nil(t, out.Quota)
			}
		})
	}
}

func TestConvert_BadDPI(t *testing.T) {
	conv := &fakeConverter{result: okResult(t)}
	body, ct := multipartBody(t, map[string]string{"dpi": "abc"}, "a.pdf")
	req := httptest.NewRequest(http.MethodPost, "/api/convert", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	newRouter(t, newGate(), conv, 0).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, conv.names)
}

func TestConvert_RateLimited(t *testing.T) {
	conv := &fakeConverter{result: okResult(t)}
	router := newRouter(t, newGate(), conv, 1)

	codes := make([]int, 0, 2)
	for range 2 {
		body, ct := multipartBody(t, nil, "a.pdf")
		req := httptest.NewRequest(http.MethodPost, "/api/convert", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}
