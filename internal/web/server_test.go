package web

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"tiff-squeeze-go/internal/compressor"
	"tiff-squeeze-go/internal/config"
	"tiff-squeeze-go/internal/statistics"
	"tiff-squeeze-go/internal/workspace"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"
)

func newTestServer(t *testing.T) (*Server, *statistics.Statistics) {
	t.Helper()

	cfg := config.DefaultConfig()
	log := logrus.New()
	log.SetOutput(io.Discard)

	work, err := workspace.New(t.TempDir())
	require.NoError(t, err)

	stats := statistics.NewStatistics()
	comp := compressor.NewDefaultCompressor(log)
	return NewServer(cfg, log, comp, work, stats), stats
}

func testTIFFBytes(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			// Pixel noise so LZW cannot collapse the image below any
			// deliberately unreachable target size.
			v := uint32(x*92837111) ^ uint32(y*689287499) ^ uint32(x*y+12345)
			img.Set(x, y, color.NRGBA{R: uint8(v), G: uint8(v >> 8), B: uint8(v >> 16), A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, tiff.Encode(&buf, img, nil))
	return buf.Bytes()
}

func multipartUpload(t *testing.T, filename string, data []byte, fields map[string]string) (io.Reader, string) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fw, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)

	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestIndexDescribesService(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["message"], "TIFF Squeeze")
	assert.NotEmpty(t, body["version"])
	assert.Contains(t, body["endpoints"], "/compress")
}

func TestCompressRejectsNonTIFFExtension(t *testing.T) {
	srv, stats := newTestServer(t)

	body, contentType := multipartUpload(t, "scan.png", []byte("png bytes"), map[string]string{
		"target_size_kb": "50",
	})

	req := httptest.NewRequest(http.MethodPost, "/compress", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "Only TIFF files are supported")
	assert.Equal(t, int64(1), stats.Snapshot()["requests_rejected"])
}

func TestCompressRequiresTargetSize(t *testing.T) {
	srv, _ := newTestServer(t)

	body, contentType := multipartUpload(t, "scan.tiff", testTIFFBytes(t, 20, 20), nil)

	req := httptest.NewRequest(http.MethodPost, "/compress", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "target_size_kb")
}

func TestCompressRejectsOutOfRangeParameter(t *testing.T) {
	srv, _ := newTestServer(t)

	body, contentType := multipartUpload(t, "scan.tiff", testTIFFBytes(t, 20, 20), map[string]string{
		"target_size_kb":      "50",
		"min_size_percentage": "0.05",
	})

	req := httptest.NewRequest(http.MethodPost, "/compress", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "min_size_percentage")
}

func TestCompressRejectsNonNumericParameter(t *testing.T) {
	srv, _ := newTestServer(t)

	body, contentType := multipartUpload(t, "scan.tiff", testTIFFBytes(t, 20, 20), map[string]string{
		"target_size_kb": "lots",
	})

	req := httptest.NewRequest(http.MethodPost, "/compress", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompressReturnsUndecodableUploadAsServerError(t *testing.T) {
	srv, _ := newTestServer(t)

	body, contentType := multipartUpload(t, "scan.tiff", []byte("not actually tiff data"), map[string]string{
		"target_size_kb": "50",
	})

	req := httptest.NewRequest(http.MethodPost, "/compress", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "Error during compression")
}

func TestCompressSuccess(t *testing.T) {
	srv, stats := newTestServer(t)

	body, contentType := multipartUpload(t, "scan.tiff", testTIFFBytes(t, 100, 80), map[string]string{
		"target_size_kb": "100000",
	})

	req := httptest.NewRequest(http.MethodPost, "/compress", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/tiff", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="compressed_scan.tiff"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "true", rec.Header().Get("X-Target-Met"))
	assert.Equal(t, "1", rec.Header().Get("X-Iterations"))

	length, err := strconv.Atoi(rec.Header().Get("Content-Length"))
	require.NoError(t, err)
	assert.Equal(t, length, rec.Body.Len())

	// One pass at the default 0.9 scale factor.
	img, err := tiff.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 90, img.Bounds().Dx())
	assert.Equal(t, 72, img.Bounds().Dy())

	snap := stats.Snapshot()
	assert.Equal(t, int64(1), snap["requests_succeeded"])
	assert.Equal(t, int64(1), snap["targets_met"])
}

func TestCompressBestEffortSurfacedInHeaders(t *testing.T) {
	srv, stats := newTestServer(t)

	body, contentType := multipartUpload(t, "scan.tiff", testTIFFBytes(t, 120, 100), map[string]string{
		"target_size_kb":      "1",
		"min_size_percentage": "1.0",
	})

	req := httptest.NewRequest(http.MethodPost, "/compress", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "false", rec.Header().Get("X-Target-Met"))
	assert.Equal(t, int64(1), stats.Snapshot()["targets_missed"])
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
}

func TestStatisticsEndpoint(t *testing.T) {
	srv, stats := newTestServer(t)
	stats.IncrementRequestsReceived()

	req := httptest.NewRequest(http.MethodGet, "/api/statistics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	counters, ok := data["counters"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), counters["requests_received"])
}

func TestCORSHeadersPresent(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
