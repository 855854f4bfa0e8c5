package public

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/nfern/imagegate/internal/app"
	"github.com/nfern/imagegate/internal/config"
)

var pngBytes = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0xde, 0xad, 0xbe, 0xef}

type gatewayFixture struct {
	app           *fiber.App
	upstreamCalls *atomic.Int64
}

// newFixture wires real keystore and inference endpoints backed by httptest
// servers behind a fiber app with the gateway routes mounted.
func newFixture(t *testing.T, storeHandler, upstreamHandler http.HandlerFunc) gatewayFixture {
	t.Helper()

	store := httptest.NewServer(storeHandler)
	t.Cleanup(store.Close)

	calls := &atomic.Int64{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		upstreamHandler(w, r)
	}))
	t.Cleanup(upstream.Close)

	cfg := &config.Config{
		Server: config.ServerConfig{ListenAddr: ":0", BodyLimitMB: 4},
		Keystore: config.KeystoreConfig{
			URL:        store.URL,
			Collection: "keys",
			Timeout:    5 * time.Second,
		},
		Inference: config.InferenceConfig{
			APIKey:  "sk-test",
			BaseURL: upstream.URL,
			Model:   "google/gemini-2.5-flash-image-preview:free",
			Timeout: 5 * time.Second,
		},
	}

	container, err := app.NewContainer(cfg, zerolog.Nop())
	require.NoError(t, err)

	fiberApp := fiber.New(fiber.Config{DisableStartupMessage: true})
	RegisterRoutes(fiberApp, container)
	return gatewayFixture{app: fiberApp, upstreamCalls: calls}
}

func storeWithRecord(t *testing.T, id, body string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			w.Write([]byte(`{"code":200,"message":"API is healthy."}`))
			return
		}
		if r.URL.Path == "/api/collections/keys/records/"+id {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(body))
			return
		}
		http.Error(w, `{"code":404,"message":"not found"}`, http.StatusNotFound)
	}
}

func upstreamWithImage(encoded string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		message := fmt.Sprintf(`{"role":"assistant","content":"done","images":[{"image_url":{"url":"data:image/png;base64,%s"}}]}`, encoded)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"gen-1","object":"chat.completion","model":"m","choices":[{"index":0,"finish_reason":"stop","message":%s}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`, message)
	}
}

func multipartUpload(t *testing.T, prompt, filename, contentType string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.WriteField("prompt", prompt))

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func decodeErrorBody(t *testing.T, resp *http.Response) (string, string) {
	t.Helper()
	var body struct {
		Error    string `json:"error"`
		Category string `json:"category"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Category, body.Error
}

func TestProcessImageMissingKey(t *testing.T) {
	fixture := newFixture(t, storeWithRecord(t, "abc", `{"id":"abc","count":1}`), upstreamWithImage("eA=="))

	body, contentType := multipartUpload(t, "prompt", "a.png", "image/png", pngBytes)
	req := httptest.NewRequest(http.MethodPost, "/process-image", body)
	req.Header.Set("Content-Type", contentType)

	resp, err := fixture.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	category, _ := decodeErrorBody(t, resp)
	require.Equal(t, "MissingKey", category)
	require.Zero(t, fixture.upstreamCalls.Load())
}

func TestProcessImageExpiredKey(t *testing.T) {
	record := `{"id":"abc","count":4,"exp_time":"2020-01-01 00:00:00.000Z"}`
	fixture := newFixture(t, storeWithRecord(t, "abc", record), upstreamWithImage("eA=="))

	body, contentType := multipartUpload(t, "prompt", "a.png", "image/png", pngBytes)
	req := httptest.NewRequest(http.MethodPost, "/process-image", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(apiKeyHeader, "abc")

	resp, err := fixture.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	category, detail := decodeErrorBody(t, resp)
	require.Equal(t, "Expired", category)
	require.Equal(t, "expired", detail)
}

func TestProcessImageRejectsNonImageUploadWithoutCallingAdapter(t *testing.T) {
	fixture := newFixture(t, storeWithRecord(t, "abc", `{"id":"abc","count":1}`), upstreamWithImage("eA=="))

	body, contentType := multipartUpload(t, "prompt", "notes.txt", "text/plain", []byte("hello"))
	req := httptest.NewRequest(http.MethodPost, "/process-image", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(apiKeyHeader, "abc")

	resp, err := fixture.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	category, _ := decodeErrorBody(t, resp)
	require.Equal(t, "NotAnImage", category)
	require.Zero(t, fixture.upstreamCalls.Load(), "adapter must not be invoked for bad uploads")
}

func TestProcessImageSuccess(t *testing.T) {
	generated := []byte{0x89, 0x50, 0x4e, 0x47, 1, 2, 3, 4, 5}
	encoded := base64.StdEncoding.EncodeToString(generated)
	record := `{"id":"abc","count":42,"exp_time":"2099-01-01 00:00:00.000Z"}`
	fixture := newFixture(t, storeWithRecord(t, "abc", record), upstreamWithImage(encoded))

	body, contentType := multipartUpload(t, "make it sparkle", "a.png", "image/png", pngBytes)
	req := httptest.NewRequest(http.MethodPost, "/process-image", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(apiKeyHeader, "abc")

	resp, err := fixture.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	require.Equal(t, "42", resp.Header.Get("X-Usage-Count"))
	require.Equal(t, "inline; filename=generated_image.png", resp.Header.Get("Content-Disposition"))
	require.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, generated, got)
	require.Equal(t, int64(1), fixture.upstreamCalls.Load())
}

func TestProcessImageUpstreamFailure(t *testing.T) {
	fixture := newFixture(t, storeWithRecord(t, "abc", `{"id":"abc","count":1}`), func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	})

	body, contentType := multipartUpload(t, "prompt", "a.png", "image/png", pngBytes)
	req := httptest.NewRequest(http.MethodPost, "/process-image", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(apiKeyHeader, "abc")

	resp, err := fixture.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	category, detail := decodeErrorBody(t, resp)
	require.Equal(t, "UpstreamNonSuccess(503)", category)
	require.NotContains(t, detail, "overloaded", "raw upstream body must not leak to callers")
}

func TestProcessImageNoImageProduced(t *testing.T) {
	fixture := newFixture(t, storeWithRecord(t, "abc", `{"id":"abc","count":1}`), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"gen-1","object":"chat.completion","model":"m","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"just words"}}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`))
	})

	body, contentType := multipartUpload(t, "prompt", "a.png", "image/png", pngBytes)
	req := httptest.NewRequest(http.MethodPost, "/process-image", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(apiKeyHeader, "abc")

	resp, err := fixture.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	category, _ := decodeErrorBody(t, resp)
	require.Equal(t, "NoImageProduced", category)
}

func TestProcessImageMissingPrompt(t *testing.T) {
	fixture := newFixture(t, storeWithRecord(t, "abc", `{"id":"abc","count":1}`), upstreamWithImage("eA=="))

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="image"; filename="a.png"`)
	header.Set("Content-Type", "image/png")
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	part.Write(pngBytes)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/process-image", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set(apiKeyHeader, "abc")

	resp, err := fixture.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	category, _ := decodeErrorBody(t, resp)
	require.Equal(t, "BadRequest", category)
	require.Zero(t, fixture.upstreamCalls.Load())
}

func TestHealthReflectsStoreReachability(t *testing.T) {
	fixture := newFixture(t, storeWithRecord(t, "abc", `{"id":"abc"}`), upstreamWithImage("eA=="))

	resp, err := fixture.app.Test(httptest.NewRequest(http.MethodGet, "/health", nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "connected", body["status"])
}

func TestHealthDisconnected(t *testing.T) {
	fixture := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}, upstreamWithImage("eA=="))

	resp, err := fixture.app.Test(httptest.NewRequest(http.MethodGet, "/health", nil), -1)
	require.NoError(t, err)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "disconnected", body["status"])
}

func TestRecordInfoReturnsFullRecord(t *testing.T) {
	record := `{"id":"abc","count":3,"exp_time":"2099-01-01 00:00:00.000Z","owner":"someone"}`
	fixture := newFixture(t, storeWithRecord(t, "abc", record), upstreamWithImage("eA=="))

	req := httptest.NewRequest(http.MethodGet, "/record-info", nil)
	req.Header.Set(apiKeyHeader, "abc")
	resp, err := fixture.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "abc", body["id"])
	require.Equal(t, float64(3), body["count"])
	require.Equal(t, "someone", body["owner"])
}

func TestRecordInfoUnknownKey(t *testing.T) {
	fixture := newFixture(t, storeWithRecord(t, "abc", `{"id":"abc"}`), upstreamWithImage("eA=="))

	req := httptest.NewRequest(http.MethodGet, "/record-info", nil)
	req.Header.Set(apiKeyHeader, "nope")
	resp, err := fixture.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	category, _ := decodeErrorBody(t, resp)
	require.Equal(t, "InvalidKey", category)
}

func TestListModels(t *testing.T) {
	fixture := newFixture(t, storeWithRecord(t, "abc", `{"id":"abc"}`), upstreamWithImage("eA=="))

	resp, err := fixture.app.Test(httptest.NewRequest(http.MethodGet, "/models", nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		SupportedModels []string `json:"supported_models"`
		CurrentModel    string   `json:"current_model"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "google/gemini-2.5-flash-image-preview:free", body.CurrentModel)
	require.Equal(t, []string{body.CurrentModel}, body.SupportedModels)
}
