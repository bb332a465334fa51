package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/example/tea-grade/internal/auth"
	"github.com/example/tea-grade/internal/classifier"
	"github.com/example/tea-grade/internal/config"
	"github.com/example/tea-grade/internal/imagekit"
	"github.com/example/tea-grade/internal/usecase"
)

const testJWTSecret = "test-secret"

type countingClassifier struct {
	calls int
}

func (c *countingClassifier) Classify(context.Context, *imagekit.NormalizedImage) (classifier.Prediction, error) {
	c.calls++
	return classifier.Prediction{Cultivar: classifier.Tsuyuhikari, Grade: classifier.Medium, Confidence: 0.834}, nil
}

func newTestRouter(t *testing.T, clf classifier.Classifier, authMiddleware gin.HandlerFunc) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultAnalysis()
	uc := usecase.NewAnalysisUseCase(cfg, clf, zap.NewNop())

	router := gin.New()
	router.MaxMultipartMemory = cfg.MaxUploadBytes
	router.Use(RequestID(), CORS([]string{"http://localhost:3000"}))
	RegisterRoutes(router, uc, cfg.MaxUploadBytes, authMiddleware)
	return router
}

func encodeLeaf(t *testing.T, width, height int, format imaging.Format) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := imaging.New(width, height, color.NRGBA{R: 70, G: 130, B: 60, A: 255})
	if err := imaging.Encode(&buf, img, format); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func postAnalyze(t *testing.T, router *gin.Engine, field, contentType, filename string, payload []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, formType := buildMultipartBody(t, field, contentType, filename, payload)

	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set("Content-Type", formType)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error body %q: %v", resp.Body.String(), err)
	}
	return body
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t, &countingClassifier{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	if got := resp.Body.String(); got != `{"status":"ok"}` {
		t.Fatalf("unexpected body: %s", got)
	}
}

func TestAnalyzeReturnsPrediction(t *testing.T) {
	clf := &countingClassifier{}
	router := newTestRouter(t, clf, nil)

	resp := postAnalyze(t, router, "file", "image/jpeg", "leaf.jpg", encodeLeaf(t, 800, 600, imaging.JPEG),
		map[string]string{RequestIDHeader: "req-123"})

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d (%s)", http.StatusOK, resp.Code, resp.Body.String())
	}

	var body map[string]interface{}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["cultivar"] != "Tsuyuhikari" || body["grade"] != "Medium" || body["confidence"] != 0.834 {
		t.Fatalf("unexpected body: %v", body)
	}
	if body["requestId"] != "req-123" {
		t.Fatalf("unexpected requestId: %v", body["requestId"])
	}
	processedAt, ok := body["processedAt"].(string)
	if !ok {
		t.Fatalf("processedAt missing: %v", body)
	}
	if _, err := time.Parse(time.RFC3339Nano, processedAt); err != nil {
		t.Fatalf("processedAt not RFC3339: %v", err)
	}
	if got := resp.Header().Get(RequestIDHeader); got != "req-123" {
		t.Fatalf("unexpected %s header: %q", RequestIDHeader, got)
	}
	if clf.calls != 1 {
		t.Fatalf("expected one classifier call, got %d", clf.calls)
	}
}

func TestAnalyzeAcceptsImageField(t *testing.T) {
	router := newTestRouter(t, &countingClassifier{}, nil)

	resp := postAnalyze(t, router, "image", "image/png", "leaf.png", encodeLeaf(t, 100, 100, imaging.PNG), nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d (%s)", http.StatusOK, resp.Code, resp.Body.String())
	}
	if resp.Header().Get(RequestIDHeader) == "" {
		t.Fatal("expected generated request id header")
	}
}

func TestAnalyzeRejectsLargeUpload(t *testing.T) {
	clf := &countingClassifier{}
	router := newTestRouter(t, clf, nil)
	limit := config.DefaultAnalysis().MaxUploadBytes

	for _, size := range []int64{limit + 1, 6_000_000, limit + 2*multipartOverhead} {
		resp := postAnalyze(t, router, "file", "image/png", "big.png", bytes.Repeat([]byte("a"), int(size)), nil)

		if resp.Code != http.StatusRequestEntityTooLarge {
			t.Fatalf("size %d: expected status %d, got %d", size, http.StatusRequestEntityTooLarge, resp.Code)
		}
		if body := decodeError(t, resp); body.Code != "too_large" {
			t.Fatalf("size %d: unexpected code %q", size, body.Code)
		}
	}
	if clf.calls != 0 {
		t.Fatalf("classifier invoked %d times", clf.calls)
	}
}

func TestAnalyzeRejectsUnsupportedContentType(t *testing.T) {
	router := newTestRouter(t, &countingClassifier{}, nil)

	resp := postAnalyze(t, router, "file", "text/plain", "notes.txt", []byte("hello"), nil)

	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
	if body := decodeError(t, resp); body.Code != "unsupported_format" {
		t.Fatalf("unexpected code %q", body.Code)
	}
}

func TestAnalyzeRejectsTextRenamedToJPEG(t *testing.T) {
	router := newTestRouter(t, &countingClassifier{}, nil)

	resp := postAnalyze(t, router, "file", "image/jpeg", "notes.jpg", []byte("not really a photo"), nil)

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status %d, got %d", http.StatusUnprocessableEntity, resp.Code)
	}
	if body := decodeError(t, resp); body.Code != "corrupt_image" {
		t.Fatalf("unexpected code %q", body.Code)
	}
}

func TestAnalyzeRequiresImageField(t *testing.T) {
	router := newTestRouter(t, &countingClassifier{}, nil)

	resp := postAnalyze(t, router, "document", "image/png", "leaf.png", encodeLeaf(t, 10, 10, imaging.PNG), nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/analyze", bytes.NewBufferString("{}"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d for non-multipart body, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestHealthAfterFailedAnalyses(t *testing.T) {
	router := newTestRouter(t, &countingClassifier{}, nil)
	postAnalyze(t, router, "file", "image/jpeg", "x.jpg", []byte("junk"), nil)
	postAnalyze(t, router, "file", "text/plain", "x.txt", []byte("junk"), nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
}

func TestAnalyzeWithAuthEnabled(t *testing.T) {
	router := newTestRouter(t, &countingClassifier{}, auth.JWTMiddleware(testJWTSecret, ""))
	payload := encodeLeaf(t, 10, 10, imaging.PNG)

	resp := postAnalyze(t, router, "file", "image/png", "leaf.png", payload, nil)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d without token, got %d", http.StatusUnauthorized, resp.Code)
	}

	token := buildTestToken(t, "user-123")
	resp = postAnalyze(t, router, "file", "image/png", "leaf.png", payload, map[string]string{"Authorization": "Bearer " + token})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d with token, got %d (%s)", http.StatusOK, resp.Code, resp.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("health must stay open, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	router := newTestRouter(t, &countingClassifier{}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/analyze", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, resp.Code)
	}
	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("unexpected allow origin: %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow origin for unknown site: %q", got)
	}
}

func buildMultipartBody(t *testing.T, field, contentType, filename string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}

func buildTestToken(t *testing.T, subject string) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
