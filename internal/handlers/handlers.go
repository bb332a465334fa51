package handlers

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/tea-grade/internal/apperror"
	"github.com/example/tea-grade/internal/imagekit"
	"github.com/example/tea-grade/internal/usecase"
)

// multipartOverhead is the allowance for boundaries and part headers on top
// of the image itself.
const multipartOverhead = 1 << 20

// uploadFields are the accepted form field names, in lookup order.
var uploadFields = []string{"file", "image"}

// Analyzer is the subset of the use case the HTTP layer depends on.
type Analyzer interface {
	Analyze(ctx context.Context, upload imagekit.UploadedImage) (*usecase.AnalysisResult, error)
	Health() usecase.HealthStatus
}

type analyzeResponse struct {
	RequestID   string    `json:"requestId"`
	Cultivar    string    `json:"cultivar"`
	Grade       string    `json:"grade"`
	Confidence  float64   `json:"confidence"`
	ProcessedAt time.Time `json:"processedAt"`
}

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router. A nil
// authMiddleware leaves /analyze open.
func RegisterRoutes(router *gin.Engine, uc Analyzer, maxUploadBytes int64, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, uc.Health())
	})

	chain := make([]gin.HandlerFunc, 0, 2)
	if authMiddleware != nil {
		chain = append(chain, authMiddleware)
	}
	chain = append(chain, func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes+multipartOverhead)

		file, err := formImage(c)
		if err != nil {
			if isBodyTooLarge(err) {
				respondError(c, apperror.New(apperror.TooLarge, "file size exceeds the upload limit", err))
				return
			}
			c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_request", Error: "image file is required"})
			return
		}

		upload := imagekit.UploadedImage{
			MediaType: file.Header.Get("Content-Type"),
			Filename:  file.Filename,
			Size:      file.Size,
		}
		// Oversize parts are left unread; the validator rejects them by size.
		if file.Size <= maxUploadBytes {
			data, err := readPart(file, maxUploadBytes)
			if err != nil {
				c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_request", Error: "unable to read image"})
				return
			}
			upload.Data = data
		}

		result, err := uc.Analyze(c.Request.Context(), upload)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, analyzeResponse{
			RequestID:   result.RequestID,
			Cultivar:    string(result.Prediction.Cultivar),
			Grade:       string(result.Prediction.Grade),
			Confidence:  result.Prediction.Confidence,
			ProcessedAt: result.ProcessedAt,
		})
	})
	router.POST("/analyze", chain...)
}

func formImage(c *gin.Context) (*multipart.FileHeader, error) {
	var lastErr error
	for _, field := range uploadFields {
		file, err := c.FormFile(field)
		if err == nil {
			return file, nil
		}
		if isBodyTooLarge(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func readPart(file *multipart.FileHeader, limit int64) ([]byte, error) {
	src, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(io.LimitReader(src, limit+1))
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "request body too large")
}

func respondError(c *gin.Context, err error) {
	kind := apperror.KindOf(err)
	c.JSON(kind.HTTPStatus(), errorResponse{Code: kind.Code(), Error: apperror.MessageOf(err)})
}
