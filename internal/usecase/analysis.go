package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/tea-grade/internal/apperror"
	"github.com/example/tea-grade/internal/classifier"
	"github.com/example/tea-grade/internal/config"
	"github.com/example/tea-grade/internal/imagekit"
	"github.com/example/tea-grade/internal/logging"
)

// AnalysisResult is a prediction plus the metadata returned to callers.
type AnalysisResult struct {
	RequestID        string
	Prediction       classifier.Prediction
	ProcessedAt      time.Time
	NormalizedWidth  int
	NormalizedHeight int
}

// HealthStatus is the liveness payload.
type HealthStatus struct {
	Status string `json:"status"`
}

// AnalysisUseCase runs validation, normalization and classification for a
// single upload. It holds no per-request state and is safe for concurrent use.
type AnalysisUseCase struct {
	cfg        config.Analysis
	validator  *imagekit.Validator
	normalizer *imagekit.Normalizer
	classifier classifier.Classifier
	logger     *zap.Logger
	now        func() time.Time
}

// NewAnalysisUseCase constructs a new use case instance.
func NewAnalysisUseCase(cfg config.Analysis, clf classifier.Classifier, logger *zap.Logger) *AnalysisUseCase {
	return &AnalysisUseCase{
		cfg:        cfg,
		validator:  imagekit.NewValidator(cfg),
		normalizer: imagekit.NewNormalizer(cfg),
		classifier: clf,
		logger:     logger.Named("analysis_usecase"),
		now:        time.Now,
	}
}

// Analyze validates, normalizes and classifies one upload. Errors carry an
// apperror.Kind; anything unexpected is reported as apperror.Internal.
func (uc *AnalysisUseCase) Analyze(ctx context.Context, upload imagekit.UploadedImage) (*AnalysisResult, error) {
	requestID, ok := logging.RequestIDFromContext(ctx)
	if !ok {
		requestID = uuid.NewString()
		ctx = logging.ContextWithRequestID(ctx, requestID)
	}
	opLogger := logging.WithOperation(uc.logger, "usecase.analyze", requestID)
	start := time.Now()

	validated, err := uc.validator.Validate(upload)
	if err != nil {
		return nil, uc.fail(opLogger, "usecase.validate", requestID, err)
	}

	normalized, err := uc.normalizer.Normalize(ctx, validated)
	if err != nil {
		var appErr *apperror.Error
		if !errors.As(err, &appErr) {
			err = apperror.New(apperror.CorruptImage, "image could not be decoded", err)
		}
		return nil, uc.fail(opLogger, "usecase.normalize", requestID, err)
	}

	prediction, err := uc.classifier.Classify(ctx, normalized)
	if err != nil {
		return nil, uc.fail(opLogger, "usecase.classify", requestID,
			apperror.New(apperror.Internal, "classification failed", err))
	}
	if err := prediction.Validate(uc.cfg.ConfidenceMin, uc.cfg.ConfidenceMax); err != nil {
		return nil, uc.fail(opLogger, "usecase.check_prediction", requestID,
			apperror.New(apperror.Internal, "classifier returned an invalid prediction", err))
	}

	result := &AnalysisResult{
		RequestID:        requestID,
		Prediction:       prediction,
		ProcessedAt:      uc.now().UTC(),
		NormalizedWidth:  normalized.Width,
		NormalizedHeight: normalized.Height,
	}

	opLogger.Info("analysis completed",
		zap.String("cultivar", string(prediction.Cultivar)),
		zap.String("grade", string(prediction.Grade)),
		zap.Float64("confidence", prediction.Confidence),
		zap.String("format", validated.Format),
		zap.Int("source_width", normalized.SourceWidth),
		zap.Int("source_height", normalized.SourceHeight),
		zap.Int("width", normalized.Width),
		zap.Int("height", normalized.Height),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

// Health is a liveness probe; it does not check dependencies.
func (uc *AnalysisUseCase) Health() HealthStatus {
	return HealthStatus{Status: "ok"}
}

// fail wraps err with the failing operation. Rejected user input is logged at
// info, everything else at error.
func (uc *AnalysisUseCase) fail(logger *zap.Logger, operation, requestID string, err error) error {
	kind := apperror.KindOf(err)
	wrapped := logging.NewOperationError(operation, requestID, err)
	if kind.UserFacing() {
		logger.Info("upload rejected", zap.String("code", kind.Code()), zap.Error(wrapped))
	} else {
		logger.Error("analysis failed", zap.String("code", kind.Code()), zap.Error(wrapped))
	}
	return wrapped
}
