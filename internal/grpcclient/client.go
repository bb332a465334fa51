package grpcclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/tea-grade/internal/classifier"
	"github.com/example/tea-grade/internal/imagekit"
	"github.com/example/tea-grade/internal/logging"
)

// ClassifyMethod is the full gRPC method name served by model servers. Both
// request and response are google.protobuf.Struct messages.
const ClassifyMethod = "/teagrade.v1.Classifier/Classify"

// DialClassifier connects to a remote model server and returns a classifier
// that forwards normalized images to it.
func DialClassifier(ctx context.Context, addr string, callTimeout time.Duration, logger *zap.Logger) (*Classifier, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(
		dialCtx,
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_classifier", "", err)
		logger.Error("failed to dial classifier", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewClassifier(conn, callTimeout, logger), conn, nil
}

// Classifier is a classifier.Classifier backed by a remote model server.
type Classifier struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
	logger  *zap.Logger
}

// NewClassifier wraps an existing connection.
func NewClassifier(conn grpc.ClientConnInterface, callTimeout time.Duration, logger *zap.Logger) *Classifier {
	return &Classifier{conn: conn, timeout: callTimeout, logger: logger.Named("grpc_classifier")}
}

var _ classifier.Classifier = (*Classifier)(nil)

// Classify sends the image as PNG and decodes the returned labels.
func (g *Classifier) Classify(ctx context.Context, img *imagekit.NormalizedImage) (classifier.Prediction, error) {
	requestID, _ := logging.RequestIDFromContext(ctx)

	encoded, err := img.EncodePNG()
	if err != nil {
		return classifier.Prediction{}, logging.NewOperationError("grpcclient.encode_image", requestID, err)
	}

	req, err := structpb.NewStruct(map[string]interface{}{
		"image":     encoded,
		"mediaType": "image/png",
		"width":     img.Width,
		"height":    img.Height,
		"requestId": requestID,
	})
	if err != nil {
		return classifier.Prediction{}, logging.NewOperationError("grpcclient.build_request", requestID, err)
	}

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(callCtx, ClassifyMethod, req, resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.classify", requestID, err)
		g.logger.Error("classifier call failed", zap.Error(wrapped), zap.String("request_id", requestID))
		return classifier.Prediction{}, wrapped
	}

	prediction, err := decodePrediction(resp)
	if err != nil {
		return classifier.Prediction{}, logging.NewOperationError("grpcclient.decode_response", requestID, err)
	}
	return prediction, nil
}

func decodePrediction(resp *structpb.Struct) (classifier.Prediction, error) {
	fields := resp.GetFields()

	cultivar, ok := fields["cultivar"].GetKind().(*structpb.Value_StringValue)
	if !ok {
		return classifier.Prediction{}, errors.New("response missing cultivar")
	}
	grade, ok := fields["grade"].GetKind().(*structpb.Value_StringValue)
	if !ok {
		return classifier.Prediction{}, errors.New("response missing grade")
	}
	confidence, ok := fields["confidence"].GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return classifier.Prediction{}, errors.New("response missing confidence")
	}

	p := classifier.Prediction{
		Cultivar:   classifier.Cultivar(cultivar.StringValue),
		Grade:      classifier.Grade(grade.StringValue),
		Confidence: classifier.RoundConfidence(confidence.NumberValue),
	}
	if !p.Cultivar.Valid() || !p.Grade.Valid() {
		return classifier.Prediction{}, fmt.Errorf("unknown labels %q/%q", p.Cultivar, p.Grade)
	}
	return p, nil
}
