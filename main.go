package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/example/tea-grade/internal/auth"
	"github.com/example/tea-grade/internal/classifier"
	"github.com/example/tea-grade/internal/config"
	"github.com/example/tea-grade/internal/grpcclient"
	"github.com/example/tea-grade/internal/handlers"
	"github.com/example/tea-grade/internal/logging"
	"github.com/example/tea-grade/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	clf, conn, err := buildClassifier(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("failed to build classifier", zap.Error(err))
	}
	if conn != nil {
		defer conn.Close()
	}

	uc := usecase.NewAnalysisUseCase(cfg.Analysis, clf, logger)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           newRouter(cfg, uc, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	logger.Info("tea grade API listening",
		zap.String("addr", server.Addr),
		zap.String("classifier", cfg.Classifier.Backend),
		zap.Bool("auth", cfg.JWTSecret != ""),
	)
	if err := serveHTTPServer(server, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func newRouter(cfg *config.Config, uc handlers.Analyzer, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = cfg.Analysis.MaxUploadBytes
	r.Use(gin.Recovery(), handlers.RequestID(), handlers.AccessLog(logger), handlers.CORS(cfg.AllowedOrigins))

	var authMiddleware gin.HandlerFunc
	if cfg.JWTSecret != "" {
		authMiddleware = auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience)
	}
	handlers.RegisterRoutes(r, uc, cfg.Analysis.MaxUploadBytes, authMiddleware)
	return r
}

// buildClassifier returns the configured strategy. The connection is non-nil
// only for the grpc backend and must be closed by the caller.
func buildClassifier(ctx context.Context, cfg *config.Config, logger *zap.Logger) (classifier.Classifier, *grpc.ClientConn, error) {
	switch cfg.Classifier.Backend {
	case config.BackendGRPC:
		return grpcclient.DialClassifier(ctx, cfg.Classifier.Addr, cfg.Classifier.Timeout, logger)
	default:
		seed := cfg.Classifier.Seed
		if seed == 0 {
			seed = uint64(time.Now().UnixNano())
		}
		clf, err := classifier.NewSeededRandom(seed, cfg.Analysis.ConfidenceMin, cfg.Analysis.ConfidenceMax)
		return clf, nil, err
	}
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := signalCh
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
