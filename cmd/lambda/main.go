package main

import (
	"context"
	"log"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	chiadapter "github.com/awslabs/aws-lambda-go-api-proxy/chi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"codex-backend/internal/config"
	"codex-backend/internal/di"
	"codex-backend/internal/infrastructure/observability"
)

// flushTimeout bounds how long an invocation waits for its durable writes.
// The execution environment may be frozen as soon as the handler returns,
// so pending writes are drained before responding.
const flushTimeout = 5 * time.Second

var (
	chiLambda *chiadapter.ChiLambdaV2
	container *di.Container
	coldStart = true
)

// init runs during cold start
func init() {
	start := time.Now()
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	container, err = di.InitializeContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
	if err := container.Registry.Initialize(ctx); err != nil {
		log.Fatalf("Failed to initialize registry: %v", err)
	}

	router, ok := container.Router.(*chi.Mux)
	if !ok {
		log.Fatal("Failed to cast handler to chi.Mux")
	}
	chiLambda = chiadapter.NewV2(router)

	container.Logger.Info("Lambda cold start completed",
		zap.Duration("duration", time.Since(start)),
		zap.String("storage", cfg.Storage.Provider),
	)
}

// Handler is the Lambda function handler
func Handler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	container.Logger.Debug("Lambda received request",
		zap.String("path", req.RequestContext.HTTP.Path),
		zap.String("method", req.RequestContext.HTTP.Method),
		zap.String("request_id", req.RequestContext.RequestID),
		zap.Bool("cold_start", coldStart),
	)
	coldStart = false

	var resp events.APIGatewayV2HTTPResponse
	err := observability.TraceInvocation(ctx, "codex.proxy", map[string]string{
		"route":  req.RouteKey,
		"method": req.RequestContext.HTTP.Method,
	}, func(ctx context.Context) error {
		var err error
		resp, err = chiLambda.ProxyWithContextV2(ctx, req)
		return err
	})

	// The flush subsegment shares the invocation's trace but not its deadline.
	_ = observability.TraceInvocation(ctx, "codex.flush", nil, func(context.Context) error {
		flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		flushErr := container.Registry.Flush(flushCtx)
		if flushErr != nil {
			container.Logger.Warn("Durable writes still pending at end of invocation",
				zap.Error(flushErr),
			)
		}
		return flushErr
	})

	return resp, err
}

func main() {
	lambda.Start(Handler)
}
