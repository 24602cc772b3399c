package trace

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/stats"
)

// GinMiddleware 返回 Gin 跟踪中间件，tp 为 nil 时使用全局 Provider
func GinMiddleware(serviceName string, tp trace.TracerProvider) gin.HandlerFunc {
	var opts []otelgin.Option
	if tp != nil {
		opts = append(opts, otelgin.WithTracerProvider(tp))
	}
	return otelgin.Middleware(serviceName, opts...)
}

// GRPCServerStatsHandler 返回 gRPC 服务端跟踪 stats.Handler，tp 为 nil 时使用全局 Provider
func GRPCServerStatsHandler(tp trace.TracerProvider) stats.Handler {
	var opts []otelgrpc.Option
	if tp != nil {
		opts = append(opts, otelgrpc.WithTracerProvider(tp))
	}
	return otelgrpc.NewServerHandler(opts...)
}
