package metrics

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/ceyewan/idemguard/xerrors"
)

const (
	MetricHTTPServerRequestTotal    = "http_server_requests_total"
	MetricHTTPServerDurationSeconds = "http_server_request_duration_seconds"
	MetricGRPCServerRequestTotal    = "grpc_server_requests_total"
	MetricGRPCServerDurationSeconds = "grpc_server_request_duration_seconds"
)

var defaultDurationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// ServerMetrics HTTP 与 gRPC 服务端的 RED 指标集
type ServerMetrics struct {
	service      string
	httpTotal    Counter
	httpDuration Histogram
	grpcTotal    Counter
	grpcDuration Histogram
}

// NewServerMetrics 在给定 Meter 上创建服务端指标
func NewServerMetrics(m Meter, service string) (*ServerMetrics, error) {
	if m == nil {
		return nil, xerrors.New("meter is nil")
	}
	service = strings.TrimSpace(service)
	if service == "" {
		service = "unknown"
	}

	sm := &ServerMetrics{service: service}
	var err error
	hopts := []MetricOption{WithUnit("s"), WithBuckets(defaultDurationBuckets)}

	if sm.httpTotal, err = m.Counter(MetricHTTPServerRequestTotal, "Total number of HTTP requests."); err != nil {
		return nil, xerrors.Wrap(err, "create http request counter")
	}
	if sm.httpDuration, err = m.Histogram(MetricHTTPServerDurationSeconds, "HTTP request duration in seconds.", hopts...); err != nil {
		return nil, xerrors.Wrap(err, "create http request duration histogram")
	}
	if sm.grpcTotal, err = m.Counter(MetricGRPCServerRequestTotal, "Total number of gRPC requests."); err != nil {
		return nil, xerrors.Wrap(err, "create grpc request counter")
	}
	if sm.grpcDuration, err = m.Histogram(MetricGRPCServerDurationSeconds, "gRPC request duration in seconds.", hopts...); err != nil {
		return nil, xerrors.Wrap(err, "create grpc request duration histogram")
	}
	return sm, nil
}

// ObserveHTTP 记录一次 HTTP 请求
func (m *ServerMetrics) ObserveHTTP(ctx context.Context, method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	if route = strings.TrimSpace(route); route == "" {
		route = UnknownRoute
	}

	labels := []Label{
		L(LabelService, m.service),
		L(LabelMethod, method),
		L(LabelRoute, route),
		L(LabelStatusClass, HTTPStatusClass(status)),
		L(LabelOutcome, HTTPOutcome(status)),
	}
	m.httpTotal.Inc(ctx, labels...)
	m.httpDuration.Record(ctx, d.Seconds(), labels...)
}

// ObserveGRPC 记录一次 gRPC 调用
func (m *ServerMetrics) ObserveGRPC(ctx context.Context, fullMethod string, err error, d time.Duration) {
	if m == nil {
		return
	}
	if fullMethod = strings.TrimSpace(fullMethod); fullMethod == "" {
		fullMethod = UnknownRoute
	}
	code := status.Code(err)

	labels := []Label{
		L(LabelService, m.service),
		L(LabelMethod, fullMethod),
		L(LabelGRPCCode, GRPCCodeLabel(code)),
		L(LabelOutcome, GRPCOutcome(code)),
	}
	m.grpcTotal.Inc(ctx, labels...)
	m.grpcDuration.Record(ctx, d.Seconds(), labels...)
}

// GinMiddleware 返回记录 HTTP RED 指标的 Gin 中间件
func (m *ServerMetrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.ObserveHTTP(c.Request.Context(), c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}

// UnaryServerInterceptor 返回记录 gRPC RED 指标的一元拦截器
func (m *ServerMetrics) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		m.ObserveGRPC(ctx, info.FullMethod, err, time.Since(start))
		return resp, err
	}
}
