package ratelimit

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor 返回 gRPC 一元服务端限流拦截器
//
// 限流键为对端 IP，规则为 Limiter.Limit()；被限流时返回 ResourceExhausted。
// 限流器出错时放行。
func UnaryServerInterceptor(limiter Limiter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		key := peerKey(ctx)
		limit := limiter.Limit()
		if key == "" || !limit.Valid() {
			return handler(ctx, req)
		}

		allowed, err := limiter.Allow(ctx, key, limit)
		if err == nil && !allowed {
			return nil, status.Error(codes.ResourceExhausted, ErrRateLimitExceeded.Message())
		}
		return handler(ctx, req)
	}
}

// peerKey 从对端地址提取 "ip:<host>"
func peerKey(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return "ip:" + addr
}
