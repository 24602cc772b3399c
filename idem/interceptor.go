package idem

import (
	"context"
	"encoding/base64"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/ceyewan/idemguard/xerrors"
)

const (
	// DefaultMetadataKey 默认的幂等键 metadata 键
	DefaultMetadataKey = "idempotency-key"
	// GRPCMethod gRPC 调用在记录中的 method 取值，path 为 FullMethod
	GRPCMethod = "GRPC"

	grpcContentType = "application/grpc+proto"
)

// UnaryServerInterceptor 创建 gRPC 一元服务端拦截器
//
// 请求参数以 protojson 规范化比较；响应以 anypb.Any 序列化后 base64 保存，状态码记为 200。
// handler 返回的错误原样透传，记录保持未完成，重试时复用。
//
// 使用示例:
//
//	s := grpc.NewServer(grpc.ChainUnaryInterceptor(guard.UnaryServerInterceptor()))
func (g *guard) UnaryServerInterceptor(opts ...InterceptorOption) grpc.UnaryServerInterceptor {
	opt := interceptorOptions{metadataKey: DefaultMetadataKey}
	for _, o := range opts {
		o(&opt)
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		var key string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if values := md.Get(opt.metadataKey); len(values) > 0 {
				key = values[0]
			}
		}

		params, err := grpcParams(req)
		if err != nil {
			return nil, toStatus(err)
		}

		var result any
		resp, err := g.Do(ctx, Request{
			Key:    key,
			Method: GRPCMethod,
			Path:   info.FullMethod,
			Params: params,
		}, func(ctx context.Context, a *Attempt) error {
			out, herr := handler(ctx, req)
			if herr != nil {
				return herr
			}
			result = out
			body, err := encodeGRPCResponse(out)
			if err != nil {
				return err
			}
			return a.SetResponse(ctx, body, 200, Headers{"Content-Type": grpcContentType})
		})
		if err != nil {
			return nil, toStatus(err)
		}
		if !resp.Replayed {
			return result, nil
		}

		msg, err := decodeGRPCResponse(resp.Body)
		if err != nil {
			g.logger.ErrorContext(ctx, "failed to decode cached gRPC response")
			return nil, status.Error(codes.Internal, "idem: corrupted cached response")
		}
		return msg, nil
	}
}

func grpcParams(req any) ([]byte, error) {
	msg, ok := req.(proto.Message)
	if !ok {
		return Canonicalize(req)
	}
	b, err := protojson.MarshalOptions{UseProtoNames: true}.Marshal(msg)
	if err != nil {
		return nil, xerrors.Wrap(ErrInvalidParams, err.Error())
	}
	return b, nil
}

func encodeGRPCResponse(out any) (string, error) {
	msg, ok := out.(proto.Message)
	if !ok {
		return "", status.Errorf(codes.Internal, "idem: response of type %T is not a proto message", out)
	}
	anyMsg, err := anypb.New(msg)
	if err != nil {
		return "", xerrors.Wrap(err, "idem: wrap gRPC response")
	}
	b, err := proto.Marshal(anyMsg)
	if err != nil {
		return "", xerrors.Wrap(err, "idem: marshal gRPC response")
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func decodeGRPCResponse(body string) (proto.Message, error) {
	b, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, err
	}
	var anyMsg anypb.Any
	if err := proto.Unmarshal(b, &anyMsg); err != nil {
		return nil, err
	}
	return anypb.UnmarshalNew(&anyMsg, proto.UnmarshalOptions{})
}

// toStatus 将错误转换为 gRPC status：幂等错误按 GRPCCode 映射，已是 status 的错误原样返回
func toStatus(err error) error {
	if IsGuardError(err) {
		msg := err.Error()
		var coded *xerrors.CodedError
		if errors.As(err, &coded) {
			msg = coded.Message()
		}
		return status.Error(GRPCCode(err), msg)
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codes.Internal, err.Error())
}
