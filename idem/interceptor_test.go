package idem

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ceyewan/idemguard/testkit"
)

var createUserInfo = &grpc.UnaryServerInfo{FullMethod: "/blog.v1.Users/Create"}

func keyContext(key string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs(DefaultMetadataKey, key))
}

func newUserStruct(t *testing.T, name string) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(map[string]any{"name": name, "email": "john@example.com"})
	require.NoError(t, err)
	return s
}

type grpcFixture struct {
	*guardFixture
	interceptor grpc.UnaryServerInterceptor
	handlerErr  error
}

func newGRPCFixture(t *testing.T) *grpcFixture {
	f := &grpcFixture{guardFixture: newGuardFixture(t)}
	f.interceptor = f.guard.UnaryServerInterceptor()
	return f
}

func (f *grpcFixture) handler(_ context.Context, req any) (any, error) {
	if f.handlerErr != nil {
		return nil, f.handlerErr
	}
	n := f.runs.Add(1)
	in := req.(*structpb.Struct)
	return structpb.NewStruct(map[string]any{
		"id":   float64(n),
		"name": in.Fields["name"].GetStringValue(),
	})
}

func TestUnaryServerInterceptor_ReplaysResponse(t *testing.T) {
	f := newGRPCFixture(t)
	key := testkit.NewKey()
	ctx := keyContext(key)

	first, err := f.interceptor(ctx, newUserStruct(t, "John"), createUserInfo, f.handler)
	require.NoError(t, err)

	second, err := f.interceptor(ctx, newUserStruct(t, "John"), createUserInfo, f.handler)
	require.NoError(t, err)
	assert.True(t, proto.Equal(first.(proto.Message), second.(proto.Message)))
	assert.Equal(t, float64(1), second.(*structpb.Struct).Fields["id"].GetNumberValue())
	assert.Equal(t, int32(1), f.runs.Load())

	rec, err := f.store.FindAliveByKey(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, GRPCMethod, rec.RequestMethod)
	assert.Equal(t, createUserInfo.FullMethod, rec.RequestPath)
	assert.Equal(t, Headers{"Content-Type": grpcContentType}, rec.Headers())
}

func TestUnaryServerInterceptor_Errors(t *testing.T) {
	tests := []struct {
		name string
		ctx  func(key string) context.Context
		prep func(t *testing.T, f *grpcFixture, ctx context.Context)
		req  string
		code codes.Code
	}{
		{
			name: "missing metadata",
			ctx:  func(string) context.Context { return context.Background() },
			req:  "John",
			code: codes.InvalidArgument,
		},
		{
			name: "invalid key",
			ctx:  func(string) context.Context { return keyContext("nope") },
			req:  "John",
			code: codes.InvalidArgument,
		},
		{
			name: "params mismatch",
			ctx:  keyContext,
			prep: func(t *testing.T, f *grpcFixture, ctx context.Context) {
				_, err := f.interceptor(ctx, newUserStruct(t, "John"), createUserInfo, f.handler)
				require.NoError(t, err)
			},
			req:  "Jane",
			code: codes.FailedPrecondition,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newGRPCFixture(t)
			ctx := tt.ctx(testkit.NewKey())
			if tt.prep != nil {
				tt.prep(t, f, ctx)
			}
			_, err := f.interceptor(ctx, newUserStruct(t, tt.req), createUserInfo, f.handler)
			assert.Equal(t, tt.code, status.Code(err))
		})
	}
}

func TestUnaryServerInterceptor_HandlerErrorIsRetried(t *testing.T) {
	f := newGRPCFixture(t)
	ctx := keyContext(testkit.NewKey())

	f.handlerErr = status.Error(codes.Unavailable, "database down")
	_, err := f.interceptor(ctx, newUserStruct(t, "John"), createUserInfo, f.handler)
	assert.Equal(t, codes.Unavailable, status.Code(err), "status errors pass through")

	f.handlerErr = errors.New("plain failure")
	_, err = f.interceptor(ctx, newUserStruct(t, "John"), createUserInfo, f.handler)
	assert.Equal(t, codes.Internal, status.Code(err))

	f.handlerErr = nil
	out, err := f.interceptor(ctx, newUserStruct(t, "John"), createUserInfo, f.handler)
	require.NoError(t, err)
	assert.Equal(t, float64(1), out.(*structpb.Struct).Fields["id"].GetNumberValue())
	assert.Equal(t, 1, f.store.count())
}

func TestUnaryServerInterceptor_CustomMetadataKey(t *testing.T) {
	f := newGuardFixture(t)
	interceptor := f.guard.UnaryServerInterceptor(WithMetadataKey("x-request-key"))
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-request-key", testkit.NewKey()))

	handler := func(context.Context, any) (any, error) { return &structpb.Struct{}, nil }
	_, err := interceptor(ctx, &structpb.Struct{}, createUserInfo, handler)
	assert.NoError(t, err)
}

func TestGRPCResponseCodec(t *testing.T) {
	msg, err := structpb.NewStruct(map[string]any{"id": 3.0, "tags": []any{"a", "b"}})
	require.NoError(t, err)

	body, err := encodeGRPCResponse(msg)
	require.NoError(t, err)
	decoded, err := decodeGRPCResponse(body)
	require.NoError(t, err)
	assert.True(t, proto.Equal(msg, decoded))

	_, err = encodeGRPCResponse("not a proto")
	assert.Equal(t, codes.Internal, status.Code(err))

	_, err = decodeGRPCResponse("%%%")
	assert.Error(t, err)
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code codes.Code
		msg  string
	}{
		{"guard error", ErrKeyLocked, codes.Aborted, "a request with this idempotency key is in progress"},
		{"status passthrough", status.Error(codes.NotFound, "User not found"), codes.NotFound, "User not found"},
		{"plain error", errors.New("boom"), codes.Internal, "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, ok := status.FromError(toStatus(tt.err))
			require.True(t, ok)
			assert.Equal(t, tt.code, st.Code())
			assert.Equal(t, tt.msg, st.Message())
		})
	}
}
