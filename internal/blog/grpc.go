package blog

import (
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ceyewan/idemguard/clog"
	"github.com/ceyewan/idemguard/xerrors"
)

// UsersCreateMethod 创建用户的 gRPC 全方法名
const UsersCreateMethod = "/blog.v1.Users/Create"

// UsersServer blog.v1.Users 服务
//
// 请求与响应都是 structpb.Struct，请求形如 {"user": {"name": "..."}}。
type UsersServer interface {
	Create(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// UsersServiceDesc blog.v1.Users 的服务描述
var UsersServiceDesc = grpc.ServiceDesc{
	ServiceName: "blog.v1.Users",
	HandlerType: (*UsersServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Create", Handler: usersCreateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "blog/v1/users.proto",
}

// RegisterUsersServer 注册 blog.v1.Users 服务
func RegisterUsersServer(s grpc.ServiceRegistrar, srv UsersServer) {
	s.RegisterService(&UsersServiceDesc, srv)
}

// CreateUser 以客户端身份调用 blog.v1.Users/Create
func CreateUser(ctx context.Context, cc grpc.ClientConnInterface, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, UsersCreateMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func usersCreateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(UsersServer).Create(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: UsersCreateMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(UsersServer).Create(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

type usersService struct {
	repo   *Repository
	logger clog.Logger
}

// NewUsersServer 创建基于 Repository 的 UsersServer
func NewUsersServer(repo *Repository, logger clog.Logger) UsersServer {
	if logger == nil {
		logger = clog.Discard()
	}
	return &usersService{repo: repo, logger: logger.WithNamespace("blog", "grpc")}
}

func (s *usersService) Create(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	params := in.GetFields()["user"].GetStructValue()
	if params == nil {
		return nil, status.Error(codes.InvalidArgument, "param is missing or the value is empty: user")
	}

	fields := userFields{Name: params.GetFields()["name"].GetStringValue()}
	if err := validateStruct(fields); err != nil {
		var fe FieldErrors
		if errors.As(err, &fe) {
			return nil, status.Error(codes.InvalidArgument, fe.Error())
		}
		return nil, status.Error(codes.Internal, "Internal server error")
	}

	user := &User{Name: fields.Name}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "create user failed", clog.Error(err))
		return nil, status.Error(codes.Internal, "Internal server error")
	}

	out, err := toStruct(user)
	if err != nil {
		return nil, status.Error(codes.Internal, "Internal server error")
	}
	return out, nil
}

// toStruct 经 JSON 把模型转成 structpb.Struct，字段名与 HTTP 响应一致
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, xerrors.Wrap(err, "marshal")
	}
	out := new(structpb.Struct)
	if err := out.UnmarshalJSON(data); err != nil {
		return nil, xerrors.Wrap(err, "unmarshal struct")
	}
	return out, nil
}
