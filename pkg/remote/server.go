package remote

import (
	"context"
	"fmt"
	"net"
	"sort"
	"time"

	"metacohort/pkg/repository"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// collectionServer is the handler type of the service descriptor.
type collectionServer interface {
	serve(ctx context.Context, method string, r *request) (*structpb.Value, error)
}

// service answers calls against one collection.
type service struct {
	collection repository.MetadataCollection
	logger     *zap.Logger
}

func (s *service) serve(ctx context.Context, method string, r *request) (*structpb.Value, error) {
	h, ok := handlers[method]
	if !ok {
		return nil, status.Errorf(codes.Unimplemented, "unknown method %s", method)
	}
	value, err := h(ctx, s.collection, r)
	if err != nil {
		return nil, toStatus(ctx, method, err)
	}
	out, err := toValue(value)
	if err != nil {
		s.logger.Error("Failed to encode response", zap.String("method", method), zap.Error(err))
		return nil, toStatus(ctx, method, fmt.Errorf("encode response: %w", err))
	}
	return out, nil
}

func methodHandler(method string) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		msg := new(structpb.Struct)
		if err := dec(msg); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "decode %s request: %v", method, err)
		}
		in, err := requestFrom(msg)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "decode %s request: %v", method, err)
		}
		svc := srv.(collectionServer)
		if interceptor == nil {
			return svc.serve(ctx, method, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return svc.serve(ctx, method, req.(*request))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// serviceDesc builds the descriptor from the handler table.
func serviceDesc() *grpc.ServiceDesc {
	names := make([]string, 0, len(handlers))
	for name := range handlers {
		names = append(names, name)
	}
	sort.Strings(names)

	desc := &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*collectionServer)(nil),
		Streams:     []grpc.StreamDesc{},
		Metadata:    "metacohort/collection.proto",
	}
	for _, name := range names {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: name,
			Handler:    methodHandler(name),
		})
	}
	return desc
}

// Register exposes collection on s.
func Register(s *grpc.Server, collection repository.MetadataCollection, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s.RegisterService(serviceDesc(), &service{collection: collection, logger: logger})
}

// LoggingInterceptor logs every call with its outcome and the caller's
// certificate name when the connection is authenticated.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Duration("duration", time.Since(start)),
			zap.Stringer("code", status.Code(err)),
		}
		if name := peerName(ctx); name != "" {
			fields = append(fields, zap.String("peer", name))
		}
		if r, ok := req.(*request); ok {
			fields = append(fields, zap.String("user_id", r.UserID))
		}
		if err != nil && status.Code(err) == codes.Internal {
			logger.Warn("Call failed", append(fields, zap.Error(err))...)
		} else {
			logger.Debug("Call served", fields...)
		}
		return resp, err
	}
}

func peerName(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok {
		return ""
	}
	tlsInfo, ok := p.AuthInfo.(credentials.TLSInfo)
	if ok && len(tlsInfo.State.PeerCertificates) > 0 {
		return tlsInfo.State.PeerCertificates[0].Subject.CommonName
	}
	if p.Addr == nil {
		return ""
	}
	return p.Addr.String()
}

// Server serves one collection to other cohort members.
type Server struct {
	grpc   *grpc.Server
	logger *zap.Logger
}

// NewServer creates a server for collection. Options are added after the
// logging interceptor and the credentials.
func NewServer(collection repository.MetadataCollection, tlsCfg TLSConfig, logger *zap.Logger, opts ...grpc.ServerOption) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	serverOpts := []grpc.ServerOption{grpc.UnaryInterceptor(LoggingInterceptor(logger))}

	creds, err := tlsCfg.ServerCredentials()
	if err != nil {
		return nil, fmt.Errorf("failed to build server TLS config: %w", err)
	}
	if creds != nil {
		serverOpts = append(serverOpts, grpc.Creds(creds))
		logger.Info("TLS enabled for collection server",
			zap.Bool("require_client_auth", tlsCfg.RequireClientAuth))
	}
	serverOpts = append(serverOpts, opts...)

	s := grpc.NewServer(serverOpts...)
	Register(s, collection, logger)
	return &Server{grpc: s, logger: logger}, nil
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("Collection server listening", zap.String("address", lis.Addr().String()))
	if err := s.grpc.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// Stop waits for in-flight calls and then shuts the server down.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}
