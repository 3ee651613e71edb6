package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/buenosos/buenosos-server-go/internal/auth"
	"github.com/buenosos/buenosos-server-go/internal/table"
)

// GameQueryServiceName is the fully qualified name of the read-only game
// query service.
const GameQueryServiceName = "buenosos.v1.GameQuery"

// GameQueryServer answers read-only questions about stored games. Messages
// are well-known protobuf types so no generated code is needed.
type GameQueryServer interface {
	GetGame(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	ListGames(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
}

func gameQueryGetGameHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GameQueryServer).GetGame(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + GameQueryServiceName + "/GetGame"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(GameQueryServer).GetGame(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func gameQueryListGamesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GameQueryServer).ListGames(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + GameQueryServiceName + "/ListGames"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(GameQueryServer).ListGames(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// GameQueryServiceDesc registers a GameQueryServer on a grpc.Server.
var GameQueryServiceDesc = grpc.ServiceDesc{
	ServiceName: GameQueryServiceName,
	HandlerType: (*GameQueryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetGame", Handler: gameQueryGetGameHandler},
		{MethodName: "ListGames", Handler: gameQueryListGamesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "buenosos/v1/game_query.proto",
}

// GameQueryClient calls the game query service over conn.
type GameQueryClient struct {
	conn grpc.ClientConnInterface
}

// NewGameQueryClient creates a client for the game query service.
func NewGameQueryClient(conn grpc.ClientConnInterface) *GameQueryClient {
	return &GameQueryClient{conn: conn}
}

// WithToken attaches a player's bearer token to outgoing calls. GetGame
// requires it; the token must belong to the requested game.
func WithToken(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
}

// GetGame fetches the state of one game.
func (c *GameQueryClient) GetGame(ctx context.Context, gameID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+GameQueryServiceName+"/GetGame", wrapperspb.String(gameID), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ListGames fetches the summaries of every stored game.
func (c *GameQueryClient) ListGames(ctx context.Context, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.conn.Invoke(ctx, "/"+GameQueryServiceName+"/ListGames", &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// gameQueryServer implements GameQueryServer over the coordinator.
type gameQueryServer struct {
	manager *table.Manager
	logger  *zap.Logger
}

func (s *gameQueryServer) GetGame(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	gameID := strings.TrimSpace(req.GetValue())
	if gameID == "" {
		return nil, status.Error(codes.InvalidArgument, "game id is required")
	}
	if err := s.authorize(ctx, gameID); err != nil {
		return nil, grpcError(err)
	}
	state, err := s.manager.GetGame(ctx, gameID)
	if err != nil {
		return nil, grpcError(err)
	}
	out := new(structpb.Struct)
	if err := toProtoJSON(state, out); err != nil {
		return nil, err
	}
	return out, nil
}

// authorize requires an authorization bearer in the call metadata that
// belongs to gameID.
func (s *gameQueryServer) authorize(ctx context.Context, gameID string) error {
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get("authorization")
	if len(values) == 0 {
		return auth.ErrMissingToken
	}
	token, err := auth.ParseBearer(values[0])
	if err != nil {
		return err
	}
	player, err := s.manager.Authenticate(ctx, token)
	if err != nil {
		return err
	}
	return s.manager.Authorize(player, gameID)
}

// ListGames returns summaries only, which are public as on the REST list.
func (s *gameQueryServer) ListGames(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	games, err := s.manager.ListGames(ctx)
	if err != nil {
		return nil, grpcError(err)
	}
	out := new(structpb.ListValue)
	if err := toProtoJSON(games, out); err != nil {
		return nil, err
	}
	return out, nil
}

// toProtoJSON converts v through its JSON form into a structpb message.
func toProtoJSON(v any, out proto.Message) error {
	data, err := json.Marshal(v)
	if err != nil {
		return status.Errorf(codes.Internal, "encode: %v", err)
	}
	if err := protojson.Unmarshal(data, out); err != nil {
		return status.Errorf(codes.Internal, "convert: %v", err)
	}
	return nil
}

// GRPCServer runs the health and game query services.
type GRPCServer struct {
	server *grpc.Server
	health *health.Server
	logger *zap.Logger
}

// NewGRPCServer builds the gRPC server with recovery and logging interceptors.
func NewGRPCServer(manager *table.Manager, logger *zap.Logger) *GRPCServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor(logger),
			LoggingInterceptor(logger),
		),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
	)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	grpcServer.RegisterService(&GameQueryServiceDesc, &gameQueryServer{manager: manager, logger: logger})
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(GameQueryServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	return &GRPCServer{server: grpcServer, health: healthServer, logger: logger}
}

// Serve accepts connections on lis until Stop.
func (s *GRPCServer) Serve(lis net.Listener) error {
	s.logger.Info("starting gRPC server", zap.String("address", lis.Addr().String()))
	if err := s.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve grpc: %w", err)
	}
	return nil
}

// Stop marks every service NOT_SERVING and drains in-flight calls until
// ctx ends, then stops hard.
func (s *GRPCServer) Stop(ctx context.Context) {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.server.Stop()
	}
}

// RecoveryInterceptor turns a panicking handler into an Internal error.
func RecoveryInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if p := recover(); p != nil {
				logger.Error("panic in grpc handler",
					zap.String("method", info.FullMethod),
					zap.Any("panic", p),
					zap.ByteString("stack", debug.Stack()),
				)
				err = status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}

// LoggingInterceptor logs every call with its peer, code and duration.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("peer", extractHostFromContext(ctx)),
			zap.String("code", status.Code(err).String()),
			zap.Duration("duration", time.Since(start)),
		}
		if err != nil && status.Code(err) == codes.Internal {
			logger.Error("grpc call failed", append(fields, zap.Error(err))...)
		} else {
			logger.Debug("grpc call", fields...)
		}
		return resp, err
	}
}

// extractHostFromContext returns the caller's host, or "unknown".
func extractHostFromContext(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return "unknown"
}
