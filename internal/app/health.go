package app

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/matheus3301/criptx/internal/bus"
	"github.com/matheus3301/criptx/internal/lock"
	"github.com/matheus3301/criptx/internal/profile"
	"github.com/matheus3301/criptx/internal/status"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// SessionService is the health service name that reports SERVING while a
// session is authenticated.
const SessionService = "criptx.session"

// HealthServer serves grpc.health.v1 on the profile's Unix domain socket.
type HealthServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewHealthServer creates a health server bound to the profile's socket. It
// takes the profile lock so only the owning process binds the socket.
func NewHealthServer(p Params, _ *lock.Lock, logger *zap.Logger) (*HealthServer, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = profile.SocketPath(p.Profile)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}

	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	hs := health.NewServer()
	hs.SetServingStatus(SessionService, healthpb.HealthCheckResponse_NOT_SERVING)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &HealthServer{
		grpcServer: srv,
		health:     hs,
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// SocketPath returns the socket the server listens on.
func (s *HealthServer) SocketPath() string { return s.socketPath }

// Start begins serving. Blocks until stopped.
func (s *HealthServer) Start() error {
	s.logger.Info("health server starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

// Follow mirrors session status changes into the session service status
// until ctx ends.
func (s *HealthServer) Follow(ctx context.Context, b *bus.Bus) {
	events, unsub := b.Subscribe(bus.KindSessionStatus, 16)
	go func() {
		defer unsub()
		for {
			select {
			case evt := <-events:
				if change, ok := evt.Payload.(status.StatusChange); ok {
					s.SetSessionState(change.To)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// SetSessionState updates the session service status.
func (s *HealthServer) SetSessionState(st status.State) {
	serving := healthpb.HealthCheckResponse_NOT_SERVING
	if st == status.Authenticated {
		serving = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(SessionService, serving)
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *HealthServer) Stop(_ context.Context) {
	s.logger.Info("health server stopping")
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	_ = os.Remove(s.socketPath)
}

// Probe asks the health server at socketPath for the session service status.
func Probe(ctx context.Context, socketPath string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient("unix://"+socketPath, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	defer func() { _ = conn.Close() }()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: SessionService})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}
