// Package sessionmanager wires the control plane together: storage, event
// recorder, scheduler, binding coordinator, and the Frontend/Backend grpc
// services.
package sessionmanager

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/k82cn/flame/config"
	"github.com/k82cn/flame/events"
	"github.com/k82cn/flame/pkg/clock"
	"github.com/k82cn/flame/pkg/errors"
	flamev1 "github.com/k82cn/flame/rpc/flame/v1"
	"github.com/k82cn/flame/scheduler"
	"github.com/k82cn/flame/scheduler/binding"
	"github.com/k82cn/flame/storage"
)

type Server struct {
	cfg *config.Config

	storage     *storage.Storage
	recorder    *events.Recorder
	coordinator *binding.Coordinator
	scheduler   *scheduler.Scheduler

	frontendSrv *grpc.Server
	backendSrv  *grpc.Server
}

func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	recorder := events.NewRecorder(store)
	coordinator := binding.NewCoordinator(store, cfg.BindWait(), clock.New())

	policy, err := scheduler.NewPolicy(cfg.Policy)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(store, coordinator, recorder, policy, clock.New(), scheduler.Config{
		TickInterval:        cfg.TickInterval(),
		StarvationThreshold: cfg.StarvationThreshold(),
		LeaseExpiry:         cfg.LeaseExpiry(),
	})

	s := &Server{
		cfg:         cfg,
		storage:     store,
		recorder:    recorder,
		coordinator: coordinator,
		scheduler:   sched,
	}

	opts := []grpc.ServerOption{
		grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(
			recoveryUnaryInterceptor,
			loggingUnaryInterceptor,
		)),
	}
	s.frontendSrv = grpc.NewServer(opts...)
	flamev1.RegisterFrontendServer(s.frontendSrv,
		newFrontendService(store, sched, cfg.Default.Slot, cfg.Executors.Shim))

	s.backendSrv = grpc.NewServer(opts...)
	flamev1.RegisterBackendServer(s.backendSrv,
		newBackendService(store, coordinator, sched, recorder, cfg.Executors.MaxExecutors))

	return s, nil
}

// Run serves the Frontend and Backend endpoints and drives the scheduler
// until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	frontendAddr := s.cfg.Endpoint
	backendAddr := s.cfg.BackendEndpoint
	if backendAddr == "" {
		var err error
		backendAddr, err = nextPort(frontendAddr)
		if err != nil {
			return err
		}
	}

	frontendLis, err := net.Listen("tcp", frontendAddr)
	if err != nil {
		return errors.ErrTransport.Wrap(err).GenWithStackByArgs("listen " + frontendAddr)
	}
	backendLis, err := net.Listen("tcp", backendAddr)
	if err != nil {
		return errors.ErrTransport.Wrap(err).GenWithStackByArgs("listen " + backendAddr)
	}

	log.L().Info("session manager listening",
		zap.String("frontend", frontendAddr),
		zap.String("backend", backendAddr))

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return s.frontendSrv.Serve(frontendLis)
	})
	eg.Go(func() error {
		return s.backendSrv.Serve(backendLis)
	})
	eg.Go(func() error {
		return s.scheduler.Run(ctx)
	})
	eg.Go(func() error {
		<-ctx.Done()
		s.frontendSrv.GracefulStop()
		s.backendSrv.GracefulStop()
		return nil
	})

	err = eg.Wait()
	s.coordinator.Close()
	s.recorder.Close()
	if cerr := s.storage.Close(); cerr != nil {
		log.L().Warn("storage close failed", zap.Error(cerr))
	}
	return err
}

func nextPort(addr string) (string, error) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return "", errors.ErrInvalidArgument.GenWithStackByArgs("invalid endpoint " + addr)
	}
	port, err := strconv.Atoi(addr[idx+1:])
	if err != nil {
		return "", errors.ErrInvalidArgument.Wrap(err).GenWithStackByArgs("invalid endpoint " + addr)
	}
	return fmt.Sprintf("%s:%d", addr[:idx], port+1), nil
}

func loggingUnaryInterceptor(
	ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler,
) (interface{}, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		log.L().Debug("rpc failed",
			zap.String("method", info.FullMethod), zap.Error(err))
	}
	return resp, err
}

func recoveryUnaryInterceptor(
	ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler,
) (resp interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.L().Error("rpc panic",
				zap.String("method", info.FullMethod), zap.Any("panic", r))
			err = errors.ToGRPCError(
				errors.ErrInternal.GenWithStackByArgs(fmt.Sprintf("panic: %v", r)))
		}
	}()
	return handler(ctx, req)
}
