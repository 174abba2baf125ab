// Command gophstore-syncd relays sealed metadata blocks between devices of one database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/gophstore/internal/app"
	"github.com/and161185/gophstore/internal/config"
	blockmeta "github.com/and161185/gophstore/internal/metadata"
	grpcserver "github.com/and161185/gophstore/internal/server/grpc"
	"github.com/and161185/gophstore/internal/store"
	"github.com/and161185/gophstore/internal/syncapi"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main parses flags, opens the hub database and starts a TLS-enabled gRPC server.
func main() {
	addr := flag.String("addr", ":8443", "listen address")
	cfgPath := flag.String("config", "", "config file selecting the hub storage driver")
	jwtKey := flag.String("jwt-key", "", "HS256 signing key (required)")
	certFile := flag.String("tls-cert", "cert.pem", "TLS certificate (PEM)")
	keyFile := flag.String("tls-key", "key.pem", "TLS private key (PEM)")
	issue := flag.String("issue-token", "", "print a token for this device UUID and exit")
	tokenTTL := flag.Duration("token-ttl", 90*24*time.Hour, "lifetime of issued tokens")
	mergeOnDelivery := flag.Bool("merge", false, "merge deliveries into the hub database using a key cached in the keychain")
	dev := flag.Bool("dev", false, "enable server reflection (dev only)")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	if *jwtKey == "" {
		logger.Fatal("missing jwt signing key (--jwt-key)")
	}
	if *issue != "" {
		if err := issueToken(*jwtKey, *issue, *tokenTTL); err != nil {
			logger.Fatal("issue token", zap.Error(err))
		}
		return
	}

	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", *addr),
	)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	creds, err := credentials.NewServerTLSFromFile(*certFile, *keyFile)
	if err != nil {
		logger.Fatal("failed to load TLS cert/key", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open storage", zap.Error(err))
	}
	defer env.Close()

	srv := grpcserver.New(blockmeta.NewExchange(env.Repo), []byte(*jwtKey), logger)
	if *mergeOnDelivery {
		st, err := openHubStore(ctx, env, cfg, logger)
		if err != nil {
			logger.Fatal("open hub store", zap.Error(err))
		}
		defer func() { _ = st.Close(context.Background()) }()
		srv.OnDelivered = st.MetadataIsReadyToMerge
	}

	s := grpc.NewServer(
		grpc.Creds(creds),
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			srv.AuthUnary(),
			grpcserver.LoggingUnary(logger),
		),
	)
	syncapi.RegisterBlockSyncServer(s, srv)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if *dev {
		reflection.Register(s)
	}

	lis, err := net.Listen("tcp", *addr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening (TLS)", zap.String("addr", *addr), zap.String("root", env.Repo.Root()))
		errCh <- s.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		hs.Shutdown()
		done := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			s.Stop()
		}
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

func issueToken(key, device string, ttl time.Duration) error {
	id, err := uuid.FromString(device)
	if err != nil {
		return fmt.Errorf("device: %w", err)
	}
	tok, err := grpcserver.IssueToken([]byte(key), id, ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

// openHubStore unlocks the hub's own copy of the database with a cached key.
func openHubStore(ctx context.Context, env *app.Env, cfg *config.Config, log *zap.Logger) (*store.Store, error) {
	st := store.New(env.Repo, store.WithLogger(log), store.WithKDFParams(cfg.KDF), store.WithLimiter(env.Limiter))
	state, err := st.Load(ctx)
	if err != nil {
		return nil, err
	}
	if state != store.StateLocked {
		return nil, fmt.Errorf("hub database is %s", state)
	}
	key, err := env.Keychain.Get(ctx, env.KeyID())
	if err != nil {
		return nil, errors.New("no cached key; run gophstore unlock --remember against the hub database")
	}
	if _, err := st.UnlockWithKey(ctx, key); err != nil {
		return nil, err
	}
	return st, nil
}
