package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"relief.org/internal/admission"
	"relief.org/internal/audit"
	"relief.org/internal/auth"
	"relief.org/internal/config"
	"relief.org/internal/httpapi"
	"relief.org/internal/incident"
	"relief.org/internal/ledger"
	"relief.org/internal/notify"
	"relief.org/internal/obs"
	"relief.org/internal/pipeline"
	"relief.org/internal/store/pg"
	"relief.org/internal/validate"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and gRPC servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

type stores struct {
	ledger    ledger.Service
	incidents incident.Store
	audit     audit.Store
	probe     httpapi.ReadyProbe
	close     func() error
}

func openStores(cfg config.Config) (stores, error) {
	if cfg.Database.DSN == "" {
		obs.Logger().Warn("storage_in_memory", "reason", "no database dsn configured")
		return stores{
			ledger:    ledger.NewInMemory(),
			incidents: incident.NewMemoryStore(),
			audit:     audit.NewMemoryStore(),
			close:     func() error { return nil },
		}, nil
	}
	st, err := pg.Open(cfg.Database.DSN, pg.Options{
		LockTimeout:  cfg.Database.LockTimeout.Duration,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	})
	if err != nil {
		return stores{}, fmt.Errorf("open database: %w", err)
	}
	return stores{
		ledger:    st.Ledger(),
		incidents: st.Incidents(),
		audit:     st.Audit(),
		probe:     httpapi.ReadyProbe{DB: st.DB()},
		close:     st.Close,
	}, nil
}

func policies(cfg config.AdmissionConfig) []admission.Policy {
	out := admission.DefaultPolicies(cfg.BypassRole)
	for i := range out {
		var pc config.PolicyConfig
		switch out[i].Name {
		case admission.PolicyGeneral:
			pc = cfg.General
		case admission.PolicyAuth:
			pc = cfg.Auth
		case admission.PolicyAssistant:
			pc = cfg.Assistant
		}
		if pc.Window.Duration > 0 {
			out[i].Window = pc.Window.Duration
		}
		if pc.Max > 0 {
			out[i].Max = pc.Max
		}
	}
	return out
}

func shedder(cfg config.AdmissionConfig) *admission.Shedder {
	return admission.NewShedder(admission.ShedOptions{
		MaxInFlight:  cfg.MaxInFlight,
		MaxHeapBytes: uint64(cfg.MaxHeapMB) << 20,
		RetryAfter:   cfg.ShedRetry.Duration,
	})
}

func serve(ctx context.Context, cfg config.Config) error {
	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.Logger()

	authn, err := auth.NewJWTAuthenticator(cfg.Auth.Secret, cfg.Auth.Issuer)
	if err != nil {
		return err
	}

	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.close() }()

	probe := st.probe
	var counters admission.CounterStore
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		counters = admission.NewRedisStore(rdb)
		probe.Checks = append(probe.Checks, func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	} else {
		mem := admission.NewMemoryStore(nil)
		mem.StartSweeper(ctx, time.Minute)
		counters = mem
	}

	trail := audit.NewTrail(st.audit, audit.Options{
		QueueSize:    cfg.Audit.QueueSize,
		WriteTimeout: cfg.Audit.WriteTimeout.Duration,
	})
	bus := notify.New(notify.Options{SubscriberBuffer: cfg.Notify.SubscriberBuffer})

	p, err := pipeline.New(pipeline.Deps{
		Ledger:    st.ledger,
		Incidents: st.incidents,
		Audit:     trail,
		Bus:       bus,
		Validator: validate.NewChain(),
		Admission: admission.NewController(counters, admission.Options{
			Policies: policies(cfg.Admission),
			FailOpen: cfg.Admission.FailOpen,
		}),
	})
	if err != nil {
		return err
	}

	api, err := httpapi.New(httpapi.Deps{
		Pipeline: p,
		Ledger:   st.ledger,
		Audit:    trail,
		Bus:      bus,
		Auth:     authn,
		Ready:    probe,
		Shedder:  shedder(cfg.Admission),
	}, httpapi.Options{
		Version:        version,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		TrustForwarded: cfg.HTTP.TrustForwarded,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	health := httpapi.NewHealthServer(probe)
	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, health)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http_listen", "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http listen: %w", err)
		}
		return nil
	})
	if cfg.GRPCAddr != "" {
		g.Go(func() error {
			lis, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				return fmt.Errorf("grpc listen: %w", err)
			}
			log.Info("grpc_listen", "addr", cfg.GRPCAddr)
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc serve: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			health.Poll(gctx, 10*time.Second)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting_down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		grpcSrv.GracefulStop()
		err := srv.Shutdown(shutdownCtx)
		if cerr := trail.Close(shutdownCtx); cerr != nil {
			log.Warn("audit_drain_incomplete", "error", cerr.Error())
		}
		return err
	})

	err = g.Wait()
	log.Info("stopped")
	return err
}
