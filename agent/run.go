// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package agent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"bedrockgate/agent/audit"
	"bedrockgate/agent/permissions"
	"bedrockgate/agent/ratelimit"
)

// Run is the exported entry point for the gate service. It blocks until
// SIGINT or SIGTERM and exits the process on startup failure.
func Run() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := Serve(ctx, cfg); err != nil {
		log.Fatalf("Gate stopped: %v", err)
	}
}

// service holds everything Serve builds so it can be torn down in order
type service struct {
	gate     *Gate
	queue    *audit.Queue
	archiver *audit.Archiver
	db       *sql.DB
	redis    *redis.Client
}

// Serve builds the gate from cfg and serves HTTP until ctx is done
func Serve(ctx context.Context, cfg *Config) error {
	svc, err := newService(ctx, cfg, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer svc.close()

	router := mux.NewRouter()
	NewGatewayHandlers(svc.gate, cfg.AdminAPIKey).WithAuditQueue(svc.queue).Register(router)
	router.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           c.Handler(router),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if svc.archiver != nil {
		go svc.archiver.Run(runCtx, cfg.AuditArchiveInterval)
	}

	errChan := make(chan error, 1)
	go func() {
		log.Printf("🚀 Bedrock gate starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		log.Println("Shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := svc.queue.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("audit queue shutdown: %w", err))
	}
	log.Println("✅ Bedrock gate stopped")
	return errors.Join(errs...)
}

func newService(ctx context.Context, cfg *Config, reg prometheus.Registerer) (svc *service, err error) {
	svc = &service{}
	defer func() {
		if err != nil {
			if svc.queue != nil {
				_ = svc.queue.Shutdown(context.Background())
			}
			svc.close()
		}
	}()

	var source permissions.Source
	if cfg.PermissionsSecretID != "" {
		awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		source = permissions.NewSecretsManagerSource(secretsmanager.NewFromConfig(awsCfg), cfg.PermissionsSecretID)
		log.Printf("Permissions loaded from AWS Secrets Manager")
	} else {
		source = permissions.NewFileSource(cfg.PermissionsFile)
		log.Printf("Permissions loaded from %s", cfg.PermissionsFile)
	}
	store := permissions.NewStore(ctx, source)
	if store.Degraded() {
		log.Printf("⚠️  Permission source unreadable, running with the restrictive default profile")
	}

	primary, fileSink, err := svc.openAuditSink(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(cfg.AuditFallbackFile); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create fallback directory: %w", err)
		}
	}
	metrics := NewMetrics(reg)
	svc.queue, err = audit.NewQueue(primary, audit.QueueConfig{
		Mode:         cfg.AuditMode,
		Size:         cfg.AuditQueueSize,
		Workers:      cfg.AuditWorkers,
		FallbackPath: cfg.AuditFallbackFile,
		OnFault:      metrics.observeSinkFailure,
	})
	if err != nil {
		return nil, err
	}

	if cfg.AuditS3Bucket != "" && fileSink != nil {
		s3Client, err := newArchiveClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		svc.archiver = audit.NewArchiver(fileSink, s3Client, cfg.AuditS3Bucket, cfg.AuditS3Prefix)
		log.Printf("Audit segments archived to s3://%s/%s", cfg.AuditS3Bucket, cfg.AuditS3Prefix)
	}

	auditLog := audit.NewLogger(svc.queue, audit.WithFaultHook(metrics.observeSinkFailure))

	var tokens TokenStore = NewMemoryTokenStore()
	if cfg.RedisURL != "" {
		svc.redis, err = newRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		tokens = NewRedisTokenStore(svc.redis)
		log.Println("✅ Decision tokens tracked in Redis")
	}

	svc.gate, err = NewGate(GateConfig{
		RequireDecisionToken: cfg.RequireDecisionToken,
		TokenSecret:          cfg.DecisionTokenSecret,
		TokenTTL:             cfg.DecisionTokenTTL,
	}, Dependencies{
		Permissions: store,
		Audit:       auditLog,
		Limiter:     ratelimit.NewLimiter(),
		Tokens:      tokens,
		Metrics:     metrics,
	})
	if err != nil {
		return nil, err
	}
	return svc, nil
}

// openAuditSink returns the primary sink, and the file sink when that is
// what was opened.
func (svc *service) openAuditSink(ctx context.Context, cfg *Config) (audit.Sink, *audit.FileSink, error) {
	if cfg.AuditDatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.AuditDatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit database: %w", err)
		}
		svc.db = db
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			return nil, nil, fmt.Errorf("failed to connect to audit database: %w", err)
		}

		sink := audit.NewPostgresSink(db)
		if err := sink.EnsureSchema(ctx); err != nil {
			return nil, nil, err
		}
		log.Println("✅ Audit log stored in PostgreSQL")
		return sink, nil, nil
	}

	sink, err := audit.NewFileSink(cfg.AuditDir)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("✅ Audit log stored in %s", cfg.AuditDir)
	return sink, sink, nil
}

func newArchiveClient(ctx context.Context, cfg *Config) (*s3.Client, error) {
	optFns := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.AWSRegion),
	}
	if cfg.AuditS3AccessKeyID != "" && cfg.AuditS3SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AuditS3AccessKeyID, cfg.AuditS3SecretAccessKey, "")
		optFns = append(optFns, config.WithCredentialsProvider(creds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for archiver: %w", err)
	}
	return s3.NewFromConfig(awsCfg), nil
}

func (svc *service) close() {
	if svc.redis != nil {
		if err := svc.redis.Close(); err != nil {
			log.Printf("Error closing Redis client: %v", err)
		}
	}
	if svc.db != nil {
		if err := svc.db.Close(); err != nil {
			log.Printf("Error closing audit database: %v", err)
		}
	}
}
