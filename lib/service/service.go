/*
Copyright 2025 Codebench, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package service wires the configured backends into a running API
// process: Postgres, Redis, object storage and the workflow engine
// come up first, the domain services on top of them, the HTTP server
// last. Close tears the stack down in the reverse order.
package service

import (
	"context"
	"errors"
	"net/http"

	"github.com/gravitational/trace"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/codebench/codebench"
	"github.com/codebench/codebench/lib/auth"
	"github.com/codebench/codebench/lib/authz"
	"github.com/codebench/codebench/lib/blob"
	"github.com/codebench/codebench/lib/cache"
	"github.com/codebench/codebench/lib/config"
	"github.com/codebench/codebench/lib/deploy"
	"github.com/codebench/codebench/lib/eventbus"
	"github.com/codebench/codebench/lib/messaging"
	"github.com/codebench/codebench/lib/session"
	"github.com/codebench/codebench/lib/storage"
	"github.com/codebench/codebench/lib/submissions"
	"github.com/codebench/codebench/lib/taskexec"
	"github.com/codebench/codebench/lib/testruns"
	"github.com/codebench/codebench/lib/utils"
	"github.com/codebench/codebench/lib/views"
	"github.com/codebench/codebench/lib/web"
)

// Process is one running API instance.
type Process struct {
	cfg *config.Config
	log logrus.FieldLogger

	store    *storage.Store
	redis    redis.UniversalClient
	blob     blob.Store
	executor taskexec.Executor
	events   *eventbus.Manager
	server   *http.Server
}

// New connects every backend and assembles the process. Nothing is
// served until Run.
func New(ctx context.Context, cfg *config.Config) (*Process, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	log := logrus.WithFields(logrus.Fields{codebench.Component: "process"})

	store, err := storage.New(ctx, storage.Config{ConnString: cfg.Postgres.DSN()})
	if err != nil {
		return nil, trace.Wrap(err, "connecting to postgres")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		store.Close()
		return nil, trace.Wrap(err, "connecting to redis")
	}

	blobStore, err := openBlobStore(ctx, cfg)
	if err != nil {
		redisClient.Close()
		store.Close()
		return nil, trace.Wrap(err)
	}

	var executor taskexec.Executor
	if cfg.Temporal.Host != "" {
		temporal, err := taskexec.NewTemporalExecutor(cfg.Temporal.HostPort(), cfg.Temporal.Namespace)
		if err != nil {
			redisClient.Close()
			store.Close()
			return nil, trace.Wrap(err, "connecting to temporal")
		}
		executor = temporal
	} else {
		log.Warn("No workflow engine configured; test runs will execute against an in-process fake.")
		executor = taskexec.NewFakeExecutor()
	}

	registry := authz.NewRegistry()
	viewCache, err := cache.NewViewCache(cache.ViewCacheConfig{})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	redisCache := cache.NewRedisCache(redisClient)
	invalidator := cache.NewInvalidator(viewCache, redisCache)

	sessions, err := session.NewStore(session.Config{
		Redis:           redisClient,
		Identity:        store,
		AccessTokenTTL:  cfg.Auth.AccessTokenTTL,
		RefreshTokenTTL: cfg.Auth.RefreshTokenTTL,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	authn, err := auth.NewAuthenticator(auth.Config{
		Identity:          store,
		Courses:           store,
		Sessions:          sessions,
		ProviderJWTSecret: []byte(cfg.Auth.ProviderJWTSecret),
		CacheTTL:          cfg.Auth.PrincipalCacheTTL,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := bootstrapAdmin(ctx, cfg, store, log); err != nil {
		return nil, trace.Wrap(err)
	}

	assembler, err := views.NewAssembler(views.Config{
		Services: store, Views: viewCache, Redis: redisCache,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	subs, err := submissions.NewService(submissions.Config{
		Services: store, Blob: blobStore, Invalidator: invalidator,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	scheduler, err := testruns.NewScheduler(testruns.Config{
		Services: store, Executor: executor, Invalidator: invalidator,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	engine, err := deploy.NewEngine(deploy.Config{
		Services: store, Executor: executor, Invalidator: invalidator,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	msgs, err := messaging.NewService(messaging.Config{
		Services: store, Registry: registry, Invalidator: invalidator,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	events, err := eventbus.NewManager(eventbus.Config{
		Redis:                 redisClient,
		Services:              store,
		Registry:              registry,
		MaxTotalConnections:   cfg.Web.WSMaxTotalConnections,
		MaxConnectionsPerUser: cfg.Web.WSMaxConnectionsPerUser,
		PresenceTTL:           cfg.Web.WSPresenceTTL,
		SendTimeout:           cfg.Web.WSSendTimeout,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	handler, err := web.NewHandler(web.Config{
		Auth:        authn,
		Sessions:    sessions,
		Services:    store,
		Views:       assembler,
		Submissions: subs,
		TestRuns:    scheduler,
		Deployments: engine,
		Messages:    msgs,
		Events:      events,
		Registry:    registry,
		Pingers:     []web.Pinger{store, redisPinger{client: redisClient}},
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	return &Process{
		cfg:      cfg,
		log:      log,
		store:    store,
		redis:    redisClient,
		blob:     blobStore,
		executor: executor,
		events:   events,
		server:   &http.Server{Addr: cfg.Web.ListenAddr, Handler: handler},
	}, nil
}

// openBlobStore picks the configured object storage backend: MinIO/S3
// when an endpoint is set, a local spool directory otherwise. Config
// validation guarantees one of the two is configured.
func openBlobStore(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	if cfg.Blob.Endpoint != "" {
		store, err := blob.NewS3Store(ctx, blob.S3Config{
			Endpoint:  cfg.Blob.URL(),
			AccessKey: cfg.Blob.AccessKey,
			SecretKey: cfg.Blob.SecretKey,
		})
		return store, trace.Wrap(err)
	}
	store, err := blob.NewDirStore(cfg.Blob.LocalDir)
	return store, trace.Wrap(err)
}

// bootstrapAdmin seeds the default role claims and, when configured,
// the admin account. A generated password is logged exactly once.
func bootstrapAdmin(ctx context.Context, cfg *config.Config, store *storage.Store, log logrus.FieldLogger) error {
	password := cfg.Auth.AdminPassword
	generated := false
	if cfg.Auth.AdminUser != "" && password == "" {
		var err error
		password, err = utils.CryptoRandomHex(16)
		if err != nil {
			return trace.Wrap(err)
		}
		generated = true
	}
	if err := auth.Bootstrap(ctx, store, cfg.Auth.AdminUser, password); err != nil {
		return trace.Wrap(err)
	}
	if generated {
		log.WithField("user", cfg.Auth.AdminUser).Warnf(
			"Generated admin password: %s (change it after first login)", password)
	}
	return nil
}

// Run serves the API until Close.
func (p *Process) Run() error {
	p.log.WithField("addr", p.cfg.Web.ListenAddr).Info("Serving API.")
	err := p.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return trace.Wrap(err)
}

// Close shuts the stack down: stop accepting requests, drop websocket
// connections, then release the backends.
func (p *Process) Close(ctx context.Context) error {
	var errs []error
	if err := p.server.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := p.events.Close(); err != nil {
		errs = append(errs, err)
	}
	if closer, ok := p.executor.(interface{ Close() }); ok {
		closer.Close()
	}
	if err := p.redis.Close(); err != nil {
		errs = append(errs, err)
	}
	p.store.Close()
	return trace.NewAggregate(errs...)
}

type redisPinger struct {
	client redis.UniversalClient
}

func (p redisPinger) Ping(ctx context.Context) error {
	return trace.Wrap(p.client.Ping(ctx).Err())
}
