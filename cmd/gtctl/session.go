package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/GeneralTask/task-manager-sub001/cache"
	"github.com/GeneralTask/task-manager-sub001/client"
	"github.com/GeneralTask/task-manager-sub001/config"
	"github.com/GeneralTask/task-manager-sub001/domain"
	"github.com/GeneralTask/task-manager-sub001/engine"
	"github.com/GeneralTask/task-manager-sub001/queue"
)

type rootOptions struct {
	configPath string
	apiURL     string
	token      string
	cacheDB    string
	redis      string
	debug      bool
	timeout    time.Duration
}

func (o *rootOptions) bind(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&o.configPath, "config", defaultConfigPath(), "YAML file with api, token, cache_db and redis defaults")
	f.StringVar(&o.apiURL, "api", config.String("GT_API_URL", "http://localhost:8080"), "Backend base URL")
	f.StringVar(&o.token, "token", config.String("GT_SESSION_TOKEN", ""), "Session token")
	f.StringVar(&o.cacheDB, "cache-db", config.String("GT_CACHE_DB", ""), "SQLite file keeping the last known snapshots")
	f.StringVar(&o.redis, "redis", config.String("GT_REDIS_URL", ""), "Redis keeping the last known snapshots, instead of --cache-db")
	f.BoolVar(&o.debug, "debug", config.Bool("DEBUG", false), "Verbose logging")
	f.DurationVar(&o.timeout, "timeout", config.Duration("GT_TIMEOUT", 30*time.Second), "Time allowed for the command")
}

// session is one engine bound to the backend for the duration of a command.
type session struct {
	engine *engine.Engine
	queue  *queue.Queue
	logger *log.Logger
	// offline is set when the snapshots come from the local cache only.
	offline bool
	closers []func() error
}

func openSession(ctx context.Context, o *rootOptions) (*session, error) {
	logger := log.New()
	if o.debug {
		logger.SetLevel(log.DebugLevel)
	} else {
		logger.SetLevel(log.WarnLevel)
	}
	s := &session{logger: logger}

	var persister cache.Persister
	switch {
	case o.redis != "":
		rc := redis.NewClient(config.RedisOptions(o.redis))
		s.closers = append(s.closers, rc.Close)
		persister = cache.NewRedisPersister(rc, "gtctl", 7*24*time.Hour)
	case o.cacheDB != "":
		db, err := cache.OpenSQLite(o.cacheDB)
		if err != nil {
			return nil, fmt.Errorf("open cache: %w", err)
		}
		s.closers = append(s.closers, db.Close)
		persister = db
	}

	store := cache.New(logger, persister)
	s.queue = queue.New(queue.Options{
		Invalidator: store,
		Notifier:    engine.LogNotifier{Logger: logger},
		Logger:      logger,
	})
	s.engine = engine.New(client.New(o.apiURL, o.token), store, s.queue, logger)

	warmed, err := store.Warm(ctx)
	if err != nil {
		logger.WithError(err).Warn("could not read the local cache")
	}
	if err := s.engine.Load(ctx); err != nil {
		if warmed == 0 || !domain.IsNetwork(err) {
			s.close(ctx)
			return nil, err
		}
		logger.WithError(err).Warn("backend unreachable, showing cached data")
		s.offline = true
	}
	return s, nil
}

// settle waits for it and every refetch it triggered.
func (s *session) settle(ctx context.Context, it *queue.Intent) error {
	if it == nil {
		return nil
	}
	if err := it.Wait(ctx); err != nil {
		return err
	}
	return s.engine.Settle(ctx)
}

func (s *session) requireOnline() error {
	if s.offline {
		return errors.New("backend unreachable, changes cannot be saved")
	}
	return nil
}

func (s *session) close(ctx context.Context) {
	if err := s.queue.Close(ctx); err != nil {
		s.logger.WithError(err).Warn("mutations still running")
	}
	for _, c := range s.closers {
		_ = c()
	}
}

// withSession runs fn with an open session. cmd.Context carries the command
// timeout.
func withSession(o *rootOptions, fn func(cmd *cobra.Command, s *session, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := o.applyFile(cmd); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
		defer cancel()
		s, err := openSession(ctx, o)
		if err != nil {
			return err
		}
		defer s.close(ctx)
		cmd.SetContext(ctx)
		return fn(cmd, s, args)
	}
}

func parseIndex(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid index %q", raw)
	}
	return n, nil
}
