package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/arxiv-harvester/pkg/cache"
	"github.com/Sternrassler/arxiv-harvester/pkg/client"
	"github.com/Sternrassler/arxiv-harvester/pkg/config"
	"github.com/Sternrassler/arxiv-harvester/pkg/metrics"
	"github.com/Sternrassler/arxiv-harvester/pkg/orchestrator"
	"github.com/Sternrassler/arxiv-harvester/pkg/ratelimit"
	"github.com/Sternrassler/arxiv-harvester/pkg/snapshot"
	"github.com/Sternrassler/arxiv-harvester/pkg/source"
	"github.com/Sternrassler/arxiv-harvester/pkg/source/arxiv"
	"github.com/Sternrassler/arxiv-harvester/pkg/source/listing"
	"github.com/Sternrassler/arxiv-harvester/pkg/source/pubmed"
)

// deps holds everything a command needs, built once from configuration.
type deps struct {
	cfg    *config.Config
	logger zerolog.Logger
	orch   *orchestrator.Orchestrator
	redis  *redis.Client
}

func (d *deps) Close() {
	if d.redis != nil {
		_ = d.redis.Close()
	}
}

// ready is the daemon's readiness probe.
func (d *deps) ready() metrics.ReadyFunc {
	if d.redis == nil {
		return nil
	}
	return func(ctx context.Context) error {
		return d.redis.Ping(ctx).Err()
	}
}

func buildDeps(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*deps, error) {
	d := &deps{cfg: cfg, logger: logger}

	if cfg.Redis.Enabled {
		d.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := d.redis.Ping(ctx).Err(); err != nil {
			d.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
	}

	src, lister, err := d.buildSource()
	if err != nil {
		d.Close()
		return nil, err
	}

	opts := []orchestrator.Option{orchestrator.WithLogger(logger)}
	if lister != nil {
		opts = append(opts, orchestrator.WithLister(lister))
	}
	if cfg.Publish.S3.Enabled {
		pub, err := snapshot.NewS3Publisher(ctx, cfg.S3())
		if err != nil {
			d.Close()
			return nil, err
		}
		opts = append(opts, orchestrator.WithPublisher(pub))
	}

	d.orch, err = orchestrator.New(src, cfg.Orchestrator(), opts...)
	if err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *deps) limiter(name string, interval time.Duration) (ratelimit.Limiter, error) {
	if d.redis == nil {
		return ratelimit.NewIntervalLimiter(name, interval), nil
	}
	return ratelimit.NewRedisLimiter(d.redis, d.cfg.Redis.LimiterKey, interval, d.logger)
}

// buildSource returns the configured source and, for arXiv, the listing
// source used by gap fill.
func (d *deps) buildSource() (source.Source, orchestrator.Lister, error) {
	cfg := d.cfg

	switch cfg.Source {
	case config.SourceArxiv:
		lim, err := d.limiter(arxiv.Name, cfg.Arxiv.MinInterval)
		if err != nil {
			return nil, nil, err
		}
		ccfg := client.DefaultConfig(arxiv.Name, cfg.Arxiv.UserAgent, lim)
		ccfg.Timeout = cfg.Arxiv.Timeout
		ccfg.MaxRetries = cfg.Arxiv.MaxRetries
		ccfg.Logger = d.logger
		c, err := client.New(ccfg)
		if err != nil {
			return nil, nil, err
		}

		opts := []arxiv.Option{arxiv.WithLogger(d.logger)}
		if d.redis != nil {
			opts = append(opts, arxiv.WithCache(cache.NewManager(d.redis, cfg.Redis.RecordTTL)))
		}
		src, err := arxiv.New(c, arxiv.Config{APIURL: cfg.Arxiv.APIURL, PageSize: cfg.Arxiv.PageSize}, opts...)
		if err != nil {
			return nil, nil, err
		}
		return src, listing.New(c, cfg.Arxiv.ListURL, cfg.Arxiv.ListingSize, d.logger), nil

	case config.SourcePubMed:
		lim, err := d.limiter(pubmed.Name, cfg.PubMed.MinInterval)
		if err != nil {
			return nil, nil, err
		}
		ccfg := client.DefaultConfig(pubmed.Name, cfg.Arxiv.UserAgent, lim)
		ccfg.Logger = d.logger
		c, err := client.New(ccfg)
		if err != nil {
			return nil, nil, err
		}
		src, err := pubmed.New(c, cfg.PubMed.Feeds, d.logger)
		if err != nil {
			return nil, nil, err
		}
		return src, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown source %q", cfg.Source)
}
