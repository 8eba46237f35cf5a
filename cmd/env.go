package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/lead-qualifier/internal/aggregate"
	"github.com/sells-group/lead-qualifier/internal/checks"
	"github.com/sells-group/lead-qualifier/internal/filter"
	"github.com/sells-group/lead-qualifier/internal/jobs"
	"github.com/sells-group/lead-qualifier/internal/model"
	"github.com/sells-group/lead-qualifier/internal/queue"
	"github.com/sells-group/lead-qualifier/internal/resilience"
	"github.com/sells-group/lead-qualifier/internal/store"
	"github.com/sells-group/lead-qualifier/internal/workflow"
	anthropicpkg "github.com/sells-group/lead-qualifier/pkg/anthropic"
	"github.com/sells-group/lead-qualifier/pkg/classify"
	"github.com/sells-group/lead-qualifier/pkg/news"
	"github.com/sells-group/lead-qualifier/pkg/registry"
	"github.com/sells-group/lead-qualifier/pkg/websearch"
	"github.com/sells-group/lead-qualifier/pkg/whois"
)

// appEnv holds the store and every component a command may need.
type appEnv struct {
	Store      store.Store
	Notifier   queue.Notifier
	Suite      *checks.Suite
	Processor  *filter.Processor
	Dispatcher *jobs.Dispatcher // nil unless the mode dispatches
	Reaper     *jobs.Reaper
	Ingester   *jobs.Ingester
	Aggregator *aggregate.Aggregator

	closers []func()
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// initEnv validates the config for mode, opens and migrates the store and
// builds the components. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st}
	env.closers = append(env.closers, func() { _ = st.Close() })

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	notifier, closeNotifier, err := initNotifier(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Notifier = notifier
	if closeNotifier != nil {
		env.closers = append(env.closers, closeNotifier)
	}

	breakers := resilience.NewServiceBreakers(resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.Checks.BreakerFailureThreshold,
		ResetTimeout:     time.Duration(cfg.Checks.BreakerResetSecs) * time.Second,
	})

	suite := initSuite(st, breakers)
	env.Suite = suite

	chain := filter.DefaultChain(suite.Presence, suite.Status,
		time.Duration(cfg.Checks.WebsiteStepTimeoutMs)*time.Millisecond)
	env.Processor = filter.NewProcessor(st, chain, notifier, filter.ProcessorConfig{
		Concurrency: cfg.Processor.Concurrency,
	})
	env.Reaper = jobs.NewReaper(st, reaperConfig())
	env.Ingester = jobs.NewIngester(st, notifier)
	env.Aggregator = aggregate.New(st, suite)

	if mode == "serve" || mode == "dispatch" {
		trigger, closeTrigger, err := initTrigger()
		if err != nil {
			env.Close()
			return nil, err
		}
		if closeTrigger != nil {
			env.closers = append(env.closers, closeTrigger)
		}
		env.Dispatcher = jobs.NewDispatcher(st, trigger, dispatcherConfig())
	}

	return env, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "qualify.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{MaxConns: cfg.Store.MaxConns})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the store for commands that need nothing else.
func openStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("cli"); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initNotifier returns a Redis notifier when redis.url is set and a store
// poller otherwise.
func initNotifier(ctx context.Context) (queue.Notifier, func(), error) {
	poll := time.Duration(cfg.Processor.PollIntervalSecs) * time.Second
	if cfg.Redis.URL == "" {
		zap.L().Debug("QUALIFY_REDIS_URL not set, polling the store for batches")
		return queue.NewPollNotifier(poll), nil, nil
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, nil, eris.Wrap(err, "parse redis url")
	}
	rdb := redis.NewClient(opts)
	n := queue.NewRedisNotifier(rdb, cfg.Redis.Key, time.Duration(cfg.Redis.PollSecs)*time.Second)
	if err := n.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, nil, eris.Wrap(err, "ping redis")
	}
	zap.L().Info("redis notifier enabled", zap.String("key", cfg.Redis.Key))
	return n, func() { _ = rdb.Close() }, nil
}

// limiter returns a limiter allowing perSec requests per second, or nil
// when perSec is not positive.
func limiter(perSec float64) *rate.Limiter {
	if perSec <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSec), 1)
}

func policy(name string) checks.Policy {
	if cfg.Checks.IsFailClosed(name) {
		return checks.FailClosed
	}
	return checks.FailOpen
}

func initClassifier() classify.Classifier {
	switch cfg.Classifier.Provider {
	case "hf":
		return classify.NewHF(cfg.Classifier.HFToken,
			classify.WithBaseURL(cfg.Classifier.HFBaseURL),
			classify.WithModel(cfg.Classifier.HFModel),
			classify.WithRateLimiter(limiter(cfg.Classifier.RatePerSec)),
		)
	case "anthropic":
		client := anthropicpkg.NewClient(cfg.Anthropic.Key, anthropicpkg.WithMaxRetries(cfg.Anthropic.MaxRetries))
		return classify.NewAnthropic(client, cfg.Anthropic.Model)
	default:
		return nil
	}
}

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

// initSuite builds the four checkers. The domain checker reads through the
// check result cache unless checks.domain_cache_ttl_hours is 0.
func initSuite(st store.Store, breakers *resilience.ServiceBreakers) *checks.Suite {
	reach := checks.NewReachability(secs(cfg.Checks.LookupTimeoutSecs), breakers)

	newsClient := news.NewClient(cfg.News.Key,
		news.WithBaseURL(cfg.News.BaseURL),
		news.WithRateLimiter(limiter(cfg.News.RatePerSec)),
	)
	searchClient := websearch.NewClient(cfg.Search.Key, cfg.Search.EngineID,
		websearch.WithBaseURL(cfg.Search.BaseURL),
		websearch.WithRateLimiter(limiter(cfg.Search.RatePerSec)),
	)
	registryClient := registry.NewClient(cfg.Registry.Key,
		registry.WithBaseURL(cfg.Registry.BaseURL),
		registry.WithRateLimiter(limiter(cfg.Registry.RatePerSec)),
	)
	whoisClient := whois.NewClient(cfg.Whois.Key,
		whois.WithBaseURL(cfg.Whois.BaseURL),
		whois.WithRateLimiter(limiter(cfg.Whois.RatePerSec)),
	)

	classifier := initClassifier()
	if classifier == nil {
		zap.L().Debug("no classifier configured, negative press uses keyword scoring only")
	}

	domain := checks.NewDomainChecker(reach, whoisClient, st, st, checks.DomainConfig{
		Timeout: secs(cfg.Checks.DomainTimeoutSecs),
		Policy:  policy("domain"),
	})
	var domainChecker checks.Checker = domain
	if ttl := time.Duration(cfg.Checks.DomainCacheTTLHours) * time.Hour; ttl > 0 {
		cache := checks.NewCache(st, map[model.CheckType]time.Duration{model.CheckDomainAvailability: ttl})
		domainChecker = checks.Cached(domain, cache, st)
	}

	return &checks.Suite{
		Domain: domainChecker,
		Press: checks.NewPressChecker(newsClient, classifier, breakers, st, st, checks.PressConfig{
			Timeout:     secs(cfg.Checks.PressTimeoutSecs),
			Policy:      policy("press"),
			Threshold:   cfg.Checks.PressThreshold,
			MaxArticles: cfg.Checks.PressMaxArticles,
		}),
		Presence: checks.NewPresenceChecker(reach, searchClient, st, checks.PresenceConfig{
			Timeout: secs(cfg.Checks.PresenceTimeoutSecs),
			Policy:  policy("presence"),
		}),
		Status: checks.NewStatusChecker(registryClient, breakers, st, checks.StatusConfig{
			Timeout: secs(cfg.Checks.StatusTimeoutSecs),
			Policy:  policy("status"),
		}),
	}
}

// initTrigger builds the workflow trigger for dispatch.transport.
func initTrigger() (workflow.Trigger, func(), error) {
	switch cfg.Dispatch.Transport {
	case "temporal":
		c, err := workflow.DialTemporal(cfg.Temporal.HostPort, cfg.Temporal.Namespace)
		if err != nil {
			return nil, nil, err
		}
		tr := workflow.NewTemporalTrigger(c, workflow.TemporalConfig{
			TaskQueue:        cfg.Temporal.TaskQueue,
			WorkflowType:     cfg.Temporal.WorkflowType,
			ExecutionTimeout: time.Duration(cfg.Dispatch.TimeoutMins) * time.Minute,
		})
		return tr, c.Close, nil
	default:
		var opts []workflow.Option
		if cfg.Dispatch.Token != "" {
			opts = append(opts, workflow.WithToken(cfg.Dispatch.Token))
		}
		return workflow.NewHTTPTrigger(cfg.Dispatch.WorkflowURL, opts...), nil, nil
	}
}

func dispatcherConfig() jobs.DispatcherConfig {
	retry := resilience.DefaultRetryConfig()
	if cfg.Dispatch.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.Dispatch.MaxAttempts
	}
	if cfg.Dispatch.InitialBackoffSecs > 0 {
		retry.InitialBackoff = secs(cfg.Dispatch.InitialBackoffSecs)
	}
	if cfg.Dispatch.MaxBackoffSecs > 0 {
		retry.MaxBackoff = secs(cfg.Dispatch.MaxBackoffSecs)
	}

	sources := make([]model.Source, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		sources = append(sources, model.Source(s))
	}

	return jobs.DispatcherConfig{
		CallbackURL: cfg.Dispatch.CallbackURL,
		Timeout:     time.Duration(cfg.Dispatch.TimeoutMins) * time.Minute,
		Retry:       retry,
		Sources:     sources,
	}
}

func reaperConfig() jobs.ReaperConfig {
	return jobs.ReaperConfig{
		Threshold: time.Duration(cfg.Reaper.ThresholdMins) * time.Minute,
		Interval:  secs(cfg.Reaper.IntervalSecs),
	}
}
