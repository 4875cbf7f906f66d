// Watchtower is a single-operator film industry intel triage bot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	otelpyroscope "github.com/grafana/otel-profiling-go"
	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/prof"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"google.golang.org/api/option"

	"github.com/linnemanlabs/go-core/health"

	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/otelx"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/filmmaker-og/filmmaker-ogbot/internal/analyst"
	"github.com/filmmaker-og/filmmaker-ogbot/internal/bot"
	wc "github.com/filmmaker-og/filmmaker-ogbot/internal/cfg"
	"github.com/filmmaker-og/filmmaker-ogbot/internal/feed"
	"github.com/filmmaker-og/filmmaker-ogbot/internal/intelapi"
	"github.com/filmmaker-og/filmmaker-ogbot/internal/ledger/sheets"
	"github.com/filmmaker-og/filmmaker-ogbot/internal/llm/claude"
	"github.com/filmmaker-og/filmmaker-ogbot/internal/llm/gemini"
	"github.com/filmmaker-og/filmmaker-ogbot/internal/notify/telegram"
	"github.com/filmmaker-og/filmmaker-ogbot/internal/poller"
	"github.com/filmmaker-og/filmmaker-ogbot/internal/postgres"
	"github.com/filmmaker-og/filmmaker-ogbot/internal/scheduler"
	"github.com/filmmaker-og/filmmaker-ogbot/internal/scrape"
	"github.com/filmmaker-og/filmmaker-ogbot/internal/session"
	"github.com/filmmaker-og/filmmaker-ogbot/internal/triage"
	"github.com/filmmaker-og/filmmaker-ogbot/internal/triage/memstore"
	"github.com/filmmaker-og/filmmaker-ogbot/internal/triage/pgstore"
	"github.com/filmmaker-og/filmmaker-ogbot/internal/triage/sqlitestore"
)

const appName = "watchtower"
const component = "server"

// sessionTTL expires idle chat histories in Redis.
const sessionTTL = 7 * 24 * time.Hour

// firstPollDelay lets the listeners settle before the first feed poll.
const firstPollDelay = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Set app name and component
	v.AppName = appName
	v.Component = component

	// Get build/version info
	vi := v.Get()

	// each package registers its own flags and options struct
	var (
		appCfg    wc.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)

	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// parse flags to get config values from cmdline, we check env vars next which do not override cmdline flags
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	// Fill in config values from environment variables with prefix WATCHTOWER_,
	// these do not override cmdline flags
	cfg.FillFromEnv(flag.CommandLine, "WATCHTOWER_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// cross-cutting checks that only main can validate
	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}

	catalog, err := wc.LoadCatalog(appCfg.CatalogFile, os.Getenv)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}

	// initialize logger early
	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	L := lg.With("component", vi.Component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"enable_pprof", opsCfg.EnablePprof,
		"enable_pyroscope", profCfg.EnablePyroscope,
		"enable_tracing", traceCfg.EnableTracing,
		"trace_sample", traceCfg.TraceSample,
		"otlp_endpoint", traceCfg.OTLPEndpoint,
		"pyro_server", profCfg.PyroServer,
		"trusted_proxy_hops", httpmwCfg.TrustedProxyHops,
		"webhook_mode", appCfg.WebhookMode(),
		"feeds", len(catalog.Feeds),
		"library_group", appCfg.LibraryGroupID != 0,
	)

	// Setup pyroscope profiling early so we get profiles from the entire app lifetime
	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
	}
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf != nil {
		defer stopProf()
	}

	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx != nil {
		defer func() { _ = shutdownOtelx(context.Background()) }()
	}

	// Link spans to profiles so a trace can jump to its CPU samples
	if profErr == nil && profCfg.EnablePyroscope {
		otel.SetTracerProvider(otelpyroscope.NewTracerProvider(otel.GetTracerProvider()))
	}

	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	triageMetrics := triage.NewMetrics(m.Registry())
	hooks := triageMetrics.Hooks()

	// Register per-query DB duration histogram and wire the observer.
	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "watchtower_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"origin", "operation", "outcome"})
	m.Registry().MustRegister(dbQueryDuration)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, origin, operation, outcome string, dur time.Duration) {
			dbQueryDuration.WithLabelValues(origin, operation, outcome).Observe(dur.Seconds())
		},
	))

	store, closeStore, backend, err := openStore(ctx, &appCfg)
	if err != nil {
		return err
	}
	defer closeStore()
	L.Info(ctx, "triage store ready", "backend", backend)

	sessions, closeSessions, err := openSessions(&appCfg)
	if err != nil {
		return err
	}
	defer closeSessions()

	var intel *analyst.Analyst
	gen, provider, err := newGenerator(ctx, &appCfg)
	if err != nil {
		return err
	}
	if gen != nil {
		intel = analyst.New(gen, sessions, catalog.Buckets, L)
		L.Info(ctx, "initialized LLM provider", "provider", provider)
	} else {
		L.Warn(ctx, "no LLM key configured, summaries fall back and chat is disabled")
	}

	tg := telegram.New(appCfg.TelegramToken, L, telegram.WithBaseURL(appCfg.TelegramAPIURL))
	prompter := telegram.NewPrompter(tg, appCfg.OperatorID)
	publisher := telegram.NewPublisher(tg, appCfg.LibraryGroupID)
	if !publisher.Configured() {
		L.Warn(ctx, "library group not configured, topic publishing disabled")
	}

	// the router treats a nil Ledger as unconfigured, so keep the interface untyped
	var ledger triage.Ledger
	if appCfg.SheetID != "" {
		var opts []option.ClientOption
		if appCfg.SheetsCredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(appCfg.SheetsCredentialsFile))
		}
		sl, err := sheets.New(ctx, appCfg.SheetID, L, opts...)
		if err != nil {
			return fmt.Errorf("sheets ledger: %w", err)
		}
		ledger = sl
		L.Info(ctx, "ledger enabled", "type", "sheets")
	}

	router := triage.NewRouter(catalog.Buckets, publisher, ledger, L, hooks)

	svcOpts := []triage.Option{
		triage.WithScraper(scrape.New(nil)),
		triage.WithHooks(hooks),
	}
	if intel != nil {
		svcOpts = append(svcOpts, triage.WithSummarizer(intel))
	}
	triageSvc := triage.NewService(store, catalog.Buckets, router, prompter, L, svcOpts...)

	reader := feed.NewReader(nil)
	feedPoller := poller.New(reader, triageSvc, catalog.Feeds, L,
		poller.WithWorkers(appCfg.PollWorkers),
		poller.WithPerFeed(appCfg.PerFeed),
		poller.WithMetrics(triageMetrics),
	)

	botOpts := []bot.Option{
		bot.WithFeeds(reader, catalog.Feeds),
		bot.WithPublisher(publisher),
	}
	if intel != nil {
		botOpts = append(botOpts, bot.WithAnalyst(intel))
	}
	operatorBot := bot.New(tg, triageSvc, triage.NewGuard(appCfg.OperatorID), L, botOpts...)

	if err := tg.SetMyCommands(ctx, bot.Commands(catalog.Feeds)); err != nil {
		L.Warn(ctx, "failed to register bot commands", "error", err)
	}

	sched := scheduler.New(L)
	for _, job := range []struct {
		name, spec string
		fn         scheduler.Func
	}{
		{"poll", scheduler.PollSpec, pollJob(feedPoller)},
		{"daily_digest", scheduler.DailySpec, operatorBot.SendDailyDigest},
		{"weekly_report", scheduler.WeeklySpec, operatorBot.SendWeeklyReport},
	} {
		if err := sched.Add(job.name, job.spec, withOrigin(postgres.OriginCron+":"+job.name, job.fn)); err != nil {
			return err
		}
	}
	sched.Start()
	go func() {
		select {
		case <-time.After(firstPollDelay):
			_ = sched.Trigger("poll")
		case <-ctx.Done():
		}
	}()

	// setup toggle for server shutdown. this is used to fail readiness checks
	// during shutdown to drain connections from load balancer before killing the process.
	var shutdownGate health.ShutdownGate

	readiness := health.All(
		shutdownGate.Probe(),
	)
	liveness := health.Fixed(true, "")

	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}
	defer func() {
		err := opsHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop ops http listener")
		}
	}()

	r := chi.NewRouter()

	r.Use(middleware.Compress(5, "application/json"))

	// Annotate logger (and tracer if trace is recording) with http.route from chi route pattern
	r.Use(httpmw.AnnotateHTTPRoute)

	// DB query metrics label API queries by method and route.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(postgres.WithOrigin(req.Context(), postgres.OriginHTTP)))
		})
	})

	r.Use(httpmw.AccessLog())

	// Telegram updates and link submissions are small
	r.Use(httpmw.MaxBody(1024 * 64))

	r.Get("/-/healthy", health.HealthzHandler(liveness))
	r.Get("/-/ready", health.ReadyzHandler(readiness))

	apiOpts := []intelapi.Option{
		intelapi.WithToken(appCfg.APIToken),
		intelapi.WithPoller(feedPoller),
	}
	if appCfg.WebhookMode() {
		apiOpts = append(apiOpts, intelapi.WithWebhook(operatorBot, appCfg.WebhookSecret))
	}
	intelHTTP := intelapi.New(L, triageSvc, apiOpts...)
	intelHTTP.RegisterRoutes(r)

	// middleware stack for main listener, order matters: outermost sees the raw
	// request first and the response last
	var h http.Handler = r

	h = httpmw.WithLogger(L)(h)
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			// dont trace health/readiness checks
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		// AnnotateHTTPRoute will rename the span later to the final route pattern
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)
	h = m.Middleware(h)
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: httpmwCfg.TrustedProxyHops,
	})(h)
	h = httpmw.RequestID("X-Request-Id")(h)
	h = httpmw.Recover(L, nil)(h)
	h = httpmw.SecurityHeaders(h)

	serverOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}

	apiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, serverOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start api http listener")
		return err
	}
	defer func() {
		err := apiHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop api http listener")
		}
	}()

	// Telegram delivers updates either to the webhook route above or to getUpdates
	pollDone := make(chan struct{})
	if appCfg.WebhookMode() {
		close(pollDone)
		if err := tg.SetWebhook(ctx, appCfg.WebhookURL, appCfg.WebhookSecret); err != nil {
			L.Error(ctx, err, "failed to register webhook")
			return err
		}
		L.Info(ctx, "receiving updates by webhook", "url", appCfg.WebhookURL)
	} else {
		if err := tg.DeleteWebhook(ctx); err != nil {
			L.Warn(ctx, "failed to clear webhook before long polling", "error", err)
		}
		go func() {
			defer close(pollDone)
			pollTimeout := time.Duration(appCfg.PollTimeoutSeconds) * time.Second
			if err := operatorBot.Run(postgres.WithOrigin(ctx, postgres.OriginTelegram), tg, pollTimeout); err != nil && !errors.Is(err, context.Canceled) {
				L.Error(ctx, err, "update polling stopped")
			}
		}()
		L.Info(ctx, "receiving updates by long polling")
	}

	if err := notifySystemd(); err != nil {
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// Wait for ctrl+c / sigterm
	<-ctx.Done()

	L.Info(context.Background(), "shutdown signal received")

	shutdownGate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	drainDuration := time.Duration(appCfg.DrainSeconds) * time.Second
	L.Info(context.Background(), "sleeping for drain period", "drain_seconds", appCfg.DrainSeconds)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainDuration):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	// Shutdown components with per-component budget sliced from total.
	// stopProf is synchronous and needs no context, so it's excluded.
	type stopFn struct {
		name string
		fn   func(context.Context) error
	}
	stopFns := []stopFn{
		{"api http server", apiHTTPStop},
		{"scheduler", sched.Stop},
		{"update handlers", waitFunc(func() {
			<-pollDone
			operatorBot.Wait()
			intelHTTP.Wait()
		})},
		{"ops http server", opsHTTPStop},
	}
	if shutdownOtelx != nil {
		stopFns = append(stopFns, stopFn{"otel", shutdownOtelx})
	}

	budget := time.Duration(appCfg.ShutdownBudgetSeconds) * time.Second
	perComponent := budget / time.Duration(len(stopFns))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, s := range stopFns {
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}

	if stopProf != nil {
		stopProf()
	}

	L.Info(context.Background(), "shutdown complete")
	return nil
}

// openStore picks Postgres, then SQLite, then memory.
func openStore(ctx context.Context, c *wc.Config) (triage.Store, func(), string, error) {
	switch {
	case c.DatabaseURL != "":
		pool, err := postgres.NewPool(ctx, c.DatabaseURL)
		if err != nil {
			return nil, nil, "", fmt.Errorf("postgres pool: %w", err)
		}
		st, err := pgstore.New(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, "", fmt.Errorf("pgstore init: %w", err)
		}
		return st, pool.Close, "postgres", nil
	case c.SQLitePath != "":
		st, err := sqlitestore.Open(ctx, c.SQLitePath)
		if err != nil {
			return nil, nil, "", fmt.Errorf("sqlite store: %w", err)
		}
		return st, func() { _ = st.Close() }, "sqlite", nil
	default:
		return memstore.New(), func() {}, "memory", nil
	}
}

// openSessions returns the chat history store, Redis when configured.
func openSessions(c *wc.Config) (session.Store, func(), error) {
	if c.RedisAddr == "" {
		return session.NewMemory(session.DefaultCap), func() {}, nil
	}
	client, err := session.DialRedis(c.RedisAddr, c.RedisPassword, c.RedisDB)
	if err != nil {
		return nil, nil, fmt.Errorf("redis sessions: %w", err)
	}
	return session.NewRedis(client, session.DefaultCap, sessionTTL), func() { _ = client.Close() }, nil
}

// newGenerator prefers Gemini over Claude. Both unset returns a nil generator.
func newGenerator(ctx context.Context, c *wc.Config) (analyst.Generator, string, error) {
	switch {
	case c.GeminiAPIKey != "":
		g, err := gemini.New(ctx, c.GeminiAPIKey, gemini.WithModel(c.GeminiModel))
		if err != nil {
			return nil, "", fmt.Errorf("gemini client: %w", err)
		}
		return g, "gemini", nil
	case c.ClaudeAPIKey != "":
		return claude.New(c.ClaudeAPIKey, c.ClaudeModel), "claude", nil
	default:
		return nil, "", nil
	}
}

func pollJob(p *poller.Poller) scheduler.Func {
	return func(ctx context.Context) error {
		_, err := p.Poll(ctx)
		if errors.Is(err, poller.ErrBusy) {
			return nil
		}
		return err
	}
}

// withOrigin tags a scheduled job's queries for the DB metrics.
func withOrigin(origin string, fn scheduler.Func) scheduler.Func {
	return func(ctx context.Context) error {
		return fn(postgres.WithOrigin(ctx, origin))
	}
}

// waitFunc adapts a blocking wait to a shutdown function bounded by ctx.
func waitFunc(wait func()) func(context.Context) error {
	return func(ctx context.Context) error {
		done := make(chan struct{})
		go func() {
			wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // addr is from NOTIFY_SOCKET set by systemd, no context support for unixgram dial
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
