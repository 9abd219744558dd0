// Package fleet implements the Fleet Manager (§4.1): the front door that
// loads configuration, constructs every shared component (stores, hook
// pipeline, workspace resolver, executor, scheduler, chat connectors,
// webhook ingestor, event bus), wires them together, and exposes the
// handful of operations cmd/fleetd drives (trigger, start, stop).
package fleet

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ikido/fleetctl/internal/chat"
	"github.com/ikido/fleetctl/internal/chat/discord"
	"github.com/ikido/fleetctl/internal/chat/issuetracker"
	"github.com/ikido/fleetctl/internal/chat/telegram"
	"github.com/ikido/fleetctl/internal/common/config"
	"github.com/ikido/fleetctl/internal/common/database"
	"github.com/ikido/fleetctl/internal/common/httpmw"
	"github.com/ikido/fleetctl/internal/common/logger"
	"github.com/ikido/fleetctl/internal/events"
	"github.com/ikido/fleetctl/internal/events/bus"
	"github.com/ikido/fleetctl/internal/executor"
	"github.com/ikido/fleetctl/internal/fleetconfig"
	"github.com/ikido/fleetctl/internal/github"
	"github.com/ikido/fleetctl/internal/hooks"
	"github.com/ikido/fleetctl/internal/jobstore"
	"github.com/ikido/fleetctl/internal/responder"
	"github.com/ikido/fleetctl/internal/scheduler"
	"github.com/ikido/fleetctl/internal/fleet/streaming"
	"github.com/ikido/fleetctl/internal/session"
	"github.com/ikido/fleetctl/internal/tracing"
	"github.com/ikido/fleetctl/internal/webhook"
	"github.com/ikido/fleetctl/internal/workspace"
	"github.com/ikido/fleetctl/internal/worksource"
	worksourcegithub "github.com/ikido/fleetctl/internal/worksource/github"
	"github.com/ikido/fleetctl/internal/worktree"
	"github.com/ikido/fleetctl/pkg/api"
)

// Manager is the Fleet Manager: the single process-wide object that owns
// every shared store and drives the fleet's agents. Build one with
// Initialise and call Start/Stop around its lifetime.
type Manager struct {
	cfg    *config.Config
	log    *logger.Logger
	agents map[string]fleetconfig.Agent

	db          *database.DB
	sessions    *session.Store
	keys        *session.KeyStore
	jobs        *jobstore.Store
	jobIndex    *jobstore.Index
	hookPipe    *hooks.Pipeline
	worktreeMgr *worktree.Manager
	workspaces  *workspace.Resolver
	tools       *toolProviderAdapter
	executor    *executor.Executor
	scheduler   *scheduler.Scheduler
	sources     map[string]worksource.Source

	connectors   []chat.Connector
	issueTracker *issuetracker.Connector

	eventBus        bus.EventBus
	eventBusCleanup func() error

	webhookIngestor *webhook.Ingestor
	ginEngine       *gin.Engine
	httpServer      *http.Server

	outputHub       *streaming.Hub
	outputHubCancel context.CancelFunc
	outputHubSub    bus.Subscription
}

// Initialise builds a Manager from cfg without starting any background
// loop or network listener; call Start to bring the fleet up.
func Initialise(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Manager, error) {
	m := &Manager{
		cfg:    cfg,
		log:    log.WithFields(zap.String("component", "fleet_manager")),
		agents: make(map[string]fleetconfig.Agent),
	}
	for name, agent := range cfg.Fleet.Agents {
		agent.Name = name
		agent = agent.WithDefaults()
		if agent.UseDocker && !cfg.Docker.Enabled {
			log.Warn("agent requests useDocker but docker is disabled in config, running as a bare subprocess", zap.String("agent", name))
			agent.UseDocker = false
		} else if agent.UseDocker {
			if agent.Env == nil {
				agent.Env = make(map[string]string, 1)
			}
			agent.Env["FLEETD_DOCKER_NETWORK"] = cfg.Docker.DefaultNetwork
			if cfg.Docker.Host != "" {
				agent.Env["DOCKER_HOST"] = cfg.Docker.Host
			}
		}
		m.agents[name] = agent
	}

	m.log.Info("initialising fleet manager", zap.Int("agent_count", len(m.agents)))

	db, err := database.NewDB(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("fleet: open job index database: %w", err)
	}
	m.db = db

	m.sessions = session.NewStore(cfg.StateRoot, m.log)
	m.keys = session.NewKeyStore(cfg.StateRoot, m.log)

	jobIndex, err := jobstore.NewIndex(db.Conn())
	if err != nil {
		return nil, fmt.Errorf("fleet: create job index: %w", err)
	}
	m.jobIndex = jobIndex
	m.jobs = jobstore.New(cfg.StateRoot, m.log).WithIndex(jobIndex)

	providedBus, busCleanup, err := events.Provide(cfg, m.log)
	if err != nil {
		return nil, fmt.Errorf("fleet: provide event bus: %w", err)
	}
	m.eventBus = providedBus.Bus
	m.eventBusCleanup = busCleanup

	worktreeMgr, _, err := worktree.Provide(db.Conn(), cfg, m.log)
	if err != nil {
		return nil, fmt.Errorf("fleet: provide worktree manager: %w", err)
	}
	m.worktreeMgr = worktreeMgr

	var prSink workspace.PRSink
	ghClient, ghMode, err := github.NewClient(ctx, m.log)
	if err != nil {
		m.log.Warn("github client unavailable, pull-request creation disabled", zap.Error(err))
	} else if pat, ok := ghClient.(*github.PATClient); ok {
		prSink = github.NewPRSinkAdapter(pat)
	} else {
		m.log.Debug("github client has no PR-creation capability for this auth mode", zap.String("mode", ghMode))
	}
	m.workspaces = workspace.NewResolver(worktreeMgr, m.log, prSink)

	m.sources = m.buildWorkSources(ghClient)

	m.hookPipe = hooks.New(m.log, map[fleetconfig.HookType]hooks.Runner{
		fleetconfig.HookShell:       hooks.ShellRunner{},
		fleetconfig.HookHTTPWebhook: hooks.HTTPWebhookRunner{},
		fleetconfig.HookChatPost:    hooks.ChatPostRunner{Poster: &fanoutPoster{manager: m}},
	})

	m.tools = newToolProviderAdapter(m.log)
	m.executor = executor.New(m.jobs, m.sessions, m.workspaces, m.hookPipe, m.tools, m.log)

	m.scheduler = scheduler.New(
		scheduler.Config{StateRoot: cfg.StateRoot},
		m.schedulerTrigger,
		func(name string) (worksource.Source, bool) { src, ok := m.sources[name]; return src, ok },
		m.log,
	)
	for _, agent := range m.agents {
		m.scheduler.AddAgent(agent)
	}

	m.connectors = m.buildChatConnectors()

	m.webhookIngestor = webhook.New(cfg.Webhook, m.webhookTrigger, &conversationKeyAdapter{keys: m.keys, platform: "webhook"}, m.log)

	m.outputHub = streaming.NewHub(m.log)

	m.ginEngine = gin.New()
	m.ginEngine.Use(httpmw.RequestLogger(m.log, "fleetd"), httpmw.OtelTracing("fleetd"), gin.Recovery())
	m.webhookIngestor.Register(m.ginEngine)
	if m.issueTracker != nil {
		m.ginEngine.POST(cfg.Webhook.Path+"/issuetracker", m.handleIssueTrackerWebhook)
	}
	registerAdminRoutes(m.ginEngine, m)

	return m, nil
}

// buildWorkSources constructs the named worksource.Source instances from
// cfg.WorkSources, falling back to the FLEETD_GITHUB_TOKEN environment
// variable when a source's tokenEnv yields no token; ghClient is not
// consulted.
func (m *Manager) buildWorkSources(ghClient github.Client) map[string]worksource.Source {
	sources := make(map[string]worksource.Source, len(m.cfg.WorkSources))
	for name, def := range m.cfg.WorkSources {
		switch def.Type {
		case "github", "":
			token := os.Getenv(def.TokenEnv)
			if token == "" {
				token = os.Getenv("FLEETD_GITHUB_TOKEN")
			}
			src := worksourcegithub.New(def.Owner, def.Repo, token)
			src.OnRateLimitLow(0, func(info worksource.RateLimitInfo) {
				m.log.Warn("work source approaching rate limit",
					zap.String("source", name), zap.Int("remaining", info.Remaining),
					zap.Int("limit", info.Limit), zap.Time("reset", info.Reset))
			})
			sources[name] = src
		default:
			m.log.Warn("unknown work source type, skipping", zap.String("name", name), zap.String("type", def.Type))
		}
	}
	_ = ghClient
	return sources
}

// Start brings the fleet up: cleans expired session/conversation-key
// records, reconciles stale worktrees, starts every chat connector, the
// scheduler's poll loop, and the HTTP server (webhook ingestor + admin
// API).
func (m *Manager) Start(ctx context.Context) error {
	m.runStartupCleanup(ctx)

	hubCtx, cancel := context.WithCancel(ctx)
	m.outputHubCancel = cancel
	go m.outputHub.Run(hubCtx)
	if m.eventBus != nil {
		sub, err := m.eventBus.Subscribe(events.FleetWildcardSubject, func(_ context.Context, evt *bus.Event) error {
			jobID, _ := evt.Data["job_id"].(string)
			m.outputHub.Broadcast(jobID, evt)
			return nil
		})
		if err != nil {
			m.log.Warn("job output hub could not subscribe to fleet events", zap.Error(err))
		} else {
			m.outputHubSub = sub
		}
	}

	var g errgroup.Group
	for _, c := range m.connectors {
		c := c
		g.Go(func() error {
			if err := c.Start(ctx); err != nil {
				m.log.Error("chat connector failed to start", zap.String("connector", c.Name()), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	m.scheduler.Start(ctx)

	addr := fmt.Sprintf("%s:%d", m.cfg.Server.Host, m.cfg.Server.Port)
	m.httpServer = &http.Server{
		Addr:         addr,
		Handler:      m.ginEngine,
		ReadTimeout:  m.cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: m.cfg.Server.WriteTimeoutDuration(),
	}
	go func() {
		m.log.Info("fleet HTTP server listening", zap.String("addr", addr))
		if err := m.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.log.Error("fleet HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop shuts the fleet down in the reverse order it was started.
func (m *Manager) Stop(ctx context.Context) error {
	if m.httpServer != nil {
		_ = m.httpServer.Shutdown(ctx)
	}
	m.scheduler.Stop()
	var g errgroup.Group
	for _, c := range m.connectors {
		c := c
		g.Go(func() error { return c.Stop(ctx) })
	}
	_ = g.Wait()
	if m.outputHubSub != nil {
		_ = m.outputHubSub.Unsubscribe()
	}
	if m.outputHubCancel != nil {
		m.outputHubCancel()
	}
	if m.eventBusCleanup != nil {
		_ = m.eventBusCleanup()
	}
	_ = tracing.Shutdown(ctx)
	if m.db != nil {
		_ = m.db.Close()
	}
	return nil
}

// runStartupCleanup prunes expired session/conversation-key records and
// reconciles git worktrees against jobs that were still pending or
// running when the fleet last stopped, so a worktree backing an
// in-progress job survives a restart (§4.12).
func (m *Manager) runStartupCleanup(ctx context.Context) {
	now := time.Now().UTC()
	if n, err := m.sessions.CleanupExpired(now, session.DefaultChatTTL); err != nil {
		m.log.Warn("session cleanup failed", zap.Error(err))
	} else if n > 0 {
		m.log.Info("cleaned expired session records", zap.Int("count", n))
	}
	if n, err := m.keys.CleanupExpired(now, session.DefaultIssueTrackerTTL); err != nil {
		m.log.Warn("conversation key cleanup failed", zap.Error(err))
	} else if n > 0 {
		m.log.Info("cleaned expired conversation keys", zap.Int("count", n))
	}
	if m.worktreeMgr != nil && m.worktreeMgr.IsEnabled() {
		activeJobIDs, err := m.jobIndex.NonTerminalJobIDs(ctx)
		if err != nil {
			m.log.Warn("failed to load non-terminal job ids, skipping worktree reconciliation", zap.Error(err))
		} else if err := m.worktreeMgr.Reconcile(ctx, activeJobIDs); err != nil {
			m.log.Warn("worktree reconciliation failed", zap.Error(err))
		}
	}
}

// Trigger runs agentName once with prompt, outside any schedule or chat
// origin (§6.4's `fleetctl trigger`).
func (m *Manager) Trigger(ctx context.Context, agentName, prompt, resumeSessionID string) (api.TriggerResult, error) {
	agent, ok := m.agents[agentName]
	if !ok {
		return api.TriggerResult{}, fmt.Errorf("fleet: unknown agent %q", agentName)
	}
	result, err := m.executor.Execute(ctx, executor.Options{
		Agent: agent, Prompt: prompt, ResumeSessionID: resumeSessionID, TriggerSource: api.TriggerManual,
	})
	m.publishJobEvent(agentName, result, err)
	return result, err
}

// Job looks up a job record by id, for the `fleetctl status` operation.
func (m *Manager) Job(id string) (api.Job, error) {
	return m.jobs.Get(id)
}

// ListJobs returns summaries from the SQLite job index, for the `fleetctl
// list jobs` operation.
func (m *Manager) ListJobs(ctx context.Context, opts jobstore.ListOptions) ([]jobstore.JobSummary, error) {
	return m.jobIndex.List(ctx, opts)
}

func newResponderFor(reply func(ctx context.Context, text string) error) *responder.Responder {
	return responder.New(replySender{reply: reply}, responder.Config{})
}

type replySender struct {
	reply func(ctx context.Context, text string) error
}

func (s replySender) Send(ctx context.Context, text string) error { return s.reply(ctx, text) }
