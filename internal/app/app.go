// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

// Package app assembles Oracle from its configuration: logging and
// telemetry, the inference gateway, memory, the toolbox and its
// collaborators, and the agent, all owned by one runtime whose shutdown hooks
// release them in reverse order.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jllopis/oracle/pkg/agent"
	"github.com/jllopis/oracle/pkg/config"
	"github.com/jllopis/oracle/pkg/errors"
	"github.com/jllopis/oracle/pkg/governance"
	"github.com/jllopis/oracle/pkg/llm"
	"github.com/jllopis/oracle/pkg/mcp"
	"github.com/jllopis/oracle/pkg/memory"
	"github.com/jllopis/oracle/pkg/memory/ollama"
	"github.com/jllopis/oracle/pkg/memory/qdrant"
	"github.com/jllopis/oracle/pkg/persona"
	"github.com/jllopis/oracle/pkg/resilience"
	"github.com/jllopis/oracle/pkg/runtime"
	"github.com/jllopis/oracle/pkg/skills"
	"github.com/jllopis/oracle/pkg/statesync"
	"github.com/jllopis/oracle/pkg/telemetry"
	"github.com/jllopis/oracle/pkg/toolbox"
	"github.com/jllopis/oracle/pkg/toolbox/artist"
	"github.com/jllopis/oracle/pkg/toolbox/fsops"
	"github.com/jllopis/oracle/pkg/toolbox/web"
	"github.com/jllopis/oracle/pkg/vision"
)

// Version is reported to telemetry and MCP clients.
var Version = "dev"

// Persisted state layout, relative to the state directory.
const (
	memoryLog    = "memory/log.json"
	memorySalt   = "memory/salt"
	memoryIndex  = "memory/index/vectors.db"
	PersonaDir   = "persona"
	approvalsDB  = "approvals.db"
	OverrideFile = "override"
	outputsDir   = "outputs"
	capturesDir  = "outputs/captures"
	workspaceDir = "workspace"
)

// App is a wired Oracle instance.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Runtime   *runtime.LocalRuntime
	Agent     *agent.Agent
	Tools     *toolbox.Registry
	Memory    *memory.Store
	Persona   *persona.State
	Override  *governance.Override
	// Resources is the resource monitor; its limits may all be zero.
	Resources *runtime.ResourceMonitor
	Slot      *vision.Slot
	// Capturer is nil when vision is disabled.
	Capturer  vision.Capturer
	Gateway   llm.Gateway

	policy *livePolicy
}

// Option replaces a collaborator, mostly for tests.
type Option func(*options)

type options struct {
	gateway  llm.Gateway
	browser  web.Browser
	capturer vision.Capturer
	console  io.Writer
	noMCP    bool
}

// WithGateway replaces the Ollama gateway.
func WithGateway(g llm.Gateway) Option {
	return func(o *options) { o.gateway = g }
}

// WithBrowser replaces the Chromium browser.
func WithBrowser(b web.Browser) Option {
	return func(o *options) { o.browser = b }
}

// WithCapturer replaces the screenshot and OCR capturer.
func WithCapturer(c vision.Capturer) Option {
	return func(o *options) { o.capturer = c }
}

// WithConsole sets where console logs go. Nil means stderr.
func WithConsole(w io.Writer) Option {
	return func(o *options) { o.console = w }
}

// WithoutMCPServers skips starting the configured external MCP servers.
func WithoutMCPServers() Option {
	return func(o *options) { o.noMCP = true }
}

// New builds and starts an App. On error every resource acquired so far is
// released.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (a *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
		return nil, errors.New(errors.CodeInternal, "create state dir", err).WithContext("path", cfg.StateDir)
	}

	logFile := ""
	if cfg.Log.File != "" {
		logFile = cfg.Path(cfg.Log.File)
	}
	logger, closeLog, err := telemetry.ConfigureLogging(telemetry.LogOptions{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: o.console,
		File:   logFile,
	})
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "configure logging", err)
	}

	rt := runtime.NewLocal(runtime.WithLogger(logger))
	a = &App{Config: cfg, Logger: logger, Runtime: rt}
	rt.OnShutdown("log", func(context.Context) error { return closeLog() })
	defer func() {
		if err != nil {
			_ = rt.Stop(context.Background())
		}
	}()

	shutdownTelemetry, err := telemetry.Setup(telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		Exporter:       cfg.Telemetry.Exporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
		OTLPTimeout:    seconds(cfg.Telemetry.OTLPTimeoutSeconds),
		OTLPHeaders:    cfg.Telemetry.OTLPHeaders,
	})
	if err != nil {
		return nil, err
	}
	rt.OnShutdown("telemetry", runtime.ShutdownHook(shutdownTelemetry))
	if cfg.Sync.Enabled {
		a.startSync(ctx, cfg, logger)
	}
	if a.Resources, err = newResourceMonitor(cfg.Runtime.Resources, logger); err != nil {
		return nil, err
	}
	rt.SetResourceMonitor(a.Resources, seconds(cfg.Runtime.Resources.IntervalSeconds))
	errMetrics, err := telemetry.NewErrorMetrics(ctx)
	if err != nil {
		logger.Warn("app.metrics.disabled", "error", err)
		errMetrics, err = nil, nil
	}

	a.Gateway = o.gateway
	if a.Gateway == nil {
		a.Gateway = newGateway(cfg.LLM, errMetrics, logger)
	}

	if a.Memory, err = openMemory(cfg, logger); err != nil {
		return nil, err
	}
	store := a.Memory
	rt.OnShutdown("memory", func(ctx context.Context) error {
		if err := store.Flush(ctx); err != nil {
			return err
		}
		return store.Close()
	})

	approvals, err := openApprovals(cfg)
	if err != nil {
		return nil, err
	}
	if c, ok := approvals.(io.Closer); ok {
		rt.OnShutdown("approvals", func(context.Context) error { return c.Close() })
	}
	rt.AddApprovalExpirer(approvals)
	rt.SetApprovalSweepInterval(seconds(cfg.Runtime.ApprovalSweepIntervalSeconds))
	rt.SetApprovalSweepTimeout(seconds(cfg.Runtime.ApprovalSweepTimeoutSeconds))

	if a.policy, err = newLivePolicy(cfg); err != nil {
		return nil, err
	}
	a.Tools = toolbox.New(
		toolbox.WithApprovalStore(approvals),
		toolbox.WithPolicy(a.policy),
		toolbox.WithLogger(logger),
	)
	if err := a.registerTools(ctx, cfg, o, logger); err != nil {
		return nil, err
	}

	a.Override = governance.NewOverride(filepath.Join(cfg.StateDir, OverrideFile), cfg.Governance.OverridePIN)
	instructions, err := loadInstructions(cfg.Agent.InstructionsFile)
	if err != nil {
		return nil, err
	}

	a.Slot = &vision.Slot{}
	a.Capturer = o.capturer
	if a.Capturer == nil && cfg.Vision.Enabled {
		c, err := vision.NewCommandCapturer(filepath.Join(cfg.StateDir, capturesDir),
			cfg.Vision.ScreenshotCommand, cfg.Vision.OCRCommand,
			vision.WithKeep(cfg.Vision.KeepCaptures), vision.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		a.Capturer = c
	}

	agentOpts := []agent.Option{
		agent.WithMemory(a.Memory),
		agent.WithPersona(a.Persona),
		agent.WithSnapshots(a.Slot),
		agent.WithOverride(a.Override),
		agent.WithResourceGuard(a.Resources),
		agent.WithInstructions(instructions),
		agent.WithMemoryTopK(cfg.Agent.MemoryTopK),
		agent.WithErrorMetrics(errMetrics),
		agent.WithLogger(logger),
	}
	if cfg.Agent.Name != "" {
		agentOpts = append(agentOpts, agent.WithName(cfg.Agent.Name))
	}
	if cfg.Agent.SystemPrompt != "" {
		agentOpts = append(agentOpts, agent.WithSystemPrompt(cfg.Agent.SystemPrompt))
	}
	if a.Agent, err = agent.New(a.Gateway, a.Tools, agentOpts...); err != nil {
		return nil, err
	}

	if err := rt.Start(ctx); err != nil {
		return nil, err
	}
	logger.Info("app.ready", "state_dir", cfg.StateDir, "model", cfg.LLM.Model,
		"directives", len(a.Tools.Names()), "memories", a.Memory.Count())
	return a, nil
}

func (a *App) registerTools(ctx context.Context, cfg *config.Config, o options, logger *slog.Logger) error {
	workspace := cfg.Toolbox.Workspace
	if workspace == "" {
		workspace = filepath.Join(cfg.StateDir, workspaceDir)
	}
	fs, err := fsops.New(fsops.Config{
		Workspace:    workspace,
		AllowedRoots: cfg.Toolbox.AllowedRoots,
		Projects:     cfg.Toolbox.Projects,
	})
	if err != nil {
		return err
	}
	if err := fs.Register(a.Tools); err != nil {
		return err
	}

	painter, err := artist.New(filepath.Join(cfg.StateDir, outputsDir))
	if err != nil {
		return err
	}
	if err := painter.Register(a.Tools); err != nil {
		return err
	}

	if a.Persona, err = persona.Load(filepath.Join(cfg.StateDir, PersonaDir)); err != nil {
		return err
	}
	if err := a.Persona.Register(a.Tools); err != nil {
		return err
	}

	mgr, err := skills.NewManager(cfg.Path(cfg.Skills.Dir),
		skills.WithTimeouts(seconds(cfg.Skills.TestTimeoutSeconds), seconds(cfg.Skills.RunTimeoutSeconds)),
		skills.WithSandbox(skills.NewSandbox(cfg.Skills.AllowedImports)),
		skills.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	if err := mgr.Register(a.Tools); err != nil {
		return err
	}

	if cfg.Browser.Enabled || o.browser != nil {
		b := o.browser
		if b == nil {
			b = web.NewRodBrowser(web.RodConfig{
				Bin:               cfg.Browser.Bin,
				Headless:          cfg.Browser.Headless,
				ElementTimeout:    seconds(cfg.Browser.ElementTimeoutSeconds),
				NavigationTimeout: seconds(cfg.Browser.NavigationTimeoutSeconds),
			})
		}
		w := web.New(b, web.WithMaxTextChars(cfg.Browser.MaxTextChars), web.WithLogger(logger))
		if err := w.Register(a.Tools); err != nil {
			return err
		}
		a.Runtime.OnShutdown("browser", func(context.Context) error { return w.Close() })
	}

	if !o.noMCP {
		for _, srv := range cfg.Toolbox.MCPServers {
			a.importMCP(ctx, srv, logger)
		}
	}
	return nil
}

// importMCP starts one external MCP server. A server that fails to start is
// logged and skipped.
func (a *App) importMCP(ctx context.Context, srv config.MCPServerConfig, logger *slog.Logger) {
	client, err := mcp.NewClientWithStdio(ctx, srv.Command, srv.Env, srv.Args,
		mcp.WithTimeout(seconds(srv.TimeoutSeconds)))
	if err != nil {
		logger.Warn("app.mcp.start.error", "server", srv.Name, "error", err)
		return
	}
	a.Runtime.OnShutdown("mcp."+srv.Name, func(context.Context) error { return client.Close() })
	names, err := mcp.Import(ctx, client, a.Tools, mcp.ImportOptions{Prefix: srv.Name, Irreversible: srv.Irreversible})
	if err != nil {
		logger.Warn("app.mcp.import.error", "server", srv.Name, "imported", len(names), "error", err)
		return
	}
	logger.Info("app.mcp.imported", "server", srv.Name, "directives", names)
}

// Ask runs one request through the runtime.
func (a *App) Ask(ctx context.Context, input string) (string, error) {
	return a.Runtime.Run(ctx, a.Agent, input)
}

// Look captures the screen into the slot consumed by the next request.
func (a *App) Look(ctx context.Context) (vision.Capture, error) {
	if a.Capturer == nil {
		return vision.Capture{}, errors.New(errors.CodeInvalidInput, "vision is disabled; set vision.enabled to true", nil)
	}
	return vision.Observe(ctx, a.Capturer, a.Slot)
}

// Reload applies the parts of cfg that can change while running: the log
// level and the toolbox policy.
// A policy section that fails validation leaves the running policy in place.
func (a *App) Reload(cfg *config.Config) {
	telemetry.SetLevel(cfg.Log.Level)
	if err := a.policy.set(cfg); err != nil {
		a.Logger.Warn("app.config.policy.rejected", "error", err)
	}
	a.Logger.Info("app.config.reloaded", "log_level", cfg.Log.Level,
		"policies", len(cfg.Governance.Policies))
}

// Close runs the shutdown hooks.
func (a *App) Close(ctx context.Context) error {
	timeout := seconds(a.Config.Runtime.ShutdownTimeoutSeconds)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return a.Runtime.Stop(ctx)
}

func newGateway(cfg config.LLMConfig, em *telemetry.ErrorMetrics, logger *slog.Logger) *llm.OllamaGateway {
	retry := resilience.DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		retry = retry.WithMaxAttempts(cfg.MaxAttempts)
	}
	if cfg.InitialBackoffMs > 0 {
		retry = retry.WithInitialDelay(time.Duration(cfg.InitialBackoffMs) * time.Millisecond)
	}
	if cfg.MaxBackoffMs > 0 {
		retry = retry.WithMaxDelay(time.Duration(cfg.MaxBackoffMs) * time.Millisecond)
	}
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "llm.ollama",
		FailureThreshold: cfg.BreakerThreshold,
		Timeout:          seconds(cfg.BreakerCooldownSeconds),
		IsFailure: func(err error) bool {
			return errors.IsCode(err, errors.CodeUnreachable)
		},
		OnStateChange: func(name string, from, to resilience.CircuitBreakerState) {
			logger.Warn("llm.breaker.state", "breaker", name, "from", from, "to", to)
			em.RecordCircuitBreakerState(context.Background(), name, string(to))
		},
	})
	opts := []llm.Option{
		llm.WithRetry(retry),
		llm.WithBreaker(breaker),
		llm.WithLogger(logger),
	}
	if cfg.TimeoutSeconds > 0 {
		opts = append(opts, llm.WithTimeout(seconds(cfg.TimeoutSeconds)))
	}
	if cfg.Temperature > 0 {
		opts = append(opts, llm.WithModelOptions(map[string]interface{}{"temperature": cfg.Temperature}))
	}
	return llm.NewOllama(cfg.BaseURL, cfg.Model, opts...)
}

func openMemory(cfg *config.Config, logger *slog.Logger) (*memory.Store, error) {
	passphrase, err := memoryPassphrase(cfg.Memory)
	if err != nil {
		return nil, err
	}
	salt, err := memory.LoadOrCreateSalt(filepath.Join(cfg.StateDir, memorySalt))
	if err != nil {
		return nil, err
	}
	cipher, err := memory.NewXChaCha(passphrase, salt)
	if err != nil {
		return nil, err
	}

	var embedder memory.Embedder
	switch strings.ToLower(cfg.Memory.EmbedderProvider) {
	case "hash":
		embedder = memory.NewHashEmbedder(cfg.Memory.Dimensions)
	case "ollama", "":
		embedder = ollama.NewEmbedder(cfg.Memory.EmbedderBaseURL, cfg.Memory.EmbedderModel)
	default:
		return nil, errors.New(errors.CodeInvalidInput, "unknown embedder provider", nil).
			WithContext("provider", cfg.Memory.EmbedderProvider)
	}

	var vectors memory.VectorStore
	switch strings.ToLower(cfg.Memory.Backend) {
	case "memory":
		vectors = memory.NewInMemoryVectorStore()
	case "sqlite", "":
		path := filepath.Join(cfg.StateDir, memoryIndex)
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, errors.New(errors.CodeMemoryError, "create index dir", err)
		}
		s, err := memory.OpenSQLiteVectorStore(path)
		if err != nil {
			return nil, err
		}
		vectors = s
	case "qdrant":
		s, err := qdrant.New(cfg.Memory.QdrantAddr)
		if err != nil {
			return nil, errors.New(errors.CodeUnreachable, "connect to qdrant", err).
				WithContext("addr", cfg.Memory.QdrantAddr)
		}
		vectors = s
	default:
		return nil, errors.New(errors.CodeInvalidInput, "unknown memory backend", nil).
			WithContext("backend", cfg.Memory.Backend)
	}

	log, err := memory.OpenLog(filepath.Join(cfg.StateDir, memoryLog))
	if err != nil {
		if c, ok := vectors.(io.Closer); ok {
			_ = c.Close()
		}
		return nil, err
	}
	index := memory.NewVectorIndex(vectors, embedder, cfg.Memory.Collection)
	return memory.NewStore(log, index, cipher, memory.WithStoreLogger(logger)), nil
}

func memoryPassphrase(cfg config.MemoryConfig) (string, error) {
	if cfg.PassphraseFile != "" {
		raw, err := os.ReadFile(cfg.PassphraseFile)
		if err != nil {
			return "", errors.New(errors.CodeInvalidInput, "read memory passphrase file", err).
				WithContext("path", cfg.PassphraseFile)
		}
		if p := strings.TrimSpace(string(raw)); p != "" {
			return p, nil
		}
	}
	if cfg.Passphrase == "" {
		return "", errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("memory passphrase is not set; use memory.passphrase_file or %sMEMORY_PASSPHRASE", config.EnvPrefix), nil)
	}
	return cfg.Passphrase, nil
}

func openApprovals(cfg *config.Config) (governance.ApprovalStore, error) {
	ttl := governance.WithTTL(seconds(cfg.Governance.ApprovalTTLSeconds))
	switch strings.ToLower(cfg.Governance.ApprovalStore) {
	case "memory":
		return governance.NewMemoryApprovalStore(ttl), nil
	case "sqlite", "":
		return governance.OpenSQLiteApprovalStore(filepath.Join(cfg.StateDir, approvalsDB), ttl)
	default:
		return nil, errors.New(errors.CodeInvalidInput, "unknown approval store", nil).
			WithContext("store", cfg.Governance.ApprovalStore)
	}
}

func loadInstructions(name string) (string, error) {
	if name == "" {
		return "", nil
	}
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	inst, err := governance.LoadInstructions(wd, name)
	if err != nil || inst == nil {
		return "", err
	}
	return inst.Raw, nil
}

// startSync pulls shared state before any store opens and registers the
// push. The push hook runs after every store has flushed because hooks run
// newest first. Sync failures never stop the assistant.
func (a *App) startSync(ctx context.Context, cfg *config.Config, logger *slog.Logger) {
	syncer := statesync.New(cfg.StateDir,
		statesync.WithRemote(cfg.Sync.Remote),
		statesync.WithBranch(cfg.Sync.Branch),
		statesync.WithPaths(cfg.Sync.Paths...),
		statesync.WithUser(func() string {
			if a.Persona == nil {
				return ""
			}
			return a.Persona.User()
		}),
		statesync.WithLogger(logger),
	)
	if err := syncer.Pull(ctx); err != nil {
		logger.Warn("app.sync.pull.error", "error", err)
	}
	a.Runtime.OnShutdown("sync", func(ctx context.Context) error {
		if err := syncer.Push(ctx); err != nil {
			logger.Warn("app.sync.push.error", "error", err)
		}
		return nil
	})
}

func newResourceMonitor(cfg config.ResourceConfig, logger *slog.Logger) (*runtime.ResourceMonitor, error) {
	limits := runtime.ResourceLimits{CPUPercent: cfg.CPULimitPercent, Pause: cfg.PauseOnLimit}
	if cfg.MemoryLimit != "" {
		n, err := humanize.ParseBytes(cfg.MemoryLimit)
		if err != nil {
			return nil, errors.New(errors.CodeInvalidInput, "invalid runtime.resources.memory_limit", err).
				WithContext("value", cfg.MemoryLimit)
		}
		limits.MemoryBytes = n
	}
	return runtime.NewResourceMonitor(limits, runtime.WithResourceLogger(logger)), nil
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

// livePolicy lets a config reload swap the toolbox policy in place.
type livePolicy struct {
	current atomic.Pointer[governance.Filter]
}

func newLivePolicy(cfg *config.Config) (*livePolicy, error) {
	p := &livePolicy{}
	if err := p.set(cfg); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *livePolicy) set(cfg *config.Config) error {
	rules, err := governance.RuleSetFromConfig(cfg.Governance)
	if err != nil {
		return err
	}
	p.current.Store(governance.NewFilter(
		governance.WithAllow(cfg.Toolbox.Allow...),
		governance.WithDeny(cfg.Toolbox.Deny...),
		governance.WithRules(rules),
	))
	return nil
}

func (p *livePolicy) Evaluate(ctx context.Context, action governance.Action) governance.Decision {
	return p.current.Load().Evaluate(ctx, action)
}

var _ governance.PolicyEngine = (*livePolicy)(nil)
