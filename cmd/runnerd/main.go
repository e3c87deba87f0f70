package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/runnerd/internal/api"
	"github.com/mattjoyce/runnerd/internal/auth"
	"github.com/mattjoyce/runnerd/internal/catalog"
	"github.com/mattjoyce/runnerd/internal/config"
	"github.com/mattjoyce/runnerd/internal/dispatch"
	"github.com/mattjoyce/runnerd/internal/doctor"
	"github.com/mattjoyce/runnerd/internal/events"
	"github.com/mattjoyce/runnerd/internal/inspect"
	"github.com/mattjoyce/runnerd/internal/journal"
	"github.com/mattjoyce/runnerd/internal/launch"
	"github.com/mattjoyce/runnerd/internal/lock"
	"github.com/mattjoyce/runnerd/internal/log"
	"github.com/mattjoyce/runnerd/internal/metrics"
	"github.com/mattjoyce/runnerd/internal/redisbus"
	"github.com/mattjoyce/runnerd/internal/scheduler"
	"github.com/mattjoyce/runnerd/internal/step"
	"github.com/mattjoyce/runnerd/internal/storage"
	"github.com/mattjoyce/runnerd/internal/tui/watch"
	"github.com/mattjoyce/runnerd/internal/webhook"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "runner":
		return runRunnerNoun(args)
	case "definition":
		return runDefinitionNoun(args)

	// Root aliases.
	case "start":
		return runStart(args)
	case "inspect":
		return runInspect(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: runnerd version [--json]")
		return 1
	}

	info := currentVersionInfo()
	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("runnerd %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(built); ok {
		info.BuildTime = normalized
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`runnerd - dispatcher for long-running external runners

Usage:
  runnerd <noun> <action> [flags]

Nouns:
  system      Service lifecycle and health
  config      Configuration and integrity
  runner      Runner history
  definition  Discovered runner definitions

System Commands:
  system start       Start the dispatcher in the foreground
  system status      Show config, database and lock state
  system watch       Real-time monitoring TUI

Config Commands:
  config check       Validate configuration against definitions
  config lock        Authorize current state (update integrity hashes)
  config show        Show resolved configuration (secrets redacted)
  config get <path>  Read a single configuration value

Runner Commands:
  runner list        List recent runners from the journal
  runner inspect <id>
                     Show a runner's history

Definition Commands:
  definition list    Show discovered definitions

General:
  version            Show version information
  help               Show this help message

Use 'runnerd <noun> help' for action lists.
`)
}

// --- NOUN DISPATCHERS ---

type action struct {
	run  func([]string) int
	help string
}

// dispatchNoun runs the named action, printing its usage on -h/--help.
func dispatchNoun(noun string, args []string, actions map[string]action) int {
	if len(args) < 1 {
		printNounHelp(os.Stderr, noun, actions)
		return 1
	}
	if isHelpToken(args[0]) {
		printNounHelp(os.Stdout, noun, actions)
		return 0
	}

	name, actionArgs := args[0], args[1:]
	a, ok := actions[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown %s action: %s\n", noun, name)
		return 1
	}
	if hasHelpFlag(actionArgs) {
		fmt.Println(a.help)
		return 0
	}
	return a.run(actionArgs)
}

func printNounHelp(w *os.File, noun string, actions map[string]action) {
	names := make([]string, 0, len(actions))
	for name := range actions {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintf(w, "Usage: runnerd %s <action>\n", noun)
	fmt.Fprintf(w, "Actions: %s\n", strings.Join(names, ", "))
}

func runSystemNoun(args []string) int {
	return dispatchNoun("system", args, map[string]action{
		"start":  {runStart, "Usage: runnerd system start [--config PATH]\nStart the dispatcher in the foreground."},
		"status": {runSystemStatus, "Usage: runnerd system status [--config PATH] [--json]\nShow config, database and PID lock state. Exits 1 when a check fails."},
		"watch":  {runWatch, "Usage: runnerd system watch [--api-url URL] [--api-key KEY]\nReal-time TUI. Keys: q quit, up/down select, c cancel runner, r refresh."},
	})
}

func runConfigNoun(args []string) int {
	return dispatchNoun("config", args, map[string]action{
		"check": {runConfigCheck, "Usage: runnerd config check [--config PATH] [--json] [--strict]\nValidate configuration against discovered definitions."},
		"lock":  {runConfigLock, "Usage: runnerd config lock [--config PATH] [-v] [--dry-run]\nRegenerate integrity hashes for every config file."},
		"show":  {runConfigShow, "Usage: runnerd config show [path] [--config PATH] [--json]\nShow resolved configuration with secrets redacted."},
		"get":   {runConfigGet, "Usage: runnerd config get <path> [--config PATH] [--json]\nRead a single value from the resolved configuration."},
	})
}

func runRunnerNoun(args []string) int {
	return dispatchNoun("runner", args, map[string]action{
		"list":    {runRunnerList, "Usage: runnerd runner list [--config PATH] [--limit N]\nList recent runners, newest first."},
		"inspect": {runInspect, "Usage: runnerd runner inspect <runner_id> [--config PATH] [--json]\nShow a runner's journaled history."},
	})
}

func runDefinitionNoun(args []string) int {
	return dispatchNoun("definition", args, map[string]action{
		"list": {runDefinitionList, "Usage: runnerd definition list [--config PATH] [--json]\nShow discovered runner definitions."},
	})
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

// splitPositional pulls the first non-flag argument out of args so flags may
// follow it, as in "runner inspect <id> --json".
func splitPositional(args []string) (string, []string) {
	var positional string
	rest := make([]string, 0, len(args))
	for _, arg := range args {
		if positional == "" && !strings.HasPrefix(arg, "-") {
			positional = arg
			continue
		}
		rest = append(rest, arg)
	}
	return positional, rest
}

func resolveConfigPath(configPath string) (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.DiscoverConfigDir()
}

func loadConfig(configPath string) (*config.Config, error) {
	resolved, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}
	return config.Load(resolved)
}

// --- ACTION IMPLEMENTATIONS ---

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	resolved, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}
	cfg, err := config.Load(resolved)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("runnerd starting", "version", version, "config", cfg.SourcePath)

	lockPath := lock.PathFor(cfg.State.Path)
	pidLock, err := lock.AcquirePIDLock(lockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock", "path", lockPath, "error", err)
		return 1
	}
	defer pidLock.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	j := journal.New(db)

	registry, err := catalog.Discover([]string{cfg.Runners.DefinitionsDir}, log.WithComponent("catalog"))
	if err != nil {
		logger.Error("definition discovery failed", "dir", cfg.Runners.DefinitionsDir, "error", err)
		return 1
	}
	logger.Info("definition discovery complete", "count", registry.Len())

	hub := events.NewHub(256)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New()
	if err := m.Register(promRegistry); err != nil {
		logger.Error("failed to register metrics", "error", err)
		return 1
	}

	clock := clockwork.NewRealClock()
	ticker := scheduler.NewTicker(clock, cfg.Service.RefreshInterval, log.WithComponent("ticker"))
	defer ticker.Stop()
	disp := dispatch.New(
		scheduler.NewClock(clock, log.WithComponent("clock")),
		ticker,
		dispatch.WithLogger(log.Get()),
		dispatch.WithEvents(hub),
		dispatch.WithMetrics(m),
	)

	launchOpts := []launch.Option{
		launch.WithJournal(j),
		launch.WithLogger(log.Get()),
	}
	if cfg.Redis.Enabled() {
		fwd := redisbus.Dial(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			redisbus.WithPrefix(cfg.Redis.ChannelPrefix),
			redisbus.WithTTL(cfg.Redis.LastTTL),
			redisbus.WithLogger(log.WithComponent("redisbus")),
		)
		defer fwd.Close()
		if err := fwd.Ping(ctx); err != nil {
			logger.Warn("redis unreachable, updates will not be mirrored until it recovers", "addr", cfg.Redis.Addr, "error", err)
		}
		launchOpts = append(launchOpts, launch.WithMirror(fwd))
		logger.Info("redis mirroring enabled", "addr", cfg.Redis.Addr, "prefix", cfg.Redis.ChannelPrefix)
	}
	steps := step.NewRegistry(cfg.Runners.Retained)
	launcher := launch.New(launch.Config{
		DefaultTimeout: cfg.Runners.DefaultTimeout,
		KillGrace:      cfg.Runners.KillGrace,
		MaxOutputBytes: cfg.Runners.MaxOutputBytes,
		Clock:          clock,
	}, registry, disp, steps, launchOpts...)

	maint := scheduler.NewMaintenance(j, clock, cfg.Service.MaintenanceInterval, cfg.Service.JournalRetention, hub, log.Get())
	if err := maint.Start(ctx); err != nil {
		logger.Error("maintenance failed to start", "error", err)
		return 1
	}
	defer maint.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 2)

	if cfg.API.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
		for _, t := range cfg.API.Auth.Tokens {
			tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
		}
		apiServer := api.New(api.Config{
			Listen:   cfg.API.Listen,
			APIKey:   cfg.API.Auth.APIKey,
			Tokens:   tokens,
			Gatherer: promRegistry,
		}, disp, launcher, registry, steps, j, hub, log.Get())
		go func() {
			if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	if cfg.Webhooks != nil && len(cfg.Webhooks.Endpoints) > 0 {
		webhookConfig, err := webhook.FromGlobalConfig(cfg.Webhooks)
		if err != nil {
			logger.Error("failed to configure webhooks", "error", err)
			return 1
		}
		webhookServer := webhook.New(webhookConfig, disp, log.WithComponent("webhook"))
		go func() {
			if err := webhookServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("webhook: %w", err)
			}
		}()
		logger.Info("webhook server enabled", "listen", webhookConfig.Listen, "endpoints", len(webhookConfig.Endpoints))
	}

	logger.Info("runnerd running (press Ctrl+C to stop)")

	code := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		code = 1
	}

	// Stop the listeners first so nothing new starts while runners drain.
	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer stop()
	if err := disp.Shutdown(shutdownCtx); err != nil {
		logger.Warn("runners did not stop in time; they will be marked abandoned on next start", "error", err)
	}

	logger.Info("runnerd stopped")
	return code
}

type statusCheck struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

type statusReport struct {
	Healthy bool          `json:"healthy"`
	Checks  []statusCheck `json:"checks"`
}

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	report := buildStatus(*configPath)
	if *jsonOut {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(data))
	} else {
		for _, c := range report.Checks {
			mark := "OK  "
			if !c.OK {
				mark = "FAIL"
			}
			fmt.Printf("%s %-10s %s\n", mark, c.Name, c.Detail)
		}
	}
	if !report.Healthy {
		return 1
	}
	return 0
}

func buildStatus(configPath string) statusReport {
	report := statusReport{Healthy: true}
	add := func(name string, ok bool, detail string) {
		report.Checks = append(report.Checks, statusCheck{Name: name, OK: ok, Detail: detail})
		if !ok {
			report.Healthy = false
		}
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		add("config", false, err.Error())
		return report
	}
	add("config", true, cfg.SourcePath)

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		add("database", false, err.Error())
	} else {
		defer db.Close()
		running, err := journal.New(db).FindByStatus(ctx, journal.StatusRunning)
		if err != nil {
			add("database", false, err.Error())
		} else {
			add("database", true, fmt.Sprintf("%s (%d running)", cfg.State.Path, len(running)))
		}
	}

	l, err := lock.AcquirePIDLock(lock.PathFor(cfg.State.Path))
	switch {
	case errors.Is(err, lock.ErrLocked):
		add("pid_lock", true, "running: "+err.Error())
	case err != nil:
		add("pid_lock", false, err.Error())
	default:
		_ = l.Release()
		add("pid_lock", true, "not running")
	}
	return report
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://127.0.0.1:8080", "runnerd API URL")
	apiKey := fs.String("api-key", os.Getenv("RUNNERD_API_KEY"), "API bearer token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or RUNNERD_API_KEY env var.")
		return 1
	}

	p := tea.NewProgram(watch.New(*apiURL, *apiKey))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	strict := fs.Bool("strict", false, "Treat warnings as errors")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}
	registry, err := catalog.Discover([]string{cfg.Runners.DefinitionsDir}, log.Discard())
	if err != nil {
		// A missing directory is reported by the doctor below.
		registry = catalog.NewRegistry()
	}

	result := doctor.New(cfg, registry).Validate()
	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if *strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	verbose := fs.Bool("verbose", false, "Verbose output")
	verboseShort := fs.Bool("v", false, "Verbose output")
	dryRun := fs.Bool("dry-run", false, "Show hashes without writing .checksums")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	resolved, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}
	files, err := config.ResolveFiles(resolved)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve config files: %v\n", err)
		return 1
	}
	reports, err := config.LockFiles(files, *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}

	if *verbose || *verboseShort {
		for _, r := range reports {
			fmt.Printf("Processing directory: %s\n", r.ConfigDir)
			for _, f := range r.Files {
				if f.Exists {
					fmt.Printf("  HASH %s: %s\n", f.Filename, f.Hash)
				} else {
					fmt.Printf("  SKIP %s: not found\n", f.Filename)
				}
			}
			if r.Written {
				fmt.Printf("  WROTE .checksums: %s\n", r.ChecksumPath)
			} else {
				fmt.Printf("  DRY-RUN .checksums: %s (not written)\n", r.ChecksumPath)
			}
		}
	}

	if *dryRun {
		fmt.Printf("Dry run completed for %d directory/ies (no files written):\n", len(reports))
	} else {
		fmt.Printf("Successfully locked configuration in %d directory/ies:\n", len(reports))
	}
	for _, r := range reports {
		fmt.Printf("  - %s\n", r.ConfigDir)
	}
	return 0
}

func runConfigShow(args []string) int {
	entity, rest := splitPositional(args)
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(rest); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	cfg = cfg.Redacted()

	var result any = cfg
	if entity != "" {
		if result, err = cfg.GetPath(entity); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}
	return printValue(result, *jsonOut, true)
}

func runConfigGet(args []string) int {
	path, rest := splitPositional(args)
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(rest); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if path == "" || fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: runnerd config get <path> [--json]")
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	val, err := cfg.GetPath(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return printValue(val, *jsonOut, false)
}

// printValue renders v as JSON, YAML, or a plain scalar.
func printValue(v any, asJSON, asYAML bool) int {
	switch {
	case asJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
	case asYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Print(string(data))
	default:
		fmt.Printf("%v\n", v)
	}
	return 0
}

// openJournal loads config and opens the journal read path for CLI tools.
func openJournal(configPath string) (*journal.Journal, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	db, err := storage.OpenSQLite(context.Background(), cfg.State.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return journal.New(db), func() { _ = db.Close() }, nil
}

func runInspect(args []string) int {
	runnerID, rest := splitPositional(args)
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output report in JSON")
	if err := fs.Parse(rest); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if runnerID == "" {
		fmt.Fprintln(os.Stderr, "Usage: runnerd runner inspect <runner_id> [--config PATH] [--json]")
		return 1
	}

	j, closeFn, err := openJournal(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeFn()

	var report string
	if *jsonOut {
		report, err = inspect.BuildJSONReport(context.Background(), j, runnerID)
	} else {
		report, err = inspect.BuildReport(context.Background(), j, runnerID)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
		return 1
	}
	fmt.Print(report)
	return 0
}

func runRunnerList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	limit := fs.Int("limit", 20, "Maximum runners to show")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	j, closeFn, err := openJournal(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeFn()

	out, err := inspect.BuildList(context.Background(), j, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
		return 1
	}
	fmt.Print(out)
	return 0
}

func runDefinitionList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	registry, err := catalog.Discover([]string{cfg.Runners.DefinitionsDir}, log.Discard())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Discovery failed: %v\n", err)
		return 1
	}

	defs := registry.All()

	if *jsonOut {
		type row struct {
			Name        string   `json:"name"`
			Version     string   `json:"version"`
			Timeout     string   `json:"timeout,omitempty"`
			Events      []string `json:"events,omitempty"`
			Description string   `json:"description,omitempty"`
		}
		rows := make([]row, 0, len(defs))
		for _, d := range defs {
			r := row{Name: d.Name, Version: d.Version, Events: d.Events, Description: d.Description}
			if d.Timeout > 0 {
				r.Timeout = d.Timeout.String()
			}
			rows = append(rows, r)
		}
		return printValue(rows, true, false)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVERSION\tTIMEOUT\tEVENTS\tDESCRIPTION")
	for _, d := range defs {
		timeout := "-"
		if d.Timeout > 0 {
			timeout = d.Timeout.String()
		}
		evs := "*"
		if len(d.Events) > 0 {
			evs = strings.Join(d.Events, ",")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.Name, d.Version, timeout, evs, d.Description)
	}
	_ = tw.Flush()
	return 0
}
