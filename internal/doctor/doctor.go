// Package doctor validates runnerd configuration against the discovered
// runner definitions.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattjoyce/runnerd/internal/auth"
	"github.com/mattjoyce/runnerd/internal/catalog"
	"github.com/mattjoyce/runnerd/internal/config"
)

// slowRefresh is the refresh interval above which output noticeably lags.
const slowRefresh = 10 * time.Second

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Catalog lists runner definitions. *catalog.Registry implements it.
type Catalog interface {
	All() []*catalog.Definition
}

// Doctor validates configuration against discovered definitions.
type Doctor struct {
	cfg     *config.Config
	catalog Catalog
}

func New(cfg *config.Config, cat Catalog) *Doctor {
	return &Doctor{cfg: cfg, catalog: cat}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateDefinitionsDir(r)
	d.validateTokenScopes(r)
	d.warnNoEntryPoint(r)
	d.warnEmptyCatalog(r)
	d.warnUnboundedDefinitions(r)
	d.warnKillGraceBeyondShutdown(r)
	d.warnUnacceptedWebhookEvents(r)
	d.warnDeprecatedSyntax(r)
	d.warnServiceTiming(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateDefinitionsDir(r *Result) {
	dir := d.cfg.Runners.DefinitionsDir
	if dir == "" {
		d.addError(r, "runners", "runners.definitions_dir", "definitions_dir is required")
		return
	}
	info, err := os.Stat(dir)
	if err != nil {
		d.addError(r, "runners", "runners.definitions_dir",
			fmt.Sprintf("definitions_dir %q is not accessible: %v", dir, err))
		return
	}
	if !info.IsDir() {
		d.addError(r, "runners", "runners.definitions_dir",
			fmt.Sprintf("definitions_dir %q is not a directory", dir))
	}
}

func (d *Doctor) validateTokenScopes(r *Result) {
	for i, token := range d.cfg.API.Auth.Tokens {
		for j, scope := range token.Scopes {
			if !auth.KnownScope(strings.TrimSpace(scope)) {
				d.addError(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("unknown scope %q", scope))
			}
		}
	}
}

// warnNoEntryPoint flags configs where nothing can start a runner.
func (d *Doctor) warnNoEntryPoint(r *Result) {
	if !d.cfg.API.Enabled {
		d.addWarning(r, "api", "api.enabled", "API disabled; runners cannot be started")
	}
}

func (d *Doctor) warnEmptyCatalog(r *Result) {
	if len(d.catalog.All()) == 0 {
		d.addWarning(r, "runners", "runners.definitions_dir",
			fmt.Sprintf("no runner definitions found under %q", d.cfg.Runners.DefinitionsDir))
	}
}

func (d *Doctor) warnUnboundedDefinitions(r *Result) {
	if d.cfg.Runners.DefaultTimeout > 0 {
		return
	}
	for _, def := range d.catalog.All() {
		if def.Timeout <= 0 {
			d.addWarning(r, "runners", "definitions."+def.Name,
				fmt.Sprintf("definition %q has no timeout and runners.default_timeout is unset", def.Name))
		}
	}
}

func (d *Doctor) warnKillGraceBeyondShutdown(r *Result) {
	shutdown := d.cfg.Service.ShutdownTimeout
	if shutdown <= 0 {
		return
	}
	for _, def := range d.catalog.All() {
		grace := def.KillGrace
		if grace <= 0 {
			grace = d.cfg.Runners.KillGrace
		}
		if grace > shutdown {
			d.addWarning(r, "runners", "definitions."+def.Name,
				fmt.Sprintf("kill grace %s of %q exceeds service.shutdown_timeout %s", grace, def.Name, shutdown))
		}
	}
}

// warnUnacceptedWebhookEvents flags endpoints whose event no definition takes.
func (d *Doctor) warnUnacceptedWebhookEvents(r *Result) {
	if d.cfg.Webhooks == nil {
		return
	}
	for i, ep := range d.cfg.Webhooks.Endpoints {
		accepted := false
		for _, def := range d.catalog.All() {
			if def.AcceptsEvent(ep.Event) {
				accepted = true
				break
			}
		}
		if !accepted {
			d.addWarning(r, "webhooks", fmt.Sprintf("webhooks.endpoints[%d].event", i),
				fmt.Sprintf("no definition accepts event %q", ep.Event))
		}
	}
}

func (d *Doctor) warnDeprecatedSyntax(r *Result) {
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) > 0 {
		d.addWarning(r, "deprecated", "api.auth",
			"both api_key and tokens configured; prefer tokens array only")
	}
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "deprecated", "api.auth.api_key",
			"legacy api_key grants full access; migrate to tokens array with scopes")
	}
}

func (d *Doctor) warnServiceTiming(r *Result) {
	if d.cfg.Service.RefreshInterval > slowRefresh {
		d.addWarning(r, "service", "service.refresh_interval",
			fmt.Sprintf("refresh_interval %s is long; runner output will lag", d.cfg.Service.RefreshInterval))
	}
	if d.cfg.Service.JournalRetention <= 0 {
		d.addWarning(r, "service", "service.journal_retention", "journal is never pruned")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, level string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", level, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", level, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
