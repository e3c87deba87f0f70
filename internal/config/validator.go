package config

import (
	"fmt"
	"strings"

	"github.com/mattjoyce/runnerd/internal/auth"
)

// ConfigValidator checks references that span config sections or files.
type ConfigValidator struct {
	config *Config
}

// ValidateCrossReferences checks that all cross-section references are valid.
func (v *ConfigValidator) ValidateCrossReferences() error {
	if err := v.validateTokens(); err != nil {
		return err
	}

	if err := v.validateWebhooks(); err != nil {
		return err
	}

	return v.validateListeners()
}

// validateTokens checks token scopes and uniqueness across included files.
func (v *ConfigValidator) validateTokens() error {
	seen := make(map[string]int)
	for i, tok := range v.config.API.Auth.Tokens {
		if tok.Token != "" {
			if prev, dup := seen[tok.Token]; dup {
				return fmt.Errorf("api.auth.tokens[%d]: duplicate of tokens[%d]", i, prev)
			}
			seen[tok.Token] = i
		}
		for _, scope := range tok.Scopes {
			if !auth.KnownScope(strings.TrimSpace(scope)) {
				return fmt.Errorf("api.auth.tokens[%d]: unknown scope %q", i, scope)
			}
		}
	}
	return nil
}

// validateWebhooks checks endpoint paths are well-formed and unique.
func (v *ConfigValidator) validateWebhooks() error {
	if v.config.Webhooks == nil {
		return nil
	}

	paths := make(map[string]int)
	for i, endpoint := range v.config.Webhooks.Endpoints {
		if !strings.HasPrefix(endpoint.Path, "/") {
			return fmt.Errorf("webhook[%d] (%s): path must start with /", i, endpoint.Path)
		}
		if strings.ContainsAny(endpoint.Path, "{}") {
			return fmt.Errorf("webhook[%d] (%s): path must not contain route patterns", i, endpoint.Path)
		}
		if prev, dup := paths[endpoint.Path]; dup {
			return fmt.Errorf("webhook[%d] (%s): path already used by webhook[%d]", i, endpoint.Path, prev)
		}
		paths[endpoint.Path] = i
	}
	return nil
}

// validateListeners rejects the API and webhook servers sharing an address.
func (v *ConfigValidator) validateListeners() error {
	if v.config.Webhooks == nil || !v.config.API.Enabled {
		return nil
	}
	if v.config.Webhooks.Listen != "" && v.config.Webhooks.Listen == v.config.API.Listen {
		return fmt.Errorf("webhooks.listen and api.listen must differ (both %s)", v.config.API.Listen)
	}
	return nil
}
