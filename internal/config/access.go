package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const redactedValue = "********"

// GetPath retrieves a value from the configuration using a dot-notation path,
// or a first-class entity addressed as type:name.
func (c *Config) GetPath(path string) (any, error) {
	if strings.Contains(path, ":") {
		return c.GetEntity(path)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return getValue(m, path)
}

// GetEntity retrieves a webhook endpoint by path ("webhook:/hooks/x") or all
// of them ("webhook:*").
func (c *Config) GetEntity(address string) (any, error) {
	parts := strings.SplitN(address, ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid entity address format %q (expected type:name)", address)
	}

	entityType, name := parts[0], parts[1]
	switch entityType {
	case "webhook":
		if c.Webhooks == nil {
			return nil, fmt.Errorf("no webhooks configured")
		}
		if name == "*" {
			return c.Webhooks.Endpoints, nil
		}
		for _, ep := range c.Webhooks.Endpoints {
			if ep.Path == name {
				return ep, nil
			}
		}
		return nil, fmt.Errorf("webhook %q not found", name)

	default:
		return nil, fmt.Errorf("unsupported entity type %q", entityType)
	}
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	if out.API.Auth.APIKey != "" {
		out.API.Auth.APIKey = redactedValue
	}
	out.API.Auth.Tokens = make([]APIToken, len(c.API.Auth.Tokens))
	for i, tok := range c.API.Auth.Tokens {
		out.API.Auth.Tokens[i] = APIToken{Token: redactedValue, Scopes: tok.Scopes}
	}
	if out.Redis.Password != "" {
		out.Redis.Password = redactedValue
	}
	if c.Webhooks != nil {
		wh := *c.Webhooks
		wh.Endpoints = make([]WebhookEndpoint, len(c.Webhooks.Endpoints))
		for i, ep := range c.Webhooks.Endpoints {
			ep.Secret = redactedValue
			wh.Endpoints[i] = ep
		}
		out.Webhooks = &wh
	}
	return &out
}

func getValue(m map[string]any, path string) (any, error) {
	parts := strings.Split(path, ".")
	var current any = m

	for _, part := range parts {
		if part == "" {
			continue
		}

		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path %q breaks at %q (not a map)", path, part)
		}

		val, exists := m[part]
		if !exists {
			return nil, fmt.Errorf("path %q: key %q not found", path, part)
		}
		current = val
	}

	return current, nil
}
