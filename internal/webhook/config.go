package webhook

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/mattjoyce/runnerd/internal/config"
)

// FromGlobalConfig converts the webhooks section of the service config.
func FromGlobalConfig(wc *config.WebhooksConfig) (Config, error) {
	if wc == nil {
		return Config{}, fmt.Errorf("webhooks config is nil")
	}

	cfg := Config{
		Listen:    wc.Listen,
		Endpoints: make([]EndpointConfig, 0, len(wc.Endpoints)),
	}
	for _, ep := range wc.Endpoints {
		if ep.Secret == "" {
			return Config{}, fmt.Errorf("webhook endpoint %q: no secret configured", ep.Path)
		}
		limit, err := parseMaxBodySize(ep.MaxBodySize)
		if err != nil {
			return Config{}, fmt.Errorf("webhook endpoint %q: invalid max_body_size %q: %w", ep.Path, ep.MaxBodySize, err)
		}
		cfg.Endpoints = append(cfg.Endpoints, EndpointConfig{
			Path:            strings.TrimSuffix(ep.Path, "/"),
			Event:           ep.Event,
			Secret:          ep.Secret,
			SignatureHeader: ep.SignatureHeader,
			MaxBodySize:     limit,
		})
	}
	return cfg, nil
}

// parseMaxBodySize accepts plain byte counts and humanized sizes ("512KiB",
// "1MB"). Empty means DefaultMaxBodySize.
func parseMaxBodySize(size string) (int64, error) {
	if strings.TrimSpace(size) == "" {
		return DefaultMaxBodySize, nil
	}
	n, err := humanize.ParseBytes(size)
	if err != nil {
		return 0, err
	}
	if n == 0 || n > 1<<40 {
		return 0, fmt.Errorf("size out of range")
	}
	return int64(n), nil
}
