package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPath(t *testing.T) {
	cfg := Defaults()
	cfg.Service.Name = "test-runnerd"
	cfg.Webhooks = &WebhooksConfig{
		Listen:    ":9000",
		Endpoints: []WebhookEndpoint{{Path: "/hooks/a", Event: "push"}},
	}

	tests := []struct {
		name    string
		path    string
		want    any
		wantErr bool
	}{
		{
			name: "root service field",
			path: "service.name",
			want: "test-runnerd",
		},
		{
			name: "nested runners field",
			path: "runners.retained",
			want: 256,
		},
		{
			name: "bool field",
			path: "api.enabled",
			want: false,
		},
		{
			name:    "invalid path",
			path:    "service.missing",
			wantErr: true,
		},
		{
			name:    "through a scalar",
			path:    "service.name.x",
			wantErr: true,
		},
		{
			name: "type:name addressing",
			path: "webhook:/hooks/a",
			want: cfg.Webhooks.Endpoints[0],
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cfg.GetPath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetEntity(t *testing.T) {
	cfg := &Config{}
	_, err := cfg.GetEntity("webhook:*")
	assert.Error(t, err, "no webhooks configured")

	cfg.Webhooks = &WebhooksConfig{Endpoints: []WebhookEndpoint{{Path: "/a"}, {Path: "/b"}}}

	got, err := cfg.GetEntity("webhook:*")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = cfg.GetEntity("webhook:/missing")
	assert.Error(t, err)

	_, err = cfg.GetEntity("plugin:echo")
	assert.Error(t, err)

	_, err = cfg.GetEntity("nocolon")
	assert.Error(t, err)
}

func TestRedacted(t *testing.T) {
	cfg := Defaults()
	cfg.API.Auth.APIKey = "admin-secret"
	cfg.API.Auth.Tokens = []APIToken{{Token: "tok", Scopes: []string{"runners:ro"}}}
	cfg.Redis.Password = "pw"
	cfg.Redis.LastTTL = time.Minute
	cfg.Webhooks = &WebhooksConfig{Endpoints: []WebhookEndpoint{{Path: "/a", Secret: "s"}}}

	red := cfg.Redacted()
	assert.Equal(t, redactedValue, red.API.Auth.APIKey)
	assert.Equal(t, redactedValue, red.API.Auth.Tokens[0].Token)
	assert.Equal(t, []string{"runners:ro"}, red.API.Auth.Tokens[0].Scopes)
	assert.Equal(t, redactedValue, red.Redis.Password)
	assert.Equal(t, redactedValue, red.Webhooks.Endpoints[0].Secret)

	// Original untouched.
	assert.Equal(t, "admin-secret", cfg.API.Auth.APIKey)
	assert.Equal(t, "tok", cfg.API.Auth.Tokens[0].Token)
	assert.Equal(t, "s", cfg.Webhooks.Endpoints[0].Secret)
}
