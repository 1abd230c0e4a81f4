package jobs

import (
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var kebabEndpoint = regexp.MustCompile(`^/api/jobs/[a-z0-9]+(-[a-z0-9]+)*$`)

func TestDefaultRegistry_GetConfig(t *testing.T) {
	registry := DefaultRegistry()

	for _, jobType := range registry.Types() {
		t.Run(jobType.String(), func(t *testing.T) {
			cfg, err := registry.GetConfig(jobType)
			require.NoError(t, err)

			assert.Equal(t, jobType, cfg.Type)
			assert.Regexp(t, kebabEndpoint, cfg.Endpoint)
			assert.Positive(t, cfg.Retries)
			assert.Positive(t, cfg.TimeoutSeconds)
			assert.NotEmpty(t, cfg.Description)
		})
	}
}

func TestDefaultRegistry_SendEmail(t *testing.T) {
	cfg, err := DefaultRegistry().GetConfig(TypeSendEmail)
	require.NoError(t, err)

	assert.Equal(t, "/api/jobs/email", cfg.Endpoint)
	assert.Equal(t, 3, cfg.Retries)
	assert.Equal(t, 30, cfg.TimeoutSeconds)
}

func TestDefaultRegistry_UniqueEndpoints(t *testing.T) {
	seen := map[string]Type{}
	for _, cfg := range DefaultRegistry().Configs() {
		other, dup := seen[cfg.Endpoint]
		assert.False(t, dup, "endpoint %s shared by %s and %s", cfg.Endpoint, other, cfg.Type)
		seen[cfg.Endpoint] = cfg.Type
	}
	assert.Len(t, seen, 4)
}

func TestRegistry_GetConfig_Unknown(t *testing.T) {
	_, err := DefaultRegistry().GetConfig("resize-avatar")
	require.Error(t, err)

	assert.True(t, errors.Is(err, ErrConfigNotFound))
	assert.Contains(t, err.Error(), "resize-avatar")

	var notFound *ConfigNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, Type("resize-avatar"), notFound.Type)
}

func TestNewRegistry_Validation(t *testing.T) {
	valid := Config{
		Type:           "resize-avatar",
		Endpoint:       "/api/jobs/resize-avatar",
		Retries:        2,
		TimeoutSeconds: 10,
		Description:    "Resize an avatar",
	}

	tests := []struct {
		name      string
		configs   []Config
		errString string
	}{
		{
			name:    "valid",
			configs: []Config{valid},
		},
		{
			name:      "duplicate type",
			configs:   []Config{valid, valid},
			errString: "duplicate job type config",
		},
		{
			name: "shared endpoint",
			configs: []Config{valid, func() Config {
				c := valid
				c.Type = "resize-banner"
				return c
			}()},
			errString: "share endpoint",
		},
		{
			name: "endpoint outside prefix",
			configs: []Config{func() Config {
				c := valid
				c.Endpoint = "/jobs/resize-avatar"
				return c
			}()},
			errString: "must start with",
		},
		{
			name: "negative retries",
			configs: []Config{func() Config {
				c := valid
				c.Retries = -1
				return c
			}()},
			errString: "retries must not be negative",
		},
		{
			name: "zero timeout",
			configs: []Config{func() Config {
				c := valid
				c.TimeoutSeconds = 0
				return c
			}()},
			errString: "timeout must be greater than 0",
		},
		{
			name: "empty description",
			configs: []Config{func() Config {
				c := valid
				c.Description = "  "
				return c
			}()},
			errString: "description is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry, err := NewRegistry(tt.configs...)

			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, registry)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, []Type{"resize-avatar"}, registry.Types())
		})
	}
}
