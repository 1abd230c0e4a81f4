package jobs

import (
	"fmt"
	"sort"
	"strings"
)

// EndpointPrefix is the path prefix shared by every worker endpoint
const EndpointPrefix = "/api/jobs"

// Type identifies a kind of background job. Values are persisted in
// job_executions.job_type and used as routing keys, so they must never be renamed.
type Type string

// Supported job types
const (
	TypeSendEmail        Type = "send-email"
	TypeProcessWebhook   Type = "process-webhook"
	TypeSendNotification Type = "send-notification"
	TypeCleanupSessions  Type = "cleanup-sessions"
)

func (t Type) String() string {
	return string(t)
}

// Config is the delivery contract for one job type
type Config struct {
	Type           Type
	Endpoint       string
	Retries        int
	TimeoutSeconds int
	Description    string
}

var defaultConfigs = []Config{
	{
		Type:           TypeSendEmail,
		Endpoint:       EndpointPrefix + "/email",
		Retries:        3,
		TimeoutSeconds: 30,
		Description:    "Send a transactional email",
	},
	{
		Type:           TypeProcessWebhook,
		Endpoint:       EndpointPrefix + "/webhook",
		Retries:        5,
		TimeoutSeconds: 60,
		Description:    "Process an inbound payment-provider webhook event",
	},
	{
		Type:           TypeSendNotification,
		Endpoint:       EndpointPrefix + "/notification",
		Retries:        3,
		TimeoutSeconds: 30,
		Description:    "Deliver an in-app notification",
	},
	{
		Type:           TypeCleanupSessions,
		Endpoint:       EndpointPrefix + "/cleanup-sessions",
		Retries:        1,
		TimeoutSeconds: 120,
		Description:    "Purge expired sessions",
	},
}

// Registry maps job types to their delivery contract. It is immutable after
// construction and safe for concurrent reads.
type Registry struct {
	configs map[Type]Config
}

// NewRegistry builds a registry from the given configs and validates it
func NewRegistry(configs ...Config) (*Registry, error) {
	r := &Registry{configs: make(map[Type]Config, len(configs))}
	for _, cfg := range configs {
		if _, exists := r.configs[cfg.Type]; exists {
			return nil, fmt.Errorf("duplicate job type config: %q", cfg.Type)
		}
		r.configs[cfg.Type] = cfg
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}

	return r, nil
}

// DefaultRegistry returns the compiled-in registry of all supported job types
func DefaultRegistry() *Registry {
	r, err := NewRegistry(defaultConfigs...)
	if err != nil {
		panic(fmt.Sprintf("jobs: invalid default registry: %v", err))
	}
	return r
}

// GetConfig returns the config for the given job type
func (r *Registry) GetConfig(t Type) (Config, error) {
	cfg, ok := r.configs[t]
	if !ok {
		return Config{}, &ConfigNotFoundError{Type: t}
	}
	return cfg, nil
}

// Types returns all registered job types sorted by name
func (r *Registry) Types() []Type {
	types := make([]Type, 0, len(r.configs))
	for t := range r.configs {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Configs returns all registered configs sorted by type
func (r *Registry) Configs() []Config {
	types := r.Types()
	configs := make([]Config, len(types))
	for i, t := range types {
		configs[i] = r.configs[t]
	}
	return configs
}

// Validate checks the registry invariants
func (r *Registry) Validate() error {
	endpoints := make(map[string]Type, len(r.configs))

	for key, cfg := range r.configs {
		if key == "" {
			return fmt.Errorf("job type is required")
		}
		if cfg.Type != key {
			return fmt.Errorf("job type config %q is registered under %q", cfg.Type, key)
		}
		if !strings.HasPrefix(cfg.Endpoint, EndpointPrefix+"/") {
			return fmt.Errorf("job type %q: endpoint %q must start with %s/", key, cfg.Endpoint, EndpointPrefix)
		}
		if other, dup := endpoints[cfg.Endpoint]; dup {
			return fmt.Errorf("job types %q and %q share endpoint %q", other, key, cfg.Endpoint)
		}
		endpoints[cfg.Endpoint] = key

		if cfg.Retries < 0 {
			return fmt.Errorf("job type %q: retries must not be negative", key)
		}
		if cfg.TimeoutSeconds <= 0 {
			return fmt.Errorf("job type %q: timeout must be greater than 0", key)
		}
		if strings.TrimSpace(cfg.Description) == "" {
			return fmt.Errorf("job type %q: description is required", key)
		}
	}

	return nil
}
