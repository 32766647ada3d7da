package config

import (
	"errors"
	"fmt"
	"strings"
)

var policies = []string{"block", "drop_oldest", "drop_newest"}

// Validate checks the configuration for required fields and valid values.
// Every problem is reported, each with its field path.
func (c *Config) Validate() error {
	var errs []error

	checkPort := func(field string, port int) {
		if port <= 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s must be between 1 and 65535, got %d", field, port))
		}
	}
	checkPort("server.port", c.Server.Port)
	checkPort("soap.port", c.SOAP.Port)

	if c.Server.MaxBodySize <= 0 {
		errs = append(errs, fmt.Errorf("server.max_body_size must be > 0, got %d", c.Server.MaxBodySize))
	}

	if c.Dispatch.MaxInFlight <= 0 {
		errs = append(errs, fmt.Errorf("dispatch.max_in_flight must be > 0, got %d", c.Dispatch.MaxInFlight))
	}
	if c.Dispatch.MaxQueued < 0 {
		errs = append(errs, fmt.Errorf("dispatch.max_queued must be >= 0, got %d", c.Dispatch.MaxQueued))
	}
	if c.Dispatch.EncodeRetries < 0 {
		errs = append(errs, fmt.Errorf("dispatch.encode_retries must be >= 0, got %d", c.Dispatch.EncodeRetries))
	}

	checkPolicy := func(field, policy string, allowEmpty bool) {
		if policy == "" && allowEmpty {
			return
		}
		for _, p := range policies {
			if policy == p {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s must be one of %s, got %q", field, strings.Join(policies, ", "), policy))
	}
	checkPolicy("sessions.policy", c.Sessions.Policy, false)
	checkPolicy("sessions.ws.policy", c.Sessions.WS.Policy, true)
	checkPolicy("sessions.sse.policy", c.Sessions.SSE.Policy, true)
	if c.Sessions.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("sessions.queue_size must be > 0, got %d", c.Sessions.QueueSize))
	}

	// storage.type must be a known value.
	switch c.Storage.Type {
	case "memory", "postgres":
		// valid
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"memory\" or \"postgres\", got %q", c.Storage.Type))
	}

	// If storage.type is "postgres", DSN or DSNFile must be set.
	if c.Storage.Type == "postgres" {
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
		}
	}

	// auth.type must be a known value.
	switch c.Auth.Type {
	case "none":
	case "apikey":
		if len(c.Auth.APIKeys) == 0 {
			errs = append(errs, fmt.Errorf("auth.api_keys must not be empty when auth.type is \"apikey\""))
		}
		for i, k := range c.Auth.APIKeys {
			if k.Key == "" && k.KeyFile == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d].key or key_file is required", i))
			}
		}
	case "jwt":
		if c.Auth.JWT.Secret == "" && c.Auth.JWT.SecretFile == "" {
			errs = append(errs, fmt.Errorf("auth.jwt.secret or auth.jwt.secret_file is required when auth.type is \"jwt\""))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"apikey\", or \"jwt\", got %q", c.Auth.Type))
	}

	if c.NATS.Enabled() && c.NATS.Subject == "" {
		errs = append(errs, fmt.Errorf("nats.subject is required when nats is enabled"))
	}

	if c.Observability.Metrics.Enabled && !strings.HasPrefix(c.Observability.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("observability.metrics.path must start with \"/\", got %q", c.Observability.Metrics.Path))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}
