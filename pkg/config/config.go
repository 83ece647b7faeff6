// Package config loads the facilitator process configuration from the
// environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/openfacilitator/openfacilitator/go/mechanisms/evm"
	signersevm "github.com/openfacilitator/openfacilitator/go/signers/evm"
)

const (
	EnvPrivateKey          = "FACILITATOR_PRIVATE_KEY"
	EnvPort                = "PORT"
	EnvLogLevel            = "LOG_LEVEL"
	EnvConfirmationTimeout = "CONFIRMATION_TIMEOUT"
	EnvMetricsEnabled      = "METRICS_ENABLED"
	EnvSettlementCacheTTL  = "SETTLEMENT_CACHE_TTL"

	DefaultPort     = 3000
	DefaultLogLevel = "info"
)

// Config is the validated process configuration. The facilitator key is
// only held as a parsed credential handle.
type Config struct {
	Key                 *signersevm.PrivateKey
	Registry            *evm.Registry
	Port                int
	LogLevel            string
	ConfirmationTimeout time.Duration
	MetricsEnabled      bool
	// SettlementCacheTTL enables in-memory replay of successful settlements
	// when positive. Zero leaves idempotency to the caller.
	SettlementCacheTTL time.Duration
}

// environment mirrors the raw variables so they can be validated with
// struct tags before anything is parsed.
type environment struct {
	PrivateKey          string        `env:"FACILITATOR_PRIVATE_KEY" validate:"required,hexadecimal,len=64"`
	Port                int           `env:"PORT" validate:"min=1,max=65535"`
	LogLevel            string        `env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	ConfirmationTimeout time.Duration `env:"CONFIRMATION_TIMEOUT" validate:"min=1s"`
	MetricsEnabled      bool          `env:"METRICS_ENABLED"`
	SettlementCacheTTL  time.Duration `env:"SETTLEMENT_CACHE_TTL" validate:"min=0"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("env")
	})
}

// Load reads the given .env files (".env" when none are named) into the
// process environment and builds the configuration from it. Missing files
// are ignored; variables already set in the environment win.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds the configuration from a variable lookup function.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	env, err := readEnvironment(lookup)
	if err != nil {
		return nil, err
	}
	if err := validate.Struct(env); err != nil {
		return nil, describe(err)
	}

	key, err := signersevm.ParsePrivateKey(env.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", EnvPrivateKey, err)
	}

	registry, err := evm.LoadRegistry(lookup)
	if err != nil {
		key.Close()
		return nil, fmt.Errorf("failed to load chain registry: %w", err)
	}

	return &Config{
		Key:                 key,
		Registry:            registry,
		Port:                env.Port,
		LogLevel:            env.LogLevel,
		ConfirmationTimeout: env.ConfirmationTimeout,
		MetricsEnabled:      env.MetricsEnabled,
		SettlementCacheTTL:  env.SettlementCacheTTL,
	}, nil
}

// SettleTimeout bounds one /settle request: two confirmation waits plus a
// minute for preflight and broadcasts.
func (c *Config) SettleTimeout() time.Duration {
	return 2*c.ConfirmationTimeout + time.Minute
}

// ShutdownTimeout is how long a shutdown drains in-flight requests. It
// always outlasts a settlement so no run loses its key or RPC client midway.
func (c *Config) ShutdownTimeout() time.Duration {
	return c.SettleTimeout() + 30*time.Second
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

func readEnvironment(lookup func(string) (string, bool)) (*environment, error) {
	get := func(name string) string {
		v, _ := lookup(name)
		return strings.TrimSpace(v)
	}

	env := &environment{
		PrivateKey:          strings.TrimPrefix(get(EnvPrivateKey), "0x"),
		Port:                DefaultPort,
		LogLevel:            DefaultLogLevel,
		ConfirmationTimeout: evm.DefaultConfirmationTimeout,
		MetricsEnabled:      true,
	}

	if v := get(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%s must be an integer: %w", EnvPort, err)
		}
		env.Port = port
	}
	if v := get(EnvLogLevel); v != "" {
		env.LogLevel = strings.ToLower(v)
	}
	if v := get(EnvConfirmationTimeout); v != "" {
		timeout, err := parseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvConfirmationTimeout, err)
		}
		env.ConfirmationTimeout = timeout
	}
	if v := get(EnvMetricsEnabled); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%s must be a boolean: %w", EnvMetricsEnabled, err)
		}
		env.MetricsEnabled = enabled
	}
	if v := get(EnvSettlementCacheTTL); v != "" {
		ttl, err := parseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvSettlementCacheTTL, err)
		}
		env.SettlementCacheTTL = ttl
	}
	return env, nil
}

// parseDuration accepts Go duration strings and bare seconds.
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return d, nil
}

// describe turns validator errors into messages naming the variable. Field
// values are never included.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "hexadecimal", "len":
			msgs = append(msgs, fe.Field()+" must be 64 hex characters")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		}
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}
