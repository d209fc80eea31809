package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/samber/oops"
)

// ErrInvalid marks configuration problems. They are only ever returned at
// startup and should terminate the process.
var ErrInvalid = errors.New("invalid configuration")

// MinSecretKeyLength is the shortest accepted HS256 signing key in bytes.
const MinSecretKeyLength = 32

// Store drivers accepted by STORE_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// Config holds all service configuration loaded from environment variables.
// It is built once by Load and passed by value afterwards.
type Config struct {
	Port               string        `env:"PORT"                 envDefault:"8080"`
	LogFormat          string        `env:"LOG_FORMAT"           envDefault:"json"`
	StoreDriver        string        `env:"STORE_DRIVER"         envDefault:"postgres"`
	PostgresDSN        string        `env:"POSTGRES_DSN"`
	MongoURI           string        `env:"MONGO_URI"`
	MongoDB            string        `env:"MONGO_DB"             envDefault:"finalapi"`
	RedisAddr          string        `env:"REDIS_ADDR"`
	RedisPassword      string        `env:"REDIS_PASSWORD"`
	StoreTimeout       time.Duration `env:"STORE_TIMEOUT"        envDefault:"5s"`
	AutoMigrate        bool          `env:"AUTO_MIGRATE"         envDefault:"true"`
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000,http://localhost:5173,http://localhost:5174" envSeparator:","`

	JWT      JWT      `envPrefix:"JWT_"`
	Identity Identity `envPrefix:"IDENTITY_"`
	Lockout  Lockout  `envPrefix:"LOCKOUT_"`
}

// JWT configures token issuance.
type JWT struct {
	SecretKey string        `env:"SECRET_KEY"`
	Issuer    string        `env:"ISSUER"`
	Audience  string        `env:"AUDIENCE"`
	Expiry    time.Duration `env:"EXPIRY" envDefault:"1h"`
}

// Identity holds account policy.
type Identity struct {
	PasswordMinLength int      `env:"PASSWORD_MIN_LENGTH" envDefault:"8"`
	DefaultRoles      []string `env:"DEFAULT_ROLES"       envSeparator:","`
}

// Lockout configures the sign-in failure policy.
type Lockout struct {
	Enabled           bool          `env:"ENABLED"             envDefault:"false"`
	MaxFailedAttempts int           `env:"MAX_FAILED_ATTEMPTS" envDefault:"5"`
	Duration          time.Duration `env:"DURATION"            envDefault:"5m"`
}

// Migrate is the configuration needed by the migrate command alone.
type Migrate struct {
	PostgresDSN string `env:"POSTGRES_DSN,required,notEmpty"`
}

// LoadMigrate reads only what migrations need, so schema changes can run
// without token settings. A nil environ reads the process environment.
func LoadMigrate(environ map[string]string) (Migrate, error) {
	var m Migrate
	if err := env.ParseWithOptions(&m, env.Options{Environment: environ}); err != nil {
		return Migrate{}, oops.Code("CONFIG_PARSE_FAILED").Wrap(errors.Join(ErrInvalid, err))
	}
	return m, nil
}

// Load reads the process environment into a validated Config.
func Load() (Config, error) {
	return load(env.Options{})
}

// LoadFrom is Load with an explicit environment, used by tests and tooling.
func LoadFrom(environ map[string]string) (Config, error) {
	return load(env.Options{Environment: environ})
}

func load(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, oops.Code("CONFIG_PARSE_FAILED").Wrap(errors.Join(ErrInvalid, err))
	}
	cfg.JWT.SecretKey = strings.TrimSpace(cfg.JWT.SecretKey)
	cfg.JWT.Issuer = strings.TrimSpace(cfg.JWT.Issuer)
	cfg.JWT.Audience = strings.TrimSpace(cfg.JWT.Audience)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every missing or out-of-range value at once.
func (c Config) Validate() error {
	var problems []string

	switch c.StoreDriver {
	case DriverPostgres:
		if c.PostgresDSN == "" {
			problems = append(problems, "POSTGRES_DSN is required for the postgres store")
		}
	case DriverMongo:
		if c.MongoURI == "" {
			problems = append(problems, "MONGO_URI is required for the mongo store")
		}
	case DriverMemory:
	default:
		problems = append(problems, fmt.Sprintf("STORE_DRIVER %q is not one of postgres, mongo, memory", c.StoreDriver))
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		problems = append(problems, fmt.Sprintf("LOG_FORMAT %q must be json or text", c.LogFormat))
	}
	if c.StoreTimeout <= 0 {
		problems = append(problems, "STORE_TIMEOUT must be positive")
	}

	problems = append(problems, c.JWT.problems()...)

	if c.Identity.PasswordMinLength < 1 {
		problems = append(problems, "IDENTITY_PASSWORD_MIN_LENGTH must be at least 1")
	}
	if c.Lockout.Enabled {
		if c.Lockout.MaxFailedAttempts < 1 {
			problems = append(problems, "LOCKOUT_MAX_FAILED_ATTEMPTS must be at least 1")
		}
		if c.Lockout.Duration <= 0 {
			problems = append(problems, "LOCKOUT_DURATION must be positive")
		}
	}

	if len(problems) > 0 {
		return oops.Code("CONFIG_INVALID").
			With("problems", problems).
			Wrapf(ErrInvalid, "%s", strings.Join(problems, "; "))
	}
	return nil
}

// Validate checks the token settings on their own.
func (j JWT) Validate() error {
	if problems := j.problems(); len(problems) > 0 {
		return oops.Code("CONFIG_INVALID").
			With("problems", problems).
			Wrapf(ErrInvalid, "%s", strings.Join(problems, "; "))
	}
	return nil
}

func (j JWT) problems() []string {
	var problems []string
	if j.SecretKey == "" {
		problems = append(problems, "JWT_SECRET_KEY is required")
	} else if len(j.SecretKey) < MinSecretKeyLength {
		problems = append(problems, fmt.Sprintf("JWT_SECRET_KEY must be at least %d bytes", MinSecretKeyLength))
	}
	if j.Issuer == "" {
		problems = append(problems, "JWT_ISSUER is required")
	}
	if j.Audience == "" {
		problems = append(problems, "JWT_AUDIENCE is required")
	}
	if j.Expiry <= 0 {
		problems = append(problems, "JWT_EXPIRY must be positive")
	}
	return problems
}
