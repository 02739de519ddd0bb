package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"medportal/internal/models"
	"medportal/internal/security"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type TLSConfig struct {
	Enabled  bool
	CertFile string
	KeyFile  string
}

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type StorageConfig struct {
	Endpoint        string
	AccessKey       string
	SecretKey       string
	BucketAvatars   string
	PublicBaseURL   string
	UseSSL          bool
	Region          string
	MaxPictureBytes int64
}

type PasswordConfig struct {
	MinLength int
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
	KeyLen    uint32
	SaltLen   uint32
}

func (p PasswordConfig) Policy() security.PasswordPolicy {
	return security.PasswordPolicy{
		MinLength: p.MinLength,
		Time:      p.Time,
		Memory:    p.MemoryKiB,
		Threads:   p.Threads,
		KeyLen:    p.KeyLen,
		SaltLen:   p.SaltLen,
	}
}

type SecurityConfig struct {
	SigningSecret         string
	PreviousSigningSecret string
	Issuer                string
	TokenTTL              time.Duration
	MaxTokenTTL           time.Duration
	RotationGrace         time.Duration
	LoginPath             string
	// Landing maps role name to its landing resource. Roles left out are
	// sent to LoginPath when they reach a resource they may not use.
	Landing map[string]string
}

func (s SecurityConfig) TokenConfig() security.TokenConfig {
	return security.TokenConfig{
		Issuer:     s.Issuer,
		DefaultTTL: s.TokenTTL,
		MaxTTL:     s.MaxTokenTTL,
	}
}

type EventsConfig struct {
	Stream        string
	Group         string
	Consumer      string
	MaxLen        int64
	ClaimInterval time.Duration
}

type LoggingConfig struct {
	Level string
}

type AppConfig struct {
	Environment      string
	HTTP             HTTPConfig
	TLS              TLSConfig
	Postgres         PostgresConfig
	Redis            RedisConfig
	Storage          StorageConfig
	Password         PasswordConfig
	Security         SecurityConfig
	Events           EventsConfig
	Logging          LoggingConfig
	AllowCORSOrigins []string
}

// secretKeys have no default, so AutomaticEnv alone would not surface them
// to Unmarshal.
var secretKeys = []string{
	"postgres.dsn",
	"redis.password",
	"storage.endpoint",
	"storage.accesskey",
	"storage.secretkey",
	"storage.publicbaseurl",
	"security.signingsecret",
	"security.previoussigningsecret",
}

func Load() (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	v.SetEnvPrefix("MEDPORTAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range secretKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "15s")
	v.SetDefault("http.idletimeout", "60s")

	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 10)
	v.SetDefault("postgres.connmaxlifetime", "30m")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("storage.bucketavatars", "medportal-avatars")
	v.SetDefault("storage.usessl", false)
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.maxpicturebytes", 5<<20)

	v.SetDefault("password.minlength", 8)
	v.SetDefault("password.time", 3)
	v.SetDefault("password.memorykib", 64*1024)
	v.SetDefault("password.threads", 2)
	v.SetDefault("password.keylen", 32)
	v.SetDefault("password.saltlen", 16)

	v.SetDefault("security.issuer", "medportal")
	v.SetDefault("security.tokenttl", "1h")
	v.SetDefault("security.maxtokenttl", "24h")
	v.SetDefault("security.rotationgrace", "15m")
	v.SetDefault("security.loginpath", "/login")
	v.SetDefault("security.landing", map[string]string{
		string(models.RolePatient): "/patient/dashboard",
		string(models.RoleDoctor):  "/doctor/dashboard",
	})

	v.SetDefault("events.stream", "auth:events")
	v.SetDefault("events.group", "auth-telemetry")
	v.SetDefault("events.consumer", "worker-1")
	v.SetDefault("events.maxlen", 100000)
	v.SetDefault("events.claiminterval", "10s")

	v.SetDefault("logging.level", "")
}

// Validate reports configuration the portal must refuse to start with.
func (c *AppConfig) Validate() error {
	secret := c.Security.SigningSecret
	switch {
	case secret == "":
		return security.ErrSigningSecretMissing
	case len(secret) < security.MinSigningSecretLen:
		return fmt.Errorf("%w: %d bytes, need %d", security.ErrSigningSecretTooShort, len(secret), security.MinSigningSecretLen)
	}
	if prev := c.Security.PreviousSigningSecret; prev != "" && len(prev) < security.MinSigningSecretLen {
		return fmt.Errorf("%w: previous secret is %d bytes", security.ErrSigningSecretTooShort, len(prev))
	}

	if c.Security.TokenTTL < time.Second || c.Security.MaxTokenTTL < time.Second {
		return fmt.Errorf("%w: token ttls must be at least 1s", ErrInvalidConfig)
	}
	if c.Security.TokenTTL > c.Security.MaxTokenTTL {
		return fmt.Errorf("%w: tokenttl %s exceeds maxtokenttl %s", ErrInvalidConfig, c.Security.TokenTTL, c.Security.MaxTokenTTL)
	}
	if c.Security.RotationGrace < 0 {
		return fmt.Errorf("%w: negative rotation grace", ErrInvalidConfig)
	}
	if c.Security.Issuer == "" {
		return fmt.Errorf("%w: empty issuer", ErrInvalidConfig)
	}

	if err := c.Password.Policy().Validate(); err != nil {
		return err
	}

	if _, err := c.Landing(); err != nil {
		return err
	}
	return nil
}

// Landing returns the landing table keyed by role.
func (c *AppConfig) Landing() (map[models.Role]string, error) {
	landing := make(map[models.Role]string, len(c.Security.Landing))
	for name, location := range c.Security.Landing {
		role, err := models.ParseRole(name)
		if err != nil {
			return nil, fmt.Errorf("%w: landing: %v", ErrInvalidConfig, err)
		}
		if location == "" {
			continue
		}
		landing[role] = location
	}
	return landing, nil
}
