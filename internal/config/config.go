package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

type Config struct {
	HTTP      HTTPConfig               `mapstructure:"http"`
	DB        DBConfig                 `mapstructure:"db"`
	Log       LogConfig                `mapstructure:"log"`
	Auth      AuthConfig               `mapstructure:"auth"`
	Facility  FacilityConfig           `mapstructure:"facility"`
	Parking   ParkingConfig            `mapstructure:"parking"`
	Tariff    TariffConfig             `mapstructure:"tariff"`
	Cameras   []CameraConfig           `mapstructure:"cameras"`
	Barriers  map[string]BarrierConfig `mapstructure:"barriers"`
	Bank      BankConfig               `mapstructure:"bank"`
	Payment   PaymentConfig            `mapstructure:"payment"`
	Redis     RedisConfig              `mapstructure:"redis"`
	RabbitMQ  RabbitMQConfig           `mapstructure:"rabbitmq"`
	Telemetry TelemetryConfig          `mapstructure:"telemetry"`

	location *time.Location
}

type HTTPConfig struct {
	Port         string        `mapstructure:"port"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DBConfig struct {
	DSN          string        `mapstructure:"dsn"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	ConnLifetime time.Duration `mapstructure:"conn_lifetime"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	AdminRole string `mapstructure:"admin_role"`
}

type FacilityConfig struct {
	Timezone string `mapstructure:"timezone"`
}

type ParkingConfig struct {
	Mode                 string        `mapstructure:"mode"`
	PaymentEnabled       bool          `mapstructure:"payment_enabled"`
	MinPlateLength       int           `mapstructure:"min_plate_length"`
	DetectionInterval    time.Duration `mapstructure:"detection_interval"`
	DedupLogWindow       time.Duration `mapstructure:"dedup_log_window"`
	DedupCacheSize       int           `mapstructure:"dedup_cache_size"`
	SessionTimeout       time.Duration `mapstructure:"session_timeout"`
	DuplicateEntryGrace  time.Duration `mapstructure:"duplicate_entry_grace"`
	FailOpenUnrecognized bool          `mapstructure:"fail_open_unrecognized"`
	SweepInterval        time.Duration `mapstructure:"sweep_interval"`
	EventRetention       time.Duration `mapstructure:"event_retention"`
}

// TariffConfig is used when no tariff row is active.
type TariffConfig struct {
	HourlyRate  float64 `mapstructure:"hourly_rate"`
	NightRate   float64 `mapstructure:"night_rate"`
	FreeMinutes int     `mapstructure:"free_minutes"`
	MaxHours    int     `mapstructure:"max_hours"`
}

type CameraConfig struct {
	ID           string `mapstructure:"id"`
	Name         string `mapstructure:"name"`
	Role         string `mapstructure:"role"`
	Gate         string `mapstructure:"gate"`
	PaymentPoint bool   `mapstructure:"payment_point"`
}

type BarrierConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	Channel  int           `mapstructure:"channel"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Retries  int           `mapstructure:"retries"`
}

type BankConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Token           string        `mapstructure:"token"`
	MerchantAccount string        `mapstructure:"merchant_account"`
	CurrencyID      int           `mapstructure:"currency_id"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type PaymentConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PollBatch    int           `mapstructure:"poll_batch"`
	PollMinAge   time.Duration `mapstructure:"poll_min_age"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type RabbitMQConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
	Queue    string `mapstructure:"queue"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	Insecure     bool   `mapstructure:"insecure"`
	ServiceName  string `mapstructure:"service_name"`
}

// Load reads defaults, then the optional file at path, then PARKING_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PARKING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	loc, err := time.LoadLocation(c.Facility.Timezone)
	if err != nil {
		return fmt.Errorf("facility timezone %q: %w", c.Facility.Timezone, err)
	}
	c.location = loc

	switch c.Parking.Mode {
	case "paid", "free":
	default:
		return fmt.Errorf("parking mode %q: must be paid or free", c.Parking.Mode)
	}
	if c.Parking.MinPlateLength <= 0 {
		return errors.New("parking.min_plate_length must be positive")
	}
	for _, cam := range c.Cameras {
		if cam.ID == "" {
			return errors.New("camera id is required")
		}
		if cam.Role != "entry" && cam.Role != "exit" {
			return fmt.Errorf("camera %s: role %q must be entry or exit", cam.ID, cam.Role)
		}
		if cam.Gate != "" {
			if _, ok := c.Barriers[cam.Gate]; !ok {
				return fmt.Errorf("camera %s: unknown gate %q", cam.ID, cam.Gate)
			}
		}
	}
	return nil
}

// Location is the facility-local timezone used for billing.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

func (c *Config) CameraByID(id string) (CameraConfig, bool) {
	for _, cam := range c.Cameras {
		if cam.ID == id {
			return cam, true
		}
	}
	return CameraConfig{}, false
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", "8000")
	v.SetDefault("http.cors_origins", []string{"*"})
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)

	v.SetDefault("db.dsn", "host=localhost port=5432 user=postgres dbname=parking sslmode=disable")
	v.SetDefault("db.max_open_conns", 25)
	v.SetDefault("db.max_idle_conns", 10)
	v.SetDefault("db.conn_lifetime", 30*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.admin_role", "admin")

	v.SetDefault("facility.timezone", "Asia/Bishkek")

	v.SetDefault("parking.mode", "paid")
	v.SetDefault("parking.payment_enabled", true)
	v.SetDefault("parking.min_plate_length", 4)
	v.SetDefault("parking.detection_interval", 10*time.Second)
	v.SetDefault("parking.dedup_log_window", 30*time.Second)
	v.SetDefault("parking.dedup_cache_size", 10000)
	v.SetDefault("parking.session_timeout", 12*time.Hour)
	v.SetDefault("parking.duplicate_entry_grace", 2*time.Hour)
	v.SetDefault("parking.fail_open_unrecognized", true)
	v.SetDefault("parking.sweep_interval", 5*time.Minute)
	v.SetDefault("parking.event_retention", 30*24*time.Hour)

	v.SetDefault("tariff.hourly_rate", 50.0)
	v.SetDefault("tariff.night_rate", 30.0)
	v.SetDefault("tariff.free_minutes", 15)
	v.SetDefault("tariff.max_hours", 24)

	v.SetDefault("cameras", []map[string]interface{}{
		{"id": "192.0.0.12", "name": "Entry 1", "role": "entry", "gate": "entry"},
		{"id": "192.0.0.11", "name": "Exit 1", "role": "exit", "gate": "exit", "payment_point": true},
	})
	v.SetDefault("barriers", map[string]interface{}{
		"entry": map[string]interface{}{
			"host": "192.0.0.12", "port": 80, "user": "admin", "channel": 1,
			"timeout": "5s", "retries": 2,
		},
		"exit": map[string]interface{}{
			"host": "192.0.0.11", "port": 80, "user": "admin", "channel": 1,
			"timeout": "5s", "retries": 2,
		},
	})

	v.SetDefault("bank.base_url", "https://openbanking-api.bakai.kg")
	v.SetDefault("bank.currency_id", 417)
	v.SetDefault("bank.timeout", 15*time.Second)

	v.SetDefault("payment.poll_interval", 20*time.Second)
	v.SetDefault("payment.poll_batch", 50)
	v.SetDefault("payment.poll_min_age", 30*time.Second)

	v.SetDefault("redis.prefix", "parking:dedup")
	v.SetDefault("rabbitmq.exchange", "")
	v.SetDefault("rabbitmq.queue", "parking.events")

	v.SetDefault("telemetry.service_name", "parking-service")
}
