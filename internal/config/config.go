package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// AWS Services
	AWSRegion    string
	SESFromEmail string

	// Twilio config for SMS and WhatsApp
	TwilioAccountSID   string
	TwilioAuthToken    string
	TwilioSMSFrom      string // E.164 sender number for SMS
	TwilioWhatsAppFrom string // E.164 sender number for WhatsApp

	// Reminder scheduler
	SchedulerInterval  time.Duration // poll interval
	SchedulerLookahead time.Duration // how far ahead sessions trigger reminders

	// Phone normalization default for local numbers
	DefaultCountryCode string

	// Outbound gateway rate limit (per channel)
	GatewayRateLimit  int
	GatewayRateWindow time.Duration

	// API rate limit (per client)
	APIRateLimit  int
	APIRateWindow time.Duration
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "ayursutra",
		DBPassword: "",
		DBName:     "ayursutra",
		DBSSLMode:  "disable",

		// Redis defaults
		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		AWSRegion:    "ap-south-1",
		SESFromEmail: "noreply@ayursutra.local",

		SchedulerInterval:  5 * time.Minute,
		SchedulerLookahead: 60 * time.Minute,

		DefaultCountryCode: "+91",

		GatewayRateLimit:  30,
		GatewayRateWindow: time.Minute,

		APIRateLimit:  120,
		APIRateWindow: time.Minute,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	// Twilio config
	if sid := os.Getenv("TWILIO_ACCOUNT_SID"); sid != "" {
		cfg.TwilioAccountSID = sid
	}

	if token := os.Getenv("TWILIO_AUTH_TOKEN"); token != "" {
		cfg.TwilioAuthToken = token
	}

	if from := os.Getenv("TWILIO_SMS_FROM"); from != "" {
		cfg.TwilioSMSFrom = from
	}

	if from := os.Getenv("TWILIO_WHATSAPP_FROM"); from != "" {
		cfg.TwilioWhatsAppFrom = from
	}

	// Scheduler config
	if interval := os.Getenv("SCHEDULER_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid SCHEDULER_INTERVAL: %w", err)
		}
		cfg.SchedulerInterval = d
	}

	if lookahead := os.Getenv("SCHEDULER_LOOKAHEAD"); lookahead != "" {
		d, err := time.ParseDuration(lookahead)
		if err != nil {
			return nil, fmt.Errorf("invalid SCHEDULER_LOOKAHEAD: %w", err)
		}
		cfg.SchedulerLookahead = d
	}

	if code := os.Getenv("DEFAULT_COUNTRY_CODE"); code != "" {
		cfg.DefaultCountryCode = code
	}

	// Rate limits
	if limit := os.Getenv("GATEWAY_RATE_LIMIT"); limit != "" {
		l, err := strconv.Atoi(limit)
		if err != nil {
			return nil, fmt.Errorf("invalid GATEWAY_RATE_LIMIT: %w", err)
		}
		cfg.GatewayRateLimit = l
	}

	if window := os.Getenv("GATEWAY_RATE_WINDOW"); window != "" {
		d, err := time.ParseDuration(window)
		if err != nil {
			return nil, fmt.Errorf("invalid GATEWAY_RATE_WINDOW: %w", err)
		}
		cfg.GatewayRateWindow = d
	}

	if limit := os.Getenv("API_RATE_LIMIT"); limit != "" {
		l, err := strconv.Atoi(limit)
		if err != nil {
			return nil, fmt.Errorf("invalid API_RATE_LIMIT: %w", err)
		}
		cfg.APIRateLimit = l
	}

	if window := os.Getenv("API_RATE_WINDOW"); window != "" {
		d, err := time.ParseDuration(window)
		if err != nil {
			return nil, fmt.Errorf("invalid API_RATE_WINDOW: %w", err)
		}
		cfg.APIRateWindow = d
	}

	return cfg, nil
}

// TwilioEnabled reports whether Twilio credentials are configured.
func (c *Config) TwilioEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != ""
}
