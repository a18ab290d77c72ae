// Package config assembles client settings from command line flags, the
// environment and an optional .env file. Environment values override flags;
// a .env file never overrides the real environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"time"

	"dario.cat/mergo"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

const (
	EnvPrefix = "REALTIME_"

	TransportWebsocket = "websocket"
	TransportPolling   = "polling"

	defaultEnvFile = ".env"
)

var (
	ErrInvalidEndpoint  = errors.New("invalid websocket url")
	ErrInvalidTransport = errors.New("invalid transport list")
	ErrInvalidReconnect = errors.New("invalid reconnect configuration")
	ErrInvalidTimeout   = errors.New("invalid timeout configuration")
	ErrInvalidLogLevel  = errors.New("invalid log level")
)

type Config struct {
	WSURL                  string        `env:"WS_URL"`
	Transports             []string      `env:"TRANSPORTS" envSeparator:","`
	ConnectTimeout         time.Duration `env:"CONNECT_TIMEOUT"`
	MaxReconnectAttempts   int           `env:"MAX_RECONNECT_ATTEMPTS"`
	ReconnectDelay         time.Duration `env:"RECONNECT_DELAY"`
	ReconnectAnyDisconnect *bool         `env:"RECONNECT_ANY_DISCONNECT"`
	UserID                 string        `env:"USER_ID"`
	HeartbeatInterval      time.Duration `env:"HEARTBEAT_INTERVAL"`
	APIListenAddr          string        `env:"API_LISTEN_ADDR"`
	LogLevel               string        `env:"LOG_LEVEL"`
	Offline                *bool         `env:"OFFLINE"`
	DumpEvents             *bool         `env:"DUMP_EVENTS"`
}

// Load reads flags from args and the process environment.
func Load(args []string) (*Config, error) {
	return load(args, os.Environ())
}

func load(args []string, environ []string) (*Config, error) {
	flags, envFile, explicit, err := parseFlags(args)
	if err != nil {
		return nil, err
	}

	vars, err := environment(envFile, explicit, environ)
	if err != nil {
		return nil, err
	}

	envCfg := &Config{}
	if err = env.ParseWithOptions(envCfg, env.Options{
		Prefix:      EnvPrefix,
		Environment: vars,
	}); err != nil {
		return nil, fmt.Errorf("error getting env configs: %w", err)
	}

	cfg := flags
	if err = mergo.Merge(cfg, envCfg, mergo.WithOverride, mergo.WithoutDereference); err != nil {
		return nil, fmt.Errorf("error merging configs: %w", err)
	}
	return cfg, cfg.validate()
}

func parseFlags(args []string) (cfg *Config, envFile string, explicit bool, err error) {
	fs := pflag.NewFlagSet("realtime", pflag.ContinueOnError)

	var (
		wsURL          = fs.StringP("ws-url", "u", "ws://localhost:8080", "realtime server url")
		transports     = fs.StringSlice("transports", []string{TransportWebsocket, TransportPolling}, "transports in fallback order")
		connectTimeout = fs.Duration("connect-timeout", 20*time.Second, "connect timeout")
		maxAttempts    = fs.Int("max-reconnect-attempts", 5, "reconnect attempts before giving up")
		reconnectDelay = fs.Duration("reconnect-delay", time.Second, "delay before the first reconnect, doubled on every attempt")
		reconnectAny   = fs.Bool("reconnect-any-disconnect", true, "reconnect on transport loss, not only on server disconnect")
		userID         = fs.String("user-id", "", "user id for heartbeats and default room membership")
		heartbeat      = fs.Duration("heartbeat-interval", 30*time.Second, "heartbeat interval, 0 disables")
		apiListenAddr  = fs.StringP("api-listen-addr", "a", ":8090", "api listen address")
		logLevel       = fs.StringP("log-level", "l", "info", "log level")
		offline        = fs.Bool("offline", false, "run without a realtime connection")
		dumpEvents     = fs.Bool("dump-events", false, "dump every bus event to stderr")
		dotenv         = fs.String("env-file", defaultEnvFile, "optional .env file")
	)
	if err = fs.Parse(args); err != nil {
		return nil, "", false, fmt.Errorf("failed to parse command line arguments: %w", err)
	}

	return &Config{
		WSURL:                  *wsURL,
		Transports:             *transports,
		ConnectTimeout:         *connectTimeout,
		MaxReconnectAttempts:   *maxAttempts,
		ReconnectDelay:         *reconnectDelay,
		ReconnectAnyDisconnect: reconnectAny,
		UserID:                 *userID,
		HeartbeatInterval:      *heartbeat,
		APIListenAddr:          *apiListenAddr,
		LogLevel:               *logLevel,
		Offline:                offline,
		DumpEvents:             dumpEvents,
	}, *dotenv, fs.Changed("env-file"), nil
}

// environment returns the variables visible to env parsing: the .env file
// first, then the process environment on top.
func environment(envFile string, explicit bool, environ []string) (map[string]string, error) {
	vars := make(map[string]string)
	if envFile != "" {
		fileVars, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			for k, v := range fileVars {
				vars[k] = v
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return nil, fmt.Errorf("failed to read env file %s: %w", envFile, err)
		}
	}
	for k, v := range env.ToMap(environ) {
		vars[k] = v
	}
	return vars, nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.WSURL)
	if err != nil {
		return errors.Join(ErrInvalidEndpoint, err)
	}
	if !slices.Contains([]string{"ws", "wss", "http", "https"}, u.Scheme) || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidEndpoint, c.WSURL)
	}

	if len(c.Transports) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidTransport)
	}
	for _, t := range c.Transports {
		if t != TransportWebsocket && t != TransportPolling {
			return fmt.Errorf("%w: unknown transport %q", ErrInvalidTransport, t)
		}
	}

	if c.MaxReconnectAttempts < 0 || c.ReconnectDelay <= 0 {
		return ErrInvalidReconnect
	}
	if c.ConnectTimeout <= 0 || c.HeartbeatInterval < 0 {
		return ErrInvalidTimeout
	}
	if _, err = zerolog.ParseLevel(c.LogLevel); err != nil {
		return errors.Join(ErrInvalidLogLevel, err)
	}
	return nil
}

func (c *Config) ReconnectOnAnyDisconnect() bool {
	return c.ReconnectAnyDisconnect == nil || *c.ReconnectAnyDisconnect
}

func (c *Config) IsOffline() bool {
	return c.Offline != nil && *c.Offline
}

func (c *Config) ShouldDumpEvents() bool {
	return c.DumpEvents != nil && *c.DumpEvents
}
