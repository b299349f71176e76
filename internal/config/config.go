// Package config loads device provisioning from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pion/logging"
	"github.com/spf13/viper"

	"github.com/smallyu/go-ibihop/internal/crypto/curves"
	"github.com/smallyu/go-ibihop/internal/device"
	"github.com/smallyu/go-ibihop/internal/protocol/keygen"
	"github.com/smallyu/go-ibihop/internal/transport"
	"github.com/smallyu/go-ibihop/pkg/ibihop"
)

// Prefix is the environment variable prefix, so IBIHOP_KEY_PRIVATE
// overrides key.private.
const Prefix = "IBIHOP"

// ErrInvalidConfig is returned for configuration that cannot be resolved.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config mirrors the configuration file.
type Config struct {
	Role           string        `mapstructure:"role"`
	Curve          string        `mapstructure:"curve"`
	Listen         string        `mapstructure:"listen"`
	Peer           string        `mapstructure:"peer"`
	Key            Key           `mapstructure:"key"`
	Peers          []Peer        `mapstructure:"peers"`
	SessionTimeout time.Duration `mapstructure:"session_timeout"`
	LogLevel       string        `mapstructure:"log_level"`
	MetricsListen  string        `mapstructure:"metrics_listen"`
}

// Key holds the device's own key pair as hex. Public may be empty.
type Key struct {
	Private string `mapstructure:"private"`
	Public  string `mapstructure:"public"`
}

// Peer is one provisioned peer public key.
type Peer struct {
	Name      string `mapstructure:"name"`
	PublicKey string `mapstructure:"public_key"`
}

// Runtime is a resolved configuration.
type Runtime struct {
	Device        device.Config
	Listen        string
	Peer          net.Addr // reader address, tag only
	MetricsListen string
}

var envKeys = []string{
	"role", "curve", "listen", "peer",
	"key.private", "key.public",
	"session_timeout", "log_level", "metrics_listen",
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("curve", curves.Secp192r1().Name)
	v.SetDefault("session_timeout", device.DefaultSessionTimeout.String())
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix(Prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}
	return v
}

// Load reads the file at path, if any, and applies environment overrides.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}
	return decode(v)
}

// Parse reads YAML from r and applies environment overrides.
func Parse(r io.Reader) (*Config, error) {
	v := newViper()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var c Config
	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           &c,
	})
	if err != nil {
		return nil, err
	}
	if err := d.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &c, nil
}

// Resolve validates the configuration and builds the device settings.
// Key material is checked here so a bad file fails before any socket opens.
func (c *Config) Resolve() (*Runtime, error) {
	role, err := ibihop.ParseRole(c.Role)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	curve, err := curves.ByName(c.Curve)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Key.Private == "" {
		return nil, fmt.Errorf("%w: key.private is not set", ErrInvalidConfig)
	}
	kp, err := keygen.NewFromHex(curve, c.Key.Private, c.Key.Public)
	if err != nil {
		return nil, fmt.Errorf("%w: key: %w", ErrInvalidConfig, err)
	}
	if _, err := c.loggingLevel(); err != nil {
		return nil, err
	}

	rt := &Runtime{
		Device: device.Config{
			Role:           role,
			Curve:          curve,
			Key:            kp,
			SessionTimeout: c.SessionTimeout,
		},
		Listen:        c.Listen,
		MetricsListen: c.MetricsListen,
	}

	if len(c.Peers) == 0 {
		return nil, fmt.Errorf("%w: no peers provisioned", ErrInvalidConfig)
	}
	if role == ibihop.RoleTag && len(c.Peers) > 1 {
		return nil, fmt.Errorf("%w: a tag talks to exactly one reader", ErrInvalidConfig)
	}
	seen := make(map[string]bool)
	for i, p := range c.Peers {
		name := p.Name
		if name == "" {
			name = fmt.Sprintf("peer-%d", i)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate peer %q", ErrInvalidConfig, name)
		}
		seen[name] = true
		pk, err := keygen.ParsePublicKey(curve, p.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("%w: peer %q: %w", ErrInvalidConfig, name, err)
		}
		rt.Device.Peers = append(rt.Device.Peers, ibihop.Peer{Name: name, PublicKey: pk})
	}

	switch role {
	case ibihop.RoleReader:
		if rt.Listen == "" {
			rt.Listen = fmt.Sprintf(":%d", transport.DefaultReaderPort)
		}
	case ibihop.RoleTag:
		if rt.Listen == "" {
			rt.Listen = fmt.Sprintf(":%d", transport.DefaultTagPort)
		}
		peer := c.Peer
		if peer == "" {
			peer = fmt.Sprintf("127.0.0.1:%d", transport.DefaultReaderPort)
		}
		addr, err := net.ResolveUDPAddr("udp", peer)
		if err != nil {
			return nil, fmt.Errorf("%w: peer address: %v", ErrInvalidConfig, err)
		}
		rt.Peer = addr
	}
	return rt, nil
}

func (c *Config) loggingLevel() (logging.LogLevel, error) {
	switch strings.ToLower(c.LogLevel) {
	case "disabled", "off":
		return logging.LogLevelDisabled, nil
	case "error":
		return logging.LogLevelError, nil
	case "warn", "warning":
		return logging.LogLevelWarn, nil
	case "", "info":
		return logging.LogLevelInfo, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	}
	return 0, fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, c.LogLevel)
}

// NewLoggerFactory returns a logger factory writing to w at the configured
// level.
func (c *Config) NewLoggerFactory(w io.Writer) (logging.LoggerFactory, error) {
	level, err := c.loggingLevel()
	if err != nil {
		return nil, err
	}
	return &logging.DefaultLoggerFactory{
		Writer:          w,
		DefaultLogLevel: level,
		ScopeLevels:     make(map[string]logging.LogLevel),
	}, nil
}
