// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/resonance/keepalive"
	"github.com/bureau-foundation/resonance/lib/codec"
	"github.com/bureau-foundation/resonance/lib/compress"
	"github.com/bureau-foundation/resonance/transporter"
)

// EnvVar names the environment variable [Load] reads the file path
// from.
const EnvVar = "RESONANCE_CONFIG"

// Format is a configuration file syntax.
type Format string

const (
	YAML  Format = "yaml"
	JSONC Format = "jsonc"
)

// FormatForPath picks the format from a file extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML, nil
	case ".json", ".jsonc":
		return JSONC, nil
	default:
		return "", fmt.Errorf("%s: unknown config extension (want .yaml, .yml, .json or .jsonc)", path)
	}
}

// File is the configuration of one Resonance endpoint.
type File struct {
	// Name identifies the endpoint in logs.
	Name string `yaml:"name" json:"name"`

	Endpoint EndpointConfig `yaml:"endpoint" json:"endpoint"`

	// Codec is "cbor" or "json".
	Codec string `yaml:"codec" json:"codec"`

	// RequestTimeout is the default bound on a request.
	RequestTimeout Duration `yaml:"request_timeout" json:"request_timeout"`

	// LoggingMode is "none", "title" or "content"; empty logs nothing.
	LoggingMode string `yaml:"logging_mode" json:"logging_mode"`

	// MessageAck is "after_handler" (default) or "on_receipt".
	MessageAck string `yaml:"message_ack" json:"message_ack"`

	KeepAlive   KeepAliveConfig   `yaml:"keepalive" json:"keepalive"`
	Encryption  EncryptionConfig  `yaml:"encryption" json:"encryption"`
	Compression CompressionConfig `yaml:"compression" json:"compression"`
	Handshake   HandshakeConfig   `yaml:"handshake" json:"handshake"`
	Log         LogConfig         `yaml:"log" json:"log"`
}

// EndpointConfig says where to listen or dial.
type EndpointConfig struct {
	// Network is "tcp", "unix" or "udp".
	Network string `yaml:"network" json:"network"`

	// Address is host:port for tcp and udp, a socket path for unix.
	Address string `yaml:"address" json:"address"`

	// Local is the address a udp client binds. Empty picks an
	// ephemeral port.
	Local string `yaml:"local" json:"local"`

	// ReusePort sets SO_REUSEPORT on listening sockets.
	ReusePort bool `yaml:"reuse_port" json:"reuse_port"`

	// DialTimeout bounds dialing a stream endpoint.
	DialTimeout Duration `yaml:"dial_timeout" json:"dial_timeout"`
}

type KeepAliveConfig struct {
	Enabled                  bool     `yaml:"enabled" json:"enabled"`
	Delay                    Duration `yaml:"delay" json:"delay"`
	Interval                 Duration `yaml:"interval" json:"interval"`
	Timeout                  Duration `yaml:"timeout" json:"timeout"`
	Retries                  int      `yaml:"retries" json:"retries"`
	FailTransporterOnTimeout bool     `yaml:"fail_transporter_on_timeout" json:"fail_transporter_on_timeout"`
	DisableAutoResponse      bool     `yaml:"disable_auto_response" json:"disable_auto_response"`
}

type EncryptionConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

type CompressionConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Algorithm is "lz4", "zstd" or "gzip".
	Algorithm string `yaml:"algorithm" json:"algorithm"`

	// MinSize is the smallest envelope worth compressing, in bytes.
	MinSize int `yaml:"min_size" json:"min_size"`
}

type HandshakeConfig struct {
	Disabled bool     `yaml:"disabled" json:"disabled"`
	Timeout  Duration `yaml:"timeout" json:"timeout"`
}

// LogConfig selects the process log output.
type LogConfig struct {
	// Level is a slog level name: "debug", "info", "warn" or "error".
	Level string `yaml:"level" json:"level"`

	// Format is "text", "json", or "auto" for text on a terminal and
	// JSON otherwise.
	Format string `yaml:"format" json:"format"`
}

// Default returns the configuration used for every field the file
// leaves out.
func Default() *File {
	return &File{
		Endpoint: EndpointConfig{
			Network: "tcp",
			Address: "127.0.0.1:7400",
		},
		Codec:          codec.CBOR.Name(),
		RequestTimeout: Duration(transporter.DefaultRequestTimeout),
		KeepAlive: KeepAliveConfig{
			Interval: Duration(keepalive.DefaultInterval),
			Timeout:  Duration(keepalive.DefaultTimeout),
			Retries:  keepalive.DefaultRetries,
		},
		Compression: CompressionConfig{
			Algorithm: compress.LZ4.String(),
			MinSize:   transporter.DefaultCompressionMinSize,
		},
		Log: LogConfig{Level: "info", Format: "auto"},
	}
}

// Load loads the file named by RESONANCE_CONFIG. It fails when the
// variable is not set.
func Load() (*File, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your config file, or use --config flag", EnvVar)
	}
	return LoadFile(path)
}

// LoadFile loads and validates the configuration at path.
func LoadFile(path string) (*File, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	f, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes data over [Default], expands variables in the address
// and validates the result.
func Parse(data []byte, format Format) (*File, error) {
	f := Default()
	switch format {
	case YAML:
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(f); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsing YAML: %w", err)
		}
	case JSONC:
		decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(f); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsing JSONC: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown config format %q", format)
	}

	f.Endpoint.Address = expandVars(f.Endpoint.Address)
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} from the environment.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate reports every problem in f at once.
func (f *File) Validate() error {
	var errs []error

	switch f.Endpoint.Network {
	case "tcp", "unix", "udp":
	default:
		errs = append(errs, fmt.Errorf("endpoint.network must be tcp, unix or udp, got %q", f.Endpoint.Network))
	}
	if f.Endpoint.Address == "" {
		errs = append(errs, errors.New("endpoint.address is required"))
	}
	if f.Endpoint.Local != "" && f.Endpoint.Network != "udp" {
		errs = append(errs, errors.New("endpoint.local only applies to udp"))
	}
	if f.Endpoint.ReusePort && f.Endpoint.Network == "unix" {
		errs = append(errs, errors.New("endpoint.reuse_port does not apply to unix sockets"))
	}
	if f.Endpoint.DialTimeout < 0 {
		errs = append(errs, errors.New("endpoint.dial_timeout must not be negative"))
	}
	if _, err := codec.ByName(f.Codec); err != nil {
		errs = append(errs, err)
	}
	if f.RequestTimeout < 0 {
		errs = append(errs, errors.New("request_timeout must not be negative"))
	}
	if _, err := parseLoggingMode(f.LoggingMode); err != nil {
		errs = append(errs, err)
	}
	if _, err := parseMessageAck(f.MessageAck); err != nil {
		errs = append(errs, err)
	}
	if f.Compression.Enabled {
		if _, err := compress.Parse(f.Compression.Algorithm); err != nil {
			errs = append(errs, err)
		}
	}
	if f.Encryption.Enabled && f.Handshake.Disabled {
		errs = append(errs, errors.New("encryption.enabled requires the handshake"))
	}
	if err := f.keepAlive().Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := f.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch f.Log.Format {
	case "", "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be auto, text or json, got %q", f.Log.Format))
	}

	return errors.Join(errs...)
}

// LogLevel parses Log.Level.
func (f *File) LogLevel() (slog.Level, error) {
	var level slog.Level
	if f.Log.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(f.Log.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

func parseLoggingMode(name string) (transporter.LoggingMode, error) {
	switch name {
	case "":
		return transporter.LoggingDefault, nil
	case "none":
		return transporter.LoggingNone, nil
	case "title":
		return transporter.LoggingTitle, nil
	case "content":
		return transporter.LoggingContent, nil
	default:
		return transporter.LoggingDefault, fmt.Errorf("logging_mode must be none, title or content, got %q", name)
	}
}

func parseMessageAck(name string) (transporter.MessageAckBehavior, error) {
	switch name {
	case "", "after_handler":
		return transporter.AckAfterHandler, nil
	case "on_receipt":
		return transporter.AckOnReceipt, nil
	default:
		return transporter.AckAfterHandler, fmt.Errorf("message_ack must be after_handler or on_receipt, got %q", name)
	}
}

func (f *File) keepAlive() keepalive.Config {
	return keepalive.Config{
		Enabled:                  f.KeepAlive.Enabled,
		Delay:                    f.KeepAlive.Delay.Std(),
		Interval:                 f.KeepAlive.Interval.Std(),
		Timeout:                  f.KeepAlive.Timeout.Std(),
		Retries:                  f.KeepAlive.Retries,
		FailTransporterOnTimeout: f.KeepAlive.FailTransporterOnTimeout,
		DisableAutoResponse:      f.KeepAlive.DisableAutoResponse,
	}
}

// TransporterConfig maps f onto a validated transporter.Config that
// logs to logger.
func (f *File) TransporterConfig(logger *slog.Logger) (transporter.Config, error) {
	if err := f.Validate(); err != nil {
		return transporter.Config{}, err
	}
	payloadCodec, _ := codec.ByName(f.Codec)
	mode, _ := parseLoggingMode(f.LoggingMode)
	ack, _ := parseMessageAck(f.MessageAck)

	config := transporter.Config{
		Name:                  f.Name,
		Logger:                logger,
		Codec:                 payloadCodec,
		DefaultRequestTimeout: f.RequestTimeout.Std(),
		LoggingMode:           mode,
		MessageAck:            ack,
		KeepAlive:             f.keepAlive(),
		Cryptography:          transporter.CryptographyConfiguration{Enabled: f.Encryption.Enabled},
		Handshake: transporter.HandshakeConfiguration{
			Disabled: f.Handshake.Disabled,
			Timeout:  f.Handshake.Timeout.Std(),
		},
	}
	if f.Compression.Enabled {
		algorithm, _ := compress.Parse(f.Compression.Algorithm)
		config.Compression = transporter.CompressionConfiguration{
			Enabled:   algorithm != compress.None,
			Algorithm: algorithm,
			MinSize:   f.Compression.MinSize,
		}
	}
	if err := config.Validate(); err != nil {
		return transporter.Config{}, err
	}
	return config, nil
}
