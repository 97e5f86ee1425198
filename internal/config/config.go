// Package config loads the facilitator service configuration from TOML.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// Defaults applied to absent fields.
const (
	DefaultHost               = "0.0.0.0"
	DefaultPort               = 4021
	DefaultTimeoutSeconds     = 30
	DefaultReceiptTimeoutSecs = 30
)

// Config is the facilitator service configuration.
type Config struct {
	Host                     string                 `toml:"host"`
	Port                     int                    `toml:"port"`
	DeployERC4337WithEIP6492 bool                   `toml:"deploy_erc4337_with_eip6492"`
	Chains                   map[string]ChainConfig `toml:"chains"`
}

// ChainConfig configures one chain, keyed by CAIP-2 identifier.
type ChainConfig struct {
	RPCURL             string   `toml:"rpc_url"`
	FallbackRPCURLs    []string `toml:"fallback_rpc_urls"`
	SignerPrivateKeys  []string `toml:"signer_private_keys"`
	TimeoutSeconds     int      `toml:"timeout_seconds"`
	HealthCheck        bool     `toml:"health_check"`
	EIP1559            bool     `toml:"eip1559"`
	Flashblocks        bool     `toml:"flashblocks"`
	ReceiptTimeoutSecs int      `toml:"receipt_timeout_secs"`
}

// envPlaceholder matches $VAR and ${VAR} references in string values.
var envPlaceholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// Load reads, expands and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes TOML bytes into a validated Config. Every string value gets
// $VAR / ${VAR} expansion from the process environment; unresolved
// placeholders stay literal. HOST and PORT env vars override the top-level
// fields.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.expandEnv()
	config.applyOverrides()
	config.applyDefaults()

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) expandEnv() {
	c.Host = ExpandEnv(c.Host)
	for name, chain := range c.Chains {
		chain.RPCURL = ExpandEnv(chain.RPCURL)
		for i, url := range chain.FallbackRPCURLs {
			chain.FallbackRPCURLs[i] = ExpandEnv(url)
		}
		for i, key := range chain.SignerPrivateKeys {
			chain.SignerPrivateKeys[i] = ExpandEnv(key)
		}
		c.Chains[name] = chain
	}
}

func (c *Config) applyOverrides() {
	if host := os.Getenv("HOST"); host != "" {
		c.Host = host
	}
	if port := os.Getenv("PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			c.Port = parsed
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	for name, chain := range c.Chains {
		if chain.TimeoutSeconds == 0 {
			chain.TimeoutSeconds = DefaultTimeoutSeconds
		}
		if chain.ReceiptTimeoutSecs == 0 {
			chain.ReceiptTimeoutSecs = DefaultReceiptTimeoutSecs
		}
		c.Chains[name] = chain
	}
}

func (c *Config) validate() error {
	for name, chain := range c.Chains {
		if chain.RPCURL == "" {
			return fmt.Errorf("chain %s: rpc_url is required", name)
		}
		if len(chain.SignerPrivateKeys) == 0 {
			return fmt.Errorf("chain %s: at least one signer private key is required", name)
		}
	}
	return nil
}

// ExpandEnv substitutes $VAR and ${VAR} from the process environment,
// leaving placeholders for unset variables literal.
func ExpandEnv(value string) string {
	return envPlaceholder.ReplaceAllStringFunc(value, func(match string) string {
		groups := envPlaceholder.FindStringSubmatch(match)
		name := groups[1]
		if name == "" {
			name = groups[2]
		}
		if resolved, ok := os.LookupEnv(name); ok {
			return resolved
		}
		return match
	})
}

// Addr returns the host:port bind address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
