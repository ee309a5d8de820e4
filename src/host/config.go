package host

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultMaxQueryStackSize uint32 = 10
	DefaultQueryGasLimit     uint64 = 3_000_000
	DefaultQuerySetupGas     uint64 = 60_000
	DefaultQueryGasPerByte   uint64 = 1
	DefaultQueryTimeout             = 5 * time.Second
	DefaultListenAddress            = "localhost:4100"
)

// Duration wraps time.Duration so it reads from TOML strings like "250ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config controls the query guards and where instance metadata lives.
// A zero value for a guard disables it.
type Config struct {
	MaxQueryStackSize uint32   `toml:"max_query_stack_size"` // nested smart queries allowed per chain
	QueryGasLimit     uint64   `toml:"query_gas_limit"`      // gas budget shared by a whole chain
	QuerySetupGas     uint64   `toml:"query_setup_gas"`      // charged on every smart query
	QueryGasPerByte   uint64   `toml:"query_gas_per_byte"`   // charged per request byte
	QueryTimeout      Duration `toml:"query_timeout"`        // wall clock budget of a whole chain
	StorageDir        string   `toml:"storage_dir"`          // empty keeps metadata in memory only
	ListenAddress     string   `toml:"listen_address"`
}

// DefaultConfig returns a Config with every guard enabled and no storage dir.
func DefaultConfig() Config {
	return Config{
		MaxQueryStackSize: DefaultMaxQueryStackSize,
		QueryGasLimit:     DefaultQueryGasLimit,
		QuerySetupGas:     DefaultQuerySetupGas,
		QueryGasPerByte:   DefaultQueryGasPerByte,
		QueryTimeout:      Duration{DefaultQueryTimeout},
		ListenAddress:     DefaultListenAddress,
	}
}

// LoadConfig decodes path over DefaultConfig, so a file only needs the keys it changes.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("%w: unknown keys in %s: %v", ErrInvalidConfig, path, undecoded)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate refuses a host that could not stop a self-referential query chain.
func (c Config) Validate() error {
	if c.QueryTimeout.Duration < 0 {
		return fmt.Errorf("%w: negative query_timeout %s", ErrInvalidConfig, c.QueryTimeout)
	}
	if c.MaxQueryStackSize == 0 && c.QueryGasLimit == 0 && c.QueryTimeout.Duration <= 0 {
		return fmt.Errorf("%w: at least one of max_query_stack_size, query_gas_limit or query_timeout must be set", ErrInvalidConfig)
	}
	if c.QueryGasLimit > 0 && c.QuerySetupGas == 0 && c.QueryGasPerByte == 0 {
		return fmt.Errorf("%w: query_gas_limit is set but queries cost no gas", ErrInvalidConfig)
	}
	return nil
}
