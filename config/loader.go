package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// envKeys lists the keys that can be overridden through SESSIONSTORE_*
// environment variables, e.g. SESSIONSTORE_REDIS_ADDR for redis.addr.
var envKeys = []string{
	"driver",
	"collection",
	"index",
	"credential",
	"timeout",
	"log_level",
	"redis.addr",
	"redis.db",
	"redis.key_prefix",
	"mongo.uri",
	"mongo.database",
	"mongo.username",
	"qdrant.url",
	"supabase.url",
	"supabase.cache_ttl",
}

// NewViper returns a viper instance reading configFile, or sessionstore.yaml
// from the working directory or ~/.sessionstore when configFile is empty.
func NewViper(configFile string) *viper.Viper {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		v.SetConfigFile(found)
	} else {
		// ReadInConfig then reports ConfigFileNotFoundError.
		v.SetConfigName("sessionstore")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("SESSIONSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
	return v
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	for _, dir := range []string{".", filepath.Join(home, ".sessionstore")} {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "sessionstore"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// Load reads the configuration file, applies environment overrides,
// sets defaults, and validates the result. A missing config file is not an
// error when configFile is empty.
func Load(configFile string) (*Settings, error) {
	return LoadFrom(NewViper(configFile))
}

// LoadFrom is Load over a prepared viper instance.
func LoadFrom(v *viper.Viper) (*Settings, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	s.SetDefaults()

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &s, nil
}
