// Package config handles loading application configuration from a YAML file
// with environment variable overrides.
//
// Config file format (tinyopds.yaml):
//
//	library_path: "./books"
//	server_port: 8080
//	interface_ip: "0.0.0.0"
//	use_http_auth: true
//	remember_clients: true
//	ban_clients: true
//	wrong_attempts_count: 3
//	credentials: "reader:s3cr3t"
//	language: "ru"
//	root_prefix: ""
//	convertor_path: "./converters"
//	watch_library: true
//	page_size: 100
//
// Configuration sources, in increasing priority order:
//  1. Built-in defaults
//  2. YAML config file (located by FindConfigFile or explicit path)
//  3. Environment variables (TINYOPDS_LIBRARY_PATH, TINYOPDS_SERVER_PORT, …)
package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// LibraryPath is the root directory of the book library.
	LibraryPath string `yaml:"library_path"`

	// ServerPort is the TCP port the OPDS server listens on.
	ServerPort int `yaml:"server_port"`

	// InterfaceIP is the local address the listener binds to. Empty binds
	// all interfaces.
	InterfaceIP string `yaml:"interface_ip"`

	// UseHTTPAuth enables the Basic-auth gate on every request.
	UseHTTPAuth bool `yaml:"use_http_auth"`

	// RememberClients enables the per-client fingerprint allowlist so a
	// successfully authenticated reader is not re-prompted on every request.
	RememberClients bool `yaml:"remember_clients"`

	// BanClients enables per-IP banning after WrongAttemptsCount consecutive
	// failed logins.
	BanClients bool `yaml:"ban_clients"`

	// WrongAttemptsCount is the number of failed logins from one IP before
	// it is banned (403 without consulting credentials).
	WrongAttemptsCount int `yaml:"wrong_attempts_count"`

	// CredentialsEncrypted is the AES-encrypted, hex-encoded form of
	// Credentials as persisted to the config file. Populated by Load and
	// recomputed by Save.
	CredentialsEncrypted string `yaml:"credentials"`

	// Credentials is the decrypted "user:pass[;user:pass]…" form, parsed
	// into Pairs by Load. Not marshalled directly.
	Credentials string `yaml:"-"`

	// Pairs is the parsed (user, password) list. Not marshalled directly.
	Pairs []Credential `yaml:"-"`

	// Language affects genre-name localization and enumeration ordering
	// (Russian collation vs. default).
	Language string `yaml:"language"`

	// RootPrefix is a URL prefix stripped from every incoming request path
	// before routing.
	RootPrefix string `yaml:"root_prefix"`

	// ConvertorPath is the directory containing the external FB2-to-EPUB
	// converter binary. Empty disables on-the-fly conversion.
	ConvertorPath string `yaml:"convertor_path"`

	// WatchLibrary enables the filesystem watcher for incremental
	// add/remove of library files after startup.
	WatchLibrary bool `yaml:"watch_library"`

	// PageSize bounds how many entries an author/sequence/genre/search
	// result page holds before paginating.
	PageSize int `yaml:"page_size"`
}

// Credential is one accepted (user, password) pair.
type Credential struct {
	User     string
	Password string
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		LibraryPath:        "./books",
		ServerPort:         8080,
		InterfaceIP:        "",
		UseHTTPAuth:        false,
		RememberClients:    true,
		BanClients:         true,
		WrongAttemptsCount: 3,
		Language:           "en",
		RootPrefix:         "",
		WatchLibrary:       true,
		PageSize:           100,
	}
}

// Load reads configuration from the YAML file at path (if non-empty), then
// applies environment variable overrides on top. Returns the merged Config.
// If path is empty, only defaults and environment variables are applied.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.CredentialsEncrypted != "" {
		plain, err := decryptCredentials(cfg.CredentialsEncrypted)
		if err != nil {
			return cfg, fmt.Errorf("decrypt credentials: %w", err)
		}
		cfg.Credentials = plain
	}
	cfg.Pairs = parseCredentials(cfg.Credentials)

	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TINYOPDS_LIBRARY_PATH"); v != "" {
		cfg.LibraryPath = v
	}
	if v := os.Getenv("TINYOPDS_SERVER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ServerPort = n
		}
	}
	if v := os.Getenv("TINYOPDS_INTERFACE_IP"); v != "" {
		cfg.InterfaceIP = v
	}
	if v := os.Getenv("TINYOPDS_USE_HTTP_AUTH"); v != "" {
		cfg.UseHTTPAuth = parseBool(v, cfg.UseHTTPAuth)
	}
	if v := os.Getenv("TINYOPDS_REMEMBER_CLIENTS"); v != "" {
		cfg.RememberClients = parseBool(v, cfg.RememberClients)
	}
	if v := os.Getenv("TINYOPDS_BAN_CLIENTS"); v != "" {
		cfg.BanClients = parseBool(v, cfg.BanClients)
	}
	if v := os.Getenv("TINYOPDS_WRONG_ATTEMPTS_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WrongAttemptsCount = n
		}
	}
	if v := os.Getenv("TINYOPDS_CREDENTIALS"); v != "" {
		cfg.Credentials = v
	}
	if v := os.Getenv("TINYOPDS_LANGUAGE"); v != "" {
		cfg.Language = v
	}
	if v := os.Getenv("TINYOPDS_ROOT_PREFIX"); v != "" {
		cfg.RootPrefix = v
	}
	if v := os.Getenv("TINYOPDS_CONVERTOR_PATH"); v != "" {
		cfg.ConvertorPath = v
	}
	if v := os.Getenv("TINYOPDS_WATCH_LIBRARY"); v != "" {
		cfg.WatchLibrary = parseBool(v, cfg.WatchLibrary)
	}
	if v := os.Getenv("TINYOPDS_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PageSize = n
		}
	}
}

func parseBool(v string, fallback bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// parseCredentials splits a "user:pass[;user:pass]…" string into pairs,
// skipping malformed entries.
func parseCredentials(s string) []Credential {
	var out []Credential
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			continue
		}
		out = append(out, Credential{User: parts[0], Password: parts[1]})
	}
	return out
}

// credentialsKey derives a stable AES-256 key so the config file can be
// decrypted without a separately managed secret. This guards against casual
// disclosure (accidental file sharing, backups) rather than a
// determined attacker with file access; it is not a substitute for
// restricting filesystem permissions on the config file.
var credentialsKey = sha256.Sum256([]byte("tinyopds-credentials-key"))

// EncryptCredentials encrypts plain (the "user:pass;…" string) with
// AES-256-GCM and returns it hex-encoded, suitable for storage in
// Config.CredentialsEncrypted / the config file's credentials key.
func EncryptCredentials(plain string) (string, error) {
	block, err := aes.NewCipher(credentialsKey[:])
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plain), nil)
	return hex.EncodeToString(sealed), nil
}

func decryptCredentials(encoded string) (string, error) {
	sealed, err := hex.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("invalid hex: %w", err)
	}
	block, err := aes.NewCipher(credentialsKey[:])
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, cipherText := sealed[:nonceSize], sealed[nonceSize:]
	plain, err := gcm.Open(nil, nonce, cipherText, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// Save writes cfg to path as YAML, encrypting Credentials into
// CredentialsEncrypted first.
func Save(cfg Config, path string) error {
	if cfg.Credentials != "" {
		enc, err := EncryptCredentials(cfg.Credentials)
		if err != nil {
			return fmt.Errorf("encrypt credentials: %w", err)
		}
		cfg.CredentialsEncrypted = enc
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %q: %w", path, err)
	}
	return nil
}

// FindConfigFile returns the path to the first config file found in the
// standard search order, or "" if none is found.
//
// Search order:
//  1. TINYOPDS_CONFIG environment variable (explicit override)
//  2. ./tinyopds.yaml (current working directory)
//  3. ~/.config/tinyopds/config.yaml (XDG user config)
func FindConfigFile() string {
	if p := os.Getenv("TINYOPDS_CONFIG"); p != "" {
		return p
	}

	if _, err := os.Stat("tinyopds.yaml"); err == nil {
		return "tinyopds.yaml"
	}

	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".config", "tinyopds", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
