package registry

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Protocol selects the transport adapter for a target repository.
type Protocol string

const (
	ProtocolFTP        Protocol = "ftp"
	ProtocolSword      Protocol = "SWORDv2"
	ProtocolFilesystem Protocol = "filesystem"
)

// Archive and Compression select the package container format.
type Archive string

const (
	ArchiveNone Archive = "none"
	ArchiveTar  Archive = "tar"
	ArchiveZip  Archive = "zip"
)

type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZip  Compression = "zip"
)

// Algorithm names a checksum algorithm computed during assembly.
type Algorithm string

const (
	MD5    Algorithm = "MD5"
	SHA256 Algorithm = "SHA-256"
	SHA512 Algorithm = "SHA-512"
)

// Duration decodes YAML scalars like "30s" or "2m" into a time.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// ConfigError reports a missing or malformed configuration value.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %q: %s", e.Key, e.Reason)
}

// Config is the full engine configuration decoded from one YAML file.
type Config struct {
	AgentName       string                       `yaml:"agent-name"`
	Workers         int                          `yaml:"workers"`
	RefreshInterval Duration                     `yaml:"refresh-interval"`
	ShutdownWait    Duration                     `yaml:"shutdown-wait"`
	MetricsAddr     string                       `yaml:"metrics-addr"`
	Broker          BrokerConfig                 `yaml:"broker"`
	SourceRepo      SourceRepoConfig             `yaml:"source-repository"`
	Repositories    map[string]*RepositoryConfig `yaml:"repositories"`
}

// BrokerConfig points at the STOMP broker carrying repository events.
type BrokerConfig struct {
	Address  string `yaml:"address"`
	Queue    string `yaml:"queue"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// SourceRepoConfig points at the source-of-truth repository.
type SourceRepoConfig struct {
	BaseURL  string `yaml:"base-url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// RepositoryConfig is the typed section for one target repository.
type RepositoryConfig struct {
	Key       string          `yaml:"-"`
	Transport TransportConfig `yaml:"transport-config"`
	Assembler AssemblerConfig `yaml:"assembler"`
	Deposit   DepositConfig   `yaml:"repository-depositconfig"`
}

// TransportConfig carries the protocol selection, credentials and the
// protocol-specific settings block.
type TransportConfig struct {
	Protocol   Protocol          `yaml:"protocol"`
	AuthRealms []AuthRealm       `yaml:"auth-realms"`
	Server     string            `yaml:"server-fqdn"`
	Port       int               `yaml:"server-port"`
	FTP        *FTPConfig        `yaml:"ftp"`
	Sword      *SwordConfig      `yaml:"swordv2"`
	Filesystem *FilesystemConfig `yaml:"filesystem"`
}

// AuthRealm is the discriminated union of authentication realms. Only the
// basic mech is known; unknown mech values fail the load.
type AuthRealm struct {
	Mech     string `yaml:"mech"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	BaseURL  string `yaml:"url"`
}

// UnmarshalYAML enforces the mech discriminator at decode time.
func (r *AuthRealm) UnmarshalYAML(value *yaml.Node) error {
	type plain AuthRealm
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	if p.Mech != "basic" {
		return fmt.Errorf("unknown auth realm mech %q (only \"basic\" is supported)", p.Mech)
	}
	*r = AuthRealm(p)
	return nil
}

// FTPConfig holds FTP-specific transport settings.
type FTPConfig struct {
	// TransferMode is one of stream, block, compressed.
	TransferMode string `yaml:"transfer-mode"`
	// DataType is ascii or binary.
	DataType string `yaml:"data-type"`
	UsePasv  bool   `yaml:"use-pasv"`
	// BaseDirectory may contain a single %s placeholder substituted with
	// the UTC date in ISO form when a session opens.
	BaseDirectory string `yaml:"base-directory"`
}

// CollectionHint routes deposits carrying a matching tag to a collection.
type CollectionHint struct {
	Tag string `yaml:"tag"`
	URL string `yaml:"url"`
}

// SwordConfig holds SWORDv2-specific transport settings.
type SwordConfig struct {
	ServiceDocURL        string           `yaml:"service-doc-url"`
	DefaultCollectionURL string           `yaml:"default-collection-url"`
	OnBehalfOf           string           `yaml:"on-behalf-of"`
	CollectionHints      []CollectionHint `yaml:"collection-hints"`
	FollowRedirects      bool             `yaml:"follow-redirects"`
}

// FilesystemConfig holds filesystem transport settings.
type FilesystemConfig struct {
	BaseDirectory string `yaml:"base-directory"`
	Overwrite     bool   `yaml:"overwrite"`
}

// AssemblerConfig selects the packaging profile and its encoder options.
type AssemblerConfig struct {
	Options AssemblerOptions `yaml:"options"`
}

type AssemblerOptions struct {
	Spec        string      `yaml:"spec"`
	Archive     Archive     `yaml:"archive"`
	Compression Compression `yaml:"compression"`
	Algorithms  []Algorithm `yaml:"algorithms"`
}

// DepositConfig carries deposit-processing settings, notably the status
// mapping consulted by the refresh loop. The mapping is keyed per probe
// source; within a source, the wildcard "*" is the default.
type DepositConfig struct {
	Processing struct {
		StatusMapping map[string]map[string]string `yaml:"status-mapping"`
	} `yaml:"deposit-processing"`
}

// Registry is the immutable, keyed view of the loaded configuration.
type Registry struct {
	cfg *Config
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes and validates raw YAML configuration bytes.
func Parse(raw []byte) (*Registry, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Registry{cfg: &cfg}, nil
}

func (c *Config) applyDefaults() error {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = Duration(30 * time.Second)
	}
	if c.ShutdownWait <= 0 {
		c.ShutdownWait = Duration(10 * time.Second)
	}
	if c.AgentName == "" {
		c.AgentName = "depositd"
	}
	for key, rc := range c.Repositories {
		if rc == nil {
			return &ConfigError{Key: key, Reason: "empty repository section"}
		}
		rc.Key = key
		if len(rc.Assembler.Options.Algorithms) == 0 {
			rc.Assembler.Options.Algorithms = []Algorithm{MD5, SHA512}
		}
	}
	return nil
}

func (c *Config) validate() error {
	for key, rc := range c.Repositories {
		t := &rc.Transport
		switch t.Protocol {
		case ProtocolFTP:
			if t.FTP == nil {
				return &ConfigError{Key: key, Reason: "ftp settings missing for ftp protocol"}
			}
			if t.Server == "" {
				return &ConfigError{Key: key, Reason: "server-fqdn is required for ftp"}
			}
		case ProtocolSword:
			if t.Sword == nil {
				return &ConfigError{Key: key, Reason: "swordv2 settings missing for SWORDv2 protocol"}
			}
			if t.Sword.ServiceDocURL == "" {
				return &ConfigError{Key: key, Reason: "service-doc-url is required for SWORDv2"}
			}
			if t.Sword.DefaultCollectionURL == "" {
				return &ConfigError{Key: key, Reason: "default-collection-url is required for SWORDv2"}
			}
		case ProtocolFilesystem:
			if t.Filesystem == nil || t.Filesystem.BaseDirectory == "" {
				return &ConfigError{Key: key, Reason: "filesystem base-directory is required"}
			}
		default:
			return &ConfigError{Key: key, Reason: fmt.Sprintf("unknown transport protocol %q", t.Protocol)}
		}

		o := &rc.Assembler.Options
		if o.Spec == "" {
			return &ConfigError{Key: key, Reason: "assembler spec is required"}
		}
		switch o.Archive {
		case ArchiveNone, ArchiveTar, ArchiveZip:
		default:
			return &ConfigError{Key: key, Reason: fmt.Sprintf("unknown archive format %q", o.Archive)}
		}
		switch o.Compression {
		case CompressionNone, CompressionGzip, CompressionZip:
		default:
			return &ConfigError{Key: key, Reason: fmt.Sprintf("unknown compression %q", o.Compression)}
		}
		for _, a := range o.Algorithms {
			switch a {
			case MD5, SHA256, SHA512:
			default:
				return &ConfigError{Key: key, Reason: fmt.Sprintf("unknown checksum algorithm %q", a)}
			}
		}
	}
	return nil
}

// AgentName returns the configured self-agent name used by the event filter.
func (r *Registry) AgentName() string { return r.cfg.AgentName }

// Workers returns the worker pool size.
func (r *Registry) Workers() int { return r.cfg.Workers }

// RefreshInterval returns the refresh loop period.
func (r *Registry) RefreshInterval() time.Duration { return time.Duration(r.cfg.RefreshInterval) }

// ShutdownWait returns the bounded drain wait applied at shutdown.
func (r *Registry) ShutdownWait() time.Duration { return time.Duration(r.cfg.ShutdownWait) }

// MetricsAddr returns the listen address for the metrics endpoint, or "".
func (r *Registry) MetricsAddr() string { return r.cfg.MetricsAddr }

// Broker returns the event broker settings.
func (r *Registry) Broker() BrokerConfig { return r.cfg.Broker }

// SourceRepo returns the source-of-truth repository settings.
func (r *Registry) SourceRepo() SourceRepoConfig { return r.cfg.SourceRepo }

// Get returns the configuration for the repository with the given logical
// key, or a ConfigError if no section exists.
func (r *Registry) Get(key string) (*RepositoryConfig, error) {
	rc, ok := r.cfg.Repositories[key]
	if !ok {
		return nil, &ConfigError{Key: key, Reason: "no repository section configured"}
	}
	return rc, nil
}

// Keys returns the configured repository keys.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.cfg.Repositories))
	for k := range r.cfg.Repositories {
		keys = append(keys, k)
	}
	return keys
}

// BasicRealm returns the first basic auth realm, if any.
func (t *TransportConfig) BasicRealm() (AuthRealm, bool) {
	for _, realm := range t.AuthRealms {
		if realm.Mech == "basic" {
			return realm, true
		}
	}
	return AuthRealm{}, false
}
