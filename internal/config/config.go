// Package config handles application configuration and command-line argument parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/joe/remotefs/pkg/filesystem"
	"github.com/joe/remotefs/pkg/pool"
	"github.com/joe/remotefs/pkg/session"
)

// Defaults applied by PostProcessConfig.
const (
	DefaultMinSessions    = 1
	DefaultCoreSessions   = 4
	DefaultMaxSessions    = 8
	DefaultConnectTimeout = 30 * time.Second
	DefaultMaxIdle        = 60 * time.Second
	DefaultCacheTTL       = filesystem.DefaultCacheTTL
	DefaultLogLevel       = "warn"
	DefaultLogFormat      = "text"
)

// Exported variables.
var (
	ErrMissingURL        = errors.New("a remote URL is required (--url or url: in the config file)")
	ErrMissingSubcommand = errors.New("a subcommand is required")
)

// Config holds the application configuration. Every connection setting can
// come from a flag or from the YAML file named by --config; flags win.
//
//nolint:lll // Struct tags carry the flag help text
type Config struct {
	ConfigFile string `arg:"-c,--config" help:"YAML configuration file" yaml:"-"`

	URL           string `arg:"-u,--url,env:REMOTEFS_URL" help:"remote URL: sftp://user@host[:port]/dir, ftp://, ftps:// (implicit TLS) or ftpes:// (explicit TLS)" yaml:"url"`
	Password      string `arg:"--password,env:REMOTEFS_PASSWORD" help:"password, overriding the one in the URL" yaml:"password"`
	KeyFile       string `arg:"-i,--key-file" help:"SSH private key file" yaml:"key-file"`
	KeyPassphrase string `arg:"--key-passphrase,env:REMOTEFS_KEY_PASSPHRASE" help:"passphrase for --key-file" yaml:"key-passphrase"`
	UseAgent      bool   `arg:"--agent" help:"use keys from the SSH agent" yaml:"agent"`
	KnownHosts    string `arg:"--known-hosts" help:"known_hosts file used to verify SFTP host keys" yaml:"known-hosts"`
	Insecure      bool   `arg:"--insecure" help:"skip host key and certificate verification" yaml:"insecure"`
	TLSReuse      bool   `arg:"--tls-session-reuse" help:"reuse the control connection TLS session on FTPS data connections" yaml:"tls-session-reuse"`

	Proxy         string `arg:"--proxy,env:REMOTEFS_PROXY" help:"proxy URL: http://host:port or socks5://host:port" yaml:"proxy"`
	ProxyUser     string `arg:"--proxy-user" help:"proxy user" yaml:"proxy-user"`
	ProxyPassword string `arg:"--proxy-password,env:REMOTEFS_PROXY_PASSWORD" help:"proxy password" yaml:"proxy-password"`

	DisableEPSV bool   `arg:"--disable-epsv" help:"use PASV instead of EPSV for FTP data connections" yaml:"disable-epsv"`
	DisableMLSD bool   `arg:"--disable-mlsd" help:"use LIST instead of MLSD/MLST" yaml:"disable-mlsd"`
	DisableUTF8 bool   `arg:"--disable-utf8" help:"do not send OPTS UTF8 ON" yaml:"disable-utf8"`
	ASCII       bool   `arg:"--ascii" help:"use ASCII transfer type for FTP" yaml:"ascii"`
	TimeZone    string `arg:"--server-timezone" help:"IANA zone the FTP server reports LIST times in" yaml:"server-timezone"`

	MinSessions    *int          `arg:"--min-sessions" help:"sessions kept open while idle (default 1)" yaml:"min-sessions"`
	CoreSessions   int           `arg:"--core-sessions" help:"sessions kept after release (default 4)" yaml:"core-sessions"`
	MaxSessions    int           `arg:"--max-sessions" help:"maximum concurrent sessions (default 8)" yaml:"max-sessions"`
	ConnectTimeout time.Duration `arg:"--connect-timeout" help:"how long to wait for a session (default 30s)" yaml:"connect-timeout"`
	MaxIdle        time.Duration `arg:"--max-idle" help:"close idle sessions beyond the minimum after this long (default 60s)" yaml:"max-idle"`
	KeepAlive      time.Duration `arg:"--keepalive" help:"keep-alive probe interval (default half the connect timeout)" yaml:"keepalive"`
	CacheTTL       time.Duration `arg:"--cache-ttl" help:"attribute cache lifetime, negative disables (default 5s)" yaml:"cache-ttl"`
	TempDir        string        `arg:"--temp-dir" help:"where file contents are staged" yaml:"temp-dir"`

	Debug       bool   `arg:"-d,--debug" help:"log protocol traffic" yaml:"debug"`
	LogLevel    string `arg:"--log-level" help:"trace, debug, info, warn or error (default warn)" yaml:"log-level"`
	LogFormat   string `arg:"--log-format" help:"text or json" yaml:"log-format"`
	MetricsAddr string `arg:"--metrics-addr" help:"serve Prometheus metrics on this address, e.g. :9090" yaml:"metrics-addr"`
	JSON        bool   `arg:"--json" help:"print results as JSON" yaml:"json"`

	Ls    *LsCmd    `arg:"subcommand:ls" help:"list a directory" yaml:"-"`
	Stat  *StatCmd  `arg:"subcommand:stat" help:"show file attributes" yaml:"-"`
	Mkdir *MkdirCmd `arg:"subcommand:mkdir" help:"create a directory" yaml:"-"`
	Rm    *RmCmd    `arg:"subcommand:rm" help:"delete a file or directory" yaml:"-"`
	Mv    *MvCmd    `arg:"subcommand:mv" help:"rename a file or directory" yaml:"-"`
	Get   *GetCmd   `arg:"subcommand:get" help:"download a file" yaml:"-"`
	Put   *PutCmd   `arg:"subcommand:put" help:"upload a file" yaml:"-"`
	Cat   *CatCmd   `arg:"subcommand:cat" help:"print a file" yaml:"-"`
	Find  *FindCmd  `arg:"subcommand:find" help:"walk a directory tree" yaml:"-"`
	Pool  *PoolCmd  `arg:"subcommand:pool" help:"connect and print pool statistics" yaml:"-"`
}

// LsCmd lists a directory.
type LsCmd struct {
	Path string `arg:"positional" default:"." help:"directory to list"`
	Long bool   `arg:"-l,--long" help:"show size, mode and modification time"`
}

// StatCmd shows attributes of one path.
type StatCmd struct {
	Path string `arg:"positional,required"`
}

// MkdirCmd creates a directory.
type MkdirCmd struct {
	Path    string `arg:"positional,required"`
	Parents bool   `arg:"-p,--parents" help:"create missing parents"`
}

// RmCmd deletes a path.
type RmCmd struct {
	Path      string `arg:"positional,required"`
	Recursive bool   `arg:"-r,--recursive" help:"delete directory contents first"`
}

// MvCmd renames a path.
type MvCmd struct {
	From string `arg:"positional,required"`
	To   string `arg:"positional,required"`
}

// GetCmd downloads a file.
type GetCmd struct {
	Remote string `arg:"positional,required"`
	Local  string `arg:"positional" help:"local destination (default: remote base name)"`
	SHA256 bool   `arg:"--sha256" help:"print the SHA-256 of the transferred bytes"`
}

// PutCmd uploads a file.
type PutCmd struct {
	Local   string `arg:"positional,required"`
	Remote  string `arg:"positional,required"`
	Mode    string `arg:"--mode" default:"overwrite" help:"overwrite, create-new or append"`
	Parents bool   `arg:"-p,--parents" help:"create missing remote directories"`
	SHA256  bool   `arg:"--sha256" help:"print the SHA-256 of the transferred bytes"`
}

// CatCmd prints a remote file.
type CatCmd struct {
	Path string `arg:"positional,required"`
}

// FindCmd walks a tree.
type FindCmd struct {
	Path      string   `arg:"positional" default:"."`
	Include   []string `arg:"--include,separate" help:"doublestar pattern files must match, e.g. **/*.log"`
	Exclude   []string `arg:"--exclude,separate" help:"doublestar pattern of paths to skip"`
	FilesOnly bool     `arg:"-f,--files-only" help:"leave directories out"`
}

// PoolCmd prints pool statistics.
type PoolCmd struct{}

// Description returns the program description for go-arg
func (Config) Description() string {
	return "Browse and transfer files on FTP, FTPS and SFTP servers over a pooled set of sessions"
}

// Version returns the version string for go-arg
func (Config) Version() string {
	return "remotefs 1.0.0"
}

// ParseFlags parses command-line flags and returns configuration
func ParseFlags() (*Config, error) {
	cfg, err := Parse(os.Args[1:])

	switch {
	case errors.Is(err, arg.ErrHelp), errors.Is(err, arg.ErrVersion):
		arg.MustParse(&Config{})
	case errors.Is(err, ErrMissingSubcommand):
		parser, _ := arg.NewParser(arg.Config{Program: "remotefs"}, &Config{})
		parser.Fail(err.Error())
	}

	return cfg, err
}

// Parse parses args in two passes: the first finds --config, the second
// parses the flags over the values loaded from that file.
func Parse(args []string) (*Config, error) {
	probe := &Config{}
	if err := parseArgs(probe, args); err != nil {
		return nil, err
	}

	cfg := &Config{}

	if probe.ConfigFile != "" {
		if err := cfg.LoadFromFile(probe.ConfigFile); err != nil {
			return nil, err
		}
	}

	if err := parseArgs(cfg, args); err != nil {
		return nil, err
	}

	if cfg.subcommand() == nil {
		return nil, ErrMissingSubcommand
	}

	return PostProcessConfig(cfg)
}

func parseArgs(cfg *Config, args []string) error {
	parser, err := arg.NewParser(arg.Config{Program: "remotefs"}, cfg)
	if err != nil {
		return fmt.Errorf("failed to build argument parser: %w", err)
	}

	if err := parser.Parse(args); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (cfg *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename) // #nosec G304 - path given by the user
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	return nil
}

// PostProcessConfig fills unset values with defaults and validates the result.
func PostProcessConfig(cfg *Config) (*Config, error) {
	if cfg.MaxSessions == 0 {
		cfg.MaxSessions = max(DefaultMaxSessions, cfg.CoreSessions)
	}

	if cfg.CoreSessions == 0 {
		cfg.CoreSessions = min(DefaultCoreSessions, cfg.MaxSessions)
	}

	if cfg.MinSessions == nil {
		minSessions := min(DefaultMinSessions, cfg.CoreSessions)
		cfg.MinSessions = &minSessions
	}

	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}

	if cfg.MaxIdle == 0 {
		cfg.MaxIdle = DefaultMaxIdle
	}

	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
		if cfg.Debug {
			cfg.LogLevel = logrus.TraceLevel.String()
		}
	}

	if cfg.LogFormat == "" {
		cfg.LogFormat = DefaultLogFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate reports the first invalid setting.
func (cfg *Config) Validate() error {
	if cfg.URL == "" {
		return ErrMissingURL
	}

	if _, err := cfg.SessionConfig(); err != nil {
		return err
	}

	if err := cfg.PoolConfig().Validate(); err != nil {
		return fmt.Errorf("invalid pool settings: %w", err)
	}

	if cfg.KeepAlive < 0 || cfg.MaxIdle < 0 {
		return errors.New("--keepalive and --max-idle must not be negative")
	}

	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	switch strings.ToLower(cfg.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q (valid: text, json)", cfg.LogFormat) //nolint:err113 // Validation error with actual value
	}

	if cfg.Put != nil {
		if _, err := ParseOpenMode(cfg.Put.Mode); err != nil {
			return err
		}
	}

	return nil
}

// SessionConfig converts the connection settings.
func (cfg *Config) SessionConfig() (session.Config, error) {
	loc, err := filesystem.ParseURL(cfg.URL)
	if err != nil {
		return session.Config{}, err
	}

	sc := loc.SessionConfig()

	if cfg.Password != "" {
		sc.Password = cfg.Password
	}

	sc.KeyFile = cfg.KeyFile
	sc.KeyPassphrase = cfg.KeyPassphrase
	sc.UseAgent = cfg.UseAgent
	sc.KnownHostsFile = cfg.KnownHosts
	sc.InsecureHostKey = cfg.Insecure
	sc.TLS.InsecureSkipVerify = cfg.Insecure
	sc.TLS.ReuseSession = cfg.TLSReuse
	sc.Proxy = session.ProxyConfig{URL: cfg.Proxy, User: cfg.ProxyUser, Password: cfg.ProxyPassword}
	sc.FTP = session.FTPOptions{
		DisableEPSV: cfg.DisableEPSV,
		DisableUTF8: cfg.DisableUTF8,
		DisableMLSD: cfg.DisableMLSD,
		TimeZone:    cfg.TimeZone,
	}

	if cfg.ASCII {
		sc.FTP.TransferType = session.TransferASCII
	}

	sc.ConnectionTimeout = cfg.ConnectTimeout
	sc.Debug = cfg.Debug

	if err := sc.Validate(); err != nil {
		return session.Config{}, fmt.Errorf("invalid connection settings: %w", err)
	}

	return sc, nil
}

// PoolConfig converts the pool settings.
func (cfg *Config) PoolConfig() pool.Config {
	minSessions := 0
	if cfg.MinSessions != nil {
		minSessions = *cfg.MinSessions
	}

	return pool.Config{
		MinSize:           minSessions,
		CoreSize:          cfg.CoreSessions,
		MaxSize:           cfg.MaxSessions,
		ConnectionTimeout: cfg.ConnectTimeout,
		MaxIdleTime:       cfg.MaxIdle,
		KeepAliveInterval: cfg.KeepAlive,
	}
}

// ConnectOptions assembles everything filesystem.Connect needs except the
// logger and observers.
func (cfg *Config) ConnectOptions() (filesystem.Options, error) {
	sc, err := cfg.SessionConfig()
	if err != nil {
		return filesystem.Options{}, err
	}

	loc, err := filesystem.ParseURL(cfg.URL)
	if err != nil {
		return filesystem.Options{}, err
	}

	return filesystem.Options{
		Session:    sc,
		Pool:       cfg.PoolConfig(),
		WorkingDir: loc.Path,
		CacheTTL:   cfg.CacheTTL,
		TempDir:    cfg.TempDir,
	}, nil
}

func (cfg *Config) subcommand() any {
	switch {
	case cfg.Ls != nil:
		return cfg.Ls
	case cfg.Stat != nil:
		return cfg.Stat
	case cfg.Mkdir != nil:
		return cfg.Mkdir
	case cfg.Rm != nil:
		return cfg.Rm
	case cfg.Mv != nil:
		return cfg.Mv
	case cfg.Get != nil:
		return cfg.Get
	case cfg.Put != nil:
		return cfg.Put
	case cfg.Cat != nil:
		return cfg.Cat
	case cfg.Find != nil:
		return cfg.Find
	case cfg.Pool != nil:
		return cfg.Pool
	default:
		return nil
	}
}

// ParseOpenMode parses an upload mode name.
func ParseOpenMode(s string) (filesystem.OpenMode, error) {
	switch strings.ToLower(s) {
	case "", "overwrite":
		return filesystem.Overwrite, nil
	case "create-new", "new":
		return filesystem.CreateNew, nil
	case "append":
		return filesystem.Append, nil
	default:
		return filesystem.Overwrite, fmt.Errorf("invalid mode: %s (valid: overwrite, create-new, append)", s) //nolint:err113 // Validation error with actual value
	}
}
