//nolint:varnamelen // Test files use idiomatic short variable names (t, tt, etc.)
package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers

	"github.com/joe/remotefs/internal/config"
	"github.com/joe/remotefs/pkg/filesystem"
	"github.com/joe/remotefs/pkg/session"
)

func TestConfigDescription(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}

	if cfg.Description() == "" {
		t.Error("Description() should not be empty")
	}

	if cfg.Version() == "" {
		t.Error("Version() should not be empty")
	}
}

func TestParse_AppliesDefaults(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)

	cfg, err := config.Parse([]string{"--url", "sftp://joe@example.com/home/joe", "ls"})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(cfg.Ls).NotTo(BeNil())
	g.Expect(cfg.Ls.Path).To(Equal("."))
	g.Expect(*cfg.MinSessions).To(Equal(1))
	g.Expect(cfg.CoreSessions).To(Equal(4))
	g.Expect(cfg.MaxSessions).To(Equal(8))
	g.Expect(cfg.ConnectTimeout).To(Equal(30 * time.Second))
	g.Expect(cfg.MaxIdle).To(Equal(60 * time.Second))
	g.Expect(cfg.CacheTTL).To(Equal(5 * time.Second))
	g.Expect(cfg.LogLevel).To(Equal("warn"))
	g.Expect(cfg.LogFormat).To(Equal("text"))
}

func TestParse_SubcommandFlags(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)

	cfg, err := config.Parse([]string{
		"--url", "ftp://ftp.example.com/pub", "--max-sessions", "2", "--connect-timeout", "5s",
		"rm", "--recursive", "old",
	})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(cfg.Rm).NotTo(BeNil())
	g.Expect(cfg.Rm.Recursive).To(BeTrue())
	g.Expect(cfg.Rm.Path).To(Equal("old"))

	// Core follows a smaller max.
	g.Expect(cfg.MaxSessions).To(Equal(2))
	g.Expect(cfg.CoreSessions).To(Equal(2))
	g.Expect(cfg.ConnectTimeout).To(Equal(5 * time.Second))
}

func TestParse_MissingSubcommand(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)

	_, err := config.Parse([]string{"--url", "ftp://example.com/"})
	g.Expect(err).To(MatchError(config.ErrMissingSubcommand))
}

func TestParse_MissingURL(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)

	_, err := config.Parse([]string{"pool"})
	g.Expect(err).To(MatchError(config.ErrMissingURL))
}

func TestParse_DebugRaisesLogLevel(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)

	cfg, err := config.Parse([]string{"--url", "ftp://example.com/", "--debug", "pool"})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(cfg.LogLevel).To(Equal("trace"))

	sc, err := cfg.SessionConfig()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(sc.Debug).To(BeTrue())
}

func TestParse_FlagsOverrideConfigFile(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)

	file := filepath.Join(t.TempDir(), "remotefs.yaml")
	g.Expect(os.WriteFile(file, []byte(`
url: ftpes://joe@files.example.com:2121/in
password: from-file
max-sessions: 6
min-sessions: 0
cache-ttl: 10s
disable-epsv: true
log-level: info
`), 0o600)).To(Succeed())

	cfg, err := config.Parse([]string{"--config", file, "--max-sessions", "3", "pool"})
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(cfg.MaxSessions).To(Equal(3))
	g.Expect(*cfg.MinSessions).To(Equal(0))
	g.Expect(cfg.CacheTTL).To(Equal(10 * time.Second))
	g.Expect(cfg.LogLevel).To(Equal("info"))

	sc, err := cfg.SessionConfig()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(sc.Protocol).To(Equal(session.ProtocolFTP))
	g.Expect(sc.TLS.Mode).To(Equal(session.TLSExplicit))
	g.Expect(sc.Port).To(Equal(2121))
	g.Expect(sc.Password).To(Equal("from-file"))
	g.Expect(sc.FTP.DisableEPSV).To(BeTrue())
}

func TestParse_BadConfigFile(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)

	file := filepath.Join(t.TempDir(), "broken.yaml")
	g.Expect(os.WriteFile(file, []byte("url: [unterminated"), 0o600)).To(Succeed())

	_, err := config.Parse([]string{"--config", file, "pool"})
	g.Expect(err).To(HaveOccurred())
	g.Expect(err.Error()).To(ContainSubstring("failed to parse config file"))

	_, err = config.Parse([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml"), "pool"})
	g.Expect(err).To(MatchError(ContainSubstring("failed to read config file")))
}

//nolint:funlen // Table-driven validation cases
func TestPostProcessConfig_Validation(t *testing.T) {
	t.Parallel()

	two := 2

	tests := []struct {
		name    string
		cfg     config.Config
		wantErr string
	}{
		{name: "valid", cfg: config.Config{URL: "sftp://joe@host/"}},
		{name: "missing url", cfg: config.Config{}, wantErr: "remote URL is required"},
		{name: "bad scheme", cfg: config.Config{URL: "http://host/"}, wantErr: "unsupported scheme"},
		{name: "sftp without user", cfg: config.Config{URL: "sftp://host/"}, wantErr: "username"},
		{
			name:    "min above core",
			cfg:     config.Config{URL: "ftp://host/", MinSessions: &two, CoreSessions: 1, MaxSessions: 4},
			wantErr: "min size",
		},
		{
			name:    "core above max",
			cfg:     config.Config{URL: "ftp://host/", CoreSessions: 5, MaxSessions: 4},
			wantErr: "core size",
		},
		{
			name:    "negative timeout",
			cfg:     config.Config{URL: "ftp://host/", ConnectTimeout: -time.Second},
			wantErr: "timeout",
		},
		{name: "log level", cfg: config.Config{URL: "ftp://host/", LogLevel: "loud"}, wantErr: "invalid log level"},
		{name: "log format", cfg: config.Config{URL: "ftp://host/", LogFormat: "xml"}, wantErr: "invalid log format"},
		{
			name:    "put mode",
			cfg:     config.Config{URL: "ftp://host/", Put: &config.PutCmd{Mode: "sideways"}},
			wantErr: "invalid mode",
		},
		{
			name:    "proxy scheme",
			cfg:     config.Config{URL: "ftp://host/", Proxy: "ftp://proxy:21"},
			wantErr: "proxy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			g := NewWithT(t)
			cfg := tt.cfg

			got, err := config.PostProcessConfig(&cfg)
			if tt.wantErr == "" {
				g.Expect(err).NotTo(HaveOccurred())
				g.Expect(got).NotTo(BeNil())

				return
			}

			g.Expect(err).To(MatchError(ContainSubstring(tt.wantErr)))
			g.Expect(got).To(BeNil())
		})
	}
}

func TestConnectOptions(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)

	cfg, err := config.PostProcessConfig(&config.Config{
		URL:      "sftp://joe@example.com:2222/srv/data",
		KeyFile:  "/home/joe/.ssh/id_ed25519",
		UseAgent: true,
		CacheTTL: -1,
		TempDir:  "/var/tmp",
	})
	g.Expect(err).NotTo(HaveOccurred())

	opts, err := cfg.ConnectOptions()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(opts.WorkingDir).To(Equal("/srv/data"))
	g.Expect(opts.CacheTTL).To(BeNumerically("<", 0))
	g.Expect(opts.TempDir).To(Equal("/var/tmp"))
	g.Expect(opts.Session.Host).To(Equal("example.com"))
	g.Expect(opts.Session.Port).To(Equal(2222))
	g.Expect(opts.Session.KeyFile).To(Equal("/home/joe/.ssh/id_ed25519"))
	g.Expect(opts.Session.UseAgent).To(BeTrue())
	g.Expect(opts.Session.ConnectionTimeout).To(Equal(30 * time.Second))
	g.Expect(opts.Pool.MinSize).To(Equal(1))
	g.Expect(opts.Pool.CoreSize).To(Equal(4))
	g.Expect(opts.Pool.MaxSize).To(Equal(8))
	g.Expect(opts.Pool.MaxIdleTime).To(Equal(60 * time.Second))
}

func TestParseOpenMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected filesystem.OpenMode
		wantErr  bool
	}{
		{"overwrite", filesystem.Overwrite, false},
		{"", filesystem.Overwrite, false},
		{"CREATE-NEW", filesystem.CreateNew, false},
		{"new", filesystem.CreateNew, false},
		{"append", filesystem.Append, false},
		{"other", filesystem.Overwrite, true},
	}

	for _, tt := range tests {
		got, err := config.ParseOpenMode(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseOpenMode(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)

			continue
		}

		if !tt.wantErr && got != tt.expected {
			t.Errorf("ParseOpenMode(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}
