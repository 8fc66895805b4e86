package harvest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/recolte/fetch"
	"github.com/hazyhaar/recolte/harvest/internal/materialize"
)

// Default portal and identity. The User-Agent mirrors a desktop browser;
// the portal serves a reduced page to unknown agents.
const (
	DefaultPortalURL = "https://www.mhlw.go.jp/stf/newpage_67729.html"
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/126.0.0.0 Safari/537.36"
)

// Config configures the acquisition service.
type Config struct {
	// PortalURL is the seed page links are discovered from.
	PortalURL string `yaml:"portal_url"`
	// OutputDir is the dataset root; text/, data/ and metadata/ live under it.
	OutputDir string `yaml:"output_dir"`
	// Limit bounds the number of relevant links processed; 0 means all.
	Limit int `yaml:"limit"`
	// Delay is the politeness pause applied after each link. Default: 1s.
	Delay time.Duration `yaml:"delay"`
	// Format selects the artifact form for HTML sources: text | markdown.
	Format string `yaml:"format"`
	// VerifyPDF enables structural verification of downloaded PDFs.
	VerifyPDF bool `yaml:"verify_pdf"`
	// RunLogPath enables the SQLite run log when non-empty.
	RunLogPath string `yaml:"runlog_path"`

	Fetch fetch.Config `yaml:"fetch"`
}

func (c *Config) defaults() {
	if c.PortalURL == "" {
		c.PortalURL = DefaultPortalURL
	}
	if c.OutputDir == "" {
		c.OutputDir = filepath.Join("output", "ai-shinryou-db")
	}
	if c.Delay <= 0 {
		c.Delay = time.Second
	}
	if c.Format == "" {
		c.Format = string(materialize.FormatText)
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = 60 * time.Second
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = DefaultUserAgent
	}
}

// Output locations under OutputDir.
func (c *Config) textRoot() string    { return filepath.Join(c.OutputDir, "text") }
func (c *Config) dataDir() string     { return filepath.Join(c.OutputDir, "data") }
func (c *Config) metadataDir() string { return filepath.Join(c.OutputDir, "metadata") }

func (c *Config) indexCSV() string { return filepath.Join(c.dataDir(), "comprehensive_index.csv") }
func (c *Config) linksJSON() string {
	return filepath.Join(c.dataDir(), "portalpage_links.json")
}
func (c *Config) structureJSON() string {
	return filepath.Join(c.metadataDir(), "portalpage_structure.json")
}

// LogFile is where the CLI tees its log stream.
func (c *Config) LogFile() string { return filepath.Join(c.dataDir(), "download.log") }

// EnsureDirectories creates the output tree.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.textRoot(), c.dataDir(), c.metadataDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("harvest: mkdir %s: %w", dir, err)
		}
	}
	return nil
}

// LoadConfigFile reads a YAML configuration file and applies defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("harvest: read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("harvest: parse config: %w", err)
	}
	cfg.defaults()
	return &cfg, nil
}
