package ops

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"gopkg.in/yaml.v3"

	"reconciler/internal/chaos"
	"reconciler/internal/core"
	"reconciler/internal/journal"
	"reconciler/internal/recorder"
	"reconciler/internal/risk"
	"reconciler/internal/schema"
	"reconciler/internal/store"
	"reconciler/pkg/conn"
)

const defaultHeartbeat = time.Second

// FileConfig mirrors the config file layout. YAML and JSON share the keys.
type FileConfig struct {
	Registry RegistryConfig `json:"registry" yaml:"registry"`
	Store    StoreConfig    `json:"store" yaml:"store"`
	Engine   EngineConfig   `json:"engine" yaml:"engine"`
	Risk     risk.Config    `json:"risk" yaml:"risk"`
	Chaos    *chaos.Config  `json:"chaos" yaml:"chaos"`
	Journal  JournalConfig  `json:"journal" yaml:"journal"`
	Server   ServerConfig   `json:"server" yaml:"server"`
}

// RegistryConfig defines venue and symbol mappings.
type RegistryConfig struct {
	Venues  []VenueConfig  `json:"venues" yaml:"venues"`
	Symbols []SymbolConfig `json:"symbols" yaml:"symbols"`
}

// VenueConfig describes a venue entry.
type VenueConfig struct {
	Name string `json:"name" yaml:"name"`
}

// SymbolConfig describes a symbol entry. MinimumTick is a decimal string in
// price units, e.g. "0.25".
type SymbolConfig struct {
	Name        string           `json:"name" yaml:"name"`
	Venue       string           `json:"venue" yaml:"venue"`
	Scale       schema.ScaleSpec `json:"scale" yaml:"scale"`
	MinimumTick string           `json:"minimumTick" yaml:"minimumTick"`
}

// StoreConfig describes the snapshot files.
type StoreConfig struct {
	Dir                 string `json:"dir" yaml:"dir"`
	Name                string `json:"name" yaml:"name"`
	RolloverSize        int64  `json:"rolloverSize" yaml:"rolloverSize"`
	MaxRollover         int    `json:"maxRollover" yaml:"maxRollover"`
	AutoSnapshotUpdates int    `json:"autoSnapshotUpdates" yaml:"autoSnapshotUpdates"`
	DisableSync         bool   `json:"disableSync" yaml:"disableSync"`
}

// EngineConfig holds the tunables shared by every symbol engine.
type EngineConfig struct {
	PendingTimeout  string `json:"pendingTimeout" yaml:"pendingTimeout"`
	RejectThreshold int    `json:"rejectThreshold" yaml:"rejectThreshold"`
	CancelLimit     int    `json:"cancelLimit" yaml:"cancelLimit"`
	SyncPositions   bool   `json:"syncPositions" yaml:"syncPositions"`
	QueueSize       int    `json:"queueSize" yaml:"queueSize"`
	Heartbeat       string `json:"heartbeat" yaml:"heartbeat"`
}

// JournalConfig describes the optional Postgres journal.
type JournalConfig struct {
	Enabled       bool        `json:"enabled" yaml:"enabled"`
	Postgres      conn.Option `json:"postgres" yaml:"postgres"`
	BufferSize    int         `json:"bufferSize" yaml:"bufferSize"`
	BatchSize     int         `json:"batchSize" yaml:"batchSize"`
	FlushInterval string      `json:"flushInterval" yaml:"flushInterval"`
}

// ServerConfig describes the process surfaces.
type ServerConfig struct {
	MetricsAddr   string `json:"metricsAddr" yaml:"metricsAddr"`
	ControlSocket string `json:"controlSocket" yaml:"controlSocket"`
	PyroscopeAddr string `json:"pyroscopeAddr" yaml:"pyroscopeAddr"`
	AppName       string `json:"appName" yaml:"appName"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Registry  *schema.Registry
	Store     store.Config
	Engines   []core.Config
	QueueSize int
	Heartbeat time.Duration
	Risk      risk.Config
	Chaos     *chaos.Config
	Journal   JournalSpec
	Server    ServerConfig
}

// JournalSpec is the resolved journal configuration.
type JournalSpec struct {
	Enabled  bool
	Postgres conn.Option
	Config   journal.Config
}

// Load reads a YAML or JSON config file, chosen by extension.
func Load(path string) (Loaded, error) {
	cfg, err := Read(path)
	if err != nil {
		return Loaded{}, err
	}
	return Resolve(cfg)
}

// Read decodes the config file without resolving it.
func Read(path string) (FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, errors.Wrapf(err, "read config %s", path)
	}
	var cfg FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".json":
		err = sonic.Unmarshal(data, &cfg)
	default:
		return FileConfig{}, errors.Errorf("unsupported config format: %s", path)
	}
	if err != nil {
		return FileConfig{}, errors.Wrapf(err, "decode config %s", path)
	}
	return cfg, nil
}

// Resolve validates cfg and fills in defaults.
func Resolve(cfg FileConfig) (Loaded, error) {
	registry, err := buildRegistry(cfg.Registry)
	if err != nil {
		return Loaded{}, err
	}
	if len(registry.Symbols()) == 0 {
		return Loaded{}, errors.New("config has no symbols")
	}

	pendingTimeout, err := parseDuration("engine.pendingTimeout", cfg.Engine.PendingTimeout)
	if err != nil {
		return Loaded{}, err
	}
	heartbeat, err := parseDuration("engine.heartbeat", cfg.Engine.Heartbeat)
	if err != nil {
		return Loaded{}, err
	}
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	engines := make([]core.Config, 0, len(registry.Symbols()))
	for _, sym := range registry.Symbols() {
		ec := core.Config{
			Symbol:          sym.Name,
			MinimumTick:     sym.MinimumTick,
			PendingTimeout:  pendingTimeout,
			RejectThreshold: cfg.Engine.RejectThreshold,
			CancelLimit:     cfg.Engine.CancelLimit,
			SyncPositions:   cfg.Engine.SyncPositions,
		}
		if err := ec.Validate(); err != nil {
			return Loaded{}, err
		}
		engines = append(engines, ec)
	}

	if cfg.Chaos != nil {
		if err := cfg.Chaos.Validate(); err != nil {
			return Loaded{}, errors.Wrap(err, "invalid chaos config")
		}
	}

	flush, err := parseDuration("journal.flushInterval", cfg.Journal.FlushInterval)
	if err != nil {
		return Loaded{}, err
	}
	journalSpec := JournalSpec{
		Enabled:  cfg.Journal.Enabled,
		Postgres: cfg.Journal.Postgres.FromEnv(),
		Config: journal.Config{
			BufferSize:    cfg.Journal.BufferSize,
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: flush,
		},
	}
	if journalSpec.Enabled && !journalSpec.Postgres.Enabled() {
		return Loaded{}, errors.New("journal enabled without postgres target")
	}

	return Loaded{
		Registry:  registry,
		Store:     resolveStore(cfg.Store),
		Engines:   engines,
		QueueSize: cfg.Engine.QueueSize,
		Heartbeat: heartbeat,
		Risk:      cfg.Risk,
		Chaos:     cfg.Chaos,
		Journal:   journalSpec,
		Server:    resolveServer(cfg.Server),
	}, nil
}

func resolveStore(cfg StoreConfig) store.Config {
	dir := cfg.Dir
	if dir == "" {
		dir = "data/snapshots"
	}
	rc := recorder.DefaultConfig(dir)
	if cfg.Name != "" {
		rc.Name = cfg.Name
	}
	if cfg.RolloverSize > 0 {
		rc.RolloverSize = cfg.RolloverSize
	}
	if cfg.MaxRollover > 0 {
		rc.MaxRollover = cfg.MaxRollover
	}
	rc.DisableSync = cfg.DisableSync
	return store.Config{Recorder: rc, AutoSnapshotUpdates: cfg.AutoSnapshotUpdates}
}

func resolveServer(cfg ServerConfig) ServerConfig {
	if cfg.AppName == "" {
		cfg.AppName = "reconciler"
	}
	return cfg
}

func buildRegistry(cfg RegistryConfig) (*schema.Registry, error) {
	reg := schema.NewRegistry()
	for _, venue := range cfg.Venues {
		if _, err := reg.AddVenue(venue.Name); err != nil {
			return nil, err
		}
	}
	for _, sym := range cfg.Symbols {
		venueID, ok := reg.VenueIDByName(sym.Venue)
		if !ok {
			return nil, errors.Errorf("venue not found: %s", sym.Venue)
		}
		if sym.Scale.PriceScale < 0 || sym.Scale.QuantityScale < 0 {
			return nil, errors.Errorf("invalid scale for %s: scale must be >= 0", sym.Name)
		}
		tick, err := decimal.NewFromString(sym.MinimumTick)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid minimum tick for %s", sym.Name)
		}
		if _, err := reg.AddSymbol(sym.Name, venueID, sym.Scale, sym.Scale.Price(tick)); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func parseDuration(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", name)
	}
	if d < 0 {
		return 0, errors.Errorf("%s must be >= 0", name)
	}
	return d, nil
}
