package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"path"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// StorageEngine selects the replica storage backend
type StorageEngine string

const (
	StoragePebble StorageEngine = "pebble"
	StorageMemory StorageEngine = "memory" // Tests and throwaway nodes only
)

// PeerConfiguration names one member of the static cluster membership
type PeerConfiguration struct {
	NodeID  uint64 `toml:"node_id"`
	Address string `toml:"address"`
}

// ClusterConfiguration controls cluster membership and communication
type ClusterConfiguration struct {
	GRPCBindAddress      string              `toml:"grpc_bind_address"`
	GRPCAdvertiseAddress string              `toml:"grpc_advertise_address"` // Address other nodes use to connect (defaults to hostname:port)
	GRPCPort             int                 `toml:"grpc_port"`
	Peers                []PeerConfiguration `toml:"peers"`
	ClusterSecret        string              `toml:"cluster_secret"` // Shared secret for replica RPCs, empty disables auth
}

// PaxosConfiguration controls the conditional write coordinator
type PaxosConfiguration struct {
	PrepareTimeoutMS int     `toml:"prepare_timeout_ms"`
	ReadTimeoutMS    int     `toml:"read_timeout_ms"`
	ProposeTimeoutMS int     `toml:"propose_timeout_ms"`
	CommitTimeoutMS  int     `toml:"commit_timeout_ms"`
	RetryAttempts    int     `toml:"retry_attempts"`   // Caller-side retries on prepare contention
	RetryBackoffMS   int     `toml:"retry_backoff_ms"` // Initial backoff between retries
	RetryMaxMS       int     `toml:"retry_max_ms"`
	RetryMultiplier  float64 `toml:"retry_multiplier"`
	ConditionCache   int     `toml:"condition_cache_size"` // Parsed IF clauses kept in memory
}

// StorageConfiguration controls the replica store
type StorageConfiguration struct {
	Engine            StorageEngine `toml:"engine"`
	CacheSizeMB       int64         `toml:"cache_size_mb"`
	MemTableSizeMB    int64         `toml:"memtable_size_mb"`
	Sync              bool          `toml:"sync"`
	BatchMaxSize      int           `toml:"batch_max_size"`    // Writes grouped per pebble commit
	BatchMaxWaitMS    int           `toml:"batch_max_wait_ms"` // Max time a write waits for its group
	WALSyncIntervalMS int           `toml:"wal_sync_interval_ms"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// GRPCClientConfiguration controls gRPC client behavior
type GRPCClientConfiguration struct {
	KeepaliveTimeSeconds    int `toml:"keepalive_time_seconds"`    // Keepalive ping interval
	KeepaliveTimeoutSeconds int `toml:"keepalive_timeout_seconds"` // Keepalive ping timeout
	CompressionLevel        int `toml:"compression_level"`         // zstd level, 0 disables compression
}

// SinkConfiguration describes one commit feed destination
type SinkConfiguration struct {
	Name            string   `toml:"name"`
	Type            string   `toml:"type"` // "kafka" or "nats"
	Brokers         []string `toml:"brokers"`
	NatsURL         string   `toml:"nats_url"`
	TopicPrefix     string   `toml:"topic_prefix"`
	FilterTables    []string `toml:"filter_tables"`
	FilterKeyspaces []string `toml:"filter_keyspaces"`
	BatchSize       int      `toml:"batch_size"`
	PollIntervalMS  int      `toml:"poll_interval_ms"`
	RetryInitialMS  int      `toml:"retry_initial_ms"`
	RetryMaxMS      int      `toml:"retry_max_ms"`
	RetryMultiplier float64  `toml:"retry_multiplier"`
}

// PublisherConfiguration controls the commit feed
type PublisherConfiguration struct {
	Enabled bool                `toml:"enabled"`
	Sinks   []SinkConfiguration `toml:"sinks"`
}

// Configuration is the main configuration structure
type Configuration struct {
	NodeID  uint64 `toml:"node_id"`
	DataDir string `toml:"data_dir"`

	Cluster    ClusterConfiguration    `toml:"cluster"`
	Paxos      PaxosConfiguration      `toml:"paxos"`
	Storage    StorageConfiguration    `toml:"storage"`
	GRPCClient GRPCClientConfiguration `toml:"grpc_client"`
	Publisher  PublisherConfiguration  `toml:"publisher"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	NodeIDFlag     = flag.Uint64("node-id", 0, "Node ID (overrides config, 0=auto)")
	GRPCPortFlag   = flag.Int("grpc-port", 0, "gRPC port (overrides config)")
	VerboseFlag    = flag.Bool("verbose", false, "Enable debug logging (overrides config)")
)

// Default configuration
var Config = &Configuration{
	NodeID:  0, // Auto-generate
	DataDir: "./lwt-data",

	Cluster: ClusterConfiguration{
		GRPCBindAddress: "0.0.0.0",
		GRPCPort:        8080,
	},

	Paxos: PaxosConfiguration{
		PrepareTimeoutMS: 2000,
		ReadTimeoutMS:    2000,
		ProposeTimeoutMS: 2000,
		CommitTimeoutMS:  2000,
		RetryAttempts:    5,
		RetryBackoffMS:   10,
		RetryMaxMS:       1000,
		RetryMultiplier:  2.0,
		ConditionCache:   1024,
	},

	Storage: StorageConfiguration{
		Engine:         StoragePebble,
		CacheSizeMB:    64,
		MemTableSizeMB: 32,
		Sync:           true,
		BatchMaxSize:   100,
		BatchMaxWaitMS: 2,
	},

	GRPCClient: GRPCClientConfiguration{
		KeepaliveTimeSeconds:    10, // Send keepalive ping every 10s
		KeepaliveTimeoutSeconds: 3,  // Timeout keepalive after 3s
		CompressionLevel:        1,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *NodeIDFlag != 0 {
		Config.NodeID = *NodeIDFlag
	}
	if *GRPCPortFlag != 0 {
		Config.Cluster.GRPCPort = *GRPCPortFlag
	}
	if *VerboseFlag {
		Config.Logging.Verbose = true
	}

	if Config.NodeID == 0 {
		var err error
		Config.NodeID, err = generateNodeID()
		if err != nil {
			return fmt.Errorf("failed to generate node ID: %w", err)
		}
		log.Info().Uint64("node_id", Config.NodeID).Msg("Auto-generated node ID")
	}

	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateNodeID creates a unique node ID based on machine ID
func generateNodeID() (uint64, error) {
	id, err := machineid.ProtectedID("lwt")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.Cluster.GRPCPort < 1 || Config.Cluster.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", Config.Cluster.GRPCPort)
	}

	if Config.Cluster.GRPCAdvertiseAddress == "" {
		hostname, err := os.Hostname()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to get hostname, using localhost")
			hostname = "localhost"
		}
		Config.Cluster.GRPCAdvertiseAddress = fmt.Sprintf("%s:%d", hostname, Config.Cluster.GRPCPort)
		log.Info().
			Str("advertise_address", Config.Cluster.GRPCAdvertiseAddress).
			Msg("Auto-configured gRPC advertise address")
	}

	seen := make(map[uint64]bool, len(Config.Cluster.Peers))
	for _, p := range Config.Cluster.Peers {
		if p.NodeID == 0 {
			return fmt.Errorf("peer %q has no node_id", p.Address)
		}
		if p.NodeID == Config.NodeID {
			return fmt.Errorf("peer %q reuses this node's id %d", p.Address, p.NodeID)
		}
		if seen[p.NodeID] {
			return fmt.Errorf("duplicate peer node_id %d", p.NodeID)
		}
		if p.Address == "" {
			return fmt.Errorf("peer %d has no address", p.NodeID)
		}
		seen[p.NodeID] = true
	}

	px := Config.Paxos
	if px.PrepareTimeoutMS < 1 || px.ReadTimeoutMS < 1 || px.ProposeTimeoutMS < 1 || px.CommitTimeoutMS < 1 {
		return fmt.Errorf("paxos phase timeouts must be >= 1ms")
	}
	if px.RetryAttempts < 0 {
		return fmt.Errorf("paxos retry attempts must be >= 0")
	}
	if px.RetryBackoffMS < 0 || px.RetryMaxMS < px.RetryBackoffMS {
		return fmt.Errorf("paxos retry backoff must satisfy 0 <= retry_backoff_ms <= retry_max_ms")
	}
	if px.RetryMultiplier < 1 {
		return fmt.Errorf("paxos retry multiplier must be >= 1")
	}

	switch Config.Storage.Engine {
	case StoragePebble, StorageMemory:
	default:
		return fmt.Errorf("invalid storage engine: %s", Config.Storage.Engine)
	}
	if Config.Storage.BatchMaxSize < 1 {
		return fmt.Errorf("storage batch size must be >= 1")
	}

	if Config.GRPCClient.KeepaliveTimeSeconds < 1 {
		return fmt.Errorf("gRPC keepalive time must be >= 1 second")
	}
	if Config.GRPCClient.KeepaliveTimeoutSeconds < 1 {
		return fmt.Errorf("gRPC keepalive timeout must be >= 1 second")
	}

	if Config.Publisher.Enabled {
		names := make(map[string]bool)
		for _, s := range Config.Publisher.Sinks {
			if s.Name == "" {
				return fmt.Errorf("publisher sink without a name")
			}
			if names[s.Name] {
				return fmt.Errorf("duplicate publisher sink %q", s.Name)
			}
			names[s.Name] = true
		}
	}

	return nil
}

// Timeout converts a millisecond setting to a duration
func Timeout(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// ClusterSecret returns the replica RPC secret. LWT_CLUSTER_SECRET overrides
// the config file.
func ClusterSecret() string {
	if secret := os.Getenv("LWT_CLUSTER_SECRET"); secret != "" {
		return secret
	}
	return Config.Cluster.ClusterSecret
}

// StoragePath returns where the replica store lives
func StoragePath() string {
	return path.Join(Config.DataDir, "replica")
}
