package cfg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validConfig() *Configuration {
	return &Configuration{
		NodeID:  1,
		DataDir: "./test-data",
		Cluster: ClusterConfiguration{
			GRPCPort:             8080,
			GRPCAdvertiseAddress: "localhost:8080",
			Peers: []PeerConfiguration{
				{NodeID: 2, Address: "node2:8080"},
				{NodeID: 3, Address: "node3:8080"},
			},
		},
		Paxos: PaxosConfiguration{
			PrepareTimeoutMS: 2000,
			ReadTimeoutMS:    2000,
			ProposeTimeoutMS: 2000,
			CommitTimeoutMS:  2000,
			RetryAttempts:    3,
			RetryBackoffMS:   10,
			RetryMaxMS:       100,
			RetryMultiplier:  2,
		},
		Storage: StorageConfiguration{
			Engine:       StoragePebble,
			BatchMaxSize: 10,
		},
		GRPCClient: GRPCClientConfiguration{
			KeepaliveTimeSeconds:    10,
			KeepaliveTimeoutSeconds: 3,
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()
	if err := Validate(); err != nil {
		t.Errorf("Expected no error for valid config, got: %v", err)
	}
}

func TestValidate_DefaultConfig(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	c := *original
	c.NodeID = 1
	Config = &c
	if err := Validate(); err != nil {
		t.Errorf("Expected defaults to validate, got: %v", err)
	}
}

func TestValidate_Invalid(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	tests := []struct {
		name   string
		mutate func(c *Configuration)
		want   string
	}{
		{"grpc port", func(c *Configuration) { c.Cluster.GRPCPort = 70000 }, "invalid gRPC port"},
		{"peer without id", func(c *Configuration) { c.Cluster.Peers[0].NodeID = 0 }, "has no node_id"},
		{"peer reusing own id", func(c *Configuration) { c.Cluster.Peers[0].NodeID = 1 }, "reuses this node's id"},
		{"duplicate peer", func(c *Configuration) { c.Cluster.Peers[1].NodeID = 2 }, "duplicate peer"},
		{"peer without address", func(c *Configuration) { c.Cluster.Peers[1].Address = "" }, "has no address"},
		{"zero timeout", func(c *Configuration) { c.Paxos.CommitTimeoutMS = 0 }, "phase timeouts"},
		{"backoff above max", func(c *Configuration) { c.Paxos.RetryBackoffMS = 500 }, "retry backoff"},
		{"multiplier", func(c *Configuration) { c.Paxos.RetryMultiplier = 0.5 }, "multiplier"},
		{"storage engine", func(c *Configuration) { c.Storage.Engine = "badger" }, "invalid storage engine"},
		{"batch size", func(c *Configuration) { c.Storage.BatchMaxSize = 0 }, "batch size"},
		{"keepalive", func(c *Configuration) { c.GRPCClient.KeepaliveTimeSeconds = 0 }, "keepalive time"},
		{"duplicate sink", func(c *Configuration) {
			c.Publisher.Enabled = true
			c.Publisher.Sinks = []SinkConfiguration{{Name: "a"}, {Name: "a"}}
		}, "duplicate publisher sink"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Config = validConfig()
			tt.mutate(Config)
			err := Validate()
			if err == nil {
				t.Fatalf("Expected error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoad_FromFile(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	dir := t.TempDir()
	file := filepath.Join(dir, "config.toml")
	content := `
node_id = 7
data_dir = "` + filepath.ToSlash(filepath.Join(dir, "data")) + `"

[cluster]
grpc_port = 9000

[[cluster.peers]]
node_id = 8
address = "peer:9000"

[paxos]
prepare_timeout_ms = 150

[[publisher.sinks]]
name = "feed"
type = "kafka"
brokers = ["localhost:9092"]
filter_tables = ["users*"]
`
	if err := os.WriteFile(file, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	c := *original
	Config = &c
	if err := Load(file); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if Config.NodeID != 7 {
		t.Errorf("Expected node ID 7, got %d", Config.NodeID)
	}
	if Config.Cluster.GRPCPort != 9000 {
		t.Errorf("Expected gRPC port 9000, got %d", Config.Cluster.GRPCPort)
	}
	if len(Config.Cluster.Peers) != 1 || Config.Cluster.Peers[0].Address != "peer:9000" {
		t.Errorf("Unexpected peers: %+v", Config.Cluster.Peers)
	}
	if Config.Paxos.PrepareTimeoutMS != 150 {
		t.Errorf("Expected prepare timeout 150, got %d", Config.Paxos.PrepareTimeoutMS)
	}
	if Config.Paxos.CommitTimeoutMS != 2000 {
		t.Errorf("Expected default commit timeout to survive, got %d", Config.Paxos.CommitTimeoutMS)
	}
	if len(Config.Publisher.Sinks) != 1 || Config.Publisher.Sinks[0].FilterTables[0] != "users*" {
		t.Errorf("Unexpected sinks: %+v", Config.Publisher.Sinks)
	}
	if _, err := os.Stat(Config.DataDir); err != nil {
		t.Errorf("Data directory was not created: %v", err)
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	tempDir := t.TempDir()
	*DataDirFlag = tempDir
	*NodeIDFlag = 12345
	*GRPCPortFlag = 9999
	*VerboseFlag = true
	defer func() {
		*DataDirFlag = ""
		*NodeIDFlag = 0
		*GRPCPortFlag = 0
		*VerboseFlag = false
	}()

	Config = &Configuration{
		DataDir: "./default-data",
		Cluster: ClusterConfiguration{GRPCPort: 8080},
	}

	if err := Load(""); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if Config.DataDir != tempDir {
		t.Errorf("Expected data dir %s, got %s", tempDir, Config.DataDir)
	}
	if Config.NodeID != 12345 {
		t.Errorf("Expected node ID 12345, got %d", Config.NodeID)
	}
	if Config.Cluster.GRPCPort != 9999 {
		t.Errorf("Expected gRPC port 9999, got %d", Config.Cluster.GRPCPort)
	}
	if !Config.Logging.Verbose {
		t.Error("Expected verbose logging")
	}
}

func TestGenerateNodeID(t *testing.T) {
	id1, err := generateNodeID()
	if err != nil {
		t.Skipf("machine id unavailable: %v", err)
	}
	if id1 == 0 {
		t.Error("Generated node ID should not be 0")
	}

	id2, err := generateNodeID()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if id1 != id2 {
		t.Error("Node ID should be deterministic for same machine")
	}
}
