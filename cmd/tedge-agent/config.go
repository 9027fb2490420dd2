package main

import (
	"time"

	"github.com/thin-edge/tedge-core/pkg/client/rest"
	"github.com/thin-edge/tedge-core/pkg/logger"
	"github.com/thin-edge/tedge-core/pkg/telemetry"
)

// AgentConfig is the on-disk tedge.toml document (spec §6 "Environment /
// config") for a single-device tedge-agent process. Durations are decoded
// as TOML strings ("60s") via time.Duration's native TextUnmarshaler.
type AgentConfig struct {
	Logger    logger.Config    `toml:"logger"`
	Telemetry telemetry.Config `toml:"telemetry"`

	MQTT       MQTTConfig       `toml:"mqtt"`
	Mapper     MapperConfig     `toml:"c8y_mapper"`
	ChildRelay ChildRelayConfig `toml:"child_relay"`
	Flows      FlowsConfig      `toml:"flows"`
	Storage    StorageConfig    `toml:"storage"`
	Runtime    RuntimeConfig    `toml:"runtime"`
	LogUpload  LogUploadConfig  `toml:"log_upload"`
}

// MQTTConfig configures the local<->cloud bridge of spec §4.3.
type MQTTConfig struct {
	LocalBroker string `toml:"local_broker" validate:"required"`
	CloudBroker string `toml:"cloud_broker" validate:"required"`
	ClientID    string `toml:"client_id" validate:"required"`
	TopicRoot   string `toml:"topic_root"`

	ReconnectInitialBackoff time.Duration `toml:"reconnect_initial_backoff"`
	ReconnectMaxBackoff     time.Duration `toml:"reconnect_max_backoff"`
}

// MapperConfig configures the Cumulocity SmartREST mapper of spec §4.6.
type MapperConfig struct {
	SmartRESTPrefix     string `toml:"smartrest_prefix"`
	FileTransferBaseURL string `toml:"file_transfer_base_url" validate:"required"`
	FileTransferAddr    string `toml:"file_transfer_addr"`
}

// ChildRelayConfig configures the child-device relay of spec §4.7.
type ChildRelayConfig struct {
	GracefulTimeout time.Duration `toml:"graceful_timeout"`
	ForcefulTimeout time.Duration `toml:"forceful_timeout"`
	MaxAttempts     int           `toml:"max_attempts"`
}

// FlowsConfig configures the flow engine of spec §4.4.
type FlowsConfig struct {
	Dir string `toml:"dir" validate:"required"`
}

// StorageConfig locates the on-disk state the agent persists across restart
// (spec §5 "on-disk state files are written atomically").
type StorageConfig struct {
	Root             string `toml:"root" validate:"required"`
	CommandBoardPath string `toml:"command_board_path"`
	ChildRelayDir    string `toml:"child_relay_dir"`
	FileTransferDir  string `toml:"file_transfer_dir"`
}

// RuntimeConfig configures the actor supervision policy of spec §4.8.
type RuntimeConfig struct {
	MaxRestarts int           `toml:"max_restarts"`
	Window      time.Duration `toml:"window"`
	BaseBackoff time.Duration `toml:"base_backoff"`
	MaxBackoff  time.Duration `toml:"max_backoff"`
}

// LogUploadConfig configures the log_upload built-in workflow's executing
// handler (spec §4.5 "ships a bounded window of lines to an HTTP
// endpoint"): logs of a given type are read from <dir>/<type>.log and PUT
// to the command's tedgeUrl through a retrying, circuit-broken HTTP client.
type LogUploadConfig struct {
	Dir    string      `toml:"dir"`
	Client rest.Config `toml:"client"`
}

func (c *AgentConfig) applyDefaults() {
	if c.MQTT.TopicRoot == "" {
		c.MQTT.TopicRoot = "te"
	}
	if c.Mapper.SmartRESTPrefix == "" {
		c.Mapper.SmartRESTPrefix = "c8y"
	}
	if c.Mapper.FileTransferAddr == "" {
		c.Mapper.FileTransferAddr = "127.0.0.1:8000"
	}
	if c.Storage.CommandBoardPath == "" {
		c.Storage.CommandBoardPath = "command-board.json"
	}
	if c.Storage.ChildRelayDir == "" {
		c.Storage.ChildRelayDir = "firmware"
	}
	if c.Storage.FileTransferDir == "" {
		c.Storage.FileTransferDir = "file-transfer"
	}
	if c.LogUpload.Dir == "" {
		c.LogUpload.Dir = "/var/log/tedge"
	}
}
