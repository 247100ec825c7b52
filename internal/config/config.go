// Package config loads and validates the mapper's and agent's runtime
// configuration from a .env file plus process environment into a typed,
// validated struct instead of ad-hoc os.Getenv calls scattered through
// main.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Mapper holds everything the tedge-mapper-c8y binary needs.
type Mapper struct {
	DeviceID                string        `validate:"required"`
	DeviceType              string        `validate:"required"`
	MQTTHost                string        `validate:"required"`
	MQTTPort                int           `validate:"required,min=1,max=65535"`
	MQTTClientID            string        `validate:"required"`
	PayloadSizeThreshold    int           `validate:"required,min=1"`
	SyncWindow              time.Duration `validate:"required"`
	OperationsDir           string        `validate:"required"`
	InventoryFragmentsFile  string
	JournalPath             string `validate:"required"`
	MetricsAddr             string `validate:"required"`
	CloudBaseURL            string `validate:"required,url"`
	OAuthTokenURL           string `validate:"required,url"`
	OAuthClientID           string `validate:"required"`
	OAuthClientSecret       string `validate:"required"`
}

// Agent holds everything the tedge-agent binary needs.
type Agent struct {
	MQTTHost     string `validate:"required"`
	MQTTPort     int    `validate:"required,min=1,max=65535"`
	MQTTClientID string `validate:"required"`
	PluginsDir   string `validate:"required"`
	JournalPath  string `validate:"required"`
}

var validate = validator.New()

// LoadMapper reads .env (if present) then process environment, applying
// defaults for every optional setting.
func LoadMapper() (Mapper, error) {
	_ = godotenv.Load()

	cfg := Mapper{
		DeviceID:               os.Getenv("TEDGE_DEVICE_ID"),
		DeviceType:             getenvDefault("TEDGE_DEVICE_TYPE", "thin-edge.io"),
		MQTTHost:               getenvDefault("TEDGE_MQTT_HOST", "localhost"),
		MQTTClientID:           getenvDefault("TEDGE_MQTT_CLIENT_ID", "tedge-mapper-c8y"),
		OperationsDir:          getenvDefault("TEDGE_OPERATIONS_DIR", "/etc/tedge/operations/c8y"),
		InventoryFragmentsFile: getenvDefault("TEDGE_INVENTORY_FRAGMENTS_FILE", "/etc/tedge/device/inventory.json"),
		JournalPath:            getenvDefault("TEDGE_JOURNAL_PATH", "/etc/tedge/.agent/current-operation.db"),
		MetricsAddr:            getenvDefault("TEDGE_METRICS_ADDR", ":8778"),
		CloudBaseURL:           os.Getenv("C8Y_URL"),
		OAuthTokenURL:          os.Getenv("C8Y_OAUTH_TOKEN_URL"),
		OAuthClientID:          os.Getenv("C8Y_OAUTH_CLIENT_ID"),
		OAuthClientSecret:      os.Getenv("C8Y_OAUTH_CLIENT_SECRET"),
	}

	port, err := getenvIntDefault("TEDGE_MQTT_PORT", 1883)
	if err != nil {
		return Mapper{}, err
	}
	cfg.MQTTPort = port

	threshold, err := getenvIntDefault("TEDGE_PAYLOAD_SIZE_THRESHOLD", 16*1024)
	if err != nil {
		return Mapper{}, err
	}
	cfg.PayloadSizeThreshold = threshold

	syncWindow, err := getenvDurationDefault("TEDGE_SYNC_WINDOW", 3*time.Second)
	if err != nil {
		return Mapper{}, err
	}
	cfg.SyncWindow = syncWindow

	if err := validate.Struct(cfg); err != nil {
		return Mapper{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// LoadAgent reads the tedge-agent binary's configuration.
func LoadAgent() (Agent, error) {
	_ = godotenv.Load()

	cfg := Agent{
		MQTTHost:     getenvDefault("TEDGE_MQTT_HOST", "localhost"),
		MQTTClientID: getenvDefault("TEDGE_MQTT_CLIENT_ID", "tedge-agent"),
		PluginsDir:   getenvDefault("TEDGE_PLUGINS_DIR", "/etc/tedge/sm-plugins"),
		JournalPath:  getenvDefault("TEDGE_JOURNAL_PATH", "/etc/tedge/.agent/current-operation.db"),
	}

	port, err := getenvIntDefault("TEDGE_MQTT_PORT", 1883)
	if err != nil {
		return Agent{}, err
	}
	cfg.MQTTPort = port

	if err := validate.Struct(cfg); err != nil {
		return Agent{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getenvIntDefault(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer: %w", key, err)
	}
	return n, nil
}

func getenvDurationDefault(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be a duration: %w", key, err)
	}
	return d, nil
}
