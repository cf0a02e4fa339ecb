package config

import (
	"fmt"
	"os"
	"strings"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Mail     MailConfig     `yaml:"mail"`
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Gate     GateConfig     `yaml:"gate"`
}

type MailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Mailbox  string `yaml:"mailbox"`

	// Minutes between inbox scans. Should exceed the expected scan
	// duration; cycles are sequential, so a slow scan delays the next one.
	ScanIntervalMinutes int `yaml:"scan_interval_minutes"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Topic the barcode scanner publishes presented codes to.
	CodeTopicName string `yaml:"code_topic_name"`
	// Topic for authorization verdicts.
	StatusTopicName string `yaml:"status_topic_name"`
	// Optional topic for newly discovered tracking codes.
	DiscoveryTopicName string `yaml:"discovery_topic_name"`

	ConsumerGroup string `yaml:"consumer_group"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type GateConfig struct {
	ButtonEntityID  string `yaml:"button_entity_id"`
	SupervisorURL   string `yaml:"supervisor_url"`
	SupervisorToken string `yaml:"supervisor_token"`

	// Comma-separated codes that open the gate without ever touching the
	// ledger (courier master codes etc). Repeatable by design.
	AuthorizedBarcodes string `yaml:"authorized_barcodes"`

	// Max presentations of a single code per minute before the handler
	// stops consulting storage and answers Unauthorized outright.
	PresentationLimitPerMinute int `yaml:"presentation_limit_per_minute"`

	HTTPAddr string `yaml:"http_addr"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}

// AuthorizedBarcodeSet splits the configured CSV into a lookup set,
// dropping empty entries and surrounding whitespace.
func (g GateConfig) AuthorizedBarcodeSet() map[string]struct{} {
	out := map[string]struct{}{}
	for _, item := range strings.Split(g.AuthorizedBarcodes, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out[item] = struct{}{}
		}
	}
	return out
}
