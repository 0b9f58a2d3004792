package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// clusterConfig is the YAML file describing one sessiond node: its Raft
// identity, where the session service listens, and how it logs.
type clusterConfig struct {
	NodeID      string      `yaml:"node_id"`
	BindAddr    string      `yaml:"bind_addr"`
	APIAddr     string      `yaml:"api_addr"`
	MetricsAddr string      `yaml:"metrics_addr"`
	DataDir     string      `yaml:"data_dir"`
	ServiceType string      `yaml:"service_type"`
	ServiceName string      `yaml:"service_name"`
	Peers       []string    `yaml:"peers"`
	Log         logSettings `yaml:"log"`
}

type logSettings struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

func defaultConfig() clusterConfig {
	return clusterConfig{
		BindAddr:    "127.0.0.1:7946",
		APIAddr:     "127.0.0.1:8080",
		MetricsAddr: "127.0.0.1:9090",
		DataDir:     "./sessiond-data",
		ServiceType: "session",
		ServiceName: "default",
		Log:         logSettings{Level: "info"},
	}
}

func loadConfig(path string) (clusterConfig, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("sessiond: read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("sessiond: parse config: %w", err)
	}
	return cfg, nil
}
