// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package config

import (
	"io/ioutil"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the union of everything a federatord/routingresolverd/
// harvesterd process can be configured with: an optional YAML file
// supplies these fields, and each daemon's own flags override
// whichever ones it also exposes as a flag, following the same
// precedence order as the teacher's coordinated: defaults, then YAML,
// then flags.
type Config struct {
	HTTPBind string `yaml:"http_bind"`

	CatalogBackend string `yaml:"catalog_backend"`

	// Nodes lists the EIDA data centers the harvester polls.
	Nodes []NodeConfig `yaml:"nodes"`

	HarvestInterval time.Duration `yaml:"harvest_interval"`

	ArenaRoot        string `yaml:"arena_root"`
	ArenaSoftQuotaMB int64  `yaml:"arena_soft_quota_mb"`

	DispatchGlobalConcurrency     int `yaml:"dispatch_global_concurrency"`
	DispatchPerEndpointConcurrency int `yaml:"dispatch_per_endpoint_concurrency"`

	PostThreshold int `yaml:"post_threshold"`
	MaxBodyBytes  int `yaml:"max_body_bytes"`

	MetricsBind string `yaml:"metrics_bind"`
}

// NodeConfig names one EIDA data center's routing configuration
// source, the YAML form of harvester.Node.
type NodeConfig struct {
	ID               string `yaml:"id"`
	RoutingConfigURL string `yaml:"routing_config_url"`
}

// Default returns a Config with the built-in defaults, the base layer
// beneath any YAML file or flag override.
func Default() Config {
	return Config{
		HTTPBind:                       ":8080",
		CatalogBackend:                 "memory",
		HarvestInterval:                time.Hour,
		ArenaRoot:                      "/var/tmp/federator",
		ArenaSoftQuotaMB:               1024,
		DispatchGlobalConcurrency:      16,
		DispatchPerEndpointConcurrency: 4,
		PostThreshold:                  500,
		MaxBodyBytes:                   100 * 1024,
		MetricsBind:                    ":9090",
	}
}

// LoadFile reads a YAML file and merges it over base, returning the
// merged Config. Fields absent from the file keep base's value: this
// is achieved by unmarshaling directly into a copy of base rather
// than into a zero Config.
func LoadFile(path string, base Config) (Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return base, err
	}
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, err
	}
	return cfg, nil
}
