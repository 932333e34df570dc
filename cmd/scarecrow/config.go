package main

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jacentio/scarecrow/store"
	"github.com/jacentio/scarecrow/store/dynamo"
)

// fileConfig is the YAML configuration file.
//
//	region: eu-west-1
//	entity_table: shop_entities
//	index_table_prefix: shop_index_
//	num_shards: 4
//	indexes:
//	  - name: color
//	    type: text
//	  - name: price
//	    attribute: unit_price
//	    type: float
type fileConfig struct {
	Region            string        `yaml:"region"`
	Profile           string        `yaml:"profile"`
	EntityTable       string        `yaml:"entity_table"`
	IndexTablePrefix  string        `yaml:"index_table_prefix"`
	NumShards         int           `yaml:"num_shards"`
	NonTransactional  bool          `yaml:"non_transactional"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Indexes           []indexConfig `yaml:"indexes"`
}

type indexConfig struct {
	Name      string `yaml:"name"`
	Attribute string `yaml:"attribute"`
	Type      string `yaml:"type"`
}

func loadConfig(path string) (*fileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return parseConfig(raw)
}

func parseConfig(raw []byte) (*fileConfig, error) {
	var cfg fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// specs resolves the declared index types.
func (c *fileConfig) specs() ([]store.IndexSpec, error) {
	specs := make([]store.IndexSpec, 0, len(c.Indexes))
	for _, ic := range c.Indexes {
		kind, err := store.ParseKind(ic.Type)
		if err != nil {
			return nil, fmt.Errorf("index %q: %w", ic.Name, err)
		}
		specs = append(specs, store.IndexSpec{
			Name:      ic.Name,
			Attribute: ic.Attribute,
			Kind:      kind,
		})
	}
	return specs, nil
}

// backendConfig maps the file settings onto dynamo.Config. Unset fields keep
// their defaults.
func (c *fileConfig) backendConfig() dynamo.Config {
	cfg := dynamo.DefaultConfig()
	if c.EntityTable != "" {
		cfg.EntityTable = c.EntityTable
	}
	if c.IndexTablePrefix != "" {
		cfg.IndexTablePrefix = c.IndexTablePrefix
	}
	if c.NumShards != 0 {
		cfg.NumShards = c.NumShards
	}
	cfg.NonTransactional = c.NonTransactional
	cfg.RequestsPerSecond = c.RequestsPerSecond
	return cfg
}
