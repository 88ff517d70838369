// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"github.com/pelletier/go-toml/v2"
)

// Config is overlayctl's on-disk configuration.
type Config struct {
	DataDir   string            `toml:"data_dir"`
	CacheSize datasize.ByteSize `toml:"cache_size"`
	LogLevel  string            `toml:"log_level"`
}

func defaultConfig() Config {
	return Config{
		DataDir:   "./overlay-data",
		CacheSize: 16 * datasize.MB,
		LogLevel:  "info",
	}
}

// loadConfig reads a TOML config file, falling back to defaultConfig
// for any field the file omits (and for every field when path is
// empty).
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// cacheEntries converts the configured byte budget into an LRU
// entry-count hint for bboltbackend.Open, assuming ~128 bytes per
// cached entry.
func (c Config) cacheEntries() int {
	const avgEntryBytes = 128
	if c.CacheSize == 0 {
		return 0
	}
	n := int(c.CacheSize.Bytes() / avgEntryBytes)
	if n < 1 {
		n = 1
	}
	return n
}
