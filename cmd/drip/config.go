// Copyright (c) 2026 The Drip developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/drip-labs/drip/drip"
	"github.com/drip-labs/drip/ledger"
)

// Config is the yaml daemon configuration.
type Config struct {
	// Genesis is the unix timestamp epoch counting starts from.
	Genesis uint64 `yaml:"genesis"`
	// EpochLength in seconds, defaults to fourteen days.
	EpochLength uint64 `yaml:"epochLength"`
	// BoostLength in epochs for the locker boost decay.
	BoostLength uint64 `yaml:"boostLength"`
	// Management is the governing address, hex encoded.
	Management string `yaml:"management"`
	// LockerScales lists the per-bucket underlying-per-unit scales.
	LockerScales []uint64 `yaml:"lockerScales"`
	// APIAddr is the listen address of the read-only HTTP API.
	APIAddr string `yaml:"apiAddr"`
}

func loadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}
	return &cfg, nil
}

func (c *Config) ledgerConfig() (ledger.Config, error) {
	management, err := drip.ParseAddress(c.Management)
	if err != nil {
		return ledger.Config{}, errors.Wrap(err, "bad management address")
	}
	return ledger.Config{
		Genesis:      c.Genesis,
		EpochLength:  c.EpochLength,
		BoostLength:  c.BoostLength,
		Management:   *management,
		LockerScales: c.LockerScales,
	}, nil
}
