// Copyright (c) 2026 The Drip developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drip-labs/drip/drip"
)

func TestLoadConfig(t *testing.T) {
	raw := `
genesis: 1767225600
epochLength: 1209600
boostLength: 104
management: "0x7567d83b7b8d80addcb281a71d54fc7b3364ffed"
lockerScales: [1, 4, 1]
apiAddr: "localhost:8668"
`
	path := filepath.Join(t.TempDir(), "drip.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0600))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(1767225600), cfg.Genesis)
	assert.Equal(t, []uint64{1, 4, 1}, cfg.LockerScales)

	ledgerCfg, err := cfg.ledgerConfig()
	require.NoError(t, err)
	assert.Equal(t, drip.MustParseAddress("0x7567d83b7b8d80addcb281a71d54fc7b3364ffed"), ledgerCfg.Management)
	assert.Equal(t, uint64(1209600), ledgerCfg.EpochLength)
}

func TestLoadConfigMissing(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLedgerConfigBadManagement(t *testing.T) {
	cfg := &Config{Management: "not-an-address"}
	_, err := cfg.ledgerConfig()
	assert.Error(t, err)
}
