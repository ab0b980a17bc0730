// Copyright (c) 2026 The Drip developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package api

import (
	"bytes"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drip-labs/drip/api/accounts"
	"github.com/drip-labs/drip/api/components"
	"github.com/drip-labs/drip/api/epochs"
	"github.com/drip-labs/drip/drip"
	"github.com/drip-labs/drip/ledger"
	"github.com/drip-labs/drip/lvldb"
	"github.com/drip-labs/drip/metrics"
)

var (
	management = drip.BytesToAddress([]byte("management"))
	alice      = drip.BytesToAddress([]byte("alice"))
	unit       = new(big.Int).SetUint64(1e18)
)

func newTestServer(t *testing.T, opts Options) (*ledger.Ledger, *httptest.Server) {
	db, err := lvldb.NewMem()
	require.NoError(t, err)
	// a recent genesis keeps the handlers' time.Now views within epoch zero
	genesis := uint64(time.Now().Unix()) - drip.EpochLength/2
	l, err := ledger.New(db, ledger.Config{Genesis: genesis, Management: management})
	require.NoError(t, err)

	ts := httptest.NewServer(New(l, opts))
	t.Cleanup(ts.Close)
	return l, ts
}

func httpGetJSON(t *testing.T, url string, v interface{}) int {
	res, err := http.Get(url)
	require.NoError(t, err)
	defer res.Body.Close()
	if v != nil && res.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(res.Body).Decode(v))
	}
	return res.StatusCode
}

func TestGetEpoch(t *testing.T) {
	l, ts := newTestServer(t, Options{})
	now := uint64(time.Now().Unix())
	current, err := l.CurrentEpoch(now)
	require.NoError(t, err)

	require.NoError(t, l.Mint(management, alice, unit))
	require.NoError(t, l.Approve(alice, ledger.AddrAggregator, unit))
	require.NoError(t, l.Deposit(alice, current, unit, now))

	var summary epochs.Summary
	code := httpGetJSON(t, ts.URL+"/epochs/current", &summary)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, current, summary.Index)
	assert.False(t, summary.Finalized)
	assert.Equal(t, unit, (*big.Int)(&summary.Rewards))
	assert.Equal(t, summary.Start+drip.EpochLength, summary.End)

	code = httpGetJSON(t, ts.URL+"/epochs/notanumber", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestGetAccount(t *testing.T) {
	l, ts := newTestServer(t, Options{})
	require.NoError(t, l.Mint(management, alice, unit))

	var acc accounts.Account
	code := httpGetJSON(t, ts.URL+"/accounts/"+alice.String(), &acc)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, unit, (*big.Int)(&acc.Balance))
	assert.Equal(t, new(big.Int), (*big.Int)(&acc.Staked))
	assert.Equal(t, new(big.Int), (*big.Int)(&acc.Weight))

	var pending accounts.Pending
	code = httpGetJSON(t, ts.URL+"/accounts/"+alice.String()+"/pending", &pending)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, new(big.Int), (*big.Int)(&pending.Total))

	code = httpGetJSON(t, ts.URL+"/accounts/0x", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestListComponents(t *testing.T) {
	l, ts := newTestServer(t, Options{})
	now := uint64(time.Now().Unix())
	require.NoError(t, l.AddComponent(management, ledger.AddrStakingDist, 1, 1, drip.ComponentsSentinel, now))

	var entries []components.Entry
	code := httpGetJSON(t, ts.URL+"/components", &entries)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.AddrStakingDist, entries[0].Address)
	assert.Equal(t, uint64(1), entries[0].ScaleNum)

	var entry components.Entry
	code = httpGetJSON(t, ts.URL+"/components/"+ledger.AddrStakingDist.String(), &entry)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, ledger.AddrStakingDist, entry.Address)

	code = httpGetJSON(t, ts.URL+"/components/"+alice.String(), nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestMetricsMiddleware(t *testing.T) {
	metrics.InitializePrometheusMetrics()

	_, ts := newTestServer(t, Options{EnableMetrics: true})

	router := mux.NewRouter()
	router.PathPrefix("/metrics").Handler(metrics.HTTPHandler())
	ms := httptest.NewServer(router)
	t.Cleanup(ms.Close)

	httpGetJSON(t, ts.URL+"/components", nil)
	httpGetJSON(t, ts.URL+"/accounts/0x", nil)

	res, err := http.Get(ms.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	require.NoError(t, err)

	parser := expfmt.TextParser{}
	families, err := parser.TextToMetricFamilies(bytes.NewReader(body))
	require.NoError(t, err)

	family, ok := families["drip_metrics_api_request_count"]
	require.True(t, ok)
	assert.NotEmpty(t, family.GetMetric())
}
