// Copyright (c) 2026 The Drip developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package api

import (
	"net/http"
	"time"

	"github.com/drip-labs/drip/log"
)

// requestLoggerHandler logs every request before dispatching it.
func requestLoggerHandler(handler http.Handler, logger log.Logger) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		logger.Info("api request",
			"timestamp", time.Now().Unix(),
			"uri", r.URL.String(),
			"method", r.Method,
		)
		handler.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}
