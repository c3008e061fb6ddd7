// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeSignIn         = "signin"
	outcomeSticky         = "sticky"
	outcomeFresh          = "fresh"
	outcomeNoRefreshToken = "no_refresh_token"
	outcomeRefreshed      = "refreshed"
	outcomeInvalidGrant   = "invalid_grant"
	outcomeRefreshFailed  = "refresh_failed"
)

// Metrics counts materialization outcomes and times refresh exchanges. A nil
// *Metrics records nothing.
type Metrics struct {
	materialize *prometheus.CounterVec
	refresh     *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	const op = "token.NewMetrics"
	if reg == nil {
		return nil, fmt.Errorf("%s: registerer is nil: %w", op, ErrNilParameter)
	}
	m := &Metrics{
		materialize: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "token_materialize_total",
			Help: "Token record materializations by outcome.",
		}, []string{"outcome"}),
		refresh: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "token_refresh_duration_seconds",
			Help:    "Duration of refresh exchanges with the token endpoint.",
			Buckets: prometheus.DefBuckets,
		}, []string{"result"}),
	}
	for _, c := range []prometheus.Collector{m.materialize, m.refresh} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("%s: unable to register collector: %w", op, err)
		}
	}
	return m, nil
}

func (m *Metrics) observe(outcome string) {
	if m == nil {
		return
	}
	m.materialize.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeRefresh(err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	switch {
	case errors.Is(err, ErrInvalidGrant):
		result = "invalid_grant"
	case err != nil:
		result = "error"
	}
	m.refresh.WithLabelValues(result).Observe(d.Seconds())
}
