package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Métricas del core OAuth. Viven en un paquete aparte para que oauth y cache
// no dependan uno del otro.

const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
	ResultHit     = "hit"
	ResultMiss    = "miss"
)

var (
	TokensIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oauth_tokens_issued_total",
		Help: "Token requests por grant type y resultado",
	}, []string{"grant_type", "result"})

	TokenIssueLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "oauth_token_issue_latency_ms",
		Help:    "Latencia de emisión de tokens en milisegundos",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"grant_type"})

	Authorizations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oauth_authorize_total",
		Help: "Authorize requests por response type y resultado",
	}, []string{"response_type", "result"})

	Revocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oauth_revocations_total",
		Help: "Revocation requests por resultado (success, noop, error)",
	}, []string{"result"})

	IDTokens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oauth_id_tokens_total",
		Help: "ID tokens construidos por resultado",
	}, []string{"result"})

	TokenCacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oauth_token_cache_lookups_total",
		Help: "Lookups del token cache por path y resultado",
	}, []string{"path", "result"})
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{TokensIssued, TokenIssueLatency, Authorizations, Revocations, IDTokens, TokenCacheLookups}
}

// Register registra las métricas en reg (o el default si es nil).
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

func result(ok bool) string {
	if ok {
		return ResultSuccess
	}
	return ResultError
}

// ObserveIssue registra una emisión de tokens.
func ObserveIssue(grantType string, ok bool, took time.Duration) {
	if grantType == "" {
		grantType = "unknown"
	}
	TokensIssued.WithLabelValues(grantType, result(ok)).Inc()
	TokenIssueLatency.WithLabelValues(grantType).Observe(float64(took.Milliseconds()))
}

// ObserveAuthorize registra un authorize.
func ObserveAuthorize(responseType string, ok bool) {
	if responseType == "" {
		responseType = "unknown"
	}
	Authorizations.WithLabelValues(responseType, result(ok)).Inc()
}

// ObserveRevocation registra una revocación; res es ResultSuccess, ResultNoop o ResultError.
func ObserveRevocation(res string) { Revocations.WithLabelValues(res).Inc() }

// ObserveIDToken registra la construcción de un ID token.
func ObserveIDToken(ok bool) { IDTokens.WithLabelValues(result(ok)).Inc() }

// ObserveCacheLookup es compatible con cache.LookupObserver.
func ObserveCacheLookup(path string, hit bool) {
	r := ResultMiss
	if hit {
		r = ResultHit
	}
	TokenCacheLookups.WithLabelValues(path, r).Inc()
}
