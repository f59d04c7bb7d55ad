package engine

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wasmtier/wasmtier/wasmerr"
)

const metricsNamespace = "wasmtier"

// metrics are the collectors of one Engine. They are registered on the Registerer given in Config, if any.
type metrics struct {
	compilations    *prometheus.CounterVec
	cacheHits       prometheus.Counter
	compileDuration prometheus.Histogram
	calls           *prometheus.CounterVec
	traps           *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		compilations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "compilations_total",
			Help:      "total number of modules compiled, excluding cache hits",
		}, []string{"strategy"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "compile_cache_hits_total",
			Help:      "total number of compilations served from the cache",
		}),
		compileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "compile_duration_seconds",
			Help:      "time to decode, validate and compile a module",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "calls_total",
			Help:      "total number of exported function calls by result",
		}, []string{"result"}),
		traps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "traps_total",
			Help:      "total number of traps by kind",
		}, []string{"kind"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.compilations, m.cacheHits, m.compileDuration, m.calls, m.traps} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// observeCall counts a call by its result: "ok", "trap" or "error".
func (m *metrics) observeCall(err error) {
	var werr *wasmerr.Error
	switch {
	case err == nil:
		m.calls.WithLabelValues("ok").Inc()
	case errors.As(err, &werr) && werr.Kind == wasmerr.KindTrap:
		m.calls.WithLabelValues("trap").Inc()
		m.traps.WithLabelValues(string(werr.Trap)).Inc()
	default:
		m.calls.WithLabelValues("error").Inc()
	}
}
