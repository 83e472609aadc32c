package valve

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricNamespace = "gpio_valve"
)

var (
	actuations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricNamespace,
		Name:      "actuations_total",
		Help:      "Number of completed valve moves",
	}, []string{"valve", "action"})
	closedGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricNamespace,
		Name:      "closed",
		Help:      "1 when the valve is assumed closed",
	}, []string{"valve"})
	gpioErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricNamespace,
		Name:      "gpio_errors_total",
		Help:      "Number of valve moves aborted by a GPIO failure",
	}, []string{"valve"})
	restores = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricNamespace,
		Name:      "restores_total",
		Help:      "Number of startup restorations by outcome",
	}, []string{"valve", "outcome"})
)
