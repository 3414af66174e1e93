package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "lev_periphery"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	operationsExecuted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "operations_executed_total",
		Help:      "Total number of leverage operations executed.",
	})
	operationsFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "operations_failed_total",
		Help:      "Total number of leverage operation failures.",
	})
	deviationsDetected := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "deviations_detected_total",
		Help:      "Total number of price deviations detected.",
	})
	interventionsApplied := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "interventions_applied_total",
		Help:      "Total number of safety interventions applied.",
	})
	interventionsRestored := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "interventions_restored_total",
		Help:      "Total number of safety interventions reversed.",
	})
	interventionsFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "interventions_failed_total",
		Help:      "Total number of failed intervention attempts.",
	})

	registry.MustRegister(operationsExecuted, operationsFailed, deviationsDetected, interventionsApplied, interventionsRestored, interventionsFailed)

	m := &Metrics{
		OperationsExecuted:    promCounter{operationsExecuted},
		OperationsFailed:      promCounter{operationsFailed},
		DeviationsDetected:    promCounter{deviationsDetected},
		InterventionsApplied:  promCounter{interventionsApplied},
		InterventionsRestored: promCounter{interventionsRestored},
		InterventionsFailed:   promCounter{interventionsFailed},
	}

	return &Prometheus{
		Metrics:  m,
		registry: registry,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
