package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	OperationsExecuted    Counter
	OperationsFailed      Counter
	DeviationsDetected    Counter
	InterventionsApplied  Counter
	InterventionsRestored Counter
	InterventionsFailed   Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		OperationsExecuted:    n,
		OperationsFailed:      n,
		DeviationsDetected:    n,
		InterventionsApplied:  n,
		InterventionsRestored: n,
		InterventionsFailed:   n,
	}
}
