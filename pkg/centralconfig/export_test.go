package centralconfig

import "github.com/prometheus/client_golang/prometheus"

func FetchesCounter(m *Metrics, outcome string) prometheus.Counter {
	return m.fetches.WithLabelValues(outcome)
}

func UpdatesCounter(m *Metrics) prometheus.Counter { return m.updates }
