package main

import (
	"encoding/json"
	"net/http"

	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type statusBody struct {
	Breakers    []domain.BreakerSnapshot `json:"breakers"`
	Concurrency *slotStatus              `json:"concurrency,omitempty"`
	Stats       map[string]int64         `json:"stats,omitempty"`
}

type slotStatus struct {
	Cap   int `json:"cap"`
	InUse int `json:"inUse"`
}

// statusHandler expõe o estado dos breakers, das vagas e dos contadores de decisão.
// Fica fora da cadeia de admissão.
func statusHandler(breakers *application.Breakers, slots domain.SlotUsage, st stats) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := statusBody{Breakers: breakers.Snapshots()}
		if slots != nil && slots.Cap() > 0 {
			body.Concurrency = &slotStatus{Cap: slots.Cap(), InUse: slots.InUse()}
		}

		switch {
		case st.memory != nil:
			t := st.memory.Total()
			body.Stats = map[string]int64{
				string(domain.OutcomeAdmitted):       t.Admitted,
				string(domain.OutcomeDenied):         t.Denied,
				string(domain.OutcomeThrottled):      t.Throttled,
				string(domain.OutcomeShortCircuited): t.ShortCircuited,
			}
		case st.reader != nil:
			var rm metricdata.ResourceMetrics
			if err := st.reader.Collect(r.Context(), &rm); err == nil {
				body.Stats = sumCounters(rm)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	})
}

func sumCounters(rm metricdata.ResourceMetrics) map[string]int64 {
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				out[m.Name] += dp.Value
			}
		}
	}
	return out
}
