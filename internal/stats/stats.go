package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"time"
)

// StatsProvider is the metrics surface handed to the chat server. Counters
// and gauges share the same Incr/Decr pair; a gauge is just a counter that
// also goes down.
type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	Run()
}

// StatsUpdater applies metric deltas from a single goroutine, so callers
// never contend on the expvar map.
type StatsUpdater struct {
	vars      *expvar.Map
	deltaChan chan metricDelta
}

type metricDelta struct {
	name  string
	value int64
}

func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		deltaChan: make(chan metricDelta, 512),
		vars:      expvar.NewMap("chat-stats"),
	}
	mux.Handle("GET /debug/vars", http.HandlerFunc(su.serveVars))

	startTime := time.Now()
	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))

	return su
}

// serveVars renders only this server's metrics, not the process-wide expvar
// namespace.
func (su *StatsUpdater) serveVars(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	data := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var value any
		json.Unmarshal([]byte(kv.Value.String()), &value)
		data[kv.Key] = value
	})

	json.NewEncoder(w).Encode(data)
}

func (su *StatsUpdater) applyDeltas() {
	for d := range su.deltaChan {
		metric := su.vars.Get(d.name)
		if metric == nil {
			panic("metric not found: " + d.name)
		}

		metric.(*expvar.Int).Add(d.value)
	}
}

func (su *StatsUpdater) Incr(name string) {
	su.deltaChan <- metricDelta{name: name, value: 1}
}

func (su *StatsUpdater) Decr(name string) {
	su.deltaChan <- metricDelta{name: name, value: -1}
}

// RegisterMetric must be called before the first Incr/Decr of a metric;
// deltas for unregistered names panic the apply loop.
func (su *StatsUpdater) RegisterMetric(name string) {
	su.vars.Set(name, expvar.NewInt(name))
}

func (su *StatsUpdater) Run() {
	go su.applyDeltas()
}

func (su *StatsUpdater) Stop() {
	close(su.deltaChan)
}
