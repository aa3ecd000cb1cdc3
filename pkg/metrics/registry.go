// Package metrics provides optional Prometheus collection for the staging
// service.
//
// Collection is disabled until InitRegistry is called. Every New*Metrics
// constructor returns nil while disabled, and the instrumented packages
// treat a nil interface as "skip collection", so the disabled path costs a
// nil check and nothing else.
//
// The Prometheus implementations live in pkg/metrics/prometheus and
// register their constructors during package initialization, so binaries
// opt in with a blank import:
//
//	import _ "github.com/stagefs/stagefs/pkg/metrics/prometheus"
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu       sync.RWMutex
	registry *prometheus.Registry
)

// InitRegistry creates the process-wide registry with the standard Go and
// process collectors. Calling it again is a no-op. Metrics instances
// created before the call stay nil; initialize before building the
// services that should be observed.
func InitRegistry() {
	mu.Lock()
	defer mu.Unlock()
	if registry != nil {
		return
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry = reg
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return registry != nil
}

// GetRegistry returns the process-wide registry, nil while disabled.
func GetRegistry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	return registry
}

// Handler serves the registry in the Prometheus exposition format. While
// disabled it serves 404.
func Handler() http.Handler {
	reg := GetRegistry()
	if reg == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
