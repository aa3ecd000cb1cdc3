package telemetry

import (
	"fmt"
	"runtime"

	"github.com/grafana/pyroscope-go"
)

// Runtime sampler settings applied when mutex or block profiles are
// requested; both default to off in the Go runtime.
const (
	mutexProfileFraction = 5
	blockProfileRate     = 5
)

// profileTypes maps config names onto Pyroscope profile types.
var profileTypes = map[string]pyroscope.ProfileType{
	"cpu":            pyroscope.ProfileCPU,
	"alloc_objects":  pyroscope.ProfileAllocObjects,
	"alloc_space":    pyroscope.ProfileAllocSpace,
	"inuse_objects":  pyroscope.ProfileInuseObjects,
	"inuse_space":    pyroscope.ProfileInuseSpace,
	"goroutines":     pyroscope.ProfileGoroutines,
	"mutex_count":    pyroscope.ProfileMutexCount,
	"mutex_duration": pyroscope.ProfileMutexDuration,
	"block_count":    pyroscope.ProfileBlockCount,
	"block_duration": pyroscope.ProfileBlockDuration,
}

var profilingEnabled bool

// InitProfiling starts Pyroscope continuous profiling. The returned
// shutdown stops the profiler; it is a no-op when profiling is disabled.
func InitProfiling(cfg ProfilingConfig) (func() error, error) {
	if !cfg.Enabled {
		profilingEnabled = false
		return func() error { return nil }, nil
	}

	types := make([]pyroscope.ProfileType, 0, len(cfg.ProfileTypes))
	for _, name := range cfg.ProfileTypes {
		pt, ok := profileTypes[name]
		if !ok {
			return nil, fmt.Errorf("unknown profile type %q", name)
		}
		types = append(types, pt)

		// Mutex and block profiles need their runtime samplers
		// switched on to produce data.
		switch name {
		case "mutex_count", "mutex_duration":
			runtime.SetMutexProfileFraction(mutexProfileFraction)
		case "block_count", "block_duration":
			runtime.SetBlockProfileRate(blockProfileRate)
		}
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.ServiceName,
		ServerAddress:   cfg.Endpoint,
		Tags:            map[string]string{"version": cfg.ServiceVersion},
		ProfileTypes:    types,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start profiler: %w", err)
	}

	profilingEnabled = true
	return profiler.Stop, nil
}

// IsProfilingEnabled reports whether profiles are being uploaded.
func IsProfilingEnabled() bool {
	return profilingEnabled
}
