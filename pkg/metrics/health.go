package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Overall states reported by /health and /ready
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusFailing  = "unhealthy"
	StatusReady    = "ready"
	StatusNotReady = "not_ready"
)

// Report is the JSON body of the health endpoints
type Report struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Instances  map[string]string `json:"instances,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// criticalComponents must all be registered and healthy before the daemon
// reports ready
var criticalComponents = []string{"spec", "cache", "reconciler"}

var registry = newRegistry()

type entry struct {
	healthy bool
	message string
	updated time.Time
}

func (e entry) describe() string {
	if e.healthy {
		return StatusHealthy
	}
	return "unhealthy: " + e.message
}

// healthRegistry holds daemon components and supervised instances apart: a
// failing component makes the daemon unhealthy, a failing instance only
// degrades it.
type healthRegistry struct {
	mu         sync.RWMutex
	components map[string]entry
	instances  map[string]entry
	startTime  time.Time
	version    string
}

func newRegistry() *healthRegistry {
	return &healthRegistry{
		components: make(map[string]entry),
		instances:  make(map[string]entry),
		startTime:  time.Now(),
	}
}

// SetVersion sets the version string for health responses
func SetVersion(version string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.version = version
}

// RegisterComponent records the state of a daemon component
func RegisterComponent(name string, healthy bool, message string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.components[name] = entry{healthy: healthy, message: message, updated: time.Now()}
}

// UpdateComponent is RegisterComponent for components already known
func UpdateComponent(name string, healthy bool, message string) {
	RegisterComponent(name, healthy, message)
}

// SetInstanceHealth records the last folded check result of an instance
func SetInstanceHealth(name string, healthy bool, message string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.instances[name] = entry{healthy: healthy, message: message, updated: time.Now()}
}

// RemoveInstance forgets an instance that is no longer supervised
func RemoveInstance(name string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	delete(registry.instances, name)
}

func (r *healthRegistry) uptime() string {
	return time.Since(r.startTime).Truncate(time.Second).String()
}

// GetHealth folds every component and instance into one report
func GetHealth() Report {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	report := Report{
		Status:     StatusHealthy,
		Timestamp:  time.Now(),
		Components: make(map[string]string, len(registry.components)),
		Instances:  make(map[string]string, len(registry.instances)),
		Version:    registry.version,
		Uptime:     registry.uptime(),
	}

	var failing []string
	for name, e := range registry.instances {
		report.Instances[name] = e.describe()
		if !e.healthy {
			failing = append(failing, name)
			report.Status = StatusDegraded
		}
	}
	if len(failing) > 0 {
		sort.Strings(failing)
		report.Message = "instances failing: " + strings.Join(failing, ", ")
	}

	for name, e := range registry.components {
		report.Components[name] = e.describe()
		if !e.healthy {
			report.Status = StatusFailing
			report.Message = name + ": " + e.message
		}
	}
	return report
}

// GetReadiness reports ready once the spec is loaded, the caches are opened and
// the first reconciliation pass has run. Instance health does not matter here.
func GetReadiness() Report {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	report := Report{
		Status:     StatusReady,
		Timestamp:  time.Now(),
		Components: make(map[string]string, len(criticalComponents)),
		Version:    registry.version,
		Uptime:     registry.uptime(),
	}
	for _, name := range criticalComponents {
		e, ok := registry.components[name]
		switch {
		case !ok:
			report.Components[name] = "not registered"
		case !e.healthy:
			report.Components[name] = "not ready: " + e.message
		default:
			report.Components[name] = StatusReady
			continue
		}
		if report.Status == StatusReady {
			report.Status = StatusNotReady
			report.Message = "waiting for " + name
		}
	}
	return report
}

func writeReport(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// HealthHandler serves /health. A degraded daemon still answers 200.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := GetHealth()
		code := http.StatusOK
		if report.Status == StatusFailing {
			code = http.StatusServiceUnavailable
		}
		writeReport(w, code, report)
	}
}

// ReadyHandler serves /ready
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := GetReadiness()
		code := http.StatusOK
		if report.Status != StatusReady {
			code = http.StatusServiceUnavailable
		}
		writeReport(w, code, report)
	}
}

// LivenessHandler returns 200 while the daemon process is up
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		registry.mu.RLock()
		uptime := registry.uptime()
		registry.mu.RUnlock()
		writeReport(w, http.StatusOK, map[string]string{"status": "alive", "uptime": uptime})
	}
}
