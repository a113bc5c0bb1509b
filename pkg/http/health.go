package http

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"callinsight-server/pkg/version"
)

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Version   string                 `json:"version"`
	Checks    map[string]CheckResult `json:"checks"`
	System    SystemInfo             `json:"system"`
}

// CheckResult represents an individual health check result
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SystemInfo contains system resource information
type SystemInfo struct {
	GoRoutines int    `json:"goroutines"`
	MemoryMB   uint64 `json:"memory_mb"`
	CPUCount   int    `json:"cpu_count"`
	WSClients  int    `json:"ws_clients"`
}

// HealthHandler reports overall service health with per-component checks.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Version:   version.Version,
		Checks:    make(map[string]CheckResult),
	}

	if s.deps.Transcriber != nil {
		health.Checks["transcription"] = CheckResult{
			Status:  "healthy",
			Message: "provider: " + s.deps.Transcriber.Name(),
		}
	} else {
		health.Checks["transcription"] = CheckResult{
			Status:  "unhealthy",
			Message: "transcription provider not configured",
		}
		health.Status = "degraded"
	}

	if s.deps.AudioDiarizer != nil {
		health.Checks["diarization"] = CheckResult{
			Status:  "healthy",
			Message: "strategy: " + s.deps.AudioDiarizer.Name(),
		}
	} else {
		health.Checks["diarization"] = CheckResult{
			Status:  "degraded",
			Message: "audio diarizer not configured, heuristic fallback only",
		}
		if health.Status == "healthy" {
			health.Status = "degraded"
		}
	}

	if s.deps.EventHub != nil && s.deps.EventHub.IsRunning() {
		health.Checks["websocket"] = CheckResult{
			Status:  "healthy",
			Message: "event hub is running",
		}
		health.System.WSClients = s.deps.EventHub.ClientCount()
	} else {
		health.Checks["websocket"] = CheckResult{
			Status:  "degraded",
			Message: "event hub not running",
		}
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	health.System.GoRoutines = runtime.NumGoroutine()
	health.System.MemoryMB = mem.Alloc / 1024 / 1024
	health.System.CPUCount = runtime.NumCPU()

	w.Header().Set("Content-Type", "application/json")
	if health.Status == "healthy" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(health)
}

// LivenessHandler answers liveness probes. If this handler runs at all
// the process is alive.
func (s *Server) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ReadinessHandler answers readiness probes: the service is ready when
// at least the transcription provider is wired.
func (s *Server) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ready := s.deps.Transcriber != nil

	w.Header().Set("Content-Type", "application/json")
	if ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"ready":     ready,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
