package services

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"
)

// HealthChecker reports the state of one dependency.
type HealthChecker func(ctx context.Context) ServiceHealth

// HealthService answers health, readiness and liveness probes.
type HealthService struct {
	version   string
	checks    map[string]HealthChecker
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Version   string                   `json:"version"`
	Runtime   map[string]interface{}   `json:"runtime,omitempty"`
	Services  map[string]ServiceHealth `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// NewHealthService creates a HealthService with the named checks.
func NewHealthService(version string, checks map[string]HealthChecker, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	if checks == nil {
		checks = map[string]HealthChecker{}
	}
	return &HealthService{
		version:   version,
		checks:    checks,
		startTime: time.Now(),
		logger:    logger.With(slog.String("component", "health_service")),
	}
}

// HealthCheck returns the overall status.
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   hs.version,
	}
}

// ReadinessCheck runs every dependency check.
func (hs *HealthService) ReadinessCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    "ready",
		Timestamp: time.Now(),
		Version:   hs.version,
		Services:  make(map[string]ServiceHealth, len(hs.checks)),
	}
	for name, check := range hs.checks {
		sh := check(ctx)
		status.Services[name] = sh
		if sh.Status != "ready" {
			status.Status = "not_ready"
		}
	}
	if status.Status != "ready" {
		hs.logger.WarnContext(ctx, "readiness check failed", slog.Any("services", status.Services))
	}
	return status
}

// LivenessCheck returns process information.
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "alive",
		Timestamp: time.Now(),
		Version:   hs.version,
		Runtime: map[string]interface{}{
			"uptime":     time.Since(hs.startTime).Seconds(),
			"go_version": runtime.Version(),
			"goroutines": runtime.NumGoroutine(),
			"os":         runtime.GOOS,
			"arch":       runtime.GOARCH,
		},
	}
}

// DirectoryCheck reports whether dir exists and is a directory.
func DirectoryCheck(dir string) HealthChecker {
	return func(context.Context) ServiceHealth {
		info, err := os.Stat(dir)
		if err != nil {
			return ServiceHealth{Status: "not_ready", Message: "directory unavailable"}
		}
		if !info.IsDir() {
			return ServiceHealth{Status: "not_ready", Message: "not a directory"}
		}
		return ServiceHealth{Status: "ready"}
	}
}

// LicenseCheck reports the license as ready unless it has been tampered with.
func LicenseCheck(svc LicenseService) HealthChecker {
	return func(ctx context.Context) ServiceHealth {
		st := svc.Status(ctx)
		switch {
		case st.Tampered:
			return ServiceHealth{Status: "not_ready", Message: "license tampered"}
		case st.Activated:
			return ServiceHealth{Status: "ready", Message: "activated"}
		default:
			return ServiceHealth{Status: "ready", Message: "not activated"}
		}
	}
}
