package shared

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ServiceMetrics tracks request counts and success rates for a pipeline
// component. Extraction is best-effort, so the success rate here is the
// main signal that a source's page structure has drifted.
type ServiceMetrics struct {
	ServiceName           string                 `json:"service_name"`
	TotalRequests         int64                  `json:"total_requests"`
	SuccessfulRequests    int64                  `json:"successful_requests"`
	FailedRequests        int64                  `json:"failed_requests"`
	TotalProcessingTime   time.Duration          `json:"total_processing_time"`
	AverageProcessingTime time.Duration          `json:"average_processing_time"`
	LastUpdated           time.Time              `json:"last_updated"`
	CustomMetrics         map[string]interface{} `json:"custom_metrics"`
	mutex                 sync.RWMutex
}

// NewServiceMetrics creates a new metrics tracker for a service
func NewServiceMetrics(serviceName string) *ServiceMetrics {
	return &ServiceMetrics{
		ServiceName:   serviceName,
		LastUpdated:   time.Now(),
		CustomMetrics: make(map[string]interface{}),
	}
}

// RecordRequest records a request with its success status and processing time
func (m *ServiceMetrics) RecordRequest(success bool, processingTime time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.TotalRequests++
	m.TotalProcessingTime += processingTime
	m.AverageProcessingTime = time.Duration(int64(m.TotalProcessingTime) / m.TotalRequests)

	if success {
		m.SuccessfulRequests++
	} else {
		m.FailedRequests++
	}

	m.LastUpdated = time.Now()
}

// IncrementCounter bumps a named custom counter.
func (m *ServiceMetrics) IncrementCounter(name string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	current, _ := m.CustomMetrics[name].(int64)
	m.CustomMetrics[name] = current + 1
	m.LastUpdated = time.Now()
}

// GetSuccessRate returns the success rate as a percentage
func (m *ServiceMetrics) GetSuccessRate() float64 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if m.TotalRequests == 0 {
		return 0.0
	}
	return float64(m.SuccessfulRequests) / float64(m.TotalRequests) * 100.0
}

// Snapshot returns a copy of the current metric values for reporting.
func (m *ServiceMetrics) Snapshot() map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snapshot := map[string]interface{}{
		"service_name":            m.ServiceName,
		"total_requests":          m.TotalRequests,
		"successful_requests":     m.SuccessfulRequests,
		"failed_requests":         m.FailedRequests,
		"average_processing_time": m.AverageProcessingTime.String(),
		"last_updated":            m.LastUpdated,
	}
	for key, value := range m.CustomMetrics {
		snapshot[key] = value
	}
	return snapshot
}

// LogSummary logs current counters with structured fields
func (m *ServiceMetrics) LogSummary() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	logrus.WithFields(logrus.Fields{
		"service_name":        m.ServiceName,
		"total_requests":      m.TotalRequests,
		"successful_requests": m.SuccessfulRequests,
		"failed_requests":     m.FailedRequests,
		"avg_processing_time": m.AverageProcessingTime,
	}).Info("Service metrics summary")
}
