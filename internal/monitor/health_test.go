package monitor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheckerAggregates(t *testing.T) {
	tests := []struct {
		name   string
		probes map[string]ProbeFunc
		want   HealthStatus
	}{
		{
			name: "all healthy",
			probes: map[string]ProbeFunc{
				"cache": func(context.Context) (HealthStatus, error) { return HealthStatusHealthy, nil },
				"data":  nil,
			},
			want: HealthStatusHealthy,
		},
		{
			name: "degraded wins over healthy",
			probes: map[string]ProbeFunc{
				"cache": func(context.Context) (HealthStatus, error) { return HealthStatusDegraded, nil },
				"data":  func(context.Context) (HealthStatus, error) { return HealthStatusHealthy, nil },
			},
			want: HealthStatusDegraded,
		},
		{
			name: "error without status is unhealthy",
			probes: map[string]ProbeFunc{
				"cache": func(context.Context) (HealthStatus, error) { return HealthStatusDegraded, nil },
				"redis": func(context.Context) (HealthStatus, error) { return "", errors.New("dial tcp: refused") },
			},
			want: HealthStatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shc := NewSystemHealthChecker()
			for name, probe := range tt.probes {
				shc.AddCheck(name, name+" check", probe)
			}

			report := shc.Run(context.Background())
			assert.Equal(t, tt.want, report.Status)
			assert.Len(t, report.Checks, len(tt.probes))
		})
	}
}

func TestHealthCheckerRecordsError(t *testing.T) {
	shc := NewSystemHealthChecker()
	shc.AddCheck("redis", "series cache backend", func(context.Context) (HealthStatus, error) {
		return HealthStatusDegraded, errors.New("timeout")
	})

	report := shc.Run(context.Background())
	assert.Equal(t, HealthStatusDegraded, report.Status)

	check, err := shc.GetCheck("redis")
	require.NoError(t, err)
	assert.Equal(t, "timeout", check.LastError)
	assert.Equal(t, HealthStatusDegraded, check.Status)
}

func TestHealthCheckerUnknown(t *testing.T) {
	shc := NewSystemHealthChecker()
	assert.Error(t, shc.UpdateCheck("missing", HealthStatusHealthy, ""))
	_, err := shc.GetCheck("missing")
	assert.Error(t, err)

	report := shc.Run(context.Background())
	assert.Equal(t, HealthStatusHealthy, report.Status)
	assert.Empty(t, report.Checks)
}
