package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// HealthStatus is the ordinal health of one subsystem.
type HealthStatus int

const (
	HealthUnknown HealthStatus = iota
	HealthHealthy
	HealthDegraded
	HealthUnhealthy
)

var healthStatusNames = [...]string{"Unknown", "Healthy", "Degraded", "Unhealthy"}

func (s HealthStatus) String() string {
	if s < HealthUnknown || s > HealthUnhealthy {
		return healthStatusNames[HealthUnknown]
	}
	return healthStatusNames[s]
}

// ParseHealthStatus maps a case-insensitive status name to its HealthStatus.
func ParseHealthStatus(name string) (HealthStatus, error) {
	for i, n := range healthStatusNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return HealthStatus(i), nil
		}
	}
	return HealthUnknown, fmt.Errorf("unknown health status %q", name)
}

func (s HealthStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the ordinal (0..3) or the status name.
func (s *HealthStatus) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = HealthUnknown
		return nil
	}

	if len(data) > 0 && data[0] != '"' {
		n, err := strconv.Atoi(string(data))
		if err != nil {
			return fmt.Errorf("invalid health status %s: %w", data, err)
		}
		if n < int(HealthUnknown) || n > int(HealthUnhealthy) {
			return fmt.Errorf("health status %d out of range", n)
		}
		*s = HealthStatus(n)
		return nil
	}

	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseHealthStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// SubsystemHealth is the health record of one subsystem. The zero value is
// an Unknown status with no heartbeat and no message.
type SubsystemHealth struct {
	Status        HealthStatus `json:"status"`
	LastHeartbeat *time.Time   `json:"lastHeartbeat,omitempty"`
	Message       *string      `json:"message,omitempty"`
}

// HealthResponse is the full health snapshot (GET /api/health and the
// SystemHealthUpdated event). Systems is keyed by subsystem name; null
// entries are treated as absent.
type HealthResponse struct {
	Systems     map[string]*SubsystemHealth `json:"systems,omitempty"`
	LastUpdated *time.Time                  `json:"lastUpdated,omitempty"`
}
