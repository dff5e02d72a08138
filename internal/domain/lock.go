package domain

import "time"

// ProcessLock is the serialized single-instance lock record of spec §3/§6.4.
type ProcessLock struct {
	PID            int       `json:"pid"`
	StartedAt      time.Time `json:"startedAt"`
	Port           int       `json:"port"`
	RuntimeVersion string    `json:"runtimeVersion"`
	InstanceID     string    `json:"instanceId"`
}
