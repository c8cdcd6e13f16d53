package telemetry

import (
	"fmt"
	"time"
)

// Policy selects the topic layout and payload format.
type Policy string

const (
	// PolicyScalar publishes humidity and temperature as bare numbers
	// to two topics.
	PolicyScalar Policy = "scalar"
	// PolicyStructured publishes a single JSON document per sample.
	PolicyStructured Policy = "structured"
)

// ParsePolicy validates s as a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyScalar, PolicyStructured:
		return p, nil
	default:
		return "", fmt.Errorf("unknown telemetry policy %q", s)
	}
}

// DefaultInterval is the publish cadence used when none is configured.
func (p Policy) DefaultInterval() time.Duration {
	if p == PolicyStructured {
		return 5 * time.Minute
	}
	return time.Minute
}
