package stage

import "context"

// Health is the readiness of a stage or one of its dependencies as reported
// on the daemon status endpoint.
type Health struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

func Unhealthy(name, detail string) Health {
	return Health{Name: name, Detail: detail}
}

// FromError converts a probe error into a Health record.
func FromError(name string, err error) Health {
	if err != nil {
		return Unhealthy(name, err.Error())
	}
	return Healthy(name)
}

// Probe adapts an error-returning readiness check, such as a database ping,
// into a Checker. A Probe without Check is always ready.
type Probe struct {
	Name  string
	Check func(context.Context) error
}

func (p Probe) HealthCheck(ctx context.Context) Health {
	if p.Check == nil {
		return Healthy(p.Name)
	}
	return FromError(p.Name, p.Check(ctx))
}
