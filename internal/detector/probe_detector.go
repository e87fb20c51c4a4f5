package detector

import "context"

// ProbeDetector treats a successful probe as alive. Probe errors mean "not yet" and
// are not reported, which is what readiness polling wants.
type ProbeDetector struct {
	Name  string
	Probe func(ctx context.Context) error
}

func (d ProbeDetector) Alive(ctx context.Context) (bool, error) {
	if d.Probe == nil {
		return false, nil
	}
	return d.Probe(ctx) == nil, nil
}

func (d ProbeDetector) Describe() string { return "probe:" + d.Name }
