// Package ports defines interfaces for the collaborators of the pipeline.
package ports

// CapabilityProbe reports whether an accelerated video encoder is available.
type CapabilityProbe interface {
	// Supported reports availability. It must be synchronous and free of side effects.
	Supported() bool
}

// ProbeFunc adapts a function to CapabilityProbe.
type ProbeFunc func() bool

// Supported implements CapabilityProbe.
func (f ProbeFunc) Supported() bool {
	return f()
}
