package realtime

import "context"

// Broker routes a frame to every live member of a group, wherever in the
// deployment that member's connection is served.
type Broker interface {
	Publish(ctx context.Context, g Group, frame []byte) error
}

// LocalBroker serves single-process deployments by publishing straight into
// the process registry.
type LocalBroker struct {
	registry *Registry
}

// NewLocalBroker creates a LocalBroker over registry.
func NewLocalBroker(registry *Registry) *LocalBroker {
	return &LocalBroker{registry: registry}
}

func (b *LocalBroker) Publish(_ context.Context, g Group, frame []byte) error {
	b.registry.Publish(g, frame)
	return nil
}
