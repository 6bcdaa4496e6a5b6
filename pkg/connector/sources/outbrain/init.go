package outbrain

import (
	"github.com/ajitpratap0/tap-outbrain/pkg/config"
	"github.com/ajitpratap0/tap-outbrain/pkg/connector/core"
	"github.com/ajitpratap0/tap-outbrain/pkg/connector/registry"
)

func init() {
	// Register the Outbrain source connector in the global registry
	_ = registry.RegisterSource(SourceName, func(*config.TapConfig) (core.Source, error) {
		return NewOutbrainSource(), nil
	})
	registry.RegisterInfo(&core.ConnectorMetadata{
		Name:         SourceName,
		Type:         core.ConnectorTypeSource,
		Version:      Version,
		Description:  "Outbrain Amplify campaigns, promoted links and daily performance",
		Capabilities: []string{"discover", "sync", "state"},
	})
}
