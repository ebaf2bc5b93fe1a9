package node

import (
	yaml "github.com/goccy/go-yaml"

	"github.com/quoin-dev/scuttle/pkg/gossip"
)

// renderStatus renders the known metadata of each cluster member as YAML,
// for logging or printing to a terminal.
//
// This uses a separate YAML implementation to pkg/config, which parses
// on-disk configuration rather than rendering runtime state.
func renderStatus(nodes []gossip.NodeMetadata) (string, error) {
	b, err := yaml.Marshal(nodes)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
