// Package scenarios registers every scenario group with the registry.
package scenarios

import (
	_ "github.com/st3v3nmw/quorumcheck/scenarios/quorum"
)
