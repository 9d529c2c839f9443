package idgen

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Initialize sets up the Snowflake node used for request IDs.
// Only the first call has any effect.
func Initialize(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// NewRequestID returns a fresh correlation ID for an outgoing API call
func NewRequestID() string {
	// No-op once a node exists
	_ = Initialize(1)
	return node.Generate().String()
}
