package utils

import (
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	node     *snowflake.Node
	nodeOnce sync.Once
	nodeErr  error
)

// InitIDNode initializes the Snowflake node with the given node ID.
// Every running instance needs its own node ID so identifiers stay unique.
func InitIDNode(nodeID int64) error {
	nodeOnce.Do(func() {
		node, nodeErr = snowflake.NewNode(nodeID)
	})
	return nodeErr
}

// NewMessageID returns a time-ordered int64 identifier. IDs issued by one node
// are strictly increasing, which is what message cursors depend on.
func NewMessageID() int64 {
	// No-op once main has initialized the node; tests fall back to node 0.
	if err := InitIDNode(0); err != nil {
		panic(fmt.Sprintf("snowflake node init failed: %v", err))
	}
	return node.Generate().Int64()
}

// MessageIDTime extracts the creation time embedded in a message ID.
func MessageIDTime(id int64) time.Time {
	ms := snowflake.ParseInt64(id).Time()
	return time.UnixMilli(ms).UTC()
}
