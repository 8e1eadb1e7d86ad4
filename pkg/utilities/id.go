package utilities

import (
	"os"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

var (
	nodeOnce sync.Once
	node     *snowflake.Node
)

// NewCycleID generates a KSUID string used to tag one fetch cycle.
// KSUIDs sort by creation time, which keeps cycle ids comparable in logs.
func NewCycleID() string {
	return ksuid.New().String()
}

// NewRequestID generates a snowflake ID string for correlating HTTP
// requests. The node ID comes from the SNOWFLAKE_NODE environment
// variable (node 1 when unset or unparsable). The node is created once;
// a per-call node would restart the sequence and could collide within
// a millisecond.
func NewRequestID() string {
	nodeOnce.Do(func() {
		id := int64(1)
		if raw := os.Getenv("SNOWFLAKE_NODE"); raw != "" {
			if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
				id = n
			}
		}
		if n, err := snowflake.NewNode(id); err == nil {
			node = n
		}
	})
	if node == nil {
		// bad node id; fall back to a KSUID so callers still get a
		// unique value
		return ksuid.New().String()
	}
	return node.Generate().String()
}
