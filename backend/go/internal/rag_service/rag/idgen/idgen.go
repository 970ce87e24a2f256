package idgen

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"

	"ragcompare/backend/go/internal/rag_service/rag/interfaces"
)

const (
	StrategySnowflake = "snowflake"
	StrategyUUIDv7    = "uuidv7"
)

// Snowflake generates 63-bit time-ordered IDs rendered in decimal.
type Snowflake struct {
	node *snowflake.Node
}

// NewSnowflake creates a generator for the given node (0-1023).
func NewSnowflake(nodeID int64) (*Snowflake, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &Snowflake{node: node}, nil
}

// NewID returns the next ID. Safe for concurrent use.
func (g *Snowflake) NewID() string {
	return g.node.Generate().String()
}

// UUIDv7 generates RFC 9562 version 7 UUIDs, which sort by creation time.
type UUIDv7 struct{}

// NewID returns the next ID.
func (UUIDv7) NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Only fails when the random source does.
		return uuid.NewString()
	}
	return id.String()
}

// New returns the generator for strategy.
func New(strategy string, nodeID int64) (interfaces.IDGenerator, error) {
	switch strategy {
	case "", StrategySnowflake:
		return NewSnowflake(nodeID)
	case StrategyUUIDv7:
		return UUIDv7{}, nil
	default:
		return nil, fmt.Errorf("unknown id strategy %q", strategy)
	}
}

var (
	_ interfaces.IDGenerator = (*Snowflake)(nil)
	_ interfaces.IDGenerator = UUIDv7{}
)
