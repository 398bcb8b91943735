package invoice

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// NumberSource hands out invoice numbers.
type NumberSource interface {
	Next() string
}

// NumberGenerator issues INV-<snowflake> numbers. Snowflake ids embed the
// creation time and are monotonic per node, so numbers sort by issue order.
type NumberGenerator struct {
	node *snowflake.Node
}

func NewNumberGenerator(nodeID int64) (*NumberGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &NumberGenerator{node: node}, nil
}

func (g *NumberGenerator) Next() string {
	return "INV-" + g.node.Generate().String()
}
