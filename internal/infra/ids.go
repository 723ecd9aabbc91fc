package infra

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// IDGenerator issues human-facing identifiers (public ARNs, receipt numbers).
// Snowflake ids are time-ordered and unique per node without a database round trip.
type IDGenerator struct {
	node *snowflake.Node
}

// NewIDGenerator creates a generator for the given node id (0-1023).
func NewIDGenerator(nodeID int64) (*IDGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("create snowflake node: %w", err)
	}
	return &IDGenerator{node: node}, nil
}

// PublicARN returns an application reference such as "PUDA/2026/1849204813224".
func (g *IDGenerator) PublicARN(authorityID string, at time.Time) string {
	auth := strings.ToUpper(strings.TrimSpace(authorityID))
	if auth == "" {
		auth = "GEN"
	}
	return fmt.Sprintf("%s/%04d/%s", auth, at.Year(), g.node.Generate().String())
}

// ReceiptNumber returns a counter receipt number such as "RCPT-1849204813224".
func (g *IDGenerator) ReceiptNumber() string {
	return "RCPT-" + g.node.Generate().String()
}

// InternalARN returns the internal application key assigned at draft creation.
func (g *IDGenerator) InternalARN() string {
	return "APP-" + g.node.Generate().Base32()
}
