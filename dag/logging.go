package dag

import (
	"context"
	"time"

	"github.com/kbukum/polysome/logger"
)

// WithLogging wraps node so its start and end are logged. A Partial output
// is logged at warn level.
func WithLogging(node Node, log *logger.Logger) Node {
	return &loggingNode{inner: node, log: log}
}

type loggingNode struct {
	inner Node
	log   *logger.Logger
}

func (n *loggingNode) Name() string { return n.inner.Name() }

func (n *loggingNode) Run(ctx context.Context, state *State) (any, error) {
	start := time.Now()
	n.log.Info("node started", logger.Fields(logger.FieldNode, n.inner.Name()))
	out, err := n.inner.Run(ctx, state)

	fields := logger.Fields(
		logger.FieldNode, n.inner.Name(),
		logger.FieldDuration, time.Since(start).Milliseconds(),
	)
	switch {
	case err != nil:
		fields[logger.FieldError] = err.Error()
		n.log.Error("node failed", fields)
	case isPartial(out):
		fields[logger.FieldStatus] = string(StatusPartial)
		n.log.Warn("node finished with failed records", fields)
	default:
		n.log.Info("node finished", fields)
	}
	return out, err
}
