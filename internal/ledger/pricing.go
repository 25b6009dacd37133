package ledger

import (
	"errors"
	"fmt"
)

// Operation is a paid action. Its cost comes only from the price table.
type Operation string

const (
	OperationLocal        Operation = "LOCAL"
	OperationAIGeneration Operation = "AI_GENERATION"
)

var ErrUnknownOperation = errors.New("unknown operation")

var priceTable = map[Operation]int64{
	OperationLocal:        1,
	OperationAIGeneration: 3,
}

// Price returns the credit cost of op.
func Price(op Operation) (int64, error) {
	cost, ok := priceTable[op]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownOperation, op)
	}
	return cost, nil
}
