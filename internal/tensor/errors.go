package tensor

import "errors"

// Error taxonomy shared by every backend, layer and optimizer.
// Callers match with errors.Is; call sites wrap them with operation context.
var (
	// ErrShapeMismatch reports operands or results inconsistent with an
	// operation's shape rule, or a reshape that changes the total size.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrUnsupportedStorage reports operands from different backends mixed in one call.
	ErrUnsupportedStorage = errors.New("unsupported storage")

	// ErrModelNotInitialized reports forward/backward on a network with uninitialized layers.
	ErrModelNotInitialized = errors.New("model not initialized")

	// ErrInvalidArgument reports nil operands or out-of-range configuration.
	ErrInvalidArgument = errors.New("invalid argument")
)
