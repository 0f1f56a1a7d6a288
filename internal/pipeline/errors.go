package pipeline

import "errors"

// Graph construction errors. They are always fatal.
var (
	ErrDuplicateDefinition = errors.New("duplicate definition")
	ErrUndefinedStage      = errors.New("undefined stage")
	ErrCyclicDependency    = errors.New("cyclic dependency")
	ErrUnboundVariable     = errors.New("unbound variable")
	ErrInvalidUpdate       = errors.New("invalid update definition")
	ErrInvalidCall         = errors.New("invalid call")
)
