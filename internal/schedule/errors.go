package schedule

import "errors"

// Schedule errors. The builder collects them and Build reports them all.
var (
	ErrInvalidPlacement        = errors.New("invalid placement")
	ErrIncompatibleFusion      = errors.New("incompatible fusion")
	ErrNonAssociativeReduction = errors.New("non-associative reduction")
	ErrUnschedulableDimension  = errors.New("unschedulable dimension")
	ErrInvalidDirective        = errors.New("invalid directive")
	ErrUnknownStage            = errors.New("unknown stage")
)
