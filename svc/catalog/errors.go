package catalog

import "errors"

var (
	ErrUnknownPlan       = errors.New("unknown plan")
	ErrInvalidDefinition = errors.New("invalid catalog definition")
)
