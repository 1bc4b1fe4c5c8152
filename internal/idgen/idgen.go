package idgen

import "github.com/google/uuid"

// NewFunc produces identifiers for measures and runs. Tests override it to
// get predictable ids.
var NewFunc = func() string { return uuid.New().String() }

// New returns a fresh identifier.
func New() string { return NewFunc() }
