// Package model contains the in-memory representation of measurements: the
// hierarchical task tree in `task` and the measure lifecycle objects in
// `measurement`.  The root model package simply aggregates those building
// blocks so that they can be referenced from other parts of the code base
// with a single import.
package model
