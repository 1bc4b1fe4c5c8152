package dao

// Parameter is a named listing criterion. A single value makes an exact
// match, several values make a set match.
type Parameter struct {
	Name  string
	Value interface{}
}

// NewParameter builds a listing parameter from one or more values.
func NewParameter(name string, values ...string) *Parameter {
	if len(values) == 1 {
		return &Parameter{Name: name, Value: values[0]}
	}
	return &Parameter{Name: name, Value: values}
}
