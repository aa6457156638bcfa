package ast

import "fmt"

// DefinitionError indicates a malformed rule set or workflow definition at
// load time. The load is rejected as a whole; a definition is never
// partially activated.
type DefinitionError struct {
	Institution string
	Name        string
	Errors      []string
}

// Error returns the error message.
func (e *DefinitionError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("definition %s/%s: %s", e.Institution, e.Name, e.Errors[0])
	}
	return fmt.Sprintf("definition %s/%s: %d validation errors: %v", e.Institution, e.Name, len(e.Errors), e.Errors)
}

// add appends a formatted problem to the error list.
func (e *DefinitionError) add(format string, args ...any) {
	e.Errors = append(e.Errors, fmt.Sprintf(format, args...))
}

// orNil returns the error if any problems were recorded, nil otherwise.
func (e *DefinitionError) orNil() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}
