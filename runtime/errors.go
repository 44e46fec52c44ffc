package runtime

import (
	"fmt"

	"github.com/lysine-go/lysine/nodes"
)

// ErrorType classifies render-time errors.
type ErrorType string

const (
	ErrorTypeUndefinedVariable ErrorType = "undefined_variable"
	ErrorTypeUndefinedFilter   ErrorType = "undefined_filter"
	ErrorTypeUndefinedFunction ErrorType = "undefined_function"
	ErrorTypeUndefinedTest     ErrorType = "undefined_test"
	ErrorTypeUndefinedMacro    ErrorType = "undefined_macro"
	ErrorTypeMacroArity        ErrorType = "macro_arity_mismatch"
	ErrorTypeTypeMismatch      ErrorType = "type_mismatch"
	ErrorTypeDivisionByZero    ErrorType = "division_by_zero"
	ErrorTypeMissingInclude    ErrorType = "missing_include"
	ErrorTypeControlFlow       ErrorType = "control_outside_loop"
	ErrorTypeResourceExhausted ErrorType = "resource_exhausted"
	ErrorTypeUnresolvedSuper   ErrorType = "unresolved_super"
	ErrorTypeFilter            ErrorType = "filter_error"
	ErrorTypeFunction          ErrorType = "function_error"
	ErrorTypeTest              ErrorType = "test_error"
	ErrorTypeTemplateNotFound  ErrorType = "template_not_found"
)

// Error is a render-time error with the template and source position it
// was raised at.
type Error struct {
	Type     ErrorType
	Message  string
	Template string
	Position nodes.Position
	Cause    error
}

func (e *Error) Error() string {
	if e.Template != "" && e.Position.Line > 0 {
		return fmt.Sprintf("%s in %q at %s: %s", e.Type, e.Template, e.Position, e.Message)
	}
	if e.Template != "" {
		return fmt.Sprintf("%s in %q: %s", e.Type, e.Template, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a render error.
func NewError(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

func (r *Renderer) errorAt(errorType ErrorType, pos nodes.Position, format string, args ...any) *Error {
	return &Error{
		Type:     errorType,
		Message:  fmt.Sprintf(format, args...),
		Template: r.currentTemplate(),
		Position: pos,
	}
}
