package model

// ValidationError marks malformed input so the HTTP layer can answer 400
// without inspecting message text.
type ValidationError struct {
	msg string
}

func (e ValidationError) Error() string { return e.msg }

func validationError(msg string) error { return ValidationError{msg: msg} }
