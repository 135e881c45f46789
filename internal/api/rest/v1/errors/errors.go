// Package errors provides custom error types.

package errors

type (
	HandlersFoundNilArgument struct {
		Msg string
	}
	AuthenticationError struct {
		Msg string
	}
)

func (e *HandlersFoundNilArgument) Error() string {
	return e.Msg
}

func (e *AuthenticationError) Error() string {
	return e.Msg
}
