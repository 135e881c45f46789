// Package errors provides custom error types shared by the service layer.
package errors

import "fmt"

type (
	ServiceFoundNilArgument struct {
		Msg string
	}
	ServiceValidationError struct {
		Msg string
	}
	ServiceSignatureError struct {
		Provider string
		OrderID  string
	}
	ServiceGatewayError struct {
		Provider  string
		Operation string
		Err       error
	}
	ServiceInconsistencyError struct {
		Provider string
		OrderID  string
		Err      error
	}
	ServiceUnknownProvider struct {
		Provider string
	}
)

func (e *ServiceFoundNilArgument) Error() string {
	return e.Msg
}

func (e *ServiceValidationError) Error() string {
	return e.Msg
}

func (e *ServiceSignatureError) Error() string {
	if e.OrderID == "" {
		return fmt.Sprintf("%s: signature verification failed", e.Provider)
	}
	return fmt.Sprintf("%s: signature verification failed for order %s", e.Provider, e.OrderID)
}

func (e *ServiceGatewayError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Operation, e.Err.Error())
}

func (e *ServiceGatewayError) Unwrap() error {
	return e.Err
}

func (e *ServiceInconsistencyError) Error() string {
	return fmt.Sprintf("%s order %s was created but not recorded: %s", e.Provider, e.OrderID, e.Err.Error())
}

func (e *ServiceInconsistencyError) Unwrap() error {
	return e.Err
}

func (e *ServiceUnknownProvider) Error() string {
	return fmt.Sprintf("%s: unknown payment provider", e.Provider)
}
