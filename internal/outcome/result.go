package outcome

import "errors"

// Result is the two-shape reply of every handler:
// {ok:true, message} or {ok:false, errorKind, errorMessage}.
type Result struct {
	OK           bool   `json:"ok"`
	Message      string `json:"message,omitempty"`
	ErrorKind    Kind   `json:"errorKind,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	Data         any    `json:"data,omitempty"`
}

func Success(message string) Result {
	return Result{OK: true, Message: message}
}

func SuccessWith(message string, data any) Result {
	return Result{OK: true, Message: message, Data: data}
}

// Failure renders err as a negative result. Only the fault message is
// exposed; raw driver errors are replaced by a generic message.
func Failure(err error) Result {
	var fault *Fault
	switch {
	case errors.As(err, &fault) && fault.Message != "":
		return Result{ErrorKind: KindOf(err), ErrorMessage: fault.Message}
	case IsStoreFailure(err):
		return Result{ErrorKind: KindStoreUnavailable, ErrorMessage: "record store unavailable"}
	case err != nil:
		return Result{ErrorKind: KindOf(err), ErrorMessage: err.Error()}
	default:
		return Result{ErrorKind: KindStoreUnavailable, ErrorMessage: "unknown failure"}
	}
}
