package types

import (
	"errors"
)

type FaultKind int

const (
	FaultNone FaultKind = iota
	FaultNotFound
	FaultEval
	FaultHandler
	FaultStorage
)

func (k FaultKind) String() string {
	switch k {
	case FaultNotFound:
		return "not_found"
	case FaultEval:
		return "eval"
	case FaultHandler:
		return "handler"
	case FaultStorage:
		return "storage"
	default:
		return "none"
	}
}

// Fault is the error taxonomy of a handler invocation. Name is the logical
// handler the fault is attributed to.
type Fault struct {
	Kind    FaultKind
	Name    string
	Message string
	Err     error
}

func (f *Fault) Error() string {
	if f.Message != "" {
		return f.Message
	}
	if f.Err != nil {
		return f.Err.Error()
	}
	return f.Kind.String()
}

func (f *Fault) Unwrap() error {
	return f.Err
}

func NewNotFound(name string, err error) *Fault {
	return &Fault{Kind: FaultNotFound, Name: name, Message: "handler not found: " + name, Err: err}
}

func NewEvalFault(name, message string, err error) *Fault {
	return &Fault{Kind: FaultEval, Name: name, Message: message, Err: err}
}

func NewHandlerFault(name, message string, err error) *Fault {
	return &Fault{Kind: FaultHandler, Name: name, Message: message, Err: err}
}

func NewStorageFault(name string, err error) *Fault {
	message := "storage failure"
	if err != nil {
		message = err.Error()
	}
	return &Fault{Kind: FaultStorage, Name: name, Message: message, Err: err}
}

// AsFault returns the outermost Fault in the chain of err.
func AsFault(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// KindOf classifies err. Errors carrying no Fault are storage failures.
func KindOf(err error) FaultKind {
	if err == nil {
		return FaultNone
	}
	if f, ok := AsFault(err); ok {
		return f.Kind
	}
	return FaultStorage
}
