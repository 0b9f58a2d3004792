package service

// Handler is the domain state machine a service hosts behind the session
// core: given a command's name and opaque operation payload, it produces the
// output to memoize and publishes zero or more events through publish.
// SessionContext and the rest of this module are agnostic to what a command
// actually means; Handler is where that meaning lives.
type Handler interface {
	Apply(name string, operation []byte, publish func(event []byte)) (output []byte, err error)
}

// EchoHandler is a minimal Handler that returns the operation unchanged and
// publishes no events. Useful as a default for tests and for services that
// only need session bookkeeping (sequencing, memoization, event delivery)
// without server-side domain logic of their own.
type EchoHandler struct{}

func (EchoHandler) Apply(_ string, operation []byte, _ func([]byte)) ([]byte, error) {
	return operation, nil
}
