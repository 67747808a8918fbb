package addon

import (
	"context"
	"errors"
	"strings"
)

// FunctionInvoker submits an asynchronous function invocation.
type FunctionInvoker interface {
	InvokeAsync(ctx context.Context, function string, payload any) error
}

// Publisher publishes a JSON message and waits for the broker's acknowledgement.
type Publisher interface {
	Publish(ctx context.Context, subj, msgID string, v any) error
}

// LambdaDispatcher starts builds through an Event invocation of the build function.
type LambdaDispatcher struct {
	invoker  FunctionInvoker
	function string
}

// NewLambdaDispatcher returns a dispatcher invoking function through invoker.
func NewLambdaDispatcher(invoker FunctionInvoker, function string) (*LambdaDispatcher, error) {
	if invoker == nil {
		return nil, errors.New("function invoker is required")
	}
	function = strings.TrimSpace(function)
	if function == "" {
		return nil, errors.New("build function name is required")
	}
	return &LambdaDispatcher{invoker: invoker, function: function}, nil
}

// Dispatch submits req. It returns once the invocation is queued.
func (d *LambdaDispatcher) Dispatch(ctx context.Context, req BuildRequest) error {
	return d.invoker.InvokeAsync(ctx, d.function, req)
}

// BusDispatcher publishes build requests to a JetStream subject consumed by builder workers.
type BusDispatcher struct {
	bus     Publisher
	subject string
}

// NewBusDispatcher returns a dispatcher publishing to subject.
func NewBusDispatcher(bus Publisher, subject string) (*BusDispatcher, error) {
	if bus == nil {
		return nil, errors.New("bus is required")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, errors.New("build subject is required")
	}
	return &BusDispatcher{bus: bus, subject: subject}, nil
}

// Dispatch publishes req keyed by its artifact key so the stream drops duplicate requests.
func (d *BusDispatcher) Dispatch(ctx context.Context, req BuildRequest) error {
	return d.bus.Publish(ctx, d.subject, req.Key(), req)
}
