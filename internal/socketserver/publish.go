package socketserver

import (
	"context"
	"errors"
	"os"

	"github.com/codefionn/guise/internal/proxyproto"
)

// Publisher makes a listener address visible under a well-known name.
type Publisher interface {
	Publish(ctx context.Context, name string, addr proxyproto.Address) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, name string, addr proxyproto.Address) error

func (f PublisherFunc) Publish(ctx context.Context, name string, addr proxyproto.Address) error {
	return f(ctx, name, addr)
}

// EnvPublisher sets the address in this process's environment.
func EnvPublisher() Publisher {
	return PublisherFunc(func(_ context.Context, name string, addr proxyproto.Address) error {
		return os.Setenv(name, addr.JSON())
	})
}

// MultiPublisher publishes to every target, even when earlier ones fail.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, name string, addr proxyproto.Address) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, name, addr); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
