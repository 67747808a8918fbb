package addon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/nats-io/nats.go"
	prom "github.com/prometheus/client_golang/prometheus"

	"addonbuilder/pkg/bus"
	golambda "addonbuilder/pkg/lambda"
	"addonbuilder/pkg/registry"
	gos3 "addonbuilder/pkg/s3"
	"addonbuilder/pkg/telemetry"
)

// NewFromConfig builds a Service backed by the npm registry, S3, and either Lambda or NATS for
// dispatch. The returned cleanup releases the dispatcher's connection.
func NewFromConfig(ctx context.Context, cfg Config, logger *log.Logger, reg prom.Registerer) (*Service, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	registryClient, err := registry.New(cfg.RegistryURL, &http.Client{
		Timeout:   cfg.RegistryTimeout,
		Transport: telemetry.Transport(nil),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init registry client: %w", err)
	}

	s3Client, err := gos3.NewClientFromEnv(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("init s3 client: %w", err)
	}

	dispatcher, cleanup, err := newDispatcher(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	svc, err := New(Deps{
		Registry:   registryClient,
		Storage:    s3Client,
		Dispatcher: dispatcher,
		Logger:     logger,
		Metrics:    NewMetrics(reg),
	}, cfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return svc, cleanup, nil
}

func newDispatcher(ctx context.Context, cfg Config) (Dispatcher, func(), error) {
	if cfg.BuildSubject != "" {
		b, err := bus.New(cfg.NATSURL, nats.Name("addonbuilder"))
		if err != nil {
			return nil, nil, fmt.Errorf("connect nats: %w", err)
		}
		d, err := NewBusDispatcher(b, cfg.BuildSubject)
		if err != nil {
			b.Close()
			return nil, nil, err
		}
		return d, b.Close, nil
	}

	if cfg.BuildFunction == "" {
		return nil, nil, errors.New("build function name is required")
	}
	client, err := golambda.NewClientFromEnv(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("init lambda client: %w", err)
	}
	d, err := NewLambdaDispatcher(client, cfg.BuildFunction)
	if err != nil {
		return nil, nil, err
	}
	return d, func() {}, nil
}
