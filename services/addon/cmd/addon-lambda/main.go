package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	prom "github.com/prometheus/client_golang/prometheus"

	"addonbuilder/pkg/telemetry"
	"addonbuilder/services/addon"
)

func main() {
	if err := run("addon-lambda"); err != nil {
		log.New(os.Stderr, "", log.LstdFlags).Fatal(err)
	}
}

func run(serviceName string) error {
	ctx := context.Background()

	shutdownTelemetry, _, logger, err := telemetry.Init(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	cfg, err := addon.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	svc, cleanup, err := addon.NewFromConfig(ctx, cfg, logger, prom.NewRegistry())
	if err != nil {
		return fmt.Errorf("init addon service: %w", err)
	}

	lambda.StartWithOptions(svc.Handle, lambda.WithEnableSIGTERM(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "%s: telemetry shutdown error: %v\n", serviceName, err)
		}
		cleanup()
	}))
	return nil
}
