package lambda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
)

// Client wraps the AWS SDK v2 Lambda client for asynchronous invocations.
type Client struct {
	api *lambda.Client
}

// Options configures a Client. Zero values fall back to the AWS default config chain.
type Options struct {
	Endpoint   string
	Region     string
	AccessKey  string
	SecretKey  string
	HTTPClient aws.HTTPClient
}

// OptionsFromEnv reads LAMBDA_ENDPOINT, LAMBDA_REGION (falling back to AWS_REGION) and the
// optional LAMBDA_ACCESS_KEY / LAMBDA_SECRET_KEY pair.
func OptionsFromEnv() (Options, error) {
	opts := Options{
		Endpoint:  strings.TrimSpace(os.Getenv("LAMBDA_ENDPOINT")),
		Region:    os.Getenv("LAMBDA_REGION"),
		AccessKey: os.Getenv("LAMBDA_ACCESS_KEY"),
		SecretKey: os.Getenv("LAMBDA_SECRET_KEY"),
	}
	if opts.Region == "" {
		opts.Region = os.Getenv("AWS_REGION")
	}
	if (opts.AccessKey == "") != (opts.SecretKey == "") {
		return Options{}, errors.New("LAMBDA_ACCESS_KEY and LAMBDA_SECRET_KEY must be set together")
	}
	return opts, nil
}

// NewClientFromEnv initialises a Client using OptionsFromEnv.
func NewClientFromEnv(ctx context.Context) (*Client, error) {
	opts, err := OptionsFromEnv()
	if err != nil {
		return nil, err
	}
	return NewClient(ctx, opts)
}

// NewClient initialises a Client from explicit options.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		// AWS_CA_BUNDLE only works with a client that accepts transport options.
		httpClient = awshttp.NewBuildableClient().WithTimeout(30 * time.Second)
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithHTTPClient(httpClient),
	}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}

	client := lambda.NewFromConfig(cfg, func(o *lambda.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	return &Client{api: client}, nil
}

// InvokeAsync encodes payload as JSON and submits an Event invocation of the named function.
// It returns once Lambda has queued the event; the function's own result is never observed.
func (c *Client) InvokeAsync(ctx context.Context, function string, payload any) error {
	if c == nil {
		return errors.New("nil client")
	}
	if strings.TrimSpace(function) == "" {
		return errors.New("function name is required")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	out, err := c.api.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(function),
		InvocationType: lambdatypes.InvocationTypeEvent,
		Payload:        data,
	})
	if err != nil {
		return err
	}
	if out.StatusCode != http.StatusAccepted {
		return fmt.Errorf("invoke %s: unexpected status %d", function, out.StatusCode)
	}
	return nil
}
