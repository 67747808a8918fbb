package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// Client is a thin wrapper around the AWS SDK v2 S3 client.
type Client struct {
	api *s3.Client
}

// Options configures a Client. Zero values fall back to the AWS default config chain.
type Options struct {
	Endpoint       string
	Region         string
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool
	HTTPClient     aws.HTTPClient
}

// OptionsFromEnv reads Options from the environment.
//
// Optional environment variables:
//   - S3_ENDPOINT: host:port or full URL of an S3 compatible endpoint.
//   - S3_ACCESS_KEY / S3_SECRET_KEY: static credentials (both or neither).
//   - S3_REGION (default: AWS_REGION, then "us-east-1").
//   - S3_DISABLE_TLS (bool; default false), only used when S3_ENDPOINT has no scheme.
//   - S3_FORCE_PATH_STYLE (bool; default true when S3_ENDPOINT is set).
func OptionsFromEnv() (Options, error) {
	opts := Options{
		Endpoint:  strings.TrimSpace(os.Getenv("S3_ENDPOINT")),
		AccessKey: os.Getenv("S3_ACCESS_KEY"),
		SecretKey: os.Getenv("S3_SECRET_KEY"),
		Region:    os.Getenv("S3_REGION"),
	}
	if opts.Region == "" {
		opts.Region = os.Getenv("AWS_REGION")
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	if (opts.AccessKey == "") != (opts.SecretKey == "") {
		return Options{}, errors.New("S3_ACCESS_KEY and S3_SECRET_KEY must be set together")
	}

	if opts.Endpoint != "" {
		disableTLS, _ := strconv.ParseBool(os.Getenv("S3_DISABLE_TLS"))
		scheme := "https"
		if disableTLS {
			scheme = "http"
		}
		if !strings.HasPrefix(opts.Endpoint, "http://") && !strings.HasPrefix(opts.Endpoint, "https://") {
			opts.Endpoint = fmt.Sprintf("%s://%s", scheme, opts.Endpoint)
		}
		opts.ForcePathStyle = true
	}
	if v := strings.TrimSpace(os.Getenv("S3_FORCE_PATH_STYLE")); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			opts.ForcePathStyle = parsed
		}
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

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = opts.ForcePathStyle
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	return &Client{api: client}, nil
}

// ObjectExists issues a HEAD request for bucket/key. A missing object yields (false, nil);
// any other failure is returned as an error.
func (c *Client) ObjectExists(ctx context.Context, bucket, key string) (bool, error) {
	if c == nil {
		return false, errors.New("nil client")
	}

	_, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// PutInput describes a small in-memory object upload.
type PutInput struct {
	Bucket       string
	Key          string
	Body         []byte
	ContentType  string
	CacheControl string
	PublicRead   bool
}

// PutObject uploads in.Body to in.Bucket/in.Key.
func (c *Client) PutObject(ctx context.Context, in PutInput) error {
	if c == nil {
		return errors.New("nil client")
	}

	size := int64(len(in.Body))
	input := &s3.PutObjectInput{
		Bucket:        &in.Bucket,
		Key:           &in.Key,
		Body:          bytes.NewReader(in.Body),
		ContentLength: &size,
	}
	if in.ContentType != "" {
		input.ContentType = aws.String(in.ContentType)
	}
	if in.CacheControl != "" {
		input.CacheControl = aws.String(in.CacheControl)
	}
	if in.PublicRead {
		input.ACL = s3types.ObjectCannedACLPublicRead
	}

	_, err := c.api.PutObject(ctx, input)
	return err
}

// IsNotFound reports whether err is an S3 "object does not exist" answer.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}

	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound {
		return true
	}
	return false
}
