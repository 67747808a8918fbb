package addon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"addonbuilder/pkg/registry"
	gos3 "addonbuilder/pkg/s3"
)

const (
	placeholderContentType  = "application/json"
	placeholderCacheControl = "max-age=0, no-cache"

	stageResolve     = "resolve"
	stageProbe       = "probe"
	stagePlaceholder = "placeholder"
	stageDispatch    = "dispatch"
)

// PackageRegistry looks up package version documents.
type PackageRegistry interface {
	Lookup(ctx context.Context, name, version string) (registry.Package, error)
}

// ObjectStore probes and writes artifact documents.
type ObjectStore interface {
	ObjectExists(ctx context.Context, bucket, key string) (bool, error)
	PutObject(ctx context.Context, in gos3.PutInput) error
}

// Dispatcher submits a build. Only the submission is awaited, never the build.
type Dispatcher interface {
	Dispatch(ctx context.Context, req BuildRequest) error
}

// Deps holds the external collaborators of a Service.
type Deps struct {
	Registry   PackageRegistry
	Storage    ObjectStore
	Dispatcher Dispatcher
	Logger     *log.Logger
	Metrics    *Metrics
}

// Service resolves addon requests and schedules builds for artifacts that do not exist yet.
type Service struct {
	registry   PackageRegistry
	storage    ObjectStore
	dispatcher Dispatcher
	logger     *log.Logger
	metrics    *Metrics
	tracer     trace.Tracer
	config     Config
}

// New validates deps and cfg and returns a ready Service.
func New(deps Deps, cfg Config) (*Service, error) {
	if deps.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if deps.Storage == nil {
		return nil, errors.New("storage is required")
	}
	if deps.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("bucket is required")
	}
	if cfg.Compat.Len() == 0 {
		return nil, errors.New("compatibility table is required")
	}
	if cfg.Keyword == "" {
		cfg.Keyword = defaultKeyword
	}
	if cfg.Env == "" {
		cfg.Env = defaultEnv
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	return &Service{
		registry:   deps.Registry,
		storage:    deps.Storage,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		metrics:    deps.Metrics,
		tracer:     otel.Tracer("addonbuilder/services/addon"),
		config:     cfg,
	}, nil
}

// Handle runs one invocation: resolve, probe, and for missing artifacts write the placeholder
// and dispatch the build, then answer with the artifact location. Every failure is an *Error.
func (s *Service) Handle(ctx context.Context, ev Event) (Response, error) {
	requestID := uuid.NewString()
	ctx, span := s.tracer.Start(ctx, "addon.handle", trace.WithAttributes(
		attribute.String("addon.request_id", requestID),
		attribute.String("addon.name", ev.Addon),
		attribute.String("addon.version", ev.AddonVersion),
		attribute.String("addon.ember_version", ev.EmberVersion),
	))
	defer span.End()

	s.logger.Printf("INFO [%s] Running in env: %s", requestID, s.config.Env)

	resp, outcome, err := s.run(ctx, requestID, ev)
	if err != nil {
		e := asError(err)
		s.metrics.incRequest(string(e.Kind))
		span.RecordError(e)
		span.SetStatus(codes.Error, string(e.Kind))
		s.logger.Printf("ERROR [%s] %s", requestID, e.Error())
		return Response{}, e
	}

	s.metrics.incRequest(outcome)
	span.SetAttributes(attribute.String("addon.location", resp.Location))
	return resp, nil
}

func (s *Service) run(ctx context.Context, requestID string, ev Event) (Response, string, error) {
	var rec AddonRequest
	err := s.stage(ctx, stageResolve, func(ctx context.Context) error {
		s.logger.Printf("INFO [%s] Resolving addon %s@%s in registry", requestID, ev.Addon, ev.AddonVersion)
		var err error
		rec, err = s.Resolve(ctx, ev)
		return err
	})
	if err != nil {
		return Response{}, "", err
	}

	// CheckExisting never fails, so the probe stage only contributes its span and timing.
	s.stage(ctx, stageProbe, func(ctx context.Context) error {
		s.logger.Printf("INFO [%s] Looking up %s in storage", requestID, rec.Key())
		rec.AlreadyBuilt = s.CheckExisting(ctx, rec)
		return nil
	})
	if rec.AlreadyBuilt == BuildStateBuilt {
		s.logger.Printf("INFO [%s] Addon already built", requestID)
		return s.Respond(rec), outcomeBuilt, nil
	}

	err = s.stage(ctx, stagePlaceholder, func(ctx context.Context) error {
		s.logger.Printf("INFO [%s] Registering addon build at %s", requestID, rec.Key())
		return s.WritePlaceholder(ctx, rec)
	})
	if err != nil {
		return Response{}, "", err
	}

	err = s.stage(ctx, stageDispatch, func(ctx context.Context) error {
		s.logger.Printf("INFO [%s] Scheduling addon build", requestID)
		return s.Dispatch(ctx, rec)
	})
	if err != nil {
		return Response{}, "", err
	}

	return s.Respond(rec), outcomeScheduled, nil
}

// stage runs fn inside its own span and records its duration.
func (s *Service) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "addon."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	s.metrics.observeStage(name, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Resolve maps the requested ember version to a builder tag and validates the package in the
// registry. The ember version is checked first so unsupported versions never reach the network.
func (s *Service) Resolve(ctx context.Context, ev Event) (AddonRequest, error) {
	name := strings.TrimSpace(ev.Addon)
	version := strings.TrimSpace(ev.AddonVersion)

	tag, ok := s.config.Compat.Resolve(ev.EmberVersion)
	if !ok {
		return AddonRequest{}, unsupportedVersionError(ev.EmberVersion, s.config.Compat)
	}
	if name == "" {
		return AddonRequest{}, &Error{Kind: KindInvalidAddon, Msg: "addon is required"}
	}
	if version == "" {
		return AddonRequest{}, &Error{Kind: KindInvalidAddon, Msg: "addon_version is required"}
	}

	pkg, err := s.registry.Lookup(ctx, name, version)
	if err != nil {
		if errors.Is(err, registry.ErrParse) {
			return AddonRequest{}, &Error{Kind: KindRegistryParse, Msg: fmt.Sprintf("failed to parse registry response for %s/%s", name, version), Err: err}
		}
		return AddonRequest{}, &Error{Kind: KindUnknown, Msg: "registry lookup", Err: err}
	}

	if pkg.Version == "" || !pkg.Keywords.Contains(s.config.Keyword) {
		doc, _ := json.Marshal(pkg)
		return AddonRequest{}, &Error{Kind: KindInvalidAddon, Msg: "Not valid addon: " + string(doc)}
	}

	return AddonRequest{
		Name:             name,
		Version:          pkg.Version,
		CompatibilityTag: tag,
		AlreadyBuilt:     BuildStateUnknown,
		Valid:            true,
	}, nil
}

// CheckExisting probes storage for the artifact. It never fails: a missing object and a failed
// probe both report BuildStateMissing, the latter is logged and counted.
func (s *Service) CheckExisting(ctx context.Context, rec AddonRequest) BuildState {
	exists, err := s.storage.ObjectExists(ctx, s.config.Bucket, rec.Key())
	if err != nil {
		s.metrics.incProbeError()
		s.logger.Printf("WARN storage probe for %s failed, treating as not built: %v", rec.Key(), err)
		return BuildStateMissing
	}
	if exists {
		return BuildStateBuilt
	}
	return BuildStateMissing
}

// WritePlaceholder stores the "building" status document at the artifact key. It is a no-op
// for artifacts already built.
func (s *Service) WritePlaceholder(ctx context.Context, rec AddonRequest) error {
	if rec.AlreadyBuilt == BuildStateBuilt {
		return nil
	}

	body, err := json.Marshal(buildingStatus(s.config.Now()))
	if err != nil {
		return &Error{Kind: KindUnknown, Msg: "encode build status", Err: err}
	}

	err = s.storage.PutObject(ctx, gos3.PutInput{
		Bucket:       s.config.Bucket,
		Key:          rec.Key(),
		Body:         body,
		ContentType:  placeholderContentType,
		CacheControl: placeholderCacheControl,
		PublicRead:   true,
	})
	if err != nil {
		return &Error{Kind: KindStorageWrite, Msg: "put " + rec.Key(), Err: err}
	}
	return nil
}

// Dispatch submits the build for rec. It is a no-op for artifacts already built. A placeholder
// written before a failed dispatch stays in place.
func (s *Service) Dispatch(ctx context.Context, rec AddonRequest) error {
	if rec.AlreadyBuilt == BuildStateBuilt {
		return nil
	}
	if err := s.dispatcher.Dispatch(ctx, rec.buildRequest()); err != nil {
		return &Error{Kind: KindDispatch, Msg: "submit build for " + rec.Key(), Err: err}
	}
	return nil
}

// Respond builds the response pointing at the artifact.
func (s *Service) Respond(rec AddonRequest) Response {
	return Response{Location: Location(s.config.Bucket, rec.Key())}
}

// Config returns the configuration the service was built with.
func (s *Service) Config() Config {
	return s.config
}
