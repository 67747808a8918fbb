package addon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"addonbuilder/pkg/registry"
	gos3 "addonbuilder/pkg/s3"
	"addonbuilder/pkg/telemetry"
)

type fakeRegistry struct {
	pkgs  map[string]registry.Package
	err   error
	calls int
}

func (f *fakeRegistry) Lookup(ctx context.Context, name, version string) (registry.Package, error) {
	f.calls++
	if f.err != nil {
		return registry.Package{}, f.err
	}
	pkg, ok := f.pkgs[name+"@"+version]
	if !ok {
		return registry.Package{}, fmt.Errorf("%w: no document for %s@%s", registry.ErrParse, name, version)
	}
	return pkg, nil
}

type fakeStore struct {
	existing map[string]bool
	probeErr error
	putErr   error
	calls    []string
	puts     []gos3.PutInput
}

func (f *fakeStore) ObjectExists(ctx context.Context, bucket, key string) (bool, error) {
	f.calls = append(f.calls, "head:"+bucket+"/"+key)
	if f.probeErr != nil {
		return false, f.probeErr
	}
	return f.existing[key], nil
}

func (f *fakeStore) PutObject(ctx context.Context, in gos3.PutInput) error {
	f.calls = append(f.calls, "put:"+in.Bucket+"/"+in.Key)
	if f.putErr != nil {
		return f.putErr
	}
	f.puts = append(f.puts, in)
	return nil
}

type fakeDispatcher struct {
	store    *fakeStore
	err      error
	requests []BuildRequest
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req BuildRequest) error {
	if f.store != nil {
		f.store.calls = append(f.store.calls, "dispatch:"+req.Key())
	}
	if f.err != nil {
		return f.err
	}
	f.requests = append(f.requests, req)
	return nil
}

type fixture struct {
	svc        *Service
	registry   *fakeRegistry
	store      *fakeStore
	dispatcher *fakeDispatcher
	reg        *prom.Registry
	logs       *bytes.Buffer
}

var fixedNow = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()

	reg := &fakeRegistry{pkgs: map[string]registry.Package{
		"ember-cli-x@1.0.0":  {Name: "ember-cli-x", Version: "1.0.0", Keywords: registry.Keywords{List: []string{"ember-addon"}}},
		"ember-cli-x@latest": {Name: "ember-cli-x", Version: "1.2.0", Keywords: registry.Keywords{List: []string{"ember-addon"}}},
		"left-pad@1.3.0":     {Name: "left-pad", Version: "1.3.0", Keywords: registry.Keywords{List: []string{"pad"}}},
		"no-version@1.0.0":   {Name: "no-version", Keywords: registry.Keywords{List: []string{"ember-addon"}}},
		"@scope/pkg@1.0.0":   {Name: "@scope/pkg", Version: "1.0.0", Keywords: registry.Keywords{List: []string{"ember-addon"}}},
	}}
	store := &fakeStore{existing: map[string]bool{}}
	dispatcher := &fakeDispatcher{store: store}
	promReg := prom.NewRegistry()
	logs := &bytes.Buffer{}

	svc, err := New(Deps{
		Registry:   reg,
		Storage:    store,
		Dispatcher: dispatcher,
		Logger:     telemetry.NewLogger("addon", logs),
		Metrics:    NewMetrics(promReg),
	}, Config{
		Env:    "test",
		Bucket: "bucket",
		Compat: DefaultCompatTable(),
		Now:    func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return &fixture{svc: svc, registry: reg, store: store, dispatcher: dispatcher, reg: promReg, logs: logs}
}

func TestHandleSchedulesMissingArtifact(t *testing.T) {
	f := newFixture(t)

	resp, err := f.svc.Handle(context.Background(), Event{Addon: "ember-cli-x", AddonVersion: "1.0.0", EmberVersion: "2.18.0"})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if want := "https://bucket/2-18/ember-cli-x/1.0.0/artifact.json"; resp.Location != want {
		t.Fatalf("Location = %q, want %q", resp.Location, want)
	}

	wantCalls := []string{
		"head:bucket/2-18/ember-cli-x/1.0.0/artifact.json",
		"put:bucket/2-18/ember-cli-x/1.0.0/artifact.json",
		"dispatch:2-18/ember-cli-x/1.0.0/artifact.json",
	}
	if strings.Join(f.store.calls, ",") != strings.Join(wantCalls, ",") {
		t.Fatalf("calls = %v, want %v", f.store.calls, wantCalls)
	}

	if len(f.store.puts) != 1 {
		t.Fatalf("expected one placeholder write, got %d", len(f.store.puts))
	}
	put := f.store.puts[0]
	if put.ContentType != "application/json" || put.CacheControl != "max-age=0, no-cache" || !put.PublicRead {
		t.Fatalf("unexpected put options %+v", put)
	}

	var status map[string]any
	if err := json.Unmarshal(put.Body, &status); err != nil {
		t.Fatalf("placeholder is not JSON: %v", err)
	}
	if status["status"] != "building" {
		t.Fatalf("status = %v", status["status"])
	}
	if status["status_date"] != "2024-03-01T12:30:00.000Z" {
		t.Fatalf("status_date = %v", status["status_date"])
	}
	for _, field := range []string{"addon_js", "addon_css", "error_log"} {
		v, ok := status[field]
		if !ok || v != nil {
			t.Fatalf("%s = %v (present %v), want null", field, v, ok)
		}
	}

	wantReq := BuildRequest{Addon: "ember-cli-x", AddonVersion: "1.0.0", EmberVersion: "2-18", TriggeredBy: "api"}
	if len(f.dispatcher.requests) != 1 || f.dispatcher.requests[0] != wantReq {
		t.Fatalf("dispatch requests = %+v, want [%+v]", f.dispatcher.requests, wantReq)
	}

	if got := testutil.ToFloat64(f.svc.metrics.requests.WithLabelValues(outcomeScheduled)); got != 1 {
		t.Fatalf("scheduled counter = %v", got)
	}
	if !strings.Contains(f.logs.String(), "Running in env: test") {
		t.Fatalf("missing env log line in %q", f.logs.String())
	}
}

func TestHandleUsesResolvedRegistryVersion(t *testing.T) {
	f := newFixture(t)

	resp, err := f.svc.Handle(context.Background(), Event{Addon: "ember-cli-x", AddonVersion: "latest", EmberVersion: "2.16.1"})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if want := "https://bucket/2-18/ember-cli-x/1.2.0/artifact.json"; resp.Location != want {
		t.Fatalf("Location = %q, want %q", resp.Location, want)
	}
	if f.dispatcher.requests[0].AddonVersion != "1.2.0" {
		t.Fatalf("dispatch version = %q", f.dispatcher.requests[0].AddonVersion)
	}
}

func TestHandleAlreadyBuiltIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.store.existing["2-18/ember-cli-x/1.0.0/artifact.json"] = true

	ev := Event{Addon: "ember-cli-x", AddonVersion: "1.0.0", EmberVersion: "2.18.0"}
	for i := 0; i < 3; i++ {
		resp, err := f.svc.Handle(context.Background(), ev)
		if err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if resp.Location != "https://bucket/2-18/ember-cli-x/1.0.0/artifact.json" {
			t.Fatalf("Location = %q", resp.Location)
		}
	}

	if len(f.store.puts) != 0 {
		t.Fatalf("expected no writes, got %d", len(f.store.puts))
	}
	if len(f.dispatcher.requests) != 0 {
		t.Fatalf("expected no dispatches, got %d", len(f.dispatcher.requests))
	}
	if got := testutil.ToFloat64(f.svc.metrics.requests.WithLabelValues(outcomeBuilt)); got != 3 {
		t.Fatalf("built counter = %v", got)
	}
}

func TestHandleFailures(t *testing.T) {
	tests := []struct {
		name      string
		ev        Event
		setup     func(*fixture)
		wantKind  Kind
		wantMsg   string
		wantCalls int
	}{
		{
			name:     "missing marker keyword",
			ev:       Event{Addon: "left-pad", AddonVersion: "1.3.0", EmberVersion: "2.18.0"},
			wantKind: KindInvalidAddon,
			wantMsg:  "Version or package not found or not a valid addon, error details: Not valid addon:",
		},
		{
			name:     "missing version",
			ev:       Event{Addon: "no-version", AddonVersion: "1.0.0", EmberVersion: "2.18.0"},
			wantKind: KindInvalidAddon,
		},
		{
			name:     "unparsable registry document",
			ev:       Event{Addon: "ghost", AddonVersion: "0.0.1", EmberVersion: "2.18.0"},
			wantKind: KindRegistryParse,
			wantMsg:  "Version or package not found or not a valid addon",
		},
		{
			name:     "registry transport failure",
			ev:       Event{Addon: "ember-cli-x", AddonVersion: "1.0.0", EmberVersion: "2.18.0"},
			setup:    func(f *fixture) { f.registry.err = errors.New("connection refused") },
			wantKind: KindUnknown,
			wantMsg:  "An unknown error occurred: registry lookup: connection refused",
		},
		{
			name:     "unsupported ember version",
			ev:       Event{Addon: "ember-cli-x", AddonVersion: "1.0.0", EmberVersion: "1.13.0"},
			wantKind: KindUnsupportedVersion,
			wantMsg:  `No support for ember version "1.13.0".`,
		},
		{
			name:     "empty addon",
			ev:       Event{AddonVersion: "1.0.0", EmberVersion: "2.18.0"},
			wantKind: KindInvalidAddon,
		},
		{
			name:      "storage write failure",
			ev:        Event{Addon: "ember-cli-x", AddonVersion: "1.0.0", EmberVersion: "2.18.0"},
			setup:     func(f *fixture) { f.store.putErr = errors.New("access denied") },
			wantKind:  KindStorageWrite,
			wantCalls: 2,
		},
		{
			name:      "dispatch failure",
			ev:        Event{Addon: "ember-cli-x", AddonVersion: "1.0.0", EmberVersion: "2.18.0"},
			setup:     func(f *fixture) { f.dispatcher.err = errors.New("throttled") },
			wantKind:  KindDispatch,
			wantMsg:   "Failed to schedule addon build",
			wantCalls: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(f)
			}

			resp, err := f.svc.Handle(context.Background(), tt.ev)
			if err == nil {
				t.Fatalf("Handle() = %+v, want error", resp)
			}
			if got := KindOf(err); got != tt.wantKind {
				t.Fatalf("KindOf() = %q, want %q (err: %v)", got, tt.wantKind, err)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Fatalf("error %q does not contain %q", err.Error(), tt.wantMsg)
			}
			if len(f.store.calls) != tt.wantCalls {
				t.Fatalf("storage/dispatch calls = %v, want %d", f.store.calls, tt.wantCalls)
			}
			if got := testutil.ToFloat64(f.svc.metrics.requests.WithLabelValues(string(tt.wantKind))); got != 1 {
				t.Fatalf("outcome counter %q = %v", tt.wantKind, got)
			}
		})
	}
}

func TestUnsupportedVersionSkipsRegistry(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Handle(context.Background(), Event{Addon: "ember-cli-x", AddonVersion: "1.0.0", EmberVersion: "canary"})
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("Handle() error = %v, want unsupported version", err)
	}
	if f.registry.calls != 0 {
		t.Fatalf("registry called %d times", f.registry.calls)
	}
	if len(f.store.calls) != 0 {
		t.Fatalf("storage touched: %v", f.store.calls)
	}
}

func TestPlaceholderKeptWhenDispatchFails(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.err = errors.New("throttled")

	_, err := f.svc.Handle(context.Background(), Event{Addon: "ember-cli-x", AddonVersion: "1.0.0", EmberVersion: "2.18.0"})
	if !errors.Is(err, ErrDispatch) {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(f.store.puts) != 1 {
		t.Fatalf("placeholder writes = %d, want 1", len(f.store.puts))
	}
}

func TestStorageCheckErrorTreatedAsMissing(t *testing.T) {
	f := newFixture(t)
	f.store.probeErr = errors.New("503 slow down")

	if _, err := f.svc.Handle(context.Background(), Event{Addon: "ember-cli-x", AddonVersion: "1.0.0", EmberVersion: "2.18.0"}); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(f.store.puts) != 1 || len(f.dispatcher.requests) != 1 {
		t.Fatalf("puts = %d, dispatches = %d; want 1 each", len(f.store.puts), len(f.dispatcher.requests))
	}
	if got := testutil.ToFloat64(f.svc.metrics.probeErrors); got != 1 {
		t.Fatalf("probe error counter = %v", got)
	}
	if !strings.Contains(f.logs.String(), `"level":"WARN"`) {
		t.Fatalf("expected a WARN log line, got %q", f.logs.String())
	}
}

func TestUnknownRegistryVersionIsInvalidAddon(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`"version not found: 9.9.9"`))
	}))
	defer srv.Close()

	client, err := registry.New(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}

	f := newFixture(t)
	f.svc.registry = client

	_, err = f.svc.Handle(context.Background(), Event{Addon: "ember-cli-x", AddonVersion: "9.9.9", EmberVersion: "2.18.0"})
	if KindOf(err) != KindInvalidAddon {
		t.Fatalf("Handle() error = %v, want kind %s", err, KindInvalidAddon)
	}
	if !IsNotFound(err) {
		t.Fatalf("IsNotFound(%v) = false", err)
	}
	if len(f.store.calls) != 0 {
		t.Fatalf("storage touched: %v", f.store.calls)
	}
}

func TestStagesSkipWhenBuilt(t *testing.T) {
	f := newFixture(t)
	rec := AddonRequest{Name: "a", Version: "1.0.0", CompatibilityTag: "2-18", AlreadyBuilt: BuildStateBuilt, Valid: true}

	if err := f.svc.WritePlaceholder(context.Background(), rec); err != nil {
		t.Fatalf("WritePlaceholder() error = %v", err)
	}
	if err := f.svc.Dispatch(context.Background(), rec); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(f.store.calls) != 0 {
		t.Fatalf("unexpected calls %v", f.store.calls)
	}
}

func TestNewValidatesDeps(t *testing.T) {
	cfg := Config{Bucket: "b", Compat: DefaultCompatTable()}
	store := &fakeStore{}
	tests := []struct {
		name string
		deps Deps
		cfg  Config
	}{
		{name: "no registry", deps: Deps{Storage: store, Dispatcher: &fakeDispatcher{}}, cfg: cfg},
		{name: "no storage", deps: Deps{Registry: &fakeRegistry{}, Dispatcher: &fakeDispatcher{}}, cfg: cfg},
		{name: "no dispatcher", deps: Deps{Registry: &fakeRegistry{}, Storage: store}, cfg: cfg},
		{name: "no bucket", deps: Deps{Registry: &fakeRegistry{}, Storage: store, Dispatcher: &fakeDispatcher{}}, cfg: Config{Compat: DefaultCompatTable()}},
		{name: "no table", deps: Deps{Registry: &fakeRegistry{}, Storage: store, Dispatcher: &fakeDispatcher{}}, cfg: Config{Bucket: "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps, tt.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
