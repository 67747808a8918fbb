package addon

import (
	"fmt"
	"time"
)

const (
	artifactFile     = "artifact.json"
	statusBuilding   = "building"
	triggeredByAPI   = "api"
	statusDateLayout = "2006-01-02T15:04:05.000Z07:00"
)

// Event is the invocation payload accepted by the builder API.
type Event struct {
	Addon        string `json:"addon"`
	AddonVersion string `json:"addon_version"`
	EmberVersion string `json:"ember_version"`
}

// Response points at the location the addon artifact is, or will be, served from.
type Response struct {
	Location string `json:"location"`
}

// BuildState records what the storage probe found.
type BuildState int

const (
	BuildStateUnknown BuildState = iota
	BuildStateBuilt
	BuildStateMissing
)

func (s BuildState) String() string {
	switch s {
	case BuildStateBuilt:
		return "built"
	case BuildStateMissing:
		return "missing"
	default:
		return "unknown"
	}
}

// AddonRequest is the record threaded through a single invocation.
type AddonRequest struct {
	Name             string
	Version          string
	CompatibilityTag string
	AlreadyBuilt     BuildState
	Valid            bool
}

// Key returns the object key of the request's artifact.
func (r AddonRequest) Key() string {
	return ArtifactKey(r.CompatibilityTag, r.Name, r.Version)
}

// BuildRequest is the payload handed to the build function.
type BuildRequest struct {
	Addon        string `json:"addon"`
	AddonVersion string `json:"addon_version"`
	EmberVersion string `json:"ember_version"`
	TriggeredBy  string `json:"triggered_by"`
}

// Key returns the object key the build will write to.
func (b BuildRequest) Key() string {
	return ArtifactKey(b.EmberVersion, b.Addon, b.AddonVersion)
}

func (r AddonRequest) buildRequest() BuildRequest {
	return BuildRequest{
		Addon:        r.Name,
		AddonVersion: r.Version,
		EmberVersion: r.CompatibilityTag,
		TriggeredBy:  triggeredByAPI,
	}
}

// BuildStatus is the document stored at the artifact key. The builder fills in the output
// fields once it finishes; until then they are null.
type BuildStatus struct {
	Status     string  `json:"status"`
	StatusDate string  `json:"status_date"`
	AddonJS    *string `json:"addon_js"`
	AddonCSS   *string `json:"addon_css"`
	ErrorLog   *string `json:"error_log"`
}

func buildingStatus(now time.Time) BuildStatus {
	return BuildStatus{
		Status:     statusBuilding,
		StatusDate: now.UTC().Format(statusDateLayout),
	}
}

// ArtifactKey builds the storage key {tag}/{name}/{version}/artifact.json.
func ArtifactKey(tag, name, version string) string {
	return fmt.Sprintf("%s/%s/%s/%s", tag, name, version, artifactFile)
}

// Location builds the public URL of key inside bucket.
func Location(bucket, key string) string {
	return fmt.Sprintf("https://%s/%s", bucket, key)
}
