package models

import (
	"encoding/json"
	"net/http"
	"strings"
)

// PublishTarget selects which published artifacts an invocation operates on.
type PublishTarget int

const (
	// TargetBoth covers the release archive and the docs archive.
	TargetBoth PublishTarget = iota
	// TargetRelease restricts the invocation to the release archive.
	TargetRelease
	// TargetDocs restricts the invocation to the docs archive.
	TargetDocs
)

func (t PublishTarget) String() string {
	switch t {
	case TargetRelease:
		return "package"
	case TargetDocs:
		return "docs"
	default:
		return "package and docs"
	}
}

// PackageFile is one entry of a release archive.
type PackageFile struct {
	Path string
	Data []byte
}

// BuildMetadata is the output of the local build step: everything the
// publish workflow needs to know about the package being released. It is
// never mutated after construction.
type BuildMetadata struct {
	Name         string
	Version      string
	Description  string
	Licenses     []string
	Files        []PackageFile
	ExcludedDeps []string
	Extra        map[string]string
}

// PublishIntent captures the parsed command-line options for one
// invocation. Derived once, read-only thereafter.
type PublishIntent struct {
	Target       PublishTarget
	Organization string
	DryRun       bool
	Replace      bool
	AutoConfirm  bool
	Progress     bool
}

// OwnerSelection is the outcome of ownership negotiation: either the
// publishing user themselves or one of their organizations. The zero value
// means self-ownership.
type OwnerSelection struct {
	organization string
}

// SelfOwner selects the publishing user as the package owner.
func SelfOwner() OwnerSelection {
	return OwnerSelection{}
}

// OrganizationOwner selects the named organization as the package owner.
func OrganizationOwner(name string) OwnerSelection {
	return OwnerSelection{organization: name}
}

// IsSelf reports whether the user keeps ownership.
func (s OwnerSelection) IsSelf() bool {
	return s.organization == ""
}

// Organization returns the selected organization name, or "" for self.
func (s OwnerSelection) Organization() string {
	return s.organization
}

// ArchiveArtifact is a fully buffered archive and the checksum of its
// exact bytes. It is built once per archive kind per invocation and never
// recomputed; recomputing would invalidate the checksum already shown to
// the user.
type ArchiveArtifact struct {
	Bytes    []byte
	Checksum string
}

// Size returns the archive size in bytes.
func (a *ArchiveArtifact) Size() int64 {
	return int64(len(a.Bytes))
}

// Organization is one entry of the authenticated user's organization list.
type Organization struct {
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

// RemoteResponse is the uniform result of a registry call that reached the
// server. Transport-level failures are reported as errors instead and
// never produce a RemoteResponse.
type RemoteResponse struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// OK reports whether the response is in the 2xx class.
func (r *RemoteResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

// NotFound reports whether the server answered 404.
func (r *RemoteResponse) NotFound() bool {
	return r.StatusCode == http.StatusNotFound
}

// Message extracts the server-supplied error detail. Registries answer
// errors with a JSON {"message": ...} payload; anything else is returned
// as trimmed body text.
func (r *RemoteResponse) Message() string {
	if len(r.Body) == 0 {
		return http.StatusText(r.StatusCode)
	}
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(r.Body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return strings.TrimSpace(string(r.Body))
}
