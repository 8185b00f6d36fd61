package services

import (
	"context"

	"github.com/anvilworks/anvil/internal/core/models"
)

// RegistryGateway performs the remote operations the publish and revert
// workflows depend on. Every method returns the registry's verdict as a
// RemoteResponse; a non-nil error means the request never produced a
// server response (transport failure). Implementations must not retry
// mutating calls.
type RegistryGateway interface {
	// PublishRelease uploads a release archive. The replace flag asks the
	// registry to overwrite an already-published version instead of
	// rejecting it; enforcement is entirely server-side.
	PublishRelease(ctx context.Context, org, name, version string, archive *models.ArchiveArtifact, replace bool) (*models.RemoteResponse, error)

	// DeleteRelease removes a published release.
	DeleteRelease(ctx context.Context, org, name, version string) (*models.RemoteResponse, error)

	// PublishDocs uploads a docs archive for a published release.
	PublishDocs(ctx context.Context, org, name, version string, archive *models.ArchiveArtifact) (*models.RemoteResponse, error)

	// DeleteDocs removes the docs for a published release.
	DeleteDocs(ctx context.Context, org, name, version string) (*models.RemoteResponse, error)

	// AddOwner grants ownership of a package. With transfer set the
	// grantee replaces the current owners.
	AddOwner(ctx context.Context, org, name, owner, level string, transfer bool) (*models.RemoteResponse, error)

	// GetPackage fetches a package's metadata, answering 404 when the
	// package has never been published.
	GetPackage(ctx context.Context, org, name string) (*models.RemoteResponse, error)

	// UserOrganizations lists the authenticated user's organizations.
	UserOrganizations(ctx context.Context) (*models.RemoteResponse, error)
}

// Prompter is the terminal interaction surface used during ownership
// negotiation. Both calls block until the user answers.
type Prompter interface {
	// Ask prints the prompt and reads one line of input.
	Ask(prompt string) (string, error)

	// Confirm prints the prompt and reads a yes/no answer.
	Confirm(prompt string) (bool, error)
}
