package workflow

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/anvilworks/anvil/internal/archive"
	"github.com/anvilworks/anvil/internal/core/models"
	"github.com/anvilworks/anvil/internal/core/services"
)

// RemoteError is a registry response outside the 2xx class, carrying the
// server-supplied detail.
type RemoteError struct {
	Op         string
	StatusCode int
	Detail     string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s failed (%d): %s", e.Op, e.StatusCode, e.Detail)
}

// OwnershipTransferError means the release was published but the final,
// independent transfer step failed. The package is live either way.
type OwnershipTransferError struct {
	Organization string
	Detail       string
}

func (e *OwnershipTransferError) Error() string {
	return fmt.Sprintf("ownership transfer to %s failed: %s", e.Organization, e.Detail)
}

// Publisher drives the publish pipeline: negotiate and confirm, build
// archives, publish the release, publish the docs, transfer ownership.
// Steps after a failed release publication are never attempted.
type Publisher struct {
	gateway    services.RegistryGateway
	negotiator *Negotiator
	out        io.Writer
	logger     zerolog.Logger
	defaultOrg string

	// DocsBaseURL, when set, is used to print the documentation link
	// after a successful docs upload.
	DocsBaseURL string
}

// NewPublisher creates a Publisher writing user-facing messages to out.
func NewPublisher(gateway services.RegistryGateway, prompt services.Prompter, out io.Writer, logger zerolog.Logger, defaultOrg string) *Publisher {
	return &Publisher{
		gateway:    gateway,
		negotiator: NewNegotiator(gateway, prompt, out, logger, defaultOrg),
		out:        out,
		logger:     logger,
		defaultOrg: defaultOrg,
	}
}

// Publish runs one publish invocation for the package rooted at dir.
// Precondition failures (missing or invalid docs tree) abort before any
// network call. In dry-run mode all archives are built and reported but
// the mutating registry calls are elided.
func (p *Publisher) Publish(ctx context.Context, meta *models.BuildMetadata, dir string, intent models.PublishIntent) error {
	var docs *models.ArchiveArtifact
	if intent.Target != models.TargetRelease {
		root, err := archive.ResolveDocsDir(dir)
		if err != nil {
			return err
		}
		docs, err = archive.BuildDocs(root)
		if err != nil {
			return err
		}
	}

	org := p.scope(intent)

	if intent.Target == models.TargetDocs {
		return p.pushDocs(ctx, org, meta, docs, intent)
	}

	owner, err := p.negotiator.Negotiate(ctx, meta, intent)
	if err != nil {
		return err
	}

	release, err := archive.BuildRelease(meta)
	if err != nil {
		return fmt.Errorf("building release archive: %w", err)
	}
	fmt.Fprintf(p.out, "Release archive: %d bytes, sha256 %s\n", release.Size(), release.Checksum)

	if intent.DryRun {
		fmt.Fprintf(p.out, "Dry run: skipping upload of %s %s.\n", meta.Name, meta.Version)
	} else {
		resp, err := p.gateway.PublishRelease(ctx, org, meta.Name, meta.Version, release, intent.Replace)
		if err != nil {
			return fmt.Errorf("publishing release: %w", err)
		}
		if !resp.OK() {
			return &RemoteError{Op: "publishing release", StatusCode: resp.StatusCode, Detail: resp.Message()}
		}
		fmt.Fprintf(p.out, "Published %s %s.\n", meta.Name, meta.Version)
	}

	if docs != nil {
		if err := p.pushDocs(ctx, org, meta, docs, intent); err != nil {
			return err
		}
	}

	return p.transferOwnership(ctx, org, meta, owner, intent)
}

// scope maps the intent's organization to the gateway's repository scope;
// the default organization is the public repository.
func (p *Publisher) scope(intent models.PublishIntent) string {
	if intent.Organization != "" && intent.Organization != p.defaultOrg {
		return intent.Organization
	}
	return ""
}

func (p *Publisher) pushDocs(ctx context.Context, org string, meta *models.BuildMetadata, docs *models.ArchiveArtifact, intent models.PublishIntent) error {
	if intent.DryRun {
		fmt.Fprintf(p.out, "Docs archive: %d bytes\n", docs.Size())
		fmt.Fprintf(p.out, "Dry run: skipping docs upload for %s %s.\n", meta.Name, meta.Version)
		return nil
	}

	resp, err := p.gateway.PublishDocs(ctx, org, meta.Name, meta.Version, docs)
	if err != nil {
		return fmt.Errorf("publishing docs: %w", err)
	}
	if resp.NotFound() {
		return &RemoteError{
			Op:         "publishing docs",
			StatusCode: resp.StatusCode,
			Detail:     fmt.Sprintf("%s %s is not published; publish the package before its docs", meta.Name, meta.Version),
		}
	}
	if !resp.OK() {
		return &RemoteError{Op: "publishing docs", StatusCode: resp.StatusCode, Detail: resp.Message()}
	}

	if p.DocsBaseURL != "" {
		fmt.Fprintf(p.out, "Published docs for %s %s: %s/%s/%s\n", meta.Name, meta.Version, p.DocsBaseURL, meta.Name, meta.Version)
	} else {
		fmt.Fprintf(p.out, "Published docs for %s %s.\n", meta.Name, meta.Version)
	}
	return nil
}

// transferOwnership is the last, independent step. A failure here is
// reported but does not roll back the published release.
func (p *Publisher) transferOwnership(ctx context.Context, org string, meta *models.BuildMetadata, owner models.OwnerSelection, intent models.PublishIntent) error {
	if owner.IsSelf() {
		return nil
	}
	if intent.DryRun {
		fmt.Fprintf(p.out, "Dry run: skipping ownership transfer to %s.\n", owner.Organization())
		return nil
	}

	resp, err := p.gateway.AddOwner(ctx, org, meta.Name, owner.Organization(), "full", true)
	if err != nil || !resp.OK() {
		detail := ""
		if err != nil {
			detail = err.Error()
		} else {
			detail = resp.Message()
		}
		fmt.Fprintf(p.out, "%s %s is live, but ownership transfer to %s failed: %s\n", meta.Name, meta.Version, owner.Organization(), detail)
		fmt.Fprintf(p.out, "Retry the transfer separately once the issue is resolved.\n")
		return &OwnershipTransferError{Organization: owner.Organization(), Detail: detail}
	}

	fmt.Fprintf(p.out, "Ownership transferred to %s.\n", owner.Organization())
	return nil
}
