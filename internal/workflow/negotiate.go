// Package workflow contains the publish and revert orchestration and the
// ownership negotiation that precedes a package's first publication.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/anvilworks/anvil/internal/core/models"
	"github.com/anvilworks/anvil/internal/core/services"
)

// conductURL is shown before every publication.
const conductURL = "https://anvilworks.org/policies/code-of-conduct"

// Negotiator resolves package ownership (personal vs. organization) before
// first publication. The decision is made exactly once per invocation,
// before any remote mutation, and never revisited after partial failure.
type Negotiator struct {
	gateway    services.RegistryGateway
	prompt     services.Prompter
	out        io.Writer
	logger     zerolog.Logger
	defaultOrg string
}

// NewNegotiator creates a Negotiator. defaultOrg is the name of the public
// repository; passing it as the intent's organization is treated the same
// as passing none.
func NewNegotiator(gateway services.RegistryGateway, prompt services.Prompter, out io.Writer, logger zerolog.Logger, defaultOrg string) *Negotiator {
	return &Negotiator{
		gateway:    gateway,
		prompt:     prompt,
		out:        out,
		logger:     logger,
		defaultOrg: defaultOrg,
	}
}

// Negotiate decides who owns the package and doubles as the publish
// confirmation point: every path either auto-confirms, asks a yes/no
// question, or presents the owner menu (where making a selection is the
// confirmation). A declined confirmation returns services.ErrAborted.
func (n *Negotiator) Negotiate(ctx context.Context, meta *models.BuildMetadata, intent models.PublishIntent) (models.OwnerSelection, error) {
	n.printSummary(meta, intent)

	// An explicit non-default organization settles ownership up front.
	if intent.Organization != "" && intent.Organization != n.defaultOrg {
		if err := n.confirm(intent); err != nil {
			return models.OwnerSelection{}, err
		}
		return models.OrganizationOwner(intent.Organization), nil
	}

	// Existing packages keep their owners; those are managed separately.
	if n.packageExists(ctx, meta.Name) {
		if err := n.confirm(intent); err != nil {
			return models.OwnerSelection{}, err
		}
		return models.SelfOwner(), nil
	}

	orgs := n.userOrganizations(ctx)
	if len(orgs) == 0 || intent.AutoConfirm {
		if err := n.confirm(intent); err != nil {
			return models.OwnerSelection{}, err
		}
		return models.SelfOwner(), nil
	}

	return n.selectOwner(meta, orgs)
}

func (n *Negotiator) printSummary(meta *models.BuildMetadata, intent models.PublishIntent) {
	fmt.Fprintf(n.out, "Publishing %s %s\n", meta.Name, meta.Version)
	if intent.Organization != "" && intent.Organization != n.defaultOrg {
		fmt.Fprintf(n.out, "Destination: organization repository %s\n", intent.Organization)
	} else {
		fmt.Fprintf(n.out, "Destination: the public repository\n")
	}
	fmt.Fprintf(n.out, "Publishing is subject to the code of conduct: %s\n", conductURL)
}

// confirm is the non-menu confirmation point. AutoConfirm skips it.
func (n *Negotiator) confirm(intent models.PublishIntent) error {
	if intent.AutoConfirm {
		return nil
	}
	ok, err := n.prompt.Confirm("Proceed?")
	if err != nil {
		return fmt.Errorf("reading confirmation: %w", err)
	}
	if !ok {
		return services.ErrAborted
	}
	return nil
}

// packageExists asks the registry whether the package was already
// published. Lookup failures degrade to "assume it does not exist" but are
// surfaced to the user.
func (n *Negotiator) packageExists(ctx context.Context, name string) bool {
	resp, err := n.gateway.GetPackage(ctx, "", name)
	if err != nil {
		fmt.Fprintf(n.out, "Warning: could not check whether %s exists (%v); assuming it does not.\n", name, err)
		return false
	}
	switch {
	case resp.OK():
		return true
	case resp.NotFound():
		return false
	default:
		fmt.Fprintf(n.out, "Warning: existence check for %s failed (%s); assuming it does not exist.\n", name, resp.Message())
		n.logger.Debug().Int("status", resp.StatusCode).Str("package", name).Msg("existence check degraded")
		return false
	}
}

// userOrganizations fetches the current user's organizations, degrading
// to an empty list on any failure.
func (n *Negotiator) userOrganizations(ctx context.Context) []models.Organization {
	resp, err := n.gateway.UserOrganizations(ctx)
	if err != nil {
		fmt.Fprintf(n.out, "Warning: could not list your organizations (%v); assuming none.\n", err)
		return nil
	}
	if !resp.OK() {
		fmt.Fprintf(n.out, "Warning: listing your organizations failed (%s); assuming none.\n", resp.Message())
		return nil
	}
	var orgs []models.Organization
	if err := json.Unmarshal(resp.Body, &orgs); err != nil {
		fmt.Fprintf(n.out, "Warning: could not decode organization list (%v); assuming none.\n", err)
		return nil
	}
	return orgs
}

// selectOwner presents the numbered menu and re-prompts until the input
// resolves to a valid option. Option 1 is the user themselves; options
// 2..N+1 map to the organizations in order.
func (n *Negotiator) selectOwner(meta *models.BuildMetadata, orgs []models.Organization) (models.OwnerSelection, error) {
	fmt.Fprintf(n.out, "%s has not been published before. Who should own it?\n", meta.Name)
	fmt.Fprintf(n.out, "  1. yourself\n")
	for i, org := range orgs {
		fmt.Fprintf(n.out, "  %d. %s\n", i+2, org.Name)
	}

	for {
		token, err := n.prompt.Ask("Selection: ")
		if err != nil {
			return models.OwnerSelection{}, fmt.Errorf("reading selection: %w", err)
		}
		idx, err := strconv.Atoi(token)
		if err != nil || idx < 1 || idx > len(orgs)+1 {
			fmt.Fprintf(n.out, "Invalid selection %q.\n", token)
			continue
		}
		if idx == 1 {
			return models.SelfOwner(), nil
		}
		return models.OrganizationOwner(orgs[idx-2].Name), nil
	}
}
