package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/anvilworks/anvil/internal/core/models"
	"github.com/anvilworks/anvil/internal/core/services"
)

// Reverter deletes previously published releases and docs. Eligibility
// (the revert time window, idempotence) is enforced entirely by the
// registry; the client only interprets the outcome.
type Reverter struct {
	gateway services.RegistryGateway
	out     io.Writer
	logger  zerolog.Logger
}

// NewReverter creates a Reverter writing user-facing messages to out.
func NewReverter(gateway services.RegistryGateway, out io.Writer, logger zerolog.Logger) *Reverter {
	return &Reverter{
		gateway: gateway,
		out:     out,
		logger:  logger,
	}
}

// Revert deletes the release and/or the docs for name@version. When both
// are targeted, the docs deletion is attempted regardless of the release
// deletion's outcome: the two are independent remote resources. A 404 on
// docs deletion means the docs never existed and is informational, not a
// failure.
func (r *Reverter) Revert(ctx context.Context, target models.PublishTarget, org, name, version string) error {
	var errs []error

	if target != models.TargetDocs {
		resp, err := r.gateway.DeleteRelease(ctx, org, name, version)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("reverting release: %w", err))
		case !resp.OK():
			errs = append(errs, &RemoteError{Op: "reverting release", StatusCode: resp.StatusCode, Detail: resp.Message()})
		default:
			fmt.Fprintf(r.out, "Reverted %s %s.\n", name, version)
		}
	}

	if target != models.TargetRelease {
		resp, err := r.gateway.DeleteDocs(ctx, org, name, version)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("reverting docs: %w", err))
		case resp.NotFound():
			fmt.Fprintf(r.out, "No docs published for %s %s; nothing to revert.\n", name, version)
		case !resp.OK():
			errs = append(errs, &RemoteError{Op: "reverting docs", StatusCode: resp.StatusCode, Detail: resp.Message()})
		default:
			fmt.Fprintf(r.out, "Reverted docs for %s %s.\n", name, version)
		}
	}

	return errors.Join(errs...)
}
