package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cobra"

	"github.com/anvilworks/anvil/internal/adapters/registry"
	"github.com/anvilworks/anvil/internal/adapters/terminal"
	"github.com/anvilworks/anvil/internal/config"
	"github.com/anvilworks/anvil/internal/core/models"
	"github.com/anvilworks/anvil/internal/core/services"
	"github.com/anvilworks/anvil/internal/manifest"
	"github.com/anvilworks/anvil/internal/util/logging"
	"github.com/anvilworks/anvil/internal/workflow"
)

type publishOptions struct {
	revert       string
	organization string
	yes          bool
	dryRun       bool
	replace      bool
	progress     bool
}

var publishOpts publishOptions

var publishCmd = &cobra.Command{
	Use:   "publish [package|docs]",
	Short: "Publish the package in the current directory, or revert a prior version",
	Long: `Publish uploads the package release and its generated documentation to
the registry. With no argument both are published; "package" or "docs"
restricts the upload to that artifact.

With --revert VERSION the selected artifacts of that prior version are
deleted instead; nothing is built or uploaded.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().StringVar(&publishOpts.revert, "revert", "", "revert the given published version instead of publishing")
	publishCmd.Flags().StringVar(&publishOpts.organization, "organization", "", "publish into this organization's repository")
	publishCmd.Flags().BoolVar(&publishOpts.yes, "yes", false, "skip confirmation prompts")
	publishCmd.Flags().BoolVar(&publishOpts.dryRun, "dry-run", false, "build everything but skip remote mutations")
	publishCmd.Flags().BoolVar(&publishOpts.replace, "replace", false, "ask the registry to overwrite an already-published version")
	publishCmd.Flags().BoolVar(&publishOpts.progress, "progress", true, "show upload progress")
}

// deriveIntent maps the positional argument and flags to the publish
// intent. An unknown positional is a fatal usage error raised before any
// network call.
func deriveIntent(args []string, opts publishOptions) (models.PublishIntent, error) {
	target := models.TargetBoth
	if len(args) == 1 {
		switch args[0] {
		case "package":
			target = models.TargetRelease
		case "docs":
			target = models.TargetDocs
		default:
			return models.PublishIntent{}, fmt.Errorf("unknown argument %q (expected \"package\" or \"docs\")", args[0])
		}
	}
	return models.PublishIntent{
		Target:       target,
		Organization: opts.organization,
		DryRun:       opts.dryRun,
		Replace:      opts.replace,
		AutoConfirm:  opts.yes,
		Progress:     opts.progress,
	}, nil
}

// validateRevertVersion rejects malformed --revert values before any
// network call.
func validateRevertVersion(version string) error {
	if _, err := semver.StrictNewVersion(version); err != nil {
		return fmt.Errorf("--revert %q is not a semantic version: %w", version, err)
	}
	return nil
}

// repoScope maps the organization flag to the gateway's repository scope;
// the default organization means the public repository.
func repoScope(organization, defaultOrg string) string {
	if organization != "" && organization != defaultOrg {
		return organization
	}
	return ""
}

func runPublish(cmd *cobra.Command, args []string) error {
	intent, err := deriveIntent(args, publishOpts)
	if err != nil {
		return err
	}
	if publishOpts.revert != "" {
		if err := validateRevertVersion(publishOpts.revert); err != nil {
			return err
		}
	}

	path := cfgFile
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if cfg.Registry.APIKey == "" && !intent.DryRun {
		return fmt.Errorf("no API key configured: set ANVIL_API_KEY or registry.apiKey in %s", path)
	}

	logger := logging.NewConsole(os.Stderr, verbose)

	dir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolving working directory: %w", err)
	}
	m, err := manifest.Load(dir)
	if err != nil {
		return err
	}

	gwOpts := []registry.Option{registry.WithLogger(logger)}
	if intent.Progress && publishOpts.revert == "" {
		gwOpts = append(gwOpts, registry.WithProgress(os.Stderr))
	}
	gateway := registry.New(cfg.Registry.URL, cfg.Registry.APIKey, gwOpts...)

	scope := repoScope(intent.Organization, cfg.Registry.DefaultOrganization)

	// Revert and publish are mutually exclusive: a revert target disables
	// the build/confirm/publish path entirely.
	if publishOpts.revert != "" {
		reverter := workflow.NewReverter(gateway, os.Stdout, logger)
		return reverter.Revert(cmd.Context(), intent.Target, scope, m.Name, publishOpts.revert)
	}

	meta, err := m.BuildMetadata(dir)
	if err != nil {
		return err
	}

	prompt := terminal.New(os.Stdin, os.Stdout)
	publisher := workflow.NewPublisher(gateway, prompt, os.Stdout, logger, cfg.Registry.DefaultOrganization)
	publisher.DocsBaseURL = cfg.Docs.BaseURL

	if err := publisher.Publish(cmd.Context(), meta, dir, intent); err != nil {
		if errors.Is(err, services.ErrAborted) {
			fmt.Fprintln(os.Stdout, "Publication aborted.")
			return nil
		}
		return err
	}
	return nil
}
