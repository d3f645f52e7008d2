package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pgink/pgink"
	"github.com/pgink/pgink/internal/cli"
	"github.com/pgink/pgink/manifest"
)

var validateManifest string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate an entity manifest",
	Long: `Validate an entity manifest without rendering output.

Every return declaration is classified and every type reference is
resolved against the declared entities; an unresolved reference or an
unrecognized declaration fails the command.`,
	Example: `  # Validate a specific manifest
  pgink validate --manifest pgink.manifest.yaml

  # Validate using config file settings
  pgink validate`,
	RunE: func(cmd *cobra.Command, args []string) error {
		manifestPath := resolveString(validateManifest, cfg.Manifest)

		if _, err := os.Stat(manifestPath); err != nil {
			return cli.ManifestError(fmt.Sprintf("manifest not found: %s", manifestPath), nil)
		}

		set, opts, err := manifest.Load(manifestPath)
		if err != nil {
			return cli.ManifestError("loading manifest", err)
		}
		if opts.DefaultSchema == "" {
			opts.DefaultSchema = cfg.DefaultSchema
		}

		c, err := pgink.New(set, pgink.Options{Graph: opts, Logger: logger})
		if err != nil {
			return cli.ManifestError("resolving entity graph", err)
		}

		if !quiet {
			fmt.Printf("Manifest is valid. Found %d callables, %d triggers, %d types, %d enums.\n",
				len(c.Functions()), len(c.Triggers()), len(set.Types), len(set.Enums))
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateManifest, "manifest", "", "path to the entity manifest")
}
