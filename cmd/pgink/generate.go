package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pgink/pgink"
	"github.com/pgink/pgink/internal/cli"
	"github.com/pgink/pgink/manifest"
	"github.com/pgink/pgink/wrapper"
)

var (
	genManifest   string
	genOutput     string
	genWrapperDir string
	genWrapperPkg string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Render the DDL registration script",
	Long: `Render the DDL registration script from an entity manifest.

Callables and triggers are emitted in dependency order; the script is
byte-stable for a given manifest. When a wrapper directory is configured,
the trigger entry-point shims are generated alongside the script.`,
	Example: `  # Render to the configured output path
  pgink generate

  # Render a specific manifest to stdout
  pgink generate --manifest pgink.manifest.yaml --output -

  # Render and regenerate trigger wrappers
  pgink generate --wrapper-dir internal/wrappers --wrapper-package wrappers`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Resolve values: flags > config > defaults
		manifestPath := resolveString(genManifest, cfg.Manifest)
		output := resolveString(genOutput, cfg.Generate.Output)
		wrapperDir := resolveString(genWrapperDir, cfg.Generate.WrapperDir)
		wrapperPkg := resolveString(genWrapperPkg, cfg.Generate.WrapperPackage, "main")

		set, opts, err := manifest.Load(manifestPath)
		if err != nil {
			return cli.ManifestError(fmt.Sprintf("loading manifest %s", manifestPath), err)
		}
		if opts.DefaultSchema == "" {
			opts.DefaultSchema = cfg.DefaultSchema
		}
		if opts.ModulePathname == "" {
			opts.ModulePathname = cfg.ModulePathname
		}

		c, err := pgink.New(set, pgink.Options{Graph: opts, Logger: logger})
		if err != nil {
			return cli.ManifestError("resolving entity graph", err)
		}

		script, err := c.Render(cmd.Context())
		if err != nil {
			return cli.RenderError("rendering DDL", err)
		}

		if output == "-" {
			if _, err := os.Stdout.WriteString(script); err != nil {
				return cli.GeneralError("writing to stdout", err)
			}
		} else {
			if err := os.WriteFile(output, []byte(script), 0o644); err != nil {
				return cli.GeneralError(fmt.Sprintf("writing %s", output), err)
			}
			if !quiet {
				fmt.Printf("Generated %s from %s\n", output, manifestPath)
			}
		}

		if wrapperDir != "" {
			if err := generateWrappers(c, wrapperDir, wrapperPkg); err != nil {
				return err
			}
		}
		return nil
	},
}

// generateWrappers writes one shim source file per trigger callable.
func generateWrappers(c *pgink.Compiler, dir, pkg string) error {
	triggers := c.Triggers()
	if len(triggers) == 0 {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return cli.GeneralError("creating wrapper directory", err)
	}
	for _, t := range triggers {
		outPath := filepath.Join(dir, t.FunctionName+"_wrapper.go")
		f, err := os.Create(outPath)
		if err != nil {
			return cli.GeneralError(fmt.Sprintf("creating %s", outPath), err)
		}
		err = wrapper.Generate(f, t, pkg)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return cli.GeneralError(fmt.Sprintf("writing %s", outPath), err)
		}
		if !quiet {
			fmt.Printf("Generated %s\n", outPath)
		}
	}
	return nil
}

func init() {
	f := generateCmd.Flags()
	f.StringVar(&genManifest, "manifest", "", "path to the entity manifest")
	f.StringVar(&genOutput, "output", "", "output path for the DDL script (\"-\" for stdout)")
	f.StringVar(&genWrapperDir, "wrapper-dir", "", "directory for generated trigger wrappers")
	f.StringVar(&genWrapperPkg, "wrapper-package", "", "package name for generated wrappers (default: main)")
}
