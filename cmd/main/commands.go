package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/CTAG07/Sundew/pkg/resources"
	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"
)

var (
	renderDataFile string
	renderJSON     string
	compileOut     string
)

var renderCmd = &cobra.Command{
	Use:   "render NAME",
	Short: "Render a template to stdout",
	Long: `Load every configured template and render NAME against JSON data.

Examples:
  sundew render page.dust --json '{"name":"World"}'
  sundew render page.dust --data context.json
  echo '{"items":[1,2]}' | sundew render list.dust --data -`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Precompile every configured template to JavaScript",
	Long: `Compile every template matched by the configured patterns and write the
registration script for each one to <out>/<name>.js.`,
	Args: cobra.NoArgs,
	RunE: runCompile,
}

func init() {
	renderCmd.Flags().StringVarP(&renderDataFile, "data", "d", "", "file holding the JSON context, - for stdin")
	renderCmd.Flags().StringVar(&renderJSON, "json", "", "inline JSON context")
	renderCmd.MarkFlagsMutuallyExclusive("data", "json")
	compileCmd.Flags().StringVarP(&compileOut, "out", "o", "./compiled", "output directory")
	rootCmd.AddCommand(renderCmd, compileCmd)
}

// openCLIApp loads the config and opens the app with logs on stderr, leaving
// stdout for command output.
func openCLIApp(cmd *cobra.Command) (*App, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd.ErrOrStderr(), config.Server.LogLevel)
	return openApp(config, logger)
}

// renderData returns the JSON context selected by the render flags.
func renderData(cmd *cobra.Command) (string, error) {
	switch {
	case renderJSON != "":
		return renderJSON, nil
	case renderDataFile == "-":
		b, err := io.ReadAll(cmd.InOrStdin())
		return string(b), err
	case renderDataFile != "":
		b, err := os.ReadFile(renderDataFile)
		return string(b), err
	}
	return "{}", nil
}

func runRender(cmd *cobra.Command, args []string) error {
	data, err := renderData(cmd)
	if err != nil {
		return fmt.Errorf("failed to read render data: %w", err)
	}

	app, err := openCLIApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	if _, err = app.engine.Init(cmd.Context()); err != nil {
		return err
	}
	name := args[0]
	if !app.engine.Exists(name) {
		return fmt.Errorf("template %q is not loaded", name)
	}
	return app.engine.Render(name, data, cmd.OutOrStdout())
}

func runCompile(cmd *cobra.Command, _ []string) error {
	app, err := openCLIApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	if err = os.MkdirAll(compileOut, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	written, errs := compileAll(ctx, app, compileOut)
	fmt.Fprintf(cmd.OutOrStdout(), "compiled %d templates into %s\n", written, compileOut)
	return errors.Join(errs...)
}

// compileAll writes the compiled form of every resource matched by the
// engine's patterns into dir. Later matches for the same name overwrite
// earlier ones, as they do when loading.
func compileAll(ctx context.Context, app *App, dir string) (int, []error) {
	var errs []error
	written := 0
	for _, pattern := range app.engine.Patterns() {
		locations, err := resources.Expand(ctx, app.provider, pattern)
		if err != nil {
			errs = append(errs, err)
		}
		for _, location := range locations {
			source, err := resources.ReadString(ctx, app.provider, location)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			name := resources.NameOf(location)
			compiled, err := app.engine.CompileTemplate(name, source)
			if err != nil {
				errs = append(errs, fmt.Errorf("failed to compile %s: %w", location, err))
				continue
			}
			out := filepath.Join(dir, name+".js")
			if err = atomic.WriteFile(out, bytes.NewReader([]byte(compiled))); err != nil {
				errs = append(errs, fmt.Errorf("failed to write %s: %w", out, err))
				continue
			}
			app.logger.Debug("Compiled template", "name", name, "out", out)
			written++
		}
	}
	return written, errs
}
