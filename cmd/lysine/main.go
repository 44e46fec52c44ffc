// Command lysine renders and checks template files from the command line.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lysine-go/lysine"
	"github.com/lysine-go/lysine/value"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "lysine",
		Short:         "Template renderer",
		Version:       lysine.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRenderCmd(), newCheckCmd())
	return root
}

func newRenderCmd() *cobra.Command {
	var (
		templates string
		context   string
		out       string
	)
	cmd := &cobra.Command{
		Use:   "render NAME",
		Short: "Render a template against a YAML context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			eng, err := lysine.New(templates)
			if err != nil {
				slog.Error("loading templates failed", "glob", templates, "error", err)
				return err
			}
			ctx, err := loadContext(context)
			if err != nil {
				slog.Error("loading context failed", "path", context, "error", err)
				return err
			}
			rendered, err := eng.Render(name, ctx)
			if err != nil {
				return err
			}
			if out == "" {
				fmt.Fprint(cmd.OutOrStdout(), rendered)
				return nil
			}
			if err := atomic.WriteFile(out, strings.NewReader(rendered)); err != nil {
				slog.Error("writing output failed", "path", out, "error", err)
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&templates, "templates", "templates/**/*", "glob of template files to load")
	cmd.Flags().StringVar(&context, "context", "", "YAML file with the render context")
	cmd.Flags().StringVar(&out, "out", "", "output file, written atomically (stdout if empty)")
	return cmd
}

func newCheckCmd() *cobra.Command {
	var templates string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Parse and resolve every template matching the glob",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := lysine.New(templates)
			if err != nil {
				slog.Error("loading templates failed", "glob", templates, "error", err)
				return err
			}
			failed := false
			for _, name := range eng.TemplateNames() {
				if err := eng.Validate(name); err != nil {
					slog.Error("template is invalid", "name", name, "error", err)
					failed = true
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ok %s\n", name)
			}
			if failed {
				return fmt.Errorf("some templates failed validation")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&templates, "templates", "templates/**/*", "glob of template files to load")
	return cmd
}

// loadContext decodes a YAML file into a template context. An empty path
// yields an empty context.
func loadContext(path string) (value.Value, error) {
	if path == "" {
		return value.Null(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return value.Null(), err
	}
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return value.Null(), fmt.Errorf("bad YAML in %q: %w", path, err)
	}
	if raw == nil {
		return value.Null(), nil
	}
	return value.FromAny(raw)
}
