package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/phovea/productbuild"
	"github.com/phovea/productbuild/internal/config"
	"github.com/phovea/productbuild/internal/deps"
	"github.com/phovea/productbuild/internal/product"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the product manifest",
	Long: `Check if the product manifest is valid and show the derived parts.

This validates:
  - Manifest syntax
  - Required fields of every part and additional
  - Part types
  - Requested services
  - Product version

No repository is cloned and no command is run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := loadOptions()
		if err != nil {
			return err
		}

		info, err := loadProduct(opts, config.CaptureEnvironment(), time.Now())
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n\n", info.Name, info.Version)
		fmt.Fprintln(cmd.OutOrStdout(), partTable(info.Parts))
		fmt.Fprintf(cmd.OutOrStdout(), "\n✓ %s is valid\n", opts.ManifestFile)

		tools := deps.Required(info.Parts, deps.Options{Generator: opts.Generator})
		if err := deps.Check(tools, nil); err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "⚠ %v\n", err)
		}
		return nil
	},
}

// partTable renders the derived parts, one row each.
func partTable(parts []*product.Part) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("PART", "TYPE", "REPOSITORY", "BRANCH", "ADDITIONALS", "IMAGE", "TAGS")
	for _, p := range parts {
		var adds []string
		for _, a := range p.Additionals {
			adds = append(adds, a.Name)
		}
		key := lipgloss.NewStyle().Foreground(lipgloss.Color(p.Color)).Render(p.Key)
		t.Row(key, string(p.Type), p.Repo.URL, p.Repo.Branch, strings.Join(adds, ", "), p.Image, strings.Join(p.DockerTags, ", "))
	}
	return t.String()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit, and build date of productbuild.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "productbuild %s\n", productbuild.Version)
		if productbuild.GitCommit != "" {
			fmt.Fprintf(out, "  Commit: %s\n", productbuild.GitCommit)
		}
		if productbuild.BuildDate != "" {
			fmt.Fprintf(out, "  Built:  %s\n", productbuild.BuildDate)
		}
	},
}
