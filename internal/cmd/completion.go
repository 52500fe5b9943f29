package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// completionCmd generates shell completions
var completionCmd = &cobra.Command{
	Use:   "completion [shell]",
	Short: "Generate shell completions",
	Long: `Generate shell completion scripts for productbuild.

Bash:
  source <(productbuild completion bash)

Zsh:
  productbuild completion zsh > "${fpath[1]}/_productbuild"

Fish:
  productbuild completion fish | source

PowerShell:
  productbuild completion powershell | Out-String | Invoke-Expression

Use "productbuild completion install [shell]" to write the script to the
usual per-user location.
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             shells,
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		return genCompletion(cmd.Root(), args[0], cmd.OutOrStdout())
	},
}

// completionInstallCmd installs shell completions
var completionInstallCmd = &cobra.Command{
	Use:       "install [shell]",
	Short:     "Install shell completions",
	ValidArgs: shells,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		path, err := installCompletion(cmd.Root(), args[0], home)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Completion script installed to: %s\n", path)
		return nil
	},
}

var shells = []string{"bash", "zsh", "fish", "powershell"}

func init() {
	completionCmd.AddCommand(completionInstallCmd)
	rootCmd.AddCommand(completionCmd)
}

func genCompletion(root *cobra.Command, shell string, w io.Writer) error {
	switch shell {
	case "bash":
		return root.GenBashCompletionV2(w, true)
	case "zsh":
		return root.GenZshCompletion(w)
	case "fish":
		return root.GenFishCompletion(w, true)
	case "powershell":
		return root.GenPowerShellCompletionWithDesc(w)
	}
	return fmt.Errorf("unsupported shell: %s", shell)
}

// completionPath returns the per-user completion file of shell under home.
func completionPath(shell, home string) (string, error) {
	switch shell {
	case "bash":
		return filepath.Join(home, ".local", "share", "bash-completion", "completions", "productbuild"), nil
	case "zsh":
		return filepath.Join(home, ".zsh", "completions", "_productbuild"), nil
	case "fish":
		return filepath.Join(home, ".config", "fish", "completions", "productbuild.fish"), nil
	case "powershell":
		return filepath.Join(home, ".config", "powershell", "productbuild.ps1"), nil
	}
	return "", fmt.Errorf("unsupported shell: %s", shell)
}

// installCompletion writes the completion script of shell below home.
func installCompletion(root *cobra.Command, shell, home string) (string, error) {
	path, err := completionPath(shell, home)
	if err != nil {
		return "", err
	}

	var content bytes.Buffer
	if err := genCompletion(root, shell, &content); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, content.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("failed to write completion file: %w", err)
	}
	return path, nil
}
