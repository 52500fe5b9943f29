/*
Package deps checks that the external tools a build runs are installed.
*/
package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/phovea/productbuild/internal/product"
)

// Tool represents a required tool/dependency
type Tool struct {
	Name        string // Display name
	Binary      string // Binary name to check
	Description string // What the tool is for
}

// Known tools invoked by the stages.
var (
	Git    = Tool{Name: "Git", Binary: "git", Description: "clones part repositories"}
	Yo     = Tool{Name: "Yeoman", Binary: "yo", Description: "scaffolds part workspaces"}
	NPM    = Tool{Name: "npm", Binary: "npm", Description: "installs and builds workspaces"}
	Pip    = Tool{Name: "pip", Binary: "pip", Description: "installs python requirements"}
	Docker = Tool{Name: "Docker", Binary: "docker", Description: "builds and pushes images"}
)

// Options select the stages that will run.
type Options struct {
	Generator  string
	SkipDocker bool
}

// Required returns the tools the given parts need, without duplicates.
func Required(parts []*product.Part, opts Options) []Tool {
	yo := Yo
	if opts.Generator != "" {
		yo.Binary = opts.Generator
	}
	tools := []Tool{Git, yo, NPM}

	for _, p := range parts {
		if p.IsServerType {
			tools = append(tools, Pip)
			break
		}
	}
	if !opts.SkipDocker {
		tools = append(tools, Docker)
	}
	return tools
}

// MissingToolsError lists tools that are not on PATH.
type MissingToolsError struct {
	Tools []Tool
}

func (e *MissingToolsError) Error() string {
	names := make([]string, len(e.Tools))
	for i, t := range e.Tools {
		names[i] = t.Binary
	}
	return fmt.Sprintf("missing required tools: %s", strings.Join(names, ", "))
}

// Check looks every tool up with lookPath (exec.LookPath when nil).
func Check(tools []Tool, lookPath func(string) (string, error)) error {
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	var missing []Tool
	for _, t := range tools {
		path, err := lookPath(t.Binary)
		if err != nil {
			log.Warn("Tool not found", "tool", t.Name, "binary", t.Binary, "needed", t.Description)
			missing = append(missing, t)
			continue
		}
		log.Debug("Found tool", "tool", t.Name, "path", path)
	}
	if len(missing) > 0 {
		return &MissingToolsError{Tools: missing}
	}
	return nil
}
