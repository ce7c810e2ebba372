// Kernel-agent is the in-container code-execution agent of the compute
// platform: it accepts user code and shell commands from the controller,
// runs them, and streams output and status events back.
package main

import (
	"fmt"
	"os"

	"github.com/lablup/backend.ai-kernel-runner/clicommand"
	"github.com/lablup/backend.ai-kernel-runner/version"
	"github.com/urfave/cli"
)

const appHelpTemplate = `Usage:
  {{.Name}} [options...] <lang>

Description:

{{.Description}}

Options:

{{range .VisibleFlags}}  {{.}}
{{end -}}
`

func printVersion(c *cli.Context) {
	fmt.Fprintf(c.App.Writer, "%s version %s\n", c.App.Name, version.FullVersion())
}

func main() {
	cli.AppHelpTemplate = appHelpTemplate
	cli.VersionPrinter = printVersion

	app := cli.NewApp()
	app.Name = "kernel-agent"
	app.Version = version.Version()
	app.Usage = "In-container code-execution agent"
	app.Description = clicommand.RunHelpDescription
	app.Flags = clicommand.KernelRunFlags
	app.Action = clicommand.KernelRunAction
	app.ErrWriter = os.Stderr

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "kernel-agent: %v\n", err)
		os.Exit(1)
	}
}
