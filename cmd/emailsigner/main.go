package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Git SHA1 commit hash of the release (set via linker flags)
var gitCommit = ""

var app *cli.App

func init() {
	app = &cli.App{
		Name:    "emailsigner",
		Usage:   "approve Safe transaction hashes by email",
		Version: version(),
		Flags: []cli.Flag{
			jsonFlag,
			quietFlag,
			trustedDelegateFlag,
		},
		Commands: []*cli.Command{
			commandAccount,
			commandRegister,
			commandApprove,
			commandServe,
		},
	}
}

// Commonly used command line flags.
var (
	emailFlag = &cli.StringFlag{
		Name:  "email",
		Usage: "email address that controls the signer",
	}
	jsonFlag = &cli.BoolFlag{
		Name:  "json",
		Usage: "output JSON instead of human-readable format",
	}
	quietFlag = &cli.BoolFlag{
		Name:  "quiet",
		Usage: "only log errors",
	}
	trustedDelegateFlag = &cli.StringSliceFlag{
		Name:  "trusted-delegatecall",
		Usage: "delegatecall target that does not trigger the email warning (repeatable, none by default)",
	}
)

func version() string {
	if gitCommit == "" {
		return "dev"
	}
	if len(gitCommit) > 8 {
		return gitCommit[:8]
	}
	return gitCommit
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
