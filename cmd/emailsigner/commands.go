package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/urfave/cli/v2"

	"email-signer/flow"
	"email-signer/server"
)

var commandAccount = &cli.Command{
	Name:  "account",
	Usage: "show what is stored for an email",
	Description: `
Prints the account code, email signer and vault stored locally for --email,
or for the last email used when --email is omitted.`,
	Flags: []cli.Flag{
		emailFlag,
	},
	Action: func(ctx *cli.Context) error {
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		info, err := rt.controller.Lookup(ctx.String(emailFlag.Name))
		if err != nil {
			return err
		}
		if ctx.Bool(jsonFlag.Name) {
			return mustPrintJSON(info)
		}
		fmt.Println("Email:         ", info.Email)
		fmt.Println("Account code:  ", orNone(info.AccountCode))
		if info.SignerAddress != nil {
			fmt.Println("Email signer:  ", info.SignerAddress.Hex())
		} else {
			fmt.Println("Email signer:   (none)")
		}
		if info.SafeAddress != nil {
			fmt.Println("Safe:          ", info.SafeAddress.Hex())
		} else {
			fmt.Println("Safe:           (none)")
		}
		return nil
	},
}

var commandRegister = &cli.Command{
	Name:  "register",
	Usage: "create an account code, deploy the email signer and the 2-of-2 Safe",
	Flags: []cli.Flag{
		emailFlag,
		&cli.BoolFlag{
			Name:  "new-code",
			Usage: "generate a new account code even if one is stored",
		},
		&cli.Int64Flag{
			Name:  "salt-nonce",
			Usage: "Safe salt nonce (defaults to the current unix time in milliseconds)",
		},
	},
	Action: func(ctx *cli.Context) error {
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		in := flow.RegistrationInput{
			Email:   ctx.String(emailFlag.Name),
			NewCode: ctx.Bool("new-code"),
		}
		if ctx.IsSet("salt-nonce") {
			in.SaltNonce = big.NewInt(ctx.Int64("salt-nonce"))
		}

		runCtx, cancel := signalContext(ctx.Context)
		defer cancel()

		session := flow.NewSession(flow.KindRegistration)
		defer session.Close()
		stop := printSteps(session, ctx.Bool(jsonFlag.Name))

		reg, err := rt.controller.Register(runCtx, session, in)
		stop()
		if err != nil {
			return err
		}
		if ctx.Bool(jsonFlag.Name) {
			return mustPrintJSON(reg)
		}
		fmt.Println("Account code:  ", reg.AccountCode)
		fmt.Println("Email signer:  ", reg.SignerAddress.Hex())
		fmt.Println("Safe:          ", reg.SafeAddress.Hex())
		return nil
	},
}

var commandApprove = &cli.Command{
	Name:  "approve",
	Usage: "approve a Safe transaction hash by email",
	Description: `
Sends a signature request for --hash to --email through the relayer, waits for the
user to reply and submits the resulting proof to the email signer. Interrupting the
command cancels the wait.`,
	Flags: []cli.Flag{
		emailFlag,
		&cli.StringFlag{
			Name:  "safe",
			Usage: "Safe address (defaults to the stored Safe for --email)",
		},
		&cli.StringFlag{
			Name:     "hash",
			Usage:    "Safe transaction hash to approve",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "account-code",
			Usage: "account code (defaults to the stored code for --email)",
		},
	},
	Action: func(ctx *cli.Context) error {
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		in := flow.ApprovalInput{
			Email:       ctx.String(emailFlag.Name),
			AccountCode: ctx.String("account-code"),
			SafeAddress: ctx.String("safe"),
			Hash:        ctx.String("hash"),
		}

		runCtx, cancel := signalContext(ctx.Context)
		defer cancel()

		session := flow.NewSession(flow.KindApproval)
		defer session.Close()
		stop := printSteps(session, ctx.Bool(jsonFlag.Name))

		outcome := rt.controller.Approve(runCtx, session, in)
		stop()
		if ctx.Bool(jsonFlag.Name) {
			if err := mustPrintJSON(outcome); err != nil {
				return err
			}
		} else if outcome.Success {
			fmt.Println("Approved in transaction", outcome.TransactionHash)
		}
		if !outcome.Success {
			return errors.New(outcome.Message)
		}
		return nil
	},
}

var commandServe = &cli.Command{
	Name:  "serve",
	Usage: "run the local REST and WebSocket service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "addr",
			Usage: "listen address (defaults to LISTEN_ADDR)",
		},
		&cli.DurationFlag{
			Name:  "session-timeout",
			Usage: "close sessions idle for longer than this",
			Value: 30 * time.Minute,
		},
	},
	Action: func(ctx *cli.Context) error {
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		addr := rt.config.ListenAddr
		if ctx.IsSet("addr") {
			addr = ctx.String("addr")
		}

		runCtx, cancel := signalContext(ctx.Context)
		defer cancel()

		sessions := flow.NewSessionManager(ctx.Duration("session-timeout"))
		sessions.StartCleanupRoutine(time.Minute)

		return server.New(rt.controller, sessions, rt.logger).ListenAndServe(runCtx, addr)
	},
}

// printSteps echoes step log lines to stdout while a flow runs. The returned
// function stops echoing after flushing what was already logged.
func printSteps(session *flow.Session, quiet bool) func() {
	if quiet {
		return func() {}
	}
	steps := session.Steps().Follow()
	stop := make(chan struct{})
	done := make(chan struct{})
	flush := func() {
		for _, line := range steps.Next() {
			fmt.Println(line)
		}
	}
	go func() {
		defer close(done)
		defer flush()
		for {
			select {
			case _, ok := <-steps.Notify():
				if !ok {
					return
				}
				flush()
			case <-stop:
				return
			}
		}
	}()
	return func() {
		close(stop)
		<-done
		steps.Stop()
	}
}

func mustPrintJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %v", err)
	}
	fmt.Println(string(out))
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
