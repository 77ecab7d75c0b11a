package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tailored-agentic-units/dispatch/core/protocol"
	"github.com/tailored-agentic-units/dispatch/engine"
	"github.com/tailored-agentic-units/dispatch/rpc"
	"github.com/tailored-agentic-units/dispatch/session"
)

const approvalPrompt = "Do you approve of the above actions? Type 'y' to continue; " +
	"otherwise, explain your requested change.\n> "

func newChatCmd(opts *options) *cobra.Command {
	var server, thread, wallet string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat in the terminal, approving sensitive actions as they come up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := opts.dispatcher(server)
			if err != nil {
				return err
			}
			defer closeDispatcher(d)

			if thread == "" {
				thread = session.NewThreadID()
			}
			c := &chat{
				d:       d,
				thread:  thread,
				in:      bufio.NewScanner(cmd.InOrStdin()),
				out:     cmd.OutOrStdout(),
				verbose: opts.verbose,
			}
			if wallet != "" {
				c.metadata = map[string]string{session.MetaWalletAddress: wallet}
			}
			return c.run(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&server, "server", "", "Base URL of a dispatch server (default: run in-process)")
	flags.StringVar(&thread, "thread", "", "Thread ID to continue (default: a new thread)")
	flags.StringVar(&wallet, "wallet", os.Getenv("WALLET_ADDRESS"), "Wallet address shown to the assistants")
	return cmd
}

// chat is the terminal loop: user text goes to Submit, and every
// suspension is answered with an approval or a denial reason.
type chat struct {
	d        rpc.Dispatcher
	thread   string
	metadata map[string]string
	in       *bufio.Scanner
	out      io.Writer
	verbose  bool
}

func (c *chat) run(ctx context.Context) error {
	fmt.Fprintf(c.out, "Thread %s. Type 'quit' to exit.\n", c.thread)

	st, err := c.d.GetState(ctx, c.thread)
	switch {
	case errors.Is(err, engine.ErrThreadNotFound):
	case err != nil:
		return err
	case st.Suspended():
		fmt.Fprintln(c.out, "\nThis thread is waiting for a decision.")
		pending := &engine.Outcome{
			ThreadID: c.thread,
			Status:   engine.StatusSuspended,
			Pending:  st.Pending,
			Active:   st.Active(),
		}
		if done, err := c.settle(ctx, pending, nil); done {
			return err
		}
	}

	for {
		text, ok := c.read("\nUser: ")
		if !ok {
			return c.in.Err()
		}
		switch strings.ToLower(text) {
		case "":
			continue
		case "quit", "exit", "q":
			fmt.Fprintln(c.out, "Goodbye!")
			return nil
		}

		out, err := c.d.Submit(ctx, c.thread, text, c.metadata)
		if done, err := c.settle(ctx, out, err); done {
			return err
		}
	}
}

// settle answers suspensions until the turn completes, then shows the
// result. done is set when the loop should stop.
func (c *chat) settle(ctx context.Context, out *engine.Outcome, err error) (done bool, _ error) {
	for err == nil && out.Suspended() {
		c.show(out)

		answer, ok := c.read(approvalPrompt)
		if !ok {
			return true, c.in.Err()
		}
		decision := engine.Approve()
		if answer != "y" {
			decision = engine.Deny(answer)
		}
		out, err = c.d.Resume(ctx, c.thread, decision)
	}

	if err != nil {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		fmt.Fprintf(c.out, "Error: %v\nPlease try again.\n", err)
		return false, nil
	}
	c.show(out)
	return false, nil
}

func (c *chat) read(prompt string) (string, bool) {
	fmt.Fprint(c.out, prompt)
	if !c.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(c.in.Text()), true
}

func (c *chat) show(out *engine.Outcome) {
	for _, m := range out.Messages {
		switch {
		case m.Role == protocol.RoleAssistant && m.Content != "":
			fmt.Fprintf(c.out, "\nAssistant: %s\n", m.Content)
		case c.verbose && m.Role == protocol.RoleTool:
			fmt.Fprintf(c.out, "  <- %s\n", m.Content)
		}
	}

	if out.Pending == nil {
		return
	}
	fmt.Fprintf(c.out, "\nThe %s wants to run:\n", out.Pending.Specialist)
	for i, call := range out.Pending.Calls {
		args, _ := json.Marshal(call.Arguments)
		fmt.Fprintf(c.out, "  [%d] %s(%s)\n", i+1, call.Name, args)
	}
}
