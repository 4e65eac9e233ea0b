package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"helpdeskagent/internal/agent"
	"helpdeskagent/internal/app"
	"helpdeskagent/internal/models"
	"helpdeskagent/internal/roles"
)

// conversation is the part of agent.Service the REPL uses.
type conversation interface {
	Ask(ctx context.Context, key string, identity models.Identity, text string) (*agent.Reply, error)
	End(ctx context.Context, key string) (bool, error)
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	var email, name string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the agent assigned to an email",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Start(cmd.Context()); err != nil {
				return err
			}
			identity := models.Identity{Name: name, Email: email}
			return runChat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), a.Service, identity)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Email the role is resolved from")
	cmd.Flags().StringVar(&name, "name", "", "Display name used in the greeting")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// runChat reads one message per line until EOF, "exit" or "quit".
func runChat(ctx context.Context, in io.Reader, out io.Writer, conv conversation, identity models.Identity) error {
	key := strings.ToLower(strings.TrimSpace(identity.Email))
	identity.Email = key
	if strings.TrimSpace(identity.Name) == "" {
		identity.Name = key
	}
	defer func() { _, _ = conv.End(context.WithoutCancel(ctx), key) }()

	fmt.Fprintln(out, "Type your message, or exit to quit.")
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "You: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		text := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(text) {
		case "":
			continue
		case "exit", "quit":
			fmt.Fprintln(out, "Goodbye!")
			return nil
		}

		reply, err := conv.Ask(ctx, key, identity, text)
		switch {
		case errors.Is(err, roles.ErrNotAuthorized):
			fmt.Fprintln(out, "Access denied: No agent assigned to your email.")
			return nil
		case err != nil:
			fmt.Fprintf(out, "Agent Error: %v\n", err)
			continue
		}
		if reply.Created {
			fmt.Fprintf(out, "Agent: %s\n", agent.Greeting(identity.Name))
		}
		fmt.Fprintf(out, "Agent: %s\n", reply.Text)
	}
}
