package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	pantry "github.com/randalmurphal/pantry-go"
)

func newPromptCmd(a *app) *cobra.Command {
	var (
		modelID string
		family  string
		params  []string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "prompt [text]",
		Short: "Stream a completion to stdout",
		Long: "Creates a session, submits the prompt, and writes tokens to " +
			"stdout as they arrive. The prompt is read from stdin when no " +
			"argument is given.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(args)
			if err != nil {
				return err
			}

			client, err := a.client()
			if err != nil {
				return err
			}

			opts := []pantry.SessionOption{
				pantry.WithSessionParameters(parseParams(params)),
			}
			if timeout > 0 {
				opts = append(opts, pantry.WithPromptTimeout(timeout))
			}
			switch {
			case modelID != "":
				opts = append(opts, pantry.WithModelID(modelID))
			case family != "":
				opts = append(opts, pantry.WithModelFilter(pantry.ModelFilter{FamilyID: &family}, nil))
			default:
				// Any running model will do.
				opts = append(opts, pantry.WithModelFilter(pantry.ModelFilter{}, nil))
			}

			session, err := client.CreateSession(cmd.Context(), opts...)
			if err != nil {
				return err
			}
			defer session.Close()

			events, err := session.Prompt(cmd.Context(), prompt)
			if err != nil {
				return err
			}

			// Ctrl-C cancels the command context; tell the daemon to
			// stop generating as well.
			go func() {
				<-cmd.Context().Done()
				session.Interrupt(context.Background())
			}()

			for ev := range events {
				switch ev.Kind {
				case pantry.EventToken:
					fmt.Print(ev.Text)
				case pantry.EventCompleted:
					fmt.Println()
				case pantry.EventError:
					fmt.Println()
					if errors.Is(ev.Err, context.Canceled) {
						return nil
					}
					return ev.Err
				}
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&modelID, "model", "m", "", "model registry ID")
	flags.StringVar(&family, "family", "", "pick any running model of this family")
	flags.StringArrayVarP(&params, "param", "p", nil, "session parameter, key=value")
	flags.DurationVar(&timeout, "timeout", 0, "abort the generation after this long")
	return cmd
}

func readPrompt(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("empty prompt")
	}
	return prompt, nil
}

func parseParams(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	params := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		params[key] = value
	}
	return params
}
