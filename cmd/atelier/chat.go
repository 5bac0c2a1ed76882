// Package main conversational agent command.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/prism/atelier/internal/agent"
	"github.com/prism/atelier/internal/engine"
)

func chatCmd() *cobra.Command {
	var sessionID string
	var attachments []string

	cmd := &cobra.Command{
		Use:   "chat [message...]",
		Short: "Converse with the planning agent",
		Long: `Chat with the planning agent.

With a message argument the agent handles one request and exits.
Without arguments an interactive loop starts; video steps (and any
step flagged by the planner) pause for y/n confirmation.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess := eng.Session(sessionID)

			if len(args) > 0 {
				return runTurn(cmd, sess, strings.Join(args, " "), attachments)
			}

			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return fmt.Errorf("interactive chat needs a terminal; pass the message as an argument instead")
			}

			color.Cyan("atelier agent — describe what to create (ctrl-d to quit)")
			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					fmt.Println()
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if err := runTurn(cmd, sess, line, attachments); err != nil {
					color.Red("error: %v", err)
				}
				attachments = nil
			}
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "default", "Session ID; state accumulates per session")
	cmd.Flags().StringSliceVar(&attachments, "attach", nil, "Reference files for the request")
	return cmd
}

// runTurn feeds one user message through the session and walks any
// confirmation gates until the machine settles.
func runTurn(cmd *cobra.Command, sess *engine.Session, text string, attachments []string) error {
	err := sess.ProcessEvent(cmd.Context(), agent.Event{
		Type:        agent.EventUserMessage,
		Text:        text,
		Attachments: attachments,
	})
	if err != nil {
		return err
	}

	for {
		snap := sess.Snapshot()
		switch snap.Phase {
		case agent.PhaseClarifying:
			color.Yellow("? %s", snap.Context.Clarification)
			return nil

		case agent.PhaseAwaitingConfirmation:
			ok, patch, err := confirmAction(snap.PendingAction)
			if err != nil {
				return err
			}
			if patch != nil {
				if err := sess.ProcessEvent(cmd.Context(), agent.Event{Type: agent.EventUserModify, Patch: patch}); err != nil {
					return err
				}
			}
			ev := agent.Event{Type: agent.EventUserReject}
			if ok {
				ev.Type = agent.EventUserConfirm
			}
			if err := sess.ProcessEvent(cmd.Context(), ev); err != nil {
				return err
			}
			if !ok {
				color.Yellow("rejected; back to idle")
				return nil
			}

		case agent.PhaseCompleted:
			color.Green("✓ done")
			for _, id := range snap.Context.ArtifactIDs {
				fmt.Printf("  artifact %s\n", id)
			}
			return nil

		case agent.PhaseError:
			return fmt.Errorf("agent error: %s", snap.Context.Note)

		case agent.PhaseIdle:
			if snap.Context.Note != "" {
				color.Yellow("%s", snap.Context.Note)
			}
			return nil

		default:
			return nil
		}
	}
}

// confirmAction prompts y/n/e for a gated action. "e" lets the user
// replace the prompt before deciding again.
func confirmAction(a *agent.Action) (bool, map[string]interface{}, error) {
	if a == nil {
		return false, nil, fmt.Errorf("nothing pending confirmation")
	}

	prompt, _ := a.Params["prompt"].(string)
	color.Cyan("about to run %s: %q", a.Kind, prompt)

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("  proceed? [y/n/e] ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return false, nil, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil, nil
		case "n", "no":
			return false, nil, nil
		case "e", "edit":
			fmt.Print("  new prompt: ")
			edited, err := reader.ReadString('\n')
			if err != nil {
				return false, nil, err
			}
			edited = strings.TrimSpace(edited)
			if edited != "" {
				return true, map[string]interface{}{"prompt": edited}, nil
			}
		}
	}
}
