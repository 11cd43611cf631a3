package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	espalier "github.com/aretw0/espalier"
	"github.com/aretw0/espalier/internal/config"
	"github.com/aretw0/espalier/internal/logging"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Drive a session interactively from the terminal",
	Long:  `Starts a session against a local in-process engine and drives it from stdin, polling invocation graphs until their results arrive.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Printf("Invalid configuration: %v\n", err)
			os.Exit(1)
		}

		debug, _ := cmd.Flags().GetBool("debug")
		var logger *slog.Logger
		if debug {
			logger = newLogger(cfg)
		} else {
			logger = logging.NewNop()
		}

		engine, keys, err := buildEngine(cmd, cfg, logger, nil)
		if err != nil {
			fmt.Printf("Error initializing espalier: %v\n", err)
			os.Exit(1)
		}
		defer engine.Close()

		machineKey, _ := cmd.Flags().GetString("machine")
		if machineKey == "" {
			if len(keys) == 0 {
				fmt.Println("No machines loaded.")
				os.Exit(1)
			}
			machineKey = keys[0]
		}

		if err := runChat(engine, machineKey); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringP("machine", "m", "", "Machine to start a session for (defaults to the first one loaded)")
	chatCmd.Flags().Bool("debug", false, "Log engine internals to stderr")
}

// chatUI renders assistant output as markdown when stdout is a terminal and
// falls back to plain text otherwise.
type chatUI struct {
	interactive bool
	render      func(string) (string, error)
	profile     termenv.Profile
}

func newChatUI() *chatUI {
	ui := &chatUI{interactive: term.IsTerminal(int(os.Stdout.Fd()))}
	if ui.interactive {
		r, err := glamour.NewTermRenderer(glamour.WithAutoStyle())
		if err == nil {
			ui.render = r.Render
		}
		ui.profile = termenv.ColorProfile()
	}
	return ui
}

func (ui *chatUI) assistant(text string) {
	if text == "" {
		return
	}
	if ui.render != nil {
		if out, err := ui.render(text); err == nil {
			fmt.Print(out)
			return
		}
	}
	fmt.Println(text)
}

func (ui *chatUI) hint(text string) {
	if ui.interactive {
		fmt.Println(termenv.String(text).Foreground(ui.profile.Color("8")))
		return
	}
	fmt.Println(text)
}

func (ui *chatUI) banner(machine string) {
	if !ui.interactive {
		return
	}
	title := termenv.String(" espalier ").Foreground(ui.profile.Color("#a78bfa")).Bold()
	fmt.Printf("\n%s machine=%s (type 'exit' to quit)\n\n", title, machine)
}

func runChat(engine *espalier.Engine, machineKey string) error {
	ctx := context.Background()
	ui := newChatUI()
	reader := bufio.NewReader(os.Stdin)

	ui.banner(machineKey)

	started, err := engine.StartSession(ctx, machineKey)
	if err != nil {
		return err
	}
	sessionID := started.Session.ID
	ui.assistant(started.Response)
	actions := started.NextActions

	for {
		if len(actions) == 0 {
			ui.hint("Session reached a terminal state.")
			return engine.EndSession(ctx, sessionID)
		}

		if len(actions) == 1 && actions[0] == espalier.ActionPoll {
			actions, err = awaitResult(ctx, engine, ui, sessionID)
			if err != nil {
				return err
			}
			continue
		}

		event, payload, ok := readTurn(reader, ui, actions)
		if !ok {
			ui.hint("Bye!")
			return nil
		}

		out, err := engine.SubmitEvent(ctx, sessionID, event, payload)
		if err != nil {
			var terr *domain.TransitionError
			if errors.As(err, &terr) {
				ui.hint(fmt.Sprintf("Event %q not accepted here. Allowed: %s", event, strings.Join(terr.Allowed, ", ")))
				continue
			}
			return err
		}
		ui.assistant(out.Response)
		actions = out.NextActions
	}
}

// readTurn collects the next event and payload. With a single allowed event
// the whole line is the payload; with several, the line starts with the
// event name.
func readTurn(reader *bufio.Reader, ui *chatUI, actions []string) (event, payload string, ok bool) {
	for {
		if len(actions) == 1 {
			ui.hint(fmt.Sprintf("[%s]", actions[0]))
		} else {
			ui.hint(fmt.Sprintf("[%s] (prefix your input with the event name)", strings.Join(actions, " | ")))
		}
		fmt.Print("> ")

		line, err := reader.ReadString('\n')
		if err != nil {
			return "", "", false
		}
		line = strings.TrimSpace(line)
		if line == "exit" || line == "quit" {
			return "", "", false
		}

		if len(actions) == 1 {
			return actions[0], line, true
		}
		event, payload, _ = strings.Cut(line, " ")
		for _, a := range actions {
			if a == event {
				return event, strings.TrimSpace(payload), true
			}
		}
		ui.hint(fmt.Sprintf("Unknown event %q.", event))
	}
}

// awaitResult polls until the running invocation graph completes, then
// prints the assistant's message from the session transcript.
func awaitResult(ctx context.Context, engine *espalier.Engine, ui *chatUI, sessionID string) ([]string, error) {
	for {
		res, err := engine.PollStatus(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if res.Ready {
			if ui.interactive {
				fmt.Print("\r\033[K")
			}
			if res.Error != "" {
				ui.hint("The invocation graph failed: " + res.Error)
				return res.NextActions, nil
			}
			snap, err := engine.GetSnapshot(ctx, sessionID)
			if err != nil {
				return nil, err
			}
			if last := snap.LastElement(); last != nil && last.Actor == domain.ActorAssistant {
				ui.assistant(last.Content)
			}
			return res.NextActions, nil
		}
		if res.Total != nil && res.Executed != nil && ui.interactive {
			fmt.Printf("\r… %d/%d units", *res.Executed, *res.Total)
		}
		time.Sleep(200 * time.Millisecond)
	}
}
