package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ashureev/timetalks/internal/app"
	"github.com/ashureev/timetalks/internal/session"
	"github.com/spf13/cobra"
)

var chatCharacterID int

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Start an interactive conversation with a historical figure.

Type a message and press enter to send it. Commands:

  /switch <id>   Talk to someone else (clears the conversation)
  /quit          Leave`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().IntVarP(&chatCharacterID, "character", "c", 0, "Character ID (see: timetalks characters)")
	_ = chatCmd.MarkFlagRequired("character")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	rt, err := openRuntime(ctx, true)
	if err != nil {
		return err
	}
	defer rt.close()

	ctl, err := rt.newSession(app.TypingDelay(rt.cfg.TypingDelay))
	if err != nil {
		return err
	}
	defer ctl.Close()

	if err := ctl.SelectCharacterByID(chatCharacterID); err != nil {
		return err
	}

	updates, cancel := ctl.Subscribe()
	defer cancel()

	done := make(chan struct{})
	defer close(done)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(cmd.InOrStdin())
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	var r renderer
	last := <-updates
	r.render(out, last)

	for {
		select {
		case <-ctx.Done():
			return nil
		case p, ok := <-updates:
			if !ok {
				return nil
			}
			last = p
			r.render(out, p)
		case line, ok := <-lines:
			if !ok {
				awaitReply(ctx, out, &r, updates, last)
				return nil
			}
			quit, err := handleLine(ctl, line)
			if err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			}
			// Commands notify synchronously; show their effect before the next line.
			select {
			case p, ok := <-updates:
				if ok {
					last = p
					r.render(out, p)
				}
			default:
			}
			if quit {
				awaitReply(ctx, out, &r, updates, last)
				return nil
			}
		}
	}
}

// awaitReply keeps rendering until the cycle in flight completes, so a
// question sent just before leaving still gets its answer on screen.
func awaitReply(ctx context.Context, out io.Writer, r *renderer, updates <-chan session.Projection, last session.Projection) {
	for last.Pending {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-updates:
			if !ok {
				return
			}
			last = p
			r.render(out, p)
		}
	}
}

// handleLine applies one line of user input to the session.
func handleLine(ctl *session.Controller, line string) (quit bool, err error) {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "/quit":
		return true, nil
	case strings.HasPrefix(trimmed, "/switch"):
		arg := strings.TrimSpace(strings.TrimPrefix(trimmed, "/switch"))
		id, convErr := strconv.Atoi(arg)
		if convErr != nil {
			return false, fmt.Errorf("usage: /switch <id>")
		}
		return false, ctl.SelectCharacterByID(id)
	case trimmed == "":
		return false, nil
	default:
		return false, ctl.Submit(line)
	}
}

// renderer prints what changed between successive projections.
type renderer struct {
	character string
	printed   int
	typing    bool
}

func (r *renderer) render(w io.Writer, p session.Projection) {
	name := ""
	if p.ActiveCharacter != nil {
		name = p.ActiveCharacter.Name
	}
	if name != r.character {
		r.character = name
		r.printed = 0
		r.typing = false
		if p.ActiveCharacter != nil {
			fmt.Fprintf(w, "--- Talking to %s (%s, %s) ---\n", name, p.ActiveCharacter.Period, p.ActiveCharacter.Field)
		}
	}
	if len(p.Transcript) < r.printed {
		r.printed = 0
	}

	for _, e := range p.Transcript[r.printed:] {
		// The user's own lines are already on screen.
		if e.Kind != session.KindUser {
			fmt.Fprintf(w, "%s: %s\n", e.Sender, e.Body)
		}
	}
	r.printed = len(p.Transcript)

	if p.Typing && !r.typing {
		fmt.Fprintf(w, "%s is typing...\n", name)
	}
	r.typing = p.Typing
}
