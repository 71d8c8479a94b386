package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/timetalks/internal/session"
	"github.com/spf13/cobra"
)

var askCharacterID int

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a historical figure a single question",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().IntVarP(&askCharacterID, "character", "c", 0, "Character ID (see: timetalks characters)")
	_ = askCmd.MarkFlagRequired("character")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer rt.close()

	// A one-shot question has nobody to show a typing indicator to.
	ctl, err := rt.newSession(-1)
	if err != nil {
		return err
	}
	defer ctl.Close()

	if err := ctl.SelectCharacterByID(askCharacterID); err != nil {
		return err
	}

	updates, cancel := ctl.Subscribe()
	defer cancel()

	if err := ctl.Submit(strings.Join(args, " ")); err != nil {
		return err
	}

	for {
		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case p, ok := <-updates:
			if !ok {
				return errors.New("session closed before a reply arrived")
			}
			if p.Pending || len(p.Transcript) < 2 {
				continue
			}
			reply := p.Transcript[len(p.Transcript)-1]
			if reply.Kind == session.KindSystem {
				return fmt.Errorf("%s", reply.Body)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", reply.Sender, reply.Body)
			return nil
		}
	}
}
