package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ppiankov/signalqueue/internal/model"
)

var (
	signalTitle   string
	signalContent string
	signalUrgency string
)

// signalCmd groups signal commands
var signalCmd = &cobra.Command{
	Use:   "signal",
	Short: "Add and inspect signals",
}

var signalAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a pending signal",
	Long: `Add stores a new signal in pending state. It is picked up by the next
'signalqueue process' or scheduler tick.

Example:
  signalqueue signal add --title "Acme Therapeutics raises $50M Series B" \
    --content "The round was led by ..." --urgency high`,
	Args: cobra.NoArgs,
	RunE: runSignalAdd,
}

var signalShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a signal as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runSignalShow,
}

func init() {
	rootCmd.AddCommand(signalCmd)
	signalCmd.AddCommand(signalAddCmd)
	signalCmd.AddCommand(signalShowCmd)

	signalAddCmd.Flags().StringVar(&signalTitle, "title", "", "signal title")
	signalAddCmd.Flags().StringVar(&signalContent, "content", "", "raw signal content")
	signalAddCmd.Flags().StringVar(&signalUrgency, "urgency", string(model.UrgencyMedium), "urgency (low, medium, high, critical)")
	_ = signalAddCmd.MarkFlagRequired("title")
}

func runSignalAdd(cmd *cobra.Command, args []string) (err error) {
	urgency := model.Urgency(strings.ToLower(signalUrgency))
	if !urgency.Valid() {
		return fmt.Errorf("invalid urgency %q (want low, medium, high or critical)", signalUrgency)
	}
	if strings.TrimSpace(signalTitle) == "" {
		return fmt.Errorf("title must not be empty")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	sig := model.Signal{
		ID:         uuid.NewString(),
		Title:      signalTitle,
		RawContent: signalContent,
		Urgency:    urgency,
		Status:     model.StatusPending,
	}
	if err := a.store.CreateSignal(cmd.Context(), sig); err != nil {
		return fmt.Errorf("create signal: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), sig.ID)
	return nil
}

func runSignalShow(cmd *cobra.Command, args []string) (err error) {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	sig, err := a.store.GetSignal(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("get signal %s: %w", args[0], err)
	}
	return printJSON(cmd, sig)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
