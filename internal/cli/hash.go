package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/retrace/internal/callid"
)

// HashEntry is one label and its call id.
type HashEntry struct {
	Label  string `json:"label"`
	CallID string `json:"call_id"`
	Value  uint32 `json:"value"`
}

// NewHashCommand creates the hash command.
func NewHashCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hash LABEL...",
		Short: "Print the call ids of labels",
		Long: `Print the call id each label hashes to.

Labels are normalized to Unicode NFC and hashed with 32-bit FNV-1a.

Examples:
  retrace hash fnc1 fnc2
  retrace hash retrace.Mutex.lock --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries := make([]HashEntry, 0, len(args))
			for _, label := range args {
				id := callid.Hash(label)
				entries = append(entries, HashEntry{
					Label:  label,
					CallID: id.String(),
					Value:  uint32(id),
				})
			}

			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), "", entries)
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", e.CallID, e.Label)
			}
			return nil
		},
	}
}
