package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/anchor/internal/ir"
	"github.com/roach88/anchor/internal/store"
)

// JournalEntryView is one journaled notification in command output.
type JournalEntryView struct {
	Seq          int64           `json:"seq"`
	ID           string          `json:"id"`
	Kind         string          `json:"kind"`
	Timestamp    time.Time       `json:"timestamp"`
	Link         *ir.ChainLink   `json:"link,omitempty"`
	Notification json.RawMessage `json:"notification"`
}

// JournalResult holds the journal of one incident.
type JournalResult struct {
	IncidentID uint64             `json:"incident_id"`
	Entries    []JournalEntryView `json:"entries"`
	Links      int                `json:"links"`
}

// NewJournalCommand creates the journal command.
func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal <incident-id>",
		Short: "List the notifications journaled for an incident",
		Long: `List every notification committed for an incident, in commit order.

Entries that added a chain link show the event hash, the resulting head
and the count, which is what verify replays.

Examples:
  anchor journal 42
  anchor journal 42 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJournal(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runJournal(opts *RootOptions, arg string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	id, err := parseIncidentID(arg)
	if err != nil {
		return f.Fail("invalid input", err, nil)
	}

	ctx := commandContext(cmd)
	b, err := OpenBackend(ctx, opts.Config)
	if err != nil {
		return f.Fail("failed to open store", err, nil)
	}
	defer b.Close()

	entries, err := b.Journal(ctx, id)
	if err != nil {
		return f.Fail("failed to read journal", err, nil)
	}
	if len(entries) == 0 {
		// An incident without a record has no journal either
		if _, err := b.Load(ctx, id); err != nil {
			return f.Fail("failed to read journal", err, nil)
		}
	}

	result := buildJournalResult(id, entries)
	if f.Format == "json" {
		return f.Success(result)
	}
	return outputJournalText(f, result)
}

func buildJournalResult(id uint64, entries []store.JournalEntry) JournalResult {
	result := JournalResult{
		IncidentID: id,
		Entries:    make([]JournalEntryView, 0, len(entries)),
	}
	for _, e := range entries {
		result.Entries = append(result.Entries, JournalEntryView{
			Seq:          e.Seq,
			ID:           e.ID,
			Kind:         string(e.Kind),
			Timestamp:    e.Timestamp,
			Link:         e.Link,
			Notification: json.RawMessage(e.Payload),
		})
		if e.Link != nil {
			result.Links++
		}
	}
	return result
}

func outputJournalText(f *OutputFormatter, result JournalResult) error {
	w := f.Writer

	fmt.Fprintf(w, "Journal: incident %d, %d entr%s, %d link(s)\n",
		result.IncidentID, len(result.Entries), plural(len(result.Entries), "y", "ies"), result.Links)
	fmt.Fprintln(w)

	for _, e := range result.Entries {
		fmt.Fprintf(w, "[%d] %s %s\n", e.Seq, e.Timestamp.Format(time.RFC3339), e.Kind)
		if e.Link != nil {
			fmt.Fprintf(w, "    event: %s\n", e.Link.EventHash)
			fmt.Fprintf(w, "    head:  %s (count %d)\n", e.Link.Head, e.Link.Count)
		}
		if f.Verbose {
			fmt.Fprintf(w, "    %s\n", e.Notification)
		}
	}
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
