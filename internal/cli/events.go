package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/dispatch/internal/ir"
	"github.com/roach88/dispatch/internal/store"
)

// EventsOptions holds flags for the events command.
type EventsOptions struct {
	*RootOptions
	After   int64
	Limit   int
	Name    string
	Emitter string
}

// EventsResult is one page of the event feed.
type EventsResult struct {
	Events []EventInfo `json:"events"`
	// Next is the cursor for the following page.
	Next int64 `json:"next"`
}

// WriteText renders the page for terminals.
func (r EventsResult) WriteText(w io.Writer) {
	if len(r.Events) == 0 {
		fmt.Fprintln(w, "no events")
		return
	}
	for _, ev := range r.Events {
		fmt.Fprintf(w, "%s %s\n", ev.CallID, ev.Emitter)
		ev.WriteText(w)
	}
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Page through the event feed",
		Long: `Page through committed events in seq order. Pass the printed next
cursor as --after to continue.

Examples:
  dispatch events
  dispatch events --name MessageSent --limit 10
  dispatch events --emitter '$proxy' --after 42 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.After, "after", 0, "only events with seq greater than this")
	cmd.Flags().IntVar(&opts.Limit, "limit", 100, "maximum events to return (0 for all)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "filter by event name")
	cmd.Flags().StringVar(&opts.Emitter, "emitter", "", "filter by emitting address or reference")
	return cmd
}

func runEvents(opts *EventsOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx := commandContext(cmd)

	s, err := openSession(ctx, opts.RootOptions, cmd)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	defer s.Close()

	filter := store.EventFilter{After: opts.After, Limit: opts.Limit, Name: opts.Name}
	if opts.Emitter != "" {
		addr, err := s.resolver()(opts.Emitter)
		if err != nil {
			return f.fail(ExitCommandError, ErrCodeBadArgs, "invalid --emitter", err)
		}
		filter.Emitter = string(ir.Address(addr))
	}

	events, err := s.store.ReadEvents(ctx, filter)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeStore, "failed to read events", err)
	}
	result := EventsResult{Events: eventInfos(events), Next: opts.After}
	if n := len(events); n > 0 {
		result.Next = events[n-1].Seq
	}
	return f.Success(result)
}
