package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/ValentinKolb/dEdit/cmd/util"
	"github.com/ValentinKolb/dEdit/lib/lockmgr"
	"github.com/ValentinKolb/dEdit/rpc/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// SessionCmd opens an interactive edit session on one document
	SessionCmd = &cobra.Command{
		Use:   "session <document>",
		Short: "Open an interactive edit session on a document",
		Long: `Connect to a document and print every lock event. Commands are read line by line from stdin:

  steal            request the edit lock
  accept           accept the pending steal request
  reject [reason]  reject the pending steal request
  cancel           withdraw the own steal request
  collab           join collaborative editing
  revert           revert the document to standard mode
  status           print the lock state
  quit             disconnect`,
		Args:    cobra.ExactArgs(1),
		PreRunE: bindFlags,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add common RPC flags
	util.SetupRPCClientFlags(SessionCmd)

	key := "accept"
	SessionCmd.Flags().Bool(key, false, util.WrapString("Accept every steal request automatically"))
}

func bindFlags(cmd *cobra.Command, _ []string) error {
	return util.BindCommandFlags(cmd)
}

func run(cmd *cobra.Command, args []string) error {
	if err := util.InitLogging(); err != nil {
		return err
	}

	config := util.GetClientConfig()

	s, err := util.GetSerializer()
	if err != nil {
		return err
	}
	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	c, err := client.NewEditClient(*config, t, s)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	snap, err := c.RequestEdit(ctx, args[0])
	if err != nil {
		return err
	}

	r := &repl{
		editor:     c,
		out:        cmd.OutOrStdout(),
		autoAccept: viper.GetBool("accept"),
	}
	r.printSnapshot(snap)
	return r.run(ctx, c.Events(), c.Done(), os.Stdin)
}

// --------------------------------------------------------------------------
// REPL
// --------------------------------------------------------------------------

// editor is the part of the edit client used by the REPL
type editor interface {
	RequestSteal(ctx context.Context) (int, error)
	AcceptSteal(ctx context.Context) error
	RejectSteal(ctx context.Context, reason string) error
	CancelSteal(ctx context.Context) error
	RequestCollabJoin(ctx context.Context) error
	RevertToStandard(ctx context.Context) error
	Status(ctx context.Context, documentID string) (lockmgr.Snapshot, error)
	DocumentID() string
}

type repl struct {
	editor     editor
	autoAccept bool

	mu  sync.Mutex // guards out
	out io.Writer
}

// run prints events and executes commands until quit, EOF or the connection is gone
func (r *repl) run(ctx context.Context, events <-chan lockmgr.Event, done <-chan struct{}, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			r.printEvent(ev)
			if r.autoAccept && ev.Kind == lockmgr.EventStealRequested {
				r.exec(ctx, "accept")
			}
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if !r.exec(ctx, line) {
				return nil
			}
		case <-done:
			r.printf("connection closed\n")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// exec runs a single command line, false ends the session
func (r *repl) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}

	var err error
	switch fields[0] {
	case "steal":
		var pos int
		if pos, err = r.editor.RequestSteal(ctx); err == nil {
			r.printf("steal requested, queue position %d\n", pos)
		}
	case "accept":
		err = r.editor.AcceptSteal(ctx)
	case "reject":
		err = r.editor.RejectSteal(ctx, strings.Join(fields[1:], " "))
	case "cancel":
		err = r.editor.CancelSteal(ctx)
	case "collab":
		err = r.editor.RequestCollabJoin(ctx)
	case "revert":
		err = r.editor.RevertToStandard(ctx)
	case "status":
		var snap lockmgr.Snapshot
		if snap, err = r.editor.Status(ctx, r.editor.DocumentID()); err == nil {
			r.printSnapshot(snap)
		}
	case "quit", "exit":
		return false
	default:
		r.printf("unknown command %q\n", fields[0])
		return true
	}

	if err != nil {
		r.printf("error: %v\n", err)
	}
	return true
}

func (r *repl) printf(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintf(r.out, format, args...)
}

func (r *repl) printEvent(ev lockmgr.Event) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s]", ev.Kind))
	add := func(name, value string) {
		if value != "" {
			sb.WriteString(fmt.Sprintf(" %s=%s", name, value))
		}
	}
	add("holder", ev.HolderMembershipID)
	add("requester", ev.RequesterMembershipID)
	add("request", ev.RequestID)
	add("mode", string(ev.Mode))
	add("role", string(ev.Role))
	if ev.Position > 0 {
		add("position", fmt.Sprint(ev.Position))
	}
	if ev.CountdownSeconds > 0 {
		add("countdown", fmt.Sprintf("%ds", ev.CountdownSeconds))
	}
	add("reason", ev.Reason)
	add("code", string(ev.Code))
	add("msg", ev.Msg)
	r.printf("%s\n", sb.String())
}

func (r *repl) printSnapshot(snap lockmgr.Snapshot) {
	holder := snap.HolderMembershipID
	if holder == "" {
		holder = "-"
	}
	r.printf("document %s: %s (holder %s, %d sessions, %d queued)\n",
		snap.DocumentID, snap.State, holder, len(snap.Sessions), len(snap.Queue))
}
