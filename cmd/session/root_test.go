package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/ValentinKolb/dEdit/lib/lockmgr"
	"github.com/stretchr/testify/require"
)

type fakeEditor struct {
	calls    []string
	accepted chan struct{}
}

func (f *fakeEditor) RequestSteal(context.Context) (int, error) {
	f.calls = append(f.calls, "steal")
	return 2, nil
}

func (f *fakeEditor) AcceptSteal(context.Context) error {
	f.calls = append(f.calls, "accept")
	if f.accepted != nil {
		f.accepted <- struct{}{}
	}
	return nil
}

func (f *fakeEditor) RejectSteal(_ context.Context, reason string) error {
	f.calls = append(f.calls, "reject:"+reason)
	return nil
}

func (f *fakeEditor) CancelSteal(context.Context) error {
	f.calls = append(f.calls, "cancel")
	return errors.New("no pending request")
}

func (f *fakeEditor) RequestCollabJoin(context.Context) error {
	f.calls = append(f.calls, "collab")
	return nil
}

func (f *fakeEditor) RevertToStandard(context.Context) error {
	f.calls = append(f.calls, "revert")
	return nil
}

func (f *fakeEditor) Status(_ context.Context, documentID string) (lockmgr.Snapshot, error) {
	f.calls = append(f.calls, "status")
	return lockmgr.Snapshot{DocumentID: documentID, State: lockmgr.StateHeldStandard, HolderMembershipID: "alice"}, nil
}

func (f *fakeEditor) DocumentID() string { return "spec-42" }

// TestREPLCommands tests the command dispatch of the session REPL
func TestREPLCommands(t *testing.T) {
	ed := &fakeEditor{}
	out := &bytes.Buffer{}
	r := &repl{editor: ed, out: out}

	in := strings.NewReader("steal\n\nreject still typing\ncancel\ncollab\nrevert\nstatus\nfoo\nquit\naccept\n")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := r.run(ctx, nil, nil, in)
	require.NoError(t, err)

	require.Equal(t, []string{"steal", "reject:still typing", "cancel", "collab", "revert", "status"}, ed.calls)
	require.Contains(t, out.String(), "queue position 2")
	require.Contains(t, out.String(), "error: no pending request")
	require.Contains(t, out.String(), "document spec-42: held-standard (holder alice")
	require.Contains(t, out.String(), `unknown command "foo"`)
}

// TestREPLAutoAccept tests that steal requests are accepted automatically
func TestREPLAutoAccept(t *testing.T) {
	ed := &fakeEditor{accepted: make(chan struct{}, 1)}
	out := &bytes.Buffer{}
	r := &repl{editor: ed, out: out, autoAccept: true}

	events := make(chan lockmgr.Event, 1)
	events <- lockmgr.Event{
		Kind:                  lockmgr.EventStealRequested,
		DocumentID:            "spec-42",
		RequesterMembershipID: "bob",
		CountdownSeconds:      30,
	}

	in, stdin := io.Pipe()
	defer stdin.Close()
	result := make(chan error, 1)
	go func() {
		result <- r.run(context.Background(), events, nil, in)
	}()

	<-ed.accepted
	_, err := stdin.Write([]byte("quit\n"))
	require.NoError(t, err)

	require.NoError(t, <-result)
	require.Equal(t, []string{"accept"}, ed.calls)
	require.Contains(t, out.String(), "[steal-requested] requester=bob countdown=30s")
}
