package cli

import (
	"bufio"
	"context"
	"strings"
	"testing"
)

type fakeExec struct {
	unlocked bool

	calls []string
}

func (f *fakeExec) record(name string) error { f.calls = append(f.calls, name); return nil }

func (f *fakeExec) isUnlocked() bool { return f.unlocked }
func (f *fakeExec) Init(ctx context.Context) error {
	return f.record("init")
}
func (f *fakeExec) Unlock(ctx context.Context) error {
	f.unlocked = true
	return f.record("unlock")
}
func (f *fakeExec) Lock(ctx context.Context) error {
	f.unlocked = false
	return f.record("lock")
}
func (f *fakeExec) List(ctx context.Context) error { return f.record("ls") }
func (f *fakeExec) ChangeDir(ctx context.Context, args []string) error {
	return f.record("cd")
}
func (f *fakeExec) MakeDir(ctx context.Context, args []string) error {
	return f.record("mkdir")
}
func (f *fakeExec) AddNote(ctx context.Context, args []string) error {
	return f.record("note")
}
func (f *fakeExec) PutFile(ctx context.Context, args []string) error {
	return f.record("put")
}
func (f *fakeExec) Show(ctx context.Context, args []string) error {
	return f.record("show")
}
func (f *fakeExec) Remove(ctx context.Context, args []string) error {
	return f.record("rm")
}
func (f *fakeExec) MoveItem(ctx context.Context, args []string) error {
	return f.record("mv")
}
func (f *fakeExec) RenameItem(ctx context.Context, args []string) error {
	return f.record("rename")
}
func (f *fakeExec) SetDuress(ctx context.Context) error { return f.record("setduress") }
func (f *fakeExec) ChangePin(ctx context.Context) error { return f.record("changepin") }
func (f *fakeExec) Reset(ctx context.Context) error     { return f.record("reset") }

func TestRunREPL_UnlockFlowAndCommands(t *testing.T) {
	origPrint := printlnFn
	printlnFn = func(...any) (int, error) { return 0, nil }
	t.Cleanup(func() { printlnFn = origPrint })

	input := strings.NewReader(strings.Join([]string{
		"help",
		"unlock",
		"help",
		"mkdir docs",
		"cd docs",
		"note n1",
		"ls",
		"show n1",
		"rm n1",
		"lock",
		"foobar",
		"exit",
	}, "\n"))

	exec := &fakeExec{unlocked: false}
	sc := bufio.NewScanner(input)

	runREPL(context.Background(), exec, func() string { return "status" }, sc)

	wantOrder := []string{"unlock", "mkdir", "cd", "note", "ls", "show", "rm", "lock"}
	if len(exec.calls) < len(wantOrder) {
		t.Fatalf("few calls: %+v", exec.calls)
	}
	idx := 0
	for _, c := range exec.calls {
		if idx < len(wantOrder) && c == wantOrder[idx] {
			idx++
		}
	}
	if idx != len(wantOrder) {
		t.Fatalf("commands order mismatch: got %v, want subseq %v", exec.calls, wantOrder)
	}
}

func TestRunREPL_EmptyLinesAndQuit(t *testing.T) {
	origPrint := printlnFn
	printlnFn = func(...any) (int, error) { return 0, nil }
	t.Cleanup(func() { printlnFn = origPrint })

	input := strings.NewReader("\n   \nquit\n")
	exec := &fakeExec{unlocked: true}
	sc := bufio.NewScanner(input)

	runREPL(context.Background(), exec, func() string { return "s" }, sc)

	if len(exec.calls) != 0 {
		t.Fatalf("unexpected calls: %v", exec.calls)
	}
}
