package iotcore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusiot/agentcore/osal"
)

func newTestLibrary(t *testing.T, singleThread bool) *Library {
	t.Helper()
	lib, err := Initialize(LibraryOptions{SingleThread: singleThread})
	require.NoError(t, err)
	return lib
}

// fakeSystem is a scripted osal.System double for exercising command
// actions without touching a real process.
type fakeSystem struct {
	stdout, stderr []byte
	exitCode       int
	err            error

	lastName string
	lastArgs []string
}

func (f *fakeSystem) Now() time.Time    { return time.Unix(0, 0) }
func (f *fakeSystem) NewUUID() string   { return "00000000-0000-0000-0000-000000000000" }
func (f *fakeSystem) Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, exitCode int, err error) {
	f.lastName = name
	f.lastArgs = args
	return f.stdout, f.stderr, f.exitCode, f.err
}

var _ osal.System = (*fakeSystem)(nil)

func newTestLibraryWithSystem(t *testing.T, sys osal.System) *Library {
	t.Helper()
	lib, err := Initialize(LibraryOptions{System: sys})
	require.NoError(t, err)
	return lib
}

func TestDispatcherDispatchesRegisteredAction(t *testing.T) {
	lib := newTestLibrary(t, false)
	require.NoError(t, lib.Actions.Register(&Action{
		Name: "echo",
		Parameters: []Parameter{
			{Name: "msg", Direction: DirInRequired, DeclaredType: TypeString},
		},
		Handler: func(ctx context.Context, params *OptionsMap) (*OptionsMap, Status) {
			msg, _ := params.GetString("msg")
			out := NewOptionsMap()
			_ = out.SetString("msg", msg)
			return out, Success
		},
	}))
	lib.Start()
	defer lib.Terminate()

	params := NewOptionsMap()
	require.NoError(t, params.SetString("msg", "hi"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out, err := lib.Dispatch(ctx, "echo", params)
	require.NoError(t, err)
	got, _ := out.GetString("msg")
	assert.Equal(t, "hi", got)
}

func TestDispatcherRejectsMissingRequiredParameter(t *testing.T) {
	lib := newTestLibrary(t, false)
	require.NoError(t, lib.Actions.Register(&Action{
		Name: "needs-arg",
		Parameters: []Parameter{
			{Name: "required", Direction: DirInRequired, DeclaredType: TypeString},
		},
		Handler: sampleHandler,
	}))
	lib.Start()
	defer lib.Terminate()

	_, err := lib.Dispatch(context.Background(), "needs-arg", nil)
	assert.ErrorIs(t, err, BadRequest)
}

func TestDispatcherRejectsUnknownAction(t *testing.T) {
	lib := newTestLibrary(t, false)
	lib.Start()
	defer lib.Terminate()

	_, err := lib.Dispatch(context.Background(), "nonexistent", nil)
	assert.ErrorIs(t, err, NotFound)
}

func TestDispatcherExclusiveAppSerializesActions(t *testing.T) {
	lib := newTestLibrary(t, false)
	started := make(chan struct{})
	release := make(chan struct{})

	require.NoError(t, lib.Actions.Register(&Action{
		Name:  "blocker",
		Flags: FlagExclusiveApp,
		Handler: func(ctx context.Context, params *OptionsMap) (*OptionsMap, Status) {
			close(started)
			<-release
			return NewOptionsMap(), Success
		},
	}))
	require.NoError(t, lib.Actions.Register(&Action{
		Name:    "other",
		Handler: sampleHandler,
	}))
	lib.Start()
	defer lib.Terminate()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = lib.Dispatch(ctx, "blocker", nil)
	}()
	<-started

	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = lib.Dispatch(ctx, "other", nil)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected 'other' to block while 'blocker' holds the exclusive app lock")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	<-done
}

func TestDispatcherSingleThreadLoopIteration(t *testing.T) {
	lib := newTestLibrary(t, true)
	require.NoError(t, lib.Actions.Register(&Action{
		Name:    "noop",
		Handler: sampleHandler,
	}))
	lib.Start()
	defer lib.Terminate()

	resultCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := lib.Dispatch(ctx, "noop", nil)
		resultCh <- err
	}()

	require.Eventually(t, func() bool {
		return lib.LoopIteration()
	}, time.Second, time.Millisecond)

	require.NoError(t, <-resultCh)
}

func TestDispatcherExclusiveDeviceSerializesLikeExclusiveApp(t *testing.T) {
	lib := newTestLibrary(t, false)
	started := make(chan struct{})
	release := make(chan struct{})

	require.NoError(t, lib.Actions.Register(&Action{
		Name:  "device-blocker",
		Flags: FlagExclusiveDevice,
		Handler: func(ctx context.Context, params *OptionsMap) (*OptionsMap, Status) {
			close(started)
			<-release
			return NewOptionsMap(), Success
		},
	}))
	require.NoError(t, lib.Actions.Register(&Action{
		Name:    "other",
		Handler: sampleHandler,
	}))
	lib.Start()
	defer lib.Terminate()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = lib.Dispatch(ctx, "device-blocker", nil)
	}()
	<-started

	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = lib.Dispatch(ctx, "other", nil)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected 'other' to block while 'device-blocker' holds the exclusive lock")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	<-done
}

func TestDispatcherRejectsBadlyTypedParameter(t *testing.T) {
	lib := newTestLibrary(t, false)
	require.NoError(t, lib.Actions.Register(&Action{
		Name: "wants-int",
		Parameters: []Parameter{
			{Name: "n", Direction: DirInRequired, DeclaredType: TypeInt32},
		},
		Handler: sampleHandler,
	}))
	lib.Start()
	defer lib.Terminate()

	params := NewOptionsMap()
	require.NoError(t, params.SetString("n", "not a number"))

	_, err := lib.Dispatch(context.Background(), "wants-int", params)
	assert.ErrorIs(t, err, BadRequest)
}

func TestDispatcherRejectsMissingRequiredOutput(t *testing.T) {
	lib := newTestLibrary(t, false)
	require.NoError(t, lib.Actions.Register(&Action{
		Name: "forgets-output",
		Parameters: []Parameter{
			{Name: "result", Direction: DirOutRequired, DeclaredType: TypeString},
		},
		Handler: func(ctx context.Context, params *OptionsMap) (*OptionsMap, Status) {
			return NewOptionsMap(), Success
		},
	}))
	lib.Start()
	defer lib.Terminate()

	_, err := lib.Dispatch(context.Background(), "forgets-output", nil)
	assert.ErrorIs(t, err, BadRequest)
}

func TestDispatcherRunCommandCapturesRetvalAndOutput(t *testing.T) {
	sys := &fakeSystem{stdout: []byte("line one\nline two\r\n"), stderr: []byte("warn\n"), exitCode: 7}
	lib := newTestLibraryWithSystem(t, sys)
	require.NoError(t, lib.Actions.Register(&Action{
		Name:    "run-it",
		Command: []string{"/bin/true"},
		Parameters: []Parameter{
			{Name: "verbose", Direction: DirIn, DeclaredType: TypeBool},
		},
	}))
	lib.Start()
	defer lib.Terminate()

	params := NewOptionsMap()
	require.NoError(t, params.SetBool("verbose", true))

	out, err := lib.Dispatch(context.Background(), "run-it", params)
	require.Error(t, err)
	assert.ErrorIs(t, err, ExecutionError)

	retval, rerr := out.GetInt32("retval")
	require.NoError(t, rerr)
	assert.Equal(t, int32(7), retval)

	stdout, _ := out.GetString("stdout")
	assert.Equal(t, "line one line two ", stdout)
	stderr, _ := out.GetString("stderr")
	assert.Equal(t, "warn ", stderr)

	assert.Equal(t, "/bin/true", sys.lastName)
	assert.Contains(t, sys.lastArgs, "--verbose=1")
}

func TestDispatcherRunCommandSucceedsWithZeroExitCode(t *testing.T) {
	sys := &fakeSystem{stdout: []byte("ok"), exitCode: 0}
	lib := newTestLibraryWithSystem(t, sys)
	require.NoError(t, lib.Actions.Register(&Action{
		Name:    "run-ok",
		Command: []string{"/bin/true"},
	}))
	lib.Start()
	defer lib.Terminate()

	out, err := lib.Dispatch(context.Background(), "run-ok", nil)
	require.NoError(t, err)
	retval, _ := out.GetInt32("retval")
	assert.Equal(t, int32(0), retval)
}

func TestDispatcherRunCommandTruncatesLongOutput(t *testing.T) {
	long := make([]byte, commandOutputMax+500)
	for i := range long {
		long[i] = 'x'
	}
	sys := &fakeSystem{stdout: long}
	lib := newTestLibraryWithSystem(t, sys)
	require.NoError(t, lib.Actions.Register(&Action{
		Name:    "run-long",
		Command: []string{"/bin/true"},
	}))
	lib.Start()
	defer lib.Terminate()

	out, err := lib.Dispatch(context.Background(), "run-long", nil)
	require.NoError(t, err)
	stdout, _ := out.GetString("stdout")
	assert.Len(t, stdout, commandOutputMax)
}

func TestDispatcherRunCommandNoReturnIsInvokedWithoutWaiting(t *testing.T) {
	block := make(chan struct{})
	sys := &blockingSystem{block: block}
	lib := newTestLibraryWithSystem(t, sys)
	require.NoError(t, lib.Actions.Register(&Action{
		Name:    "fire-and-forget",
		Command: []string{"/bin/sleep"},
		Flags:   FlagNoReturn,
	}))
	lib.Start()
	defer func() {
		close(block)
		lib.Terminate()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := lib.Dispatch(ctx, "fire-and-forget", nil)
	var status Status
	if err != nil {
		status = StatusOf(err)
	}
	assert.Equal(t, Invoked, status)
	assert.Nil(t, out)
}

// blockingSystem's Run blocks until block is closed, simulating a
// long-running process a NO_RETURN action must not wait on.
type blockingSystem struct {
	block chan struct{}
}

func (b *blockingSystem) Now() time.Time  { return time.Unix(0, 0) }
func (b *blockingSystem) NewUUID() string { return "00000000-0000-0000-0000-000000000000" }
func (b *blockingSystem) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, int, error) {
	<-b.block
	return nil, nil, 0, nil
}

var _ osal.System = (*blockingSystem)(nil)
