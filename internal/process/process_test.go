package process_test

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Satish-Kalepu/Agents-Simulator/internal/process"
)

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"npx -y server", []string{"npx", "-y", "server"}},
		{`  a   "b c"  'd e' `, []string{"a", "b c", "d e"}},
		{`a\ b c`, []string{"a b", "c"}},
		{`--name=""`, []string{"--name="}},
		{"", nil},
	}
	for _, tt := range tests {
		got, err := process.SplitArgs(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := process.SplitArgs(`"open`)
	assert.Error(t, err)
}

func TestLogBuffer_RingOrder(t *testing.T) {
	lb := process.NewLogBuffer(3)
	for _, l := range []string{"a", "b", "c", "d", "e"} {
		lb.Write("stderr", l)
	}

	got := lb.Recent(0)
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].Line)
	assert.Equal(t, "e", got[2].Line)
	assert.Equal(t, 2, lb.Dropped())

	last := lb.Recent(1)
	require.Len(t, last, 1)
	assert.Equal(t, "e", last[0].Line)
}

func TestLogBuffer_Partial(t *testing.T) {
	lb := process.NewLogBuffer(5)
	lb.Write("stderr", "x")
	lb.Write("stderr", strings.Repeat("y", 10000))

	got := lb.Recent(10)
	require.Len(t, got, 2)
	assert.Equal(t, "x", got[0].Line)
	assert.Less(t, len(got[1].Line), 5000)
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestRunner_EchoesStdin(t *testing.T) {
	requireShell(t)
	r := process.NewRunner(10, 100*time.Millisecond)

	p, err := r.Start(context.Background(), process.Spec{
		Command: "sh",
		Args:    []string{"-c", `read line; echo "got:$line"; echo oops >&2`},
	})
	require.NoError(t, err)

	_, err = p.Stdin().Write([]byte("hello\n"))
	require.NoError(t, err)

	out, err := p.Stdout().ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "got:hello\n", out)

	require.NoError(t, p.Stop(time.Second))
	assert.Contains(t, p.Stderr(), "oops")
}

func TestRunner_ScrubsEnvironment(t *testing.T) {
	requireShell(t)
	t.Setenv("AGENTSIM_SECRET", "leak")
	r := process.NewRunner(10, 100*time.Millisecond)

	p, err := r.Start(context.Background(), process.Spec{
		Command: "sh",
		Args:    []string{"-c", `echo "[$AGENTSIM_SECRET][$EXTRA]"`},
		Env:     map[string]string{"EXTRA": "ok"},
	})
	require.NoError(t, err)

	out, err := p.Stdout().ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "[][ok]\n", out)
	<-p.Done()
}

func TestRunner_ContextKillsProcess(t *testing.T) {
	requireShell(t)
	r := process.NewRunner(10, 100*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	p, err := r.Start(ctx, process.Spec{Command: "sh", Args: []string{"-c", "sleep 30"}})
	require.NoError(t, err)

	select {
	case <-p.Done():
		assert.Error(t, p.Err())
	case <-time.After(5 * time.Second):
		t.Fatal("process survived context cancellation")
	}
}

func TestRunner_UnknownCommand(t *testing.T) {
	r := process.NewRunner(0, 0)
	_, err := r.Start(context.Background(), process.Spec{Command: "definitely-not-a-binary-xyz"})
	assert.Error(t, err)

	_, err = r.Start(context.Background(), process.Spec{Command: " "})
	assert.Error(t, err)
}
