package core

import (
	"context"
	"strings"
	"sync"
	"testing"

	"cracknum-backend/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLauncherTemplate(t *testing.T) {
	launcher, err := NewLauncher(config.Hashcat{
		Bin:            "/opt/hash cat/hashcat.bin",
		CmdTemplate:    `nice -n 5 {HASHCAT_BIN} --quiet`,
		AllowExecution: true,
	})
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"nice", "-n", "5", "/opt/hash cat/hashcat.bin", "--quiet", "-m", "10"},
		launcher.Argv("-m", "10"),
	)
	// Argv never mutates the shared prefix.
	assert.Equal(t, []string{"nice", "-n", "5", "/opt/hash cat/hashcat.bin", "--quiet"}, launcher.Argv())

	_, err = NewLauncher(config.Hashcat{Bin: "hashcat", CmdTemplate: `"{HASHCAT_BIN}`})
	assert.Error(t, err)

	_, err = NewLauncher(config.Hashcat{Bin: "hashcat", CmdTemplate: "   "})
	assert.Error(t, err)
}

func TestCrackArgs(t *testing.T) {
	args := CrackArgs("hashes.txt", "out.csv", "cracknum.potfile")
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-m 10 -a 3 hashes.txt 79?d?d?d?d?d?d?d?d?d")
	assert.Contains(t, joined, "--outfile out.csv --outfile-format 2 --outfile-autohex-disable")
	assert.Contains(t, joined, "--status --status-timer 5")
	assert.Contains(t, joined, "--potfile-path cracknum.potfile")

	assert.Equal(t, []string{"--show", "-m", "10", "hashes.txt", "--potfile-path", "cracknum.potfile"}, ShowArgs("hashes.txt", "cracknum.potfile"))
}

func TestLauncherExecutionDisabled(t *testing.T) {
	launcher, err := NewLauncher(config.Hashcat{Bin: "hashcat", CmdTemplate: "{HASHCAT_BIN}", AllowExecution: false})
	require.NoError(t, err)
	assert.False(t, launcher.Enabled())

	_, err = launcher.Command(context.Background(), []string{"--version"})
	assert.ErrorIs(t, err, ErrExecutionDisabled)

	_, err = launcher.Output(context.Background(), []string{"--version"})
	assert.ErrorIs(t, err, ErrExecutionDisabled)
	assert.Contains(t, err.Error(), "execution disabled")
}

func TestProcessStreamsMergedOutput(t *testing.T) {
	defer verifyNoLeaks(t)

	cfg := writeScript(t, `
echo "first"
echo "second" 1>&2
echo ""
echo "third   "
exit 3
`)
	launcher, err := NewLauncher(cfg)
	require.NoError(t, err)

	proc, err := launcher.Command(context.Background(), nil)
	require.NoError(t, err)

	var mu sync.Mutex
	var lines []string
	require.NoError(t, proc.Start(func(line string) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, line)
	}))

	<-proc.Exited()
	<-proc.OutputDone()

	assert.Equal(t, []string{"first", "second", "third"}, lines)
	assert.Error(t, proc.ExitErr())

	// Signalling a reaped process is not an error and is idempotent.
	assert.NoError(t, proc.Terminate())
	assert.NoError(t, proc.Terminate())
	assert.NoError(t, proc.Kill())
}

func TestProcessStartFailure(t *testing.T) {
	launcher, err := NewLauncher(config.Hashcat{Bin: "/definitely/not/here", CmdTemplate: "{HASHCAT_BIN}", AllowExecution: true})
	require.NoError(t, err)

	proc, err := launcher.Command(context.Background(), nil)
	require.NoError(t, err)

	err = proc.Start(func(string) {})
	assert.Error(t, err)
}

func TestLauncherOutputIgnoresExitCode(t *testing.T) {
	cfg := writeScript(t, `
echo "a:b:c"
echo "d:e:f"
echo "noise" 1>&2
exit 1
`)
	launcher, err := NewLauncher(cfg)
	require.NoError(t, err)

	out, err := launcher.Output(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "a:b:c\nd:e:f\n", string(out))
}
