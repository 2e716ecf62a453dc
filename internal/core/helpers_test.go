package core

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"cracknum-backend/internal/config"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// fakeHashcat mimics the parts of hashcat the job relies on. The attack
// writes the first five hashes to the outfile as cracked and reports 100%,
// the show pass prints the first three.
const fakeHashcat = `
show=""
for a in "$@"; do
	if [ "$a" = "--show" ]; then show=1; fi
done

if [ -n "$show" ]; then
	head -n 3 "$4"
	exit 0
fi

out=""
prev=""
for a in "$@"; do
	if [ "$prev" = "--outfile" ]; then out="$a"; fi
	prev="$a"
done

echo "Session..........: hashcat"
echo "Progress.........: 50/100 (50.00%)"
head -n 5 "$5" | sed 's/$/:79000000000/' > "$out"
echo "Progress.........: 100/100 (100.00%)" 1>&2
exit 1
`

// hangingHashcat saturates and then ignores SIGTERM without writing anything.
const hangingHashcat = `
for a in "$@"; do
	if [ "$a" = "--show" ]; then
		head -n 3 "$4"
		exit 0
	fi
done

trap '' TERM
echo "Progress.........: 100/100 (100.00%)"
exec sleep 30
`

func requireShell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	return sh
}

func writeScript(t *testing.T, body string) config.Hashcat {
	t.Helper()
	sh := requireShell(t)

	path := filepath.Join(t.TempDir(), "hashcat.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0755))

	return config.Hashcat{
		Bin:            path,
		CmdTemplate:    sh + " {HASHCAT_BIN}",
		AllowExecution: true,
	}
}

func fastTimings() Timings {
	return Timings{
		PollInterval: 10 * time.Millisecond,
		GraceWindow:  200 * time.Millisecond,
		JoinTimeout:  500 * time.Millisecond,
		ShowDelay:    0,
	}
}

func writeHashes(t *testing.T, hashes ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(hashes, "\n")+"\n"), 0644))
	return path
}

func verifyNoLeaks(t *testing.T) {
	goleak.VerifyNone(t, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

type progressEvent struct {
	Percent float64
	Cracked int
	Total   int
}

type statusEvent struct {
	Status  string
	Message string
}

type recordingPublisher struct {
	mu       sync.Mutex
	logs     []string
	progress []progressEvent
	statuses []statusEvent
	command  []string
}

func (p *recordingPublisher) OnLog(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logs = append(p.logs, line)
}

func (p *recordingPublisher) OnProgress(percent float64, cracked, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.progress = append(p.progress, progressEvent{Percent: percent, Cracked: cracked, Total: total})
}

func (p *recordingPublisher) SetStatus(status string, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, statusEvent{Status: status, Message: message})
}

func (p *recordingPublisher) OnCommand(argv []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.command = argv
}

func (p *recordingPublisher) linesContaining(substr string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, l := range p.logs {
		if strings.Contains(l, substr) {
			out = append(out, l)
		}
	}
	return out
}
