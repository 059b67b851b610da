package sandbox

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeIsolateScript is a stand-in for the real isolate binary. It never
// runs the submitted program: it just records every invocation to
// FAKE_ISOLATE_LOG and fabricates the exit code / meta file the caller
// would have produced, driven by FAKE_ISOLATE_MODE. A compile invocation
// never carries --meta (compileOnce doesn't pass it), which is how the
// script tells a compile step from a per-testcase run without needing a
// separate flag.
const fakeIsolateScript = `#!/bin/sh
if [ -n "$FAKE_ISOLATE_LOG" ]; then
  echo "$*" >> "$FAKE_ISOLATE_LOG"
fi

boxid=""
meta=""
prev=""
cleanup=0
init=0
for arg in "$@"; do
  case "$prev" in
    --box-id) boxid="$arg" ;;
    --meta) meta="$arg" ;;
  esac
  case "$arg" in
    --cleanup) cleanup=1 ;;
    --init) init=1 ;;
  esac
  prev="$arg"
done

boxdir="$FAKE_BOX_ROOT/$boxid/box"

if [ "$cleanup" = "1" ]; then
  exit 0
fi

if [ "$init" = "1" ]; then
  mkdir -p "$boxdir"
  exit 0
fi

if [ -z "$meta" ]; then
  # compile-only invocation: always succeeds so per-testcase runs are reached.
  exit 0
fi

case "$FAKE_ISOLATE_MODE" in
  tle)
    printf 'status:TO\ntime:5.000\nmax-rss:1024\n' > "$meta"
    exit 1
    ;;
  pass)
    printf '' > "$boxdir/output.txt"
    printf 'time:0.010\ncg-mem:1000\n' > "$meta"
    exit 0
    ;;
  *)
    exit 0
    ;;
esac
`

// withFakeIsolate points isolateBinary/isolateBoxRoot at a throwaway fake
// isolate for the duration of the test, restoring both on cleanup. Returns
// the path to the invocation log: one line per isolate call, so tests can
// assert on spawn count (cardinality) without spying on exec.Cmd.
func withFakeIsolate(t *testing.T, mode string) (logPath string) {
	t.Helper()
	dir := t.TempDir()

	scriptPath := filepath.Join(dir, "fake-isolate")
	if err := os.WriteFile(scriptPath, []byte(fakeIsolateScript), 0o755); err != nil {
		t.Fatalf("write fake isolate script: %v", err)
	}

	boxRoot := filepath.Join(dir, "boxes")
	if err := os.MkdirAll(boxRoot, 0o755); err != nil {
		t.Fatalf("create fake box root: %v", err)
	}

	logPath = filepath.Join(dir, "invocations.log")

	origBinary, origRoot := isolateBinary, isolateBoxRoot
	isolateBinary = scriptPath
	isolateBoxRoot = boxRoot
	t.Cleanup(func() {
		isolateBinary, isolateBoxRoot = origBinary, origRoot
	})

	t.Setenv("FAKE_ISOLATE_LOG", logPath)
	t.Setenv("FAKE_BOX_ROOT", boxRoot)
	t.Setenv("FAKE_ISOLATE_MODE", mode)

	return logPath
}

func countInvocationsWithMeta(t *testing.T, logPath string) int {
	t.Helper()
	b, err := os.ReadFile(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0
		}
		t.Fatalf("read invocation log: %v", err)
	}
	count := 0
	for _, line := range strings.Split(string(b), "\n") {
		if line == "" {
			continue
		}
		if strings.Contains(line, "--meta") {
			count++
		}
	}
	return count
}
