package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"judgeworker/core"
)

// Limits bounds one submission's sandbox run.
type Limits struct {
	TimeLimitSec  int // per-testcase CPU time limit, seconds
	MemoryLimitKB int // per-testcase memory limit, KB
	MaxParallel   int // batch size: P in the spec's batching scheme
	IsolateNice   int
	CPUAffinity   string
}

// Executor runs one submission's testcases against isolate boxes.
type Executor struct {
	pool *BoxPool
}

func NewExecutor(pool *BoxPool) *Executor {
	return &Executor{pool: pool}
}

// compileFailure is returned by compileOnce when the submission itself
// does not compile/parse; it is not a process error.
type compileFailure struct {
	message string
}

func (e *compileFailure) Error() string { return e.message }

// Execute implements Phase A (compile once) + Phase B (batched parallel
// run with early-stop), matching execute_in_sandbox in the original
// judge-service line for line: testcases are sorted by IndexNo, compiled
// or syntax-checked exactly once, then run in batches of Limits.MaxParallel
// with testcases inside a batch running concurrently and batches running
// sequentially. If every testcase in a batch times out, all remaining
// batches are skipped rather than run; their testcases are reported as
// TimeLimitExceeded with the error "Skipped due to early stopping".
func (e *Executor) Execute(ctx context.Context, lang Language, code string, testcases []core.Testcase, lim Limits) ([]core.Verdict, string, error) {
	sorted := make([]core.Testcase, len(testcases))
	copy(sorted, testcases)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].IndexNo < sorted[j].IndexNo })

	runCmd, err := e.compileOnce(ctx, lang, code, lim)
	if err != nil {
		var cf *compileFailure
		if errors.As(err, &cf) {
			return errorResult(sorted, core.StatusCompilationError, cf.message), string(core.StatusCompilationError), nil
		}
		return nil, "", fmt.Errorf("compile once: %w", err)
	}

	batchSize := lim.MaxParallel
	if batchSize <= 0 {
		batchSize = 4
	}

	results := make([]core.Verdict, 0, len(sorted))
	stopped := false

	for start := 0; start < len(sorted); start += batchSize {
		end := start + batchSize
		if end > len(sorted) {
			end = len(sorted)
		}
		batch := sorted[start:end]

		if stopped {
			for _, tc := range batch {
				results = append(results, core.Verdict{
					TestCaseID: tc.TestCaseID,
					IndexNo:    tc.IndexNo,
					Status:     core.StatusTimeLimitExceeded,
					Error:      "Skipped due to early stopping",
				})
			}
			continue
		}

		batchResults := make([]core.Verdict, len(batch))
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		for i, tc := range batch {
			i, tc := i, tc
			g.Go(func() error {
				v := e.runOne(gctx, tc, lang, code, runCmd, lim)
				mu.Lock()
				batchResults[i] = v
				mu.Unlock()
				return nil
			})
		}
		// errors are carried in the verdict itself (InternalError), not
		// returned from Execute, so g.Wait()'s error is always nil here.
		_ = g.Wait()

		results = append(results, batchResults...)

		tle := 0
		for _, r := range batchResults {
			if r.Status == core.StatusTimeLimitExceeded {
				tle++
			}
		}
		if tle == len(batchResults) && len(batchResults) > 0 {
			stopped = true
		}
	}

	return results, "", nil
}

func errorResult(testcases []core.Testcase, status core.TestcaseStatus, msg string) []core.Verdict {
	out := make([]core.Verdict, 0, len(testcases))
	for _, tc := range testcases {
		out = append(out, core.Verdict{
			TestCaseID: tc.TestCaseID,
			IndexNo:    tc.IndexNo,
			Status:     status,
			Error:      msg,
		})
	}
	return out
}

// compileOnce compiles (or syntax-checks, for interpreted languages) the
// submission a single time in a scratch box, returning the argv used to
// run it. Each testcase still gets its own box later (isolate boxes are
// not shared across concurrent runs), but a C++ submission that fails to
// compile is rejected without spinning up one box per testcase.
func (e *Executor) compileOnce(ctx context.Context, lang Language, code string, lim Limits) ([]string, error) {
	cfg, err := lang.config()
	if err != nil {
		return nil, err
	}

	boxID, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer e.pool.Release(boxID)

	isolateCleanup(ctx, lim.IsolateNice, lim.CPUAffinity, boxID)
	boxPath, err := isolateInit(ctx, lim.IsolateNice, lim.CPUAffinity, boxID)
	if err != nil {
		return nil, err
	}
	defer isolateCleanup(ctx, lim.IsolateNice, lim.CPUAffinity, boxID)

	if err := writeBoxFile(boxPath, cfg.SourceName, code); err != nil {
		return nil, fmt.Errorf("write source: %w", err)
	}

	if len(cfg.CompileArgs) == 0 {
		return cfg.RunArgs, nil
	}

	compileCmd := append([]string{
		isolateBinary, "--box-id", strconv.Itoa(boxID),
		"--time=10", "--wall-time=15", "--mem=512000", "--processes", "--full-env",
		"--stderr=compile_err.txt",
		"--run", "--",
	}, cfg.CompileArgs...)

	dctx, cancel := context.WithTimeout(ctx, isolateDeadline(20))
	defer cancel()
	exitCode, stderr, err := runIsolateCommand(dctx, lim.IsolateNice, lim.CPUAffinity, compileCmd)
	if err != nil {
		return nil, err
	}
	if exitCode != 0 {
		detail := readBoxFile(boxPath, "compile_err.txt")
		if detail == "" {
			detail = stderr
		}
		return nil, &compileFailure{message: strings.TrimSpace(detail)}
	}

	return cfg.RunArgs, nil
}

// runOne runs a single testcase in its own box. If the language has
// CompileArgs, that step is re-run inside this box (for cpp this rebuilds
// the binary; for python it repeats the py_compile check): isolate boxes do
// not share a filesystem, so the artifact from compileOnce's scratch box is
// not visible here -- only the fact that it compiled once is reused, to
// fail fast before ever touching per-testcase boxes.
func (e *Executor) runOne(ctx context.Context, tc core.Testcase, lang Language, code string, runCmd []string, lim Limits) core.Verdict {
	v := core.Verdict{TestCaseID: tc.TestCaseID, IndexNo: tc.IndexNo, Status: core.StatusPending}

	cfg, err := lang.config()
	if err != nil {
		v.Status = core.StatusInternalError
		v.Error = err.Error()
		return v
	}

	boxID, err := e.pool.Acquire(ctx)
	if err != nil {
		v.Status = core.StatusInternalError
		v.Error = fmt.Sprintf("box allocation: %v", err)
		return v
	}
	defer e.pool.Release(boxID)

	isolateCleanup(ctx, lim.IsolateNice, lim.CPUAffinity, boxID)
	defer isolateCleanup(ctx, lim.IsolateNice, lim.CPUAffinity, boxID)

	boxPath, err := isolateInit(ctx, lim.IsolateNice, lim.CPUAffinity, boxID)
	if err != nil {
		v.Status = core.StatusInternalError
		v.Error = err.Error()
		return v
	}

	if err := writeBoxFile(boxPath, cfg.SourceName, code); err != nil {
		v.Status = core.StatusInternalError
		v.Error = fmt.Sprintf("write source: %v", err)
		return v
	}

	if len(cfg.CompileArgs) > 0 {
		compileCmd := append([]string{
			isolateBinary, "--box-id", strconv.Itoa(boxID),
			"--time=10", "--wall-time=15", "--mem=512000", "--processes", "--full-env",
			"--stderr=compile_err.txt",
			"--run", "--",
		}, cfg.CompileArgs...)
		dctx, cancel := context.WithTimeout(ctx, isolateDeadline(20))
		exitCode, stderr, err := runIsolateCommand(dctx, lim.IsolateNice, lim.CPUAffinity, compileCmd)
		cancel()
		if err != nil {
			v.Status = core.StatusInternalError
			v.Error = err.Error()
			return v
		}
		if exitCode != 0 {
			detail := readBoxFile(boxPath, "compile_err.txt")
			if detail == "" {
				detail = stderr
			}
			v.Status = core.StatusCompilationError
			v.Error = fmt.Sprintf("compilation failed in box: %s", strings.TrimSpace(detail))
			return v
		}
	}

	if err := writeBoxFile(boxPath, "input.txt", tc.InputRef); err != nil {
		v.Status = core.StatusInternalError
		v.Error = fmt.Sprintf("write input: %v", err)
		return v
	}

	metaPath := boxPath + "/meta.txt"
	runArgs := append([]string{
		isolateBinary, "--box-id", strconv.Itoa(boxID),
		"--stdin=input.txt", "--stdout=output.txt", "--stderr=error.txt",
		fmt.Sprintf("--time=%d", lim.TimeLimitSec),
		fmt.Sprintf("--wall-time=%d", lim.TimeLimitSec+2),
		fmt.Sprintf("--mem=%d", lim.MemoryLimitKB), "--processes",
		"--meta", metaPath,
		"--run", "--",
	}, runCmd...)

	dctx, cancel := context.WithTimeout(ctx, isolateDeadline(float64(lim.TimeLimitSec)))
	exitCode, _, err := runIsolateCommand(dctx, lim.IsolateNice, lim.CPUAffinity, runArgs)
	cancel()
	if err != nil {
		v.Status = core.StatusTimeLimitExceeded
		v.Error = "execution timeout (failsafe)"
		v.TimeMs = int64(lim.TimeLimitSec) * 1000
		return v
	}

	meta := parseIsolateMeta(metaPath)
	errContent := readBoxFile(boxPath, "error.txt")

	if meta.timeSec > 0 {
		v.TimeMs = int64(meta.timeSec * 1000)
	}
	v.MemoryKB = meta.memoryKB()

	switch meta.status {
	case "TO":
		v.Status = core.StatusTimeLimitExceeded
		v.Error = fmt.Sprintf("time limit exceeded (%ds)", lim.TimeLimitSec)
		return v
	case "RE", "SG":
		if lim.MemoryLimitKB > 0 && v.MemoryKB >= int64(float64(lim.MemoryLimitKB)*0.98) {
			v.Status = core.StatusMemoryLimitExceeded
			v.Error = "memory limit exceeded"
			return v
		}
		v.Status = core.StatusRuntimeError
		detail := errContent
		if detail == "" {
			detail = meta.message
		}
		v.Error = fmt.Sprintf("runtime error:\n%s", detail)
		return v
	case "XX":
		v.Status = core.StatusInternalError
		detail := errContent
		if detail == "" {
			detail = "sandbox internal error"
		}
		v.Error = fmt.Sprintf("internal error: %s", detail)
		return v
	}

	if exitCode != 0 && meta.status == "" {
		v.Status = core.StatusRuntimeError
		detail := errContent
		if detail == "" {
			detail = "process exited with non-zero code"
		}
		v.Error = fmt.Sprintf("runtime error (exit code %d):\n%s", exitCode, detail)
		return v
	}

	actual := strings.TrimSpace(readBoxFile(boxPath, "output.txt"))
	v.Output = actual
	expected := strings.TrimSpace(tc.OutputRef)
	if actual == expected {
		v.Status = core.StatusPassed
	} else {
		v.Status = core.StatusWrongAnswer
		v.Error = fmt.Sprintf("expected: %s | got: %s", truncate(expected, 100), truncate(actual, 100))
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
