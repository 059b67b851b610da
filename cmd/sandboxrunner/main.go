// Command sandboxrunner is the isolated child process the Submission
// Handler spawns for every submission. It reads a JSON payload from stdin,
// runs it through the sandbox executor, and writes a JSON verdict array to
// stdout. Running as a separate process (rather than in-process in the
// worker) means a sandbox crash or leaked isolate box cannot take down the
// worker that is consuming from the queue, mirroring the original
// judge-service's split between message_handler.py and sandbox_runner.py.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"judgeworker/core"
	"judgeworker/sandbox"
)

type request struct {
	Language      string          `json:"language"`
	Code          string          `json:"code"`
	Testcases     []core.Testcase `json:"testcases"`
	TimeLimitSec  int             `json:"timelimit"`
	MemoryLimitKB int             `json:"memorylimit"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	body, err := io.ReadAll(bufio.NewReader(os.Stdin))
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}

	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("unmarshal request: %w", err)
	}

	lang, err := sandbox.ParseLanguage(req.Language)
	if err != nil {
		return writeVerdicts(compilationErrorVerdicts(req, err))
	}

	pool := sandbox.NewBoxPool(envInt("BOX_POOL_CAPACITY", 64))
	exec := sandbox.NewExecutor(pool)

	lim := sandbox.Limits{
		TimeLimitSec:  req.TimeLimitSec,
		MemoryLimitKB: req.MemoryLimitKB,
		MaxParallel:   envInt("MAX_PARALLEL_TESTCASES", 4),
		IsolateNice:   envInt("ISOLATE_NICE", 10),
		CPUAffinity:   os.Getenv("ISOLATE_CPU_AFFINITY"),
	}

	verdicts, _, err := exec.Execute(ctx, lang, req.Code, req.Testcases, lim)
	if err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	return writeVerdicts(verdicts)
}

func compilationErrorVerdicts(req request, cause error) []core.Verdict {
	out := make([]core.Verdict, 0, len(req.Testcases))
	for _, tc := range req.Testcases {
		out = append(out, core.Verdict{
			TestCaseID: tc.TestCaseID,
			IndexNo:    tc.IndexNo,
			Status:     core.StatusCompilationError,
			Error:      cause.Error(),
		})
	}
	return out
}

func writeVerdicts(v []core.Verdict) error {
	enc := json.NewEncoder(os.Stdout)
	return enc.Encode(v)
}

func envInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
