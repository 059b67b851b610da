package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os/exec"
	"strings"
	"time"

	"judgeworker/core"
)

// JobTracker receives start/finish notifications so the worker heartbeat
// can report how many submissions are in flight. Both methods must be
// safe for concurrent use.
type JobTracker interface {
	JobStarted(job string)
	JobFinished(job string, err error)
}

// Config bounds the Handler's child-process behavior.
type Config struct {
	MaxRetryCount        int
	MaxParallelTestcases int
	SandboxRunnerPath    string // path to the cmd/sandboxrunner binary
	MaxSubprocessTimeout time.Duration
	DefaultTimeLimitSec  int        // DEFAULT_TIME_LIMIT fallback, seconds
	DefaultMemoryLimitKB int        // DEFAULT_MEMORY_LIMIT fallback, KB
	Tracker              JobTracker // optional
}

// Handler validates inbound submission bodies and runs each one in a
// dedicated child process, so a sandbox crash or resource leak cannot
// poison the worker process itself. This mirrors _process_submission in
// the original message_handler.py, which shells out to a standalone
// sandbox_runner.py for exactly the same isolation reason.
type Handler struct {
	cfg Config
}

func New(cfg Config) *Handler {
	if cfg.MaxSubprocessTimeout <= 0 {
		cfg.MaxSubprocessTimeout = 300 * time.Second
	}
	return &Handler{cfg: cfg}
}

// Decision is what the caller (the Adaptive Consumer) should do with the
// delivery after Process returns.
type Decision struct {
	Reply   core.Reply
	Requeue bool // true if the delivery should be republished with x-retry-count+1
}

// Process validates body and, if valid, runs it through the sandbox child
// process. retryCount comes from the x-retry-count header.
func (h *Handler) Process(ctx context.Context, body []byte, retryCount int) Decision {
	validated, verr := ValidateBody(body, retryCount, h.cfg.MaxRetryCount, Limits{
		DefaultTimeLimitSec:  h.cfg.DefaultTimeLimitSec,
		DefaultMemoryLimitKB: h.cfg.DefaultMemoryLimitKB,
	})
	if verr != nil {
		return Decision{Reply: verr.ToErrorReply()}
	}

	if h.cfg.Tracker != nil {
		h.cfg.Tracker.JobStarted(validated.SubmissionID)
	}

	results, compileResult, errCode, errMsg, procErr := h.runSandboxChild(ctx, validated)

	if h.cfg.Tracker != nil {
		h.cfg.Tracker.JobFinished(validated.SubmissionID, procErr)
	}

	if procErr != nil {
		log.Printf("submission %s: sandbox child failed, requeuing: %v", validated.SubmissionID, procErr)
		return Decision{Requeue: true}
	}

	if errCode != "" {
		return Decision{Reply: core.Reply{
			SubmissionID:  validated.SubmissionID,
			CompileResult: compileResult,
			ErrorCode:     errCode,
			ErrorMessage:  errMsg,
		}}
	}

	return Decision{Reply: buildSuccessReply(validated.SubmissionID, results)}
}

// sandboxChildRequest is the payload written to the child's stdin.
type sandboxChildRequest struct {
	Language      string          `json:"language"`
	Code          string          `json:"code"`
	Testcases     []core.Testcase `json:"testcases"`
	TimeLimitSec  int             `json:"timelimit"`
	MemoryLimitKB int             `json:"memorylimit"`
}

// runSandboxChild spawns cmd/sandboxrunner, following the original's
// subprocess timeout formula exactly:
//
//	timeout = ceil(len(testcases)/P) * P * (timeLimit+2) + 60, capped at 300s.
func (h *Handler) runSandboxChild(ctx context.Context, v *Validated) (results []core.Verdict, compileResult, errCode, errMsg string, err error) {
	maxParallel := h.cfg.MaxParallelTestcases
	if maxParallel <= 0 {
		maxParallel = 4
	}
	numBatches := int(math.Ceil(float64(len(v.Testcases)) / float64(maxParallel)))
	timeout := time.Duration(numBatches*maxParallel*(v.TimeLimitSec+2))*time.Second + 60*time.Second
	if timeout > h.cfg.MaxSubprocessTimeout {
		timeout = h.cfg.MaxSubprocessTimeout
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload := sandboxChildRequest{
		Language:      v.Language,
		Code:          v.Code,
		Testcases:     v.Testcases,
		TimeLimitSec:  v.TimeLimitSec,
		MemoryLimitKB: v.MemoryLimitKB,
	}
	in, err := json.Marshal(payload)
	if err != nil {
		return nil, "", "", "", fmt.Errorf("marshal sandbox request: %w", err)
	}

	log.Printf("submission %s: starting sandbox runner, timeout=%s batches=%d", v.SubmissionID, timeout, numBatches)

	cmd := exec.CommandContext(cctx, h.cfg.SandboxRunnerPath)
	cmd.Stdin = bytes.NewReader(in)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Submission-level failures still report one digit per testcase.
	n := len(v.Testcases)
	runErr := cmd.Run()
	if cctx.Err() == context.DeadlineExceeded {
		return nil, strings.Repeat("1", n), "TimeLimitExceeded", "sandbox execution timeout", nil
	}
	if runErr != nil {
		return nil, strings.Repeat("4", n), "InternalError", strings.TrimSpace(stderr.String()), nil
	}

	var out []core.Verdict
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, strings.Repeat("4", n), "InternalError", fmt.Sprintf("invalid JSON from sandbox runner: %v", err), nil
	}
	if len(out) == 0 {
		return nil, strings.Repeat("4", n), "InternalError", "empty result from sandbox runner", nil
	}

	if out[0].Status == core.StatusCompilationError || out[0].Status == core.StatusInternalError {
		return out, compileResultDigits(out), string(out[0].Status), out[0].Error, nil
	}

	return out, "", "", "", nil
}

// compileResultDigits concatenates one status digit per verdict, in order,
// so compileResult always has the same length as the verdict slice -- even
// for a pre-execution CompilationError/InternalError, where every testcase
// carries the same status.
func compileResultDigits(verdicts []core.Verdict) string {
	var b strings.Builder
	for _, v := range verdicts {
		b.WriteString(v.Status.Code())
	}
	return b.String()
}

// buildSuccessReply assembles the final reply from per-testcase verdicts,
// matching _create_success_response: CompileResult concatenates one status
// digit per testcase in order, TotalTime/TotalMemory are sums, and
// ErrorMessage carries the first non-passed testcase's detail.
func buildSuccessReply(submissionID string, results []core.Verdict) core.Reply {
	var totalTime, totalMemory int64
	firstError := ""
	allPassed := true

	for _, r := range results {
		totalTime += r.TimeMs
		totalMemory += r.MemoryKB
		if r.Status != core.StatusPassed {
			allPassed = false
			if firstError == "" {
				firstError = fmt.Sprintf("testcase #%d - %s: %s", r.IndexNo, r.Status, r.Error)
			}
		}
	}

	errorCode := "Passed"
	errorMessage := ""
	if !allPassed {
		errorCode = "Failed"
		errorMessage = firstError
		if errorMessage == "" {
			errorMessage = "some testcases failed"
		}
	}

	return core.Reply{
		SubmissionID:  submissionID,
		CompileResult: compileResultDigits(results),
		TotalTime:     totalTime,
		TotalMemory:   totalMemory,
		ErrorCode:     errorCode,
		ErrorMessage:  errorMessage,
	}
}
