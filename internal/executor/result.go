package executor

import (
	"time"

	"github.com/sakif/code-runner/internal/apperror"
	"github.com/sakif/code-runner/internal/executor/sandbox"
)

// TimeoutMessage is the error text of every timed-out execution.
const TimeoutMessage = "execution timed out"

// FaultMessage stands in for a fault that reported no text.
const FaultMessage = "execution failed"

const timeoutNotice = "Error: Script execution timed out\n"

// Outcome tags the path that produced an ExecutionResult.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeTimedOut
	OutcomeFaulted
	OutcomeCompileFailed
	OutcomeEngineFault
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeFaulted:
		return "faulted"
	case OutcomeCompileFailed:
		return "compile_failed"
	case OutcomeEngineFault:
		return "engine_fault"
	default:
		return "unknown"
	}
}

// Err returns nil for a successful run and otherwise an *apperror.AppError
// whose sentinel names the failure kind and whose message is r.Error.
func (r *ExecutionResult) Err() error {
	var kind error
	switch r.Outcome {
	case OutcomeCompleted:
		if r.ExitCode == 0 {
			return nil
		}
		kind = apperror.ErrRuntimeFault
	case OutcomeTimedOut:
		kind = apperror.ErrTimedOut
	case OutcomeCompileFailed:
		kind = apperror.ErrCompile
	case OutcomeEngineFault:
		kind = apperror.ErrEngineFault
	default:
		kind = apperror.ErrRuntimeFault
	}
	return &apperror.AppError{Err: kind, Message: r.Error}
}

// Completed builds the result of code that ran to its natural end.
func Completed(stdout, stderr string, elapsed time.Duration) *ExecutionResult {
	return &ExecutionResult{
		Stdout:        stdout,
		Stderr:        stderr,
		ExitCode:      0,
		ExecutionTime: elapsed.Milliseconds(),
		Outcome:       OutcomeCompleted,
	}
}

// TimedOut reports the deadline itself as the execution time: the real
// elapsed time after a forced kill says nothing useful.
func TimedOut(stdout, stderr string, deadline time.Duration) *ExecutionResult {
	return &ExecutionResult{
		Stdout:        stdout,
		Stderr:        stderr + timeoutNotice,
		ExitCode:      1,
		ExecutionTime: deadline.Milliseconds(),
		Error:         TimeoutMessage,
		Outcome:       OutcomeTimedOut,
	}
}

// Faulted builds the result of code that raised an uncaught fault. Output
// captured before the fault is kept. A failed result always carries a
// message.
func Faulted(stdout, stderr, message string, elapsed time.Duration) *ExecutionResult {
	if message == "" {
		message = FaultMessage
	}
	return &ExecutionResult{
		Stdout:        stdout,
		Stderr:        stderr + "Error: " + message + "\n",
		ExitCode:      1,
		ExecutionTime: elapsed.Milliseconds(),
		Error:         message,
		Outcome:       OutcomeFaulted,
	}
}

// CompileFailed builds the result of a failed build step; the program is
// never run.
func CompileFailed(stderr, message string, elapsed time.Duration) *ExecutionResult {
	return &ExecutionResult{
		Stdout:        "",
		Stderr:        stderr,
		ExitCode:      1,
		ExecutionTime: elapsed.Milliseconds(),
		Error:         message,
		Outcome:       OutcomeCompileFailed,
	}
}

// EngineFailure is the body sent with HTTP 500 when the service itself failed.
func EngineFailure(err error) *ExecutionResult {
	return &ExecutionResult{
		Stdout:        "",
		Stderr:        err.Error(),
		ExitCode:      1,
		ExecutionTime: 0,
		Error:         err.Error(),
		Outcome:       OutcomeEngineFault,
	}
}

// Assemble normalizes a sandbox report into the result shape.
func Assemble(rep sandbox.Report, timeout time.Duration) *ExecutionResult {
	switch rep.State {
	case sandbox.StateTimedOut:
		return TimedOut(rep.Stdout, rep.Stderr, timeout)
	case sandbox.StateFaulted:
		return Faulted(rep.Stdout, rep.Stderr, rep.Fault, rep.Elapsed)
	default:
		return Completed(rep.Stdout, rep.Stderr, rep.Elapsed)
	}
}
