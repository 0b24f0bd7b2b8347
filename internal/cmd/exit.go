package cmd

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	apperrors "github.com/reelforge/reelforge/internal/errors"
)

// describeError returns the envelope carried by err, or the one mapped from a
// pool/orchestrator failure. Plain errors yield nil.
func describeError(err error) *errors.ErrorEnvelope {
	if err == nil {
		return nil
	}
	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) {
		return envelope
	}
	return apperrors.FromDomainError(err)
}

// ExitWithCode reports err through logger and terminates. A nil logger falls
// back to stderr.
func ExitWithCode(logger *logging.Logger, exitCode foundry.ExitCode, msg string, err error) {
	os.Exit(reportFatal(os.Stderr, logger, exitCode, msg, err))
}

// ExitWithCodeStderr is ExitWithCode for callers that run before the CLI
// logger exists.
func ExitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	os.Exit(reportFatal(os.Stderr, nil, exitCode, msg, err))
}

// reportFatal writes the failure and returns the process exit status.
func reportFatal(w io.Writer, logger *logging.Logger, exitCode foundry.ExitCode, msg string, err error) int {
	info, known := foundry.GetExitCodeInfo(exitCode)
	if !known {
		writeFatal(w, msg, err)
		fmt.Fprintf(w, "Exit Code: %d\n", exitCode)
		return int(exitCode)
	}
	if logger == nil {
		writeFatal(w, msg, err)
		fmt.Fprintf(w, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
		return info.Code
	}

	fields := []zap.Field{
		zap.Int("exit_code", info.Code),
		zap.String("exit_name", info.Name),
		zap.String("exit_category", info.Category),
	}
	if envelope := describeError(err); envelope != nil {
		fields = append(fields,
			zap.String("error_code", envelope.Code),
			zap.String("correlation_id", envelope.CorrelationID),
		)
		if envelope.Context != nil {
			fields = append(fields, zap.Any("error_context", envelope.Context))
		}
		if cause, ok := envelope.Original.(error); ok && cause != nil {
			err = cause
		}
	}
	logger.Error(msg, append(fields, zap.Error(err))...)
	return info.Code
}

func writeFatal(w io.Writer, msg string, err error) {
	if err == nil {
		fmt.Fprintf(w, "FATAL: %s\n", msg)
		return
	}
	envelope := describeError(err)
	if envelope == nil {
		fmt.Fprintf(w, "FATAL: %s: %v\n", msg, err)
		return
	}
	fmt.Fprintf(w, "FATAL: %s [%s]: %v\n", msg, envelope.Code, err)
	if envelope.CorrelationID != "" {
		fmt.Fprintf(w, "Correlation: %s\n", envelope.CorrelationID)
	}
}
