package faults

import "errors"

// Typed failure reasons surfaced across the training/deployment/analysis
// pipeline. Callers match with errors.Is and display Reason(err) to users;
// wrapping with fmt.Errorf("...: %w", err) preserves the match.
var (
	ErrInsufficientData = errors.New("insufficient training data")
	ErrTrainingDiverged = errors.New("training diverged")
	ErrValidationFailed = errors.New("model validation failed")
	ErrDeploymentFailed = errors.New("model deployment failed")
	ErrInvalidEvent     = errors.New("invalid event")
	ErrAnalysisTimeout  = errors.New("analysis timed out")
	ErrAlreadyRunning   = errors.New("training already running for camera")
	ErrCancelled        = errors.New("cancelled")
)

var reasons = map[error]string{
	ErrInsufficientData: "InsufficientData",
	ErrTrainingDiverged: "TrainingDiverged",
	ErrValidationFailed: "ValidationFailed",
	ErrDeploymentFailed: "DeploymentFailed",
	ErrInvalidEvent:     "InvalidEvent",
	ErrAnalysisTimeout:  "AnalysisTimeout",
	ErrAlreadyRunning:   "AlreadyRunning",
	ErrCancelled:        "Cancelled",
}

// Reason returns the stable display code for a pipeline error, or "Internal"
// for anything outside the taxonomy. Raw internal errors are never shown.
func Reason(err error) string {
	for sentinel, code := range reasons {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return "Internal"
}
