package executor

import "github.com/sakif/code-runner/internal/apperror"

// CodeRequiredMessage is the exact message returned for a request without code.
const CodeRequiredMessage = "Code is required"

// Validate fails fast, before any timeout budget is spent or any sandbox is
// created. The request is not modified.
func Validate(req ExecutionRequest) error {
	if req.Code == "" {
		return apperror.InvalidRequest("code", CodeRequiredMessage)
	}
	return nil
}
