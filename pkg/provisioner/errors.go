package provisioner

import "fmt"

// ProvisioningError is raised for conditions that prevent a launch from
// proceeding. Its Reason is the exact text written into a record's
// StateDesc (with the taxonomy prefix already applied), so that FAILED
// records and raised errors carry an identical message.
type ProvisioningError struct {
	Reason string
}

func (e *ProvisioningError) Error() string { return e.Reason }

func newProvisioningError(prefix, format string, args ...any) *ProvisioningError {
	return &ProvisioningError{Reason: prefix + " " + fmt.Sprintf(format, args...)}
}

// Error taxonomy prefixes, matching the state_desc conventions the core has
// always used. A reader grepping stored state_desc values for one of these
// prefixes gets the full population of that failure class.
const (
	prefixInvalidRequest    = "INVALID_REQUEST"
	prefixDTRSLookupFailed  = "DTRS_LOOKUP_FAILED"
	prefixContextDocInvalid = "CONTEXT_DOC_INVALID"
	prefixContextCreateFail = "CONTEXT_CREATE_FAILED"
	prefixNotImplemented    = "NOT_IMPLEMENTED"
	prefixIaaSProblem       = "IAAS_PROBLEM"
	prefixNodeDisappeared   = "NODE_DISAPPEARED"
	prefixProgrammerError   = "PROGRAMMER_ERROR"
)

func errInvalidRequest(format string, args ...any) *ProvisioningError {
	return newProvisioningError(prefixInvalidRequest, format, args...)
}

func errContextDocInvalid(format string, args ...any) *ProvisioningError {
	return newProvisioningError(prefixContextDocInvalid, format, args...)
}

func errContextCreateFailed(format string, args ...any) *ProvisioningError {
	return newProvisioningError(prefixContextCreateFail, format, args...)
}

func errNotImplemented(format string, args ...any) *ProvisioningError {
	return newProvisioningError(prefixNotImplemented, format, args...)
}

func errIaaSProblem(format string, args ...any) *ProvisioningError {
	return newProvisioningError(prefixIaaSProblem, format, args...)
}

func dtrsLookupFailedDesc(reason string) string {
	return prefixDTRSLookupFailed + " " + reason
}

func programmerErrorDesc(err error) string {
	return prefixProgrammerError + " " + err.Error()
}

func nodeDisappearedDesc() string {
	return prefixNodeDisappeared
}
