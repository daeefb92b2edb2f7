package control

import "strings"

// QuotaErrorCode enumerates the AllocateQuota failure reasons the
// backend can signal, following
// endpoints_management/control/quota_request.py's
// _QUOTA_ERROR_CONVERSION table.
type QuotaErrorCode int

const (
	QuotaErrorUnspecified QuotaErrorCode = iota
	QuotaErrorResourceExhausted
	QuotaErrorBillingNotActive
	QuotaErrorProjectDeleted
	QuotaErrorAPIKeyInvalid
	QuotaErrorAPIKeyExpired
	QuotaErrorAPIKeyNotFound
	QuotaErrorProjectStatusUnavailable
	QuotaErrorServiceStatusUnavailable
	QuotaErrorBillingStatusUnavailable
	QuotaErrorQuotaSystemUnavailable
)

// QuotaError is a single AllocateQuota failure reason, with a subject
// identifying what ran out (typically "project:<id>") and a
// human-readable description.
type QuotaError struct {
	Code        QuotaErrorCode
	Subject     string
	Description string
}

// quotaErrorConversion describes how a QuotaErrorCode maps onto an HTTP
// status and a message template. Placeholders {project_id} and {detail}
// are substituted only when present in the template.
type quotaErrorConversion struct {
	httpStatus int
	template   string
	failOpen   bool
}

var quotaErrorConversions = map[QuotaErrorCode]quotaErrorConversion{
	QuotaErrorUnspecified: {
		httpStatus: 200,
		template:   "",
		failOpen:   true,
	},
	QuotaErrorResourceExhausted: {
		httpStatus: 429,
		template:   "Insufficient quota for project '{project_id}': {detail}",
	},
	QuotaErrorBillingNotActive: {
		httpStatus: 403,
		template:   "Billing is not active for project '{project_id}'",
	},
	QuotaErrorProjectDeleted: {
		httpStatus: 403,
		template:   "Project '{project_id}' has been deleted",
	},
	QuotaErrorAPIKeyInvalid: {
		httpStatus: 400,
		template:   "API key not valid: {detail}",
	},
	QuotaErrorAPIKeyExpired: {
		httpStatus: 400,
		template:   "API key expired",
	},
	QuotaErrorAPIKeyNotFound: {
		httpStatus: 400,
		template:   "API key not found",
	},
	QuotaErrorProjectStatusUnavailable: {
		httpStatus: 200,
		template:   "",
		failOpen:   true,
	},
	QuotaErrorServiceStatusUnavailable: {
		httpStatus: 200,
		template:   "",
		failOpen:   true,
	},
	QuotaErrorBillingStatusUnavailable: {
		httpStatus: 200,
		template:   "",
		failOpen:   true,
	},
	QuotaErrorQuotaSystemUnavailable: {
		httpStatus: 200,
		template:   "",
		failOpen:   true,
	},
}

// HTTPStatus returns the HTTP status this error code should be mapped
// onto, and whether this is a "fail open" code that the caller should
// treat as a transparent success carrying no message.
func (c QuotaErrorCode) HTTPStatus() (status int, failOpen bool) {
	conv, ok := quotaErrorConversions[c]
	if !ok {
		return 200, true
	}
	return conv.httpStatus, conv.failOpen
}

// Message renders this error's template, substituting {project_id} and
// {detail} only where the template names them.
func (e QuotaError) Message(projectID string) string {
	conv, ok := quotaErrorConversions[e.Code]
	if !ok || conv.template == "" {
		return ""
	}
	msg := conv.template
	if strings.Contains(msg, "{project_id}") {
		msg = strings.ReplaceAll(msg, "{project_id}", projectID)
	}
	if strings.Contains(msg, "{detail}") {
		msg = strings.ReplaceAll(msg, "{detail}", e.Description)
	}
	return msg
}
