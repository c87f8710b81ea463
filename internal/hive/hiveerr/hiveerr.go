// Package hiveerr defines the stable error taxonomy shared by the service
// layer and the HTTP boundary: every service operation that can fail
// returns an *Error carrying one of the stable keys from the external API
// contract, never a bare error that would leak implementation detail.
package hiveerr

import "fmt"

// Error is the typed error every service operation returns on failure. It
// carries a stable key (rendered verbatim in the JSON envelope), the HTTP
// status the boundary should use, and optional structured context.
type Error struct {
	Key     string
	Status  int
	Context map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Key, e.cause)
	}
	return e.Key
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error with the given stable key and status.
func New(key string, status int) *Error {
	return &Error{Key: key, Status: status}
}

// Wrap attaches cause to a new Error for internal logging, without leaking
// cause's message to the client.
func Wrap(key string, status int, cause error) *Error {
	return &Error{Key: key, Status: status, cause: cause}
}

// WithContext returns a copy of e with context merged in.
func (e *Error) WithContext(ctx map[string]any) *Error {
	merged := make(map[string]any, len(e.Context)+len(ctx))
	for k, v := range e.Context {
		merged[k] = v
	}
	for k, v := range ctx {
		merged[k] = v
	}
	return &Error{Key: e.Key, Status: e.Status, Context: merged, cause: e.cause}
}

// Stable keys from the external API contract (§4.4).
const (
	KeyDB                              = "db"
	KeyPipeline                        = "pipeline"
	KeySelfPreservation                = "self-preservation"
	KeyForbidden                       = "forbidden"
	KeyGroupForbidden                  = "group.forbidden"
	KeySystemUnknown                   = "system.unknown"
	KeySystemIDDuplicate               = "system.id.duplicate"
	KeyAPITokenUnknown                 = "api-token.unknown"
	KeyAPITokenDescriptionAmbiguous    = "api-token.description.ambiguous-in-system"
	KeyPermissionUnknown               = "permission.unknown"
	KeyPermissionIDDuplicateInSystem   = "permission.id.duplicate-in-system"
	KeyPermissionAssignmentDuplicate   = "permission.assignment.duplicate"
	KeyPermissionAssignmentScopeMiss   = "permission.assignment.scope.missing"
	KeyPermissionAssignmentScopeExtra  = "permission.assignment.scope.extraneous"
	KeyTagUnknown                      = "tag.unknown"
	KeyTagIDDuplicateInSystem          = "tag.id.duplicate-in-system"
	KeyGroupUnknown                    = "group.unknown"
	KeyGroupKeyDuplicate               = "group.key.duplicate"
	KeyGroupAddSubgroupInvalid         = "group.add.subgroup.invalid"
	KeyGroupAddSubgroupDuplicate       = "group.add.subgroup.duplicate"
	KeyGroupAddMembershipRedundant     = "group.add.membership.redundant"
	KeyAPIPathUnknown                  = "api.path.unknown"
	KeyAPIUnauthorized                 = "api.unauthorized"
	KeyAPIError                        = "api.error"
)

// fixedStatus maps the handful of exact keys whose status doesn't follow
// StatusFor's default 400 (or 409 for duplicate-shaped keys).
var fixedStatus = map[string]int{
	KeyDB:                 500,
	KeyPipeline:           500,
	KeySelfPreservation:   451,
	KeyForbidden:          403,
	KeyGroupForbidden:     403,
	KeyAPIUnauthorized:    401,
	KeyAPIPathUnknown:     404,
	KeySystemUnknown:      404,
	KeyAPITokenUnknown:    404,
	KeyPermissionUnknown:  404,
	KeyTagUnknown:         404,
	KeyGroupUnknown:       404,
}

// StatusFor returns the HTTP status associated with a stable key, per the
// error-handling taxonomy in §7. Defaults to 400 for unrecognized
// validation-shaped keys, 409 for duplicate-shaped keys.
func StatusFor(key string) int {
	if s, ok := fixedStatus[key]; ok {
		return s
	}
	if isDuplicateKey(key) {
		return 409
	}
	return 400
}

func isDuplicateKey(key string) bool {
	for _, suffix := range []string{".duplicate", ".duplicate-in-system", ".ambiguous-in-system"} {
		if len(key) >= len(suffix) && key[len(key)-len(suffix):] == suffix {
			return true
		}
	}
	return false
}

// ForKey constructs an Error using StatusFor to pick the status.
func ForKey(key string) *Error {
	return New(key, StatusFor(key))
}
