package tenant

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind classifies tenancy failures. Callers branch on the kind, never on
// message text.
type Kind string

const (
	KindIdentifierMissing       Kind = "identifier_missing"
	KindTenantNotFound          Kind = "tenant_not_found"
	KindTenantNotActive         Kind = "tenant_not_active"
	KindConnectionBuildFailed   Kind = "connection_build_failed"
	KindAlreadyProvisioning     Kind = "already_provisioning"
	KindProvisioningStepFailed  Kind = "provisioning_step_failed"
	KindDirectoryUpdateConflict Kind = "directory_update_conflict"
	KindInvalidTransition       Kind = "invalid_transition"
	KindInvalidRecord           Kind = "invalid_record"
	KindInvalidState            Kind = "invalid_state"
)

// Step names a provisioning step.
type Step string

const (
	StepLock        Step = "lock"
	StepAllocate    Step = "allocate"
	StepApplySchema Step = "apply_schema"
	StepSeed        Step = "seed"
	StepStorage     Step = "storage"
	StepActivate    Step = "activate"
)

// Error is the typed failure returned across the tenancy packages.
// Only the fields relevant to Kind are populated.
type Error struct {
	Kind       Kind
	TenantID   uuid.UUID
	Identifier string
	State      State
	Target     State
	Step       Step
	Err        error
}

// Sentinels for errors.Is. Matching is by Kind; a sentinel with a Step only
// matches failures of that step.
var (
	ErrIdentifierMissing       = &Error{Kind: KindIdentifierMissing}
	ErrTenantNotFound          = &Error{Kind: KindTenantNotFound}
	ErrTenantNotActive         = &Error{Kind: KindTenantNotActive}
	ErrConnectionBuildFailed   = &Error{Kind: KindConnectionBuildFailed}
	ErrAlreadyProvisioning     = &Error{Kind: KindAlreadyProvisioning}
	ErrProvisioningStepFailed  = &Error{Kind: KindProvisioningStepFailed}
	ErrDirectoryUpdateConflict = &Error{Kind: KindDirectoryUpdateConflict}
	ErrInvalidTransition       = &Error{Kind: KindInvalidTransition}
	ErrInvalidRecord           = &Error{Kind: KindInvalidRecord}
)

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Identifier != "" {
		fmt.Fprintf(&b, " identifier=%q", e.Identifier)
	}
	if e.TenantID != uuid.Nil {
		fmt.Fprintf(&b, " tenant=%s", e.TenantID)
	}
	if e.State != "" {
		fmt.Fprintf(&b, " state=%s", e.State)
	}
	if e.Target != "" {
		fmt.Fprintf(&b, " target=%s", e.Target)
	}
	if e.Step != "" {
		fmt.Fprintf(&b, " step=%s", e.Step)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind (and step, when the target sets one).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Step == "" || t.Step == e.Step
}

// Retryable reports whether the same call may be repeated safely.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindConnectionBuildFailed, KindAlreadyProvisioning, KindProvisioningStepFailed, KindDirectoryUpdateConflict:
		return true
	default:
		return false
	}
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// IdentifierMissing reports a request that carried no usable tenant identifier.
func IdentifierMissing(reason string) error {
	return &Error{Kind: KindIdentifierMissing, Err: errors.New(reason)}
}

// NotFound reports an identifier with no live directory record. id may be
// uuid.Nil when no record exists at all.
func NotFound(identifier string, id uuid.UUID) error {
	return &Error{Kind: KindTenantNotFound, Identifier: identifier, TenantID: id}
}

// NotActive reports a tenant whose state does not allow serving requests.
func NotActive(identifier string, id uuid.UUID, state State) error {
	return &Error{Kind: KindTenantNotActive, Identifier: identifier, TenantID: id, State: state}
}

// BuildFailed reports that a connection handle could not be built.
func BuildFailed(id uuid.UUID, err error) error {
	return &Error{Kind: KindConnectionBuildFailed, TenantID: id, Err: err}
}

// AlreadyProvisioning reports a provisioning run already in progress.
func AlreadyProvisioning(id uuid.UUID) error {
	return &Error{Kind: KindAlreadyProvisioning, TenantID: id}
}

// StepFailed reports a failed provisioning step. Retrying provisioning is safe.
func StepFailed(id uuid.UUID, step Step, err error) error {
	return &Error{Kind: KindProvisioningStepFailed, TenantID: id, Step: step, Err: err}
}

// Conflict reports a lost compare-and-swap on a directory record.
func Conflict(id uuid.UUID) error {
	return &Error{Kind: KindDirectoryUpdateConflict, TenantID: id}
}

// InvalidTransition reports a state change the lifecycle does not allow.
func InvalidTransition(id uuid.UUID, from, to State) error {
	return &Error{Kind: KindInvalidTransition, TenantID: id, State: from, Target: to}
}

// InvalidState reports an unknown lifecycle state value.
func InvalidState(value string) error {
	return &Error{Kind: KindInvalidState, Err: fmt.Errorf("unknown lifecycle state %q", value)}
}
