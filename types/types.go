package types

import (
	"time"
)

type LifecycleManager interface {
	Start() error
	Stop() error
	IsRunning() bool
}

// OpMethod names the kind of mutation held in the offline queue.
type OpMethod string

const (
	MethodCreate        OpMethod = "CREATE"
	MethodUpdate        OpMethod = "UPDATE"
	MethodDelete        OpMethod = "DELETE"
	MethodPartialUpdate OpMethod = "PARTIAL_UPDATE"
)

// HTTPVerb maps an operation method onto the wire verb it replays with.
func (m OpMethod) HTTPVerb() (string, error) {
	switch m {
	case MethodCreate:
		return "POST", nil
	case MethodUpdate:
		return "PUT", nil
	case MethodDelete:
		return "DELETE", nil
	case MethodPartialUpdate:
		return "PATCH", nil
	}
	return "", Errorf(ErrMethodUnknown, "method: %s", string(m))
}

// OpMethodForVerb is the inverse of HTTPVerb, used when a deferred call is
// recorded into the queue.
func OpMethodForVerb(verb string) (OpMethod, error) {
	switch verb {
	case "POST":
		return MethodCreate, nil
	case "PUT":
		return MethodUpdate, nil
	case "DELETE":
		return MethodDelete, nil
	case "PATCH":
		return MethodPartialUpdate, nil
	}
	return "", Errorf(ErrMethodUnknown, "verb: %s", verb)
}

// QueuedOperation is one pending mutation awaiting replay. Instances are
// owned by the offline queue; callers hold them transiently.
type QueuedOperation struct {
	ID         string   `json:"id"`
	Method     OpMethod `json:"method"`
	Target     string   `json:"target"`
	Payload    []byte   `json:"payload,omitempty"`
	EnqueuedAt int64    `json:"enqueued_at"`
}

// Result is the uniform outcome of an engine operation. A write deferred to
// the offline queue reports Queued=true with the generated operation id and
// carries no remote response.
type Result struct {
	StatusCode  int    `json:"status_code"`
	Body        []byte `json:"body,omitempty"`
	FromCache   bool   `json:"from_cache"`
	Queued      bool   `json:"queued"`
	OperationID string `json:"operation_id,omitempty"`
}

// SyncResult reports the outcome of replaying one queued operation.
type SyncResult struct {
	Operation QueuedOperation `json:"operation"`
	Response  *Result         `json:"response,omitempty"`
	Err       error           `json:"-"`
}

func (r SyncResult) Succeeded() bool {
	return r.Err == nil
}

// Identity is the claim set derived from the access token payload.
type Identity struct {
	Subject  string `json:"sub"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	IsAdmin  bool   `json:"is_admin,omitempty"`
}

// Session is the persisted credential pair plus its derived state.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Identity     Identity  `json:"identity"`
}

// Status is a point-in-time snapshot of the client's health surface.
type Status struct {
	Running       bool `json:"running"`
	Reachable     bool `json:"reachable"`
	SessionValid  bool `json:"session_valid"`
	PendingOps    int  `json:"pending_ops"`
	CachedEntries int  `json:"cached_entries"`
}
