// Package guard implements the background session-orchestration layer: the
// periodic, concurrency-bounded scanners that watch bound arcade accounts for
// login/logout drift, keep held lock sessions alive, re-lock protected accounts
// that go offline, and poll asynchronous upload jobs to completion.
//
// All scanners share the same discipline: read the binding store, filter
// eligible rows, fan out over a bounded batch, and re-read each row immediately
// before any mutating or notifying step so a concurrent operator command can
// suppress an action already in flight. Context cancellation is the single
// process-wide stop signal; handlers check it before every remote call and
// store write.
package guard

import (
	"context"
	"time"
)

// Status is the last known login state of a bound account. StatusUnknown means
// no baseline has been observed yet; transitions from it never notify.
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// StatusOf maps an observed online flag to a Status.
func StatusOf(online bool) Status {
	if online {
		return StatusOnline
	}
	return StatusOffline
}

// Target identifies where notifications for a binding are delivered. It is
// captured from the chat session that last enabled monitoring or locking.
type Target struct {
	Channel string
	User    string
}

// Binding is the persisted association between a chat identity and an arcade
// account. One row per owner; OwnerID is unique in the store.
type Binding struct {
	OwnerID           string
	AccountToken      string
	MonitoringEnabled bool
	LastStatus        Status
	Locked            bool
	LockSessionRef    string
	ProtectionEnabled bool
	Notify            Target
	UpdatedAt         time.Time
}

// BindingStore is the durable record store the scanners run against. All
// operations are atomic per owner. Get returns (nil, nil) when no binding
// exists for the owner.
type BindingStore interface {
	Get(ctx context.Context, ownerID string) (*Binding, error)
	ListMonitored(ctx context.Context) ([]Binding, error)
	ListLocked(ctx context.Context) ([]Binding, error)
	ListProtectedUnlocked(ctx context.Context) ([]Binding, error)

	// SetLastStatus persists the latest observed status for the owner.
	SetLastStatus(ctx context.Context, ownerID string, s Status) error
	// SetLock marks the binding locked with the given session ref and forces
	// monitoring off: a self-held session must not also be watched for drift.
	SetLock(ctx context.Context, ownerID, sessionRef string) error
	// SetLockSession replaces only the stored session ref (server-side rotation).
	SetLockSession(ctx context.Context, ownerID, sessionRef string) error
}

// MachineParams identify the virtual cabinet used for lock assert/release.
type MachineParams struct {
	PlaceID  string
	ClientID string
	RegionID string
}

// AccountStatus is the normalized result of a remote status query.
type AccountStatus struct {
	Online      bool
	DisplayName string
	Rating      int
}

// LockResult is the outcome of a remote lock assertion.
type LockResult struct {
	Success    bool
	SessionRef string
}

// JobStatus is one observation of a remote upload job.
type JobStatus struct {
	Done        bool
	Error       string
	CompletedAt *time.Time
}

// AccountService is the remote account-management API the scanners call.
type AccountService interface {
	QueryStatus(ctx context.Context, accountToken string) (*AccountStatus, error)
	AssertLock(ctx context.Context, accountToken string, params MachineParams) (*LockResult, error)
	ReleaseLock(ctx context.Context, accountToken string, params MachineParams) error
	SubmitUpload(ctx context.Context, accountToken, target string) (string, error)
	UploadJob(ctx context.Context, jobID string) (*JobStatus, error)
}

// Notifier delivers a best-effort message to a target. Failures are logged by
// implementations and never propagate into scanner control flow.
type Notifier interface {
	Send(ctx context.Context, target Target, message string) error
}
