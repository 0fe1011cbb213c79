package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/goGate/blacklist"
)

// PipelineState is how far a credential got through authentication.
type PipelineState int

const (
	StateNoCredential PipelineState = iota
	StateCredentialExtracted
	StateBlacklistChecked
	StateSignatureVerified
	StateSubjectStatusVerified
	StateAuthorized
)

func (s PipelineState) String() string {
	switch s {
	case StateNoCredential:
		return "no_credential"
	case StateCredentialExtracted:
		return "credential_extracted"
	case StateBlacklistChecked:
		return "blacklist_checked"
	case StateSignatureVerified:
		return "signature_verified"
	case StateSubjectStatusVerified:
		return "subject_status_verified"
	case StateAuthorized:
		return "authorized"
	default:
		return "unknown"
	}
}

// Revocations is the blacklist as the flows use it.
type Revocations interface {
	Check(ctx context.Context, tokenID, subjectID string, issuedAt time.Time) (blacklist.Verdict, error)
	Revoke(ctx context.Context, tokenID, reason string, ttl time.Duration) error
	RevokeSubject(ctx context.Context, subjectID, reason string, at time.Time, ttl time.Duration) error
}

// SubjectView is the part of a subject record the flows need.
type SubjectView struct {
	ID     string
	Email  string
	Roles  []string
	Usable bool
}

// Blacklist reasons written by the flows.
const (
	ReasonRotated   = "rotated"
	ReasonLogout    = "logout"
	ReasonLogoutAll = "logout_all"
	ReasonReplay    = "replay"
	ReasonRevoked   = "revoked"
)
