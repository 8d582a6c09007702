package store

import "time"

// Proposal lifecycle states.
const (
	ProposalStateDraft         = "draft"
	ProposalStateInReview      = "in_review"
	ProposalStateVoting        = "voting"
	ProposalStateNeedsRevision = "needs_revision"
	ProposalStateApproved      = "approved"
	ProposalStateRejected      = "rejected"
)

// Review outcomes recorded on the proposal.
const (
	ReviewStatusApproved     = "approved"
	ReviewStatusNeedsChanges = "needs_changes"
)

// Vote choices.
const (
	VoteApprove = "approve"
	VoteReject  = "reject"
	VoteAbstain = "abstain"
)

// Member statuses.
const (
	MemberStatusPending = "pending"
	MemberStatusActive  = "active"
	MemberStatusRemoved = "removed"
)

// Invitation statuses.
const (
	InvitationPending  = "pending"
	InvitationAccepted = "accepted"
)

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Band is the collective whose members propose and vote. Quorum and approval
// are whole percentages (0-100).
type Band struct {
	ID                string
	Name              string
	Description       string
	QuorumPercentage  int
	ApprovalThreshold int
	VotingPeriodHours int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Member is a user's role-bearing membership in one band. ProposalCount and
// VotesCast are lifetime statistics.
type Member struct {
	ID            string
	BandID        string
	UserID        string
	Role          string
	Status        string
	ProposalCount int
	VotesCast     int
	JoinedAt      *time.Time
	CreatedAt     time.Time
	// Joined fields for API responses
	DisplayName string
	Email       string
}

type Invitation struct {
	ID        string
	BandID    string
	Email     string
	Role      string
	InviterID string
	Token     string
	Status    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Proposal carries the textual payload plus the governance fields. The three
// vote counters are a denormalized cache of the votes table; they are only
// ever adjusted inside the same transaction as the vote row they mirror.
type Proposal struct {
	ID               string
	BandID           string
	CreatorID        string
	Title            string
	Objective        string
	Description      string
	Rationale        string
	SuccessCriteria  string
	FinancialRequest *float64
	BudgetBreakdown  *string
	State            string
	StateChangedAt   time.Time
	VotingStartsAt   *time.Time
	VotingEndsAt     time.Time
	VotesApprove     int
	VotesReject      int
	VotesAbstain     int
	ReviewedBy       *string
	ReviewedAt       *time.Time
	ReviewFeedback   *string
	ReviewStatus     *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ProposalVersion is an immutable snapshot of a proposal's textual fields,
// numbered from 1.
type ProposalVersion struct {
	ID              string
	ProposalID      string
	VersionNumber   int
	Title           string
	Objective       string
	Description     string
	Rationale       string
	SuccessCriteria string
	ChangeReason    string
	CreatedBy       string
	CreatedAt       time.Time
}

// Vote is keyed by (proposal, member); casting again updates in place.
type Vote struct {
	ID         string
	ProposalID string
	MemberID   string
	Choice     string
	Comment    *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	// Joined field for API responses
	MemberName string
}

// ActivityEntry is one row of the captain's log. Context is schema-flexible
// JSON holding action-specific detail.
type ActivityEntry struct {
	ID         string
	BandID     string
	ActorID    string
	ActorType  string
	Action     string
	ActionPast string
	EntityType string
	EntityID   *string
	EntityName *string
	Context    map[string]any
	CreatedAt  time.Time
}

// ActivityFilter narrows a captain's log listing. Zero values mean "no
// filter"; Limit is capped by the store.
type ActivityFilter struct {
	EntityType string
	ActorID    string
	Start      *time.Time
	End        *time.Time
	Limit      int
	Offset     int
}
