package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"quarterdeck/api/internal/rbac"
	"quarterdeck/api/internal/search"
	"quarterdeck/api/internal/store"
	"quarterdeck/api/internal/util"
)

type ProposalInput struct {
	Title            string   `json:"title"`
	Objective        string   `json:"objective"`
	Description      string   `json:"description"`
	Rationale        string   `json:"rationale"`
	SuccessCriteria  string   `json:"successCriteria"`
	FinancialRequest *float64 `json:"financialRequest"`
	BudgetBreakdown  *string  `json:"budgetBreakdown"`
	// VotingPeriodHours overrides the band default for this proposal only.
	VotingPeriodHours *int `json:"votingPeriodHours"`
}

type ResubmitInput struct {
	ProposalInput
	ChangeReason string `json:"changeReason"`
}

type ReviewInput struct {
	Decision string `json:"decision"` // "approved" or "needs_changes"
	Feedback string `json:"feedback"`
}

type VoteInput struct {
	Choice  string  `json:"choice"`
	Comment *string `json:"comment"`
}

// TallyResult carries every intermediate of the finalization arithmetic so
// the outcome can be audited from the response alone.
type TallyResult struct {
	TotalVotes    int     `json:"totalVotes"`
	VotesApprove  int     `json:"votesApprove"`
	VotesReject   int     `json:"votesReject"`
	VotesAbstain  int     `json:"votesAbstain"`
	ActiveMembers int     `json:"activeMembers"`
	Participation float64 `json:"participation"`
	QuorumMet     bool    `json:"quorumMet"`
	ApprovalRate  float64 `json:"approvalRate"`
	Approved      bool    `json:"approved"`
	FinalState    string  `json:"finalState"`
}

func validateProposalInput(input ProposalInput) error {
	missing := []string{}
	if strings.TrimSpace(input.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(input.Objective) == "" {
		missing = append(missing, "objective")
	}
	if strings.TrimSpace(input.Description) == "" {
		missing = append(missing, "description")
	}
	if len(missing) > 0 {
		return validationError("Missing required fields", map[string]any{"fields": missing})
	}
	if input.FinancialRequest != nil && *input.FinancialRequest < 0 {
		return validationError("financialRequest cannot be negative", nil)
	}
	if input.VotingPeriodHours != nil && *input.VotingPeriodHours <= 0 {
		return validationError("votingPeriodHours must be positive", nil)
	}
	return nil
}

// CreateProposal creates a draft. The voting deadline is fixed here, from
// the proposal's own period when given or the band default; review never
// moves it.
func (s *Service) CreateProposal(ctx context.Context, session Session, bandID string, input ProposalInput) (store.Proposal, error) {
	member, err := s.resolveMember(ctx, bandID, session.UserID)
	if err != nil {
		return store.Proposal{}, err
	}
	if err := requirePermission(member, rbac.PermCreateProposals); err != nil {
		return store.Proposal{}, err
	}
	if err := validateProposalInput(input); err != nil {
		return store.Proposal{}, err
	}

	band, err := s.store.GetBand(ctx, bandID)
	if err != nil {
		return store.Proposal{}, err
	}
	votingHours := band.VotingPeriodHours
	if input.VotingPeriodHours != nil {
		votingHours = *input.VotingPeriodHours
	}

	proposal := store.Proposal{
		ID:               util.NewID("prop"),
		BandID:           bandID,
		CreatorID:        member.ID,
		Title:            strings.TrimSpace(input.Title),
		Objective:        strings.TrimSpace(input.Objective),
		Description:      input.Description,
		Rationale:        input.Rationale,
		SuccessCriteria:  input.SuccessCriteria,
		FinancialRequest: input.FinancialRequest,
		BudgetBreakdown:  input.BudgetBreakdown,
		State:            store.ProposalStateDraft,
		VotingEndsAt:     time.Now().Add(time.Duration(votingHours) * time.Hour),
	}
	if err := s.store.CreateProposal(ctx, proposal); err != nil {
		return store.Proposal{}, err
	}

	created, err := s.store.GetProposal(ctx, proposal.ID)
	if err != nil {
		return store.Proposal{}, err
	}

	s.indexProposal(created)
	s.recordActivity(ctx, bandID, member.ID, "create", "drafted", "proposal", strPtr(created.ID), strPtr(created.Title), nil)
	return created, nil
}

func (s *Service) ListProposals(ctx context.Context, session Session, bandID, state string) ([]store.Proposal, error) {
	if _, err := s.resolveMember(ctx, bandID, session.UserID); err != nil {
		return nil, err
	}
	if state != "" && !validProposalState(state) {
		return nil, validationError(fmt.Sprintf("Unknown proposal state %q", state), nil)
	}
	return s.store.ListProposals(ctx, bandID, state)
}

func (s *Service) GetProposal(ctx context.Context, session Session, bandID, proposalID string) (store.Proposal, error) {
	if _, err := s.resolveMember(ctx, bandID, session.UserID); err != nil {
		return store.Proposal{}, err
	}
	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return store.Proposal{}, err
	}
	if proposal.BandID != bandID {
		return store.Proposal{}, notFoundError("Proposal not found")
	}
	return proposal, nil
}

// SubmitProposal moves a draft into review. Only the creator may submit, and
// they must still hold the create permission at submit time.
func (s *Service) SubmitProposal(ctx context.Context, session Session, bandID, proposalID string) (store.Proposal, error) {
	member, proposal, err := s.memberAndProposal(ctx, session, bandID, proposalID)
	if err != nil {
		return store.Proposal{}, err
	}
	if err := requirePermission(member, rbac.PermCreateProposals); err != nil {
		return store.Proposal{}, err
	}
	if proposal.CreatorID != member.ID {
		return store.Proposal{}, forbiddenError("Only the creator can submit a proposal")
	}

	updated, changed, err := s.store.UpdateProposalState(ctx, proposalID, store.ProposalStateDraft, store.ProposalStateInReview)
	if err != nil {
		return store.Proposal{}, err
	}
	if !changed {
		return store.Proposal{}, conflictError(fmt.Sprintf("Proposal is not in draft (currently %s)", proposal.State))
	}

	s.recordActivity(ctx, bandID, member.ID, "submit", "submitted", "proposal", strPtr(updated.ID), strPtr(updated.Title), nil)
	return updated, nil
}

// ResubmitProposal rewrites the content of a proposal sent back for changes,
// snapshots a new version, and returns it to review. The rewrite, the
// snapshot, and the transition commit together or not at all.
func (s *Service) ResubmitProposal(ctx context.Context, session Session, bandID, proposalID string, input ResubmitInput) (store.Proposal, error) {
	member, proposal, err := s.memberAndProposal(ctx, session, bandID, proposalID)
	if err != nil {
		return store.Proposal{}, err
	}
	if err := requirePermission(member, rbac.PermCreateProposals); err != nil {
		return store.Proposal{}, err
	}
	if proposal.CreatorID != member.ID {
		return store.Proposal{}, forbiddenError("Only the creator can resubmit a proposal")
	}
	if err := validateProposalInput(input.ProposalInput); err != nil {
		return store.Proposal{}, err
	}

	changeReason := strings.TrimSpace(input.ChangeReason)
	if changeReason == "" {
		changeReason = "Revised after review"
	}
	updated, version, changed, err := s.store.ResubmitProposal(ctx, proposalID, store.ProposalVersion{
		ProposalID:      proposalID,
		Title:           strings.TrimSpace(input.Title),
		Objective:       strings.TrimSpace(input.Objective),
		Description:     input.Description,
		Rationale:       input.Rationale,
		SuccessCriteria: input.SuccessCriteria,
		ChangeReason:    changeReason,
		CreatedBy:       member.ID,
	})
	if err != nil {
		return store.Proposal{}, err
	}
	if !changed {
		return store.Proposal{}, conflictError(fmt.Sprintf("Proposal is not awaiting revision (currently %s)", proposal.State))
	}

	s.indexProposal(updated)
	s.recordActivity(ctx, bandID, member.ID, "resubmit", "resubmitted", "proposal",
		strPtr(updated.ID), strPtr(updated.Title), map[string]any{"version": version.VersionNumber})
	return updated, nil
}

// ReviewProposal records the review outcome. Approval opens voting against
// the deadline fixed at creation; needs_changes sends the proposal back to
// its creator.
func (s *Service) ReviewProposal(ctx context.Context, session Session, bandID, proposalID string, input ReviewInput) (store.Proposal, error) {
	member, proposal, err := s.memberAndProposal(ctx, session, bandID, proposalID)
	if err != nil {
		return store.Proposal{}, err
	}
	if err := requirePermission(member, rbac.PermApproveProposals); err != nil {
		return store.Proposal{}, err
	}

	var toState string
	switch input.Decision {
	case store.ReviewStatusApproved:
		toState = store.ProposalStateVoting
	case store.ReviewStatusNeedsChanges:
		toState = store.ProposalStateNeedsRevision
		if strings.TrimSpace(input.Feedback) == "" {
			return store.Proposal{}, validationError("Feedback is required when requesting changes", nil)
		}
	default:
		return store.Proposal{}, validationError(fmt.Sprintf("Unknown review decision %q", input.Decision), nil)
	}

	updated, changed, err := s.store.ReviewProposal(ctx, proposalID, toState, input.Decision, member.ID, input.Feedback)
	if err != nil {
		return store.Proposal{}, err
	}
	if !changed {
		return store.Proposal{}, conflictError(fmt.Sprintf("Proposal is not in review (currently %s)", proposal.State))
	}

	s.indexProposal(updated)
	actionPast := "approved for voting"
	if toState == store.ProposalStateNeedsRevision {
		actionPast = "sent back for changes"
	}
	s.recordActivity(ctx, bandID, member.ID, "review", actionPast, "proposal",
		strPtr(updated.ID), strPtr(updated.Title), map[string]any{"decision": input.Decision})
	return updated, nil
}

// CastVote records or recasts the member's vote. All counter movement
// happens inside the store transaction; a racing finalize surfaces here as a
// conflict.
func (s *Service) CastVote(ctx context.Context, session Session, bandID, proposalID string, input VoteInput) (store.Vote, error) {
	member, proposal, err := s.memberAndProposal(ctx, session, bandID, proposalID)
	if err != nil {
		return store.Vote{}, err
	}
	if err := requirePermission(member, rbac.PermVoteProposals); err != nil {
		return store.Vote{}, err
	}
	switch input.Choice {
	case store.VoteApprove, store.VoteReject, store.VoteAbstain:
	default:
		return store.Vote{}, validationError(fmt.Sprintf("Unknown vote choice %q", input.Choice), nil)
	}

	vote, created, err := s.store.CastVote(ctx, proposalID, member.ID, input.Choice, input.Comment, time.Now())
	if err != nil {
		if errors.Is(err, store.ErrVotingClosed) {
			return store.Vote{}, conflictError("Voting is closed for this proposal")
		}
		return store.Vote{}, err
	}

	action := "vote"
	actionPast := fmt.Sprintf("voted '%s' on", input.Choice)
	if !created {
		actionPast = fmt.Sprintf("changed vote to '%s' on", input.Choice)
	}
	s.recordActivity(ctx, bandID, member.ID, action, actionPast, "proposal",
		strPtr(proposal.ID), strPtr(proposal.Title), nil)
	return vote, nil
}

// FinalizeProposal tallies the vote once the window has closed. Quorum is
// measured against the active membership at finalize time. Any active member
// may trigger it; the arithmetic is deterministic so it does not matter who.
func (s *Service) FinalizeProposal(ctx context.Context, session Session, bandID, proposalID string) (store.Proposal, TallyResult, error) {
	member, proposal, err := s.memberAndProposal(ctx, session, bandID, proposalID)
	if err != nil {
		return store.Proposal{}, TallyResult{}, err
	}
	if proposal.State != store.ProposalStateVoting {
		return store.Proposal{}, TallyResult{}, conflictError(fmt.Sprintf("Proposal is not in voting (currently %s)", proposal.State))
	}
	if time.Now().Before(proposal.VotingEndsAt) {
		return store.Proposal{}, TallyResult{}, conflictError("Voting period has not ended")
	}

	band, err := s.store.GetBand(ctx, bandID)
	if err != nil {
		return store.Proposal{}, TallyResult{}, err
	}
	activeMembers, err := s.store.CountActiveMembers(ctx, bandID)
	if err != nil {
		return store.Proposal{}, TallyResult{}, err
	}
	if activeMembers == 0 {
		return store.Proposal{}, TallyResult{}, validationError("Band has no active members to measure quorum against", nil)
	}

	tally := computeTally(proposal, activeMembers, band.QuorumPercentage, band.ApprovalThreshold)

	updated, changed, err := s.store.FinalizeProposal(ctx, proposalID, tally.FinalState)
	if err != nil {
		return store.Proposal{}, TallyResult{}, err
	}
	if !changed {
		return store.Proposal{}, TallyResult{}, conflictError("Proposal was already finalized")
	}

	s.indexProposal(updated)
	s.recordActivity(ctx, bandID, member.ID, "finalize", fmt.Sprintf("finalized as %s", tally.FinalState), "proposal",
		strPtr(updated.ID), strPtr(updated.Title), map[string]any{
			"totalVotes":    tally.TotalVotes,
			"activeMembers": tally.ActiveMembers,
			"participation": tally.Participation,
			"quorumMet":     tally.QuorumMet,
			"approvalRate":  tally.ApprovalRate,
		})
	return updated, tally, nil
}

// computeTally is the whole finalization arithmetic. Abstentions count
// toward quorum but not toward the approval rate's numerator.
func computeTally(p store.Proposal, activeMembers, quorumPercentage, approvalThreshold int) TallyResult {
	totalVotes := p.VotesApprove + p.VotesReject + p.VotesAbstain
	participation := float64(totalVotes) / float64(activeMembers) * 100
	quorumMet := participation >= float64(quorumPercentage)

	approvalRate := 0.0
	if totalVotes > 0 {
		approvalRate = float64(p.VotesApprove) / float64(totalVotes) * 100
	}

	approved := quorumMet && approvalRate >= float64(approvalThreshold)
	finalState := store.ProposalStateRejected
	if approved {
		finalState = store.ProposalStateApproved
	}

	return TallyResult{
		TotalVotes:    totalVotes,
		VotesApprove:  p.VotesApprove,
		VotesReject:   p.VotesReject,
		VotesAbstain:  p.VotesAbstain,
		ActiveMembers: activeMembers,
		Participation: participation,
		QuorumMet:     quorumMet,
		ApprovalRate:  approvalRate,
		Approved:      approved,
		FinalState:    finalState,
	}
}

// AdminSetProposalState force-moves a proposal to any state, bypassing the
// transition guards. Restricted to settings managers and always logged.
func (s *Service) AdminSetProposalState(ctx context.Context, session Session, bandID, proposalID, state string) (store.Proposal, error) {
	member, proposal, err := s.memberAndProposal(ctx, session, bandID, proposalID)
	if err != nil {
		return store.Proposal{}, err
	}
	if err := requirePermission(member, rbac.PermManageSettings); err != nil {
		return store.Proposal{}, err
	}
	if !validProposalState(state) {
		return store.Proposal{}, validationError(fmt.Sprintf("Unknown proposal state %q", state), nil)
	}

	updated, err := s.store.AdminSetProposalState(ctx, proposalID, state)
	if err != nil {
		return store.Proposal{}, err
	}

	s.indexProposal(updated)
	s.recordActivity(ctx, bandID, member.ID, "admin", fmt.Sprintf("forced state to %s on", state), "proposal",
		strPtr(updated.ID), strPtr(updated.Title), map[string]any{"from": proposal.State, "to": state})
	return updated, nil
}

func (s *Service) ListProposalVotes(ctx context.Context, session Session, bandID, proposalID string) ([]store.Vote, error) {
	if _, _, err := s.memberAndProposal(ctx, session, bandID, proposalID); err != nil {
		return nil, err
	}
	return s.store.ListVotes(ctx, proposalID)
}

func (s *Service) ListProposalVersions(ctx context.Context, session Session, bandID, proposalID string) ([]store.ProposalVersion, error) {
	if _, _, err := s.memberAndProposal(ctx, session, bandID, proposalID); err != nil {
		return nil, err
	}
	return s.store.ListProposalVersions(ctx, proposalID)
}

// SearchProposals runs a full-text query scoped to the caller's band.
func (s *Service) SearchProposals(ctx context.Context, session Session, bandID string, q search.Query) (search.Response, error) {
	if _, err := s.resolveMember(ctx, bandID, session.UserID); err != nil {
		return search.Response{}, err
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	q.FilterBandID = bandID
	if q.FilterState != "" && !validProposalState(q.FilterState) {
		return search.Response{}, validationError(fmt.Sprintf("Unknown proposal state %q", q.FilterState), nil)
	}
	return s.search.Search(q), nil
}

// ---- activity log ----

func (s *Service) ListActivity(ctx context.Context, session Session, bandID string, filter store.ActivityFilter) ([]store.ActivityEntry, int, error) {
	if _, err := s.resolveMember(ctx, bandID, session.UserID); err != nil {
		return nil, 0, err
	}
	return s.store.ListActivity(ctx, bandID, filter)
}

func (s *Service) GetActivityEntry(ctx context.Context, session Session, bandID, entryID string) (store.ActivityEntry, error) {
	if _, err := s.resolveMember(ctx, bandID, session.UserID); err != nil {
		return store.ActivityEntry{}, err
	}
	return s.store.GetActivityEntry(ctx, bandID, entryID)
}

// ---- helpers ----

func (s *Service) memberAndProposal(ctx context.Context, session Session, bandID, proposalID string) (store.Member, store.Proposal, error) {
	member, err := s.resolveMember(ctx, bandID, session.UserID)
	if err != nil {
		return store.Member{}, store.Proposal{}, err
	}
	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return store.Member{}, store.Proposal{}, err
	}
	if proposal.BandID != bandID {
		return store.Member{}, store.Proposal{}, notFoundError("Proposal not found")
	}
	return member, proposal, nil
}

func (s *Service) indexProposal(p store.Proposal) {
	if s.search == nil {
		return
	}
	s.search.IndexProposal(search.ProposalRecord{
		ID:          p.ID,
		Title:       p.Title,
		Objective:   p.Objective,
		Description: p.Description,
		Rationale:   p.Rationale,
		BandID:      p.BandID,
		State:       p.State,
	})
}

func validProposalState(state string) bool {
	switch state {
	case store.ProposalStateDraft, store.ProposalStateInReview, store.ProposalStateVoting,
		store.ProposalStateNeedsRevision, store.ProposalStateApproved, store.ProposalStateRejected:
		return true
	}
	return false
}
