package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"quarterdeck/api/internal/rbac"
	"quarterdeck/api/internal/store"
	"quarterdeck/api/internal/util"
)

// Governance defaults applied when a band is created without explicit
// settings.
const (
	defaultQuorumPercentage  = 50
	defaultApprovalThreshold = 66
	defaultVotingPeriodHours = 72
)

type CreateBandInput struct {
	Name              string `json:"name"`
	Description       string `json:"description"`
	QuorumPercentage  *int   `json:"quorumPercentage"`
	ApprovalThreshold *int   `json:"approvalThreshold"`
	VotingPeriodHours *int   `json:"votingPeriodHours"`
}

type BandSettingsInput struct {
	QuorumPercentage  *int `json:"quorumPercentage"`
	ApprovalThreshold *int `json:"approvalThreshold"`
	VotingPeriodHours *int `json:"votingPeriodHours"`
}

type InviteMemberInput struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// CreateBand creates a band with the caller as its founder. The founder
// membership is active immediately.
func (s *Service) CreateBand(ctx context.Context, session Session, input CreateBandInput) (store.Band, store.Member, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return store.Band{}, store.Member{}, validationError("Band name is required", nil)
	}

	band := store.Band{
		ID:                util.NewID("band"),
		Name:              name,
		Description:       strings.TrimSpace(input.Description),
		QuorumPercentage:  defaultQuorumPercentage,
		ApprovalThreshold: defaultApprovalThreshold,
		VotingPeriodHours: defaultVotingPeriodHours,
	}
	if input.QuorumPercentage != nil {
		band.QuorumPercentage = *input.QuorumPercentage
	}
	if input.ApprovalThreshold != nil {
		band.ApprovalThreshold = *input.ApprovalThreshold
	}
	if input.VotingPeriodHours != nil {
		band.VotingPeriodHours = *input.VotingPeriodHours
	}
	if err := validateGovernanceSettings(band.QuorumPercentage, band.ApprovalThreshold, band.VotingPeriodHours); err != nil {
		return store.Band{}, store.Member{}, err
	}

	founder := store.Member{
		ID:     util.NewID("mem"),
		BandID: band.ID,
		UserID: session.UserID,
		Role:   string(rbac.RoleFounder),
		Status: store.MemberStatusActive,
	}
	if err := s.store.CreateBand(ctx, band, founder); err != nil {
		return store.Band{}, store.Member{}, err
	}

	s.recordActivity(ctx, band.ID, founder.ID, "create", "founded", "band", strPtr(band.ID), strPtr(band.Name), nil)
	return band, founder, nil
}

func (s *Service) GetBand(ctx context.Context, session Session, bandID string) (store.Band, store.Member, error) {
	member, err := s.resolveMember(ctx, bandID, session.UserID)
	if err != nil {
		return store.Band{}, store.Member{}, err
	}
	band, err := s.store.GetBand(ctx, bandID)
	if err != nil {
		return store.Band{}, store.Member{}, err
	}
	return band, member, nil
}

// UpdateBandSettings changes quorum, threshold, or voting period. Only fields
// present in the input are changed; the before/after pairs are logged.
func (s *Service) UpdateBandSettings(ctx context.Context, session Session, bandID string, input BandSettingsInput) (store.Band, error) {
	member, err := s.resolveMember(ctx, bandID, session.UserID)
	if err != nil {
		return store.Band{}, err
	}
	if err := requirePermission(member, rbac.PermManageSettings); err != nil {
		return store.Band{}, err
	}

	current, err := s.store.GetBand(ctx, bandID)
	if err != nil {
		return store.Band{}, err
	}

	quorum := current.QuorumPercentage
	approval := current.ApprovalThreshold
	votingHours := current.VotingPeriodHours
	changes := map[string]any{}
	if input.QuorumPercentage != nil && *input.QuorumPercentage != quorum {
		changes["quorumPercentage"] = map[string]any{"from": quorum, "to": *input.QuorumPercentage}
		quorum = *input.QuorumPercentage
	}
	if input.ApprovalThreshold != nil && *input.ApprovalThreshold != approval {
		changes["approvalThreshold"] = map[string]any{"from": approval, "to": *input.ApprovalThreshold}
		approval = *input.ApprovalThreshold
	}
	if input.VotingPeriodHours != nil && *input.VotingPeriodHours != votingHours {
		changes["votingPeriodHours"] = map[string]any{"from": votingHours, "to": *input.VotingPeriodHours}
		votingHours = *input.VotingPeriodHours
	}
	if err := validateGovernanceSettings(quorum, approval, votingHours); err != nil {
		return store.Band{}, err
	}
	if len(changes) == 0 {
		return current, nil
	}

	band, err := s.store.UpdateBandSettings(ctx, bandID, quorum, approval, votingHours)
	if err != nil {
		return store.Band{}, err
	}

	s.recordActivity(ctx, bandID, member.ID, "update", "changed settings of", "band", strPtr(band.ID), strPtr(band.Name), changes)
	return band, nil
}

func validateGovernanceSettings(quorum, approval, votingHours int) error {
	if quorum < 0 || quorum > 100 {
		return validationError("quorumPercentage must be between 0 and 100", nil)
	}
	if approval < 0 || approval > 100 {
		return validationError("approvalThreshold must be between 0 and 100", nil)
	}
	if votingHours <= 0 {
		return validationError("votingPeriodHours must be positive", nil)
	}
	return nil
}

func (s *Service) ListMembers(ctx context.Context, session Session, bandID string) ([]store.Member, error) {
	if _, err := s.resolveMember(ctx, bandID, session.UserID); err != nil {
		return nil, err
	}
	return s.store.ListMembers(ctx, bandID)
}

// InviteMember creates an invitation with a single-use token. Delivery of the
// token is left to the caller; the API returns it directly.
func (s *Service) InviteMember(ctx context.Context, session Session, bandID string, input InviteMemberInput) (store.Invitation, error) {
	member, err := s.resolveMember(ctx, bandID, session.UserID)
	if err != nil {
		return store.Invitation{}, err
	}
	if err := requirePermission(member, rbac.PermManageMembers); err != nil {
		return store.Invitation{}, err
	}

	email := strings.TrimSpace(strings.ToLower(input.Email))
	if email == "" || !strings.Contains(email, "@") {
		return store.Invitation{}, validationError("A valid email is required", nil)
	}
	role := input.Role
	if role == "" {
		role = string(rbac.RoleMember)
	}
	if !rbac.IsValidRole(role) {
		return store.Invitation{}, validationError(fmt.Sprintf("Unknown role %q", role), nil)
	}

	token, err := generateInviteToken()
	if err != nil {
		return store.Invitation{}, err
	}

	inv := store.Invitation{
		ID:        util.NewID("inv"),
		BandID:    bandID,
		Email:     email,
		Role:      role,
		InviterID: member.ID,
		Token:     token,
		Status:    store.InvitationPending,
		ExpiresAt: time.Now().Add(s.cfg.InviteTTL),
	}
	if err := s.store.CreateInvitation(ctx, inv); err != nil {
		return store.Invitation{}, err
	}

	s.recordActivity(ctx, bandID, member.ID, "invite", "invited", "member", nil, strPtr(email), map[string]any{"role": role})
	return inv, nil
}

// AcceptInvitation redeems an invitation token for the session user. The
// resulting membership starts pending; a member manager activates it.
func (s *Service) AcceptInvitation(ctx context.Context, session Session, token string) (store.Member, error) {
	if strings.TrimSpace(token) == "" {
		return store.Member{}, validationError("Invitation token is required", nil)
	}

	member, err := s.store.AcceptInvitation(ctx, token, session.UserID)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyMember) {
			return store.Member{}, conflictError("Already a member of this band")
		}
		if errors.Is(err, sql.ErrNoRows) {
			return store.Member{}, notFoundError("Invitation not found or expired")
		}
		return store.Member{}, err
	}

	s.recordActivity(ctx, member.BandID, member.ID, "join", "joined", "member", strPtr(member.ID), strPtr(session.UserName), nil)
	return member, nil
}

// UpdateMemberStatus activates or removes a membership.
func (s *Service) UpdateMemberStatus(ctx context.Context, session Session, bandID, memberID, status string) (store.Member, error) {
	actor, err := s.resolveMember(ctx, bandID, session.UserID)
	if err != nil {
		return store.Member{}, err
	}
	if err := requirePermission(actor, rbac.PermManageMembers); err != nil {
		return store.Member{}, err
	}

	switch status {
	case store.MemberStatusActive, store.MemberStatusRemoved:
	default:
		return store.Member{}, validationError(fmt.Sprintf("Unknown member status %q", status), nil)
	}

	member, err := s.store.UpdateMemberStatus(ctx, bandID, memberID, status)
	if err != nil {
		return store.Member{}, err
	}

	actionPast := "activated"
	if status == store.MemberStatusRemoved {
		actionPast = "removed"
	}
	s.recordActivity(ctx, bandID, actor.ID, "update", actionPast, "member", strPtr(member.ID), strPtr(member.DisplayName), map[string]any{"status": status})
	return member, nil
}

func generateInviteToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
