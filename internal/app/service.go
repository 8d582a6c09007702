// Package app holds the governance service and its HTTP surface.
package app

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"quarterdeck/api/internal/auth"
	"quarterdeck/api/internal/authpw"
	"quarterdeck/api/internal/config"
	"quarterdeck/api/internal/rbac"
	"quarterdeck/api/internal/search"
	"quarterdeck/api/internal/store"
	"quarterdeck/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	CreateUser(context.Context, store.User) error
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)

	CreateBand(context.Context, store.Band, store.Member) error
	GetBand(context.Context, string) (store.Band, error)
	UpdateBandSettings(ctx context.Context, bandID string, quorum, approval, votingHours int) (store.Band, error)

	GetMemberByUser(ctx context.Context, bandID, userID string) (store.Member, error)
	GetMember(ctx context.Context, bandID, memberID string) (store.Member, error)
	ListMembers(context.Context, string) ([]store.Member, error)
	CountActiveMembers(context.Context, string) (int, error)
	UpdateMemberStatus(ctx context.Context, bandID, memberID, status string) (store.Member, error)
	CreateInvitation(context.Context, store.Invitation) error
	AcceptInvitation(ctx context.Context, token, userID string) (store.Member, error)

	CreateProposal(context.Context, store.Proposal) error
	GetProposal(context.Context, string) (store.Proposal, error)
	ListProposals(ctx context.Context, bandID, state string) ([]store.Proposal, error)
	UpdateProposalState(ctx context.Context, proposalID, fromState, toState string) (store.Proposal, bool, error)
	ReviewProposal(ctx context.Context, proposalID, toState, reviewStatus, reviewerID, feedback string) (store.Proposal, bool, error)
	ResubmitProposal(ctx context.Context, proposalID string, v store.ProposalVersion) (store.Proposal, store.ProposalVersion, bool, error)
	FinalizeProposal(ctx context.Context, proposalID, finalState string) (store.Proposal, bool, error)
	AdminSetProposalState(ctx context.Context, proposalID, state string) (store.Proposal, error)
	CastVote(ctx context.Context, proposalID, memberID, choice string, comment *string, now time.Time) (store.Vote, bool, error)
	ListVotes(context.Context, string) ([]store.Vote, error)
	ListProposalVersions(context.Context, string) ([]store.ProposalVersion, error)

	InsertActivity(context.Context, store.ActivityEntry) error
	ListActivity(ctx context.Context, bandID string, f store.ActivityFilter) ([]store.ActivityEntry, int, error)
	GetActivityEntry(ctx context.Context, bandID, entryID string) (store.ActivityEntry, error)

	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexProposal(p search.ProposalRecord)
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	passwords *authpw.Service
	search    searchService
	log       zerolog.Logger
}

// New wires the service. sessions may be the Postgres store itself or a
// Redis-backed store; srch may be nil when search is not configured.
func New(cfg config.Config, st dataStore, sessions sessionStore, srch searchService, logger zerolog.Logger) *Service {
	return &Service{
		cfg:       cfg,
		store:     st,
		sessions:  sessions,
		passwords: authpw.NewService(st),
		search:    srch,
		log:       logger,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ---- sessions ----

func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (Session, error) {
	user, err := s.passwords.SignUp(ctx, authpw.SignUpRequest{
		Email:       email,
		Password:    password,
		DisplayName: displayName,
	})
	if err != nil {
		return Session{}, validationError(err.Error(), nil)
	}
	s.log.Info().Str("user", user.ID).Msg("user signed up")
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.passwords.SignIn(ctx, authpw.SignInRequest{Email: email, Password: password})
	if err != nil {
		return Session{}, authenticationError("Invalid email or password")
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates the refresh token: the presented token is revoked and a
// fresh pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, authenticationError("Refresh token invalid")
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, authenticationError("Refresh token invalid")
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.DisplayName, jti, expiresAt)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ---- membership resolution ----

// resolveMember maps the session user to their membership in a band. Missing
// or inactive memberships fail closed with FORBIDDEN, never NOT_FOUND, so
// callers cannot probe which bands exist.
func (s *Service) resolveMember(ctx context.Context, bandID, userID string) (store.Member, error) {
	member, err := s.store.GetMemberByUser(ctx, bandID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Member{}, forbiddenError("Not a member of this band")
		}
		return store.Member{}, err
	}
	if member.Status != store.MemberStatusActive {
		return store.Member{}, forbiddenError("Membership is not active")
	}
	return member, nil
}

func requirePermission(member store.Member, permission rbac.Permission) error {
	if !rbac.HasPermission(rbac.Role(member.Role), permission) {
		return forbiddenError("Insufficient permissions")
	}
	return nil
}
