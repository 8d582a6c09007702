package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"quarterdeck/api/internal/auth"
	"quarterdeck/api/internal/rbac"
	"quarterdeck/api/internal/search"
	"quarterdeck/api/internal/store"
)

type ctxKey int

const sessionKey ctxKey = iota

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        zerolog.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger zerolog.Logger) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, log: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{s.corsOrigin},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	}))
	r.Use(s.requestLogger)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)

	r.Post("/api/auth/signup", s.handleSignUp)
	r.Post("/api/auth/signin", s.handleSignIn)
	r.Post("/api/auth/refresh", s.handleRefresh)
	r.Post("/api/auth/logout", s.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)

		r.Post("/api/bands", s.handleCreateBand)
		r.Get("/api/bands/{bandID}", s.handleGetBand)
		r.Patch("/api/bands/{bandID}/settings", s.handleUpdateBandSettings)
		r.Get("/api/bands/{bandID}/members", s.handleListMembers)
		r.Patch("/api/bands/{bandID}/members/{memberID}", s.handleUpdateMemberStatus)
		r.Post("/api/bands/{bandID}/invitations", s.handleInviteMember)
		r.Post("/api/invitations/accept", s.handleAcceptInvitation)

		r.Post("/api/bands/{bandID}/proposals", s.handleCreateProposal)
		r.Get("/api/bands/{bandID}/proposals", s.handleListProposals)
		r.Get("/api/bands/{bandID}/proposals/search", s.handleSearchProposals)
		r.Get("/api/bands/{bandID}/proposals/{proposalID}", s.handleGetProposal)
		r.Post("/api/bands/{bandID}/proposals/{proposalID}/submit", s.handleSubmitProposal)
		r.Post("/api/bands/{bandID}/proposals/{proposalID}/resubmit", s.handleResubmitProposal)
		r.Post("/api/bands/{bandID}/proposals/{proposalID}/review", s.handleReviewProposal)
		r.Post("/api/bands/{bandID}/proposals/{proposalID}/votes", s.handleCastVote)
		r.Get("/api/bands/{bandID}/proposals/{proposalID}/votes", s.handleListVotes)
		r.Get("/api/bands/{bandID}/proposals/{proposalID}/versions", s.handleListVersions)
		r.Post("/api/bands/{bandID}/proposals/{proposalID}/finalize", s.handleFinalizeProposal)
		r.Patch("/api/bands/{bandID}/proposals/{proposalID}/state", s.handleAdminSetState)

		r.Get("/api/bands/{bandID}/log", s.handleListActivity)
		r.Get("/api/bands/{bandID}/log/{entryID}", s.handleGetActivityEntry)
	})

	return r
}

// ---- middleware ----

func (s *HTTPServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func (s *HTTPServer) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "AUTHENTICATION_ERROR", "Authentication required", nil)
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "AUTHENTICATION_ERROR", "Invalid or expired token", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, session)))
	})
}

func sessionFrom(r *http.Request) Session {
	session, _ := r.Context().Value(sessionKey).(Session)
	return session
}

// ---- health ----

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.service.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ok":     false,
			"status": "not_ready",
			"checks": map[string]any{"database": map[string]any{"status": "error", "error": err.Error()}},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"status": "ready",
		"checks": map[string]any{"database": map[string]any{"status": "ok"}},
	})
}

// ---- auth ----

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.SignUp(r.Context(), body.Email, body.Password, body.DisplayName)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionPayload(session))
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	session := Session{}
	if token := bearerToken(r); token != "" {
		if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
			session = parsed
		}
	}
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = decodeBody(r, &body)
	_ = s.service.Logout(r.Context(), session, body.RefreshToken)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"expiresAt":    session.ExpiresAt,
	}
}

// ---- bands ----

func (s *HTTPServer) handleCreateBand(w http.ResponseWriter, r *http.Request) {
	var input CreateBandInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	band, founder, err := s.service.CreateBand(r.Context(), sessionFrom(r), input)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"band":   bandPayload(band),
		"member": memberPayload(founder),
	})
}

func (s *HTTPServer) handleGetBand(w http.ResponseWriter, r *http.Request) {
	band, member, err := s.service.GetBand(r.Context(), sessionFrom(r), chi.URLParam(r, "bandID"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"band":   bandPayload(band),
		"member": memberPayload(member),
	})
}

func (s *HTTPServer) handleUpdateBandSettings(w http.ResponseWriter, r *http.Request) {
	var input BandSettingsInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	band, err := s.service.UpdateBandSettings(r.Context(), sessionFrom(r), chi.URLParam(r, "bandID"), input)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"band": bandPayload(band)})
}

func (s *HTTPServer) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.service.ListMembers(r.Context(), sessionFrom(r), chi.URLParam(r, "bandID"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	payload := make([]map[string]any, 0, len(members))
	for _, m := range members {
		payload = append(payload, memberPayload(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": payload})
}

func (s *HTTPServer) handleUpdateMemberStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	member, err := s.service.UpdateMemberStatus(r.Context(), sessionFrom(r),
		chi.URLParam(r, "bandID"), chi.URLParam(r, "memberID"), body.Status)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"member": memberPayload(member)})
}

func (s *HTTPServer) handleInviteMember(w http.ResponseWriter, r *http.Request) {
	var input InviteMemberInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	inv, err := s.service.InviteMember(r.Context(), sessionFrom(r), chi.URLParam(r, "bandID"), input)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"invitation": map[string]any{
			"id":        inv.ID,
			"email":     inv.Email,
			"role":      inv.Role,
			"token":     inv.Token,
			"expiresAt": inv.ExpiresAt,
		},
	})
}

func (s *HTTPServer) handleAcceptInvitation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	member, err := s.service.AcceptInvitation(r.Context(), sessionFrom(r), body.Token)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"member": memberPayload(member)})
}

// ---- proposals ----

func (s *HTTPServer) handleCreateProposal(w http.ResponseWriter, r *http.Request) {
	var input ProposalInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	proposal, err := s.service.CreateProposal(r.Context(), sessionFrom(r), chi.URLParam(r, "bandID"), input)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"proposal": proposalPayload(proposal)})
}

func (s *HTTPServer) handleListProposals(w http.ResponseWriter, r *http.Request) {
	proposals, err := s.service.ListProposals(r.Context(), sessionFrom(r),
		chi.URLParam(r, "bandID"), r.URL.Query().Get("state"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	payload := make([]map[string]any, 0, len(proposals))
	for _, p := range proposals {
		payload = append(payload, proposalPayload(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"proposals": payload})
}

func (s *HTTPServer) handleSearchProposals(w http.ResponseWriter, r *http.Request) {
	query := search.Query{
		Text:        r.URL.Query().Get("q"),
		FilterState: r.URL.Query().Get("state"),
		Limit:       queryInt(r, "limit", 20),
		Offset:      queryInt(r, "offset", 0),
	}
	resp, err := s.service.SearchProposals(r.Context(), sessionFrom(r), chi.URLParam(r, "bandID"), query)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	proposal, err := s.service.GetProposal(r.Context(), sessionFrom(r),
		chi.URLParam(r, "bandID"), chi.URLParam(r, "proposalID"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"proposal": proposalPayload(proposal)})
}

func (s *HTTPServer) handleSubmitProposal(w http.ResponseWriter, r *http.Request) {
	proposal, err := s.service.SubmitProposal(r.Context(), sessionFrom(r),
		chi.URLParam(r, "bandID"), chi.URLParam(r, "proposalID"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"proposal": proposalPayload(proposal)})
}

func (s *HTTPServer) handleResubmitProposal(w http.ResponseWriter, r *http.Request) {
	var input ResubmitInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	proposal, err := s.service.ResubmitProposal(r.Context(), sessionFrom(r),
		chi.URLParam(r, "bandID"), chi.URLParam(r, "proposalID"), input)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"proposal": proposalPayload(proposal)})
}

func (s *HTTPServer) handleReviewProposal(w http.ResponseWriter, r *http.Request) {
	var input ReviewInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	proposal, err := s.service.ReviewProposal(r.Context(), sessionFrom(r),
		chi.URLParam(r, "bandID"), chi.URLParam(r, "proposalID"), input)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"proposal": proposalPayload(proposal)})
}

func (s *HTTPServer) handleCastVote(w http.ResponseWriter, r *http.Request) {
	var input VoteInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	vote, err := s.service.CastVote(r.Context(), sessionFrom(r),
		chi.URLParam(r, "bandID"), chi.URLParam(r, "proposalID"), input)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vote": votePayload(vote)})
}

func (s *HTTPServer) handleListVotes(w http.ResponseWriter, r *http.Request) {
	votes, err := s.service.ListProposalVotes(r.Context(), sessionFrom(r),
		chi.URLParam(r, "bandID"), chi.URLParam(r, "proposalID"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	payload := make([]map[string]any, 0, len(votes))
	for _, v := range votes {
		payload = append(payload, votePayload(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"votes": payload})
}

func (s *HTTPServer) handleListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.service.ListProposalVersions(r.Context(), sessionFrom(r),
		chi.URLParam(r, "bandID"), chi.URLParam(r, "proposalID"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	payload := make([]map[string]any, 0, len(versions))
	for _, v := range versions {
		payload = append(payload, map[string]any{
			"id":              v.ID,
			"versionNumber":   v.VersionNumber,
			"title":           v.Title,
			"objective":       v.Objective,
			"description":     v.Description,
			"rationale":       v.Rationale,
			"successCriteria": v.SuccessCriteria,
			"changeReason":    v.ChangeReason,
			"createdBy":       v.CreatedBy,
			"createdAt":       v.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": payload})
}

func (s *HTTPServer) handleFinalizeProposal(w http.ResponseWriter, r *http.Request) {
	proposal, tally, err := s.service.FinalizeProposal(r.Context(), sessionFrom(r),
		chi.URLParam(r, "bandID"), chi.URLParam(r, "proposalID"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"proposal": proposalPayload(proposal),
		"results":  tally,
	})
}

func (s *HTTPServer) handleAdminSetState(w http.ResponseWriter, r *http.Request) {
	var body struct {
		State string `json:"state"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	proposal, err := s.service.AdminSetProposalState(r.Context(), sessionFrom(r),
		chi.URLParam(r, "bandID"), chi.URLParam(r, "proposalID"), body.State)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"proposal": proposalPayload(proposal)})
}

// ---- activity log ----

func (s *HTTPServer) handleListActivity(w http.ResponseWriter, r *http.Request) {
	filter := store.ActivityFilter{
		EntityType: r.URL.Query().Get("entityType"),
		ActorID:    r.URL.Query().Get("actorId"),
		Limit:      queryInt(r, "limit", 50),
		Offset:     queryInt(r, "offset", 0),
	}
	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "start must be RFC3339", nil)
			return
		}
		filter.Start = &t
	}
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "end must be RFC3339", nil)
			return
		}
		filter.End = &t
	}

	entries, total, err := s.service.ListActivity(r.Context(), sessionFrom(r), chi.URLParam(r, "bandID"), filter)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	payload := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		payload = append(payload, activityPayload(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": payload, "total": total})
}

func (s *HTTPServer) handleGetActivityEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.service.GetActivityEntry(r.Context(), sessionFrom(r),
		chi.URLParam(r, "bandID"), chi.URLParam(r, "entryID"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entry": activityPayload(entry)})
}

// ---- payload shaping ----

func bandPayload(b store.Band) map[string]any {
	return map[string]any{
		"id":                b.ID,
		"name":              b.Name,
		"description":       b.Description,
		"quorumPercentage":  b.QuorumPercentage,
		"approvalThreshold": b.ApprovalThreshold,
		"votingPeriodHours": b.VotingPeriodHours,
		"createdAt":         b.CreatedAt,
	}
}

func memberPayload(m store.Member) map[string]any {
	return map[string]any{
		"id":            m.ID,
		"bandId":        m.BandID,
		"userId":        m.UserID,
		"role":          m.Role,
		"roleName":      rbac.RoleName(rbac.Role(m.Role)),
		"status":        m.Status,
		"proposalCount": m.ProposalCount,
		"votesCast":     m.VotesCast,
		"joinedAt":      m.JoinedAt,
		"displayName":   m.DisplayName,
		"email":         m.Email,
	}
}

func proposalPayload(p store.Proposal) map[string]any {
	return map[string]any{
		"id":               p.ID,
		"bandId":           p.BandID,
		"creatorId":        p.CreatorID,
		"title":            p.Title,
		"objective":        p.Objective,
		"description":      p.Description,
		"rationale":        p.Rationale,
		"successCriteria":  p.SuccessCriteria,
		"financialRequest": p.FinancialRequest,
		"budgetBreakdown":  p.BudgetBreakdown,
		"state":            p.State,
		"stateChangedAt":   p.StateChangedAt,
		"votingStartsAt":   p.VotingStartsAt,
		"votingEndsAt":     p.VotingEndsAt,
		"votesApprove":     p.VotesApprove,
		"votesReject":      p.VotesReject,
		"votesAbstain":     p.VotesAbstain,
		"reviewedBy":       p.ReviewedBy,
		"reviewedAt":       p.ReviewedAt,
		"reviewFeedback":   p.ReviewFeedback,
		"reviewStatus":     p.ReviewStatus,
		"createdAt":        p.CreatedAt,
		"updatedAt":        p.UpdatedAt,
	}
}

func votePayload(v store.Vote) map[string]any {
	return map[string]any{
		"id":         v.ID,
		"proposalId": v.ProposalID,
		"memberId":   v.MemberID,
		"choice":     v.Choice,
		"comment":    v.Comment,
		"memberName": v.MemberName,
		"createdAt":  v.CreatedAt,
		"updatedAt":  v.UpdatedAt,
	}
}

func activityPayload(e store.ActivityEntry) map[string]any {
	return map[string]any{
		"id":         e.ID,
		"bandId":     e.BandID,
		"actorId":    e.ActorID,
		"actorType":  e.ActorType,
		"action":     e.Action,
		"actionPast": e.ActionPast,
		"entityType": e.EntityType,
		"entityId":   e.EntityID,
		"entityName": e.EntityName,
		"context":    e.Context,
		"createdAt":  e.CreatedAt,
	}
}

// ---- helpers ----

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "AUTHENTICATION_ERROR", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR", "Server error", nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// decodeBody parses the JSON request body into target. An absent or empty
// body is fine; handlers validate required fields themselves.
func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func queryInt(r *http.Request, key string, fallback int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
