package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"quarterdeck/api/internal/store"
)

// memoryStore layers stateful users, bands, and proposals over the fn-field
// fake so a whole lifecycle can run through the HTTP surface.
type memoryStore struct {
	*fakeStore
	mu        sync.Mutex
	users     map[string]store.User
	emails    map[string]string
	bands     map[string]store.Band
	members   map[string]store.Member // bandID + "/" + userID
	proposals map[string]store.Proposal
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		fakeStore: &fakeStore{},
		users:     map[string]store.User{},
		emails:    map[string]string{},
		bands:     map[string]store.Band{},
		members:   map[string]store.Member{},
		proposals: map[string]store.Proposal{},
	}
}

func (m *memoryStore) CreateUser(_ context.Context, u store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.emails[u.Email] = u.ID
	return nil
}

func (m *memoryStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.emails[email]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return m.users[id], nil
}

func (m *memoryStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (m *memoryStore) CreateBand(_ context.Context, b store.Band, founder store.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bands[b.ID] = b
	m.members[b.ID+"/"+founder.UserID] = founder
	return nil
}

func (m *memoryStore) GetBand(_ context.Context, id string) (store.Band, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bands[id]
	if !ok {
		return store.Band{}, sql.ErrNoRows
	}
	return b, nil
}

func (m *memoryStore) GetMemberByUser(_ context.Context, bandID, userID string) (store.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[bandID+"/"+userID]
	if !ok {
		return store.Member{}, sql.ErrNoRows
	}
	return member, nil
}

func (m *memoryStore) CountActiveMembers(_ context.Context, bandID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, member := range m.members {
		if member.BandID == bandID && member.Status == store.MemberStatusActive {
			count++
		}
	}
	return count, nil
}

func (m *memoryStore) CreateProposal(_ context.Context, p store.Proposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proposals[p.ID] = p
	return nil
}

func (m *memoryStore) GetProposal(_ context.Context, id string) (store.Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[id]
	if !ok {
		return store.Proposal{}, sql.ErrNoRows
	}
	return p, nil
}

func (m *memoryStore) UpdateProposalState(_ context.Context, id, from, to string) (store.Proposal, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[id]
	if !ok || p.State != from {
		return store.Proposal{}, false, nil
	}
	p.State = to
	m.proposals[id] = p
	return p, true, nil
}

func (m *memoryStore) ReviewProposal(_ context.Context, id, toState, reviewStatus, reviewerID, feedback string) (store.Proposal, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[id]
	if !ok || p.State != store.ProposalStateInReview {
		return store.Proposal{}, false, nil
	}
	p.State = toState
	p.ReviewedBy = &reviewerID
	p.ReviewStatus = &reviewStatus
	if feedback != "" {
		p.ReviewFeedback = &feedback
	}
	if toState == store.ProposalStateVoting {
		start := time.Now()
		p.VotingStartsAt = &start
	}
	m.proposals[id] = p
	return p, true, nil
}

func (m *memoryStore) FinalizeProposal(_ context.Context, id, finalState string) (store.Proposal, bool, error) {
	return m.UpdateProposalState(context.Background(), id, store.ProposalStateVoting, finalState)
}

func (m *memoryStore) CastVote(_ context.Context, proposalID, memberID, choice string, comment *string, now time.Time) (store.Vote, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[proposalID]
	if !ok || p.State != store.ProposalStateVoting || !now.Before(p.VotingEndsAt) {
		return store.Vote{}, false, store.ErrVotingClosed
	}
	switch choice {
	case store.VoteApprove:
		p.VotesApprove++
	case store.VoteReject:
		p.VotesReject++
	case store.VoteAbstain:
		p.VotesAbstain++
	}
	m.proposals[proposalID] = p
	return store.Vote{ProposalID: proposalID, MemberID: memberID, Choice: choice, Comment: comment}, true, nil
}

// closeVoting expires the voting window so a test can finalize.
func (m *memoryStore) closeVoting(proposalID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.proposals[proposalID]
	p.VotingEndsAt = time.Now().Add(-time.Minute)
	m.proposals[proposalID] = p
}

type httpHarness struct {
	t       *testing.T
	st      *memoryStore
	handler http.Handler
}

func newHTTPHarness(t *testing.T, st *memoryStore) *httpHarness {
	svc := New(testConfig(), st, newFakeSessions(), nil, zerolog.Nop())
	server := NewHTTPServer(svc, "http://localhost:3000", zerolog.Nop())
	return &httpHarness{t: t, st: st, handler: server.Handler()}
}

func (h *httpHarness) do(method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	h.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	decoded := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func (h *httpHarness) signUp(email, name string) string {
	h.t.Helper()
	rec, body := h.do(http.MethodPost, "/api/auth/signup", "", map[string]any{
		"email": email, "password": "password123", "displayName": name,
	})
	require.Equal(h.t, http.StatusCreated, rec.Code)
	token, _ := body["token"].(string)
	require.NotEmpty(h.t, token)
	return token
}

func TestHTTPHealth(t *testing.T) {
	h := newHTTPHarness(t, newMemoryStore())

	rec, body := h.do(http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, body["ok"])

	rec, body = h.do(http.MethodGet, "/api/ready", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ready", body["status"])
}

func TestHTTPAuthRequired(t *testing.T) {
	h := newHTTPHarness(t, newMemoryStore())

	rec, body := h.do(http.MethodGet, "/api/bands/band_1", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "AUTHENTICATION_ERROR", body["code"])

	rec, body = h.do(http.MethodGet, "/api/bands/band_1", "not-a-jwt", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "AUTHENTICATION_ERROR", body["code"])
}

func TestHTTPNonMemberIsForbidden(t *testing.T) {
	h := newHTTPHarness(t, newMemoryStore())
	founder := h.signUp("founder@example.com", "Founder")
	outsider := h.signUp("outsider@example.com", "Outsider")

	rec, body := h.do(http.MethodPost, "/api/bands", founder, map[string]any{"name": "The Argonauts"})
	require.Equal(t, http.StatusCreated, rec.Code)
	bandID := body["band"].(map[string]any)["id"].(string)

	rec, body = h.do(http.MethodGet, "/api/bands/"+bandID, outsider, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "FORBIDDEN", body["code"])
}

func TestHTTPProposalLifecycle(t *testing.T) {
	h := newHTTPHarness(t, newMemoryStore())
	founder := h.signUp("founder@example.com", "Founder")

	rec, body := h.do(http.MethodPost, "/api/bands", founder, map[string]any{"name": "The Argonauts"})
	require.Equal(t, http.StatusCreated, rec.Code)
	bandID := body["band"].(map[string]any)["id"].(string)
	require.Equal(t, "Founder", body["member"].(map[string]any)["roleName"])
	base := "/api/bands/" + bandID + "/proposals"

	rec, body = h.do(http.MethodPost, base, founder, map[string]any{
		"title":       "Buy a tour van",
		"objective":   "Reliable transport for the spring tour",
		"description": "A used van with under 100k miles",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	proposal := body["proposal"].(map[string]any)
	require.Equal(t, store.ProposalStateDraft, proposal["state"])
	proposalID := proposal["id"].(string)

	rec, body = h.do(http.MethodPost, base+"/"+proposalID+"/submit", founder, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, store.ProposalStateInReview, body["proposal"].(map[string]any)["state"])

	// Submitting twice conflicts
	rec, body = h.do(http.MethodPost, base+"/"+proposalID+"/submit", founder, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "CONFLICT", body["code"])

	rec, body = h.do(http.MethodPost, base+"/"+proposalID+"/review", founder, map[string]any{"decision": "approved"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, store.ProposalStateVoting, body["proposal"].(map[string]any)["state"])

	rec, body = h.do(http.MethodPost, base+"/"+proposalID+"/votes", founder, map[string]any{"choice": "approve"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "approve", body["vote"].(map[string]any)["choice"])

	// Finalizing while the window is open conflicts
	rec, body = h.do(http.MethodPost, base+"/"+proposalID+"/finalize", founder, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "CONFLICT", body["code"])

	h.st.closeVoting(proposalID)

	// Voting after the window closed is rejected
	rec, body = h.do(http.MethodPost, base+"/"+proposalID+"/votes", founder, map[string]any{"choice": "reject"})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "CONFLICT", body["code"])

	rec, body = h.do(http.MethodPost, base+"/"+proposalID+"/finalize", founder, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, store.ProposalStateApproved, body["proposal"].(map[string]any)["state"])
	results := body["results"].(map[string]any)
	require.Equal(t, true, results["quorumMet"])
	require.Equal(t, true, results["approved"])
	require.InDelta(t, 100.0, results["participation"].(float64), 0.001)

	// Finalizing twice conflicts
	rec, body = h.do(http.MethodPost, base+"/"+proposalID+"/finalize", founder, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "CONFLICT", body["code"])

	rec, body = h.do(http.MethodGet, base+"/"+proposalID, founder, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, store.ProposalStateApproved, body["proposal"].(map[string]any)["state"])
}

func TestHTTPEmptyBodyIsTolerated(t *testing.T) {
	h := newHTTPHarness(t, newMemoryStore())
	founder := h.signUp("founder@example.com", "Founder")

	rec, body := h.do(http.MethodPost, "/api/bands", founder, map[string]any{"name": "The Argonauts"})
	require.Equal(t, http.StatusCreated, rec.Code)
	bandID := body["band"].(map[string]any)["id"].(string)

	// A settings PATCH with no body is a no-op, not a decode failure.
	rec, body = h.do(http.MethodPatch, "/api/bands/"+bandID+"/settings", founder, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	band := body["band"].(map[string]any)
	require.InDelta(t, 50, band["quorumPercentage"].(float64), 0.001)
}

func TestHTTPValidationDetails(t *testing.T) {
	h := newHTTPHarness(t, newMemoryStore())
	founder := h.signUp("founder@example.com", "Founder")

	rec, body := h.do(http.MethodPost, "/api/bands", founder, map[string]any{"name": "The Argonauts"})
	require.Equal(t, http.StatusCreated, rec.Code)
	bandID := body["band"].(map[string]any)["id"].(string)

	rec, body = h.do(http.MethodPost, "/api/bands/"+bandID+"/proposals", founder, map[string]any{"title": "only a title"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "VALIDATION_ERROR", body["code"])
	fields := body["details"].(map[string]any)["fields"].([]any)
	require.Contains(t, fields, "objective")
	require.Contains(t, fields, "description")
}
