package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"quarterdeck/api/internal/util"
)

const proposalColumns = `
	id, band_id, creator_id, title, objective, description, rationale, success_criteria,
	financial_request, budget_breakdown, state, state_changed_at, voting_starts_at,
	voting_ends_at, votes_approve, votes_reject, votes_abstain,
	reviewed_by, reviewed_at, review_feedback, review_status, created_at, updated_at
`

func scanProposal(row interface{ Scan(...any) error }) (Proposal, error) {
	var p Proposal
	err := row.Scan(&p.ID, &p.BandID, &p.CreatorID, &p.Title, &p.Objective, &p.Description,
		&p.Rationale, &p.SuccessCriteria, &p.FinancialRequest, &p.BudgetBreakdown,
		&p.State, &p.StateChangedAt, &p.VotingStartsAt, &p.VotingEndsAt,
		&p.VotesApprove, &p.VotesReject, &p.VotesAbstain,
		&p.ReviewedBy, &p.ReviewedAt, &p.ReviewFeedback, &p.ReviewStatus,
		&p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// voteColumn maps a vote choice to its denormalized counter column. Choices
// are validated upstream; anything else is a programming error.
func voteColumn(choice string) (string, error) {
	switch choice {
	case VoteApprove:
		return "votes_approve", nil
	case VoteReject:
		return "votes_reject", nil
	case VoteAbstain:
		return "votes_abstain", nil
	default:
		return "", fmt.Errorf("unknown vote choice %q", choice)
	}
}

// CreateProposal inserts the proposal, its initial version and the creator's
// stat bump in one transaction.
func (s *PostgresStore) CreateProposal(ctx context.Context, p Proposal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create proposal: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO proposals (
			id, band_id, creator_id, title, objective, description, rationale, success_criteria,
			financial_request, budget_breakdown, state, voting_ends_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, p.ID, p.BandID, p.CreatorID, p.Title, p.Objective, p.Description, p.Rationale,
		p.SuccessCriteria, p.FinancialRequest, p.BudgetBreakdown, ProposalStateDraft, p.VotingEndsAt); err != nil {
		return fmt.Errorf("insert proposal: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO proposal_versions (
			id, proposal_id, version_number, title, objective, description, rationale, success_criteria,
			change_reason, created_by
		) VALUES ($1, $2, 1, $3, $4, $5, $6, $7, 'Initial version', $8)
	`, util.NewID("pv"), p.ID, p.Title, p.Objective, p.Description, p.Rationale,
		p.SuccessCriteria, p.CreatorID); err != nil {
		return fmt.Errorf("insert proposal version: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE members SET proposal_count = proposal_count + 1 WHERE id = $1
	`, p.CreatorID); err != nil {
		return fmt.Errorf("bump proposal count: %w", err)
	}

	return tx.Commit()
}

func (s *PostgresStore) GetProposal(ctx context.Context, proposalID string) (Proposal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id=$1`, proposalID)
	return scanProposal(row)
}

func (s *PostgresStore) ListProposals(ctx context.Context, bandID, state string) ([]Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE band_id=$1`
	args := []any{bandID}
	if state != "" {
		query += ` AND state=$2`
		args = append(args, state)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	items := make([]Proposal, 0)
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposals: %w", err)
	}
	return items, nil
}

// UpdateProposalState performs a guarded transition: the write only happens
// when the row is still in fromState. Returns false when the guard failed.
func (s *PostgresStore) UpdateProposalState(ctx context.Context, proposalID, fromState, toState string) (Proposal, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE proposals
		SET state=$3, state_changed_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND state=$2
		RETURNING `+proposalColumns+`
	`, proposalID, fromState, toState)
	p, err := scanProposal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Proposal{}, false, nil
	}
	if err != nil {
		return Proposal{}, false, fmt.Errorf("transition proposal: %w", err)
	}
	return p, true, nil
}

// ReviewProposal applies the review outcome from in_review. Approval moves to
// voting and stamps voting_starts_at; voting_ends_at stays as fixed at
// creation, so a slow review can open a window that is already expired.
// Rejection parks the proposal in needs_revision.
func (s *PostgresStore) ReviewProposal(ctx context.Context, proposalID, toState, reviewStatus, reviewerID, feedback string) (Proposal, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE proposals
		SET state=$2, state_changed_at=NOW(),
			reviewed_by=$3, reviewed_at=NOW(), review_feedback=$4, review_status=$5,
			voting_starts_at = CASE WHEN $2 = 'voting' THEN NOW() ELSE voting_starts_at END,
			updated_at=NOW()
		WHERE id=$1 AND state='in_review'
		RETURNING `+proposalColumns+`
	`, proposalID, toState, reviewerID, feedback, reviewStatus)
	p, err := scanProposal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Proposal{}, false, nil
	}
	if err != nil {
		return Proposal{}, false, fmt.Errorf("review proposal: %w", err)
	}
	return p, true, nil
}

// FinalizeProposal writes the terminal outcome. Guarded on state=voting so
// two concurrent finalize calls cannot both succeed.
func (s *PostgresStore) FinalizeProposal(ctx context.Context, proposalID, finalState string) (Proposal, bool, error) {
	return s.UpdateProposalState(ctx, proposalID, ProposalStateVoting, finalState)
}

// AdminSetProposalState bypasses the transition guards. Callers gate this on
// the highest capability and always log it.
func (s *PostgresStore) AdminSetProposalState(ctx context.Context, proposalID, state string) (Proposal, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE proposals
		SET state=$2, state_changed_at=NOW(), updated_at=NOW()
		WHERE id=$1
		RETURNING `+proposalColumns+`
	`, proposalID, state)
	return scanProposal(row)
}

// CastVote applies an insert-or-update vote and its counter adjustment as one
// atomic unit. The proposal row is locked first, which both serializes
// counter updates per proposal and lets the state/deadline guard be
// re-checked after any racing finalize has committed.
func (s *PostgresStore) CastVote(ctx context.Context, proposalID, memberID, choice string, comment *string, now time.Time) (Vote, bool, error) {
	newCol, err := voteColumn(choice)
	if err != nil {
		return Vote{}, false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Vote{}, false, fmt.Errorf("begin cast vote: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var state string
	var votingEndsAt time.Time
	err = tx.QueryRowContext(ctx, `
		SELECT state, voting_ends_at FROM proposals WHERE id=$1 FOR UPDATE
	`, proposalID).Scan(&state, &votingEndsAt)
	if err != nil {
		return Vote{}, false, err
	}
	if state != ProposalStateVoting || !now.Before(votingEndsAt) {
		return Vote{}, false, ErrVotingClosed
	}

	var existing Vote
	err = tx.QueryRowContext(ctx, `
		SELECT id, vote FROM votes WHERE proposal_id=$1 AND member_id=$2
	`, proposalID, memberID).Scan(&existing.ID, &existing.Choice)
	created := errors.Is(err, sql.ErrNoRows)
	if err != nil && !created {
		return Vote{}, false, fmt.Errorf("lookup vote: %w", err)
	}

	var vote Vote
	if created {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO votes (id, proposal_id, member_id, vote, comment)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, proposal_id, member_id, vote, comment, created_at, updated_at
		`, util.NewID("vote"), proposalID, memberID, choice, comment)
		if vote, err = scanVote(row); err != nil {
			return Vote{}, false, fmt.Errorf("insert vote: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE proposals SET `+newCol+` = `+newCol+` + 1, updated_at=NOW() WHERE id=$1`,
			proposalID); err != nil {
			return Vote{}, false, fmt.Errorf("increment counter: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE members SET votes_cast = votes_cast + 1 WHERE id=$1`, memberID); err != nil {
			return Vote{}, false, fmt.Errorf("bump votes cast: %w", err)
		}
	} else {
		row := tx.QueryRowContext(ctx, `
			UPDATE votes SET vote=$2, comment=$3, updated_at=NOW()
			WHERE id=$1
			RETURNING id, proposal_id, member_id, vote, comment, created_at, updated_at
		`, existing.ID, choice, comment)
		if vote, err = scanVote(row); err != nil {
			return Vote{}, false, fmt.Errorf("update vote: %w", err)
		}
		if existing.Choice != choice {
			oldCol, err := voteColumn(existing.Choice)
			if err != nil {
				return Vote{}, false, err
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE proposals SET `+oldCol+` = `+oldCol+` - 1, `+newCol+` = `+newCol+` + 1, updated_at=NOW() WHERE id=$1`,
				proposalID); err != nil {
				return Vote{}, false, fmt.Errorf("adjust counters: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return Vote{}, false, fmt.Errorf("commit cast vote: %w", err)
	}
	return vote, created, nil
}

func scanVote(row interface{ Scan(...any) error }) (Vote, error) {
	var v Vote
	err := row.Scan(&v.ID, &v.ProposalID, &v.MemberID, &v.Choice, &v.Comment, &v.CreatedAt, &v.UpdatedAt)
	return v, err
}

func (s *PostgresStore) ListVotes(ctx context.Context, proposalID string) ([]Vote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.id, v.proposal_id, v.member_id, v.vote, v.comment, v.created_at, v.updated_at, u.display_name
		FROM votes v
		JOIN members m ON m.id = v.member_id
		JOIN users u ON u.id = m.user_id
		WHERE v.proposal_id = $1
		ORDER BY v.created_at ASC
	`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	defer rows.Close()

	items := make([]Vote, 0)
	for rows.Next() {
		var v Vote
		if err := rows.Scan(&v.ID, &v.ProposalID, &v.MemberID, &v.Choice, &v.Comment,
			&v.CreatedAt, &v.UpdatedAt, &v.MemberName); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		items = append(items, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate votes: %w", err)
	}
	return items, nil
}

// ResubmitProposal rewrites the textual fields, snapshots the next numbered
// version, and moves needs_revision back to in_review as one transaction.
// The guarded UPDATE locks the row; when the proposal has already left
// needs_revision nothing is written and changed=false is returned.
func (s *PostgresStore) ResubmitProposal(ctx context.Context, proposalID string, v ProposalVersion) (Proposal, ProposalVersion, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Proposal{}, ProposalVersion{}, false, fmt.Errorf("begin resubmit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		UPDATE proposals
		SET title=$2, objective=$3, description=$4, rationale=$5, success_criteria=$6,
			state='in_review', state_changed_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND state='needs_revision'
		RETURNING `+proposalColumns+`
	`, proposalID, v.Title, v.Objective, v.Description, v.Rationale, v.SuccessCriteria)
	p, err := scanProposal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Proposal{}, ProposalVersion{}, false, nil
	}
	if err != nil {
		return Proposal{}, ProposalVersion{}, false, fmt.Errorf("resubmit proposal: %w", err)
	}

	verRow := tx.QueryRowContext(ctx, `
		INSERT INTO proposal_versions (
			id, proposal_id, version_number, title, objective, description, rationale, success_criteria,
			change_reason, created_by
		)
		SELECT $1, $2, COALESCE(MAX(version_number), 0) + 1, $3, $4, $5, $6, $7, $8, $9
		FROM proposal_versions WHERE proposal_id = $2
		RETURNING id, proposal_id, version_number, title, objective, description, rationale,
			success_criteria, change_reason, created_by, created_at
	`, util.NewID("pv"), proposalID, v.Title, v.Objective, v.Description, v.Rationale,
		v.SuccessCriteria, v.ChangeReason, v.CreatedBy)

	var out ProposalVersion
	if err := verRow.Scan(&out.ID, &out.ProposalID, &out.VersionNumber, &out.Title, &out.Objective,
		&out.Description, &out.Rationale, &out.SuccessCriteria, &out.ChangeReason,
		&out.CreatedBy, &out.CreatedAt); err != nil {
		return Proposal{}, ProposalVersion{}, false, fmt.Errorf("insert proposal version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Proposal{}, ProposalVersion{}, false, fmt.Errorf("commit resubmit: %w", err)
	}
	return p, out, true, nil
}

func (s *PostgresStore) ListProposalVersions(ctx context.Context, proposalID string) ([]ProposalVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, proposal_id, version_number, title, objective, description, rationale,
			success_criteria, change_reason, created_by, created_at
		FROM proposal_versions
		WHERE proposal_id = $1
		ORDER BY version_number DESC
	`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list proposal versions: %w", err)
	}
	defer rows.Close()

	items := make([]ProposalVersion, 0)
	for rows.Next() {
		var v ProposalVersion
		if err := rows.Scan(&v.ID, &v.ProposalID, &v.VersionNumber, &v.Title, &v.Objective,
			&v.Description, &v.Rationale, &v.SuccessCriteria, &v.ChangeReason,
			&v.CreatedBy, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan proposal version: %w", err)
		}
		items = append(items, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposal versions: %w", err)
	}
	return items, nil
}
