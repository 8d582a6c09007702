package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"quarterdeck/api/internal/util"
)

var (
	// ErrVotingClosed is returned when a vote arrives after the proposal left
	// the voting state or the voting deadline passed.
	ErrVotingClosed = errors.New("voting closed")
	// ErrAlreadyMember is returned when an invitation is accepted by a user
	// who already belongs to the band.
	ErrAlreadyMember = errors.New("already a member")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, created_at, updated_at
		FROM users WHERE LOWER(email) = LOWER($1)
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, created_at, updated_at
		FROM users WHERE id = $1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// ---- refresh sessions / token revocation ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	const query = `
		SELECT user_id
		FROM refresh_sessions
		WHERE token_hash = $1
			AND revoked_at IS NULL
			AND expires_at > NOW()
	`
	var userID string
	if err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&userID); err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---- bands ----

// CreateBand inserts the band and its founder membership in one transaction.
func (s *PostgresStore) CreateBand(ctx context.Context, band Band, founder Member) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create band: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO bands (id, name, description, quorum_percentage, approval_threshold, voting_period_hours)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, band.ID, band.Name, band.Description, band.QuorumPercentage, band.ApprovalThreshold, band.VotingPeriodHours); err != nil {
		return fmt.Errorf("insert band: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO members (id, band_id, user_id, role, status, joined_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, founder.ID, band.ID, founder.UserID, founder.Role, founder.Status); err != nil {
		return fmt.Errorf("insert founder: %w", err)
	}

	return tx.Commit()
}

func (s *PostgresStore) GetBand(ctx context.Context, bandID string) (Band, error) {
	var band Band
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, quorum_percentage, approval_threshold, voting_period_hours, created_at, updated_at
		FROM bands WHERE id = $1
	`, bandID).Scan(&band.ID, &band.Name, &band.Description, &band.QuorumPercentage,
		&band.ApprovalThreshold, &band.VotingPeriodHours, &band.CreatedAt, &band.UpdatedAt)
	if err != nil {
		return Band{}, err
	}
	return band, nil
}

func (s *PostgresStore) UpdateBandSettings(ctx context.Context, bandID string, quorum, approval, votingHours int) (Band, error) {
	var band Band
	err := s.db.QueryRowContext(ctx, `
		UPDATE bands
		SET quorum_percentage=$2, approval_threshold=$3, voting_period_hours=$4, updated_at=NOW()
		WHERE id=$1
		RETURNING id, name, description, quorum_percentage, approval_threshold, voting_period_hours, created_at, updated_at
	`, bandID, quorum, approval, votingHours).Scan(&band.ID, &band.Name, &band.Description,
		&band.QuorumPercentage, &band.ApprovalThreshold, &band.VotingPeriodHours, &band.CreatedAt, &band.UpdatedAt)
	if err != nil {
		return Band{}, err
	}
	return band, nil
}

// ---- members ----

const memberColumns = `
	m.id, m.band_id, m.user_id, m.role, m.status, m.proposal_count, m.votes_cast,
	m.joined_at, m.created_at, u.display_name, u.email
`

func scanMember(row interface{ Scan(...any) error }) (Member, error) {
	var m Member
	err := row.Scan(&m.ID, &m.BandID, &m.UserID, &m.Role, &m.Status, &m.ProposalCount,
		&m.VotesCast, &m.JoinedAt, &m.CreatedAt, &m.DisplayName, &m.Email)
	return m, err
}

func (s *PostgresStore) GetMemberByUser(ctx context.Context, bandID, userID string) (Member, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+memberColumns+`
		FROM members m JOIN users u ON u.id = m.user_id
		WHERE m.band_id = $1 AND m.user_id = $2
	`, bandID, userID)
	return scanMember(row)
}

func (s *PostgresStore) GetMember(ctx context.Context, bandID, memberID string) (Member, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+memberColumns+`
		FROM members m JOIN users u ON u.id = m.user_id
		WHERE m.band_id = $1 AND m.id = $2
	`, bandID, memberID)
	return scanMember(row)
}

func (s *PostgresStore) ListMembers(ctx context.Context, bandID string) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memberColumns+`
		FROM members m JOIN users u ON u.id = m.user_id
		WHERE m.band_id = $1
		ORDER BY m.created_at ASC
	`, bandID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	items := make([]Member, 0)
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return items, nil
}

// CountActiveMembers is the quorum denominator, evaluated at call time.
func (s *PostgresStore) CountActiveMembers(ctx context.Context, bandID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM members WHERE band_id = $1 AND status = 'active'
	`, bandID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active members: %w", err)
	}
	return count, nil
}

// UpdateMemberStatus moves a member between statuses. Activation stamps
// joined_at once. Historic votes and log entries are untouched.
func (s *PostgresStore) UpdateMemberStatus(ctx context.Context, bandID, memberID, status string) (Member, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		UPDATE members
		SET status=$3,
			joined_at = CASE WHEN $3 = 'active' AND joined_at IS NULL THEN NOW() ELSE joined_at END
		WHERE band_id=$1 AND id=$2
		RETURNING id
	`, bandID, memberID, status).Scan(&id)
	if err != nil {
		return Member{}, err
	}
	return s.GetMember(ctx, bandID, memberID)
}

// ---- invitations ----

func (s *PostgresStore) CreateInvitation(ctx context.Context, inv Invitation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invitations (id, band_id, email, role, inviter_id, token, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, inv.ID, inv.BandID, inv.Email, inv.Role, inv.InviterID, inv.Token, inv.Status, inv.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert invitation: %w", err)
	}
	return nil
}

// AcceptInvitation consumes a pending, unexpired invitation and creates the
// member record in pending status. The member becomes active via
// UpdateMemberStatus.
func (s *PostgresStore) AcceptInvitation(ctx context.Context, token, userID string) (Member, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Member{}, fmt.Errorf("begin accept invitation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var inv Invitation
	err = tx.QueryRowContext(ctx, `
		SELECT id, band_id, email, role FROM invitations
		WHERE token = $1 AND status = 'pending' AND expires_at > NOW()
		FOR UPDATE
	`, token).Scan(&inv.ID, &inv.BandID, &inv.Email, &inv.Role)
	if err != nil {
		return Member{}, err
	}

	var exists bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM members WHERE band_id=$1 AND user_id=$2)
	`, inv.BandID, userID).Scan(&exists); err != nil {
		return Member{}, fmt.Errorf("check membership: %w", err)
	}
	if exists {
		return Member{}, ErrAlreadyMember
	}

	memberID := util.NewID("mem")
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO members (id, band_id, user_id, role, status)
		VALUES ($1, $2, $3, $4, 'pending')
	`, memberID, inv.BandID, userID, inv.Role); err != nil {
		return Member{}, fmt.Errorf("insert member: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE invitations SET status='accepted' WHERE id=$1
	`, inv.ID); err != nil {
		return Member{}, fmt.Errorf("mark invitation accepted: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Member{}, fmt.Errorf("commit accept invitation: %w", err)
	}
	return s.GetMember(ctx, inv.BandID, memberID)
}
