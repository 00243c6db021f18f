package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"fastvote/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("record already exists")
)

type scanner interface {
	Scan(dest ...any) error
}

// Ticks and action ids are uint64; SQLite integers are int64. They are stored
// bit-for-bit and compared in Go, never in SQL.
func u64(v uint64) int64 { return int64(v) }

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE constraint failed")
}

const actionColumns = `key,action_id,action_hash,description_hash,creator,threshold,votes_for,votes_against,vote_count,created_tick,deadline_tick,executed,result,nonce,created_at,updated_at`

func scanAction(row scanner) (domain.Action, error) {
	var a domain.Action
	var key, actionHash, descHash, creator, result string
	var actionID, createdTick, deadlineTick int64
	var threshold, votesFor, votesAgainst, voteCount, nonce int64
	err := row.Scan(&key, &actionID, &actionHash, &descHash, &creator, &threshold, &votesFor, &votesAgainst, &voteCount,
		&createdTick, &deadlineTick, &a.Executed, &result, &nonce, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.ActionID = uint64(actionID)
	a.Threshold = uint8(threshold)
	a.VotesFor = uint32(votesFor)
	a.VotesAgainst = uint32(votesAgainst)
	a.VoteCount = uint32(voteCount)
	a.CreatedTick = uint64(createdTick)
	a.DeadlineTick = uint64(deadlineTick)
	a.Nonce = uint8(nonce)
	if a.Key, err = domain.ParseHash(key); err != nil {
		return a, fmt.Errorf("action key: %w", err)
	}
	if a.ActionHash, err = domain.ParseHash(actionHash); err != nil {
		return a, fmt.Errorf("action hash: %w", err)
	}
	if a.DescriptionHash, err = domain.ParseHash(descHash); err != nil {
		return a, fmt.Errorf("description hash: %w", err)
	}
	if a.Creator, err = domain.ParseHash(creator); err != nil {
		return a, fmt.Errorf("creator: %w", err)
	}
	if a.Result, err = domain.ParseResult(result); err != nil {
		return a, err
	}
	return a, nil
}

// InsertAction creates the action record. An existing record under the same
// key yields ErrDuplicate; nothing is overwritten.
func (r Repo) InsertAction(ctx context.Context, tx *sql.Tx, a domain.Action) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO actions(`+actionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.Key.String(), u64(a.ActionID), a.ActionHash.String(), a.DescriptionHash.String(), a.Creator.String(),
		int64(a.Threshold), int64(a.VotesFor), int64(a.VotesAgainst), int64(a.VoteCount),
		u64(a.CreatedTick), u64(a.DeadlineTick), a.Executed, a.Result.String(), int64(a.Nonce), a.CreatedAt, a.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r Repo) GetAction(ctx context.Context, key domain.Key) (domain.Action, error) {
	return scanAction(r.DB.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM actions WHERE key=?`, key.String()))
}

func (r Repo) GetActionTx(ctx context.Context, tx *sql.Tx, key domain.Key) (domain.Action, error) {
	return scanAction(tx.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM actions WHERE key=?`, key.String()))
}

// SaveActionState writes the mutable part of an action: counters, executed
// flag and result. Identity fields and ticks are never rewritten.
func (r Repo) SaveActionState(ctx context.Context, tx *sql.Tx, a domain.Action) error {
	res, err := tx.ExecContext(ctx, `UPDATE actions SET votes_for=?, votes_against=?, vote_count=?, executed=?, result=?, updated_at=? WHERE key=?`,
		int64(a.VotesFor), int64(a.VotesAgainst), int64(a.VoteCount), a.Executed, a.Result.String(), a.UpdatedAt, a.Key.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type ActionFilters struct {
	Result          string
	Creator         string
	Limit           int
	CursorCreatedAt string
	CursorKey       string
}

func (r Repo) ListActions(ctx context.Context, f ActionFilters) ([]domain.Action, error) {
	var clauses []string
	var args []any
	if f.Result != "" {
		clauses = append(clauses, "result=?")
		args = append(args, f.Result)
	}
	if f.Creator != "" {
		clauses = append(clauses, "creator=?")
		args = append(args, f.Creator)
	}
	if f.CursorCreatedAt != "" && f.CursorKey != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND key < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorKey)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + actionColumns + ` FROM actions ` + where + ` ORDER BY created_at DESC, key DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

const voteColumns = `key,action_key,voter,commitment,vote_value,voted_tick,nonce,created_at`

func scanVote(row scanner) (domain.Vote, error) {
	var v domain.Vote
	var key, action, voter, commitment string
	var votedTick, nonce int64
	err := row.Scan(&key, &action, &voter, &commitment, &v.Value, &votedTick, &nonce, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	v.VotedTick = uint64(votedTick)
	v.Nonce = uint8(nonce)
	for _, f := range []struct {
		dst *domain.Hash
		src string
	}{{&v.Key, key}, {&v.Action, action}, {&v.Voter, voter}, {&v.Commitment, commitment}} {
		if *f.dst, err = domain.ParseHash(f.src); err != nil {
			return v, fmt.Errorf("vote column: %w", err)
		}
	}
	return v, nil
}

// InsertVote creates the vote record. The primary key is derived from
// (action, voter), so a second vote by the same voter yields ErrDuplicate.
func (r Repo) InsertVote(ctx context.Context, tx *sql.Tx, v domain.Vote) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO votes(`+voteColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		v.Key.String(), v.Action.String(), v.Voter.String(), v.Commitment.String(), v.Value, u64(v.VotedTick), int64(v.Nonce), v.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r Repo) GetVote(ctx context.Context, key domain.Key) (domain.Vote, error) {
	return scanVote(r.DB.QueryRowContext(ctx, `SELECT `+voteColumns+` FROM votes WHERE key=?`, key.String()))
}

type VoteFilters struct {
	Action    domain.Key
	Value     *bool
	Limit     int
	CursorKey string
}

// ListVotes returns votes of one action ordered by key.
func (r Repo) ListVotes(ctx context.Context, f VoteFilters) ([]domain.Vote, error) {
	clauses := []string{"action_key=?"}
	args := []any{f.Action.String()}
	if f.Value != nil {
		clauses = append(clauses, "vote_value=?")
		args = append(args, *f.Value)
	}
	if f.CursorKey != "" {
		clauses = append(clauses, "key>?")
		args = append(args, f.CursorKey)
	}
	query := `SELECT ` + voteColumns + ` FROM votes WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY key ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Vote
	for rows.Next() {
		v, err := scanVote(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// CountVotes recounts the stored vote records of an action.
func (r Repo) CountVotes(ctx context.Context, action domain.Key) (votesFor, votesAgainst uint32, err error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(vote_value),0), COALESCE(SUM(1-vote_value),0) FROM votes WHERE action_key=?`, action.String())
	var f, a int64
	if err := row.Scan(&f, &a); err != nil {
		return 0, 0, err
	}
	return uint32(f), uint32(a), nil
}

func (r Repo) UpsertDelegation(ctx context.Context, tx *sql.Tx, d domain.Delegation) error {
	var validator any
	if d.Validator != nil {
		validator = d.Validator.String()
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO delegations(action_key,validator,delegated_tick,created_at) VALUES (?,?,?,?)
ON CONFLICT(action_key) DO UPDATE SET validator=excluded.validator, delegated_tick=excluded.delegated_tick, created_at=excluded.created_at`,
		d.Action.String(), validator, u64(d.DelegatedTick), d.CreatedAt)
	return err
}

func (r Repo) GetDelegation(ctx context.Context, action domain.Key) (domain.Delegation, error) {
	var d domain.Delegation
	var validator sql.NullString
	var tick int64
	err := r.DB.QueryRowContext(ctx, `SELECT validator,delegated_tick,created_at FROM delegations WHERE action_key=?`, action.String()).
		Scan(&validator, &tick, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.Action = action
	d.DelegatedTick = uint64(tick)
	if validator.Valid {
		id, err := domain.ParseHash(validator.String)
		if err != nil {
			return d, fmt.Errorf("validator: %w", err)
		}
		d.Validator = &id
	}
	return d, nil
}

// DeleteDelegation removes the delegation row and reports whether one existed.
func (r Repo) DeleteDelegation(ctx context.Context, tx *sql.Tx, action domain.Key) (bool, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM delegations WHERE action_key=?`, action.String())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// InsertCommit stores a finalized record snapshot. Re-committing the same
// action is a no-op so handoff stays idempotent.
func (r Repo) InsertCommit(ctx context.Context, tx *sql.Tx, action domain.Key, record []byte, ts string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO commits(action_key,record,committed_at) VALUES (?,?,?) ON CONFLICT(action_key) DO NOTHING`,
		action.String(), record, ts)
	return err
}

func (r Repo) GetCommit(ctx context.Context, action domain.Key) ([]byte, string, error) {
	var record []byte
	var ts string
	err := r.DB.QueryRowContext(ctx, `SELECT record,committed_at FROM commits WHERE action_key=?`, action.String()).Scan(&record, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", ErrNotFound
	}
	return record, ts, err
}

// PendingCommit is a ledger row whose record has not reached the archive.
type PendingCommit struct {
	Action      domain.Key
	Record      []byte
	CommittedAt string
}

// ListUnarchivedCommits returns ledger rows not yet marked archived, oldest
// first.
func (r Repo) ListUnarchivedCommits(ctx context.Context, limit int) ([]PendingCommit, error) {
	query := `SELECT action_key,record,committed_at FROM commits WHERE archived_at IS NULL ORDER BY committed_at, action_key`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []PendingCommit
	for rows.Next() {
		var p PendingCommit
		var key string
		if err := rows.Scan(&key, &p.Record, &p.CommittedAt); err != nil {
			return nil, err
		}
		if p.Action, err = domain.ParseHash(key); err != nil {
			return nil, fmt.Errorf("commit key %q: %w", key, err)
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// MarkCommitArchived records that the archive accepted the action's record.
// Marking twice keeps the first timestamp.
func (r Repo) MarkCommitArchived(ctx context.Context, action domain.Key, ts string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE commits SET archived_at=? WHERE action_key=? AND archived_at IS NULL`, ts, action.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM commits WHERE action_key=?`, action.String()).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

const eventColumns = `id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json`

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

type EventFilters struct {
	Type       string
	EntityKind string
	EntityID   string
}

func (r Repo) LatestEvents(ctx context.Context, limit int, f EventFilters) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, f)
}

// LatestEventsFrom lists events newest first, strictly below cursor when set.
func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT %s FROM events WHERE %s ORDER BY id DESC LIMIT ?`, eventColumns, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// EventsAfter lists events oldest first, strictly above cursor.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
