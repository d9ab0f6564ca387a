package gate

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL. The pending-request and
// allowed-address uniqueness invariants live in the schema (a partial
// unique index and a primary key); the Go side only reacts to conflicts.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Profiles(context.Context) ProfileStore  { return &pgProfileStore{db: s.db} }
func (s *PGStore) Addresses(context.Context) AddressStore { return &pgAddressStore{db: s.db} }
func (s *PGStore) Requests(context.Context) RequestStore  { return &pgRequestStore{db: s.db} }

// Profile store ------------------------------------------------------------

type pgProfileStore struct{ db *sql.DB }

func (s *pgProfileStore) Find(ctx context.Context, id string) (*Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, display_name, role, active, created_at, updated_at from profiles where id=$1`, id)
	var p Profile
	if err := row.Scan(&p.ID, &p.DisplayName, &p.Role, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// Allowed address store ----------------------------------------------------

type pgAddressStore struct{ db *sql.DB }

func (s *pgAddressStore) Contains(ctx context.Context, address string) (bool, error) {
	var found bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from allowed_addresses where address=$1)`, address).Scan(&found)
	if err != nil {
		return false, err
	}
	return found, nil
}

func (s *pgAddressStore) Add(ctx context.Context, addr *AllowedAddress) error {
	if addr.AddedAt.IsZero() {
		addr.AddedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into allowed_addresses(address, note, added_by, added_at)
		 values($1,$2,$3,$4)
		 on conflict (address) do nothing`,
		addr.Address, addr.Note, addr.AddedBy, addr.AddedAt,
	)
	return err
}

// Access request store -----------------------------------------------------

type pgRequestStore struct{ db *sql.DB }

func (s *pgRequestStore) Find(ctx context.Context, id string) (*AccessRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, profile_id, address, status, requested_at, resolved_at, resolved_by
		 from access_requests where id=$1`, id)
	return scanRequest(row)
}

func (s *pgRequestStore) CreatePending(ctx context.Context, req *AccessRequest) (*AccessRequest, error) {
	// Insert-if-absent against the partial unique index on
	// (profile_id, address) where status='PENDING'. On conflict the existing
	// pending row is returned instead. The loop covers the window where the
	// conflicting row resolves between the insert and the read.
	for attempt := 0; attempt < 2; attempt++ {
		res, err := s.db.ExecContext(ctx,
			`insert into access_requests(id, profile_id, address, status, requested_at)
			 values($1,$2,$3,$4,$5)
			 on conflict (profile_id, address) where status='PENDING' do nothing`,
			req.ID, req.ProfileID, req.Address, StatePending, req.RequestedAt,
		)
		if err != nil {
			return nil, err
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			inserted := *req
			inserted.Status = StatePending
			return &inserted, nil
		}
		row := s.db.QueryRowContext(ctx,
			`select id, profile_id, address, status, requested_at, resolved_at, resolved_by
			 from access_requests
			 where profile_id=$1 and address=$2 and status=$3`,
			req.ProfileID, req.Address, StatePending,
		)
		existing, err := scanRequest(row)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, errors.New("gate: pending request insert did not converge")
}

func (s *pgRequestStore) Resolve(ctx context.Context, id string, status RequestState, resolvedBy string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`update access_requests
		 set status=$2, resolved_at=$3, resolved_by=$4
		 where id=$1 and status=$5`,
		id, status, at, resolvedBy, StatePending,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*AccessRequest, error) {
	var (
		req        AccessRequest
		resolvedAt sql.NullTime
		resolvedBy sql.NullString
	)
	err := row.Scan(&req.ID, &req.ProfileID, &req.Address, &req.Status,
		&req.RequestedAt, &resolvedAt, &resolvedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		req.ResolvedAt = &t
	}
	if resolvedBy.Valid {
		req.ResolvedBy = resolvedBy.String
	}
	return &req, nil
}
