package orm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/google/uuid"
)

// Session is a unit of work over a Conn. It keeps one Record per primary
// key (the identity map), buffers inserts, updates and deletes until Flush
// or Commit, and runs all writes of a Commit in one transaction.
//
// A Session is not safe for concurrent use. Several sessions may share a
// *DB.
type Session struct {
	id     string
	reg    *Registry
	conn   Conn
	tx     *Tx
	closed bool

	identity map[*RecordType]map[any]*Record
	tracked  []*Record
	pending  []*Record
	deleted  []*Record
	journal  []journalEntry
}

// NewSession freezes reg if needed and returns a session submitting its
// statements to conn.
func NewSession(conn Conn, reg *Registry) (*Session, error) {
	if conn == nil {
		return nil, errors.New("orm: NewSession needs a connection")
	}
	if err := reg.Freeze(); err != nil {
		return nil, err
	}
	return &Session{
		id:       uuid.NewString(),
		reg:      reg,
		conn:     conn,
		identity: make(map[*RecordType]map[any]*Record),
	}, nil
}

// ID returns the session id attached to the context of every statement
// (see SessionIDFromContext).
func (s *Session) ID() string { return s.id }

// Registry returns the schema the session works with.
func (s *Session) Registry() *Registry { return s.reg }

// Query starts a query over the records of typeName.
func (s *Session) Query(typeName string) *Query {
	q := &Query{sess: s}
	rt, ok := s.reg.Lookup(typeName)
	switch {
	case !ok:
		q.err = configErrorf(typeName, "", "unknown record type")
	case rt.association:
		q.err = configErrorf(typeName, "", "association types cannot be queried")
	default:
		q.rt = rt
	}
	return q
}

// New creates a record of typeName and adds it to the session.
func (s *Session) New(typeName string, values map[string]any) (*Record, error) {
	rt, err := s.reg.Type(typeName)
	if err != nil {
		return nil, err
	}
	r, err := NewRecord(rt, values)
	if err != nil {
		return nil, err
	}
	if err := s.Add(r); err != nil {
		return nil, err
	}
	return r, nil
}

// Add attaches records to the session. Transient records are inserted by
// the next flush. Records they link to are added as well.
func (s *Session) Add(records ...*Record) error {
	if err := s.check(); err != nil {
		return err
	}
	for _, r := range records {
		if err := s.add(r); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) add(r *Record) error {
	if r == nil {
		return errors.New("orm: nil record")
	}
	if r.sess == s {
		if r.state == stateDeleted {
			if i := slices.Index(s.deleted, r); i >= 0 {
				s.deleted = slices.Delete(s.deleted, i, i+1)
				r.state = statePersistent
			}
		}
		return nil
	}
	if r.sess != nil {
		return fmt.Errorf("orm: %s belongs to another session", r)
	}
	if rt, ok := s.reg.Lookup(r.rt.name); !ok || rt != r.rt {
		return configErrorf(r.rt.name, "", "record type is not registered with this session")
	}
	switch r.state {
	case stateTransient:
		r.sess = s
		r.state = statePending
		s.pending = append(s.pending, r)
	case statePersistent:
		if other, ok := s.identity[r.rt][r.PK()]; ok && other != r {
			return fmt.Errorf("orm: %s is already loaded in this session", r)
		}
		r.sess = s
		s.remember(r)
	default:
		return fmt.Errorf("orm: cannot add %s record %s", r.state, r)
	}
	for _, fk := range slices.Sorted(maps.Keys(r.links)) {
		if err := s.add(r.links[fk]); err != nil {
			return err
		}
	}
	for _, name := range slices.Sorted(maps.Keys(r.rels)) {
		for _, item := range r.rels[name].items {
			if err := s.add(item); err != nil {
				return err
			}
		}
	}
	for _, op := range r.assoc {
		if op.target != nil {
			if err := s.add(op.target); err != nil {
				return err
			}
		}
	}
	return nil
}

// Delete marks records for deletion by the next flush. Records that were
// never flushed are simply dropped from the session.
func (s *Session) Delete(records ...*Record) error {
	if err := s.check(); err != nil {
		return err
	}
	for _, r := range records {
		if r == nil {
			return errors.New("orm: nil record")
		}
		if r.sess == nil && r.state == statePersistent {
			if err := s.add(r); err != nil {
				return err
			}
		}
		if r.sess != nil && r.sess != s {
			return fmt.Errorf("orm: %s belongs to another session", r)
		}
		switch r.state {
		case statePending:
			s.pending = slices.DeleteFunc(s.pending, func(x *Record) bool { return x == r })
			r.state = stateTransient
			r.sess = nil
		case statePersistent:
			r.state = stateDeleted
			s.deleted = append(s.deleted, r)
		}
	}
	return nil
}

// Get returns the record of typeName with primary key pk. Records already
// in the identity map are returned without a statement.
func (s *Session) Get(ctx context.Context, typeName string, pk any) (*Record, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	rt, err := s.reg.Type(typeName)
	if err != nil {
		return nil, err
	}
	if rt.pk == nil {
		return nil, configErrorf(typeName, "", "no primary key")
	}
	key, err := rt.pk.typ.normalize(pk)
	if err != nil {
		return nil, fmt.Errorf("orm: %s primary key: %w", typeName, err)
	}
	if r, ok := s.identity[rt][key]; ok {
		if r.state == stateDeleted {
			return nil, ErrNotFound
		}
		return r, nil
	}
	return s.Query(typeName).Get(ctx, key)
}

// Commit flushes pending changes and commits the session transaction.
func (s *Session) Commit(ctx context.Context) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit(); err != nil {
		s.restore()
		return classify("commit", "", err)
	}
	s.journal = nil
	return nil
}

// Rollback rolls back the open transaction, if any, and discards every
// buffered change: pending records are dropped, deletions are cancelled
// and loaded records revert to their last committed values.
func (s *Session) Rollback() error {
	if err := s.check(); err != nil {
		return err
	}
	var err error
	if s.tx != nil {
		s.restore()
		err = s.tx.Rollback()
		s.tx = nil
	}
	for _, r := range s.pending {
		r.state = stateTransient
		r.sess = nil
	}
	s.pending = nil
	for _, r := range s.deleted {
		r.state = statePersistent
	}
	s.deleted = nil
	for _, r := range s.tracked {
		r.revert()
	}
	if err != nil {
		return classify("rollback", "", err)
	}
	return nil
}

// Close rolls back any open transaction and detaches every record.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	var err error
	if s.tx != nil {
		err = s.tx.Rollback()
		s.tx = nil
	}
	for _, r := range s.tracked {
		r.sess = nil
	}
	for _, r := range s.pending {
		r.sess = nil
		r.state = stateTransient
	}
	s.tracked, s.pending, s.deleted, s.journal = nil, nil, nil, nil
	s.identity = nil
	s.closed = true
	if err != nil {
		return classify("rollback", "", err)
	}
	return nil
}

func (s *Session) check() error {
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) dialect() Dialect { return s.conn.dialect() }

// querier returns the open transaction or the connection.
func (s *Session) querier() Querier {
	if s.tx != nil {
		return s.tx
	}
	return s.conn
}

// fetch runs query and reads every row into memory.
func (s *Session) fetch(ctx context.Context, query string, args []any) ([][]any, error) {
	rows, err := s.querier().QueryContext(ContextWithSessionID(ctx, s.id), query, args...)
	if err != nil {
		return nil, err //nolint:wrapcheck // classified by caller
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err //nolint:wrapcheck // classified by caller
	}
	var out [][]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err //nolint:wrapcheck // classified by caller
		}
		out = append(out, values)
	}
	return out, rows.Err() //nolint:wrapcheck // classified by caller
}

func (s *Session) exec(ctx context.Context, query string, args []any) (sql.Result, error) {
	return s.querier().ExecContext(ContextWithSessionID(ctx, s.id), query, args...) //nolint:wrapcheck // classified by caller
}

// remember puts r in the identity map.
func (s *Session) remember(r *Record) {
	m, ok := s.identity[r.rt]
	if !ok {
		m = make(map[any]*Record)
		s.identity[r.rt] = m
	}
	m[r.PK()] = r
	if !slices.Contains(s.tracked, r) {
		s.tracked = append(s.tracked, r)
	}
}

// forget removes r from the identity map.
func (s *Session) forget(r *Record) {
	if m := s.identity[r.rt]; m != nil && m[r.PK()] == r {
		delete(m, r.PK())
	}
	s.tracked = slices.DeleteFunc(s.tracked, func(x *Record) bool { return x == r })
}

// revert drops unflushed changes of a persistent record and its cached
// relations.
func (r *Record) revert() {
	for name := range r.values {
		if v, ok := r.original[name]; ok {
			r.values[name] = v
		} else {
			r.values[name] = nil
			r.loaded[name] = false
		}
	}
	clear(r.dirty)
	clear(r.links)
	clear(r.rels)
	r.assoc = nil
}
