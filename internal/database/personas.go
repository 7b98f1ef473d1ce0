package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"crepo/internal/cr"
	"crepo/internal/database/dialect"
)

const personaColumns = "p.id, p.uuid, p.comment, p.name, p.created_date, p.modified_date, p.status_id, " +
	"pe.id, pe.login_name, pe.display_name"

const personaFrom = " FROM personas p INNER JOIN examiners pe ON p.examiner_id = pe.id"

type personaRow struct {
	p                cr.Persona
	created, updated sql.NullInt64
	status           int
	examinerName     sql.NullString
}

func (r *personaRow) dest() []any {
	return []any{
		&r.p.ID, &r.p.UUID, &r.p.Comment, &r.p.Name, &r.created, &r.updated, &r.status,
		&r.p.Examiner.ID, &r.p.Examiner.LoginName, &r.examinerName,
	}
}

func (r *personaRow) toPersona() *cr.Persona {
	p := r.p
	p.CreatedDate = r.created.Int64
	p.ModifiedDate = r.updated.Int64
	p.Status = cr.PersonaStatus(r.status)
	p.Examiner.DisplayName = r.examinerName.String
	return &p
}

// likeEscaper escapes LIKE wildcards with '!'.
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func containsPattern(partial string) string {
	return "%" + likeEscaper.Replace(partial) + "%"
}

func validConfidence(c cr.Confidence) error {
	if c < cr.ConfidenceLow || c > cr.ConfidenceHigh {
		return &cr.ValidationError{Field: "confidence", Reason: fmt.Sprintf("%d is out of range", int(c))}
	}
	return nil
}

func validPersonaStatus(st cr.PersonaStatus) error {
	if st < cr.PersonaStatusUnknown || st > cr.PersonaStatusDeleted {
		return &cr.ValidationError{Field: "persona status", Reason: fmt.Sprintf("%d is out of range", int(st))}
	}
	return nil
}

// examinerFor resolves login to a stored examiner, falling back to the store's default.
func (s *Store) examinerFor(ctx context.Context, q dialect.Querier, login string) (*cr.Examiner, error) {
	if login == "" {
		login = s.examiner
	}
	return s.getOrInsertExaminer(ctx, q, login)
}

func (s *Store) now() int64 { return s.clock.Now().UnixMilli() }

func (s *Store) queryPersonas(ctx context.Context, q dialect.Querier, from, where string, args ...any) ([]*cr.Persona, error) {
	query := "SELECT DISTINCT " + personaColumns + personaFrom + from +
		" WHERE p.status_id <> ? AND " + where + " ORDER BY p.id"
	rows, err := q.QueryContext(ctx, s.q(query), append([]any{int(cr.PersonaStatusDeleted)}, args...)...)
	if err != nil {
		return nil, cr.NewStorageError("getting personas", err)
	}
	defer rows.Close()

	var out []*cr.Persona
	for rows.Next() {
		var r personaRow
		if err := rows.Scan(r.dest()...); err != nil {
			return nil, cr.NewStorageError("scanning persona", err)
		}
		out = append(out, r.toPersona())
	}
	if err := rows.Err(); err != nil {
		return nil, cr.NewStorageError("getting personas", err)
	}
	return out, nil
}

func (s *Store) personaByUUID(ctx context.Context, q dialect.Querier, uuid string) (*cr.Persona, error) {
	found, err := s.queryPersonas(ctx, q, "", "p.uuid = ?", uuid)
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return found[0], nil
}

// CreatePersona stores p, assigning a UUID and timestamps. A zero status means Active.
func (s *Store) CreatePersona(ctx context.Context, p *cr.Persona) (*cr.Persona, error) {
	if p == nil {
		return nil, &cr.ValidationError{Field: "persona", Reason: "is nil"}
	}
	if p.Status == 0 {
		p.Status = cr.PersonaStatusActive
	}
	if err := validPersonaStatus(p.Status); err != nil {
		return nil, err
	}
	if p.Status == cr.PersonaStatusDeleted {
		return nil, &cr.ValidationError{Field: "persona status", Reason: "cannot create a deleted persona"}
	}
	defer s.writeLock()()

	var created *cr.Persona
	err := s.withTx(ctx, "creating persona", func(tx dialect.Querier) error {
		ex, err := s.examinerFor(ctx, tx, p.Examiner.LoginName)
		if err != nil {
			return err
		}
		uuid := p.UUID
		if uuid == "" {
			uuid = s.ids.New()
		}
		now := s.now()
		query := "INSERT INTO personas (uuid, comment, name, created_date, modified_date, status_id, examiner_id) " +
			"VALUES (?, ?, ?, ?, ?, ?, ?)"
		if _, err := tx.ExecContext(ctx, s.q(query), uuid, p.Comment, p.Name, now, now, int(p.Status), ex.ID); err != nil {
			if s.d.IsUniqueViolation(err) {
				return fmt.Errorf("persona %s: %w", uuid, cr.ErrConstraintConflict)
			}
			return cr.NewStorageError("inserting persona", err)
		}
		created, err = s.personaByUUID(ctx, tx, uuid)
		return err
	})
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, cr.NewStorageError("creating persona", errors.New("persona missing after insert"))
	}
	return created, nil
}

// GetPersonaByUUID returns the persona with uuid unless it has been deleted.
func (s *Store) GetPersonaByUUID(ctx context.Context, uuid string) (*cr.Persona, error) {
	defer s.readLock()()

	var p *cr.Persona
	err := s.withConn(ctx, func(c Conn) error {
		var err error
		p, err = s.personaByUUID(ctx, c, uuid)
		return err
	})
	return p, err
}

// GetPersonasByName matches partial anywhere in the name, ignoring case.
func (s *Store) GetPersonasByName(ctx context.Context, partial string) ([]*cr.Persona, error) {
	defer s.readLock()()

	var out []*cr.Persona
	err := s.withConn(ctx, func(c Conn) error {
		var err error
		out, err = s.queryPersonas(ctx, c, "", "LOWER(p.name) LIKE LOWER(?) ESCAPE '!'", containsPattern(partial))
		return err
	})
	return out, err
}

// GetPersonasByAccountIdentifier returns personas linked to an account whose identifier
// contains partial, ignoring case.
func (s *Store) GetPersonasByAccountIdentifier(ctx context.Context, partial string) ([]*cr.Persona, error) {
	defer s.readLock()()

	from := " INNER JOIN persona_accounts pa ON pa.persona_id = p.id INNER JOIN accounts a ON a.id = pa.account_id"
	var out []*cr.Persona
	err := s.withConn(ctx, func(c Conn) error {
		var err error
		out, err = s.queryPersonas(ctx, c, from, "LOWER(a.account_unique_identifier) LIKE LOWER(?) ESCAPE '!'", containsPattern(partial))
		return err
	})
	return out, err
}

func (s *Store) updatePersona(ctx context.Context, p *cr.Persona, column string, value any) (int64, error) {
	if p == nil || p.ID <= 0 {
		return 0, &cr.ValidationError{Field: "persona", Reason: "must be stored"}
	}
	defer s.writeLock()()

	now := s.now()
	err := s.withConn(ctx, func(c Conn) error {
		query := "UPDATE personas SET " + column + " = ?, modified_date = ? WHERE id = ?"
		if _, err := c.ExecContext(ctx, s.q(query), value, now, p.ID); err != nil {
			return cr.NewStorageError("updating persona "+column, err)
		}
		return nil
	})
	return now, err
}

func (s *Store) UpdatePersonaName(ctx context.Context, p *cr.Persona, name string) error {
	now, err := s.updatePersona(ctx, p, "name", name)
	if err != nil {
		return err
	}
	p.Name, p.ModifiedDate = name, now
	return nil
}

func (s *Store) UpdatePersonaComment(ctx context.Context, p *cr.Persona, comment string) error {
	now, err := s.updatePersona(ctx, p, "comment", comment)
	if err != nil {
		return err
	}
	p.Comment, p.ModifiedDate = comment, now
	return nil
}

func (s *Store) SetPersonaStatus(ctx context.Context, p *cr.Persona, status cr.PersonaStatus) error {
	if err := validPersonaStatus(status); err != nil {
		return err
	}
	now, err := s.updatePersona(ctx, p, "status_id", int(status))
	if err != nil {
		return err
	}
	p.Status, p.ModifiedDate = status, now
	return nil
}

// DeletePersona marks p deleted. Its rows are kept.
func (s *Store) DeletePersona(ctx context.Context, p *cr.Persona) error {
	return s.SetPersonaStatus(ctx, p, cr.PersonaStatusDeleted)
}

// lastID returns the newest id in table for persona personaID.
func (s *Store) lastID(ctx context.Context, q dialect.Querier, table string, personaID int64) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, s.q("SELECT MAX(id) FROM "+table+" WHERE persona_id = ?"), personaID).Scan(&id)
	return id, cr.NewStorageError("reading "+table+" id", err)
}

func (s *Store) AddPersonaAlias(ctx context.Context, a *cr.PersonaAlias) (*cr.PersonaAlias, error) {
	switch {
	case a == nil:
		return nil, &cr.ValidationError{Field: "persona alias", Reason: "is nil"}
	case a.PersonaID <= 0:
		return nil, &cr.ValidationError{Field: "persona", Reason: "must be stored"}
	case a.Alias == "":
		return nil, &cr.ValidationError{Field: "alias", Reason: "is required"}
	}
	if err := validConfidence(a.Confidence); err != nil {
		return nil, err
	}
	defer s.writeLock()()

	out := *a
	err := s.withTx(ctx, "adding persona alias", func(tx dialect.Querier) error {
		ex, err := s.examinerFor(ctx, tx, a.Examiner.LoginName)
		if err != nil {
			return err
		}
		out.Examiner, out.DateAdded = *ex, s.now()
		query := "INSERT INTO persona_alias (persona_id, alias, justification, confidence_id, date_added, examiner_id) " +
			"VALUES (?, ?, ?, ?, ?, ?)"
		if _, err := tx.ExecContext(ctx, s.q(query), a.PersonaID, a.Alias, a.Justification, int(a.Confidence), out.DateAdded, ex.ID); err != nil {
			return cr.NewStorageError("inserting persona alias", err)
		}
		out.ID, err = s.lastID(ctx, tx, "persona_alias", a.PersonaID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) GetPersonaAliases(ctx context.Context, personaID int64) ([]*cr.PersonaAlias, error) {
	defer s.readLock()()

	var out []*cr.PersonaAlias
	err := s.withConn(ctx, func(c Conn) error {
		query := "SELECT a.id, a.persona_id, a.alias, a.justification, a.confidence_id, a.date_added, " +
			"e.id, e.login_name, e.display_name FROM persona_alias a INNER JOIN examiners e ON a.examiner_id = e.id " +
			"WHERE a.persona_id = ? ORDER BY a.id"
		rows, err := c.QueryContext(ctx, s.q(query), personaID)
		if err != nil {
			return cr.NewStorageError("getting persona aliases", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				a       cr.PersonaAlias
				conf    int
				display sql.NullString
			)
			if err := rows.Scan(&a.ID, &a.PersonaID, &a.Alias, &a.Justification, &conf, &a.DateAdded,
				&a.Examiner.ID, &a.Examiner.LoginName, &display); err != nil {
				return cr.NewStorageError("scanning persona alias", err)
			}
			a.Confidence = cr.Confidence(conf)
			a.Examiner.DisplayName = display.String
			out = append(out, &a)
		}
		return cr.NewStorageError("getting persona aliases", rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AddPersonaMetadata stores a named attribute. Names are unique per persona.
func (s *Store) AddPersonaMetadata(ctx context.Context, m *cr.PersonaMetadata) (*cr.PersonaMetadata, error) {
	switch {
	case m == nil:
		return nil, &cr.ValidationError{Field: "persona metadata", Reason: "is nil"}
	case m.PersonaID <= 0:
		return nil, &cr.ValidationError{Field: "persona", Reason: "must be stored"}
	case m.Name == "":
		return nil, &cr.ValidationError{Field: "metadata name", Reason: "is required"}
	}
	if err := validConfidence(m.Confidence); err != nil {
		return nil, err
	}
	defer s.writeLock()()

	out := *m
	err := s.withTx(ctx, "adding persona metadata", func(tx dialect.Querier) error {
		ex, err := s.examinerFor(ctx, tx, m.Examiner.LoginName)
		if err != nil {
			return err
		}
		out.Examiner, out.DateAdded = *ex, s.now()
		query := "INSERT INTO persona_metadata (persona_id, name, value, justification, confidence_id, date_added, examiner_id) " +
			"VALUES (?, ?, ?, ?, ?, ?, ?)"
		_, err = tx.ExecContext(ctx, s.q(query), m.PersonaID, m.Name, m.Value, m.Justification, int(m.Confidence), out.DateAdded, ex.ID)
		if err != nil {
			if s.d.IsUniqueViolation(err) {
				return fmt.Errorf("persona %d metadata %s: %w", m.PersonaID, m.Name, cr.ErrConstraintConflict)
			}
			return cr.NewStorageError("inserting persona metadata", err)
		}
		out.ID, err = s.lastID(ctx, tx, "persona_metadata", m.PersonaID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) GetPersonaMetadata(ctx context.Context, personaID int64) ([]*cr.PersonaMetadata, error) {
	defer s.readLock()()

	var out []*cr.PersonaMetadata
	err := s.withConn(ctx, func(c Conn) error {
		query := "SELECT m.id, m.persona_id, m.name, m.value, m.justification, m.confidence_id, m.date_added, " +
			"e.id, e.login_name, e.display_name FROM persona_metadata m INNER JOIN examiners e ON m.examiner_id = e.id " +
			"WHERE m.persona_id = ? ORDER BY m.id"
		rows, err := c.QueryContext(ctx, s.q(query), personaID)
		if err != nil {
			return cr.NewStorageError("getting persona metadata", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				m       cr.PersonaMetadata
				conf    int
				display sql.NullString
			)
			if err := rows.Scan(&m.ID, &m.PersonaID, &m.Name, &m.Value, &m.Justification, &conf, &m.DateAdded,
				&m.Examiner.ID, &m.Examiner.LoginName, &display); err != nil {
				return cr.NewStorageError("scanning persona metadata", err)
			}
			m.Confidence = cr.Confidence(conf)
			m.Examiner.DisplayName = display.String
			out = append(out, &m)
		}
		return cr.NewStorageError("getting persona metadata", rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AddPersonaAccount links a stored persona to a stored account.
func (s *Store) AddPersonaAccount(ctx context.Context, pa *cr.PersonaAccount) (*cr.PersonaAccount, error) {
	switch {
	case pa == nil:
		return nil, &cr.ValidationError{Field: "persona account", Reason: "is nil"}
	case pa.Persona.ID <= 0:
		return nil, &cr.ValidationError{Field: "persona", Reason: "must be stored"}
	case pa.Account.ID <= 0:
		return nil, &cr.ValidationError{Field: "account", Reason: "must be stored"}
	}
	if err := validConfidence(pa.Confidence); err != nil {
		return nil, err
	}
	defer s.writeLock()()

	out := *pa
	err := s.withTx(ctx, "adding persona account", func(tx dialect.Querier) error {
		ex, err := s.examinerFor(ctx, tx, pa.Examiner.LoginName)
		if err != nil {
			return err
		}
		out.Examiner, out.DateAdded = *ex, s.now()
		query := "INSERT INTO persona_accounts (persona_id, account_id, justification, confidence_id, date_added, examiner_id) " +
			"VALUES (?, ?, ?, ?, ?, ?)"
		_, err = tx.ExecContext(ctx, s.q(query), pa.Persona.ID, pa.Account.ID, pa.Justification, int(pa.Confidence), out.DateAdded, ex.ID)
		if err != nil {
			return cr.NewStorageError("inserting persona account", err)
		}
		out.ID, err = s.lastID(ctx, tx, "persona_accounts", pa.Persona.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) GetPersonaAccounts(ctx context.Context, personaID int64) ([]*cr.PersonaAccount, error) {
	defer s.readLock()()

	var out []*cr.PersonaAccount
	err := s.withConn(ctx, func(c Conn) error {
		query := "SELECT pa.id, pa.justification, pa.confidence_id, pa.date_added, " +
			"e.id, e.login_name, e.display_name, " +
			"a.id, a.account_unique_identifier, " +
			"act.id, act.type_name, act.display_name, act.correlation_type_id, " +
			personaColumns +
			" FROM persona_accounts pa" +
			" INNER JOIN examiners e ON pa.examiner_id = e.id" +
			" INNER JOIN accounts a ON pa.account_id = a.id" +
			" INNER JOIN account_types act ON a.account_type_id = act.id" +
			" INNER JOIN personas p ON pa.persona_id = p.id" +
			" INNER JOIN examiners pe ON p.examiner_id = pe.id" +
			" WHERE pa.persona_id = ? ORDER BY pa.id"
		rows, err := c.QueryContext(ctx, s.q(query), personaID)
		if err != nil {
			return cr.NewStorageError("getting persona accounts", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				pa      cr.PersonaAccount
				conf    int
				display sql.NullString
				ctype   sql.NullInt64
				p       personaRow
			)
			dest := []any{
				&pa.ID, &pa.Justification, &conf, &pa.DateAdded,
				&pa.Examiner.ID, &pa.Examiner.LoginName, &display,
				&pa.Account.ID, &pa.Account.Identifier,
				&pa.Account.Type.ID, &pa.Account.Type.TypeName, &pa.Account.Type.DisplayName, &ctype,
			}
			if err := rows.Scan(append(dest, p.dest()...)...); err != nil {
				return cr.NewStorageError("scanning persona account", err)
			}
			pa.Confidence = cr.Confidence(conf)
			pa.Examiner.DisplayName = display.String
			pa.Account.Type.CorrelationTypeID = int(ctype.Int64)
			pa.Persona = *p.toPersona()
			out = append(out, &pa)
		}
		return cr.NewStorageError("getting persona accounts", rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
