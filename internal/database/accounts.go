package database

import (
	"context"
	"database/sql"
	"errors"

	"crepo/internal/cr"
	"crepo/internal/database/dialect"
)

const accountTypeColumns = "id, type_name, display_name, correlation_type_id"

func scanAccountType(sc scanner) (*cr.AccountType, error) {
	var (
		at     cr.AccountType
		typeID sql.NullInt64
	)
	if err := sc.Scan(&at.ID, &at.TypeName, &at.DisplayName, &typeID); err != nil {
		return nil, err
	}
	at.CorrelationTypeID = int(typeID.Int64)
	return &at, nil
}

// GetAccountTypeByName returns the account type named name. Both hits and misses are
// cached for the life of the store.
func (s *Store) GetAccountTypeByName(ctx context.Context, name string) (*cr.AccountType, error) {
	if name == "" {
		return nil, &cr.ValidationError{Field: "account type name", Reason: "is required"}
	}
	defer s.readLock()()

	if l, ok := s.cache.getAccountType(name); ok {
		if !l.found {
			return nil, nil
		}
		at := l.value
		return &at, nil
	}

	var found *cr.AccountType
	err := s.withConn(ctx, func(c Conn) error {
		at, err := scanAccountType(c.QueryRowContext(ctx, s.q("SELECT "+accountTypeColumns+" FROM account_types WHERE type_name = ?"), name))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return cr.NewStorageError("getting account type", err)
		}
		found = at
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		s.cache.putAccountType(name, lookup[cr.AccountType]{})
		return nil, nil
	}
	s.cache.putAccountType(name, lookup[cr.AccountType]{value: *found, found: true})
	return found, nil
}

func (s *Store) GetAllAccountTypes(ctx context.Context) ([]*cr.AccountType, error) {
	defer s.readLock()()

	var out []*cr.AccountType
	err := s.withConn(ctx, func(c Conn) error {
		rows, err := c.QueryContext(ctx, "SELECT "+accountTypeColumns+" FROM account_types ORDER BY id")
		if err != nil {
			return cr.NewStorageError("getting account types", err)
		}
		defer rows.Close()
		for rows.Next() {
			at, err := scanAccountType(rows)
			if err != nil {
				return cr.NewStorageError("scanning account type", err)
			}
			out = append(out, at)
		}
		return cr.NewStorageError("getting account types", rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func validateAccountType(at cr.AccountType) error {
	if at.ID <= 0 {
		return &cr.ValidationError{Field: "account type", Reason: "must be stored"}
	}
	if at.TypeName == "" {
		return &cr.ValidationError{Field: "account type name", Reason: "is required"}
	}
	return nil
}

func (s *Store) queryAccount(ctx context.Context, q dialect.Querier, at cr.AccountType, identifier string) (*cr.Account, error) {
	a := cr.Account{Type: at}
	query := "SELECT id, account_unique_identifier FROM accounts WHERE account_type_id = ? AND account_unique_identifier = ?"
	err := q.QueryRowContext(ctx, s.q(query), at.ID, identifier).Scan(&a.ID, &a.Identifier)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, cr.NewStorageError("getting account", err)
	}
	return &a, nil
}

// getAccount is the unlocked, cache-first lookup of a normalized identifier.
func (s *Store) getAccount(ctx context.Context, at cr.AccountType, identifier string) (*cr.Account, error) {
	if a, ok := s.cache.getAccount(at.ID, identifier); ok {
		return a, nil
	}
	var found *cr.Account
	err := s.withConn(ctx, func(c Conn) error {
		var err error
		found, err = s.queryAccount(ctx, c, at, identifier)
		return err
	})
	if err != nil || found == nil {
		return nil, err
	}
	s.cache.putAccount(found)
	return found, nil
}

// GetOrCreateAccount returns the account of type at with identifier, creating it when
// absent. The identifier is normalized for the account type first.
func (s *Store) GetOrCreateAccount(ctx context.Context, at cr.AccountType, identifier string) (*cr.Account, error) {
	if err := validateAccountType(at); err != nil {
		return nil, err
	}
	id, err := cr.NormalizeAccountID(at.TypeName, identifier)
	if err != nil {
		return nil, err
	}
	defer s.writeLock()()

	if a, err := s.getAccount(ctx, at, id); err != nil || a != nil {
		return a, err
	}
	err = s.withConn(ctx, func(c Conn) error {
		query := s.d.InsertOrIgnore("accounts (account_type_id, account_unique_identifier) VALUES (?, ?)")
		if _, err := c.ExecContext(ctx, s.q(query), at.ID, id); err != nil {
			return cr.NewStorageError("inserting account", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	a, err := s.getAccount(ctx, at, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, cr.NewStorageError("creating account", errors.New("account missing after insert"))
	}
	return a, nil
}

func (s *Store) GetAccount(ctx context.Context, at cr.AccountType, identifier string) (*cr.Account, error) {
	if err := validateAccountType(at); err != nil {
		return nil, err
	}
	id, err := cr.NormalizeAccountID(at.TypeName, identifier)
	if err != nil {
		return nil, err
	}
	defer s.readLock()()
	return s.getAccount(ctx, at, id)
}

// GetCaseIDsForAccount returns the distinct ids of cases holding instances linked to
// the account.
func (s *Store) GetCaseIDsForAccount(ctx context.Context, accountID int64) ([]int64, error) {
	defer s.readLock()()

	types, err := s.correlationTypes(ctx)
	if err != nil {
		return nil, err
	}
	var (
		query string
		args  []any
	)
	for _, t := range types {
		if !t.HasAccount() {
			continue
		}
		if query != "" {
			query += " UNION "
		}
		query += "SELECT case_id FROM " + t.InstanceTable() + " WHERE account_id = ?"
		args = append(args, accountID)
	}
	if query == "" {
		return nil, nil
	}

	var ids []int64
	err = s.withConn(ctx, func(c Conn) error {
		rows, err := c.QueryContext(ctx, s.q("SELECT case_id FROM ("+query+") account_cases ORDER BY case_id"), args...)
		if err != nil {
			return cr.NewStorageError("getting cases for account", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return cr.NewStorageError("scanning case id", err)
			}
			ids = append(ids, id)
		}
		return cr.NewStorageError("getting cases for account", rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
