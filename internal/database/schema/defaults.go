package schema

import (
	"context"
	"fmt"

	"crepo/internal/cr"
	"crepo/internal/database/dialect"
)

// InsertDefaults seeds the default content of a repository. Every insert skips rows
// that already exist, so it is safe to repeat after a reset.
func (f *Factory) InsertDefaults(ctx context.Context, q dialect.Querier) error {
	for _, t := range cr.DefaultCorrelationTypes() {
		if err := f.InsertCorrelationType(ctx, q, t); err != nil {
			return err
		}
	}
	if err := f.InsertDefaultOrganization(ctx, q); err != nil {
		return err
	}
	if err := f.InsertAccountTypes(ctx, q); err != nil {
		return err
	}
	return f.InsertPersonaDefaults(ctx, q)
}

// InsertCorrelationType registers t with its explicit id unless a row with the same id,
// display name or table already exists.
func (f *Factory) InsertCorrelationType(ctx context.Context, q dialect.Querier, t cr.CorrelationType) error {
	query := f.d.Rebind(f.d.InsertOrIgnore(
		"correlation_types (id, display_name, db_table_name, supported, enabled) VALUES (?, ?, ?, ?, ?)"))
	if _, err := q.ExecContext(ctx, query, t.ID, t.DisplayName, t.TableName, boolInt(t.Supported), boolInt(t.Enabled)); err != nil {
		return fmt.Errorf("inserting correlation type %s: %w", t.DisplayName, err)
	}
	return f.SyncCorrelationTypeIDs(ctx, q)
}

// SyncCorrelationTypeIDs keeps the id sequence of correlation_types ahead of the
// explicit ids written into it.
func (f *Factory) SyncCorrelationTypeIDs(ctx context.Context, q dialect.Querier) error {
	stmt := f.d.SyncSequence(CorrelationTypes)
	if stmt == "" {
		return nil
	}
	if _, err := q.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("syncing correlation type ids: %w", err)
	}
	return nil
}

// CreateInstanceTable creates the instance table of t with its indexes, plus the
// reference table where the type has one.
func (f *Factory) CreateInstanceTable(ctx context.Context, q dialect.Querier, t cr.CorrelationType) error {
	stmts := []string{f.InstanceTable(t)}
	stmts = append(stmts, f.InstanceIndexes(t.InstanceTable())...)
	if ref, ok := t.ReferenceTable(); ok {
		stmts = append(stmts, f.ReferenceTable(ref))
		stmts = append(stmts, f.ReferenceIndexes(ref)...)
	}
	return Exec(ctx, q, stmts...)
}

// InsertDefaultOrganization adds the "Not Specified" organization.
func (f *Factory) InsertDefaultOrganization(ctx context.Context, q dialect.Querier) error {
	query := f.d.Rebind(f.d.InsertOrIgnore("organizations (org_name, poc_name, poc_email, poc_phone) VALUES (?, ?, ?, ?)"))
	if _, err := q.ExecContext(ctx, query, DefaultOrganizationName, "", "", ""); err != nil {
		return fmt.Errorf("inserting default organization: %w", err)
	}
	return nil
}

// InsertAccountTypes adds every predefined account type.
func (f *Factory) InsertAccountTypes(ctx context.Context, q dialect.Querier) error {
	query := f.d.Rebind(f.d.InsertOrIgnore("account_types (type_name, display_name, correlation_type_id) VALUES (?, ?, ?)"))
	for _, at := range cr.PredefinedAccountTypes {
		if _, err := q.ExecContext(ctx, query, at.TypeName, at.DisplayName, at.CorrelationTypeID); err != nil {
			return fmt.Errorf("inserting account type %s: %w", at.TypeName, err)
		}
	}
	return nil
}

// InsertPersonaDefaults adds the confidence levels and persona statuses.
func (f *Factory) InsertPersonaDefaults(ctx context.Context, q dialect.Querier) error {
	conf := f.d.Rebind(f.d.InsertOrIgnore("confidence (confidence_id, description) VALUES (?, ?)"))
	for _, c := range cr.Confidences {
		if _, err := q.ExecContext(ctx, conf, int(c), c.String()); err != nil {
			return fmt.Errorf("inserting confidence %d: %w", int(c), err)
		}
	}
	status := f.d.Rebind(f.d.InsertOrIgnore("persona_status (status_id, status) VALUES (?, ?)"))
	for _, s := range cr.PersonaStatuses {
		if _, err := q.ExecContext(ctx, status, int(s), s.String()); err != nil {
			return fmt.Errorf("inserting persona status %d: %w", int(s), err)
		}
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
