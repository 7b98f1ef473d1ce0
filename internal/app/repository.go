package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"crepo/internal/cr"
)

// ResolveType finds a defined correlation type by id, display name or table
// name. Names match case-insensitively.
func (a *App) ResolveType(ctx context.Context, name string) (cr.CorrelationType, error) {
	types, err := a.store.GetDefinedCorrelationTypes(ctx)
	if err != nil {
		return cr.CorrelationType{}, err
	}
	id, idErr := strconv.Atoi(name)
	for _, t := range types {
		if (idErr == nil && t.ID == id) ||
			strings.EqualFold(t.DisplayName, name) ||
			strings.EqualFold(t.TableName, name) {
			return t, nil
		}
	}
	return cr.CorrelationType{}, &cr.ValidationError{Field: "correlation type", Reason: fmt.Sprintf("%q is not defined", name)}
}

// ResolveOrganization finds an organization by name. An empty name selects the
// organization with the lowest id, which is the default one on new repositories.
func (a *App) ResolveOrganization(ctx context.Context, name string) (*cr.Organization, error) {
	orgs, err := a.store.GetOrganizations(ctx)
	if err != nil {
		return nil, err
	}
	var best *cr.Organization
	for _, o := range orgs {
		if name != "" && !strings.EqualFold(o.Name, name) {
			continue
		}
		if best == nil || o.ID < best.ID {
			best = o
		}
	}
	if best == nil {
		return nil, &cr.ValidationError{Field: "organization", Reason: fmt.Sprintf("%q not found", name)}
	}
	return best, nil
}

// LookupResult summarizes what the repository holds for one value.
type LookupResult struct {
	Type       string         `json:"type"`
	Value      string         `json:"value"`
	Instances  []LookupMatch  `json:"instances"`
	Count      int64          `json:"count"`
	Frequency  int            `json:"frequency_percent"`
	KnownBad   bool           `json:"known_bad"`
	BadCases   []string       `json:"notable_cases,omitempty"`
	References []LookupRefHit `json:"references,omitempty"`
}

// LookupMatch is one instance of the looked-up value.
type LookupMatch struct {
	Case        string `json:"case"`
	CaseUUID    string `json:"case_uuid"`
	DataSource  string `json:"data_source"`
	FilePath    string `json:"file_path"`
	KnownStatus string `json:"known_status"`
	Comment     string `json:"comment,omitempty"`
}

// LookupRefHit is a reference set entry holding the looked-up value.
type LookupRefHit struct {
	SetID       int64  `json:"set_id"`
	KnownStatus string `json:"known_status,omitempty"`
	Comment     string `json:"comment,omitempty"`
}

// Lookup gathers the instances, counts and reference hits for value.
func (a *App) Lookup(ctx context.Context, typeName, value string) (*LookupResult, error) {
	t, err := a.ResolveType(ctx, typeName)
	if err != nil {
		return nil, err
	}
	normalized, err := cr.Normalize(t.ID, value)
	if err != nil {
		return nil, err
	}

	res := &LookupResult{Type: t.DisplayName, Value: normalized, Instances: []LookupMatch{}}

	instances, err := a.store.GetArtifactInstancesByTypeValue(ctx, t, value)
	if err != nil {
		return nil, err
	}
	for _, inst := range instances {
		res.Instances = append(res.Instances, LookupMatch{
			Case:        inst.Case.DisplayName,
			CaseUUID:    inst.Case.UUID,
			DataSource:  inst.DataSource.Name,
			FilePath:    inst.FilePath,
			KnownStatus: inst.KnownStatus.String(),
			Comment:     inst.Comment,
		})
	}

	if res.Count, err = a.store.CountArtifactInstancesByTypeValue(ctx, t, value); err != nil {
		return nil, err
	}
	if res.Frequency, err = a.store.FrequencyPercentage(ctx, &cr.Instance{Type: t, Value: value}); err != nil {
		return nil, err
	}
	if res.BadCases, err = a.store.GetListCasesHavingArtifactInstancesKnownBad(ctx, t, value); err != nil {
		return nil, err
	}
	if res.KnownBad, err = a.store.IsArtifactKnownBadByReference(ctx, t, value); err != nil {
		return nil, err
	}
	res.KnownBad = res.KnownBad || len(res.BadCases) > 0

	refs, err := a.store.GetReferenceInstancesByTypeValue(ctx, t, value)
	if err != nil {
		return nil, err
	}
	for _, ri := range refs {
		hit := LookupRefHit{SetID: ri.SetID, Comment: ri.Comment}
		if ri.KnownStatus != nil {
			hit.KnownStatus = ri.KnownStatus.String()
		}
		res.References = append(res.References, hit)
	}
	return res, nil
}

// TagRequest identifies the instance to tag. The case and data source are
// created when they are not stored yet.
type TagRequest struct {
	Type               string
	Value              string
	CaseUUID           string
	DataSourceObjectID int64
	DataSourceName     string
	FilePath           string
	Comment            string
	Status             cr.KnownStatus
}

func (a *App) Tag(ctx context.Context, req TagRequest) error {
	t, err := a.ResolveType(ctx, req.Type)
	if err != nil {
		return err
	}
	if req.CaseUUID == "" {
		return &cr.ValidationError{Field: "case", Reason: "is required"}
	}

	c, err := a.store.GetCaseByUUID(ctx, req.CaseUUID)
	if err != nil {
		return err
	}
	if c == nil {
		c = &cr.Case{UUID: req.CaseUUID, DisplayName: req.CaseUUID, CreationDate: a.clock.Now().UTC().Format(caseDateLayout)}
	}
	ds := &cr.DataSource{ObjectID: req.DataSourceObjectID, Name: req.DataSourceName, DeviceID: req.CaseUUID}
	if c.ID > 0 {
		stored, err := a.store.GetDataSource(ctx, c.ID, req.DataSourceObjectID)
		if err != nil {
			return err
		}
		if stored != nil {
			ds = stored
		}
	}
	if ds.Name == "" {
		ds.Name = fmt.Sprintf("datasource-%d", ds.ObjectID)
	}

	inst := &cr.Instance{
		Type:       t,
		Value:      req.Value,
		Case:       c,
		DataSource: ds,
		FilePath:   req.FilePath,
		Comment:    req.Comment,
	}
	if err := a.store.SetAttributeInstanceKnownStatus(ctx, inst, req.Status); err != nil {
		return err
	}
	a.log.Info("instance tagged", "type", t.DisplayName, "case_uid", c.UUID, "status", req.Status.String())
	return nil
}

// caseDateLayout formats case creation dates, e.g. "2024/01/15 10:30:00 (UTC)".
const caseDateLayout = "2006/01/02 15:04:05 (MST)"

// ImportRequest describes a reference set to create from a hash list.
type ImportRequest struct {
	Name         string
	Version      string
	Organization string
	Type         string
	Status       cr.KnownStatus
	ReadOnly     bool
}

// ImportReferenceSet creates a reference set and fills it from r. Each line is a
// value optionally followed by a comma and a comment. Blank lines and lines
// starting with '#' are skipped. The set is removed again when any entry fails,
// so an import either lands completely or not at all.
func (a *App) ImportReferenceSet(ctx context.Context, r io.Reader, req ImportRequest) (*cr.ReferenceSet, int, error) {
	typeName := req.Type
	if typeName == "" {
		typeName = strconv.Itoa(cr.FilesTypeID)
	}
	t, err := a.ResolveType(ctx, typeName)
	if err != nil {
		return nil, 0, err
	}
	org, err := a.ResolveOrganization(ctx, req.Organization)
	if err != nil {
		return nil, 0, err
	}

	status := req.Status
	var entries []*cr.ReferenceInstance
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		value, comment, _ := strings.Cut(text, ",")
		entries = append(entries, &cr.ReferenceInstance{
			Value:       strings.TrimSpace(value),
			Comment:     strings.TrimSpace(comment),
			KnownStatus: &status,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, 0, fmt.Errorf("reading reference entries: %w", err)
	}
	if len(entries) == 0 {
		return nil, 0, &cr.ValidationError{Field: "reference entries", Reason: "input holds no values"}
	}

	set := &cr.ReferenceSet{
		OrgID:       org.ID,
		Name:        req.Name,
		Version:     req.Version,
		KnownStatus: &status,
		ReadOnly:    req.ReadOnly,
		Type:        &t,
	}
	if _, err := a.store.NewReferenceSet(ctx, set); err != nil {
		return nil, 0, err
	}
	for _, e := range entries {
		e.SetID = set.ID
	}
	if err := a.store.BulkInsertReferenceTypeEntries(ctx, entries, t); err != nil {
		if derr := a.store.DeleteReferenceSet(ctx, set.ID); derr != nil {
			a.log.Error("removing partially imported reference set", "set_id", set.ID, "error", derr)
		}
		return nil, 0, err
	}
	a.log.Info("reference set imported", "set_id", set.ID, "name", set.Name, "version", set.Version, "entries", len(entries))
	return set, len(entries), nil
}
