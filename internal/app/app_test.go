package app

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"

	"crepo/internal/config"
	"crepo/internal/cr"
	"crepo/internal/testutil"
)

const emptyMD5 = "d41d8cd98f00b204e9800998ecf8427e"

// newTestApp wires an App around an initialized test store, an in-memory
// archive and plaintext snapshots.
func newTestApp(t *testing.T) *App {
	t.Helper()
	clock := testutil.FixedClock()
	return &App{
		cfg:       config.NewConfig(t.TempDir()),
		store:     testutil.NewTestStore(t),
		archive:   testutil.NewTestArchive(),
		encryptor: testutil.NewTestEncryptor(),
		registry:  prometheus.NewRegistry(),
		log:       cr.NewNopLogger(),
		clock:     clock,
		op:        NewOperation("test", clock),
	}
}

// newConfiguredApp builds an App through New on a fresh sqlite repository.
func newConfiguredApp(t *testing.T, mutate func(*config.Config)) *App {
	t.Helper()
	cfg := config.NewConfig(t.TempDir())
	if mutate != nil {
		mutate(cfg)
	}
	a, err := New(context.Background(), cfg, "test", false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestApp_InitAndOpen(t *testing.T) {
	ctx := context.Background()
	a := newConfiguredApp(t, nil)

	if err := a.Open(ctx); !errors.Is(err, cr.ErrRepositoryMissing) {
		t.Fatalf("Open() before init error = %v, want ErrRepositoryMissing", err)
	}
	if err := a.InitDatabase(ctx); err != nil {
		t.Fatalf("InitDatabase() error = %v", err)
	}
	if err := a.Open(ctx); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := a.InitDatabase(ctx); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("second InitDatabase() error = %v, want ErrAlreadyInitialized", err)
	}
}

func TestApp_OpenOutdatedSchema(t *testing.T) {
	ctx := context.Background()
	a := newConfiguredApp(t, nil)
	if err := a.InitDatabase(ctx); err != nil {
		t.Fatalf("InitDatabase() error = %v", err)
	}
	if err := a.Store().UpdateDBInfo(ctx, cr.SchemaMinorVersionKey, "2"); err != nil {
		t.Fatalf("UpdateDBInfo() error = %v", err)
	}
	if err := a.Open(ctx); !errors.Is(err, ErrSchemaOutdated) {
		t.Errorf("Open() error = %v, want ErrSchemaOutdated", err)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.NewConfig(t.TempDir())
	cfg.Backup.Archive = config.ArchiveConfig{Type: "tape"}
	if _, err := New(context.Background(), cfg, "test", false); err == nil {
		t.Error("New() expected error for unknown archive type")
	}
}

func TestApp_RegistryExposesStoreMetrics(t *testing.T) {
	a := newConfiguredApp(t, nil)
	families, err := a.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	var found bool
	for _, mf := range families {
		if mf.GetName() == "crepo_store_bulk_flushes_total" {
			found = true
		}
	}
	if !found {
		t.Error("registry does not expose crepo_store_bulk_flushes_total")
	}
}

func TestApp_ResolveType(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		input   string
		wantID  int
		wantErr bool
	}{
		{name: "by id", input: "0", wantID: cr.FilesTypeID},
		{name: "by display name", input: "files", wantID: cr.FilesTypeID},
		{name: "by table name", input: "email_address", wantID: cr.EmailTypeID},
		{name: "unknown", input: "bluetooth", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.ResolveType(ctx, tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ResolveType(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got.ID != tt.wantID {
				t.Errorf("ResolveType(%q).ID = %d, want %d", tt.input, got.ID, tt.wantID)
			}
		})
	}
}

func TestApp_TagAndLookup(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	req := TagRequest{
		Type:               "files",
		Value:              strings.ToUpper(emptyMD5),
		CaseUUID:           "case-a",
		DataSourceObjectID: 11,
		FilePath:           "/Users/a/empty.txt",
		Comment:            "seen in phishing kit",
		Status:             cr.KnownStatusBad,
	}
	if err := a.Tag(ctx, req); err != nil {
		t.Fatalf("Tag() error = %v", err)
	}
	// Tagging again reuses the stored case, data source and instance.
	req.Comment = ""
	if err := a.Tag(ctx, req); err != nil {
		t.Fatalf("second Tag() error = %v", err)
	}

	got, err := a.Lookup(ctx, "files", emptyMD5)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	want := &LookupResult{
		Type:  "Files",
		Value: emptyMD5,
		Instances: []LookupMatch{{
			Case:        "case-a",
			CaseUUID:    "case-a",
			DataSource:  "datasource-11",
			FilePath:    "/users/a/empty.txt",
			KnownStatus: "bad",
			Comment:     "seen in phishing kit",
		}},
		Count:     1,
		Frequency: 100,
		KnownBad:  true,
		BadCases:  []string{"case-a"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Lookup() mismatch (-want +got):\n%s", diff)
	}
}

func TestApp_LookupMiss(t *testing.T) {
	a := newTestApp(t)
	got, err := a.Lookup(context.Background(), "files", emptyMD5)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got.Count != 0 || got.KnownBad || len(got.Instances) != 0 {
		t.Errorf("Lookup() on empty repository = %+v", got)
	}
}

func TestApp_TagRequiresCase(t *testing.T) {
	a := newTestApp(t)
	var verr *cr.ValidationError
	err := a.Tag(context.Background(), TagRequest{Type: "files", Value: emptyMD5, Status: cr.KnownStatusBad})
	if !errors.As(err, &verr) {
		t.Errorf("Tag() error = %v, want ValidationError", err)
	}
}

func TestApp_ImportReferenceSet(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	input := strings.Join([]string{
		"# exported hash list",
		emptyMD5 + ",empty file",
		"",
		"0CC175B9C0F1B6A831C399E269772661",
	}, "\n")
	set, n, err := a.ImportReferenceSet(ctx, strings.NewReader(input), ImportRequest{
		Name:    "NSRL",
		Version: "2024.1",
		Status:  cr.KnownStatusKnown,
	})
	if err != nil {
		t.Fatalf("ImportReferenceSet() error = %v", err)
	}
	if n != 2 {
		t.Errorf("ImportReferenceSet() imported %d entries, want 2", n)
	}

	hit, err := a.Store().LookupHash(ctx, "0cc175b9c0f1b6a831c399e269772661", set.ID)
	if err != nil {
		t.Fatalf("LookupHash() error = %v", err)
	}
	if hit == nil {
		t.Fatal("LookupHash() = nil, want hit")
	}
	hit, err = a.Store().LookupHash(ctx, emptyMD5, set.ID)
	if err != nil {
		t.Fatalf("LookupHash() error = %v", err)
	}
	if hit == nil || len(hit.Comments) != 1 || hit.Comments[0] != "empty file" {
		t.Errorf("LookupHash() = %+v, want comment %q", hit, "empty file")
	}

	org, err := a.Store().GetReferenceSetOrganization(ctx, set.ID)
	if err != nil {
		t.Fatalf("GetReferenceSetOrganization() error = %v", err)
	}
	if org == nil {
		t.Error("GetReferenceSetOrganization() = nil, want the default organization")
	}
}

func TestApp_ImportReferenceSetIsAtomic(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	input := emptyMD5 + "\nnot-a-hash\n"
	_, _, err := a.ImportReferenceSet(ctx, strings.NewReader(input), ImportRequest{
		Name:    "broken",
		Version: "1",
		Status:  cr.KnownStatusBad,
	})
	var nerr *cr.NormalizationError
	if !errors.As(err, &nerr) {
		t.Fatalf("ImportReferenceSet() error = %v, want NormalizationError", err)
	}
	exists, err := a.Store().ReferenceSetExists(ctx, "broken", "1")
	if err != nil {
		t.Fatalf("ReferenceSetExists() error = %v", err)
	}
	if exists {
		t.Error("reference set left behind after failed import")
	}
}

func TestApp_ImportReferenceSetEmptyInput(t *testing.T) {
	a := newTestApp(t)
	_, _, err := a.ImportReferenceSet(context.Background(), strings.NewReader("# nothing\n"), ImportRequest{
		Name:   "empty",
		Status: cr.KnownStatusKnown,
	})
	var verr *cr.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("ImportReferenceSet() error = %v, want ValidationError", err)
	}
}

func TestApp_ResolveOrganization(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	if _, err := a.Store().NewOrganization(ctx, &cr.Organization{Name: "Lab North"}); err != nil {
		t.Fatalf("NewOrganization() error = %v", err)
	}

	org, err := a.ResolveOrganization(ctx, "lab north")
	if err != nil {
		t.Fatalf("ResolveOrganization() error = %v", err)
	}
	if org.Name != "Lab North" {
		t.Errorf("ResolveOrganization().Name = %q, want %q", org.Name, "Lab North")
	}
	if _, err := a.ResolveOrganization(ctx, "missing"); err == nil {
		t.Error("ResolveOrganization(missing) expected error")
	}
	def, err := a.ResolveOrganization(ctx, "")
	if err != nil {
		t.Fatalf("ResolveOrganization(\"\") error = %v", err)
	}
	if def.ID == org.ID {
		t.Error("ResolveOrganization(\"\") picked the new organization over the default")
	}
}

func TestApp_CloseLogsOutcome(t *testing.T) {
	a := newConfiguredApp(t, func(c *config.Config) { c.LogDir = filepath.Join(c.BaseDir, "logs") })
	a.Finish(errors.New("lookup failed"))
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if a.Operation().Status() != "error" {
		t.Errorf("Status() = %q, want error", a.Operation().Status())
	}
}
