package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/yyri/wecube-platform/internal/domain"
)

// newTestDB starts a disposable PostgreSQL container and applies migrations.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("wecube"),
		tcpostgres.WithUsername("wecube"),
		tcpostgres.WithPassword("wecube"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		terminateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := container.Terminate(terminateCtx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedCatalog(t *testing.T, db *sql.DB) {
	t.Helper()
	stmts := []string{
		`INSERT INTO plugin_config_interfaces (id, package_name, path) VALUES ('iface-1', 'wecmdb', '/wecmdb/host/start')`,
		`INSERT INTO plugin_config_interface_parameters (id, interface_id, type, position, name, data_type, mapping_type, mapping_entity_expression, required)
		 VALUES ('p-2', 'iface-1', 'INPUT', 2, 'ip', 'string', 'entity', 'wecmdb:host.ip', true)`,
		`INSERT INTO plugin_config_interface_parameters (id, interface_id, type, position, name, data_type, mapping_type, mapping_system_variable_name)
		 VALUES ('p-1', 'iface-1', 'INPUT', 1, 'region', 'string', 'system_variable', 'REGION')`,
		`INSERT INTO plugin_config_interface_parameters (id, interface_id, type, position, name, data_type)
		 VALUES ('p-3', 'iface-1', 'OUTPUT', 3, 'result', 'string')`,
		`INSERT INTO system_variables (package_name, name, value, default_value) VALUES ('wecmdb', 'REGION', '', 'cn-north')`,
		`INSERT INTO system_variables (package_name, name, value, status) VALUES ('wecmdb', 'RETIRED', 'x', 'inactive')`,
		`INSERT INTO plugin_instances (id, package_name, host, port, status) VALUES ('inst-1', 'wecmdb', '10.0.0.5', 20000, 'RUNNING')`,
		`INSERT INTO plugin_instances (id, package_name, host, port, status) VALUES ('inst-2', 'monitor', '10.0.0.6', 20001, 'STOPPED')`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed %q: %v", stmt, err)
		}
	}
}

func newBatch(keys ...string) *domain.BatchExecutionJob {
	b := &domain.BatchExecutionJob{
		ID:        uuid.New(),
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	for i, key := range keys {
		b.Jobs = append(b.Jobs, &domain.ExecutionJob{
			ID:                      uuid.New(),
			BatchID:                 b.ID,
			Position:                i,
			RootEntityID:            "guid-" + key,
			PluginConfigInterfaceID: "iface-1",
			PackageName:             "wecmdb",
			EntityName:              "host",
			BusinessKey:             key,
			State:                   domain.JobStateCreated,
			Parameters: []domain.ExecutionJobParameter{
				{Name: "ip", DataType: domain.DataTypeString, MappingType: domain.MappingTypeEntity, MappingEntityExpression: "wecmdb:host.ip", Required: true},
				{Name: "action", DataType: domain.DataTypeString, MappingType: domain.MappingTypeConstant, Value: "start"},
			},
		})
	}
	return b
}

func TestStore_SaveAndCompleteBatch(t *testing.T) {
	db := newTestDB(t)
	store := New(db, 5*time.Second)
	ctx := context.Background()

	b := newBatch("host-a", "host-b")
	if err := store.SaveBatch(ctx, b); err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}

	got, err := store.GetBatch(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	if got.CompletedAt != nil || got.AbandonedAt != nil {
		t.Fatalf("new batch should be open, got completed=%v abandoned=%v", got.CompletedAt, got.AbandonedAt)
	}
	if len(got.Jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(got.Jobs))
	}
	if got.Jobs[0].BusinessKey != "host-a" || got.Jobs[1].BusinessKey != "host-b" {
		t.Errorf("jobs out of order: %s, %s", got.Jobs[0].BusinessKey, got.Jobs[1].BusinessKey)
	}
	if len(got.Jobs[0].Parameters) != 2 || got.Jobs[0].Parameters[1].Value != "start" {
		t.Errorf("parameters not persisted: %+v", got.Jobs[0].Parameters)
	}

	job := b.Jobs[0]
	job.Parameters[0].Value = "10.0.0.9"
	job.State = domain.JobStateCompleted
	job.RecordOutput(domain.Output{ErrorCode: domain.ErrorCodeSuccessful}, `{"errorCode":"0"}`)
	b.Jobs[1].State = domain.JobStateParametersFailed
	b.Jobs[1].Fail("returned null while fetching data with expression: wecmdb:host.ip")
	if err := b.Complete(time.Now()); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if err := store.CompleteBatch(ctx, b); err != nil {
		t.Fatalf("CompleteBatch failed: %v", err)
	}

	got, err = store.GetBatch(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	if got.CompletedAt == nil {
		t.Fatal("expected completion timestamp")
	}
	if got.Jobs[0].State != domain.JobStateCompleted || got.Jobs[0].ReturnJSON != `{"errorCode":"0"}` {
		t.Errorf("job 0 outcome not persisted: %+v", got.Jobs[0])
	}
	if got.Jobs[0].Parameters[0].Value != "10.0.0.9" {
		t.Errorf("resolved value not persisted: %q", got.Jobs[0].Parameters[0].Value)
	}
	if !got.Jobs[1].Failed() || got.Jobs[1].State != domain.JobStateParametersFailed {
		t.Errorf("job 1 failure not persisted: %+v", got.Jobs[1])
	}

	if err := store.CompleteBatch(ctx, b); !errors.Is(err, domain.ErrBatchClosed) {
		t.Errorf("second CompleteBatch: expected ErrBatchClosed, got %v", err)
	}
}

func TestStore_GetBatchNotFound(t *testing.T) {
	store := New(newTestDB(t), 5*time.Second)

	_, err := store.GetBatch(context.Background(), uuid.New())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_IncompleteBatchesAndAbandon(t *testing.T) {
	db := newTestDB(t)
	store := New(db, 5*time.Second)
	ctx := context.Background()

	old := newBatch("host-a")
	old.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	fresh := newBatch("host-b")
	done := newBatch("host-c")
	done.CreatedAt = time.Now().UTC().Add(-3 * time.Hour)

	for _, b := range []*domain.BatchExecutionJob{old, fresh, done} {
		if err := store.SaveBatch(ctx, b); err != nil {
			t.Fatalf("SaveBatch failed: %v", err)
		}
	}
	if err := done.Complete(time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := store.CompleteBatch(ctx, done); err != nil {
		t.Fatalf("CompleteBatch failed: %v", err)
	}

	stale, err := store.GetIncompleteBatches(ctx, time.Now().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("GetIncompleteBatches failed: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != old.ID {
		t.Fatalf("expected only the old open batch, got %+v", stale)
	}

	if err := store.MarkBatchAbandoned(ctx, old.ID, time.Now()); err != nil {
		t.Fatalf("MarkBatchAbandoned failed: %v", err)
	}
	if err := store.MarkBatchAbandoned(ctx, old.ID, time.Now()); !errors.Is(err, domain.ErrBatchClosed) {
		t.Errorf("second MarkBatchAbandoned: expected ErrBatchClosed, got %v", err)
	}
	if err := store.MarkBatchAbandoned(ctx, done.ID, time.Now()); !errors.Is(err, domain.ErrBatchClosed) {
		t.Errorf("abandoning completed batch: expected ErrBatchClosed, got %v", err)
	}

	stale, err = store.GetIncompleteBatches(ctx, time.Now().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("GetIncompleteBatches failed: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("abandoned batch should not be listed, got %d", len(stale))
	}

	// An abandoned batch whose run finishes late still records its outcome.
	if err := old.Complete(time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := store.CompleteBatch(ctx, old); err != nil {
		t.Errorf("late completion of abandoned batch failed: %v", err)
	}
}

func TestStore_Catalog(t *testing.T) {
	db := newTestDB(t)
	seedCatalog(t, db)
	store := New(db, 5*time.Second)
	ctx := context.Background()

	desc, err := store.GetPluginConfigInterface(ctx, "iface-1")
	if err != nil {
		t.Fatalf("GetPluginConfigInterface failed: %v", err)
	}
	if desc.PackageName != "wecmdb" || desc.Path != "/wecmdb/host/start" {
		t.Errorf("unexpected descriptor: %+v", desc)
	}
	if len(desc.Parameters) != 2 {
		t.Fatalf("expected 2 input parameters, got %d", len(desc.Parameters))
	}
	if desc.Parameters[0].Name != "region" || desc.Parameters[1].Name != "ip" {
		t.Errorf("parameters not ordered by position: %+v", desc.Parameters)
	}
	if desc.Parameters[1].MappingType != domain.MappingTypeEntity || !desc.Parameters[1].Required {
		t.Errorf("unexpected ip parameter: %+v", desc.Parameters[1])
	}

	if _, err := store.GetPluginConfigInterface(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing interface: expected ErrNotFound, got %v", err)
	}

	v, err := store.GetSystemVariable(ctx, "wecmdb", "REGION")
	if err != nil {
		t.Fatalf("GetSystemVariable failed: %v", err)
	}
	if v.Value != "" || v.DefaultValue != "cn-north" {
		t.Errorf("unexpected variable: %+v", v)
	}
	if _, err := store.GetSystemVariable(ctx, "wecmdb", "RETIRED"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("inactive variable: expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetSystemVariable(ctx, "monitor", "REGION"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("other package: expected ErrNotFound, got %v", err)
	}

	inst, err := store.GetRunningInstance(ctx, "wecmdb")
	if err != nil {
		t.Fatalf("GetRunningInstance failed: %v", err)
	}
	if inst.Address() != "10.0.0.5:20000" {
		t.Errorf("unexpected instance address %s", inst.Address())
	}
	if _, err := store.GetRunningInstance(ctx, "monitor"); !errors.Is(err, domain.ErrNoRunningInstance) {
		t.Errorf("stopped package: expected ErrNoRunningInstance, got %v", err)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
	version, err := MigrationVersion(ctx, db)
	if err != nil {
		t.Fatalf("MigrationVersion failed: %v", err)
	}
	if version != 1 {
		t.Errorf("expected schema version 1, got %d", version)
	}
}
