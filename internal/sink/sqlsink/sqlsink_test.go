package sqlsink

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/ingest/internal/schema"
	"github.com/JonMunkholm/ingest/internal/sink"
)

func openTestSQLite(t *testing.T) *Sink {
	t.Helper()
	s, err := OpenSQLite(context.Background(), sink.Config{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "ingest.db"),
		Table:  "users",
		Schema: schema.People,
	})
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ss := s.(*Sink)
	if err := ss.EnsureTable(context.Background()); err != nil {
		t.Fatalf("EnsureTable() error = %v", err)
	}
	return ss
}

func person(row int, first string, pet any) schema.ValidatedRecord {
	return schema.ValidatedRecord{Row: row, Values: map[string]any{
		"firstname":    first,
		"lastname":     "Test",
		"birthday":     time.Date(1990, 1, row%28+1, 0, 0, 0, 0, time.UTC),
		"favorite_pet": pet,
	}}
}

// ============================================================================
// SQLite round trip
// ============================================================================

func TestSQLite_BulkWriteAndRecent(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	if err := s.BulkWrite(ctx, []schema.ValidatedRecord{person(1, "Ada", "cat"), person(2, "Alan", nil)}); err != nil {
		t.Fatalf("BulkWrite() error = %v", err)
	}
	if err := s.BulkWrite(ctx, []schema.ValidatedRecord{person(3, "Grace", "dog")}); err != nil {
		t.Fatalf("BulkWrite() error = %v", err)
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent() = %d rows, want 2", len(got))
	}
	if got[0]["firstname"] != "Grace" || got[1]["firstname"] != "Alan" {
		t.Errorf("order = %v, %v; want Grace then Alan", got[0]["firstname"], got[1]["firstname"])
	}
	if got[1]["favorite_pet"] != nil {
		t.Errorf("favorite_pet = %#v, want nil", got[1]["favorite_pet"])
	}
	if got[0]["birthday"] != "1990-01-04" {
		t.Errorf("birthday = %#v, want 1990-01-04", got[0]["birthday"])
	}
	if got[0]["created_at"] == nil || got[0]["id"] == nil {
		t.Errorf("id/created_at missing: %v", got[0])
	}
}

func TestSQLite_BatchIsAtomic(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	// lastname is NOT NULL; the bad row is in the last statement of the batch.
	s.d.MaxParams = 8 // two rows per INSERT
	bad := person(3, "Bad", nil)
	bad.Values["lastname"] = nil
	batch := []schema.ValidatedRecord{person(1, "A", nil), person(2, "B", nil), bad}

	if err := s.BulkWrite(ctx, batch); err == nil {
		t.Fatal("BulkWrite() expected error for NULL lastname")
	} else if !strings.Contains(err.Error(), "rows 3-3") {
		t.Errorf("error = %v, want row range", err)
	}

	got, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("rows after failed batch = %d, want 0", len(got))
	}
}

func TestSQLite_EnsureTableIdempotent(t *testing.T) {
	s := openTestSQLite(t)
	if err := s.EnsureTable(context.Background()); err != nil {
		t.Errorf("second EnsureTable() error = %v", err)
	}
}

func TestSQLite_RecentEdgeCases(t *testing.T) {
	s := openTestSQLite(t)
	got, err := s.Recent(context.Background(), 0)
	if err != nil || got != nil {
		t.Errorf("Recent(0) = %v, %v", got, err)
	}
	got, err = s.Recent(context.Background(), 5)
	if err != nil || len(got) != 0 {
		t.Errorf("Recent(empty table) = %v, %v", got, err)
	}
}

func TestSQLite_ViaRegistry(t *testing.T) {
	s, err := sink.Open(context.Background(), sink.Config{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "reg.db"),
		Table:  "users",
		Schema: schema.People,
	})
	if err != nil {
		t.Fatalf("sink.Open() error = %v", err)
	}
	defer s.Close()
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

// ============================================================================
// SQL rendering
// ============================================================================

func TestDialect_CreateTableSQL(t *testing.T) {
	tests := []struct {
		d    Dialect
		want []string
	}{
		{SQLite, []string{
			`CREATE TABLE IF NOT EXISTS "users"`,
			"id INTEGER PRIMARY KEY AUTOINCREMENT",
			`"birthday" TEXT NOT NULL`,
			`"favorite_pet" TEXT,`,
		}},
		{MySQL, []string{
			"CREATE TABLE IF NOT EXISTS `users`",
			"id BIGINT AUTO_INCREMENT PRIMARY KEY",
			"`birthday` DATE NOT NULL",
			"created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP",
		}},
		{SQLServer, []string{
			"IF OBJECT_ID(N'users', N'U') IS NULL\nCREATE TABLE [users]",
			"id BIGINT IDENTITY(1,1) PRIMARY KEY",
			"[firstname] NVARCHAR(MAX) NOT NULL",
			"[birthday] DATE NOT NULL",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.d.Name, func(t *testing.T) {
			sql := tt.d.CreateTableSQL("users", schema.People.Fields)
			for _, w := range tt.want {
				if !strings.Contains(sql, w) {
					t.Errorf("DDL missing %q:\n%s", w, sql)
				}
			}
		})
	}
}

func TestSink_InsertSQL(t *testing.T) {
	tests := []struct {
		d    Dialect
		want string
	}{
		{SQLite, `INSERT INTO "users" ("firstname", "lastname", "birthday", "favorite_pet") VALUES (?, ?, ?, ?), (?, ?, ?, ?)`},
		{SQLServer, `INSERT INTO [users] ([firstname], [lastname], [birthday], [favorite_pet]) VALUES (@p1, @p2, @p3, @p4), (@p5, @p6, @p7, @p8)`},
	}

	for _, tt := range tests {
		t.Run(tt.d.Name, func(t *testing.T) {
			s, err := New(nil, tt.d, "users", schema.People)
			if err != nil {
				t.Fatal(err)
			}
			q, args := s.insert([]schema.ValidatedRecord{person(1, "A", nil), person(2, "B", "cat")})
			if q != tt.want {
				t.Errorf("insert =\n%s\nwant\n%s", q, tt.want)
			}
			if len(args) != 8 || args[0] != "A" || args[7] != "cat" {
				t.Errorf("args = %v", args)
			}
		})
	}
}

func TestSQLite_EncodesDates(t *testing.T) {
	s, _ := New(nil, SQLite, "users", schema.People)
	_, args := s.insert([]schema.ValidatedRecord{person(1, "A", nil)})
	if args[2] != "1990-01-02" {
		t.Errorf("birthday arg = %#v, want ISO string", args[2])
	}
}

func TestDialect_RecentSQL(t *testing.T) {
	cols := []string{"id", "firstname"}
	if got := SQLite.recentSQL("users", cols); got != `SELECT "id", "firstname" FROM "users" ORDER BY id DESC LIMIT ?` {
		t.Errorf("sqlite recent = %s", got)
	}
	if got := SQLServer.recentSQL("users", cols); got != `SELECT TOP (@p1) [id], [firstname] FROM [users] ORDER BY id DESC` {
		t.Errorf("sqlserver recent = %s", got)
	}
}

func TestDialect_RowsPerStatement(t *testing.T) {
	tests := []struct {
		d    Dialect
		cols int
		want int
	}{
		{SQLite, 4, 8191},
		{MySQL, 4, 16383},
		{SQLServer, 4, 524},
		{SQLServer, 1, 1000},
		{Dialect{MaxParams: 3}, 4, 1},
		{SQLite, 0, 1},
	}
	for _, tt := range tests {
		if got := tt.d.rowsPerStatement(tt.cols); got != tt.want {
			t.Errorf("%s rowsPerStatement(%d) = %d, want %d", tt.d.Name, tt.cols, got, tt.want)
		}
	}
}

func TestNew_RejectsBadTable(t *testing.T) {
	if _, err := New(nil, SQLite, "users; drop", schema.People); err == nil {
		t.Error("New() accepted an unsafe table name")
	}
}

func TestMySQLConfig(t *testing.T) {
	mc, err := mysqlConfig(sink.Config{DSN: "u:p@tcp(localhost:3306)/ingest", ConnectTimeout: 3 * time.Second})
	if err != nil {
		t.Fatalf("mysqlConfig() error = %v", err)
	}
	if !mc.ParseTime || mc.DBName != "ingest" || mc.Timeout != 3*time.Second {
		t.Errorf("config = %+v", mc)
	}
	if _, err := mysqlConfig(sink.Config{DSN: "not a dsn"}); err == nil {
		t.Error("mysqlConfig() accepted malformed DSN")
	}
}
