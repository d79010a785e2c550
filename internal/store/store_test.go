package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "TopEquations/internal/errors"
	"TopEquations/internal/registry"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, _, err := s.Read(ctx, DocSubmissions); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := s.Stat(ctx, DocEquations); !xerrors.IsCode(err, xerrors.CodeNotFound) {
		t.Fatalf("expected not found stat, got %v", err)
	}

	if err := s.Write(ctx, DocSubmissions, []byte(`{"entries":[]}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Write(ctx, DocSubmissions, []byte(`{"entries":[1]}`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	data, stamp, err := s.Read(ctx, DocSubmissions)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != `{"entries":[1]}` {
		t.Fatalf("unexpected body: %s", data)
	}
	if stamp.IsZero() {
		t.Fatalf("stamp should be set")
	}
	statStamp, err := s.Stat(ctx, DocSubmissions)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !statStamp.Equal(stamp) {
		t.Fatalf("stat stamp mismatch: %v vs %v", statStamp, stamp)
	}

	receipt := SubmitterReceipt("sub-2026-02-20-entropy-gate")
	if err := s.Write(ctx, receipt, []byte("{}\n")); err != nil {
		t.Fatalf("write nested doc: %v", err)
	}
	if _, _, err := s.Read(ctx, receipt); err != nil {
		t.Fatalf("read nested doc: %v", err)
	}

	if err := s.Write(ctx, Document("../escape"), []byte("{}")); !xerrors.IsCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid document name, got %v", err)
	}
}

func TestFileStore(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	exerciseStore(t, s)

	if _, err := os.Stat(filepath.Join(dir, "certificates", "receipts", "receipt-sub-2026-02-20-entropy-gate.json")); err != nil {
		t.Fatalf("receipt not written to expected path: %v", err)
	}
	leftovers, _ := filepath.Glob(filepath.Join(dir, ".tmp-*"))
	if len(leftovers) != 0 {
		t.Fatalf("temporary files left behind: %v", leftovers)
	}
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	fixed := time.Date(2026, 2, 20, 9, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return fixed })
	exerciseStore(t, s)

	stamp, err := s.Stat(context.Background(), DocSubmissions)
	if err != nil || !stamp.Equal(fixed) {
		t.Fatalf("memory stamp should follow clock: %v %v", stamp, err)
	}
}

func TestSQLStoreSQLite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "topeq.db") + "?_pragma=busy_timeout(5000)"
	s, err := NewSQLStore(ctx, SQLConfig{Dialect: DialectSQLite, DSN: dsn})
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)

	count, err := s.History(ctx, DocSubmissions)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 history rows, got %d", count)
	}

	again, err := NewSQLStore(ctx, SQLConfig{Dialect: DialectSQLite, DSN: dsn})
	if err != nil {
		t.Fatalf("re-running migrations should be idempotent: %v", err)
	}
	again.Close()
}

func TestSQLStoreRejectsBadConfig(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	if _, err := NewSQLStore(ctx, SQLConfig{Dialect: DialectSQLite}); !xerrors.IsCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument for empty dsn, got %v", err)
	}
	if _, err := NewSQLStore(ctx, SQLConfig{Dialect: DialectMySQL, DSN: "not a dsn"}); !xerrors.IsCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid mysql dsn, got %v", err)
	}
	if _, err := NewSQLStore(ctx, SQLConfig{Dialect: "oracle", DSN: "x"}); err == nil {
		t.Fatalf("expected unsupported dialect error")
	}
}

func TestMigrationFilesPerDialect(t *testing.T) {
	t.Parallel()
	for _, dialect := range []Dialect{DialectMySQL, DialectSQLite} {
		files, err := loadMigrationFiles(dialect)
		if err != nil {
			t.Fatalf("load %s migrations: %v", dialect, err)
		}
		if len(files) != 2 || files[0].version != "0001" || files[1].version != "0002" {
			t.Fatalf("unexpected %s migrations: %+v", dialect, files)
		}
	}
	if got := splitSQLStatements("CREATE TABLE a (x INT);\n\n;CREATE INDEX i ON a (x);"); len(got) != 2 {
		t.Fatalf("unexpected statements: %v", got)
	}
	if parseMigrationVersion("0003_add.sql") != "0003" || parseMigrationVersion("0004.sql") != "0004" {
		t.Fatalf("unexpected version parsing")
	}
}

func TestRegistryStampsLastUpdated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg := NewRegistry(NewMemoryStore(), func() time.Time { return now })

	subs, err := reg.LoadSubmissions(ctx)
	if err != nil {
		t.Fatalf("load empty submissions: %v", err)
	}
	if subs.Entries == nil || len(subs.Entries) != 0 {
		t.Fatalf("expected empty, non-nil entries")
	}
	subs.Entries = append(subs.Entries, &registry.Submission{SubmissionID: "sub-1", Name: "A <b>"})
	if err := reg.SaveSubmissions(ctx, subs); err != nil {
		t.Fatalf("save: %v", err)
	}

	raw, err := reg.Raw(ctx, DocSubmissions)
	if err != nil {
		t.Fatalf("raw: %v", err)
	}
	text := string(raw)
	if !strings.Contains(text, `"lastUpdated": "2026-03-01"`) {
		t.Fatalf("lastUpdated not stamped: %s", text)
	}
	if !strings.Contains(text, `"A <b>"`) || !strings.HasSuffix(text, "}\n") {
		t.Fatalf("expected unescaped html and trailing newline: %q", text)
	}

	loaded, err := reg.LoadSubmissions(ctx)
	if err != nil || loaded.Find("sub-1") == nil {
		t.Fatalf("reload failed: %v", err)
	}

	missing, err := reg.Raw(ctx, DocCore)
	if err != nil || missing != nil {
		t.Fatalf("missing raw document should be nil: %v", err)
	}
	if ok, err := reg.Exists(ctx, DocEquations); err != nil || ok {
		t.Fatalf("equations should not exist yet")
	}
}

func TestFileLockerExcludesSecondHolder(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "locks", ".topeq.lock")
	first := NewFileLocker(path, time.Second)
	unlock, err := first.Lock(context.Background())
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}

	second := NewFileLocker(path, 150*time.Millisecond)
	if _, err := second.Lock(context.Background()); !xerrors.IsCode(err, xerrors.CodeLockFailure) {
		t.Fatalf("expected lock failure while held, got %v", err)
	}

	if err := unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	unlock2, err := second.Lock(context.Background())
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	unlock2()
}

func TestNewLockerDrivers(t *testing.T) {
	t.Parallel()
	if l, err := NewLocker("none", "", "", "", 0); err != nil {
		t.Fatalf("nop locker: %v", err)
	} else if _, ok := l.(NopLocker); !ok {
		t.Fatalf("expected NopLocker, got %T", l)
	}
	if _, err := NewLocker("redis", "", "", "k", time.Second); err == nil {
		t.Fatalf("redis locker without address should fail")
	}
	if _, err := NewLocker("etcd", "", "", "", 0); err == nil {
		t.Fatalf("unknown driver should fail")
	}
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("TOPEQ_REDIS_ADDR")
	if addr == "" {
		t.Skip("TOPEQ_REDIS_ADDR 未设置")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	key := "topeq:test:lock:" + t.Name()

	first := NewRedisLocker(client, key, time.Second)
	unlock, err := first.Lock(context.Background())
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	second := NewRedisLocker(client, key, 200*time.Millisecond)
	if _, err := second.Lock(context.Background()); !xerrors.IsCode(err, xerrors.CodeLockFailure) {
		t.Fatalf("expected lock failure, got %v", err)
	}
	if err := unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
}
