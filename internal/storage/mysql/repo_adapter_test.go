package mysql

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/go-sql-driver/mysql"

	"datasets/internal/storage"
	"datasets/internal/storage/storagetest"
)

func TestMySQLStorageRegistrationUsesNewRepositoryHook(t *testing.T) {
	ctx := context.Background()

	origNewRepository := newRepository
	defer func() { newRepository = origNewRepository }()

	var (
		gotCfg   Config
		closed   bool
		fakeRepo = &Repository{}
	)
	newRepository = func(ctx context.Context, cfg Config) (*Repository, func(), error) {
		gotCfg = cfg
		return fakeRepo, func() { closed = true }, nil
	}

	st, err := storage.New(ctx, storage.Config{Kind: "mysql", DSN: "u:p@tcp(db:3306)/ds", SampleSize: 4})
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	if gotCfg.DSN != "u:p@tcp(db:3306)/ds" || gotCfg.SampleSize != 4 {
		t.Fatalf("hook cfg = %+v", gotCfg)
	}
	if w, ok := st.(*wrappedRepo); !ok || w.Repository != fakeRepo {
		t.Fatalf("storage.New() = %T, want *wrappedRepo around the hook's repository", st)
	}
	st.Close()
	if !closed {
		t.Fatalf("wrappedRepo.Close() did not invoke closeFn")
	}
}

func TestFactoryPropagatesErrors(t *testing.T) {
	origNewRepository := newRepository
	defer func() { newRepository = origNewRepository }()

	want := errors.New("boom")
	newRepository = func(context.Context, Config) (*Repository, func(), error) { return nil, nil, want }

	if _, err := storage.New(context.Background(), storage.Config{Kind: "mysql"}); !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}

func TestNewRepository_BadDSN(t *testing.T) {
	t.Parallel()

	if _, _, err := NewRepository(context.Background(), Config{DSN: "not a dsn"}); err == nil {
		t.Fatalf("expected DSN error")
	}
}

func TestDialect(t *testing.T) {
	t.Parallel()

	d := dialect{}
	if got := d.Quote("a`b"); got != "`a``b`" {
		t.Fatalf("Quote = %s", got)
	}
	if d.TransactionalDDL() {
		t.Fatalf("mysql DDL must be reported non-transactional")
	}
	if ddl := d.CreateCollection("ds_x"); !strings.HasSuffix(ddl, "DEFAULT CHARSET=utf8mb4") {
		t.Fatalf("CreateCollection = %s", ddl)
	}
	if lock := d.LockRow("x", "`t`", "`id` = ?"); !strings.HasSuffix(lock, " FOR UPDATE") {
		t.Fatalf("LockRow = %s", lock)
	}

	cases := []struct {
		err  error
		want bool
	}{
		{&mysql.MySQLError{Number: 1213}, true},
		{fmt.Errorf("exec: %w", &mysql.MySQLError{Number: 1205}), true},
		{&mysql.MySQLError{Number: 1062}, false},
		{mysql.ErrInvalidConn, true},
		{errors.New("x"), false},
	}
	for _, c := range cases {
		if got := d.Transient(c.err); got != c.want {
			t.Fatalf("Transient(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestStoreConformance(t *testing.T) {
	dsn := storagetest.DSN(t, "DATASETS_TEST_MYSQL_DSN")
	storagetest.Run(t, func(t *testing.T) storage.Store {
		r, closeFn, err := NewRepository(context.Background(), Config{DSN: dsn})
		if err != nil {
			t.Fatalf("NewRepository: %v", err)
		}
		st := &wrappedRepo{Repository: r, closeFn: closeFn}
		storagetest.Reset(t, st)
		return st
	})
}
