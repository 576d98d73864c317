package testutil

import (
	"net/url"
	"testing"
)

func TestTestDatabaseURL(t *testing.T) {
	for _, k := range []string{"TEST_DATABASE_URL", "TEST_DB_HOST", "TEST_DB_PORT", "TEST_DB_USER", "TEST_DB_PASSWORD", "TEST_DB_NAME", "TEST_DB_SSLMODE"} {
		t.Setenv(k, "")
	}

	t.Run("defaults to the local test database", func(t *testing.T) {
		u, err := url.Parse(TestDatabaseURL())
		if err != nil {
			t.Fatal(err)
		}
		if u.Host != "localhost:55432" {
			t.Errorf("host = %q, want localhost:55432", u.Host)
		}
		if u.User.Username() != "reclaim" || u.Path != "/reclaim" {
			t.Errorf("unexpected credentials or db in %s", u.Redacted())
		}
		if u.Query().Get("sslmode") != "disable" {
			t.Errorf("sslmode = %q", u.Query().Get("sslmode"))
		}
	})

	t.Run("CI overrides host and port", func(t *testing.T) {
		t.Setenv("TEST_DB_HOST", "postgres")
		t.Setenv("TEST_DB_PORT", "5432")
		u, err := url.Parse(TestDatabaseURL())
		if err != nil {
			t.Fatal(err)
		}
		if u.Host != "postgres:5432" {
			t.Errorf("host = %q, want postgres:5432", u.Host)
		}
	})

	t.Run("full URL wins", func(t *testing.T) {
		t.Setenv("TEST_DB_HOST", "ignored")
		t.Setenv("TEST_DATABASE_URL", "postgres://u:p@db:5432/x")
		if got := TestDatabaseURL(); got != "postgres://u:p@db:5432/x" {
			t.Errorf("TestDatabaseURL() = %q", got)
		}
	})
}

func TestWithSearchPath(t *testing.T) {
	got := withSearchPath(t, "postgres://u:p@db:5432/x?sslmode=disable", "t_abc")
	u, err := url.Parse(got)
	if err != nil {
		t.Fatal(err)
	}
	if u.Query().Get("search_path") != "t_abc" || u.Query().Get("sslmode") != "disable" {
		t.Errorf("withSearchPath() = %q", got)
	}
}

func TestRunConcurrent(t *testing.T) {
	errs := RunConcurrent(
		func() error { return nil },
		func() error { return errBoom },
	)
	if len(errs) != 2 || errs[0] != nil || errs[1] != errBoom {
		t.Errorf("RunConcurrent() = %v", errs)
	}
}

var errBoom = errorString("boom")

type errorString string

func (e errorString) Error() string { return string(e) }
