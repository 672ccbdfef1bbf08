package database

import (
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return sqlx.NewDb(db, "mysql"), mock
}

func TestRunMigrations_CreatesEveryTable(t *testing.T) {
	db, mock := newMockDB(t)

	tables := []string{"contacts", "contact_lists", "list_members", "campaigns", "messages", "credit_wallets", "credit_ledger"}
	for _, table := range tables {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS " + table + " \\(").
			WillReturnResult(sqlmock.NewResult(0, 0))
	}

	if err := RunMigrations(db); err != nil {
		t.Fatalf("RunMigrations returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRunMigrations_StopsAtFirstFailure(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS contacts").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS contact_lists").WillReturnError(errors.New("access denied"))

	err := RunMigrations(db)
	if err == nil {
		t.Fatalf("expected an error")
	}
	if !strings.Contains(err.Error(), "migration 2") {
		t.Errorf("expected the failing statement number in %q", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMigrations_GuardAgainstDoubleSendAndDoubleDebit(t *testing.T) {
	var messages, ledger string
	for _, stmt := range migrations {
		switch {
		case strings.Contains(stmt, "CREATE TABLE IF NOT EXISTS messages"):
			messages = stmt
		case strings.Contains(stmt, "CREATE TABLE IF NOT EXISTS credit_ledger"):
			ledger = stmt
		}
	}

	if !strings.Contains(messages, "(campaign_id, contact_id)") {
		t.Errorf("messages table must be unique per campaign and contact")
	}
	if !strings.Contains(ledger, "(message_id, kind)") {
		t.Errorf("credit_ledger must be unique per message and entry kind")
	}
}

func TestSeedTestData_SkipsSeededOwner(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM campaigns").
		WithArgs(seedOwnerID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	if err := SeedTestData(db); err != nil {
		t.Fatalf("SeedTestData returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
