package database

import (
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/onurcolak/sms-dispatch/environments"
	"github.com/onurcolak/sms-dispatch/pkg/logger"
)

func NewMySQLDB(cfg environments.DatabaseConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"%s:%s@tcp(%s:%s)/%s?parseTime=true&loc=UTC&time_zone=%%27%%2B00%%3A00%%27&charset=utf8mb4&collation=utf8mb4_unicode_ci",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName,
	)

	db, err := sqlx.Connect("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Infof("Connected to MySQL database")
	return db, nil
}

// migrations run in order; each statement is idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS contacts (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		owner_id BIGINT NOT NULL,
		phone VARCHAR(20) NOT NULL,
		first_name VARCHAR(100) NOT NULL DEFAULT '',
		last_name VARCHAR(100) NOT NULL DEFAULT '',
		unsubscribed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		UNIQUE KEY uq_contacts_owner_phone (owner_id, phone)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

	`CREATE TABLE IF NOT EXISTS contact_lists (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		owner_id BIGINT NOT NULL,
		name VARCHAR(150) NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_contact_lists_owner (owner_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

	`CREATE TABLE IF NOT EXISTS list_members (
		list_id BIGINT NOT NULL,
		contact_id BIGINT NOT NULL,
		PRIMARY KEY (list_id, contact_id),
		INDEX idx_list_members_contact (contact_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

	`CREATE TABLE IF NOT EXISTS campaigns (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		owner_id BIGINT NOT NULL,
		name VARCHAR(150) NOT NULL,
		body TEXT NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'draft',
		list_id BIGINT NULL,
		scheduled_at DATETIME NULL,
		total_count BIGINT NOT NULL DEFAULT 0,
		queued_count BIGINT NOT NULL DEFAULT 0,
		sent_count BIGINT NOT NULL DEFAULT 0,
		failed_count BIGINT NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		INDEX idx_campaigns_owner_status (owner_id, status)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

	`CREATE TABLE IF NOT EXISTS messages (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		campaign_id BIGINT NOT NULL,
		contact_id BIGINT NOT NULL,
		owner_id BIGINT NOT NULL,
		text TEXT NOT NULL,
		destination VARCHAR(20) NOT NULL,
		provider_message_id VARCHAR(100) NULL,
		bulk_id VARCHAR(100) NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'queued',
		sent_at DATETIME NULL,
		failed_at DATETIME NULL,
		retry_count INT NOT NULL DEFAULT 0,
		error TEXT NULL,
		claim_token VARCHAR(64) NULL,
		claimed_at DATETIME NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		UNIQUE KEY uq_messages_campaign_contact (campaign_id, contact_id),
		INDEX idx_messages_campaign_status (campaign_id, status),
		INDEX idx_messages_provider_id (provider_message_id),
		INDEX idx_messages_bulk_id (bulk_id),
		INDEX idx_messages_pending (status, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

	`CREATE TABLE IF NOT EXISTS credit_wallets (
		owner_id BIGINT PRIMARY KEY,
		balance BIGINT NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

	`CREATE TABLE IF NOT EXISTS credit_ledger (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		owner_id BIGINT NOT NULL,
		message_id BIGINT NULL,
		kind VARCHAR(10) NOT NULL,
		amount BIGINT NOT NULL,
		balance_before BIGINT NOT NULL,
		balance_after BIGINT NOT NULL,
		reason VARCHAR(255) NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY uq_credit_ledger_message_kind (message_id, kind),
		INDEX idx_credit_ledger_owner (owner_id, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
}

func RunMigrations(db *sqlx.DB) error {
	for i, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", i+1, err)
		}
	}

	logger.Infof("Database migrations completed (%d statements)", len(migrations))

	return nil
}

const (
	seedOwnerID  = 1
	seedCredits  = 1000
	seedListName = "Spring newsletter"
)

// SeedTestData creates one demo tenant with a funded wallet, a contact list and a
// draft campaign addressed to it.
func SeedTestData(db *sqlx.DB) error {
	var count int

	if err := db.Get(&count, "SELECT COUNT(*) FROM campaigns WHERE owner_id = ?", seedOwnerID); err != nil {
		return err
	}

	if count > 0 {
		logger.Infof("Owner %d already has %d campaigns, skipping seed", seedOwnerID, count)
		return nil
	}

	contacts := []struct {
		phone     string
		firstName string
	}{
		{"+905551234567", "Ayse"},
		{"+905559876543", "Mehmet"},
		{"+905551112233", "Zeynep"},
		{"+905554445566", "Can"},
		{"+905557778899", "Elif"},
		{"+905552223344", "Emre"},
		{"+905556667788", "Selin"},
		{"+905553334455", "Burak"},
		{"+905558889900", "Deniz"},
		{"+905551239876", "Ece"},
	}

	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin seed transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(
		"INSERT INTO credit_wallets (owner_id, balance) VALUES (?, ?) ON DUPLICATE KEY UPDATE balance = balance",
		seedOwnerID, seedCredits,
	); err != nil {
		return fmt.Errorf("failed to seed wallet: %w", err)
	}

	res, err := tx.Exec("INSERT INTO contact_lists (owner_id, name) VALUES (?, ?)", seedOwnerID, seedListName)
	if err != nil {
		return fmt.Errorf("failed to seed contact list: %w", err)
	}
	listID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read contact list id: %w", err)
	}

	for _, c := range contacts {
		res, err := tx.Exec(
			`INSERT INTO contacts (owner_id, phone, first_name) VALUES (?, ?, ?)
			 ON DUPLICATE KEY UPDATE id = LAST_INSERT_ID(id)`,
			seedOwnerID, c.phone, c.firstName,
		)
		if err != nil {
			return fmt.Errorf("failed to seed contact %s: %w", c.phone, err)
		}
		contactID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read contact id: %w", err)
		}
		if _, err := tx.Exec("INSERT IGNORE INTO list_members (list_id, contact_id) VALUES (?, ?)", listID, contactID); err != nil {
			return fmt.Errorf("failed to seed list member: %w", err)
		}
	}

	if _, err := tx.Exec(
		"INSERT INTO campaigns (owner_id, name, body, status, list_id) VALUES (?, ?, ?, 'draft', ?)",
		seedOwnerID, "Spring sale", "Spring sale: 20% off everything this weekend.", listID,
	); err != nil {
		return fmt.Errorf("failed to seed campaign: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit seed data: %w", err)
	}

	logger.Infof("Seeded owner %d with %d credits, %d contacts and one draft campaign", seedOwnerID, seedCredits, len(contacts))
	return nil
}
