// Package dbtest opens in-memory sqlite databases shaped like the production schema.
package dbtest

import (
	"fmt"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const usersTable = `
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL,
  password_hash TEXT NOT NULL,
  role TEXT NOT NULL DEFAULT 'user',
  is_active INTEGER NOT NULL DEFAULT 1,
  last_login_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`

const certificatesTable = `
CREATE TABLE IF NOT EXISTS certificates (
  id TEXT PRIMARY KEY,
  unique_id TEXT NOT NULL UNIQUE,
  issuer_id TEXT,
  student_email TEXT NOT NULL,
  student_name TEXT NOT NULL,
  course_name TEXT NOT NULL,
  issue_date DATETIME NOT NULL,
  expiry_date DATETIME,
  hash TEXT NOT NULL,
  image_key TEXT NOT NULL,
  document_key TEXT NOT NULL,
  verified INTEGER NOT NULL DEFAULT 0,
  payment_card_masked TEXT NOT NULL DEFAULT '',
  payment_expiry_month TEXT NOT NULL DEFAULT '',
  payment_expiry_year TEXT NOT NULL DEFAULT '',
  payment_date DATETIME,
  payment_amount TEXT,
  payment_currency TEXT NOT NULL DEFAULT '',
  ipfs_hash TEXT NOT NULL DEFAULT '',
  pdf_ipfs_hash TEXT NOT NULL DEFAULT '',
  png_ipfs_hash TEXT NOT NULL DEFAULT '',
  pdf_gateway_url TEXT NOT NULL DEFAULT '',
  png_gateway_url TEXT NOT NULL DEFAULT '',
  ipfs_upload_status TEXT NOT NULL DEFAULT 'pending',
  ipfs_upload_date DATETIME,
  ipfs_error TEXT NOT NULL DEFAULT '',
  ledger_fingerprint TEXT NOT NULL DEFAULT '',
  blockchain_verified INTEGER NOT NULL DEFAULT 0,
  blockchain_tx_hash TEXT NOT NULL DEFAULT '',
  block_number INTEGER,
  gas_used INTEGER,
  blockchain_error TEXT NOT NULL DEFAULT '',
  processing_status TEXT NOT NULL DEFAULT 'not_processed',
  processing_error TEXT NOT NULL DEFAULT '',
  processing_started_at DATETIME,
  processed_at DATETIME,
  verification_attempts INTEGER NOT NULL DEFAULT 0,
  last_verification_date DATETIME,
  access_count INTEGER NOT NULL DEFAULT 0,
  last_access_date DATETIME,
  png_size INTEGER NOT NULL DEFAULT 0,
  pdf_size INTEGER NOT NULL DEFAULT 0,
  ipfs_size INTEGER NOT NULL DEFAULT 0,
  metadata_version TEXT NOT NULL DEFAULT '1.0',
  created_at DATETIME,
  updated_at DATETIME
);`

const outboxEventsTable = `
CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload BLOB NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`

const outboxDLQTable = `
CREATE TABLE IF NOT EXISTS outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL UNIQUE,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload BLOB NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
);`

// Open returns an isolated in-memory database with the users, certificates and outbox tables.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	// shared-cache memory databases report table locks instead of waiting
	sqlDB.SetMaxOpenConns(1)

	for _, stmt := range []string{usersTable, certificatesTable, outboxEventsTable, outboxDLQTable} {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("create table: %v", err)
		}
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}
