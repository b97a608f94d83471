/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements ledger.Store, effective.Source and report.Store (the full
  report.TxStore surface) on one database handle. In production, the
  same patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  organizations:   Reporting parties with total and reserved balances
  transactions:    The credit ledger; rows are appended and never mutated
                   except the Reserved -> Released / Adjustment flip
  reports:         Report versions; UNIQUE(group_uuid, version)
  line_items:      Versioned report rows; UNIQUE(kind, group_uuid, version)
  summaries:       One computed summary per report version, as JSON
  report_history:  Append-only status audit

CONCURRENCY:
  SQLite is opened with WAL (Write-Ahead Logging): readers do not block
  and a single writer runs at a time. WithTx additionally serializes
  writers through a mutex so BEGIN never hits SQLITE_BUSY under our own
  load; forgotten lock paths still surface BUSY, which callers retry.

WITHTX:
  WithTx hands the callback a *conn bound to the open *sql.Tx. The same
  *conn type backs the plain Store, so every query method works both
  inside and outside a transaction, and the handle satisfies the report
  package's full Store interface.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/engine.go: balance invariants enforced above this layer
  - report/store.go: the interface this package implements
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/bcfuels/lcfs-engine/core"
	"github.com/bcfuels/lcfs-engine/ledger"
	"github.com/bcfuels/lcfs-engine/report"
	"github.com/bcfuels/lcfs-engine/summary"
)

// dbtx is the intersection of *sql.DB and *sql.Tx the queries need.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn carries every query method against either handle.
type conn struct {
	db dbtx
}

// Store is the database-bound entry point.
type Store struct {
	*conn
	sqldb *sql.DB
	mu    sync.Mutex
}

var _ report.TxStore = (*Store)(nil)

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{conn: &conn{db: db}, sqldb: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.sqldb.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Organizations: balances are mutated only through the ledger engine
	CREATE TABLE IF NOT EXISTS organizations (
		id TEXT PRIMARY KEY,
		legal_name TEXT NOT NULL,
		operating_name TEXT,
		status TEXT NOT NULL DEFAULT 'Registered',
		org_type TEXT NOT NULL DEFAULT 'fuel_supplier',
		total_balance INTEGER NOT NULL DEFAULT 0,
		reserved_balance INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		CHECK (total_balance >= 0),
		CHECK (reserved_balance >= 0)
	);

	-- Credit ledger
	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		org_id TEXT NOT NULL REFERENCES organizations(id),
		compliance_units INTEGER NOT NULL,
		action TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		effective_date TEXT NOT NULL,
		create_date TEXT NOT NULL,
		update_date TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_org
		ON transactions(org_id, effective_date);
	CREATE INDEX IF NOT EXISTS idx_transactions_action
		ON transactions(action);

	-- Report versions
	CREATE TABLE IF NOT EXISTS reports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		org_id TEXT NOT NULL REFERENCES organizations(id),
		period_id INTEGER NOT NULL,
		group_uuid TEXT NOT NULL,
		version INTEGER NOT NULL,
		initiator TEXT NOT NULL DEFAULT '',
		frequency TEXT NOT NULL,
		nickname TEXT,
		status TEXT NOT NULL,
		transaction_id INTEGER NOT NULL DEFAULT 0,
		assigned_analyst_id TEXT NOT NULL DEFAULT '',
		legacy_id INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(group_uuid, version)
	);

	CREATE INDEX IF NOT EXISTS idx_reports_org_period
		ON reports(org_id, period_id);
	CREATE INDEX IF NOT EXISTS idx_reports_status
		ON reports(status);

	-- Versioned line items. The winner of a group at version V is the
	-- row with the highest version <= V; resolution happens in Go.
	CREATE TABLE IF NOT EXISTS line_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		report_id INTEGER NOT NULL REFERENCES reports(id),
		kind TEXT NOT NULL,
		group_uuid TEXT NOT NULL,
		version INTEGER NOT NULL,
		action TEXT NOT NULL,
		fuel_type_id INTEGER NOT NULL DEFAULT 0,
		fuel_category_id INTEGER NOT NULL DEFAULT 0,
		end_use_id INTEGER NOT NULL DEFAULT 0,
		fuel_code_id INTEGER NOT NULL DEFAULT 0,
		provision_id INTEGER NOT NULL DEFAULT 0,
		quantity TEXT NOT NULL DEFAULT '0',
		units TEXT NOT NULL DEFAULT '',
		ci_override TEXT,
		energy_density_override TEXT,
		direction TEXT NOT NULL DEFAULT '',
		responsibility TEXT NOT NULL DEFAULT '',
		partner TEXT NOT NULL DEFAULT '',
		UNIQUE(kind, group_uuid, version)
	);

	CREATE INDEX IF NOT EXISTS idx_line_items_report
		ON line_items(report_id, kind);
	CREATE INDEX IF NOT EXISTS idx_line_items_group
		ON line_items(group_uuid);

	-- Computed summaries, one per report version
	CREATE TABLE IF NOT EXISTS summaries (
		report_id INTEGER PRIMARY KEY REFERENCES reports(id) ON DELETE CASCADE,
		period_id INTEGER NOT NULL,
		body_json TEXT NOT NULL,
		compliance_unit_delta INTEGER NOT NULL DEFAULT 0,
		is_locked BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TEXT NOT NULL
	);

	-- Status audit trail
	CREATE TABLE IF NOT EXISTS report_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		report_id INTEGER NOT NULL REFERENCES reports(id) ON DELETE CASCADE,
		status TEXT NOT NULL,
		user_id TEXT NOT NULL,
		display_name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_report
		ON report_history(report_id);
	`

	_, err := s.sqldb.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (report.TxStore)
// =============================================================================

// WithTx executes fn within one database transaction. The handle passed
// to fn satisfies report.Store, so workflow code can recover the full
// surface from the ledger-level parameter.
func (s *Store) WithTx(ctx context.Context, fn func(st ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.sqldb.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{db: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// ORGANIZATIONS
// =============================================================================

// SaveOrganization inserts or replaces an organization row. Balance
// columns are written as-is; only bootstrap and tests should set them.
func (c *conn) SaveOrganization(ctx context.Context, org core.Organization) error {
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO organizations
		(id, legal_name, operating_name, status, org_type, total_balance, reserved_balance, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			legal_name = excluded.legal_name,
			operating_name = excluded.operating_name,
			status = excluded.status,
			org_type = excluded.org_type`,
		string(org.ID), org.LegalName, org.OperatingName, string(org.Status),
		string(org.Type), org.TotalBalance, org.ReservedBalance,
		org.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save organization: %w", err)
	}
	return nil
}

func (c *conn) GetOrganization(ctx context.Context, id core.OrgID) (core.Organization, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, legal_name, operating_name, status, org_type,
		       total_balance, reserved_balance, created_at
		FROM organizations WHERE id = ?`, string(id))

	var org core.Organization
	var createdAt string
	err := row.Scan(&org.ID, &org.LegalName, &org.OperatingName, &org.Status,
		&org.Type, &org.TotalBalance, &org.ReservedBalance, &createdAt)
	if err == sql.ErrNoRows {
		return core.Organization{}, &core.NotFoundError{Entity: "organization", ID: id}
	}
	if err != nil {
		return core.Organization{}, fmt.Errorf("failed to get organization: %w", err)
	}
	org.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return org, nil
}

func (c *conn) ListOrganizations(ctx context.Context) ([]core.Organization, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, legal_name, operating_name, status, org_type,
		       total_balance, reserved_balance, created_at
		FROM organizations ORDER BY legal_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var out []core.Organization
	for rows.Next() {
		var org core.Organization
		var createdAt string
		if err := rows.Scan(&org.ID, &org.LegalName, &org.OperatingName, &org.Status,
			&org.Type, &org.TotalBalance, &org.ReservedBalance, &createdAt); err != nil {
			return nil, err
		}
		org.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, org)
	}
	return out, rows.Err()
}

func (c *conn) UpdateBalances(ctx context.Context, id core.OrgID, total, reserved int64) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE organizations SET total_balance = ?, reserved_balance = ?
		WHERE id = ?`, total, reserved, string(id))
	if err != nil {
		return fmt.Errorf("failed to update balances: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &core.NotFoundError{Entity: "organization", ID: id}
	}
	return nil
}

// =============================================================================
// LEDGER TRANSACTIONS (ledger.Store)
// =============================================================================

func (c *conn) InsertTransaction(ctx context.Context, tx core.Transaction) (core.TransactionID, error) {
	now := time.Now().UTC()
	res, err := c.db.ExecContext(ctx, `
		INSERT INTO transactions
		(org_id, compliance_units, action, tx_type, effective_date, create_date, update_date)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(tx.OrgID), tx.ComplianceUnits, string(tx.Action), string(tx.Type),
		tx.EffectiveDate.Format(time.RFC3339),
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read transaction id: %w", err)
	}
	return core.TransactionID(id), nil
}

func (c *conn) GetTransaction(ctx context.Context, id core.TransactionID) (core.Transaction, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, org_id, compliance_units, action, tx_type, effective_date, create_date, update_date
		FROM transactions WHERE id = ?`, int64(id))
	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return core.Transaction{}, &core.NotFoundError{Entity: "transaction", ID: id}
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

// UpdateTransactionAction flips a Reserved row to Released or Adjustment.
// The WHERE clause re-checks the precondition so a lost race surfaces as
// an invalid-state error instead of silently double-flipping.
func (c *conn) UpdateTransactionAction(ctx context.Context, id core.TransactionID, action core.TxAction) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE transactions SET action = ?, update_date = ?
		WHERE id = ? AND action = ?`,
		string(action), time.Now().UTC().Format(time.RFC3339),
		int64(id), string(core.TxReserved))
	if err != nil {
		return fmt.Errorf("failed to update transaction action: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		tx, err := c.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		return &core.InvalidTransactionStateError{TxID: id, Action: tx.Action, Op: "flip"}
	}
	return nil
}

func (c *conn) TransactionsByOrg(ctx context.Context, orgID core.OrgID) ([]core.Transaction, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, org_id, compliance_units, action, tx_type, effective_date, create_date, update_date
		FROM transactions WHERE org_id = ?
		ORDER BY effective_date, id`, string(orgID))
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (core.Transaction, error) {
	var tx core.Transaction
	var effective, created, updated string
	err := row.Scan(&tx.ID, &tx.OrgID, &tx.ComplianceUnits, &tx.Action, &tx.Type,
		&effective, &created, &updated)
	if err != nil {
		return core.Transaction{}, err
	}
	tx.EffectiveDate, _ = time.Parse(time.RFC3339, effective)
	tx.CreateDate, _ = time.Parse(time.RFC3339, created)
	tx.UpdateDate, _ = time.Parse(time.RFC3339, updated)
	return tx, nil
}

// =============================================================================
// REPORTS
// =============================================================================

const reportColumns = `id, org_id, period_id, group_uuid, version, initiator,
	frequency, nickname, status, transaction_id, assigned_analyst_id, legacy_id,
	created_at, updated_at`

func (c *conn) InsertReport(ctx context.Context, r report.Report) (core.ReportID, error) {
	res, err := c.db.ExecContext(ctx, `
		INSERT INTO reports
		(org_id, period_id, group_uuid, version, initiator, frequency, nickname,
		 status, transaction_id, assigned_analyst_id, legacy_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(r.OrgID), int(r.PeriodID), r.GroupUUID, r.Version, string(r.Initiator),
		string(r.Frequency), r.Nickname, string(r.Status), int64(r.TransactionID),
		r.AssignedAnalystID, r.LegacyID,
		r.CreatedAt.Format(time.RFC3339), r.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			// Two racers opened the same chain version.
			return 0, core.ErrConflict
		}
		return 0, fmt.Errorf("failed to insert report: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read report id: %w", err)
	}
	return core.ReportID(id), nil
}

func (c *conn) GetReport(ctx context.Context, id core.ReportID) (report.Report, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE id = ?`, int64(id))
	r, err := scanReport(row)
	if err == sql.ErrNoRows {
		return report.Report{}, &core.NotFoundError{Entity: "report", ID: id}
	}
	if err != nil {
		return report.Report{}, fmt.Errorf("failed to get report: %w", err)
	}
	return r, nil
}

func (c *conn) UpdateReport(ctx context.Context, r report.Report) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE reports SET
			status = ?, transaction_id = ?, assigned_analyst_id = ?,
			nickname = ?, updated_at = ?
		WHERE id = ?`,
		string(r.Status), int64(r.TransactionID), r.AssignedAnalystID,
		r.Nickname, r.UpdatedAt.Format(time.RFC3339), int64(r.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to update report: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &core.NotFoundError{Entity: "report", ID: r.ID}
	}
	return nil
}

func (c *conn) DeleteReport(ctx context.Context, id core.ReportID) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM reports WHERE id = ?`, int64(id))
	if err != nil {
		return fmt.Errorf("failed to delete report: %w", err)
	}
	return nil
}

func (c *conn) ChainReports(ctx context.Context, groupUUID string) ([]report.Report, error) {
	return c.queryReports(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE group_uuid = ? ORDER BY version`,
		groupUUID)
}

func (c *conn) ReportsByOrg(ctx context.Context, orgID core.OrgID, periodID core.PeriodID) ([]report.Report, error) {
	if periodID == 0 {
		return c.queryReports(ctx,
			`SELECT `+reportColumns+` FROM reports WHERE org_id = ? ORDER BY period_id, group_uuid, version`,
			string(orgID))
	}
	return c.queryReports(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE org_id = ? AND period_id = ? ORDER BY group_uuid, version`,
		string(orgID), int(periodID))
}

func (c *conn) CountReportsByStatus(ctx context.Context) (map[report.Status]int, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM reports GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count reports: %w", err)
	}
	defer rows.Close()

	out := make(map[report.Status]int, len(report.Statuses))
	for _, s := range report.Statuses {
		out[s] = 0
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[report.Status(status)] = n
	}
	return out, rows.Err()
}

func (c *conn) queryReports(ctx context.Context, query string, args ...any) ([]report.Report, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var out []report.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanReport(row scanner) (report.Report, error) {
	var r report.Report
	var nickname sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&r.ID, &r.OrgID, &r.PeriodID, &r.GroupUUID, &r.Version,
		&r.Initiator, &r.Frequency, &nickname, &r.Status, &r.TransactionID,
		&r.AssignedAnalystID, &r.LegacyID, &createdAt, &updatedAt)
	if err != nil {
		return report.Report{}, err
	}
	r.Nickname = nickname.String
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return r, nil
}

// =============================================================================
// EFFECTIVE-VIEW SOURCE (effective.Source)
// =============================================================================

func (c *conn) ChainReportIDs(ctx context.Context, groupUUID string, maxVersion int) ([]core.ReportID, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id FROM reports
		WHERE group_uuid = ? AND version <= ?
		ORDER BY version`, groupUUID, maxVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to query chain: %w", err)
	}
	defer rows.Close()

	var out []core.ReportID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, core.ReportID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, &core.NotFoundError{Entity: "report chain", ID: groupUUID}
	}
	return out, nil
}

const lineItemColumns = `id, report_id, kind, group_uuid, version, action,
	fuel_type_id, fuel_category_id, end_use_id, fuel_code_id, provision_id,
	quantity, units, ci_override, energy_density_override,
	direction, responsibility, partner`

func (c *conn) LineItems(ctx context.Context, reportIDs []core.ReportID, kind core.LineItemKind) ([]core.LineItem, error) {
	if len(reportIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(reportIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(reportIDs)+1)
	for _, id := range reportIDs {
		args = append(args, int64(id))
	}
	args = append(args, string(kind))

	rows, err := c.db.QueryContext(ctx,
		`SELECT `+lineItemColumns+` FROM line_items
		 WHERE report_id IN (`+placeholders+`) AND kind = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query line items: %w", err)
	}
	defer rows.Close()

	var out []core.LineItem
	for rows.Next() {
		item, err := scanLineItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// =============================================================================
// LINE ITEMS
// =============================================================================

func (c *conn) InsertLineItem(ctx context.Context, item core.LineItem) (int64, error) {
	res, err := c.db.ExecContext(ctx, `
		INSERT INTO line_items
		(report_id, kind, group_uuid, version, action,
		 fuel_type_id, fuel_category_id, end_use_id, fuel_code_id, provision_id,
		 quantity, units, ci_override, energy_density_override,
		 direction, responsibility, partner)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(item.ReportID), string(item.Kind), item.GroupUUID, item.Version,
		string(item.Action), item.FuelTypeID, item.FuelCategoryID, item.EndUseID,
		item.FuelCodeID, item.ProvisionID, item.Quantity.String(), item.Units,
		nullDecimal(item.CIOverride), nullDecimal(item.EnergyDensityOverride),
		string(item.Direction), string(item.Responsibility), item.Partner,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return 0, core.ErrConflict
		}
		return 0, fmt.Errorf("failed to insert line item: %w", err)
	}
	return res.LastInsertId()
}

func (c *conn) UpdateLineItem(ctx context.Context, item core.LineItem) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE line_items SET
			action = ?, fuel_type_id = ?, fuel_category_id = ?, end_use_id = ?,
			fuel_code_id = ?, provision_id = ?, quantity = ?, units = ?,
			ci_override = ?, energy_density_override = ?,
			direction = ?, responsibility = ?, partner = ?
		WHERE id = ?`,
		string(item.Action), item.FuelTypeID, item.FuelCategoryID, item.EndUseID,
		item.FuelCodeID, item.ProvisionID, item.Quantity.String(), item.Units,
		nullDecimal(item.CIOverride), nullDecimal(item.EnergyDensityOverride),
		string(item.Direction), string(item.Responsibility), item.Partner,
		item.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update line item: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &core.NotFoundError{Entity: "line item", ID: item.ID}
	}
	return nil
}

func (c *conn) FindLineItem(ctx context.Context, reportID core.ReportID, groupUUID string) (*core.LineItem, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+lineItemColumns+` FROM line_items
		 WHERE report_id = ? AND group_uuid = ?`, int64(reportID), groupUUID)
	item, err := scanLineItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find line item: %w", err)
	}
	return &item, nil
}

func (c *conn) DeleteLineItemRow(ctx context.Context, id int64) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM line_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete line item: %w", err)
	}
	return nil
}

func (c *conn) MaxLineItemVersion(ctx context.Context, groupUUID string) (int, bool, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM line_items WHERE group_uuid = ?`, groupUUID)
	var max sql.NullInt64
	if err := row.Scan(&max); err != nil {
		return 0, false, fmt.Errorf("failed to read max version: %w", err)
	}
	if !max.Valid {
		return 0, false, nil
	}
	return int(max.Int64), true, nil
}

func (c *conn) CountLineItems(ctx context.Context, reportID core.ReportID) (int, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM line_items WHERE report_id = ?`, int64(reportID))
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count line items: %w", err)
	}
	return n, nil
}

func scanLineItem(row scanner) (core.LineItem, error) {
	var item core.LineItem
	var quantity string
	var ci, density sql.NullString
	err := row.Scan(&item.ID, &item.ReportID, &item.Kind, &item.GroupUUID,
		&item.Version, &item.Action, &item.FuelTypeID, &item.FuelCategoryID,
		&item.EndUseID, &item.FuelCodeID, &item.ProvisionID, &quantity,
		&item.Units, &ci, &density, &item.Direction, &item.Responsibility,
		&item.Partner)
	if err != nil {
		return core.LineItem{}, err
	}
	item.Quantity, err = decimal.NewFromString(quantity)
	if err != nil {
		return core.LineItem{}, fmt.Errorf("corrupt quantity %q: %w", quantity, err)
	}
	if item.CIOverride, err = parseNullDecimal(ci); err != nil {
		return core.LineItem{}, err
	}
	if item.EnergyDensityOverride, err = parseNullDecimal(density); err != nil {
		return core.LineItem{}, err
	}
	return item, nil
}

// =============================================================================
// SUMMARIES
// =============================================================================

// SaveSummary upserts the computed summary of one report version as a
// JSON document, with the delta and lock flag broken out into columns
// for querying.
func (c *conn) SaveSummary(ctx context.Context, reportID core.ReportID, s summary.Summary) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO summaries (report_id, period_id, body_json, compliance_unit_delta, is_locked, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(report_id) DO UPDATE SET
			body_json = excluded.body_json,
			compliance_unit_delta = excluded.compliance_unit_delta,
			is_locked = excluded.is_locked,
			updated_at = excluded.updated_at`,
		int64(reportID), int(s.PeriodID), string(body),
		s.ComplianceUnitDelta, s.IsLocked,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save summary: %w", err)
	}
	return nil
}

func (c *conn) GetSummary(ctx context.Context, reportID core.ReportID) (summary.Summary, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT body_json, is_locked FROM summaries WHERE report_id = ?`,
		int64(reportID))
	var body string
	var locked bool
	err := row.Scan(&body, &locked)
	if err == sql.ErrNoRows {
		return summary.Summary{}, &core.NotFoundError{Entity: "summary", ID: reportID}
	}
	if err != nil {
		return summary.Summary{}, fmt.Errorf("failed to get summary: %w", err)
	}
	var s summary.Summary
	if err := json.Unmarshal([]byte(body), &s); err != nil {
		return summary.Summary{}, fmt.Errorf("corrupt summary for report %d: %w", reportID, err)
	}
	s.IsLocked = locked
	return s, nil
}

// =============================================================================
// HISTORY
// =============================================================================

func (c *conn) AppendHistory(ctx context.Context, h report.HistoryEntry) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO report_history (report_id, status, user_id, display_name, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		int64(h.ReportID), string(h.Status), h.UserID, h.DisplayName,
		h.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

func (c *conn) History(ctx context.Context, reportID core.ReportID) ([]report.HistoryEntry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT report_id, status, user_id, display_name, created_at
		FROM report_history WHERE report_id = ? ORDER BY id`, int64(reportID))
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	var out []report.HistoryEntry
	for rows.Next() {
		var h report.HistoryEntry
		var createdAt string
		if err := rows.Scan(&h.ReportID, &h.Status, &h.UserID, &h.DisplayName, &createdAt); err != nil {
			return nil, err
		}
		h.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, h)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDecimal(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, fmt.Errorf("corrupt decimal %q: %w", s.String, err)
	}
	return &d, nil
}
