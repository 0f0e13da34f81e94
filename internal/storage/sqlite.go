// Package storage persists projects, bids, and the audit trail in a
// local SQLite database.
package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/antonk9218/fl-bidder/internal/freelancer"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const dbFile = "fl-bidder.db"

// Store wraps a SQLite database with methods for projects, bids, and
// the audit log.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database
// (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, dbFile)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var applied int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&applied); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if applied > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

// --- Projects ---

const projectColumns = `id, title, description, preview_description, status, sub_status, type,
	currency_code, budget_minimum, budget_maximum, bid_count, bid_avg, submitdate, skills,
	owner_json, client_risk_score, ai_score, ai_reason, ai_proposal_draft, draft_fallback,
	suggested_bid, estimated_hours, hourly_rate`

// UpsertProject inserts the project or refreshes its marketplace fields.
// Pipeline outputs (score, draft, suggested bid) survive the refresh, and
// a terminal status marker set by the bid gate is never overwritten by a
// sync.
func (s *Store) UpsertProject(p *freelancer.Project) error {
	skills, owner, err := marshalProjectJSON(p)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.Exec(`
		INSERT INTO projects (`+projectColumns+`, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			preview_description = excluded.preview_description,
			status = CASE
				WHEN projects.status IN ('bid_submitted', 'submitted_remote_only', 'skills_blocked',
					'preferred_only', 'escrow_required', 'not_biddable', 'amount_out_of_range', 'not_found')
				THEN projects.status
				ELSE excluded.status
			END,
			sub_status = excluded.sub_status,
			type = excluded.type,
			currency_code = excluded.currency_code,
			budget_minimum = excluded.budget_minimum,
			budget_maximum = excluded.budget_maximum,
			bid_count = excluded.bid_count,
			bid_avg = excluded.bid_avg,
			submitdate = excluded.submitdate,
			skills = excluded.skills,
			owner_json = excluded.owner_json,
			client_risk_score = COALESCE(excluded.client_risk_score, projects.client_risk_score),
			updated_at = excluded.updated_at`,
		p.ID, p.Title, p.Description, p.PreviewDescription, p.Status, p.SubStatus, p.Type,
		p.CurrencyCode, p.BudgetMin, p.BudgetMax, p.BidCount, p.AvgBid, formatTime(p.SubmitDate),
		skills, owner, p.ClientRiskScore, p.AIScore, p.AIReason, p.ProposalDraft,
		boolToInt(p.DraftFallback), p.SuggestedBid, p.EstimatedHours, p.HourlyRate, now, now,
	)
	return err
}

// GetProject loads one project by its marketplace id.
func (s *Store) GetProject(id int64) (*freelancer.Project, error) {
	row := s.db.QueryRow(`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)

	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// SaveScore persists the scoring stage output onto the project row,
// inserting the row when the project was never synced.
func (s *Store) SaveScore(p *freelancer.Project) error {
	res, err := s.db.Exec(`
		UPDATE projects
		SET ai_score = ?, ai_reason = ?, suggested_bid = ?, estimated_hours = ?, hourly_rate = ?, updated_at = ?
		WHERE id = ?`,
		p.AIScore, p.AIReason, p.SuggestedBid, p.EstimatedHours, p.HourlyRate,
		time.Now().UTC().Format(time.RFC3339), p.ID,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.UpsertProject(p)
	}
	return nil
}

// UpdateProjectDraft stores the generated proposal draft and whether it
// came from the fallback template.
func (s *Store) UpdateProjectDraft(id int64, draft string, fallback bool) error {
	res, err := s.db.Exec(`
		UPDATE projects SET ai_proposal_draft = ?, draft_fallback = ?, updated_at = ? WHERE id = ?`,
		draft, boolToInt(fallback), time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SetProjectStatus transitions the project to a new status marker.
func (s *Store) SetProjectStatus(id int64, status string) error {
	res, err := s.db.Exec(`UPDATE projects SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SyncProjectRemote refreshes the status fields from a live marketplace
// payload. Terminal markers still win, matching UpsertProject.
func (s *Store) SyncProjectRemote(id int64, status, subStatus string, submitDate time.Time) error {
	if terminalProjectStatuses[strings.ToLower(status)] {
		return nil
	}

	res, err := s.db.Exec(`
		UPDATE projects SET status = ?, sub_status = ?, submitdate = ?, updated_at = ?
		WHERE id = ? AND status NOT IN ('bid_submitted', 'submitted_remote_only', 'skills_blocked',
			'preferred_only', 'escrow_required', 'not_biddable', 'amount_out_of_range', 'not_found')`,
		status, subStatus, formatTime(submitDate), time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return err
	}

	// A terminal local status is not an error, the row just keeps it.
	_, err = res.RowsAffected()
	return err
}

// Candidates returns biddable projects scored at or above minScore that
// have no active-like bid yet, best first.
func (s *Store) Candidates(minScore float64, limit int) ([]*freelancer.Project, error) {
	rows, err := s.db.Query(`
		SELECT `+projectColumns+` FROM projects
		WHERE ai_score >= ?
		  AND status IN ('active', 'open')
		  AND NOT EXISTS (
			SELECT 1 FROM bids
			WHERE bids.project_id = projects.id
			  AND bids.status IN ('active', 'submitted', 'submitted_remote_only')
		  )
		ORDER BY ai_score DESC
		LIMIT ?`, minScore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*freelancer.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// --- Bids ---

// ActiveBidForProject returns the active-like bid for a project, or nil
// when the project has none.
func (s *Store) ActiveBidForProject(projectID int64) (*Bid, error) {
	var b Bid
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, bid_id, bidder_id, project_id, amount, period, description, status, created_at
		FROM bids
		WHERE project_id = ? AND status IN ('active', 'submitted', 'submitted_remote_only')
		LIMIT 1`, projectID,
	).Scan(&b.ID, &b.BidID, &b.BidderID, &b.ProjectID, &b.Amount, &b.Period, &b.Description, &b.Status, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if b.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for bid %s: %w", b.ID, err)
	}
	return &b, nil
}

// SaveBid inserts a bid row, generating the local id when missing.
func (s *Store) SaveBid(b Bid) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Status == "" {
		b.Status = BidStatusActive
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO bids (id, bid_id, bidder_id, project_id, amount, period, description, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.BidID, b.BidderID, b.ProjectID, b.Amount, b.Period, b.Description, b.Status,
		b.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// --- Audit log ---

// AppendAudit inserts one immutable audit row.
func (s *Store) AppendAudit(a AuditRecord) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = "success"
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO audit_log (id, action, entity_type, entity_id, request, response, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Action, a.EntityType, a.EntityID, a.Request, a.Response, a.Status,
		a.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// ListAudit returns the newest audit rows for an entity.
func (s *Store) ListAudit(entityID string, limit int) ([]AuditRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, action, entity_type, entity_id, request, response, status, created_at
		FROM audit_log WHERE entity_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []AuditRecord
	for rows.Next() {
		var a AuditRecord
		var createdAt string
		if err := rows.Scan(&a.ID, &a.Action, &a.EntityType, &a.EntityID, &a.Request, &a.Response, &a.Status, &createdAt); err != nil {
			return nil, err
		}
		if a.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for audit %s: %w", a.ID, err)
		}
		records = append(records, a)
	}
	return records, rows.Err()
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*freelancer.Project, error) {
	var p freelancer.Project
	var submitDate, skills, owner string
	var risk sql.NullFloat64
	var fallback int

	err := row.Scan(
		&p.ID, &p.Title, &p.Description, &p.PreviewDescription, &p.Status, &p.SubStatus, &p.Type,
		&p.CurrencyCode, &p.BudgetMin, &p.BudgetMax, &p.BidCount, &p.AvgBid, &submitDate, &skills,
		&owner, &risk, &p.AIScore, &p.AIReason, &p.ProposalDraft, &fallback,
		&p.SuggestedBid, &p.EstimatedHours, &p.HourlyRate,
	)
	if err != nil {
		return nil, err
	}

	p.DraftFallback = fallback != 0
	if risk.Valid {
		value := risk.Float64
		p.ClientRiskScore = &value
	}
	if submitDate != "" {
		if p.SubmitDate, err = time.Parse(time.RFC3339, submitDate); err != nil {
			return nil, fmt.Errorf("parsing submitdate for project %d: %w", p.ID, err)
		}
	}
	if skills != "" && skills != "[]" {
		if err := json.Unmarshal([]byte(skills), &p.Skills); err != nil {
			return nil, fmt.Errorf("parsing skills for project %d: %w", p.ID, err)
		}
	}
	if owner != "" {
		p.Owner = &freelancer.Owner{}
		if err := json.Unmarshal([]byte(owner), p.Owner); err != nil {
			return nil, fmt.Errorf("parsing owner for project %d: %w", p.ID, err)
		}
	}

	return &p, nil
}

func marshalProjectJSON(p *freelancer.Project) (skills, owner string, err error) {
	skillsJSON, err := json.Marshal(p.Skills)
	if err != nil {
		return "", "", fmt.Errorf("marshaling skills for project %d: %w", p.ID, err)
	}

	owner = ""
	if p.Owner != nil {
		ownerJSON, err := json.Marshal(p.Owner)
		if err != nil {
			return "", "", fmt.Errorf("marshaling owner for project %d: %w", p.ID, err)
		}
		owner = string(ownerJSON)
	}
	return string(skillsJSON), owner, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
