// Package sqlite provides the default SQLite implementation of the agent cache.
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	sqlitedriver "modernc.org/sqlite"

	"github.com/scrypster/agentindex/internal/storage"
	"github.com/scrypster/agentindex/pkg/types"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// SQLite's built-in LOWER folds ASCII only. Text search matches against
// unicode_lower so "Ä" finds "ä" the same way strings.ToLower does.
func init() {
	sqlitedriver.MustRegisterDeterministicScalarFunction("unicode_lower", 1, unicodeLower)
}

func unicodeLower(_ *sqlitedriver.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case string:
		return strings.ToLower(v), nil
	case []byte:
		return strings.ToLower(string(v)), nil
	default:
		return v, nil
	}
}

// agentColumns is the column order read by scanAgent.
const agentColumns = `
	agent_id, owner, wallet, metadata_uri,
	name, agent_type, description, capabilities, fleet_members, contracts, declared_wallet, extra,
	reputation_count, reputation_raw, reputation_decimals, reputation_display, reputation_score,
	relationship, tags, notes, is_verified, has_metadata, has_reputation,
	last_scanned_at, registered_at, registered_block, last_seen_at, created_at, updated_at`

var metadataColumns = []string{
	"name", "agent_type", "description", "capabilities", "fleet_members",
	"contracts", "declared_wallet", "extra", "has_metadata",
}

var reputationColumns = []string{
	"reputation_count", "reputation_raw", "reputation_decimals",
	"reputation_display", "reputation_score", "has_reputation",
}

// AgentStore implements storage.Store using SQLite.
type AgentStore struct {
	db *sql.DB
}

// NewAgentStore creates a new SQLite agent store with WAL self-healing.
// If the initial open fails due to stale WAL files left by a crashed
// process, it verifies no other process holds them and retries once after
// removing them.
func NewAgentStore(dsn string) (*AgentStore, error) {
	store, err := openAgentStore(dsn)
	if err == nil {
		return store, nil
	}

	if !isRecoverableWALError(err) {
		return nil, err
	}

	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" || !isWALStale(dbPath) {
		return nil, err
	}

	removeStaleWAL(dbPath)

	store, retryErr := openAgentStore(dsn)
	if retryErr != nil {
		return nil, fmt.Errorf("failed after WAL recovery: %w (original: %v)", retryErr, err)
	}

	log.Printf("sqlite: recovered from stale WAL files for %s", dbPath)
	return store, nil
}

// openAgentStore opens a SQLite database, configures WAL mode, and migrates the schema.
func openAgentStore(dsn string) (*AgentStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single connection
	// serialises writes, which also makes every read-merge-write transaction
	// atomic with respect to other callers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	mgr, err := storage.NewMigrationManager(db, migrationFS, "migrations", storage.DialectSQLite)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	if err := mgr.Up(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: %w", err)
	}

	return &AgentStore{db: db}, nil
}

// Upsert creates or updates an agent row.
func (s *AgentStore) Upsert(ctx context.Context, u *storage.AgentUpsert) (storage.UpsertResult, error) {
	if u == nil || u.Owner == "" {
		return storage.UpsertResult{}, fmt.Errorf("%w: agent owner is required", storage.ErrInvalidInput)
	}
	id, err := rowID(u.AgentID)
	if err != nil {
		return storage.UpsertResult{}, err
	}

	observed := u.ObservedAt
	if observed.IsZero() {
		observed = time.Now()
	}
	observed = observed.UTC()
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.UpsertResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existingTags string
	err = tx.QueryRowContext(ctx, "SELECT tags FROM agents WHERE agent_id = ?", id).Scan(&existingTags)
	created := errors.Is(err, sql.ErrNoRows)
	if err != nil && !created {
		return storage.UpsertResult{}, fmt.Errorf("failed to read agent %d: %w", u.AgentID, err)
	}

	tagsJSON, err := json.Marshal(storage.MergeTags(decodeStrings(existingTags), u.Tags))
	if err != nil {
		return storage.UpsertResult{}, fmt.Errorf("failed to marshal tags: %w", err)
	}

	cols := []string{"owner", "wallet", "metadata_uri", "tags", "last_scanned_at", "last_seen_at", "updated_at"}
	args := []any{u.Owner, u.Wallet, nullableString(u.MetadataURI), string(tagsJSON), observed, observed, now}

	if u.Metadata != nil {
		vals, err := metadataValues(u.Metadata)
		if err != nil {
			return storage.UpsertResult{}, err
		}
		cols = append(cols, metadataColumns...)
		args = append(args, vals...)
	}
	if u.Reputation != nil {
		cols = append(cols, reputationColumns...)
		args = append(args, reputationValues(u.Reputation)...)
	}

	if created {
		cols = append(cols, "agent_id", "registered_at", "registered_block", "created_at")
		args = append(args, id, nullableTime(u.RegisteredAt), nullableUint(u.RegisteredBlock), now)

		query := fmt.Sprintf("INSERT INTO agents (%s) VALUES (%s)",
			strings.Join(cols, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return storage.UpsertResult{}, fmt.Errorf("failed to insert agent %d: %w", u.AgentID, err)
		}
	} else {
		sets := make([]string, 0, len(cols)+2)
		for _, c := range cols {
			sets = append(sets, c+" = ?")
		}
		// First non-null registration wins.
		sets = append(sets, "registered_at = COALESCE(registered_at, ?)", "registered_block = COALESCE(registered_block, ?)")
		args = append(args, nullableTime(u.RegisteredAt), nullableUint(u.RegisteredBlock), id)

		query := fmt.Sprintf("UPDATE agents SET %s WHERE agent_id = ?", strings.Join(sets, ", "))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return storage.UpsertResult{}, fmt.Errorf("failed to update agent %d: %w", u.AgentID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storage.UpsertResult{}, fmt.Errorf("failed to commit agent %d: %w", u.AgentID, err)
	}
	return storage.UpsertResult{Created: created}, nil
}

// Get retrieves an agent by id.
func (s *AgentStore) Get(ctx context.Context, agentID uint64) (*types.Agent, error) {
	id, err := rowID(agentID)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, "SELECT "+agentColumns+" FROM agents WHERE agent_id = ?", id)
	agent, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent %d: %w", agentID, err)
	}
	return agent, nil
}

// Query returns one page of agents matching filter.
func (s *AgentStore) Query(ctx context.Context, filter storage.AgentFilter) (*storage.PaginatedResult[types.Agent], error) {
	// Normalize before ORDER BY construction to keep the sort column whitelisted.
	filter.Normalize()

	var conditions []string
	var args []any

	if filter.MinID != nil {
		id, err := rowID(*filter.MinID)
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, "agent_id >= ?")
		args = append(args, id)
	}
	if filter.MaxID != nil {
		conditions = append(conditions, "agent_id <= ?")
		args = append(args, clampRowID(*filter.MaxID))
	}
	if len(filter.Capabilities) > 0 {
		conditions = append(conditions, "EXISTS (SELECT 1 FROM json_each(agents.capabilities) WHERE json_each.value IN ("+placeholders(len(filter.Capabilities))+"))")
		for _, c := range filter.Capabilities {
			args = append(args, c)
		}
	}
	if filter.MinReputation != nil {
		conditions = append(conditions, "has_reputation = 1 AND reputation_score >= ?")
		args = append(args, *filter.MinReputation)
	}
	if filter.Relationship != "" {
		conditions = append(conditions, "relationship = ?")
		args = append(args, string(filter.Relationship))
	}
	if filter.SeenWithinHours > 0 {
		conditions = append(conditions, "last_seen_at >= ?")
		args = append(args, filter.SeenCutoff())
	}
	if len(filter.Tags) > 0 {
		conditions = append(conditions, "EXISTS (SELECT 1 FROM json_each(agents.tags) WHERE json_each.value IN ("+placeholders(len(filter.Tags))+"))")
		for _, t := range filter.Tags {
			args = append(args, t)
		}
	}
	if filter.VerifiedOnly {
		conditions = append(conditions, "is_verified = 1")
	}
	if text := strings.TrimSpace(filter.Text); text != "" {
		pattern := "%" + escapeLike(strings.ToLower(text)) + "%"
		conditions = append(conditions, `(unicode_lower(name) LIKE ? ESCAPE '\' OR unicode_lower(agent_type) LIKE ? ESCAPE '\' OR unicode_lower(notes) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern, pattern)
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM agents"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count agents: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM agents%s ORDER BY %s %s, agent_id DESC LIMIT ? OFFSET ?",
		agentColumns, where, filter.SortBy, strings.ToUpper(filter.SortOrder))
	rows, err := s.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()

	items := make([]types.Agent, 0, filter.Limit)
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		items = append(items, *agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate agents: %w", err)
	}

	return &storage.PaginatedResult[types.Agent]{
		Items:   items,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
		HasMore: filter.Offset+len(items) < total,
	}, nil
}

// SetRelationship overwrites relationship, and notes when provided.
func (s *AgentStore) SetRelationship(ctx context.Context, agentID uint64, rel types.Relationship, notes *string) error {
	if !rel.IsValid() {
		return fmt.Errorf("%w: unknown relationship %q", storage.ErrInvalidInput, rel)
	}
	id, err := rowID(agentID)
	if err != nil {
		return err
	}

	query := "UPDATE agents SET relationship = ?, updated_at = ?"
	args := []any{string(rel), time.Now().UTC()}
	if notes != nil {
		query += ", notes = ?"
		args = append(args, nullableString(*notes))
	}
	query += " WHERE agent_id = ?"
	args = append(args, id)

	return s.execOne(ctx, agentID, query, args...)
}

// SetVerified sets the verified flag.
func (s *AgentStore) SetVerified(ctx context.Context, agentID uint64, verified bool) error {
	id, err := rowID(agentID)
	if err != nil {
		return err
	}
	return s.execOne(ctx, agentID,
		"UPDATE agents SET is_verified = ?, updated_at = ? WHERE agent_id = ?",
		verified, time.Now().UTC(), id)
}

// AddTags unions tags into the agent's tag set.
func (s *AgentStore) AddTags(ctx context.Context, agentID uint64, tags []string) error {
	id, err := rowID(agentID)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing string
	err = tx.QueryRowContext(ctx, "SELECT tags FROM agents WHERE agent_id = ?", id).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read tags for agent %d: %w", agentID, err)
	}

	merged, err := json.Marshal(storage.MergeTags(decodeStrings(existing), tags))
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE agents SET tags = ?, updated_at = ? WHERE agent_id = ?",
		string(merged), time.Now().UTC(), id); err != nil {
		return fmt.Errorf("failed to write tags for agent %d: %w", agentID, err)
	}
	return tx.Commit()
}

// Stats aggregates the cache at call time.
func (s *AgentStore) Stats(ctx context.Context) (*types.DiscoveryStats, error) {
	weekAgo := time.Now().UTC().Add(-7 * 24 * time.Hour)

	stats := &types.DiscoveryStats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN is_verified = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN has_reputation = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN relationship = 'ally' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN registered_at >= ? THEN 1 ELSE 0 END), 0)
		FROM agents
	`, weekAgo).Scan(&stats.TotalCached, &stats.Verified, &stats.WithReputation, &stats.Allied, &stats.RegisteredLast7Days)
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}

	stats.LastScanAt, err = s.LatestScanAt(ctx)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// AppendScanLog records a finished scan.
func (s *AgentStore) AppendScanLog(ctx context.Context, entry *types.ScanLogEntry) error {
	if entry == nil || entry.ScanType == "" {
		return fmt.Errorf("%w: scan type is required", storage.ErrInvalidInput)
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	entry.CreatedAt = entry.CreatedAt.UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_log (
			id, scan_type, range_start, range_end,
			entities_found, entities_new, entities_updated, errors,
			duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID, string(entry.ScanType), nullableUint(entry.RangeStart), nullableUint(entry.RangeEnd),
		entry.EntitiesFound, entry.EntitiesNew, entry.EntitiesUpdated, entry.Errors,
		entry.DurationMs, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append scan log: %w", err)
	}
	return nil
}

// ScanHistory returns the newest scan log entries first.
func (s *AgentStore) ScanHistory(ctx context.Context, limit int) ([]types.ScanLogEntry, error) {
	if limit <= 0 {
		limit = storage.DefaultHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scan_type, range_start, range_end,
			entities_found, entities_new, entities_updated, errors,
			duration_ms, created_at
		FROM scan_log
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query scan history: %w", err)
	}
	defer rows.Close()

	var out []types.ScanLogEntry
	for rows.Next() {
		var (
			e          types.ScanLogEntry
			scanType   string
			start, end sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &scanType, &start, &end,
			&e.EntitiesFound, &e.EntitiesNew, &e.EntitiesUpdated, &e.Errors,
			&e.DurationMs, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.ScanType = types.ScanType(scanType)
		e.RangeStart = uintPtr(start)
		e.RangeEnd = uintPtr(end)
		out = append(out, e)
	}
	return out, rows.Err()
}

// LatestScanAt returns the time of the newest scan log entry.
func (s *AgentStore) LatestScanAt(ctx context.Context) (*time.Time, error) {
	var t time.Time
	err := s.db.QueryRowContext(ctx, "SELECT created_at FROM scan_log ORDER BY created_at DESC LIMIT 1").Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest scan time: %w", err)
	}
	return &t, nil
}

// Close flushes the WAL into the main database file and releases resources.
// The TRUNCATE checkpoint removes the -shm and -wal files so the next
// process can open the database without stale WAL state.
func (s *AgentStore) Close() error {
	if s.db == nil {
		return nil
	}

	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Printf("sqlite: WAL checkpoint on close failed (non-fatal): %v", err)
	}

	return s.db.Close()
}

func (s *AgentStore) execOne(ctx context.Context, agentID uint64, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update agent %d: %w", agentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update agent %d: %w", agentID, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*types.Agent, error) {
	var (
		a                                 types.Agent
		id                                int64
		uri, name, agentType, description sql.NullString
		capabilities, tags, relationship  string
		fleet, contracts, declared, extra sql.NullString
		repRaw, repDisplay, notes         sql.NullString
		repCount, repDecimals             int64
		registeredAt, lastSeenAt          sql.NullTime
		registeredBlock                   sql.NullInt64
	)

	err := row.Scan(
		&id, &a.Owner, &a.Wallet, &uri,
		&name, &agentType, &description, &capabilities, &fleet, &contracts, &declared, &extra,
		&repCount, &repRaw, &repDecimals, &repDisplay, &a.ReputationScore,
		&relationship, &tags, &notes, &a.IsVerified, &a.HasMetadata, &a.HasReputation,
		&a.LastScannedAt, &registeredAt, &registeredBlock, &lastSeenAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.AgentID = uint64(id)
	a.MetadataURI = uri.String
	a.Name = name.String
	a.Type = agentType.String
	a.Description = description.String
	a.Capabilities = decodeStrings(capabilities)
	a.FleetMembers = decodeStringsOrNil(fleet)
	a.Contracts = decodeObject(contracts)
	a.DeclaredWallet = declared.String
	a.Extra = decodeObject(extra)
	a.ReputationCount = uint64(repCount)
	a.ReputationRaw = repRaw.String
	a.ReputationDecimals = uint8(repDecimals)
	a.ReputationDisplay = repDisplay.String
	a.Relationship = types.Relationship(relationship)
	a.Tags = decodeStrings(tags)
	a.Notes = notes.String
	if registeredAt.Valid {
		t := registeredAt.Time
		a.RegisteredAt = &t
	}
	a.RegisteredBlock = uintPtr(registeredBlock)
	if lastSeenAt.Valid {
		t := lastSeenAt.Time
		a.LastSeenAt = &t
	}
	return &a, nil
}

func metadataValues(md *types.EntityMetadata) ([]any, error) {
	caps := md.Capabilities
	if caps == nil {
		caps = []string{}
	}
	capsJSON, err := json.Marshal(caps)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal capabilities: %w", err)
	}
	fleetJSON, err := marshalOptional(md.FleetMembers, len(md.FleetMembers) == 0)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fleet members: %w", err)
	}
	contractsJSON, err := marshalOptional(md.Contracts, len(md.Contracts) == 0)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal contracts: %w", err)
	}
	extraJSON, err := marshalOptional(md.Extra, len(md.Extra) == 0)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal extra: %w", err)
	}

	return []any{
		nullableString(md.Name),
		nullableString(md.Type),
		nullableString(md.Description),
		string(capsJSON),
		nullableBytes(fleetJSON),
		nullableBytes(contractsJSON),
		nullableString(md.DeclaredWallet),
		nullableBytes(extraJSON),
		true,
	}, nil
}

func reputationValues(rep *types.ReputationSummary) []any {
	raw := ""
	if rep.RawValue != nil {
		raw = rep.RawValue.String()
	}
	score := 0.0
	if rep.HasScore() {
		score = rep.Score()
	}
	return []any{
		clampRowID(rep.Count),
		nullableString(raw),
		int64(rep.Decimals),
		nullableString(rep.DisplayScore),
		score,
		rep.HasScore(),
	}
}

// rowID converts an agent id to the signed INTEGER key SQLite stores.
func rowID(id uint64) (int64, error) {
	if id > math.MaxInt64 {
		return 0, fmt.Errorf("%w: agent id %d out of range", storage.ErrInvalidInput, id)
	}
	return int64(id), nil
}

func clampRowID(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func marshalOptional(v any, empty bool) ([]byte, error) {
	if empty {
		return nil, nil
	}
	return json.Marshal(v)
}

func decodeStrings(s string) []string {
	out := []string{}
	if s == "" {
		return out
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		log.Printf("WARNING: sqlite: ignoring malformed string array %q: %v", s, err)
		return []string{}
	}
	return out
}

func decodeStringsOrNil(s sql.NullString) []string {
	if !s.Valid || s.String == "" {
		return nil
	}
	return decodeStrings(s.String)
}

func decodeObject(s sql.NullString) map[string]any {
	if !s.Valid || s.String == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(s.String), &out); err != nil {
		log.Printf("WARNING: sqlite: ignoring malformed object column: %v", err)
		return nil
	}
	return out
}

// nullableTime converts a time pointer to sql.NullTime.
func nullableTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// nullableBytes converts a byte slice to sql.NullString.
func nullableBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: string(b), Valid: true}
}

// nullableString converts a string to sql.NullString.
// An empty string is treated as NULL.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableUint(v *uint64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: clampRowID(*v), Valid: true}
}

func uintPtr(v sql.NullInt64) *uint64 {
	if !v.Valid {
		return nil
	}
	u := uint64(v.Int64)
	return &u
}
