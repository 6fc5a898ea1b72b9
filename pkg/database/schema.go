package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator checks a live database against the expected schema.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator.
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// ValidateTablesExist verifies that all required tables exist.
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"sessions":          "Session data storage",
		"registrations":     "Session roster",
		"attendance":        "Attendance log",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.objectExists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

// ValidateTableStructure verifies the column types of the session tables.
func (v *SchemaValidator) ValidateTableStructure() error {
	sessionColumns := map[string]string{
		"id":                   "TEXT",
		"title":                "TEXT",
		"owner_id":             "TEXT",
		"course_id":            "TEXT",
		"max_participants":     "INTEGER",
		"is_public":            "INTEGER",
		"status":               "TEXT",
		"is_expired":           "INTEGER",
		"scheduled_start":      "INTEGER",
		"duration_minutes":     "INTEGER",
		"scheduled_end":        "INTEGER",
		"expires_at":           "INTEGER",
		"provider_kind":        "TEXT",
		"provider_meeting_id":  "TEXT",
		"host_join_ref":        "TEXT",
		"participant_join_ref": "TEXT",
		"access_secret":        "TEXT",
	}
	if err := v.validateColumns("sessions", sessionColumns); err != nil {
		return fmt.Errorf("sessions table structure invalid: %w", err)
	}

	registrationColumns := map[string]string{
		"session_id":     "TEXT",
		"participant_id": "TEXT",
		"registered_at":  "INTEGER",
	}
	if err := v.validateColumns("registrations", registrationColumns); err != nil {
		return fmt.Errorf("registrations table structure invalid: %w", err)
	}

	attendanceColumns := map[string]string{
		"id":             "INTEGER",
		"session_id":     "TEXT",
		"participant_id": "TEXT",
		"kind":           "TEXT",
		"occurred_at":    "INTEGER",
	}
	if err := v.validateColumns("attendance", attendanceColumns); err != nil {
		return fmt.Errorf("attendance table structure invalid: %w", err)
	}

	return nil
}

// ValidateIndexes verifies that all query indexes exist. idx_sessions_expiry
// backs the cleanup sweep.
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_sessions_expiry":       "Expiration sweep",
		"idx_sessions_owner":        "Owner listing",
		"idx_sessions_course":       "Course listing",
		"idx_sessions_status_start": "Due transition sweep",
		"idx_registrations_session": "Roster ordering",
		"idx_attendance_session":    "Attendance log ordering",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.objectExists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}

	return nil
}

// ValidateConstraints exercises the status check constraint and the
// registrations foreign key.
func (v *SchemaValidator) ValidateConstraints() error {
	_, err := v.db.Exec(`
		INSERT INTO registrations (session_id, participant_id, registered_at)
		VALUES ('schema-check-missing', 'check', 0)
	`)
	if err == nil {
		_, _ = v.db.Exec("DELETE FROM registrations WHERE session_id = 'schema-check-missing'")
		return fmt.Errorf("foreign key constraint not enforced: registrations.session_id")
	}

	_, err = v.db.Exec(`
		INSERT INTO sessions (id, title, owner_id, max_participants, status,
			scheduled_start, duration_minutes, scheduled_end, expires_at,
			provider_kind, provider_meeting_id, created_at, updated_at)
		VALUES ('schema-check', 'check', 'check', 1, 'paused', 0, 15, 0, 0, 'rtc', 'x', 0, 0)
	`)
	if err == nil {
		_, _ = v.db.Exec("DELETE FROM sessions WHERE id = 'schema-check'")
		return fmt.Errorf("check constraint not enforced: sessions.status")
	}

	return nil
}

func (v *SchemaValidator) objectExists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type=? AND name=?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns with correct types.
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var cid int
		var name, dataType string
		var notNull int
		var defaultValue any
		var pk int

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, exists := foundColumns[expectedCol]
		if !exists {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}

	return nil
}
