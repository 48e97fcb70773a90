package db

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lyallcooper/cvsubmit/internal/types"
)

// UploadRun queries

const uploadRunColumns = `id, session_id, job_id, watch_job_id, files, status, percent, message,
	started_at, completed_at, error_message`

// CreateUploadRun records a new submission
func (db *DB) CreateUploadRun(sessionID string, files []string, watchJobID *int64) (*UploadRun, error) {
	filesJSON, _ := json.Marshal(files)

	result, err := db.Exec(`
		INSERT INTO upload_runs (session_id, watch_job_id, files, status, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		sessionID, watchJobID, string(filesJSON), types.JobStatusUploading, time.Now(),
	)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return db.GetUploadRun(id)
}

// GetUploadRun retrieves an upload run by ID
func (db *DB) GetUploadRun(id int64) (*UploadRun, error) {
	row := db.QueryRow(`SELECT `+uploadRunColumns+` FROM upload_runs WHERE id = ?`, id)
	return scanUploadRun(row)
}

// GetUploadRunBySession retrieves an upload run by its session ID
func (db *DB) GetUploadRunBySession(sessionID string) (*UploadRun, error) {
	row := db.QueryRow(`SELECT `+uploadRunColumns+` FROM upload_runs WHERE session_id = ?`, sessionID)
	return scanUploadRun(row)
}

// ListUploadRuns returns upload runs, newest first
func (db *DB) ListUploadRuns(limit, offset int) ([]*UploadRun, error) {
	rows, err := db.Query(`SELECT `+uploadRunColumns+` FROM upload_runs
		ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*UploadRun
	for rows.Next() {
		r, err := scanUploadRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// SetUploadRunJobID stores the backend job ID once the upload is accepted
func (db *DB) SetUploadRunJobID(id int64, jobID string) error {
	_, err := db.Exec("UPDATE upload_runs SET job_id = ? WHERE id = ?", jobID, id)
	return err
}

// UpdateUploadRunProgress updates the last observed progress
func (db *DB) UpdateUploadRunProgress(id int64, status types.JobStatus, percent int, message string) error {
	_, err := db.Exec(`
		UPDATE upload_runs SET status = ?, percent = ?, message = ?
		WHERE id = ?`,
		status, percent, message, id,
	)
	return err
}

// CompleteUploadRun marks an upload run as finished
func (db *DB) CompleteUploadRun(id int64, status types.JobStatus, percent int, message string, errorMsg *string) error {
	_, err := db.Exec(`
		UPDATE upload_runs SET status = ?, percent = ?, message = ?, completed_at = ?, error_message = ?
		WHERE id = ?`,
		status, percent, message, time.Now(), errorMsg, id,
	)
	return err
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUploadRun(row rowScanner) (*UploadRun, error) {
	var r UploadRun
	var jobID, errorMsg sql.NullString
	var watchJobID sql.NullInt64
	var filesJSON string
	var completedAt sql.NullTime

	err := row.Scan(&r.ID, &r.SessionID, &jobID, &watchJobID, &filesJSON, &r.Status, &r.Percent, &r.Message,
		&r.StartedAt, &completedAt, &errorMsg)
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(filesJSON), &r.Files)
	if jobID.Valid {
		r.JobID = &jobID.String
	}
	if watchJobID.Valid {
		r.WatchJobID = &watchJobID.Int64
	}
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	if errorMsg.Valid {
		r.ErrorMessage = &errorMsg.String
	}

	return &r, nil
}

// CriteriaUpdate queries

// RecordCriteriaUpdate stores the outcome of a criteria update
func (db *DB) RecordCriteriaUpdate(status CriteriaUpdateStatus, errorMsg *string) error {
	_, err := db.Exec(`
		INSERT INTO criteria_updates (status, error_message, created_at)
		VALUES (?, ?, ?)`,
		status, errorMsg, time.Now(),
	)
	return err
}

// ListCriteriaUpdates returns the most recent criteria updates
func (db *DB) ListCriteriaUpdates(limit int) ([]*CriteriaUpdate, error) {
	rows, err := db.Query(`
		SELECT id, status, error_message, created_at
		FROM criteria_updates ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var updates []*CriteriaUpdate
	for rows.Next() {
		var u CriteriaUpdate
		var errorMsg sql.NullString
		if err := rows.Scan(&u.ID, &u.Status, &errorMsg, &u.CreatedAt); err != nil {
			return nil, err
		}
		if errorMsg.Valid {
			u.ErrorMessage = &errorMsg.String
		}
		updates = append(updates, &u)
	}
	return updates, rows.Err()
}

// WatchJob queries

const watchJobColumns = `id, name, paths, cron_expression, enabled, last_run_at, next_run_at, created_at`

// CreateWatchJob creates a new watch job
func (db *DB) CreateWatchJob(job *WatchJob) (*WatchJob, error) {
	pathsJSON, _ := json.Marshal(job.Paths)

	result, err := db.Exec(`
		INSERT INTO watch_jobs (name, paths, cron_expression, enabled, next_run_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		job.Name, string(pathsJSON), job.CronExpression, job.Enabled, job.NextRunAt, time.Now(),
	)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return db.GetWatchJob(id)
}

// GetWatchJob retrieves a watch job by ID
func (db *DB) GetWatchJob(id int64) (*WatchJob, error) {
	row := db.QueryRow(`SELECT `+watchJobColumns+` FROM watch_jobs WHERE id = ?`, id)
	return scanWatchJob(row)
}

// ListWatchJobs returns all watch jobs
func (db *DB) ListWatchJobs() ([]*WatchJob, error) {
	return db.queryWatchJobs(`SELECT ` + watchJobColumns + ` FROM watch_jobs ORDER BY name`)
}

// GetEnabledWatchJobs returns all enabled watch jobs
func (db *DB) GetEnabledWatchJobs() ([]*WatchJob, error) {
	return db.queryWatchJobs(`SELECT ` + watchJobColumns + ` FROM watch_jobs WHERE enabled = 1 ORDER BY next_run_at`)
}

func (db *DB) queryWatchJobs(query string, args ...any) ([]*WatchJob, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*WatchJob
	for rows.Next() {
		j, err := scanWatchJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// UpdateWatchJob updates a watch job
func (db *DB) UpdateWatchJob(job *WatchJob) error {
	pathsJSON, _ := json.Marshal(job.Paths)

	_, err := db.Exec(`
		UPDATE watch_jobs SET name = ?, paths = ?, cron_expression = ?, enabled = ?, next_run_at = ?
		WHERE id = ?`,
		job.Name, string(pathsJSON), job.CronExpression, job.Enabled, job.NextRunAt, job.ID,
	)
	return err
}

// UpdateWatchJobLastRun updates the last run time and next run time
func (db *DB) UpdateWatchJobLastRun(id int64, lastRun, nextRun time.Time) error {
	_, err := db.Exec(`
		UPDATE watch_jobs SET last_run_at = ?, next_run_at = ?
		WHERE id = ?`,
		lastRun, nextRun, id,
	)
	return err
}

// SetWatchJobEnabled enables or disables a watch job
func (db *DB) SetWatchJobEnabled(id int64, enabled bool) error {
	_, err := db.Exec("UPDATE watch_jobs SET enabled = ? WHERE id = ?", enabled, id)
	return err
}

// DeleteWatchJob deletes a watch job
func (db *DB) DeleteWatchJob(id int64) error {
	_, err := db.Exec("DELETE FROM watch_jobs WHERE id = ?", id)
	return err
}

func scanWatchJob(row rowScanner) (*WatchJob, error) {
	var j WatchJob
	var pathsJSON string
	var lastRun, nextRun sql.NullTime

	err := row.Scan(&j.ID, &j.Name, &pathsJSON, &j.CronExpression, &j.Enabled, &lastRun, &nextRun, &j.CreatedAt)
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(pathsJSON), &j.Paths)
	if lastRun.Valid {
		j.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		j.NextRunAt = &nextRun.Time
	}

	return &j, nil
}

// Settings queries

// GetSetting returns a setting value, or "" with sql.ErrNoRows if unset
func (db *DB) GetSetting(key string) (string, error) {
	var value string
	err := db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	return value, err
}

// SetSetting inserts or replaces a setting
func (db *DB) SetSetting(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// CleanupOldData removes history older than the retention period
func (db *DB) CleanupOldData(retentionDays int) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	// Unfinished runs are kept regardless of age
	_, err := db.Exec("DELETE FROM upload_runs WHERE completed_at IS NOT NULL AND completed_at < ?", cutoff)
	if err != nil {
		return err
	}

	_, err = db.Exec("DELETE FROM criteria_updates WHERE created_at < ?", cutoff)
	return err
}
