package registry

import (
	"database/sql"
	"errors"
	"time"

	"autosumm/internal/item"
)

// Record is the persisted view of one paper across runs.
type Record struct {
	ID           string      `json:"id"`
	Revision     string      `json:"revision"`
	Title        string      `json:"title"`
	Category     string      `json:"category"`
	Abstract     string      `json:"abstract,omitempty"`
	AbstractURL  string      `json:"abstract_url,omitempty"`
	PDFURL       string      `json:"pdf_url,omitempty"`
	PublishedAt  time.Time   `json:"published_at,omitzero"`
	Status       item.Status `json:"status"`
	LastStage    string      `json:"last_stage,omitempty"`
	ErrorKind    string      `json:"error_kind,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	Attempts     int         `json:"attempts"`
	LastRunID    string      `json:"last_run_id,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// WorkItem rebuilds the pipeline item the record describes.
func (r *Record) WorkItem() *item.WorkItem {
	w := item.New(r.ID, r.Revision)
	w.Title = r.Title
	w.Category = r.Category
	w.Abstract = r.Abstract
	w.AbstractURL = r.AbstractURL
	w.PDFURL = r.PDFURL
	w.PublishedAt = r.PublishedAt
	return w
}

// Outcome is the final state of one item at the end of a run.
type Outcome struct {
	ID        string
	Status    item.Status
	Stage     string
	ErrorKind string
	Message   string
}

const recordColumns = "id, revision, title, category, abstract, abstract_url, pdf_url, published_at, status, last_stage, error_kind, error_message, attempts, last_run_id, created_at, updated_at"

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		rec          Record
		title        sql.NullString
		category     sql.NullString
		abstract     sql.NullString
		abstractURL  sql.NullString
		pdfURL       sql.NullString
		publishedRaw sql.NullString
		statusStr    string
		lastStage    sql.NullString
		errorKind    sql.NullString
		errorMessage sql.NullString
		lastRunID    sql.NullString
		createdRaw   string
		updatedRaw   string
	)
	if err := scanner.Scan(
		&rec.ID,
		&rec.Revision,
		&title,
		&category,
		&abstract,
		&abstractURL,
		&pdfURL,
		&publishedRaw,
		&statusStr,
		&lastStage,
		&errorKind,
		&errorMessage,
		&rec.Attempts,
		&lastRunID,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	rec.Title = title.String
	rec.Category = category.String
	rec.Abstract = abstract.String
	rec.AbstractURL = abstractURL.String
	rec.PDFURL = pdfURL.String
	rec.Status = item.Status(statusStr)
	rec.LastStage = lastStage.String
	rec.ErrorKind = errorKind.String
	rec.ErrorMessage = errorMessage.String
	rec.LastRunID = lastRunID.String
	if t, err := parseTimeString(publishedRaw.String); err == nil {
		rec.PublishedAt = t
	}
	if t, err := parseTimeString(createdRaw); err == nil {
		rec.CreatedAt = t
	}
	if t, err := parseTimeString(updatedRaw); err == nil {
		rec.UpdatedAt = t
	}
	return &rec, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}
