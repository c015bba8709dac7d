package records

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hospital/hms/internal/platform/db"
	"github.com/hospital/hms/internal/platform/fieldcrypt"
)

type recordRepoPG struct {
	pool   db.Querier
	cipher *fieldcrypt.Cipher
}

// NewRecordRepoPG stores records in Postgres. cipher may be a disabled
// Cipher, in which case summary and details are stored as plain text.
func NewRecordRepoPG(pool db.Querier, cipher *fieldcrypt.Cipher) RecordRepository {
	return &recordRepoPG{pool: pool, cipher: cipher}
}

const recordCols = `id, patient_id, doctor_id, hospital_id, summary, details,
	document_url, image_urls, created_at`

func (r *recordRepoPG) Create(ctx context.Context, rec *MedicalRecord) error {
	rec.ID = uuid.New()
	rec.CreatedAt = time.Now().UTC()
	if rec.ImageURLs == nil {
		rec.ImageURLs = []string{}
	}

	summary, details := rec.Summary, rec.Details
	if err := r.cipher.EncryptAll(&summary, &details); err != nil {
		return fmt.Errorf("record create: %w", err)
	}

	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO records (id, patient_id, doctor_id, hospital_id, summary, details,
			document_url, image_urls, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		rec.ID, rec.PatientID, rec.DoctorID, rec.HospitalID, summary, details,
		rec.DocumentURL, rec.ImageURLs, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("record create: %w", err)
	}
	return nil
}

func (r *recordRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*MedicalRecord, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+recordCols+` FROM records WHERE patient_id = $1 ORDER BY created_at DESC, id`, patientID)
	if err != nil {
		return nil, fmt.Errorf("record list: %w", err)
	}
	defer rows.Close()

	items := []*MedicalRecord{}
	for rows.Next() {
		rec, err := r.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("record list: %w", err)
	}
	return items, nil
}

func (r *recordRepoPG) scanRecord(row pgx.Row) (*MedicalRecord, error) {
	var rec MedicalRecord
	if err := row.Scan(&rec.ID, &rec.PatientID, &rec.DoctorID, &rec.HospitalID, &rec.Summary, &rec.Details,
		&rec.DocumentURL, &rec.ImageURLs, &rec.CreatedAt); err != nil {
		return nil, fmt.Errorf("record scan: %w", err)
	}
	if err := r.cipher.DecryptAll(&rec.Summary, &rec.Details); err != nil {
		return nil, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	if rec.ImageURLs == nil {
		rec.ImageURLs = []string{}
	}
	return &rec, nil
}
