package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"meetbot/internal/meetup"
)

// CreateMailing stores text and its recipient set atomically. Recipients keep
// the given order.
func (s *Store) CreateMailing(ctx context.Context, m *meetup.Mailing) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create mailing: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.QueryRowContext(ctx,
		s.rebind(`INSERT INTO mailings(text, created_at) VALUES(?,?) RETURNING id`),
		m.Text, toMillis(m.CreatedAt),
	).Scan(&m.ID); err != nil {
		return fmt.Errorf("create mailing: %w", err)
	}

	ins := s.rebind(`INSERT INTO mailing_recipients(mailing_id, position, user_id) VALUES(?,?,?)`)
	for i, r := range m.Recipients {
		if _, err := tx.ExecContext(ctx, ins, m.ID, i, r.UserID); err != nil {
			return fmt.Errorf("create mailing recipient %d: %w", r.UserID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create mailing: %w", err)
	}
	return nil
}

func (s *Store) MailingByID(ctx context.Context, id int64) (*meetup.Mailing, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	var (
		m  meetup.Mailing
		ms int64
	)
	err := s.queryRow(ctx, `SELECT id, text, created_at FROM mailings WHERE id = ?`, id).Scan(&m.ID, &m.Text, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, meetup.ErrMailingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mailing by id: %w", err)
	}
	m.CreatedAt = fromMillis(ms)

	rows, err := s.query(ctx,
		`SELECT r.user_id, u.external_id FROM mailing_recipients r
		 JOIN users u ON u.id = r.user_id
		 WHERE r.mailing_id = ? ORDER BY r.position`, id)
	if err != nil {
		return nil, fmt.Errorf("mailing recipients: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r meetup.Recipient
		if err := rows.Scan(&r.UserID, &r.ExternalID); err != nil {
			return nil, fmt.Errorf("mailing recipients: %w", err)
		}
		m.Recipients = append(m.Recipients, r)
	}
	return &m, rows.Err()
}

// AppendReport records the delivery outcome for one recipient. A second report
// for the same (mailing, user) pair is rejected by the unique index.
func (s *Store) AppendReport(ctx context.Context, r *meetup.Report) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	err := s.queryRow(ctx,
		`INSERT INTO reports(mailing_id, user_id, status, created_at) VALUES(?,?,?,?) RETURNING id`,
		r.MailingID, r.UserID, string(r.Status), toMillis(r.CreatedAt),
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("append report: %w", err)
	}
	return nil
}

// ReportsByMailing returns reports in the order they were written.
func (s *Store) ReportsByMailing(ctx context.Context, mailingID int64) ([]meetup.Report, error) {
	rows, err := s.query(ctx,
		`SELECT id, mailing_id, user_id, status, created_at FROM reports WHERE mailing_id = ? ORDER BY id`, mailingID)
	if err != nil {
		return nil, fmt.Errorf("reports by mailing: %w", err)
	}
	defer rows.Close()

	var out []meetup.Report
	for rows.Next() {
		var (
			r      meetup.Report
			status string
			ms     int64
		)
		if err := rows.Scan(&r.ID, &r.MailingID, &r.UserID, &status, &ms); err != nil {
			return nil, fmt.Errorf("reports by mailing: %w", err)
		}
		r.Status = meetup.ReportStatus(status)
		r.CreatedAt = fromMillis(ms)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) CountReports(ctx context.Context, mailingID int64) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	var n int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM reports WHERE mailing_id = ?`, mailingID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count reports: %w", err)
	}
	return n, nil
}
