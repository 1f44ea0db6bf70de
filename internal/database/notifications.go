package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sgpj-legal/internal/errs"
	"sgpj-legal/pkg/models"
)

const notificationColumns = `
	id, audiencia_id, diligencia_id, proceso_id, tipo, canal, titulo, mensaje,
	destinatario, email_destinatario, telefono_destinatario, expediente, anticipacion_horas,
	estado, fecha_envio, error_mensaje, created_at, updated_at`

// DedupQuery describes a prior-attempt lookup for one entity.
type DedupQuery struct {
	Entity   models.EntityKind
	EntityID int64
	Type     models.NotificationType
	Since    time.Time
	States   []models.NotificationState
	// LeadHours narrows the lookup to one lead time when set.
	LeadHours *int
}

func entityColumn(kind models.EntityKind) (string, error) {
	switch kind {
	case models.EntityHearing:
		return "audiencia_id", nil
	case models.EntityStep:
		return "diligencia_id", nil
	case models.EntityCase:
		return "proceso_id", nil
	}
	return "", fmt.Errorf("unknown entity kind %q", kind)
}

// HasRecentNotification reports whether a notification matching q was created
// at or after q.Since.
func (s *Session) HasRecentNotification(ctx context.Context, q DedupQuery) (bool, error) {
	col, err := entityColumn(q.Entity)
	if err != nil {
		return false, err
	}
	if len(q.States) == 0 {
		return false, nil
	}

	base := `
		SELECT COUNT(*) FROM notificaciones
		WHERE ` + col + ` = ?
		  AND tipo = ?
		  AND created_at >= ?
		  AND estado IN (?)`
	args := []interface{}{q.EntityID, string(q.Type), utc(q.Since), stringsOf(q.States)}
	if q.LeadHours != nil {
		base += ` AND anticipacion_horas = ?`
		args = append(args, *q.LeadHours)
	}

	query, args, err := s.in(base, args...)
	if err != nil {
		return false, err
	}

	var n int
	if err := s.conn.GetContext(ctx, &n, query, args...); err != nil {
		return false, fmt.Errorf("failed to query notificaciones: %w", err)
	}
	return n > 0, nil
}

// CreateNotification inserts n and sets its ID. CreatedAt and UpdatedAt must
// be set by the caller.
func (s *Session) CreateNotification(ctx context.Context, n *models.Notification) error {
	query := s.conn.Rebind(`
		INSERT INTO notificaciones (
			audiencia_id, diligencia_id, proceso_id, tipo, canal, titulo, mensaje,
			destinatario, email_destinatario, telefono_destinatario, expediente, anticipacion_horas,
			estado, fecha_envio, error_mensaje, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	var sent interface{}
	if n.FechaEnvio != nil {
		sent = utc(*n.FechaEnvio)
	}
	err := s.conn.GetContext(ctx, &n.ID, query,
		n.AudienciaID, n.DiligenciaID, n.ProcesoID, string(n.Tipo), string(n.Canal), n.Titulo, n.Mensaje,
		n.Destinatario, n.EmailDestinatario, n.TelefonoDestinatario, n.Expediente, n.AnticipacionHoras,
		string(n.Estado), sent, n.ErrorMensaje, utc(n.CreatedAt), utc(n.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert notificacion: %w", err)
	}
	return nil
}

// MarkSent moves a pending notification to ENVIADO.
func (s *Session) MarkSent(ctx context.Context, id int64, at time.Time) error {
	query := s.conn.Rebind(`
		UPDATE notificaciones
		SET estado = ?, fecha_envio = ?, error_mensaje = NULL, updated_at = ?
		WHERE id = ? AND estado = ?
	`)
	return s.transition(ctx, query, id,
		string(models.StateSent), utc(at), utc(at), id, string(models.StatePending))
}

// MarkFailed moves a pending notification to ERROR and records the reason.
func (s *Session) MarkFailed(ctx context.Context, id int64, reason string, at time.Time) error {
	query := s.conn.Rebind(`
		UPDATE notificaciones
		SET estado = ?, error_mensaje = ?, updated_at = ?
		WHERE id = ? AND estado = ?
	`)
	return s.transition(ctx, query, id,
		string(models.StateError), reason, utc(at), id, string(models.StatePending))
}

func (s *Session) transition(ctx context.Context, query string, id int64, args ...interface{}) error {
	result, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update notificacion: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("notificacion %d not pending: %w", id, errs.ErrNotFound)
	}
	return nil
}

func (s *Session) GetNotification(ctx context.Context, id int64) (*models.Notification, error) {
	query := s.conn.Rebind(`SELECT ` + notificationColumns + ` FROM notificaciones WHERE id = ?`)

	var n models.Notification
	if err := s.conn.GetContext(ctx, &n, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("notificacion %d: %w", id, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query notificacion: %w", err)
	}
	return &n, nil
}

// RecentNotifications lists the newest notifications, optionally of one type.
func (s *Session) RecentNotifications(ctx context.Context, limit int, tipo models.NotificationType) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + notificationColumns + ` FROM notificaciones`
	args := []interface{}{}
	if tipo != "" {
		query += ` WHERE tipo = ?`
		args = append(args, string(tipo))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	notifications := []models.Notification{}
	if err := s.conn.SelectContext(ctx, &notifications, s.conn.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query notificaciones: %w", err)
	}
	return notifications, nil
}

// NotificationsForStep lists every notification recorded for one step.
func (s *Session) NotificationsForStep(ctx context.Context, stepID int64) ([]models.Notification, error) {
	query := s.conn.Rebind(`
		SELECT ` + notificationColumns + `
		FROM notificaciones
		WHERE diligencia_id = ?
		ORDER BY created_at DESC, id DESC
	`)

	notifications := []models.Notification{}
	if err := s.conn.SelectContext(ctx, &notifications, query, stepID); err != nil {
		return nil, fmt.Errorf("failed to query notificaciones: %w", err)
	}
	return notifications, nil
}

// CountNotifications returns the number of notifications per state.
func (s *Session) CountNotifications(ctx context.Context) (map[models.NotificationState]int, error) {
	rows, err := s.conn.QueryxContext(ctx, `SELECT estado, COUNT(*) FROM notificaciones GROUP BY estado`)
	if err != nil {
		return nil, fmt.Errorf("failed to count notificaciones: %w", err)
	}
	defer rows.Close()

	counts := map[models.NotificationState]int{}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		counts[models.NotificationState(state)] = n
	}
	return counts, rows.Err()
}
