package database

import (
	"context"
	"fmt"
	"time"

	"sgpj-legal/pkg/models"
)

// Latch records that the one-shot reminder of type tipo was attempted for an
// entity. Repeated calls are no-ops.
func (s *Session) Latch(ctx context.Context, entity models.EntityKind, id int64, tipo models.NotificationType, at time.Time) error {
	query := s.conn.Rebind(`
		INSERT INTO notificacion_marcas (entidad, entidad_id, tipo, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (entidad, entidad_id, tipo) DO NOTHING
	`)

	if _, err := s.conn.ExecContext(ctx, query, string(entity), id, string(tipo), utc(at)); err != nil {
		return fmt.Errorf("failed to set latch for %s %d: %w", entity, id, err)
	}
	return nil
}

func (s *Session) IsLatched(ctx context.Context, entity models.EntityKind, id int64, tipo models.NotificationType) (bool, error) {
	query := s.conn.Rebind(`
		SELECT COUNT(*) FROM notificacion_marcas
		WHERE entidad = ? AND entidad_id = ? AND tipo = ?
	`)

	var n int
	if err := s.conn.GetContext(ctx, &n, query, string(entity), id, string(tipo)); err != nil {
		return false, fmt.Errorf("failed to query latch: %w", err)
	}
	return n > 0, nil
}
