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

const hearingColumns = `
	a.id, a.proceso_id, a.tipo, a.fecha_hora, a.sede, a.link, a.notas, a.notificar,
	p.expediente, p.materia, a.created_at, a.updated_at`

const stepColumns = `
	d.id, d.proceso_id, d.titulo, d.motivo, d.fecha_hora, d.estado, d.descripcion, d.notificar,
	p.expediente, d.created_at, d.updated_at,
	EXISTS (
		SELECT 1 FROM notificacion_marcas m
		WHERE m.entidad = 'diligencia' AND m.entidad_id = d.id AND m.tipo = 'diligencia_recordatorio'
	) AS notificacion_enviada`

const caseColumns = `id, expediente, materia, estado, created_at, updated_at`

// HearingsBetween returns hearings flagged for notification whose date-time
// falls in [from, to], both ends inclusive.
func (s *Session) HearingsBetween(ctx context.Context, from, to time.Time) ([]models.Hearing, error) {
	query := s.conn.Rebind(`
		SELECT ` + hearingColumns + `
		FROM audiencias a
		JOIN procesos p ON p.id = a.proceso_id
		WHERE a.notificar = TRUE
		  AND a.fecha_hora >= ?
		  AND a.fecha_hora <= ?
		ORDER BY a.fecha_hora ASC, a.id ASC
	`)

	var hearings []models.Hearing
	if err := s.conn.SelectContext(ctx, &hearings, query, utc(from), utc(to)); err != nil {
		return nil, fmt.Errorf("failed to query audiencias: %w", err)
	}
	return hearings, nil
}

func (s *Session) CountHearingsBetween(ctx context.Context, from, to time.Time) (int, error) {
	query := s.conn.Rebind(`
		SELECT COUNT(*) FROM audiencias
		WHERE notificar = TRUE AND fecha_hora >= ? AND fecha_hora <= ?
	`)

	var n int
	if err := s.conn.GetContext(ctx, &n, query, utc(from), utc(to)); err != nil {
		return 0, fmt.Errorf("failed to count audiencias: %w", err)
	}
	return n, nil
}

// StepsDueBetween returns steps in [dayStart, dayEnd) that still need their
// one-shot reminder: flagged, in one of states and not yet latched.
func (s *Session) StepsDueBetween(ctx context.Context, dayStart, dayEnd time.Time, states []models.StepStatus) ([]models.ProceduralStep, error) {
	if len(states) == 0 {
		return nil, nil
	}

	query, args, err := s.in(`
		SELECT `+stepColumns+`
		FROM diligencias d
		LEFT JOIN procesos p ON p.id = d.proceso_id
		WHERE d.notificar = TRUE
		  AND d.fecha_hora >= ?
		  AND d.fecha_hora < ?
		  AND d.estado IN (?)
		  AND NOT EXISTS (
			SELECT 1 FROM notificacion_marcas m
			WHERE m.entidad = 'diligencia' AND m.entidad_id = d.id AND m.tipo = 'diligencia_recordatorio'
		  )
		ORDER BY d.fecha_hora ASC, d.id ASC
	`, utc(dayStart), utc(dayEnd), stringsOf(states))
	if err != nil {
		return nil, err
	}

	var steps []models.ProceduralStep
	if err := s.conn.SelectContext(ctx, &steps, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query diligencias: %w", err)
	}
	return steps, nil
}

func (s *Session) CountStepsDueBetween(ctx context.Context, dayStart, dayEnd time.Time, states []models.StepStatus) (int, error) {
	if len(states) == 0 {
		return 0, nil
	}

	query, args, err := s.in(`
		SELECT COUNT(*) FROM diligencias d
		WHERE d.notificar = TRUE
		  AND d.fecha_hora >= ?
		  AND d.fecha_hora < ?
		  AND d.estado IN (?)
		  AND NOT EXISTS (
			SELECT 1 FROM notificacion_marcas m
			WHERE m.entidad = 'diligencia' AND m.entidad_id = d.id AND m.tipo = 'diligencia_recordatorio'
		  )
	`, utc(dayStart), utc(dayEnd), stringsOf(states))
	if err != nil {
		return 0, err
	}

	var n int
	if err := s.conn.GetContext(ctx, &n, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count diligencias: %w", err)
	}
	return n, nil
}

// GetStep loads one step with its latch state.
func (s *Session) GetStep(ctx context.Context, id int64) (*models.ProceduralStep, error) {
	query := s.conn.Rebind(`
		SELECT ` + stepColumns + `
		FROM diligencias d
		LEFT JOIN procesos p ON p.id = d.proceso_id
		WHERE d.id = ?
	`)

	var step models.ProceduralStep
	if err := s.conn.GetContext(ctx, &step, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("diligencia %d: %w", id, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query diligencia: %w", err)
	}
	return &step, nil
}

// StaleCases returns cases in one of the active states whose last update is
// strictly before the cutoff. Cases never updated are not considered.
func (s *Session) StaleCases(ctx context.Context, before time.Time, states []string) ([]models.Case, error) {
	if len(states) == 0 {
		return nil, nil
	}

	query, args, err := s.in(`
		SELECT `+caseColumns+`
		FROM procesos
		WHERE estado IN (?)
		  AND updated_at < ?
		ORDER BY updated_at ASC, id ASC
	`, states, utc(before))
	if err != nil {
		return nil, err
	}

	var cases []models.Case
	if err := s.conn.SelectContext(ctx, &cases, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query procesos: %w", err)
	}
	return cases, nil
}

func (s *Session) CountStaleCases(ctx context.Context, before time.Time, states []string) (int, error) {
	if len(states) == 0 {
		return 0, nil
	}

	query, args, err := s.in(`
		SELECT COUNT(*) FROM procesos WHERE estado IN (?) AND updated_at < ?
	`, states, utc(before))
	if err != nil {
		return 0, err
	}

	var n int
	if err := s.conn.GetContext(ctx, &n, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count procesos: %w", err)
	}
	return n, nil
}

// CreateCase, CreateHearing and CreateStep belong to the case management
// surface; the scheduler only reads these tables. They are kept here for
// seeding and tests.

func (s *Session) CreateCase(ctx context.Context, c *models.Case) error {
	query := s.conn.Rebind(`
		INSERT INTO procesos (expediente, materia, estado, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`)

	var updated interface{}
	if c.UpdatedAt != nil {
		updated = utc(*c.UpdatedAt)
	}
	if err := s.conn.GetContext(ctx, &c.ID, query,
		c.Expediente, c.Materia, c.Estado, utc(c.CreatedAt), updated); err != nil {
		return fmt.Errorf("failed to insert proceso: %w", err)
	}
	return nil
}

func (s *Session) CreateHearing(ctx context.Context, h *models.Hearing) error {
	query := s.conn.Rebind(`
		INSERT INTO audiencias (proceso_id, tipo, fecha_hora, sede, link, notas, notificar, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	if err := s.conn.GetContext(ctx, &h.ID, query,
		h.ProcesoID, h.Tipo, utc(h.FechaHora), h.Sede, h.Link, h.Notas, h.Notificar,
		utc(h.CreatedAt), utc(h.UpdatedAt)); err != nil {
		return fmt.Errorf("failed to insert audiencia: %w", err)
	}
	return nil
}

func (s *Session) CreateStep(ctx context.Context, d *models.ProceduralStep) error {
	query := s.conn.Rebind(`
		INSERT INTO diligencias (proceso_id, titulo, motivo, fecha_hora, estado, descripcion, notificar, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	if err := s.conn.GetContext(ctx, &d.ID, query,
		d.ProcesoID, d.Titulo, d.Motivo, utc(d.FechaHora), string(d.Estado), d.Descripcion, d.Notificar,
		utc(d.CreatedAt), utc(d.UpdatedAt)); err != nil {
		return fmt.Errorf("failed to insert diligencia: %w", err)
	}
	return nil
}
