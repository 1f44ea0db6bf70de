package testutil

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"sgpj-legal/internal/database"
	"sgpj-legal/pkg/models"
)

var seq atomic.Int64

// NewTestDB creates an in-memory SQLite database with all migrations applied.
// It automatically closes the database when the test completes.
func NewTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.NewDB(database.Config{Driver: database.DriverSQLite, URL: ":memory:", ConnectRetries: 1})
	if err != nil {
		t.Fatalf("creating test db: %v", err)
	}

	if _, err := db.Migrate(context.Background()); err != nil {
		db.Close()
		t.Fatalf("migrating test db: %v", err)
	}

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("closing test db: %v", err)
		}
	})

	return db
}

func withSession(t *testing.T, db *database.DB, fn func(*database.Session) error) {
	t.Helper()

	sess, err := db.Session(context.Background())
	if err != nil {
		t.Fatalf("opening session: %v", err)
	}
	defer sess.Close()

	if err := fn(sess); err != nil {
		t.Fatalf("seeding: %v", err)
	}
}

// CreateCase inserts a case with the given status, last updated at updatedAt.
func CreateCase(t *testing.T, db *database.DB, estado string, updatedAt time.Time) models.Case {
	t.Helper()

	c := models.Case{
		Expediente: fmt.Sprintf("EXP-%05d-2026", seq.Add(1)),
		Materia:    "Civil",
		Estado:     &estado,
		CreatedAt:  updatedAt.Add(-30 * 24 * time.Hour),
		UpdatedAt:  &updatedAt,
	}
	withSession(t, db, func(s *database.Session) error { return s.CreateCase(context.Background(), &c) })
	return c
}

// CreateHearing inserts an in-person hearing for caseID at the given instant.
func CreateHearing(t *testing.T, db *database.DB, caseID int64, at time.Time, notify bool) models.Hearing {
	t.Helper()

	sede := "Corte Superior de Lima, Sala 3"
	h := models.Hearing{
		ProcesoID: caseID,
		Tipo:      "Audiencia de conciliación",
		FechaHora: at,
		Sede:      &sede,
		Notificar: notify,
		CreatedAt: at.Add(-72 * time.Hour),
		UpdatedAt: at.Add(-72 * time.Hour),
	}
	withSession(t, db, func(s *database.Session) error { return s.CreateHearing(context.Background(), &h) })
	return h
}

// CreateStep inserts a procedural step. caseID may be nil.
func CreateStep(t *testing.T, db *database.DB, caseID *int64, at time.Time, status models.StepStatus, notify bool) models.ProceduralStep {
	t.Helper()

	d := models.ProceduralStep{
		ProcesoID: caseID,
		Titulo:    fmt.Sprintf("Presentar escrito %d", seq.Add(1)),
		Motivo:    "Plazo de subsanación",
		FechaHora: at,
		Estado:    status,
		Notificar: notify,
		CreatedAt: at.Add(-72 * time.Hour),
		UpdatedAt: at.Add(-72 * time.Hour),
	}
	withSession(t, db, func(s *database.Session) error { return s.CreateStep(context.Background(), &d) })
	return d
}

// Notifications returns every stored notification, newest first.
func Notifications(t *testing.T, db *database.DB) []models.Notification {
	t.Helper()

	var out []models.Notification
	withSession(t, db, func(s *database.Session) error {
		var err error
		out, err = s.RecentNotifications(context.Background(), 1000, "")
		return err
	})
	return out
}
