package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"sgpj-legal/pkg/models"
)

func lima(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Lima")
	if err != nil {
		t.Fatalf("loading location: %v", err)
	}
	return loc
}

func TestHearingMessage(t *testing.T) {
	sede := "Corte Superior de Lima, Sala 3"
	h := models.Hearing{
		Tipo:       "Audiencia única",
		FechaHora:  time.Date(2026, 3, 11, 14, 30, 0, 0, time.UTC),
		Sede:       &sede,
		Expediente: "EXP-00123-2026",
		Materia:    "Laboral",
	}

	title, body := HearingMessage(h, 24, lima(t))

	assert.Equal(t, "Recordatorio: Audiencia en 24h", title)
	assert.Contains(t, body, "dentro de 24 horas, a las 09:30 del 11/03/2026")
	assert.Contains(t, body, "\nExpediente: EXP-00123-2026")
	assert.Contains(t, body, "\nSede: Corte Superior de Lima, Sala 3")
	assert.NotContains(t, body, "Enlace:")
}

func TestStepMessage(t *testing.T) {
	exp := "EXP-9"
	d := models.ProceduralStep{
		Titulo:     "Presentar alegatos",
		Motivo:     "Vence plazo",
		FechaHora:  time.Date(2026, 3, 12, 13, 0, 0, 0, time.UTC),
		Expediente: &exp,
	}

	title, body := StepMessage(d, lima(t))

	assert.Equal(t, "Recordatorio: Diligencia Presentar alegatos", title)
	assert.Contains(t, body, "La diligencia 'Presentar alegatos' está programada para las 12/03/2026 08:00. Motivo: Vence plazo")
	assert.Contains(t, body, "\nExpediente: EXP-9")
}

func TestStaleCaseMessage(t *testing.T) {
	estado := "En trámite"
	title, body := StaleCaseMessage(models.Case{Expediente: "EXP-5", Estado: &estado}, 9)

	assert.Equal(t, "Proceso EXP-5 - Requiere Revisión", title)
	assert.Equal(t, "El proceso EXP-5 lleva 9 días sin actualizaciones. Estado actual: En trámite. Se recomienda revisar y actualizar el estado.", body)
}

func TestDaysSince(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 7, DaysSince(now.Add(-7*24*time.Hour), now))
	assert.Equal(t, 6, DaysSince(now.Add(-7*24*time.Hour+time.Second), now))
	assert.Equal(t, 0, DaysSince(now.Add(time.Hour), now))
}
