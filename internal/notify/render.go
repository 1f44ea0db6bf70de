package notify

import (
	"fmt"
	"strings"
	"time"

	"sgpj-legal/pkg/models"
)

const (
	dateLayout     = "02/01/2006"
	timeLayout     = "15:04"
	dateTimeLayout = "02/01/2006 15:04"
)

// HearingMessage renders the reminder sent leadHours before a hearing.
func HearingMessage(h models.Hearing, leadHours int, loc *time.Location) (string, string) {
	at := h.FechaHora.In(loc)
	title := fmt.Sprintf("Recordatorio: Audiencia en %dh", leadHours)

	var b strings.Builder
	fmt.Fprintf(&b, "Recordatorio automático: Su audiencia está programada para dentro de %d horas, a las %s del %s.",
		leadHours, at.Format(timeLayout), at.Format(dateLayout))
	line(&b, "Expediente", h.Expediente)
	line(&b, "Materia", h.Materia)
	line(&b, "Tipo", h.Tipo)
	line(&b, "Sede", deref(h.Sede))
	line(&b, "Enlace", deref(h.Link))
	line(&b, "Notas", deref(h.Notas))
	return title, b.String()
}

// StepMessage renders the one-shot reminder of a procedural step.
func StepMessage(d models.ProceduralStep, loc *time.Location) (string, string) {
	title := fmt.Sprintf("Recordatorio: Diligencia %s", d.Titulo)

	var b strings.Builder
	fmt.Fprintf(&b, "Recordatorio automático: La diligencia '%s' está programada para las %s. Motivo: %s",
		d.Titulo, d.FechaHora.In(loc).Format(dateTimeLayout), d.Motivo)
	line(&b, "Expediente", deref(d.Expediente))
	line(&b, "Descripción", deref(d.Descripcion))
	return title, b.String()
}

// StaleCaseMessage renders the review reminder for a case idle for days.
func StaleCaseMessage(c models.Case, days int) (string, string) {
	title := fmt.Sprintf("Proceso %s - Requiere Revisión", c.Expediente)
	body := fmt.Sprintf("El proceso %s lleva %d días sin actualizaciones. Estado actual: %s. Se recomienda revisar y actualizar el estado.",
		c.Expediente, days, c.Status())
	return title, body
}

// DaysSince counts whole days elapsed between t and now.
func DaysSince(t, now time.Time) int {
	if now.Before(t) {
		return 0
	}
	return int(now.Sub(t) / (24 * time.Hour))
}

func line(b *strings.Builder, label, value string) {
	if value = strings.TrimSpace(value); value != "" {
		fmt.Fprintf(b, "\n%s: %s", label, value)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
