package models

import "time"

type NotificationType string

const (
	TypeHearingReminder NotificationType = "audiencia_recordatorio"
	TypeStepReminder    NotificationType = "diligencia_recordatorio"
	TypeCaseStale       NotificationType = "proceso_sin_revisar"
)

type Channel string

const (
	ChannelEmail  Channel = "email"
	ChannelSMS    Channel = "sms"
	ChannelSystem Channel = "system"
	ChannelPush   Channel = "push"
)

// KnownChannel reports whether c names a channel the dispatcher can route.
func KnownChannel(c Channel) bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelSystem, ChannelPush:
		return true
	}
	return false
}

type NotificationState string

const (
	StatePending NotificationState = "PENDIENTE"
	StateSent    NotificationState = "ENVIADO"
	StateError   NotificationState = "ERROR"
	StateRead    NotificationState = "LEIDO"
)

type StepStatus string

const (
	StepPending    StepStatus = "PENDIENTE"
	StepInProgress StepStatus = "EN_PROGRESO"
	StepCompleted  StepStatus = "COMPLETADA"
	StepCancelled  StepStatus = "CANCELADA"
)

// EntityKind names the record a latch or notification refers to.
type EntityKind string

const (
	EntityHearing EntityKind = "audiencia"
	EntityStep    EntityKind = "diligencia"
	EntityCase    EntityKind = "proceso"
)

type Case struct {
	ID         int64      `db:"id" json:"id"`
	Expediente string     `db:"expediente" json:"expediente"`
	Materia    string     `db:"materia" json:"materia"`
	Estado     *string    `db:"estado" json:"estado,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// Status returns the case status or "" when unset.
func (c Case) Status() string {
	if c.Estado == nil {
		return ""
	}
	return *c.Estado
}

type Hearing struct {
	ID         int64     `db:"id" json:"id"`
	ProcesoID  int64     `db:"proceso_id" json:"proceso_id"`
	Tipo       string    `db:"tipo" json:"tipo"`
	FechaHora  time.Time `db:"fecha_hora" json:"fecha_hora"`
	Sede       *string   `db:"sede" json:"sede,omitempty"`
	Link       *string   `db:"link" json:"link,omitempty"`
	Notas      *string   `db:"notas" json:"notas,omitempty"`
	Notificar  bool      `db:"notificar" json:"notificar"`
	Expediente string    `db:"expediente" json:"expediente"`
	Materia    string    `db:"materia" json:"materia"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

type ProceduralStep struct {
	ID                  int64      `db:"id" json:"id"`
	ProcesoID           *int64     `db:"proceso_id" json:"proceso_id,omitempty"`
	Titulo              string     `db:"titulo" json:"titulo"`
	Motivo              string     `db:"motivo" json:"motivo"`
	FechaHora           time.Time  `db:"fecha_hora" json:"fecha_hora"`
	Estado              StepStatus `db:"estado" json:"estado"`
	Descripcion         *string    `db:"descripcion" json:"descripcion,omitempty"`
	Notificar           bool       `db:"notificar" json:"notificar"`
	NotificacionEnviada bool       `db:"notificacion_enviada" json:"notificacion_enviada"`
	Expediente          *string    `db:"expediente" json:"expediente,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

type Notification struct {
	ID                   int64             `db:"id" json:"id"`
	AudienciaID          *int64            `db:"audiencia_id" json:"audiencia_id,omitempty"`
	DiligenciaID         *int64            `db:"diligencia_id" json:"diligencia_id,omitempty"`
	ProcesoID            *int64            `db:"proceso_id" json:"proceso_id,omitempty"`
	Tipo                 NotificationType  `db:"tipo" json:"tipo"`
	Canal                Channel           `db:"canal" json:"canal"`
	Titulo               string            `db:"titulo" json:"titulo"`
	Mensaje              string            `db:"mensaje" json:"mensaje"`
	Destinatario         *string           `db:"destinatario" json:"destinatario,omitempty"`
	EmailDestinatario    *string           `db:"email_destinatario" json:"email_destinatario,omitempty"`
	TelefonoDestinatario *string           `db:"telefono_destinatario" json:"telefono_destinatario,omitempty"`
	Expediente           *string           `db:"expediente" json:"expediente,omitempty"`
	AnticipacionHoras    *int              `db:"anticipacion_horas" json:"anticipacion_horas,omitempty"`
	Estado               NotificationState `db:"estado" json:"estado"`
	FechaEnvio           *time.Time        `db:"fecha_envio" json:"fecha_envio,omitempty"`
	ErrorMensaje         *string           `db:"error_mensaje" json:"error_mensaje,omitempty"`
	CreatedAt            time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time         `db:"updated_at" json:"updated_at"`
}

// Recipient is the destination of one delivery attempt. Exactly one field is
// meaningful, depending on the channel.
type Recipient struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	Topic string `json:"topic,omitempty"`
}

// Address returns the channel-specific destination string.
func (r Recipient) Address(c Channel) string {
	switch c {
	case ChannelSMS:
		return r.Phone
	case ChannelPush:
		return r.Topic
	default:
		return r.Email
	}
}
