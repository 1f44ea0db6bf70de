package database

import (
	"context"
	"fmt"
	"strings"
)

// migration holds a single schema migration with its target version and SQL.
// {{ID}} and {{TS}} are rendered per driver before execution.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS procesos (
	id          {{ID}},
	expediente  TEXT NOT NULL UNIQUE,
	materia     TEXT NOT NULL DEFAULT '',
	estado      TEXT,
	created_at  {{TS}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at  {{TS}}
);

CREATE TABLE IF NOT EXISTS audiencias (
	id          {{ID}},
	proceso_id  BIGINT NOT NULL REFERENCES procesos(id) ON DELETE CASCADE,
	tipo        TEXT NOT NULL,
	fecha_hora  {{TS}} NOT NULL,
	sede        TEXT,
	link        TEXT,
	notas       TEXT,
	notificar   BOOLEAN NOT NULL DEFAULT TRUE,
	created_at  {{TS}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at  {{TS}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
	CHECK (sede IS NOT NULL OR link IS NOT NULL)
);

CREATE TABLE IF NOT EXISTS diligencias (
	id          {{ID}},
	proceso_id  BIGINT REFERENCES procesos(id) ON DELETE SET NULL,
	titulo      TEXT NOT NULL,
	motivo      TEXT NOT NULL DEFAULT '',
	fecha_hora  {{TS}} NOT NULL,
	estado      TEXT NOT NULL DEFAULT 'PENDIENTE',
	descripcion TEXT,
	notificar   BOOLEAN NOT NULL DEFAULT TRUE,
	created_at  {{TS}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at  {{TS}} NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS notificaciones (
	id                    {{ID}},
	audiencia_id          BIGINT REFERENCES audiencias(id) ON DELETE CASCADE,
	diligencia_id         BIGINT REFERENCES diligencias(id) ON DELETE CASCADE,
	proceso_id            BIGINT REFERENCES procesos(id) ON DELETE CASCADE,
	tipo                  TEXT NOT NULL,
	canal                 TEXT NOT NULL,
	titulo                TEXT NOT NULL,
	mensaje               TEXT NOT NULL,
	destinatario          TEXT,
	email_destinatario    TEXT,
	telefono_destinatario TEXT,
	expediente            TEXT,
	anticipacion_horas    INTEGER,
	estado                TEXT NOT NULL DEFAULT 'PENDIENTE',
	fecha_envio           {{TS}},
	error_mensaje         TEXT,
	created_at            {{TS}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at            {{TS}} NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_audiencias_fecha_hora ON audiencias(fecha_hora);
CREATE INDEX IF NOT EXISTS idx_diligencias_fecha_hora ON diligencias(fecha_hora);
CREATE INDEX IF NOT EXISTS idx_procesos_estado_updated ON procesos(estado, updated_at);
CREATE INDEX IF NOT EXISTS idx_notificaciones_audiencia ON notificaciones(audiencia_id, tipo, created_at);
CREATE INDEX IF NOT EXISTS idx_notificaciones_diligencia ON notificaciones(diligencia_id);
CREATE INDEX IF NOT EXISTS idx_notificaciones_proceso ON notificaciones(proceso_id, tipo, created_at);
CREATE INDEX IF NOT EXISTS idx_notificaciones_created ON notificaciones(created_at);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS notificacion_marcas (
	entidad     TEXT NOT NULL,
	entidad_id  BIGINT NOT NULL,
	tipo        TEXT NOT NULL,
	created_at  {{TS}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (entidad, entidad_id, tipo)
);
`,
	},
}

func renderMigration(driver, sql string) string {
	id, ts := "BIGSERIAL PRIMARY KEY", "TIMESTAMPTZ"
	if driver == DriverSQLite {
		id, ts = "INTEGER PRIMARY KEY AUTOINCREMENT", "DATETIME"
	}
	return strings.NewReplacer("{{ID}}", id, "{{TS}}", ts).Replace(sql)
}

// Migrate applies any outstanding migrations in order and returns the
// resulting schema version.
func (db *DB) Migrate(ctx context.Context) (int, error) {
	if _, err := db.conn.ExecContext(ctx,
		"CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)"); err != nil {
		return 0, fmt.Errorf("creating schema_version table: %w", err)
	}

	current, err := db.SchemaVersion(ctx)
	if err != nil {
		return 0, err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.conn.BeginTxx(ctx, nil)
		if err != nil {
			return current, fmt.Errorf("beginning migration v%d: %w", m.version, err)
		}
		for _, stmt := range splitStatements(renderMigration(db.driver, m.sql)) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return current, fmt.Errorf("applying migration v%d: %w", m.version, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			tx.Rebind("INSERT INTO schema_version (version) VALUES (?)"), m.version); err != nil {
			tx.Rollback()
			return current, fmt.Errorf("recording migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return current, fmt.Errorf("committing migration v%d: %w", m.version, err)
		}
		current = m.version
	}

	return current, nil
}

// SchemaVersion returns the highest applied migration, 0 for an empty database.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := db.conn.GetContext(ctx, &version,
		"SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

func splitStatements(sql string) []string {
	var out []string
	for _, stmt := range strings.Split(sql, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
