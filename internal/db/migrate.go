/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"github.com/friendsincode/listenparty/internal/models"
	"gorm.io/gorm"
)

// ChangeChannel is the postgres NOTIFY channel carrying row changes.
const ChangeChannel = "listenparty_changes"

// NotifiedTables are the tables whose writes are published on ChangeChannel.
var NotifiedTables = []string{"sessions", "participants", "songs", "scores", "skip_votes", "reactions", "chat"}

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.Session{},
		&models.Participant{},
		&models.Song{},
		&models.Score{},
		&models.SkipVote{},
		&models.Reaction{},
		&models.ChatMessage{},
		&models.KarmaEntry{},
	); err != nil {
		return err
	}

	return applyPostgresChangeTriggers(database)
}

// applyPostgresChangeTriggers installs row triggers that pg_notify every
// committed write as a JSON change document.
func applyPostgresChangeTriggers(database *gorm.DB) error {
	if database.Dialector.Name() != "postgres" {
		return nil
	}

	fn := fmt.Sprintf(`
CREATE OR REPLACE FUNCTION listenparty_notify_change()
RETURNS trigger
LANGUAGE plpgsql
AS $$
DECLARE
  sid text;
  doc json;
BEGIN
  IF TG_TABLE_NAME = 'sessions' THEN
    sid := COALESCE(NEW.id, OLD.id)::text;
  ELSIF TG_OP = 'DELETE' THEN
    sid := OLD.session_id::text;
  ELSE
    sid := NEW.session_id::text;
  END IF;

  doc := json_build_object(
    'table', TG_TABLE_NAME,
    'op', TG_OP,
    'session_id', sid,
    'new', CASE WHEN TG_OP = 'DELETE' THEN NULL ELSE row_to_json(NEW) END,
    'old', CASE WHEN TG_OP = 'INSERT' THEN NULL ELSE row_to_json(OLD) END
  );
  PERFORM pg_notify('%s', doc::text);
  RETURN NULL;
END;
$$;`, ChangeChannel)

	if err := database.Exec(fn).Error; err != nil {
		return fmt.Errorf("create change notify function: %w", err)
	}

	for _, table := range NotifiedTables {
		stmt := fmt.Sprintf(`
DROP TRIGGER IF EXISTS trg_%[1]s_notify ON %[1]s;
CREATE TRIGGER trg_%[1]s_notify
AFTER INSERT OR UPDATE OR DELETE ON %[1]s
FOR EACH ROW EXECUTE FUNCTION listenparty_notify_change();`, table)
		if err := database.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create change trigger on %s: %w", table, err)
		}
	}
	return nil
}
