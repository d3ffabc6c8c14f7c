package eventdb

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE session(
			id INTEGER PRIMARY KEY,
			uuid TEXT NOT NULL,
			started_at INT NOT NULL,
			model TEXT NOT NULL,
			info TEXT
		);

		CREATE TABLE detection(
			id INTEGER PRIMARY KEY,
			session_id INT NOT NULL,
			time INT NOT NULL,
			sequence_num INT NOT NULL,
			label INT NOT NULL,
			label_text TEXT NOT NULL,
			confidence REAL NOT NULL,
			x_min REAL NOT NULL,
			y_min REAL NOT NULL,
			x_max REAL NOT NULL,
			y_max REAL NOT NULL,
			has_spatial BOOLEAN NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			z REAL NOT NULL
		);

		CREATE UNIQUE INDEX idx_session_uuid ON session(uuid);
		CREATE INDEX idx_detection_session_id ON detection(session_id);
		CREATE INDEX idx_detection_time ON detection(time);
	`))

	return migs
}
