package eventdb

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/depthview/pkg/nn"
	"github.com/cyclopcam/depthview/pkg/nnfamily"
	"github.com/cyclopcam/logs"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Once we have more than this many detections, we start deleting the oldest
const DefaultMaxDetectionCount = 1000000

// Only purge once every N inserts, because counting rows is not free
const DefaultPurgeInterval = 1000

// EventDB is a log of everything that the network detected.
// Each run of the program is a Session, and every detection belongs to a session.
type EventDB struct {
	log logs.Log
	DB  *gorm.DB

	lock              sync.Mutex
	session           Session
	maxDetectionCount int64
	purgeInterval     int
	sinceLastPurge    int
}

// Open or create an event DB, and start a new session in it
func NewEventDB(log logs.Log, dbFilename string, model string, info SessionInfoJSON) (*EventDB, error) {
	if dir := filepath.Dir(dbFilename); dir != "" {
		if err := os.MkdirAll(dir, 0770); err != nil {
			return nil, fmt.Errorf("Failed to create event DB directory '%v': %w", dir, err)
		}
	}
	log.Infof("Opening event DB at '%v'", dbFilename)
	db, err := dbh.OpenDB(log, dbh.MakeSqliteConfig(dbFilename), Migrations(log), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open database %v: %w", dbFilename, err)
	}
	e := &EventDB{
		log:               log,
		DB:                db,
		maxDetectionCount: DefaultMaxDetectionCount,
		purgeInterval:     DefaultPurgeInterval,
	}
	e.session = Session{
		UUID:      uuid.NewString(),
		StartedAt: dbh.MakeIntTime(time.Now()),
		Model:     model,
		Info:      dbh.MakeJSONField(info),
	}
	if err := e.DB.Create(&e.session).Error; err != nil {
		return nil, err
	}
	log.Infof("Event DB session %v", e.session.UUID)
	return e, nil
}

// Session returns the session that we are recording into
func (e *EventDB) Session() Session {
	return e.session
}

// AddResult records every detection of the result that is confident enough to draw.
// Results from networks that are not object detectors are ignored.
func (e *EventDB) AddResult(handler *nnfamily.Handler, res *nnfamily.Result) error {
	if res == nil || len(res.Detections) == 0 {
		return nil
	}
	now := dbh.MakeIntTime(time.Now())
	rows := []*Detection{}
	for _, d := range res.Detections {
		if !handler.Visible(&d.ImgDetection) {
			continue
		}
		label, _ := nn.LabelText(handler.Labels(), d.Label)
		rows = append(rows, &Detection{
			SessionID:   e.session.ID,
			Time:        now,
			SequenceNum: res.SequenceNum,
			Label:       d.Label,
			LabelText:   label,
			Confidence:  d.Confidence,
			XMin:        d.XMin,
			YMin:        d.YMin,
			XMax:        d.XMax,
			YMax:        d.YMax,
			HasSpatial:  res.HasSpatial,
			X:           d.SpatialCoordinates.X,
			Y:           d.SpatialCoordinates.Y,
			Z:           d.SpatialCoordinates.Z,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	if err := e.DB.Create(rows).Error; err != nil {
		return err
	}

	e.lock.Lock()
	e.sinceLastPurge += len(rows)
	mustPurge := e.sinceLastPurge >= e.purgeInterval
	if mustPurge {
		e.sinceLastPurge = 0
	}
	e.lock.Unlock()

	if mustPurge {
		e.purgeOldRecords()
	}
	return nil
}

// Recent returns the most recent detections of the current session, newest first
func (e *EventDB) Recent(limit int) ([]*Detection, error) {
	var dets []*Detection
	if err := e.DB.Where("session_id = ?", e.session.ID).Order("id DESC").Limit(limit).Find(&dets).Error; err != nil {
		return nil, err
	}
	return dets, nil
}

// CountByLabel returns the number of detections of each label in the current session
func (e *EventDB) CountByLabel() (map[string]int64, error) {
	type labelCount struct {
		LabelText string
		Count     int64
	}
	var counts []labelCount
	if err := e.DB.Model(&Detection{}).Select("label_text, COUNT(*) AS count").Where("session_id = ?", e.session.ID).Group("label_text").Scan(&counts).Error; err != nil {
		return nil, err
	}
	m := map[string]int64{}
	for _, c := range counts {
		m[c.LabelText] = c.Count
	}
	return m, nil
}

// Sessions returns all sessions, oldest first
func (e *EventDB) Sessions() ([]*Session, error) {
	var sessions []*Session
	if err := e.DB.Order("id").Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func (e *EventDB) purgeOldRecords() {
	count := int64(0)
	if err := e.DB.Model(&Detection{}).Count(&count).Error; err != nil {
		e.log.Errorf("Failed to count detections: %v", err)
		return
	}
	if count <= e.maxDetectionCount {
		return
	}
	excess := count - e.maxDetectionCount
	e.log.Infof("Purging %v old detections", excess)
	if err := e.DB.Exec("DELETE FROM detection WHERE id IN (SELECT id FROM detection ORDER BY id LIMIT ?)", excess).Error; err != nil {
		e.log.Errorf("Failed to purge old detections: %v", err)
	}
}

func (e *EventDB) Close() {
	if sqlDB, err := e.DB.DB(); err == nil {
		sqlDB.Close()
	}
}
