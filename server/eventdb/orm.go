package eventdb

import "github.com/cyclopcam/dbh"

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// A session is one run of the program, from device open until exit
type Session struct {
	BaseModel
	UUID      string                          `json:"uuid"` // Unique across databases, so that sessions from different hosts can be merged
	StartedAt dbh.IntTime                     `json:"startedAt"`
	Model     string                          `json:"model"` // Name of the neural network
	Info      *dbh.JSONField[SessionInfoJSON] `json:"info"`
}

// SessionInfoJSON is the part of the session that we don't need to query on
type SessionInfoJSON struct {
	Family  string   `json:"family"`
	Labels  []string `json:"labels"`
	Streams []string `json:"streams"`
	Replay  string   `json:"replay,omitempty"` // Filename, if the session was played back from a recording
}

// A detection is one object found by the network in one inference
type Detection struct {
	BaseModel
	SessionID   int64       `json:"sessionID"`
	Time        dbh.IntTime `json:"time"`
	SequenceNum int64       `json:"sequenceNum"`
	Label       int         `json:"label"`
	LabelText   string      `json:"labelText"`
	Confidence  float32     `json:"confidence"`
	XMin        float32     `json:"xmin"` // Normalized box coordinates
	YMin        float32     `json:"ymin"`
	XMax        float32     `json:"xmax"`
	YMax        float32     `json:"ymax"`
	HasSpatial  bool        `json:"hasSpatial"`
	X           float32     `json:"x"` // Spatial coordinates in millimeters
	Y           float32     `json:"y"`
	Z           float32     `json:"z"`
}
