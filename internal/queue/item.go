// SPDX-License-Identifier: MIT

// Package queue implements the durable auxiliary queue that bridges the
// gap between a paid webservice call and its database commit. Every
// mutation is flushed to stable storage before returning, so a crash
// at any point leaves enough state to recover without double charging.
package queue

import (
	"time"

	"github.com/mextic/recargas/internal/model"
	"github.com/mextic/recargas/internal/provider"
)

// Status is the lifecycle state of a queue item.
type Status string

const (
	// StatusPendingDB: webservice succeeded, DB insert not yet attempted.
	StatusPendingDB Status = "webservice_success_pending_db"
	// StatusFailedPendingRecovery: a DB attempt failed; the item must be
	// reconciled before any new dispatch.
	StatusFailedPendingRecovery Status = "db_insertion_failed_pending_recovery"
	// StatusRecoveryPendingDB: picked up by a recovery drain, awaiting
	// its DB attempt.
	StatusRecoveryPendingDB Status = "recovery_pending_db"
	// StatusInserted: detail row committed and verified.
	StatusInserted Status = "inserted"
	// StatusDuplicate: folio already present in the detail table;
	// counted as success.
	StatusDuplicate Status = "duplicate"
	// StatusFailed: terminal failure.
	StatusFailed Status = "failed"
)

// NeedsDB reports whether the item still awaits a database insert.
func (s Status) NeedsDB() bool {
	return s == StatusPendingDB || s == StatusFailedPendingRecovery || s == StatusRecoveryPendingDB
}

// Processed reports whether the item reached a verified terminal
// success state and may be cleaned.
func (s Status) Processed() bool {
	return s == StatusInserted || s == StatusDuplicate
}

// RecordSnapshot preserves the candidate as it looked when the
// webservice call was made.
type RecordSnapshot struct {
	Description string `json:"descripcion"`
	Company     string `json:"empresa"`
	DeviceID    string `json:"dispositivo"`
	SIM         string `json:"sim"`
	ExpiryUnix  int64  `json:"unix_saldo"`
}

// NoteData carries the batch counters that feed the master note string.
type NoteData struct {
	CurrentIndex    int  `json:"currentIndex"`
	TotalToRecharge int  `json:"totalToRecharge"`
	ReportingOnTime int  `json:"reportingOnTime"`
	TotalRecords    int  `json:"totalRecords"`
	IsRecovery      bool `json:"isRecovery"`
}

// Item is one durable queue entry.
type Item struct {
	ID           string               `json:"id"`
	ServiceType  model.ServiceType    `json:"serviceType"`
	SIM          string               `json:"sim"`
	Kind         string               `json:"kind"` // "{service}_recharge"
	Status       Status               `json:"status"`
	Amount       float64              `json:"amount"`
	DaysValidity int                  `json:"daysValidity"`
	Record       RecordSnapshot       `json:"record"`
	Webservice   *provider.CallResult `json:"webserviceResponse,omitempty"`
	Note         NoteData             `json:"noteData"`
	Provider     string               `json:"provider"`
	TransID      string               `json:"transId"`

	// VOZ: catalog code and PSL package actually purchased.
	PackageCode string `json:"codigoPaquete,omitempty"`
	PackagePSL  string `json:"paquetePsl,omitempty"`

	Attempts      int       `json:"attempts"`
	LastAttemptAt time.Time `json:"lastAttemptAt,omitzero"`
	AddedAt       time.Time `json:"addedAt"`
	LastError     string    `json:"lastError,omitempty"`

	// Pre-recharge expiry formatted DD/MM/YYYY for operators.
	ExpirationDateHuman string `json:"expirationDateHuman"`
}

// Stats summarizes a queue.
type Stats struct {
	Pending   int `json:"pending"`
	Inserted  int `json:"inserted"`
	Duplicate int `json:"duplicate"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// PendingDB is the count of items still requiring DB reconciliation,
// including terminal failures awaiting operator action.
func (s Stats) PendingDB() int { return s.Pending + s.Failed }

// Marker is the crash-recovery marker written on pipeline entry and
// deleted on clean exit.
type Marker struct {
	WasProcessing  bool      `json:"wasProcessing"`
	StartedAt      time.Time `json:"startedAt"`
	ItemsInProcess int       `json:"itemsInProcess"`
	Sample         []Item    `json:"sample"`
}
