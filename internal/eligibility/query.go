// SPDX-License-Identifier: MIT

// Package eligibility selects the candidate set for a pipeline tick and
// classifies it with the two-level time gate. Level one (the candidate
// window) is enforced in SQL; level two (the dispatch decision) in the
// classifier, so the counters the master note needs fall out of the
// split.
package eligibility

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/mextic/recargas/internal/clock"
	"github.com/mextic/recargas/internal/model"
)

// Source runs the per-service candidate queries.
type Source struct {
	db   *sqlx.DB
	zone *clock.Zone
}

// NewSource creates a Source on the shared MySQL pool.
func NewSource(db *sqlx.DB, zone *clock.Zone) *Source {
	return &Source{db: db, zone: zone}
}

// deviceRow is the GPS/ELIOT candidate shape.
type deviceRow struct {
	SIM         string  `db:"sim"`
	Descripcion string  `db:"descripcion"`
	Empresa     string  `db:"empresa"`
	Dispositivo string  `db:"dispositivo"`
	UnixSaldo   int64   `db:"unix_saldo"`
	IdleMinutes float64 `db:"minutos_sin_reportar"`
}

// trackedDevicesSQL selects prepaid, active devices of one fleet whose
// credit expires by the window end, that kept reporting within the
// day-limit, and that have not already received a successful automated
// recharge today.
const trackedDevicesSQL = `
SELECT d.sim,
       d.descripcion,
       d.empresa,
       d.dispositivo,
       d.unix_saldo,
       (UNIX_TIMESTAMP() - d.ultima_transmision) / 60 AS minutos_sin_reportar
FROM dispositivos d
WHERE d.servicio = ?
  AND d.prepago = 1
  AND d.status = 1
  AND d.unix_saldo <= ?
  AND (UNIX_TIMESTAMP() - d.ultima_transmision) <= ? * 86400
  AND NOT EXISTS (
        SELECT 1
        FROM detalle_recargas dr
        JOIN recargas r ON r.id = dr.id_recarga
        WHERE dr.sim = d.sim
          AND dr.status = 1
          AND DATE(FROM_UNIXTIME(r.fecha)) = ?
  )
ORDER BY d.unix_saldo ASC`

// voiceSubscribersSQL selects active prepaid voice subscribers whose
// package expires by the window end and that were not recharged today.
const voiceSubscribersSQL = `
SELECT p.sim,
       p.descripcion,
       p.empresa,
       p.codigo_paquete,
       p.fecha_expira_saldo
FROM prepagos_automaticos p
WHERE p.status = 1
  AND p.fecha_expira_saldo <= ?
  AND NOT EXISTS (
        SELECT 1
        FROM detalle_recargas dr
        JOIN recargas r ON r.id = dr.id_recarga
        WHERE dr.sim = p.sim
          AND dr.status = 1
          AND DATE(FROM_UNIXTIME(r.fecha)) = ?
  )
ORDER BY p.fecha_expira_saldo ASC`

type voiceRow struct {
	SIM              string `db:"sim"`
	Descripcion      string `db:"descripcion"`
	Empresa          string `db:"empresa"`
	CodigoPaquete    string `db:"codigo_paquete"`
	FechaExpiraSaldo int64  `db:"fecha_expira_saldo"`
}

// Candidates returns the level-one candidate set for the service.
// daysLimit is the reporting window in days (DIAS_SIN_REPORTAR_LIMITE).
func (s *Source) Candidates(ctx context.Context, service model.ServiceType, daysLimit int) ([]model.Candidate, error) {
	endOfTomorrow := s.zone.EndOfTomorrow().Unix()
	today := s.zone.DateString(s.zone.Now())

	switch service {
	case model.ServiceGPS, model.ServiceELIOT:
		var rows []deviceRow
		err := s.db.SelectContext(ctx, &rows, trackedDevicesSQL,
			service.Lower(), endOfTomorrow, daysLimit, today)
		if err != nil {
			return nil, fmt.Errorf("eligibility %s: %w", service.Lower(), err)
		}
		out := make([]model.Candidate, 0, len(rows))
		for _, r := range rows {
			out = append(out, model.Candidate{
				Service:     service,
				SIM:         r.SIM,
				Description: r.Descripcion,
				Company:     r.Empresa,
				DeviceID:    r.Dispositivo,
				ExpiryUnix:  r.UnixSaldo,
				IdleMinutes: r.IdleMinutes,
				IdleDays:    r.IdleMinutes / (24 * 60),
			})
		}
		return out, nil

	case model.ServiceVOZ:
		var rows []voiceRow
		err := s.db.SelectContext(ctx, &rows, voiceSubscribersSQL, endOfTomorrow, today)
		if err != nil {
			return nil, fmt.Errorf("eligibility voz: %w", err)
		}
		out := make([]model.Candidate, 0, len(rows))
		for _, r := range rows {
			out = append(out, model.Candidate{
				Service:     model.ServiceVOZ,
				SIM:         r.SIM,
				Description: r.Descripcion,
				Company:     r.Empresa,
				ExpiryUnix:  r.FechaExpiraSaldo,
				PackageCode: r.CodigoPaquete,
			})
		}
		return out, nil
	}
	return nil, fmt.Errorf("eligibility: unknown service %q", service)
}
