// SPDX-License-Identifier: MIT

// Package model holds the domain types shared across the recharge
// pipeline: service types, candidates and their classification.
package model

import (
	"fmt"
	"strings"
)

// ServiceType identifies one of the recharge fleets the engine funds.
type ServiceType string

const (
	ServiceGPS   ServiceType = "GPS"
	ServiceVOZ   ServiceType = "VOZ"
	ServiceELIOT ServiceType = "ELIOT"
)

// AllServices lists every service type in pipeline registration order.
var AllServices = []ServiceType{ServiceGPS, ServiceVOZ, ServiceELIOT}

// ParseServiceType maps user input (any case) to a ServiceType.
func ParseServiceType(s string) (ServiceType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "GPS":
		return ServiceGPS, nil
	case "VOZ":
		return ServiceVOZ, nil
	case "ELIOT":
		return ServiceELIOT, nil
	}
	return "", fmt.Errorf("unknown service type %q", s)
}

// LedgerKind is the `tipo` column value of a master ledger row.
type LedgerKind string

const (
	KindRastreo LedgerKind = "rastreo"
	KindPaquete LedgerKind = "paquete"
)

// LedgerKind returns the master-row kind for the service: GPS recharges
// are tracking ("rastreo"), VOZ and ELIOT buy packages ("paquete").
func (s ServiceType) LedgerKind() LedgerKind {
	if s == ServiceGPS {
		return KindRastreo
	}
	return KindPaquete
}

// QueueKind returns the auxiliary-queue item kind for the service,
// e.g. "gps_recharge".
func (s ServiceType) QueueKind() string {
	return strings.ToLower(string(s)) + "_recharge"
}

// Lower returns the lowercase tag used in lock keys, file names and logs.
func (s ServiceType) Lower() string {
	return strings.ToLower(string(s))
}
