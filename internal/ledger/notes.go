// SPDX-License-Identifier: MIT

// Package ledger materializes successful webservice calls into the
// recargas / detalle_recargas tables. The note strings written here
// are consumed verbatim by operators and downstream reporting; their
// format is frozen.
package ledger

import (
	"fmt"
	"strings"

	"github.com/mextic/recargas/internal/model"
	"github.com/mextic/recargas/internal/queue"
)

// NoteCounters carries the batch counters that feed the master note.
type NoteCounters struct {
	Success         int  // detail rows accounted for in this batch
	TotalRecords    int  // candidate set size for the tick
	PendingAtDayEnd int  // candidates left unfunded when the tick ended
	ReportingOnTime int  // devices still reporting (the "ahorro")
	Processed       int  // webservice calls completed this tick
	TotalToRecharge int  // webservice calls planned this tick
	IsRecovery      bool // batch came from a recovery drain
}

const recoveryPrefix = "< RECUPERACIÓN > "

// FormatMasterNote renders the `notas` column of a master row.
// singleDesc/singleCompany embed device identity for one-item batches;
// pass empty strings for multi-item batches.
func FormatMasterNote(service model.ServiceType, c NoteCounters, singleDesc, singleCompany string) string {
	var b strings.Builder
	if c.IsRecovery {
		b.WriteString(recoveryPrefix)
	}

	if service == model.ServiceVOZ {
		fmt.Fprintf(&b, "Recarga Automática VOZ - %d paquetes procesados", c.Processed)
		return b.String()
	}

	fmt.Fprintf(&b, "[ %03d / %03d ] ", c.Success, c.TotalRecords)
	if singleDesc != "" {
		fmt.Fprintf(&b, "%s [%s] - ", singleDesc, singleCompany)
	}
	fmt.Fprintf(&b,
		"Recarga Automática **** %03d Pendientes al Finalizar el Día **** [ %d Reportando en Tiempo y Forma ] (%d procesados de %d total)",
		c.PendingAtDayEnd, c.ReportingOnTime, c.Processed, c.TotalToRecharge)
	return b.String()
}

// FormatDetailText renders the `detalle` column of a detail row from a
// successful webservice call.
func FormatDetailText(item queue.Item) string {
	ws := item.Webservice
	if ws == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[ Saldo Final: %s ] Folio: %s, Cantidad: $%.2f, Teléfono: %s, Carrier: %s, Fecha: %s, TransID: %s, Timeout: %s, IP: %s",
		ws.FinalBalance, ws.Folio, ws.Amount, item.SIM, ws.Carrier, ws.DateStr, ws.TransID, ws.TimeoutMs, ws.IP)

	if item.PackageCode != "" {
		fmt.Fprintf(&b, ", Paquete: %s (%s), Días: %d, Provider: %s",
			item.PackageCode, item.PackagePSL, item.DaysValidity, item.Provider)
	}
	if ws.Note != "" {
		fmt.Fprintf(&b, ", %s", ws.Note)
	}
	return b.String()
}
