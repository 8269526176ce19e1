// SPDX-License-Identifier: MIT

package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mextic/recargas/internal/model"
	"github.com/mextic/recargas/internal/provider"
	"github.com/mextic/recargas/internal/queue"
)

func TestMasterNoteMultiItem(t *testing.T) {
	got := FormatMasterNote(model.ServiceGPS, NoteCounters{
		Success:         3,
		TotalRecords:    120,
		PendingAtDayEnd: 7,
		ReportingOnTime: 110,
		Processed:       3,
		TotalToRecharge: 10,
	}, "", "")
	want := "[ 003 / 120 ] Recarga Automática **** 007 Pendientes al Finalizar el Día **** [ 110 Reportando en Tiempo y Forma ] (3 procesados de 10 total)"
	assert.Equal(t, want, got)
}

func TestMasterNoteSingleItemEmbedsDevice(t *testing.T) {
	got := FormatMasterNote(model.ServiceGPS, NoteCounters{
		Success:         1,
		TotalRecords:    50,
		PendingAtDayEnd: 0,
		ReportingOnTime: 49,
		Processed:       1,
		TotalToRecharge: 1,
	}, "CAMION 12", "TRANSPORTES DEL NORTE")
	want := "[ 001 / 050 ] CAMION 12 [TRANSPORTES DEL NORTE] - Recarga Automática **** 000 Pendientes al Finalizar el Día **** [ 49 Reportando en Tiempo y Forma ] (1 procesados de 1 total)"
	assert.Equal(t, want, got)
}

func TestMasterNoteRecoveryPrefix(t *testing.T) {
	got := FormatMasterNote(model.ServiceELIOT, NoteCounters{
		Success:         2,
		TotalRecords:    8,
		PendingAtDayEnd: 1,
		ReportingOnTime: 5,
		Processed:       2,
		TotalToRecharge: 3,
		IsRecovery:      true,
	}, "", "")
	assert.Equal(t,
		"< RECUPERACIÓN > [ 002 / 008 ] Recarga Automática **** 001 Pendientes al Finalizar el Día **** [ 5 Reportando en Tiempo y Forma ] (2 procesados de 3 total)",
		got)
}

func TestMasterNoteVOZ(t *testing.T) {
	got := FormatMasterNote(model.ServiceVOZ, NoteCounters{Processed: 2}, "", "")
	assert.Equal(t, "Recarga Automática VOZ - 2 paquetes procesados", got)

	got = FormatMasterNote(model.ServiceVOZ, NoteCounters{Processed: 1, IsRecovery: true}, "", "")
	assert.Equal(t, "< RECUPERACIÓN > Recarga Automática VOZ - 1 paquetes procesados", got)
}

func TestDetailText(t *testing.T) {
	item := queue.Item{
		ServiceType: model.ServiceGPS,
		SIM:         "6671234567",
		Provider:    provider.NameTaecel,
		Webservice: &provider.CallResult{
			Folio:        "F-001",
			Amount:       10,
			Carrier:      "Telcel",
			DateStr:      "2024-03-15 10:00:00",
			TransID:      "TX-77",
			FinalBalance: "$90.00",
			TimeoutMs:    "3500",
			IP:           "10.0.0.1",
		},
	}
	want := "[ Saldo Final: $90.00 ] Folio: F-001, Cantidad: $10.00, Teléfono: 6671234567, Carrier: Telcel, Fecha: 2024-03-15 10:00:00, TransID: TX-77, Timeout: 3500, IP: 10.0.0.1"
	assert.Equal(t, want, FormatDetailText(item))
}

func TestDetailTextWithPackageAndNote(t *testing.T) {
	item := queue.Item{
		ServiceType:  model.ServiceVOZ,
		SIM:          "6670000001",
		Provider:     provider.NameMST,
		PackageCode:  "150005",
		PackagePSL:   "PSL150",
		DaysValidity: 25,
		Webservice: &provider.CallResult{
			Folio:        "MST-900",
			Amount:       150,
			Carrier:      "Telcel",
			DateStr:      "2024-03-15",
			FinalBalance: "1200.00",
			Note:         "promo aplicada",
		},
	}
	got := FormatDetailText(item)
	assert.Contains(t, got, "Cantidad: $150.00")
	assert.Contains(t, got, ", Paquete: 150005 (PSL150), Días: 25, Provider: MST")
	assert.Contains(t, got, ", promo aplicada")
}
