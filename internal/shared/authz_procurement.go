package shared

// Procurement permissions.
const (
	PermProcurementView    = "procurement.view"
	PermProcurementEdit    = "procurement.edit"
	PermProcurementReceive = "procurement.receive"
)

// ProcurementScopes lists all permissions related to procurement.
func ProcurementScopes() []string {
	return []string{
		PermProcurementView,
		PermProcurementEdit,
		PermProcurementReceive,
	}
}
