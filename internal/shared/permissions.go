package shared

// Core platform permissions seeded for every tenant.
const (
	PermUsersView = "users:view"
	PermUsersEdit = "users:edit"

	PermRolesView = "roles:view"
	PermRolesEdit = "roles:edit"

	PermPoliciesView = "policies:view"
	PermPoliciesEdit = "policies:edit"

	PermInvoicesRead  = "invoices:read"
	PermInvoicesWrite = "invoices:write"

	PermBillingRead  = "billing:read"
	PermBillingWrite = "billing:write"
)

// CoreScopes lists the permissions seeded at tenant provisioning.
func CoreScopes() []string {
	return []string{
		PermUsersView,
		PermUsersEdit,
		PermRolesView,
		PermRolesEdit,
		PermPoliciesView,
		PermPoliciesEdit,
		PermInvoicesRead,
		PermInvoicesWrite,
		PermBillingRead,
		PermBillingWrite,
	}
}
