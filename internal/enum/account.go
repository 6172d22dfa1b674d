package enum

type AccountStatus string

const (
	AccountProvisioning AccountStatus = "provisioning"
	AccountActive       AccountStatus = "active"
	AccountAuthError    AccountStatus = "auth_error"
	AccountDisabled     AccountStatus = "disabled"
	AccountDeleted      AccountStatus = "deleted"
)

func (t AccountStatus) String() string {
	return string(t)
}

// Syncable reports whether the account should be assigned to a worker.
func (t AccountStatus) Syncable() bool {
	return t == AccountActive
}

type EmailSecurity string

const (
	EmailSecurityNone     EmailSecurity = "none"
	EmailSecurityTLS      EmailSecurity = "tls"
	EmailSecurityStartTLS EmailSecurity = "startTLS"
)

func (t EmailSecurity) String() string {
	return string(t)
}
