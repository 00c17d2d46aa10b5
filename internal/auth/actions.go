package auth

// Audit action names. One entry is emitted per attempt, including failures,
// so an incident timeline can be reconstructed from the audit log alone.
const (
	ActionLoginSuccess       = "login_success"
	ActionLoginFailed        = "login_failed"
	ActionAccountLocked      = "account_locked"
	ActionAccountUnlocked    = "account_unlocked"
	ActionLogout             = "logout"
	ActionTokenRefreshed     = "token_refreshed"
	ActionTokenRefreshFailed = "token_refresh_failed"
	ActionPermissionDenied   = "permission_denied"
	ActionPasswordChanged    = "password_changed"
	ActionPasswordReset      = "password_reset"
	ActionUserCreated        = "user_created"
	ActionUserUpdated        = "user_updated"
	ActionUserDeleted        = "user_deleted"
	ActionSessionRevoked     = "session_revoked"
	ActionSessionsRevokedAll = "sessions_revoked_all"
	ActionRoleCreated        = "role_created"
	ActionRolePermissionsSet = "role_permissions_set"
	ActionRoleDeleted        = "role_deleted"
)
