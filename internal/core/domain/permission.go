package domain

type PermissionStatus struct {
	Allowed bool
	Reason  string
}

type PermissionRequest struct {
	Accepted bool
	Reason   string
}
