package taskname

const (
	// Control plane
	LicenseRefreshExpiring = "license:refresh:expiring"
	LicensePush            = "license:push"

	// ISP instance
	LicenseMonitorRun     = "license:monitor:run"
	LicenseOverageBilling = "license:overage:billing"
)
