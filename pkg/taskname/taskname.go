package taskname

const (
	// Earnings tasks
	EarningsCalculatePeriod   = "earnings:calculate:period"
	EarningsCalculateCampaign = "earnings:calculate:campaign"

	// Payout tasks
	PayoutRun = "payout:run"
)
