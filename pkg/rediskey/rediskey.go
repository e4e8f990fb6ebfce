package rediskey

import "fmt"

// Task id prefixes (global convention across workers)
const (
	TaskPrefix            = "task"
	CalculationTaskPrefix = "task:calculation"
	CampaignTaskPrefix    = "task:calculation:campaign"
	PayoutRunTaskPrefix   = "task:payout:run"
	allPromoters          = "all"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildCalculationTaskID returns "task:calculation:{period}"
func BuildCalculationTaskID(period string) string {
	return NamespaceKey(CalculationTaskPrefix, period)
}

// BuildCampaignTaskID returns "task:calculation:campaign:{campaignID}:{period}"
func BuildCampaignTaskID(campaignID, period string) string {
	return NamespaceKey(CampaignTaskPrefix, NamespaceKey(campaignID, period))
}

// BuildPayoutRunTaskID returns "task:payout:run:{promoterID}" or "task:payout:run:all"
func BuildPayoutRunTaskID(promoterID string) string {
	if promoterID == "" {
		promoterID = allPromoters
	}
	return NamespaceKey(PayoutRunTaskPrefix, promoterID)
}
