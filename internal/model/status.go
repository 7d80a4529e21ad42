package model

var transitions = map[CampaignStatus][]CampaignStatus{
	StatusPending:    {StatusScheduled, StatusProcessing},
	StatusScheduled:  {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

// CanTransition reports whether from -> to is an edge of the campaign lifecycle.
func CanTransition(from, to CampaignStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Claimable lists the statuses a claim may start from.
func Claimable() []CampaignStatus {
	return []CampaignStatus{StatusPending, StatusScheduled}
}

func (s CampaignStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s CampaignStatus) IsClaimable() bool {
	return CanTransition(s, StatusProcessing)
}

func (s CampaignStatus) Valid() bool {
	switch s {
	case StatusPending, StatusScheduled, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}
