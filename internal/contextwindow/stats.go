package contextwindow

import "github.com/harunnryd/cosmo/internal/model/contract"

type Level string

const (
	LevelOK       Level = "ok"
	LevelModerate Level = "moderate"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

type Stats struct {
	TotalTokens  int     `json:"total_tokens"`
	WindowSize   int     `json:"window_size"`
	UsageRatio   float64 `json:"usage_ratio"`
	MessageCount int     `json:"message_count"`
}

func ComputeStats(messages []contract.Message, window int) Stats {
	total := EstimateMessagesTokens(messages)
	ratio := 0.0
	if window > 0 {
		ratio = float64(total) / float64(window)
	}
	return Stats{
		TotalTokens:  total,
		WindowSize:   window,
		UsageRatio:   ratio,
		MessageCount: len(messages),
	}
}

// Level buckets usage at 50%, 70% and 90%.
func (s Stats) Level() Level {
	switch {
	case s.UsageRatio < 0.5:
		return LevelOK
	case s.UsageRatio < 0.7:
		return LevelModerate
	case s.UsageRatio < 0.9:
		return LevelHigh
	default:
		return LevelCritical
	}
}
