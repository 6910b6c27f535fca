package pricing

import "context"

// MemoryRepo is a static rate table, typically built from configuration.
type MemoryRepo struct {
	Rates []MinuteRate
}

// NewStaticRates builds the voice and video table billed per started minute.
func NewStaticRates(currency string, voiceMinor, videoMinor int64) *MemoryRepo {
	return &MemoryRepo{Rates: []MinuteRate{
		{CallType: "voice", Currency: currency, RatePerMinuteMinor: voiceMinor, BillingIncrementSeconds: 60, Status: RateStatusActive},
		{CallType: "video", Currency: currency, RatePerMinuteMinor: videoMinor, BillingIncrementSeconds: 60, Status: RateStatusActive},
	}}
}

func (r *MemoryRepo) FindRate(ctx context.Context, callType string) (MinuteRate, bool, error) {
	_ = ctx
	for _, p := range r.Rates {
		if p.CallType != callType {
			continue
		}
		if p.Status != RateStatusActive {
			continue
		}
		return p, true, nil
	}
	return MinuteRate{}, false, nil
}
