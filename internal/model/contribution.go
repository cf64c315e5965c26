package model

import "time"

// ContributionRecord accumulates the signing statistics of one authorizer.
// It is created lazily on the first signature and never deleted.
type ContributionRecord struct {
	AuthorizerID      string
	TotalSignatures   int
	TotalResponseTime time.Duration
	// QualityScore is recomputed on every signature, range [20,100].
	QualityScore      int
	LastSignatureTime time.Time
}

func (r ContributionRecord) AvgResponseTime() time.Duration {
	if r.TotalSignatures == 0 {
		return 0
	}
	return r.TotalResponseTime / time.Duration(r.TotalSignatures)
}
