package contactsync

import "time"

// Decision is the outcome of resolving a divergent mapped pair.
type Decision struct {
	Winner Source
	Reason string
}

// Resolve picks the authoritative side of a divergent pair. It never looks
// at the differing fields. Under PolicyNewestWins an exact tie goes to local.
func Resolve(remoteUpdatedAt, localUpdatedAt time.Time, policy ConflictPolicy) Decision {
	switch policy {
	case PolicyProviderWins:
		return Decision{Winner: SourceRemote, Reason: "provider_wins policy"}
	case PolicyLocalWins:
		return Decision{Winner: SourceLocal, Reason: "local_wins policy"}
	}
	switch {
	case remoteUpdatedAt.After(localUpdatedAt):
		return Decision{Winner: SourceRemote, Reason: "remote updated more recently"}
	case localUpdatedAt.After(remoteUpdatedAt):
		return Decision{Winner: SourceLocal, Reason: "local updated more recently"}
	default:
		return Decision{Winner: SourceLocal, Reason: "equal update times, local wins tie"}
	}
}
