package contracts

// Tier is the trust level of the calling surface. Experimental callers never
// receive blocking decisions; authoritative callers do, except in a local
// environment where decisions degrade to advisory.
type Tier string

const (
	TierExperimental  Tier = "experimental"
	TierStandard      Tier = "standard"
	TierAuthoritative Tier = "authoritative"
)

// Valid reports whether t is a known tier. The zero value is treated as
// standard by the envelope layer.
func (t Tier) Valid() bool {
	switch t {
	case TierExperimental, TierStandard, TierAuthoritative:
		return true
	}
	return false
}

// Environment is where the oracle is running. Decisions made in a local
// environment are advisory regardless of tier.
type Environment string

const (
	EnvLocal Environment = "local"
	EnvCI    Environment = "ci"
	EnvCloud Environment = "cloud"
)

// Valid reports whether e is a known environment.
func (e Environment) Valid() bool {
	switch e {
	case EnvLocal, EnvCI, EnvCloud:
		return true
	}
	return false
}
