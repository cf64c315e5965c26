package model

// Capability is a single permission an authorizer may hold.
type Capability string

const (
	CanPropose Capability = "propose"
	CanSign    Capability = "sign"
	CanVeto    Capability = "veto"
)

// Authorizer is an identity allowed to act on proposals. Authorization
// checks test capability membership, never the shape of the id.
type Authorizer struct {
	ID           string
	Name         string
	Capabilities []Capability
}

func (a Authorizer) Can(capability Capability) bool {
	for _, c := range a.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}
