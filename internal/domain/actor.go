package domain

// ActorKind differentiates who initiated a ticket operation.
type ActorKind string

const (
	ActorUser   ActorKind = "user"
	ActorStaff  ActorKind = "staff"
	ActorSystem ActorKind = "system"
)

// Actor identifies the initiator of a ticket operation.
type Actor struct {
	Kind ActorKind `json:"kind"`
	ID   string    `json:"id,omitempty"`
}

func UserActor(id string) Actor  { return Actor{Kind: ActorUser, ID: id} }
func StaffActor(id string) Actor { return Actor{Kind: ActorStaff, ID: id} }

// SystemActor is used by administrative overrides and scheduled jobs.
func SystemActor() Actor { return Actor{Kind: ActorSystem} }
