package roap

// Role records which side of a media.Connection a peer plays. The engine
// itself is role-agnostic — it reacts to whichever side initiates a given
// exchange — so Role exists purely for the facade's logging and metrics.
type Role string

const (
	RoleOfferer  Role = "offerer"
	RoleAnswerer Role = "answerer"
)

func (r Role) String() string { return string(r) }
