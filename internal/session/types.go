package session

type State int32

const (
	StateUninitialized State = iota
	StateUnauthenticated
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Session is the credential pair issued by the backend on login or
// registration. It is valid purely by presence of a non-empty access token.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (s Session) Valid() bool {
	return s.AccessToken != ""
}

const (
	AccessTokenKey  = "access_token"
	RefreshTokenKey = "refresh_token"
)
