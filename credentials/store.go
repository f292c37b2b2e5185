package credentials

// Storage keys for the credential pair. These are defined once here; every
// other component refers to the constants rather than repeating the literals,
// so the pipeline and the session store can never disagree on naming.
const (
	AccessKey  = "access"
	RefreshKey = "refresh"
)

// Pair is the credential pair issued by the backend: a short-lived access
// token and the longer-lived refresh token used to mint a replacement.
type Pair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Store persists the credential pair. At most one pair is held at a time;
// Save atomically replaces any previous pair.
type Store interface {
	// Load returns the stored pair, or nil when nothing is stored.
	Load() (*Pair, error)
	Save(pair Pair) error
	Clear() error
}
