package warehouse

// ChangeKind classifies a source row against warehouse state.
type ChangeKind int

const (
	// ChangeNew means neither the row's content hash nor its natural key
	// is present among the warehouse's current versions.
	ChangeNew ChangeKind = iota
	// ChangeChanged means the natural key is current in the warehouse but
	// under a different content hash.
	ChangeChanged
	// ChangeUnchanged means the row's content hash is already current.
	ChangeUnchanged
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeNew:
		return "new"
	case ChangeChanged:
		return "changed"
	case ChangeUnchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// ChangeRecord pairs a candidate row with its classification. Superseded
// holds the warehouse row the candidate replaces and is set only for
// ChangeChanged.
type ChangeRecord struct {
	Kind       ChangeKind
	Row        Row
	Superseded Row
}
