package domain

// Version counts the units of work committed for an aggregate. Zero means
// the aggregate was never persisted. It moves by exactly one per commit.
type Version uint64

func (v Version) Next() Version {
	return v + 1
}

func (v Version) IsNew() bool {
	return v == 0
}
