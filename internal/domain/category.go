package domain

// CategoryKind classifies a plan category name.
type CategoryKind int

const (
	CategoryUnknown CategoryKind = iota
	CategoryIssuance
	CategoryCollection
)

// Categories holds the dictionary names used for the two plan categories.
// Legacy databases use localized names, so they are configurable.
type Categories struct {
	Issuance   string
	Collection string
}

// DefaultCategories returns the stock category names.
func DefaultCategories() Categories {
	return Categories{Issuance: "issuance", Collection: "collection"}
}

// Kind resolves a dictionary name to its plan category.
func (c Categories) Kind(name string) CategoryKind {
	switch name {
	case c.Issuance:
		return CategoryIssuance
	case c.Collection:
		return CategoryCollection
	default:
		return CategoryUnknown
	}
}
