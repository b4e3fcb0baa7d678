package domain

// Merchant is a merchant node keyed by its canonical name. Merchants are
// created implicitly the first time a transaction references them; many
// transactions share one merchant node.
type Merchant struct {
	Name         string // unique key
	CategoryHint string // optional category suggested by the source
	Location     *Location
}

// Category is a category node keyed by name. ParentCategory is a flat
// optional pointer: it is not enforced to form a tree, so any traversal
// over the hierarchy must carry a visited set to survive cycles.
type Category struct {
	Name           string // unique key
	ParentCategory string // optional; "" means top-level
}
