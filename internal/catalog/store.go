package catalog

// Store owns the product collection. List preserves insertion order.
// Implementations must keep every operation atomic: a single writer at
// a time.
type Store interface {
	List() []Product
	Get(id string) (Product, bool)
	Insert(p Product)
	Update(id string, patch Patch) (Product, bool)
	Remove(id string) (Product, bool)
}
