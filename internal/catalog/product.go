package catalog

import "time"

// Product is a catalog entry. JSON field names match the public API
// contract (Portuguese form fields), so they stay stable for existing
// clients.
type Product struct {
	ID          string    `json:"id"`
	Title       string    `json:"titulo"`
	Description string    `json:"descricao"`
	Price       float64   `json:"preco"`
	ImageURL    *string   `json:"fotoUrl"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Patch carries a partial update. Nil fields keep their prior value.
// UpdatedAt is always applied; the service sets it on every update.
type Patch struct {
	Title       *string
	Description *string
	Price       *float64
	ImageURL    *string
	UpdatedAt   time.Time
}
