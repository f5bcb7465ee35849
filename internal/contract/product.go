package contract

// ProductView is the product representation served by the inventory service
// and read by the order service's catalog adapter.
type ProductView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    string `json:"price"`
	Currency string `json:"currency"`
	Stock    int    `json:"stock"`
	Active   bool   `json:"active"`
}
