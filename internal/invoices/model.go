package invoices

import "time"

// Party is a company, billing or shipping contact printed on an invoice
type Party struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// Details carries the invoice number and dates
type Details struct {
	Number  string `json:"number"`
	Date    string `json:"date"`
	DueDate string `json:"dueDate"`
}

// Account is the bank account payments go to
type Account struct {
	Name     string `json:"name"`
	Number   string `json:"number"`
	IFSCCode string `json:"ifsccode"`
}

// Item is one invoice line
type Item struct {
	Name        string  `json:"name"`
	Qty         float64 `json:"qty"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description,omitempty"`
}

// Total returns the line total
func (i Item) Total() float64 {
	return i.Qty * i.Amount
}

// Invoice is an invoice as stored by the backend
type Invoice struct {
	ID            string     `json:"id,omitempty"`
	ClerkID       string     `json:"clerkId,omitempty"`
	Title         string     `json:"title"`
	ThumbnailURL  string     `json:"thumbnailUrl,omitempty"`
	Template      string     `json:"template,omitempty"`
	Company       Party      `json:"company"`
	Billing       Party      `json:"billing"`
	Shipping      Party      `json:"shipping"`
	Invoice       Details    `json:"invoice"`
	Account       Account    `json:"account"`
	Items         []Item     `json:"items"`
	Tax           float64    `json:"tax"`
	Notes         string     `json:"notes,omitempty"`
	Logo          string     `json:"logo,omitempty"`
	CreatedAt     *time.Time `json:"createdAt,omitempty"`
	LastUpdatedAt *time.Time `json:"lastUpdatedAt,omitempty"`
}

// Subtotal is the sum of all line totals
func (inv *Invoice) Subtotal() float64 {
	var sum float64
	for _, item := range inv.Items {
		sum += item.Total()
	}
	return sum
}

// Total is the subtotal plus tax, where Tax is a percentage
func (inv *Invoice) Total() float64 {
	sub := inv.Subtotal()
	return sub + sub*inv.Tax/100
}
