package partners

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Amount is a monetary value. The partner API renders decimals either as
// JSON numbers or as strings ("1500.00"), so both are accepted.
type Amount float64

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*a = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("partners: invalid amount %q", s)
		}
		*a = Amount(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*a = Amount(f)
	return nil
}

// Float returns the amount as a float64.
func (a Amount) Float() float64 { return float64(a) }

// ID is an identifier that may arrive as a JSON number or string.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Partner is the authenticated member a conversation is held with.
type Partner struct {
	ID               int64  `json:"id"`
	FirstName        string `json:"first_name"`
	PaternalLastName string `json:"paternal_last_name,omitempty"`
	MaternalLastName string `json:"maternal_last_name,omitempty"`
	FullName         string `json:"full_name"`
	DocumentNumber   string `json:"document_number"`
	BirthDate        string `json:"birth_date,omitempty"`
	Phone            string `json:"phone,omitempty"`
	Email            string `json:"email,omitempty"`
	Status           string `json:"status,omitempty"`
}

// DisplayFirstName returns the first given name, falling back to the first
// word of the full name.
func (p Partner) DisplayFirstName() string {
	if name := strings.TrimSpace(p.FirstName); name != "" {
		return strings.Fields(name)[0]
	}
	if fields := strings.Fields(p.FullName); len(fields) > 0 {
		return fields[0]
	}
	return ""
}

// DisplayName returns the full name or, when absent, the composed name parts.
func (p Partner) DisplayName() string {
	if name := strings.TrimSpace(p.FullName); name != "" {
		return name
	}
	parts := []string{}
	for _, s := range []string{p.FirstName, p.PaternalLastName, p.MaternalLastName} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// BirthYear returns the year component of BirthDate ("YYYY-MM-DD").
func (p Partner) BirthYear() string {
	if len(p.BirthDate) < 4 {
		return ""
	}
	return p.BirthDate[:4]
}

// Product accepts both the nested object form and the bare-name form the
// statement endpoint uses.
type Product struct {
	ID          int64  `json:"id,omitempty"`
	Name        string `json:"name"`
	ProductType string `json:"product_type,omitempty"`
}

func (p *Product) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = Product{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*p = Product{Name: name}
		return nil
	}
	type plain Product
	var out plain
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*p = Product(out)
	return nil
}

// Credit is one loan held by a partner.
type Credit struct {
	ID                 int64   `json:"id"`
	Product            Product `json:"product"`
	Amount             Amount  `json:"amount"`
	InterestRate       Amount  `json:"interest_rate"`
	TermDuration       int     `json:"term_duration"`
	PaymentFrequency   string  `json:"payment_frequency,omitempty"`
	PaymentAmount      Amount  `json:"payment_amount"`
	OutstandingBalance Amount  `json:"outstanding_balance"`
	Status             string  `json:"status"`
}

// StatementSummary aggregates a partner's credits and payments.
type StatementSummary struct {
	TotalCredits       int    `json:"total_credits"`
	TotalDisbursed     Amount `json:"total_disbursed"`
	TotalPayments      Amount `json:"total_payments"`
	TotalOutstanding   Amount `json:"total_outstanding"`
	ActiveCreditsCount int    `json:"active_credits_count"`
}

// Statement is the account statement of a partner.
type Statement struct {
	Partner Partner          `json:"partner"`
	Summary StatementSummary `json:"summary"`
	Credits []Credit         `json:"credits"`
}

// CreditList is the list of a partner's credits.
type CreditList struct {
	Credits []Credit `json:"credits"`
	Count   int      `json:"count"`
}

// InstallmentSummary counts the installments of one credit.
type InstallmentSummary struct {
	TotalInstallments   int `json:"total_installments"`
	PaidInstallments    int `json:"paid_installments"`
	PendingInstallments int `json:"pending_installments"`
	OverdueInstallments int `json:"overdue_installments"`
}

// CreditDetail is a credit plus its installment summary.
type CreditDetail struct {
	Credit  Credit             `json:"credit"`
	Summary InstallmentSummary `json:"summary"`
}

// TicketRequest opens a support ticket for a partner.
type TicketRequest struct {
	PartnerDocument string `json:"partner_document"`
	Subject         string `json:"subject"`
	Description     string `json:"description"`
	Priority        int    `json:"priority"`
}

// Ticket is the created support ticket.
type Ticket struct {
	ID      ID     `json:"id"`
	Subject string `json:"subject,omitempty"`
	Status  string `json:"status,omitempty"`
}

// ReceiptUpload carries a payment receipt image and the fields extracted from it.
type ReceiptUpload struct {
	PartnerID   int64
	File        []byte
	Filename    string
	Amount      float64
	PaymentDate string
	Notes       string
}

// Receipt is the stored payment receipt.
type Receipt struct {
	ID          ID     `json:"id"`
	Amount      Amount `json:"amount"`
	PaymentDate string `json:"payment_date"`
	Status      string `json:"status,omitempty"`
}
