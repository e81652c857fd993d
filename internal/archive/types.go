package archive

import "time"

// RecordVersion is stamped on every archived receipt record.
const RecordVersion = "1.0"

// ReceiptRecord is the metadata archived next to a receipt image.
type ReceiptRecord struct {
	Version     string    `json:"version"`
	ReceiptID   string    `json:"receipt_id"`
	PartnerID   int64     `json:"partner_id"`
	DocHash     string    `json:"document_hash"` // sha256 of the DNI
	Channel     string    `json:"channel"`
	AddressHash string    `json:"address_hash"` // sha256 of phone or chat id
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	SizeBytes   int       `json:"size_bytes"`
	Amount      float64   `json:"amount"`
	PaymentDate string    `json:"payment_date"`
	Method      string    `json:"method"`
	Confidence  float64   `json:"confidence"`
	Caption     string    `json:"caption,omitempty"` // scrubbed
	ImageKey    string    `json:"image_key"`
	ArchivedAt  time.Time `json:"archived_at"`
}

// ManifestEntry is one JSONL line in the monthly manifest file.
type ManifestEntry struct {
	ReceiptID  string  `json:"receipt_id"`
	PartnerID  int64   `json:"partner_id"`
	Channel    string  `json:"channel"`
	ImageKey   string  `json:"image_key"`
	RecordKey  string  `json:"record_key"`
	Amount     float64 `json:"amount"`
	Method     string  `json:"method"`
	ArchivedAt string  `json:"archived_at"`
}
