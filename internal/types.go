package internal

type RejectReason string

const (
	RejectEmptyRow      RejectReason = "skip_empty_row"
	RejectCodeEmptyOrND RejectReason = "skip_code_empty_or_ND"
	RejectCodeInvalid   RejectReason = "skip_code_invalid"
	RejectQtyEmptyOrND  RejectReason = "skip_qty_empty_or_ND"
)

// Item is one validated row of an item table.
type Item struct {
	Code        string
	Description string
	QuantityRaw string
	// Quantity is NaN when QuantityRaw is not numeric after locale cleanup.
	Quantity float64
	Origin   string
}

type RejectionRecord struct {
	Table  int
	Row    int
	Reason RejectReason
	Value  string
}

type ExtractionResult struct {
	Items         []Item
	TablesTotal   int
	ItemTables    int
	RowsExtracted int
	RowsIgnored   int
	Rejections    []RejectionRecord
}

type KeyRule string

const (
	KeyCodeDesc KeyRule = "code_desc"
	KeyCodeOnly KeyRule = "code_only"
	KeyDescOnly KeyRule = "desc_only"
)

// ParseKeyRule maps unknown or empty values to KeyCodeDesc.
func ParseKeyRule(value string) KeyRule {
	switch KeyRule(value) {
	case KeyCodeOnly:
		return KeyCodeOnly
	case KeyDescOnly:
		return KeyDescOnly
	default:
		return KeyCodeDesc
	}
}

type AggregatedItem struct {
	Code        string
	Description string
	Quantity    float64
}

type RunStatus string

const (
	RunOK     RunStatus = "ok"
	RunFailed RunStatus = "failed"
)

type RunRow struct {
	ID            int
	TraceID       string
	EmailID       *int
	SourceName    string
	Status        RunStatus
	ErrorKind     *string
	ErrorMessage  *string
	TablesTotal   int
	ItemTables    int
	RowsExtracted int
	RowsIgnored   int
	CreatedAt     string
}

type EmailRow struct {
	ID         int
	Provider   string
	MessageID  string
	Subject    string
	Sender     string
	ReceivedAt string
	Hash       string
	Status     string
	RawRef     string
}

type FetchedMailMessage struct {
	Provider   string
	MessageID  string
	Subject    string
	From       string
	ReceivedAt string
	Raw        []byte
}
