// Package intent classifies inbound chat text into a closed set of intents.
package intent

import "strings"

// Type is the purpose of a user message.
type Type string

const (
	Greeting         Type = "GREETING"
	Authentication   Type = "AUTHENTICATION"
	PartnerDetail    Type = "PARTNER_DETAIL"
	AccountStatement Type = "ACCOUNT_STATEMENT"
	ListCredits      Type = "LIST_CREDITS"
	CreditDetail     Type = "CREDIT_DETAIL"
	CreateTicket     Type = "CREATE_TICKET"
	UploadReceipt    Type = "UPLOAD_RECEIPT"
	Help             Type = "HELP"
	Goodbye          Type = "GOODBYE"
	Unknown          Type = "UNKNOWN"
)

// All lists every member of the enum.
var All = []Type{
	Greeting,
	Authentication,
	PartnerDetail,
	AccountStatement,
	ListCredits,
	CreditDetail,
	CreateTicket,
	UploadReceipt,
	Help,
	Goodbye,
	Unknown,
}

// Parse returns the Type named by s (case-insensitive) and whether it is a
// member of the enum.
func Parse(s string) (Type, bool) {
	candidate := Type(strings.ToUpper(strings.TrimSpace(s)))
	for _, t := range All {
		if t == candidate {
			return t, true
		}
	}
	return Unknown, false
}

func (t Type) String() string { return string(t) }

// Names returns the enum as plain strings, used for AI response schemas.
func Names() []string {
	out := make([]string, 0, len(All))
	for _, t := range All {
		out = append(out, string(t))
	}
	return out
}
