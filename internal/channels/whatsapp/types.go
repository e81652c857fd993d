package whatsapp

// Payload is the body of a WhatsApp webhook. WHAPI fills Messages and Event;
// the Meta Cloud API fills Object and Entry.
type Payload struct {
	Messages  []Message `json:"messages"`
	Event     Event     `json:"event"`
	ChannelID string    `json:"channel_id"`

	Object string      `json:"object"`
	Entry  []MetaEntry `json:"entry"`
}

// Event is the WHAPI event discriminator, e.g. {"type":"messages","event":"post"}.
type Event struct {
	Type  string `json:"type"`
	Event string `json:"event"`
}

// Message is one WHAPI message.
type Message struct {
	ID          string       `json:"id"`
	FromMe      bool         `json:"from_me"`
	Type        string       `json:"type"`
	ChatID      string       `json:"chat_id"`
	From        string       `json:"from"`
	FromName    string       `json:"from_name"`
	Timestamp   int64        `json:"timestamp"`
	Text        *Text        `json:"text,omitempty"`
	Image       *Image       `json:"image,omitempty"`
	Interactive *Interactive `json:"interactive,omitempty"`
}

type Text struct {
	Body string `json:"body"`
}

type Image struct {
	ID       string `json:"id"`
	Link     string `json:"link"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
	FileSize int64  `json:"file_size"`
}

// Interactive is a button or list reply.
type Interactive struct {
	Type        string `json:"type"`
	ButtonReply *Reply `json:"button_reply,omitempty"`
	ListReply   *Reply `json:"list_reply,omitempty"`
}

type Reply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// MetaEntry is one entry of a Meta Cloud API webhook.
type MetaEntry struct {
	ID      string       `json:"id"`
	Changes []MetaChange `json:"changes"`
}

type MetaChange struct {
	Field string    `json:"field"`
	Value MetaValue `json:"value"`
}

type MetaValue struct {
	MessagingProduct string        `json:"messaging_product"`
	Metadata         MetaMetadata  `json:"metadata"`
	Contacts         []MetaContact `json:"contacts"`
	Messages         []MetaMessage `json:"messages"`
}

type MetaMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type MetaContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// MetaMessage is one Meta Cloud API message. Images carry a media id that
// has to be resolved through the Graph API before download.
type MetaMessage struct {
	ID          string       `json:"id"`
	From        string       `json:"from"`
	Timestamp   string       `json:"timestamp"`
	Type        string       `json:"type"`
	Text        *Text        `json:"text,omitempty"`
	Image       *MetaImage   `json:"image,omitempty"`
	Interactive *Interactive `json:"interactive,omitempty"`
}

type MetaImage struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	Caption  string `json:"caption"`
}
