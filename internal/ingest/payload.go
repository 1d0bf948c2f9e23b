package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/parleyhq/parley/internal/models"
)

// Event is one webhook delivery. A delivery batches entries for multiple
// channels; each entry carries message and status changes independently.
type Event struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups the changes for one provider account.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is one field mutation inside an entry.
type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

// Value carries the messages and delivery receipts of one change.
type Value struct {
	MessagingProduct string            `json:"messaging_product"`
	Metadata         Metadata          `json:"metadata"`
	Contacts         []Contact         `json:"contacts"`
	Messages         []ProviderMessage `json:"messages"`
	Statuses         []Receipt         `json:"statuses"`
}

// Metadata identifies which provisioned number received the traffic.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// Contact carries the sender's profile as the provider knows it.
type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// Media is an inbound attachment reference. The bytes live on the
// provider's servers under ID until fetched.
type Media struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
}

// ProviderMessage is one inbound customer message.
type ProviderMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    *Media `json:"image"`
	Video    *Media `json:"video"`
	Audio    *Media `json:"audio"`
	Document *Media `json:"document"`
	Sticker  *Media `json:"sticker"`
	Button   *struct {
		Text    string `json:"text"`
		Payload string `json:"payload"`
	} `json:"button"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply"`
	} `json:"interactive"`
}

// Receipt is one delivery status update for a previously sent message.
type Receipt struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
	Errors      []struct {
		Code  int    `json:"code"`
		Title string `json:"title"`
	} `json:"errors"`
}

// ParseEvent decodes a raw webhook body.
func ParseEvent(body []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("ingest: parse event: %w", err)
	}
	return &ev, nil
}

// SenderName resolves the sender's display name from the contact list,
// falling back to the raw handle.
func (v Value) SenderName(from string) string {
	for _, c := range v.Contacts {
		if c.WaID == from {
			return c.Profile.Name
		}
	}
	return from
}

// Classify maps a provider message onto the stored message kind plus its
// content fields. Button taps and interactive replies flatten to text so
// scenario keyword matching sees what the customer chose.
func (m ProviderMessage) Classify() (kind, content, mediaID, caption string) {
	switch m.Type {
	case "text":
		if m.Text != nil {
			return models.KindText, m.Text.Body, "", ""
		}
	case "button":
		if m.Button != nil {
			return models.KindText, m.Button.Text, "", ""
		}
	case "interactive":
		if m.Interactive != nil {
			if r := m.Interactive.ButtonReply; r != nil {
				return models.KindText, r.Title, "", ""
			}
			if r := m.Interactive.ListReply; r != nil {
				return models.KindText, r.Title, "", ""
			}
		}
	case "image", "video", "audio", "document", "sticker":
		media := m.media()
		if media != nil {
			return models.KindMedia, "", media.ID, media.Caption
		}
	}
	// Unsupported types (reactions, locations) store as empty text so the
	// conversation timeline stays complete.
	return models.KindText, "", "", ""
}

func (m ProviderMessage) media() *Media {
	switch {
	case m.Image != nil:
		return m.Image
	case m.Video != nil:
		return m.Video
	case m.Audio != nil:
		return m.Audio
	case m.Document != nil:
		return m.Document
	case m.Sticker != nil:
		return m.Sticker
	}
	return nil
}

// Time converts the provider's unix-seconds timestamp. Zero time on a
// malformed value; the store substitutes its own clock.
func (m ProviderMessage) Time() time.Time {
	secs, err := strconv.ParseInt(m.Timestamp, 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0)
}
