package domain

import "encoding/base64"

// DefaultChannel receives wrapped values when a fragment returns something
// other than a channel mapping.
const DefaultChannel = "main"

type Record struct {
	Data        map[string]any
	Attachments map[string]any
}

func NewRecord(data map[string]any) Record {
	if data == nil {
		data = map[string]any{}
	}
	return Record{Data: data, Attachments: map[string]any{}}
}

type Batch []Record

type ChannelOutput struct {
	Channel string
	Records Batch
}

// Result keeps channels in the order the fragment produced them.
type Result struct {
	Channels  []ChannelOutput
	SessionID SessionID
}

func (r Result) Channel(id string) (Batch, bool) {
	for _, output := range r.Channels {
		if output.Channel == id {
			return output.Records, true
		}
	}
	return nil, false
}

// FirstRecord returns the first item of the first channel, creating the
// channel and an empty item when either is missing.
func (r *Result) FirstRecord() *Record {
	if len(r.Channels) == 0 {
		r.Channels = append(r.Channels, ChannelOutput{Channel: DefaultChannel})
	}
	first := &r.Channels[0]
	if len(first.Records) == 0 {
		first.Records = append(first.Records, NewRecord(nil))
	}

	record := &first.Records[0]
	if record.Data == nil {
		record.Data = map[string]any{}
	}
	if record.Attachments == nil {
		record.Attachments = map[string]any{}
	}
	return record
}

type Attachment struct {
	Data          []byte
	MimeType      string
	FileName      string
	FileExtension string
}

func (a Attachment) Map() map[string]any {
	return map[string]any{
		"data":          base64.StdEncoding.EncodeToString(a.Data),
		"mimeType":      a.MimeType,
		"fileName":      a.FileName,
		"fileExtension": a.FileExtension,
	}
}
