package toc

import (
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/pevans/novelfetch/extract"
	"github.com/pevans/novelfetch/fetch"
	"github.com/pevans/novelfetch/title"
)

// ErrDecode marks an AJAX response body that could not be decoded.
var ErrDecode = errors.New("decode error")

// ErrUnrecognized marks an AJAX response that is neither a chapter data list
// nor an HTML fragment.
var ErrUnrecognized = errors.New("unrecognized AJAX response")

// legacyHTMLKeys are JSON fields that older endpoints use to return a
// rendered chapter list.
var legacyHTMLKeys = []string{"list", "info"}

// PayloadKind tags a decoded AJAX response.
type PayloadKind int

const (
	Unrecognized PayloadKind = iota
	Entries
	HTMLFragment
)

func (k PayloadKind) String() string {
	switch k {
	case Entries:
		return "entries"
	case HTMLFragment:
		return "html"
	default:
		return "unrecognized"
	}
}

// Payload is an AJAX response decoded once into one of three shapes. Entry
// URLs are as sent by the site and may be relative.
type Payload struct {
	Kind    PayloadKind
	Entries []extract.Entry
	HTML    string
	// Skipped counts malformed items of a data list.
	Skipped int
}

// DecodePayload classifies a response by its declared content type. JSON
// bodies yield Entries when they carry a "data" list, HTMLFragment when one
// of the legacy HTML fields (or extraKey) holds a string, and Unrecognized
// otherwise. text/html bodies are an HTMLFragment as a whole. Malformed JSON
// is an ErrDecode.
func DecodePayload(resp *fetch.Response, extraKey string) (Payload, error) {
	mediaType, _, err := mime.ParseMediaType(resp.ContentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(resp.ContentType))
	}

	switch {
	case isJSON(mediaType):
		return decodeJSON(resp.Body, extraKey)
	case mediaType == "text/html":
		return Payload{Kind: HTMLFragment, HTML: resp.Text()}, nil
	default:
		return Payload{Kind: Unrecognized}, nil
	}
}

func isJSON(mediaType string) bool {
	return mediaType == "application/json" || mediaType == "text/json" || strings.HasSuffix(mediaType, "+json")
}

func decodeJSON(body []byte, extraKey string) (Payload, error) {
	if !gjson.ValidBytes(body) {
		return Payload{}, fmt.Errorf("%w: invalid JSON body", ErrDecode)
	}

	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return Payload{Kind: Unrecognized}, nil
	}

	if data := field(root, "data"); data.IsArray() {
		p := Payload{Kind: Entries}
		data.ForEach(func(_, item gjson.Result) bool {
			name := title.CollapseSpace(item.Get("chaptername").String())
			href := strings.TrimSpace(item.Get("chapterurl").String())
			if !item.IsObject() || name == "" || href == "" {
				p.Skipped++
				return true
			}
			p.Entries = append(p.Entries, extract.Entry{Title: name, URL: href})
			return true
		})
		return p, nil
	}

	keys := legacyHTMLKeys
	if extraKey != "" {
		keys = append(append([]string(nil), keys...), extraKey)
	}
	for _, key := range keys {
		if v := field(root, key); v.Type == gjson.String {
			return Payload{Kind: HTMLFragment, HTML: v.String()}, nil
		}
	}

	return Payload{Kind: Unrecognized}, nil
}

// field returns a top-level member by exact name. gjson paths treat dots and
// wildcards specially, so configured keys are matched literally.
func field(obj gjson.Result, name string) gjson.Result {
	var out gjson.Result
	obj.ForEach(func(key, value gjson.Result) bool {
		if key.String() == name {
			out = value
			return false
		}
		return true
	})
	return out
}
