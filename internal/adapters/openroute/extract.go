package openroute

import (
	"encoding/json"
	"sort"
	"strings"
)

// embeddedImage is a data-URI located inside the upstream response. Payload is
// the still-encoded base64 portion after the first comma.
type embeddedImage struct {
	Format  string
	Payload string
}

// extractDataURIs scans the raw JSON of a chat-completion message for embedded
// image data-URIs. The upstream contract is not a stable schema, so the image
// payload's location is probed rather than assumed. Probe order:
//
//  1. the "images" field, when it holds a list of image-bearing entries;
//  2. every other sibling field except "content", in lexical order, when it
//     holds such a list.
//
// Recognized entry forms: {"image_url": {"url": <uri>}}, {"url": <uri>}, and a
// bare data-URI string.
func extractDataURIs(rawMessage []byte) []embeddedImage {
	var message map[string]any
	if err := json.Unmarshal(rawMessage, &message); err != nil {
		return nil
	}

	if entries, ok := message["images"].([]any); ok {
		if found := scanEntries(entries); len(found) > 0 {
			return found
		}
	}

	keys := make([]string, 0, len(message))
	for key := range message {
		if key == "content" || key == "images" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		entries, ok := message[key].([]any)
		if !ok {
			continue
		}
		if found := scanEntries(entries); len(found) > 0 {
			return found
		}
	}
	return nil
}

func scanEntries(entries []any) []embeddedImage {
	var found []embeddedImage
	for _, entry := range entries {
		uri, ok := dataURIFromEntry(entry)
		if !ok {
			continue
		}
		if img, ok := parseDataURI(uri); ok {
			found = append(found, img)
		}
	}
	return found
}

func dataURIFromEntry(entry any) (string, bool) {
	switch v := entry.(type) {
	case string:
		return v, true
	case map[string]any:
		if nested, ok := v["image_url"].(map[string]any); ok {
			if uri, ok := nested["url"].(string); ok {
				return uri, true
			}
		}
		if uri, ok := v["url"].(string); ok {
			return uri, true
		}
	}
	return "", false
}

// parseDataURI splits "data:image/<fmt>;base64,<data>" on the first comma and
// reads the MIME subtype out of the header.
func parseDataURI(uri string) (embeddedImage, bool) {
	if !strings.HasPrefix(uri, "data:image/") {
		return embeddedImage{}, false
	}
	header, payload, ok := strings.Cut(uri, ",")
	if !ok || payload == "" {
		return embeddedImage{}, false
	}
	subtype := strings.TrimPrefix(header, "data:image/")
	if idx := strings.IndexByte(subtype, ';'); idx >= 0 {
		subtype = subtype[:idx]
	}
	if subtype == "" {
		return embeddedImage{}, false
	}
	return embeddedImage{Format: subtype, Payload: payload}, true
}
