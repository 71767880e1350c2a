package passion

import (
	"fmt"

	"github.com/socio/backend/internal/docstore"
)

// Profile is a matchable outcome. Tags holds the decoded value as stored;
// it may be missing or malformed and is only trusted through TagSet.
// Resources is passed through to clients untouched.
type Profile struct {
	ID          string `json:"id"`
	Category    string `json:"category"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Resources   any    `json:"resources,omitempty"`
	Tags        any    `json:"tags"`
}

// TagSet returns the profile's tags or ErrMalformedProfile when they are
// absent, not a list, or hold a non-string element.
func (p Profile) TagSet() ([]string, error) {
	switch tags := p.Tags.(type) {
	case []string:
		return tags, nil
	case []any:
		out := make([]string, len(tags))
		for i, t := range tags {
			s, ok := t.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s: element %d is %T", ErrMalformedProfile, p.ID, i, t)
			}
			out[i] = s
		}
		return out, nil
	case nil:
		return nil, fmt.Errorf("%w: %s: no tags", ErrMalformedProfile, p.ID)
	default:
		return nil, fmt.Errorf("%w: %s: tags is %T", ErrMalformedProfile, p.ID, tags)
	}
}

// profileFromDocument reads a profile without failing on bad field types,
// so one broken document cannot take down the corpus. The profile id falls
// back to the document id.
func profileFromDocument(doc docstore.Document) Profile {
	str := func(key string) string {
		s, _ := doc[key].(string)
		return s
	}
	p := Profile{
		ID:          str("id"),
		Category:    str("category"),
		Title:       str("title"),
		Description: str("description"),
		Resources:   doc["resources"],
		Tags:        doc["tags"],
	}
	if p.ID == "" {
		p.ID = doc.ID()
	}
	return p
}

func profileToDocument(p Profile) docstore.Document {
	return docstore.Document{
		docstore.IDField: p.ID,
		"id":             p.ID,
		"category":       p.Category,
		"title":          p.Title,
		"description":    p.Description,
		"resources":      p.Resources,
		"tags":           p.Tags,
	}
}

// Option is one answer to a quiz question and the tags it contributes.
type Option struct {
	Text string   `json:"text"`
	Tags []string `json:"tags"`
}

// Question is a quiz question shown before matching.
type Question struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Options []Option `json:"options"`
}
