package onebot

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Segment is one typed element of a message, in either array or CQ form.
type Segment struct {
	Type string            `json:"type"`
	Data map[string]string `json:"data"`
}

// Get returns a trimmed data field.
func (s Segment) Get(key string) string {
	if s.Data == nil {
		return ""
	}
	return strings.TrimSpace(s.Data[key])
}

// Text returns the raw text of a text segment without trimming.
func (s Segment) Text() string {
	if s.Type != "text" || s.Data == nil {
		return ""
	}
	return s.Data["text"]
}

func TextSegment(text string) Segment {
	return Segment{Type: "text", Data: map[string]string{"text": text}}
}

func AtSegment(userID int64) Segment {
	return Segment{Type: "at", Data: map[string]string{"qq": strconv.FormatInt(userID, 10)}}
}

func ReplySegment(messageID string) Segment {
	return Segment{Type: "reply", Data: map[string]string{"id": messageID}}
}

func ImageSegment(file string) Segment {
	return Segment{Type: "image", Data: map[string]string{"file": file}}
}

func RecordSegment(file string) Segment {
	return Segment{Type: "record", Data: map[string]string{"file": file}}
}

func VideoSegment(file string) Segment {
	return Segment{Type: "video", Data: map[string]string{"file": file}}
}

var (
	cqUnescaper = strings.NewReplacer("&#91;", "[", "&#93;", "]", "&#44;", ",", "&amp;", "&")
	cqEscaper   = strings.NewReplacer("&", "&amp;", "[", "&#91;", "]", "&#93;", ",", "&#44;")
)

// UnescapeCQ decodes the entity escapes used inside CQ text and parameters.
func UnescapeCQ(s string) string {
	return cqUnescaper.Replace(s)
}

// EscapeCQ encodes s so it survives as a CQ parameter value.
func EscapeCQ(s string) string {
	return cqEscaper.Replace(s)
}

func isCQTypeByte(b byte) bool {
	return b == '_' || b == '-' || b == '.' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// TokenizeCQ splits an inline CQ string into segments. It never fails:
// anything that is not a well-formed [CQ:type,k=v,...] code is kept as
// literal text, and adjacent literal runs are merged into one text segment.
func TokenizeCQ(content string) []Segment {
	var (
		segments []Segment
		literal  strings.Builder
	)
	flush := func() {
		if literal.Len() == 0 {
			return
		}
		segments = append(segments, TextSegment(UnescapeCQ(literal.String())))
		literal.Reset()
	}

	i := 0
	for i < len(content) {
		if !strings.HasPrefix(content[i:], "[CQ:") {
			next := strings.Index(content[i+1:], "[CQ:")
			if next < 0 {
				literal.WriteString(content[i:])
				break
			}
			literal.WriteString(content[i : i+1+next])
			i += 1 + next
			continue
		}

		seg, width, ok := scanCQCode(content[i:])
		if !ok {
			literal.WriteByte(content[i])
			i++
			continue
		}
		flush()
		segments = append(segments, seg)
		i += width
	}
	flush()
	return segments
}

// scanCQCode reads one code at the start of s, reporting the byte width consumed.
func scanCQCode(s string) (Segment, int, bool) {
	j := len("[CQ:")
	start := j
	for j < len(s) && isCQTypeByte(s[j]) {
		j++
	}
	if j == start || j >= len(s) {
		return Segment{}, 0, false
	}
	segType := s[start:j]

	switch s[j] {
	case ']':
		return Segment{Type: segType, Data: map[string]string{}}, j + 1, true
	case ',':
	default:
		return Segment{}, 0, false
	}

	end := strings.IndexByte(s[j:], ']')
	if end < 0 {
		return Segment{}, 0, false
	}
	params := s[j+1 : j+end]
	if strings.IndexByte(params, '[') >= 0 {
		return Segment{}, 0, false
	}
	return Segment{Type: segType, Data: parseCQParams(params)}, j + end + 1, true
}

func parseCQParams(params string) map[string]string {
	result := make(map[string]string)
	for _, item := range strings.Split(params, ",") {
		key, value, found := strings.Cut(item, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		result[key] = UnescapeCQ(value)
	}
	return result
}

// ParseSegments reads a message field that may be an array of segments or a
// CQ string, falling back to rawMessage when the field is absent or unusable.
func ParseSegments(raw json.RawMessage, rawMessage string) []Segment {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed != "" && trimmed != "null" {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return TokenizeCQ(s)
		}

		var items []struct {
			Type string         `json:"type"`
			Data map[string]any `json:"data"`
		}
		if err := json.Unmarshal(raw, &items); err == nil {
			segments := make([]Segment, 0, len(items))
			for _, item := range items {
				if item.Type == "" {
					continue
				}
				data := make(map[string]string, len(item.Data))
				for k, v := range item.Data {
					data[k] = dataString(v)
				}
				segments = append(segments, Segment{Type: item.Type, Data: data})
			}
			return segments
		}
	}

	if rawMessage == "" {
		return nil
	}
	return TokenizeCQ(rawMessage)
}

func dataString(v any) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

// Placeholder returns the readable stand-in for a non-text segment, or ""
// when the segment contributes nothing to the text.
func Placeholder(seg Segment) string {
	switch seg.Type {
	case "face", "mface", "bface", "sface", "dice", "rps", "marketface":
		return "[emoji]"
	case "image":
		return "[image]"
	case "record":
		return "[voice]"
	case "video":
		return "[video]"
	case "file", "onlinefile":
		if name := seg.Get("name"); name != "" {
			return "[file: " + name + "]"
		}
		if name := seg.Get("file"); name != "" && !strings.Contains(name, "://") {
			return "[file: " + name + "]"
		}
		return "[file]"
	case "json", "xml", "share", "contact", "location", "music", "card", "ark", "miniapp", "markdown":
		return "[card]"
	case "forward", "node":
		return "[forward]"
	case "poke", "shake":
		return "[poke]"
	default:
		return ""
	}
}

// CleanCQCodes flattens a CQ string to readable text. Mentions become @id
// and other codes become their placeholders.
func CleanCQCodes(content string) string {
	var b strings.Builder
	for _, seg := range TokenizeCQ(content) {
		switch seg.Type {
		case "text":
			b.WriteString(seg.Text())
		case "at":
			if qq := seg.Get("qq"); qq != "" && qq != "all" {
				b.WriteString("@" + qq)
			}
		default:
			if p := Placeholder(seg); p != "" {
				b.WriteString(" " + p + " ")
			}
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// ReplyID returns the id referenced by the first reply segment.
func ReplyID(segments []Segment) string {
	for _, seg := range segments {
		if seg.Type == "reply" {
			return seg.Get("id")
		}
	}
	return ""
}

// ImageURLs collects up to max http(s) or base64:// image references in
// order. Local file names are skipped.
func ImageURLs(segments []Segment, max int) []string {
	var urls []string
	for _, seg := range segments {
		if max > 0 && len(urls) >= max {
			break
		}
		if seg.Type != "image" {
			continue
		}
		url := seg.Get("url")
		if url == "" {
			url = seg.Get("file")
		}
		if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") || strings.HasPrefix(url, "base64://") {
			urls = append(urls, strings.ReplaceAll(url, "&amp;", "&"))
		}
	}
	return urls
}
