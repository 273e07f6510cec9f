package remote

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/temoto/iotgw/iot"
)

const (
	StatusOK        = 200
	StatusNoContent = 204
)

var (
	ErrResponseTooLarge    = errors.New("response too large")
	ErrMalformedStatusLine = errors.New("malformed status line")
	ErrMalformedPayload    = errors.New("malformed payload")
)

type UnsupportedStatusError struct {
	Code int
}

func (e UnsupportedStatusError) Error() string {
	return fmt.Sprintf("unsupported status=%d", e.Code)
}

// Reply is parsed server response.
type Reply struct {
	StatusCode  int
	HasDownlink bool
	DownlinkHex string
	Downlink    [iot.DownlinkPayloadLen]byte
}

func (self Reply) String() string {
	if !self.HasDownlink {
		return fmt.Sprintf("status=%d", self.StatusCode)
	}
	return fmt.Sprintf("status=%d downlink=%s", self.StatusCode, self.DownlinkHex)
}

const statusPrefix = "HTTP/1.1 "

// ParseResponse interprets raw HTTP response.
// Body is chunk encoded JSON like {"<device>":{"downlinkData":"<16 hex>"}},
// payload line is second line after blank line.
func ParseResponse(b []byte) (Reply, error) {
	lines := splitLines(b)
	if len(lines) == 0 {
		return Reply{}, errors.Annotate(ErrMalformedStatusLine, "empty response")
	}
	code, err := parseStatusLine(lines[0])
	if err != nil {
		return Reply{}, err
	}
	r := Reply{StatusCode: code}
	switch code {
	case StatusNoContent:
		return r, nil
	case StatusOK:
	default:
		return r, UnsupportedStatusError{Code: code}
	}

	blank := -1
	for i := 1; i < len(lines); i++ {
		if lines[i] == "" {
			blank = i
			break
		}
	}
	if blank < 0 || blank+2 >= len(lines) {
		return r, errors.Annotatef(ErrMalformedPayload, "no payload line response=%q", b)
	}
	line := lines[blank+2]
	s, err := extractDownlinkHex(line)
	if err != nil {
		return r, err
	}
	if r.Downlink, err = iot.DecodeDownlinkHex(s); err != nil {
		return r, errors.Annotatef(ErrMalformedPayload, "line=%q err=%v", line, err)
	}
	r.DownlinkHex = s
	r.HasDownlink = true
	return r, nil
}

func parseStatusLine(line string) (int, error) {
	if !strings.HasPrefix(line, statusPrefix) {
		return 0, errors.Annotatef(ErrMalformedStatusLine, "line=%q", line)
	}
	rest := line[len(statusPrefix):]
	if i := strings.IndexByte(rest, ' '); i >= 0 {
		rest = rest[:i]
	}
	code, err := strconv.Atoi(rest)
	if err != nil || code < 100 || code > 999 {
		return 0, errors.Annotatef(ErrMalformedStatusLine, "line=%q", line)
	}
	return code, nil
}

// extractDownlinkHex takes 16 characters right before closing quote and braces
// at the end of JSON object. Bounds are checked, short line is ErrMalformedPayload.
func extractDownlinkHex(line string) (string, error) {
	const n = iot.DownlinkPayloadLen * 2
	end := strings.LastIndexByte(line, '}')
	if end < 0 {
		return "", errors.Annotatef(ErrMalformedPayload, "no closing brace line=%q", line)
	}
	for end > 0 {
		c := line[end-1]
		if c == '}' || c == '"' || c == ' ' || c == '\t' {
			end--
			continue
		}
		break
	}
	if end < n {
		return "", errors.Annotatef(ErrMalformedPayload, "short line=%q", line)
	}
	return line[end-n : end], nil
}

func splitLines(b []byte) []string {
	if len(b) == 0 {
		return nil
	}
	parts := bytes.Split(b, []byte{'\n'})
	lines := make([]string, len(parts))
	for i, p := range parts {
		lines[i] = string(bytes.TrimSuffix(p, []byte{'\r'}))
	}
	return lines
}

// responseComplete reports whether b holds whole response, so reading may stop
// before peer closes keep-alive connection.
func responseComplete(b []byte) bool {
	headEnd := bytes.Index(b, []byte("\r\n\r\n"))
	if headEnd < 0 {
		return false
	}
	head := b[:headEnd]
	body := b[headEnd+4:]
	lines := splitLines(head)
	if len(lines) == 0 {
		return false
	}
	code, err := parseStatusLine(lines[0])
	if err != nil {
		return false
	}
	if code == StatusNoContent || code == 304 || (code >= 100 && code < 200) {
		return true
	}
	contentLength := -1
	chunked := false
	for _, line := range lines[1:] {
		i := strings.IndexByte(line, ':')
		if i < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:i]))
		value := strings.TrimSpace(line[i+1:])
		switch key {
		case "content-length":
			if n, err := strconv.Atoi(value); err == nil && n >= 0 {
				contentLength = n
			}
		case "transfer-encoding":
			chunked = strings.Contains(strings.ToLower(value), "chunked")
		}
	}
	switch {
	case chunked:
		return bytes.HasPrefix(body, []byte("0\r\n\r\n")) || bytes.Contains(body, []byte("\r\n0\r\n\r\n"))
	case contentLength >= 0:
		return len(body) >= contentLength
	}
	return false
}
