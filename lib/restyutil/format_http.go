package restyutil

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/go-resty/resty/v2"
)

// redacted headers carry session or anti-bot cookies.
var redacted = map[string]bool{
	"Cookie":        true,
	"Set-Cookie":    true,
	"Authorization": true,
}

func writeHeaders(b *strings.Builder, headers http.Header) {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		for _, v := range headers[k] {
			if redacted[http.CanonicalHeaderKey(k)] {
				v = "<redacted>"
			}
			fmt.Fprintf(b, "%s: %s\n", k, v)
		}
	}
}

func requestBody(req *http.Request) string {
	if req.GetBody == nil {
		return ""
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Sprintf("<unreadable body: %v>", err)
	}
	if body == nil {
		return ""
	}
	defer body.Close()
	raw, err := io.ReadAll(body)
	if err != nil {
		return fmt.Sprintf("<unreadable body: %v>", err)
	}
	return string(raw)
}

// formatExchange renders the request and the response of one attempt, the
// response body is kept verbatim so a dumped page can be fed back to the
// extractor.
func formatExchange(res *resty.Response) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# attempt %d\n", res.Request.Attempt)
	fmt.Fprintf(&b, "> %s %s\n", res.Request.Method, res.Request.URL)
	writeHeaders(&b, res.Request.RawRequest.Header)
	if body := requestBody(res.Request.RawRequest); body != "" {
		b.WriteString("\n")
		b.WriteString(body)
		b.WriteString("\n")
	}

	location := ""
	if res.RawResponse != nil {
		if u, err := res.RawResponse.Location(); err == nil {
			location = " -> " + u.String()
		}
	}
	fmt.Fprintf(&b, "\n< %s%s\n", res.Status(), location)
	writeHeaders(&b, res.Header())
	b.WriteString("\n")
	b.Write(res.Body())
	return b.String()
}
