package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
)

const metadataNamespace = "http://soap.sforce.com/2006/04/metadata"

// HTTPDoer describes the HTTP client used by the SOAP client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// SOAPConfig carries the connection settings for the Metadata API.
type SOAPConfig struct {
	Endpoint  string
	SessionID string
	Timeout   time.Duration
	Client    HTTPDoer
}

// SOAPClient implements Operations against the Salesforce Metadata API using
// the asynchronous create/checkStatus call pair.
type SOAPClient struct {
	endpoint  string
	sessionID string
	client    HTTPDoer
}

// NewSOAPClient constructs a SOAP-backed Operations implementation.
func NewSOAPClient(cfg SOAPConfig) (*SOAPClient, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, Wrap(ErrConfiguration, "soap client", "endpoint is required", nil)
	}
	sessionID := strings.TrimSpace(cfg.SessionID)
	if sessionID == "" {
		return nil, Wrap(ErrConfiguration, "soap client", "session id is required", nil)
	}

	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	return &SOAPClient{
		endpoint:  endpoint,
		sessionID: sessionID,
		client:    client,
	}, nil
}

// Submit starts an async metadata operation and returns its handle plus the
// initial status snapshot reported by the API.
func (c *SOAPClient) Submit(ctx context.Context, payload Payload) (string, *Status, error) {
	body, err := submitBody(payload)
	if err != nil {
		return "", nil, Wrap(ErrSubmit, string(payload.Action), payload.Label(), err)
	}

	result, err := c.call(ctx, string(payload.Action), body)
	if err != nil {
		return "", nil, Wrap(ErrSubmit, string(payload.Action), payload.Label(), err)
	}
	if result.ID == "" {
		return "", nil, Wrap(ErrSubmit, string(payload.Action), "response missing async result id", nil)
	}
	return result.ID, result.status(), nil
}

// Poll refreshes the status of a previously submitted operation.
func (c *SOAPClient) Poll(ctx context.Context, handle string) (*Status, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil, Wrap(ErrPoll, "checkStatus", "handle is required", nil)
	}

	var body bytes.Buffer
	body.WriteString("<met:checkStatus><met:asyncProcessId>")
	_ = xml.EscapeText(&body, []byte(handle))
	body.WriteString("</met:asyncProcessId></met:checkStatus>")

	result, err := c.call(ctx, "checkStatus", body.String())
	if err != nil {
		return nil, Wrap(ErrPoll, "checkStatus", handle, err)
	}
	return result.status(), nil
}

type asyncResult struct {
	ID         string `xml:"id"`
	Done       bool   `xml:"done"`
	State      string `xml:"state"`
	StatusCode string `xml:"statusCode"`
	Message    string `xml:"message"`
}

func (r asyncResult) status() *Status {
	return &Status{
		Done:       r.Done,
		State:      r.State,
		StatusCode: r.StatusCode,
		Message:    r.Message,
	}
}

type soapFault struct {
	Code    string `xml:"faultcode"`
	Message string `xml:"faultstring"`
}

func (c *SOAPClient) call(ctx context.Context, action, body string) (asyncResult, error) {
	envelope := buildEnvelope(c.sessionID, body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(envelope))
	if err != nil {
		return asyncResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", action)

	resp, err := c.client.Do(req)
	if err != nil {
		return asyncResult{}, fmt.Errorf("post %s: %w", action, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return asyncResult{}, fmt.Errorf("read response: %w", err)
	}

	if fault, ok := parseFault(data); ok {
		return asyncResult{}, fmt.Errorf("soap fault %s: %s", fault.Code, fault.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return asyncResult{}, fmt.Errorf("%s returned %d", action, resp.StatusCode)
	}

	result, err := parseAsyncResult(data)
	if err != nil {
		return asyncResult{}, err
	}
	return result, nil
}

func buildEnvelope(sessionID, body string) string {
	var b strings.Builder
	b.WriteString(`<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"`)
	b.WriteString(` xmlns:met="` + metadataNamespace + `"`)
	b.WriteString(` xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">`)
	b.WriteString(`<soapenv:Header><met:SessionHeader><met:sessionId>`)
	var escaped bytes.Buffer
	_ = xml.EscapeText(&escaped, []byte(sessionID))
	b.Write(escaped.Bytes())
	b.WriteString(`</met:sessionId></met:SessionHeader></soapenv:Header>`)
	b.WriteString(`<soapenv:Body>`)
	b.WriteString(body)
	b.WriteString(`</soapenv:Body></soapenv:Envelope>`)
	return b.String()
}

func submitBody(payload Payload) (string, error) {
	if _, ok := knownActions[payload.Action]; !ok {
		return "", fmt.Errorf("unknown action %q", payload.Action)
	}
	if strings.TrimSpace(payload.Type) == "" {
		return "", fmt.Errorf("metadata type is required")
	}
	if !validElementName(payload.Type) {
		return "", fmt.Errorf("metadata type %q is not a valid element name", payload.Type)
	}
	if strings.TrimSpace(payload.FullName) == "" {
		return "", fmt.Errorf("metadata full name is required")
	}

	var b bytes.Buffer
	b.WriteString("<met:" + string(payload.Action) + ">")
	if payload.Action == ActionDelete {
		b.WriteString(`<met:metadata xsi:type="met:` + payload.Type + `">`)
		writeElement(&b, "fullName", payload.FullName)
		b.WriteString("</met:metadata>")
	} else {
		b.WriteString(`<met:metadata xsi:type="met:` + payload.Type + `">`)
		writeElement(&b, "fullName", payload.FullName)
		if err := writeBodyFields(&b, payload.Body); err != nil {
			return "", err
		}
		b.WriteString("</met:metadata>")
	}
	b.WriteString("</met:" + string(payload.Action) + ">")
	return b.String(), nil
}

// writeBodyFields renders the opaque JSON attribute document as metadata
// elements. Keys are emitted in sorted order so envelopes are deterministic.
func writeBodyFields(b *bytes.Buffer, body json.RawMessage) error {
	if len(body) == 0 {
		return nil
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return fmt.Errorf("parse payload body: %w", err)
	}
	if err := writeFieldMap(b, fields); err != nil {
		return fmt.Errorf("parse payload body: %w", err)
	}
	return nil
}

func writeFieldMap(b *bytes.Buffer, fields map[string]any) error {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		// Keys become element names and cannot be escaped, only rejected.
		if !validElementName(key) {
			return fmt.Errorf("field name %q is not a valid element name", key)
		}
		switch value := fields[key].(type) {
		case map[string]any:
			b.WriteString("<met:" + key + ">")
			if err := writeFieldMap(b, value); err != nil {
				return err
			}
			b.WriteString("</met:" + key + ">")
		case []any:
			for _, entry := range value {
				if nested, ok := entry.(map[string]any); ok {
					b.WriteString("<met:" + key + ">")
					if err := writeFieldMap(b, nested); err != nil {
						return err
					}
					b.WriteString("</met:" + key + ">")
					continue
				}
				writeElement(b, key, scalarText(entry))
			}
		default:
			writeElement(b, key, scalarText(value))
		}
	}
	return nil
}

func validElementName(name string) bool {
	for i, r := range name {
		switch {
		case unicode.IsLetter(r) || r == '_':
		case i > 0 && (unicode.IsDigit(r) || r == '-' || r == '.'):
		default:
			return false
		}
	}
	return name != ""
}

func scalarText(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func writeElement(b *bytes.Buffer, name, value string) {
	b.WriteString("<met:" + name + ">")
	_ = xml.EscapeText(b, []byte(value))
	b.WriteString("</met:" + name + ">")
}

func parseFault(data []byte) (soapFault, bool) {
	if !bytes.Contains(data, []byte("faultstring")) {
		return soapFault{}, false
	}
	decoder := xml.NewDecoder(bytes.NewReader(data))
	for {
		token, err := decoder.Token()
		if err != nil {
			return soapFault{}, false
		}
		start, ok := token.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local != "Fault" {
			continue
		}
		var fault soapFault
		if err := decoder.DecodeElement(&fault, &start); err != nil {
			return soapFault{}, false
		}
		return fault, true
	}
}

// parseAsyncResult walks the response envelope for the first result element.
// Both create/update/delete and checkStatus responses wrap an AsyncResult.
func parseAsyncResult(data []byte) (asyncResult, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			return asyncResult{}, fmt.Errorf("response missing result element")
		}
		if err != nil {
			return asyncResult{}, fmt.Errorf("parse response: %w", err)
		}
		start, ok := token.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local != "result" {
			continue
		}
		var result asyncResult
		if err := decoder.DecodeElement(&result, &start); err != nil {
			return asyncResult{}, fmt.Errorf("decode result: %w", err)
		}
		return result, nil
	}
}
