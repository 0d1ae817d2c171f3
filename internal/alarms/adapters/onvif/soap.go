package onvif

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	nsSoap     = "http://www.w3.org/2003/05/soap-envelope"
	nsAddr     = "http://www.w3.org/2005/08/addressing"
	nsSecurity = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	nsUtility  = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"

	passwordDigestType = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordDigest"
	nonceEncodingType  = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary"

	maxResponseBytes = 4 << 20
)

// SOAPFault is returned when the device answers with an s:Fault.
type SOAPFault struct {
	Status  int
	Code    string
	Subcode string
	Reason  string
}

func (f *SOAPFault) Error() string {
	if f.Subcode != "" {
		return fmt.Sprintf("onvif fault %d %s/%s: %s", f.Status, f.Code, f.Subcode, f.Reason)
	}
	return fmt.Sprintf("onvif fault %d %s: %s", f.Status, f.Code, f.Reason)
}

// SOAPClient posts SOAP 1.2 envelopes with WS-Addressing headers and, when
// a username is set, a WS-Security UsernameToken digest.
type SOAPClient struct {
	Username string
	Password string
	HTTP     *http.Client

	mu sync.Mutex
	// offset is device time minus local time, applied to token Created stamps.
	offset time.Duration
	now    func() time.Time
}

func NewSOAPClient(username, password string, httpClient *http.Client) *SOAPClient {
	return &SOAPClient{
		Username: username,
		Password: password,
		HTTP:     httpClient,
		now:      time.Now,
	}
}

// SetClockOffset records the device clock skew measured by GetSystemDateAndTime.
func (c *SOAPClient) SetClockOffset(d time.Duration) {
	c.mu.Lock()
	c.offset = d
	c.mu.Unlock()
}

func (c *SOAPClient) ClockOffset() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

// Call posts bodyInner to endpoint and returns the raw response envelope.
func (c *SOAPClient) Call(ctx context.Context, endpoint, action, bodyInner string) ([]byte, error) {
	return c.call(ctx, endpoint, action, bodyInner, true)
}

// CallAnonymous is Call without the security header. Devices must answer
// GetSystemDateAndTime before authentication.
func (c *SOAPClient) CallAnonymous(ctx context.Context, endpoint, action, bodyInner string) ([]byte, error) {
	return c.call(ctx, endpoint, action, bodyInner, false)
}

func (c *SOAPClient) call(ctx context.Context, endpoint, action, bodyInner string, secure bool) ([]byte, error) {
	envelope := `<?xml version="1.0" encoding="UTF-8"?>
<s:Envelope xmlns:s="%s" xmlns:a="%s">
	<s:Header>
		<a:Action s:mustUnderstand="1">%s</a:Action>
		<a:MessageID>urn:uuid:%s</a:MessageID>
		<a:To s:mustUnderstand="1">%s</a:To>%s
	</s:Header>
	<s:Body>%s</s:Body>
</s:Envelope>`

	security := ""
	if secure {
		h, err := c.securityHeader()
		if err != nil {
			return nil, err
		}
		security = h
	}
	payload := fmt.Sprintf(envelope, nsSoap, nsAddr, html.EscapeString(action), uuid.NewString(),
		html.EscapeString(endpoint), security, bodyInner)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", fmt.Sprintf("application/soap+xml; charset=utf-8; action=%q", action))

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}

	if fault := parseFault(body); fault != nil {
		fault.Status = resp.StatusCode
		return nil, fault
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("onvif error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func (c *SOAPClient) securityHeader() (string, error) {
	if c.Username == "" {
		return "", nil
	}
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("onvif: nonce: %w", err)
	}
	created := c.now().Add(c.ClockOffset()).UTC().Format("2006-01-02T15:04:05.000Z")
	digest := computeSoapDigest(nonce, created, c.Password)

	return fmt.Sprintf(`
		<Security s:mustUnderstand="1" xmlns="%s">
			<UsernameToken>
				<Username>%s</Username>
				<Password Type="%s">%s</Password>
				<Nonce EncodingType="%s">%s</Nonce>
				<Created xmlns="%s">%s</Created>
			</UsernameToken>
		</Security>`, nsSecurity, html.EscapeString(c.Username), passwordDigestType, digest,
		nonceEncodingType, base64.StdEncoding.EncodeToString(nonce), nsUtility, created), nil
}

// computeSoapDigest is Base64(SHA1(nonce + created + password)) over the raw
// nonce bytes.
func computeSoapDigest(nonce []byte, created, password string) string {
	h := sha1.New()
	h.Write(nonce)
	h.Write([]byte(created))
	h.Write([]byte(password))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func parseFault(body []byte) *SOAPFault {
	if !bytes.Contains(body, []byte("Fault")) {
		return nil
	}
	var env struct {
		Body struct {
			Fault *struct {
				Code struct {
					Value   string `xml:"Value"`
					Subcode struct {
						Value string `xml:"Value"`
					} `xml:"Subcode"`
				} `xml:"Code"`
				Reason struct {
					Text string `xml:"Text"`
				} `xml:"Reason"`
			} `xml:"Fault"`
		} `xml:"Body"`
	}
	if err := xml.Unmarshal(body, &env); err != nil || env.Body.Fault == nil {
		return nil
	}
	f := env.Body.Fault
	return &SOAPFault{
		Code:    stripPrefix(f.Code.Value),
		Subcode: stripPrefix(f.Code.Subcode.Value),
		Reason:  strings.TrimSpace(f.Reason.Text),
	}
}

// stripPrefix drops an XML namespace prefix ("tns1:Foo" -> "Foo").
func stripPrefix(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		return s[i+1:]
	}
	return s
}
