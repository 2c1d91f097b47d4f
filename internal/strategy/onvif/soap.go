package onvif

import (
	"bytes"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // WS-Security PasswordDigest is defined over SHA-1.
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// XML namespaces used in requests.
const (
	nsSOAP   = "http://www.w3.org/2003/05/soap-envelope"
	nsDevice = "http://www.onvif.org/ver10/device/wsdl"
	nsMedia  = "http://www.onvif.org/ver10/media/wsdl"
	nsSchema = "http://www.onvif.org/ver10/schema"
	nsWSSE   = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	nsWSU    = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"

	passwordDigestType = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordDigest"
	base64EncodingType = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary"
)

// Request bodies. Tokens are escaped by the callers.
const (
	bodyGetDeviceInformation = `<tds:GetDeviceInformation/>`
	bodyGetCapabilities      = `<tds:GetCapabilities><tds:Category>All</tds:Category></tds:GetCapabilities>`
	bodyGetProfiles          = `<trt:GetProfiles/>`
	bodyGetStreamURI         = `<trt:GetStreamUri><trt:StreamSetup><tt:Stream>RTP-Unicast</tt:Stream>` +
		`<tt:Transport><tt:Protocol>RTSP</tt:Protocol></tt:Transport></trt:StreamSetup>` +
		`<trt:ProfileToken>%s</trt:ProfileToken></trt:GetStreamUri>`
	bodyGetSnapshotURI = `<trt:GetSnapshotUri><trt:ProfileToken>%s</trt:ProfileToken></trt:GetSnapshotUri>`
)

// usernameToken carries WS-Security credentials for one request.
type usernameToken struct {
	Username string
	Digest   string
	Nonce    string
	Created  string
}

// newUsernameToken computes Base64(SHA1(nonce + created + password)).
func newUsernameToken(username, password string, now time.Time) (usernameToken, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return usernameToken{}, fmt.Errorf("generate nonce: %w", err)
	}
	created := now.UTC().Format("2006-01-02T15:04:05.000Z")
	return usernameToken{
		Username: username,
		Digest:   passwordDigest(nonce, created, password),
		Nonce:    base64.StdEncoding.EncodeToString(nonce),
		Created:  created,
	}, nil
}

func passwordDigest(nonce []byte, created, password string) string {
	h := sha1.New() //nolint:gosec // mandated by the UsernameToken profile.
	h.Write(nonce)
	h.Write([]byte(created))
	h.Write([]byte(password))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func escape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// buildEnvelope wraps body in a SOAP 1.2 envelope, adding a security header
// when tok is non-nil.
func buildEnvelope(body string, tok *usernameToken) []byte {
	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	fmt.Fprintf(&b, `<s:Envelope xmlns:s=%q xmlns:tds=%q xmlns:trt=%q xmlns:tt=%q>`, nsSOAP, nsDevice, nsMedia, nsSchema)
	if tok != nil {
		b.WriteString(`<s:Header>`)
		fmt.Fprintf(&b, `<wsse:Security s:mustUnderstand="1" xmlns:wsse=%q xmlns:wsu=%q>`, nsWSSE, nsWSU)
		b.WriteString(`<wsse:UsernameToken>`)
		fmt.Fprintf(&b, `<wsse:Username>%s</wsse:Username>`, escape(tok.Username))
		fmt.Fprintf(&b, `<wsse:Password Type=%q>%s</wsse:Password>`, passwordDigestType, tok.Digest)
		fmt.Fprintf(&b, `<wsse:Nonce EncodingType=%q>%s</wsse:Nonce>`, base64EncodingType, tok.Nonce)
		fmt.Fprintf(&b, `<wsu:Created>%s</wsu:Created>`, tok.Created)
		b.WriteString(`</wsse:UsernameToken></wsse:Security></s:Header>`)
	}
	b.WriteString(`<s:Body>`)
	b.WriteString(body)
	b.WriteString(`</s:Body></s:Envelope>`)
	return b.Bytes()
}

// Responses are matched by local name so any namespace prefix works.

type soapFault struct {
	Code    string `xml:"Code>Value"`
	Subcode string `xml:"Code>Subcode>Value"`
	Reason  string `xml:"Reason>Text"`
}

func (f *soapFault) String() string {
	msg := strings.TrimSpace(f.Reason)
	if msg == "" {
		msg = "unspecified fault"
	}
	if f.Subcode != "" {
		return fmt.Sprintf("%s (%s)", msg, strings.TrimSpace(f.Subcode))
	}
	return msg
}

type envelope[T any] struct {
	Body struct {
		Fault    *soapFault `xml:"Fault"`
		Response *T         `xml:",any"`
	} `xml:"Body"`
}

type deviceInformationResponse struct {
	Manufacturer    string `xml:"Manufacturer"`
	Model           string `xml:"Model"`
	FirmwareVersion string `xml:"FirmwareVersion"`
	SerialNumber    string `xml:"SerialNumber"`
	HardwareID      string `xml:"HardwareId"`
}

type xaddr struct {
	XAddr string `xml:"XAddr"`
}

type capabilitiesResponse struct {
	Analytics *xaddr `xml:"Capabilities>Analytics"`
	Events    *xaddr `xml:"Capabilities>Events"`
	Imaging   *xaddr `xml:"Capabilities>Imaging"`
	Media     *xaddr `xml:"Capabilities>Media"`
	PTZ       *xaddr `xml:"Capabilities>PTZ"`
}

// Profile is a media profile advertised by the device.
type Profile struct {
	Token  string `xml:"token,attr"`
	Name   string `xml:"Name"`
	Width  int    `xml:"VideoEncoderConfiguration>Resolution>Width"`
	Height int    `xml:"VideoEncoderConfiguration>Resolution>Height"`
}

type profilesResponse struct {
	Profiles []Profile `xml:"Profiles"`
}

type mediaURIResponse struct {
	URI string `xml:"MediaUri>Uri"`
}

// decodeEnvelope parses a SOAP response. A SOAP fault is returned separately from decode errors.
func decodeEnvelope[T any](data []byte) (resp *T, fault *soapFault, err error) {
	var env envelope[T]
	if err := xml.Unmarshal(data, &env); err != nil {
		return nil, nil, fmt.Errorf("decode soap response: %w", err)
	}
	if env.Body.Fault != nil {
		return nil, env.Body.Fault, nil
	}
	if env.Body.Response == nil {
		return nil, nil, fmt.Errorf("soap response has an empty body")
	}
	return env.Body.Response, nil, nil
}
