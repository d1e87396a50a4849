package domain

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

// ErrNotAlert is returned when a document's root element is not a CAP <alert>.
var ErrNotAlert = errors.New("document root is not a CAP alert")

// Alert is a parsed CAP alert document. Only the fields the filter pipeline
// and converter read are mapped; everything else is ignored by the decoder.
type Alert struct {
	XMLName    xml.Name
	Identifier string `xml:"identifier"`
	Sender     string `xml:"sender"`
	SenderName string `xml:"senderName"` // non-standard at alert level, seen on some feeds
	Sent       string `xml:"sent"`
	Status     string `xml:"status"`
	MsgType    string `xml:"msgType"`
	Scope      string `xml:"scope"`
	References string `xml:"references"`
	Infos      []Info `xml:"info"`
}

// Info is one language-specific <info> block of an alert.
type Info struct {
	Language    string   `xml:"language"`
	Categories  []string `xml:"category"`
	Event       string   `xml:"event"`
	Urgency     string   `xml:"urgency"`
	Severity    string   `xml:"severity"`
	Certainty   string   `xml:"certainty"`
	Expires     string   `xml:"expires"`
	SenderName  string   `xml:"senderName"`
	Headline    string   `xml:"headline"`
	Description string   `xml:"description"`
	Instruction string   `xml:"instruction"`
	Areas       []Area   `xml:"area"`
}

// Area is an <area> block: a human-readable description plus geocodes.
type Area struct {
	AreaDesc string    `xml:"areaDesc"`
	Geocodes []Geocode `xml:"geocode"`
}

// Geocode is a valueName/value pair, e.g. profile:CAP-CP:Location:0.3 / 2466023.
type Geocode struct {
	ValueName string `xml:"valueName"`
	Value     string `xml:"value"`
}

// ParseAlert decodes a single framed document. Documents whose root element
// is not <alert> return an error wrapping ErrNotAlert.
func ParseAlert(doc []byte) (*Alert, error) {
	dec := newDecoder(doc)

	var a Alert
	if err := dec.Decode(&a); err != nil {
		return nil, fmt.Errorf("decode cap document: %w", err)
	}
	if !strings.EqualFold(a.XMLName.Local, "alert") {
		return nil, fmt.Errorf("%w: root element <%s>", ErrNotAlert, a.XMLName.Local)
	}

	a.normalize()
	return &a, nil
}

// ExtractAlerts returns every <alert> element found anywhere in body. It accepts
// a bare CAP document as well as an Atom feed embedding alerts in its entries.
// Alerts decoded before a syntax error are returned alongside the error.
func ExtractAlerts(body []byte) ([]*Alert, error) {
	dec := newDecoder(body)

	var alerts []*Alert
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return alerts, nil
		}
		if err != nil {
			return alerts, fmt.Errorf("scan feed document: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok || !strings.EqualFold(start.Name.Local, "alert") {
			continue
		}

		var a Alert
		if err := dec.DecodeElement(&a, &start); err != nil {
			return alerts, fmt.Errorf("decode embedded alert: %w", err)
		}
		a.normalize()
		alerts = append(alerts, &a)
	}
}

func newDecoder(b []byte) *xml.Decoder {
	dec := xml.NewDecoder(bytes.NewReader(b))
	dec.CharsetReader = charset.NewReaderLabel
	return dec
}

// normalize trims surrounding whitespace from every text field.
func (a *Alert) normalize() {
	a.Identifier = strings.TrimSpace(a.Identifier)
	a.Sender = strings.TrimSpace(a.Sender)
	a.SenderName = strings.TrimSpace(a.SenderName)
	a.Sent = strings.TrimSpace(a.Sent)
	a.Status = strings.TrimSpace(a.Status)
	a.MsgType = strings.TrimSpace(a.MsgType)
	a.Scope = strings.TrimSpace(a.Scope)
	a.References = strings.TrimSpace(a.References)

	for i := range a.Infos {
		in := &a.Infos[i]
		in.Language = strings.TrimSpace(in.Language)
		for j := range in.Categories {
			in.Categories[j] = strings.TrimSpace(in.Categories[j])
		}
		in.Event = strings.TrimSpace(in.Event)
		in.Urgency = strings.TrimSpace(in.Urgency)
		in.Severity = strings.TrimSpace(in.Severity)
		in.Certainty = strings.TrimSpace(in.Certainty)
		in.Expires = strings.TrimSpace(in.Expires)
		in.SenderName = strings.TrimSpace(in.SenderName)
		in.Headline = strings.TrimSpace(in.Headline)
		in.Description = strings.TrimSpace(in.Description)
		in.Instruction = strings.TrimSpace(in.Instruction)
		for k := range in.Areas {
			ar := &in.Areas[k]
			ar.AreaDesc = strings.TrimSpace(ar.AreaDesc)
			for g := range ar.Geocodes {
				ar.Geocodes[g].ValueName = strings.TrimSpace(ar.Geocodes[g].ValueName)
				ar.Geocodes[g].Value = strings.TrimSpace(ar.Geocodes[g].Value)
			}
		}
	}
}

// Geocodes returns the geocodes of every area in the info block, in document order.
func (in *Info) Geocodes() []Geocode {
	var out []Geocode
	for _, ar := range in.Areas {
		out = append(out, ar.Geocodes...)
	}
	return out
}

// HasCategory reports whether any <category> equals c, ignoring case.
func (in *Info) HasCategory(c string) bool {
	for _, cat := range in.Categories {
		if strings.EqualFold(cat, c) {
			return true
		}
	}
	return false
}
