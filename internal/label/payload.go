// Package label builds the scannable access label handed out when a token is
// issued: a compact payload and its printable rendering.
package label

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/yourorg/lotflow/internal/lot"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("label: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("label: CBOR decoder initialization failed: " + err.Error())
	}
}

// Payload is what a scanner reads off the label. It carries the access URL
// with the raw token, so it is produced once per issuance and never stored.
type Payload struct {
	LotID           string     `cbor:"1,keyasint" json:"lotId"`
	Name            string     `cbor:"2,keyasint" json:"name"`
	Source          string     `cbor:"3,keyasint,omitempty" json:"source,omitempty"`
	BatchNumber     string     `cbor:"4,keyasint,omitempty" json:"batchNumber,omitempty"`
	ManufactureDate *time.Time `cbor:"5,keyasint,omitempty" json:"manufactureDate,omitempty"`
	DeliveryDate    *time.Time `cbor:"6,keyasint,omitempty" json:"deliveryDate,omitempty"`
	IssuedAt        time.Time  `cbor:"7,keyasint" json:"issuedAt"`
	ExpiresAt       time.Time  `cbor:"8,keyasint" json:"expiresAt"`
	AccessURL       string     `cbor:"9,keyasint" json:"accessUrl"`
}

// NewPayload assembles the label payload for a freshly issued token.
// baseURL is the public origin of the API, e.g. https://lots.example.com.
func NewPayload(l lot.Lot, tok lot.IssuedToken, baseURL string) Payload {
	return Payload{
		LotID:           l.ID,
		Name:            l.Name,
		Source:          l.Source,
		BatchNumber:     l.BatchNumber,
		ManufactureDate: l.ManufactureDate,
		DeliveryDate:    l.DeliveryDate,
		IssuedAt:        tok.Token.IssuedAt.UTC(),
		ExpiresAt:       tok.Token.ExpiresAt.UTC(),
		AccessURL:       AccessURL(baseURL, l.ID, tok.Value),
	}
}

func AccessURL(baseURL, lotID, token string) string {
	base := strings.TrimRight(baseURL, "/")
	return base + "/lots/" + url.PathEscape(lotID) + "?token=" + url.QueryEscape(token)
}

// Encode returns the deterministic CBOR encoding in unpadded base64url, the
// form printed into the QR code.
func (p Payload) Encode() (string, error) {
	raw, err := encMode.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode label payload: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func DecodePayload(s string) (Payload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Payload{}, fmt.Errorf("decode label payload: %w", err)
	}
	var p Payload
	if err := decMode.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("decode label payload: %w", err)
	}
	return p, nil
}
