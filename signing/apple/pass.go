package apple

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-walletsync/core"
	"github.com/goliatone/go-walletsync/passes"
)

type PassField struct {
	Key           string `json:"key"`
	Label         string `json:"label,omitempty"`
	Value         string `json:"value"`
	ChangeMessage string `json:"changeMessage,omitempty"`
}

type Structure struct {
	HeaderFields    []PassField `json:"headerFields,omitempty"`
	PrimaryFields   []PassField `json:"primaryFields,omitempty"`
	SecondaryFields []PassField `json:"secondaryFields,omitempty"`
	AuxiliaryFields []PassField `json:"auxiliaryFields,omitempty"`
	BackFields      []PassField `json:"backFields,omitempty"`
}

type Barcode struct {
	Format          string `json:"format"`
	Message         string `json:"message"`
	MessageEncoding string `json:"messageEncoding"`
	AltText         string `json:"altText,omitempty"`
}

// PassJSON is pass.json. Exactly one of StoreCard or Generic is set.
type PassJSON struct {
	FormatVersion       int        `json:"formatVersion"`
	PassTypeIdentifier  string     `json:"passTypeIdentifier"`
	SerialNumber        string     `json:"serialNumber"`
	TeamIdentifier      string     `json:"teamIdentifier"`
	OrganizationName    string     `json:"organizationName"`
	Description         string     `json:"description"`
	LogoText            string     `json:"logoText,omitempty"`
	ForegroundColor     string     `json:"foregroundColor,omitempty"`
	BackgroundColor     string     `json:"backgroundColor,omitempty"`
	LabelColor          string     `json:"labelColor,omitempty"`
	WebServiceURL       string     `json:"webServiceURL,omitempty"`
	AuthenticationToken string     `json:"authenticationToken,omitempty"`
	Barcodes            []Barcode  `json:"barcodes,omitempty"`
	StoreCard           *Structure `json:"storeCard,omitempty"`
	Generic             *Structure `json:"generic,omitempty"`
}

type PassConfig struct {
	PassTypeIdentifier string
	TeamIdentifier     string
	OrganizationName   string
	WebServiceURL      string
	AuthToken          string
}

// BuildPass maps a derived payload to pass.json for the given serial.
func BuildPass(cfg PassConfig, payload passes.Payload, serial string) (PassJSON, error) {
	if strings.TrimSpace(serial) == "" {
		return PassJSON{}, core.ValidationError("serial", "apple: serial number is required")
	}
	if strings.TrimSpace(cfg.PassTypeIdentifier) == "" {
		return PassJSON{}, core.ConfigurationError("WALLETSYNC_APPLE_PASS_TYPE_IDENTIFIER", "apple: pass type identifier is required")
	}
	if strings.TrimSpace(cfg.TeamIdentifier) == "" {
		return PassJSON{}, core.ConfigurationError("WALLETSYNC_APPLE_TEAM_IDENTIFIER", "apple: team identifier is required")
	}
	organization := strings.TrimSpace(cfg.OrganizationName)
	if organization == "" {
		organization = payload.ProgramName
	}
	description := strings.TrimSpace(payload.Description)
	if description == "" {
		return PassJSON{}, core.ValidationError("description", "apple: pass description is required")
	}

	structure := &Structure{
		PrimaryFields:   toPassFields(payload.Primary, payload.BalanceLabel),
		SecondaryFields: toPassFields(payload.Secondary, payload.BalanceLabel),
		BackFields:      toPassFields(payload.Back, ""),
	}
	if payload.Tier != "" && payload.Style == passes.StyleGeneric {
		structure.AuxiliaryFields = []PassField{{Key: "tier", Label: "Tier", Value: payload.Tier}}
	}

	pass := PassJSON{
		FormatVersion:       1,
		PassTypeIdentifier:  strings.TrimSpace(cfg.PassTypeIdentifier),
		SerialNumber:        serial,
		TeamIdentifier:      strings.TrimSpace(cfg.TeamIdentifier),
		OrganizationName:    organization,
		Description:         description,
		LogoText:            payload.Title,
		ForegroundColor:     "rgb(255, 255, 255)",
		LabelColor:          "rgb(230, 230, 230)",
		BackgroundColor:     rgbColor(payload.BrandColor),
		WebServiceURL:       strings.TrimSpace(cfg.WebServiceURL),
		AuthenticationToken: strings.TrimSpace(cfg.AuthToken),
		Barcodes: []Barcode{{
			Format:          "PKBarcodeFormatQR",
			Message:         payload.BarcodeMessage,
			MessageEncoding: "iso-8859-1",
			AltText:         fmt.Sprintf("%d", payload.ExternalParticipantID),
		}},
	}
	if pass.WebServiceURL == "" {
		pass.AuthenticationToken = ""
	}
	switch payload.Style {
	case passes.StyleStoreCard:
		pass.StoreCard = structure
	case passes.StyleGeneric:
		pass.Generic = structure
	default:
		return PassJSON{}, core.ValidationError("style", fmt.Sprintf("apple: unsupported pass style %q", payload.Style))
	}
	return pass, nil
}

// toPassFields attaches a change message to the field that carries the
// balance so devices announce point updates.
func toPassFields(fields []passes.Field, balanceLabel string) []PassField {
	if len(fields) == 0 {
		return nil
	}
	out := make([]PassField, 0, len(fields))
	for _, field := range fields {
		converted := PassField{Key: field.Key, Label: field.Label, Value: field.Value}
		if balanceLabel != "" && field.Label == balanceLabel {
			converted.ChangeMessage = "Your balance is now %@"
		}
		out = append(out, converted)
	}
	return out
}

// rgbColor converts #rrggbb into the rgb() form pass.json expects.
func rgbColor(hex string) string {
	hex = strings.TrimPrefix(strings.TrimSpace(hex), "#")
	var r, g, b uint8
	if len(hex) != 6 {
		return "rgb(33, 37, 41)"
	}
	if _, err := fmt.Sscanf(hex, "%02x%02x%02x", &r, &g, &b); err != nil {
		return "rgb(33, 37, 41)"
	}
	return fmt.Sprintf("rgb(%d, %d, %d)", r, g, b)
}

// PrimaryFieldValue returns the first primary field of whichever style is set.
func (p PassJSON) PrimaryFieldValue() string {
	structure := p.StoreCard
	if structure == nil {
		structure = p.Generic
	}
	if structure == nil || len(structure.PrimaryFields) == 0 {
		return ""
	}
	return structure.PrimaryFields[0].Value
}
