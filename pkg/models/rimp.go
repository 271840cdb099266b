package models

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
)

// ErrNotRIMP is returned when a payload is not the unauthenticated iLO
// discovery document.
var ErrNotRIMP = errors.New("payload is not a RIMP document")

// RIMPDocument is the unauthenticated XML document an iLO serves at
// /xmldata?item=all. HSI describes the host server, MP the management
// processor itself.
type RIMPDocument struct {
	XMLName xml.Name `xml:"RIMP" json:"-"`
	HSI     HostInfo `xml:"HSI" json:"host"`
	MP      MPInfo   `xml:"MP" json:"management_processor"`
}

// HostInfo is the host-server section of the discovery document.
type HostInfo struct {
	SerialNumber string `xml:"SBSN" json:"serial_number"`
	ProductName  string `xml:"SPN" json:"product_name"`
	UUID         string `xml:"UUID" json:"uuid"`
}

// MPInfo is the management-processor section of the discovery document.
type MPInfo struct {
	Model           string `xml:"PN" json:"model"`
	FirmwareVersion string `xml:"FWRI" json:"firmware_version"`
	HardwareVersion string `xml:"HWRI" json:"hardware_version"`
	SerialNumber    string `xml:"SN" json:"serial_number"`
}

// ParseRIMP decodes a discovery document. Entity expansion is not honored
// and the root element must be RIMP.
func ParseRIMP(body []byte) (*RIMPDocument, error) {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if !bytes.HasPrefix(trimmed, []byte("<RIMP>")) {
		return nil, ErrNotRIMP
	}

	var doc RIMPDocument
	dec := xml.NewDecoder(bytes.NewReader(trimmed))
	dec.Strict = true
	dec.Entity = map[string]string{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode RIMP document: %w", err)
	}

	doc.HSI.UUID = strings.TrimSpace(doc.HSI.UUID)
	return &doc, nil
}
